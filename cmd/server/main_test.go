package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"crm-approvals/internal/config"
)

func TestReportValidation(t *testing.T) {
	tests := []struct {
		name      string
		result    *config.ValidationResult
		expectErr bool
		logged    []string
	}{
		{
			name:   "clean result",
			result: &config.ValidationResult{},
		},
		{
			name: "warnings only",
			result: &config.ValidationResult{
				Warnings: []config.ValidationWarning{{Field: "server.cors_allowed_origins", Message: "wildcard origin"}},
			},
			logged: []string{"configuration warning", "server.cors_allowed_origins"},
		},
		{
			name: "errors fail",
			result: &config.ValidationResult{
				Errors: []config.ValidationError{{Field: "platform.backend", Message: "unsupported backend", Hint: "use rest or sqlmirror"}},
			},
			expectErr: true,
			logged:    []string{"configuration error", "platform.backend", "use rest or sqlmirror"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			err := reportValidation(logger, tt.result)
			if tt.expectErr && err == nil {
				t.Fatalf("expected error, got none")
			}
			if !tt.expectErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, want := range tt.logged {
				if !strings.Contains(buf.String(), want) {
					t.Fatalf("expected log output to contain %q, got %s", want, buf.String())
				}
			}
		})
	}
}
