package review

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
)

var recordIDPattern = regexp.MustCompile(`^[A-Za-z0-9]{1,18}$`)

// ApproveResult reports an approve call.
type ApproveResult struct {
	Approved int      `json:"approved"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

// RejectResult reports a reject call.
type RejectResult struct {
	Rejected int      `json:"rejected"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}

type updateOutcome struct {
	succeeded int
	failed    int
	errors    []string
}

// Approve sets the approved status on ids.
func (s *Service) Approve(ctx context.Context, ids []string) (*ApproveResult, error) {
	out, err := s.update(ctx, "approve", ids, s.approved, "")
	if err != nil {
		return nil, err
	}
	return &ApproveResult{Approved: out.succeeded, Failed: out.failed, Errors: out.errors}, nil
}

// Reject sets the rejected status on ids and records reason when the
// object has a rejection reason field.
func (s *Service) Reject(ctx context.Context, ids []string, reason string) (*RejectResult, error) {
	reason = sanitizeReason(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a rejection reason is required", ErrInvalidRequest)
	}
	out, err := s.update(ctx, "reject", ids, s.rejected, reason)
	if err != nil {
		return nil, err
	}
	return &RejectResult{Rejected: out.succeeded, Failed: out.failed, Errors: out.errors}, nil
}

func (s *Service) update(ctx context.Context, action string, ids []string, status, reason string) (updateOutcome, error) {
	ids, err := s.validateIDs(ids)
	if err != nil {
		return updateOutcome{}, err
	}

	ctx, span := startSpan(ctx, "review."+action, attribute.Int("review.ids", len(ids)))
	defer span.End()

	schema, err := s.schema.Get(ctx)
	if err != nil {
		recordSpanError(span, err)
		return updateOutcome{}, fmt.Errorf("load schema: %w", err)
	}
	out := updateOutcome{errors: []string{}}
	statusField := schema.Field(schemamap.RoleStatus)
	if !schema.Available() || statusField == "" {
		s.logger.Warn("approval status field unavailable; nothing updated", slog.String("action", action))
		out.failed = len(ids)
		out.errors = append(out.errors, "approval workflow is not available on this platform")
		return out, nil
	}
	fields := map[string]any{statusField: status}
	if reasonField := schema.Field(schemamap.RoleRejectionReason); reason != "" && reasonField != "" {
		fields[reasonField] = reason
	}

	for _, chunk := range platform.ChunkStrings(ids, s.chunkSize) {
		updates := make([]platform.RecordUpdate, len(chunk))
		for i, id := range chunk {
			updates[i] = platform.RecordUpdate{ID: id, Fields: fields}
		}
		results, err := s.client.Update(ctx, schema.ObjectName, updates)
		if err != nil {
			s.logger.Warn("update chunk failed",
				slog.String("action", action),
				slog.Int("records", len(chunk)),
				slog.String("error", err.Error()),
			)
			out.failed += len(chunk)
			out.errors = append(out.errors, fmt.Sprintf("%d records not updated: %v", len(chunk), err))
			continue
		}
		for _, res := range results {
			if res.Success {
				out.succeeded++
				continue
			}
			out.failed++
			out.errors = append(out.errors, fmt.Sprintf("%s: %s", res.ID, strings.Join(res.Errors, "; ")))
		}
		if missing := len(chunk) - len(results); missing > 0 {
			out.failed += missing
			out.errors = append(out.errors, fmt.Sprintf("%d records returned no result", missing))
		}
	}

	s.metrics.RecordUpdates(ctx, action, out.succeeded, out.failed)
	s.logger.Info("approval records updated",
		slog.String("action", action),
		slog.Int("succeeded", out.succeeded),
		slog.Int("failed", out.failed),
	)
	return out, nil
}

// validateIDs trims, dedupes and checks ids.
func (s *Service) validateIDs(ids []string) ([]string, error) {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !recordIDPattern.MatchString(id) {
			return nil, fmt.Errorf("%w: malformed record id %q", ErrInvalidRequest, id)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one record id is required", ErrInvalidRequest)
	}
	if len(out) > s.maxIDs {
		return nil, fmt.Errorf("%w: at most %d record ids per request", ErrInvalidRequest, s.maxIDs)
	}
	return out, nil
}

// sanitizeReason keeps line breaks but otherwise cleans like filter values.
func sanitizeReason(reason string) string {
	normalized := norm.NFC.String(strings.TrimSpace(reason))
	var b strings.Builder
	n := 0
	for _, r := range normalized {
		if unicode.IsControl(r) && r != '\n' {
			continue
		}
		if n == MaxReasonLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
