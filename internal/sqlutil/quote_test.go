package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Timesheet__c", "`Timesheet__c`"},
		{"select", "`select`"},
		{"first name", "`first name`"},
		{"user`data", "`user``data`"},
		{"a`b`c", "`a``b``c`"},
		{"", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQualifiedColumn(t *testing.T) {
	assert.Equal(t, "`t0`.`Hours__c`", QualifiedColumn("t0", "Hours__c"))
	assert.Equal(t, "`t1`.`odd``name`", QualifiedColumn(TableAlias(1), "odd`name"))
	assert.Equal(t, "t12", TableAlias(12))
}
