package naming

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRelationshipName(t *testing.T) {
	namer := Default()

	tests := []struct {
		input    string
		expected string
	}{
		{"Contributor__c", "Contributor__r"},
		{"contributor__C", "contributor__r"},
		{"ContactId", "Contact"},
		{"contributor_id", "contributor"},
		{"owner_fk", "owner"},
		{"Id", "Id"},
		{"Name", "Name"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, namer.RelationshipName(tt.input))
		})
	}
}

func TestLookupField(t *testing.T) {
	namer := Default()
	assert.Equal(t, "Project__c", namer.LookupField("Project__r"))
	assert.Equal(t, "AccountId", namer.LookupField("Account"))
}

func TestRelationshipCandidates(t *testing.T) {
	namer := Default()

	got := namer.RelationshipCandidates("Contributors__c", "Assignment__r.Contact__r")
	assert.Equal(t, []string{
		"Assignment__r.Contact__r",
		"Contributors__r",
		"Contributors",
		"Contributor__r",
		"Contributor",
	}, got)

	assert.Equal(t, []string{"Objective__r", "Objective", "Objectives__r", "Objectives"},
		namer.RelationshipCandidates("Objective__c", ""))
	assert.Empty(t, namer.RelationshipCandidates("", ""))
}

func TestPluralizeOverrides(t *testing.T) {
	namer := New(Config{
		PluralOverrides:   map[string]string{"staff": "staffers"},
		SingularOverrides: map[string]string{"Data": "datum"},
	}, nil)

	assert.Equal(t, "staffers", namer.Pluralize("staff"))
	assert.Equal(t, "datum", namer.Singularize("data"))
	assert.Equal(t, "projects", namer.Pluralize("project"))
	assert.Equal(t, "category", namer.Singularize("categories"))
}

func TestFold(t *testing.T) {
	assert.Equal(t, "heures declarees", Fold("  Heures Déclarées "))
	assert.Equal(t, "hoursselfreported", Compact("Hours_Self-Reported"))
	assert.Equal(t, "fi", Fold("ﬁ"))
}

func TestRelationshipOverrides(t *testing.T) {
	namer := New(Config{
		RelationshipOverrides: map[string]string{"owner__c": "Reviewer__r"},
	}, nil)

	assert.Equal(t, "Reviewer__r", namer.RelationshipName("Owner__c"))
	assert.Equal(t, "Reviewer__r", namer.RelationshipCandidates("Owner__c", "")[0])
	assert.Equal(t, "Project__r", namer.RelationshipName("Project__c"))
}
