// Package naming derives relationship traversal names from lookup field
// names and folds field names and labels for comparison.
package naming

// Config tunes how lookup fields map to relationship names. Keys match
// case-insensitively.
type Config struct {
	// RelationshipOverrides pins the traversal name for a lookup field,
	// e.g. {"Owner__c": "Reviewer__r"} for orgs that renamed the relationship.
	RelationshipOverrides map[string]string `mapstructure:"relationship_overrides"`

	// PluralOverrides and SingularOverrides replace the inflection rules
	// for irregular object names, e.g. {"staff": "staff"}.
	PluralOverrides   map[string]string `mapstructure:"plural_overrides"`
	SingularOverrides map[string]string `mapstructure:"singular_overrides"`
}

// DefaultConfig returns a Config with no overrides.
func DefaultConfig() Config {
	return Config{
		RelationshipOverrides: map[string]string{},
		PluralOverrides:       map[string]string{},
		SingularOverrides:     map[string]string{},
	}
}
