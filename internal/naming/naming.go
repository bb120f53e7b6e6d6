package naming

import (
	"log/slog"
	"strings"
)

const (
	customFieldSuffix        = "__c"
	customRelationshipSuffix = "__r"
)

// Namer derives relationship names from lookup field names.
type Namer struct {
	config Config
	logger *slog.Logger
}

// New creates a Namer with the given configuration
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Namer{config: cfg, logger: logger}
}

// Default returns a Namer with default configuration
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// RelationshipName returns the conventional traversal name for a lookup
// field.
// Example: "Contributor__c" -> "Contributor__r", "ContactId" -> "Contact",
// "contributor_id" -> "contributor"
func (n *Namer) RelationshipName(field string) string {
	if override, ok := lookupOverride(n.config.RelationshipOverrides, field); ok {
		return override
	}
	switch {
	case hasSuffixFold(field, customFieldSuffix):
		return field[:len(field)-len(customFieldSuffix)] + customRelationshipSuffix
	case len(field) > 2 && strings.HasSuffix(field, "Id"):
		return field[:len(field)-2]
	}
	for _, suffix := range []string{"_id", "_fk"} {
		if hasSuffixFold(field, suffix) && len(field) > len(suffix) {
			return field[:len(field)-len(suffix)]
		}
	}
	return field
}

// LookupField is the inverse of RelationshipName for custom relationships.
// Example: "Project__r" -> "Project__c"
func (n *Namer) LookupField(relationship string) string {
	if hasSuffixFold(relationship, customRelationshipSuffix) {
		return relationship[:len(relationship)-len(customRelationshipSuffix)] + customFieldSuffix
	}
	return relationship + "Id"
}

// RelationshipCandidates lists plausible traversal names for a lookup field,
// most likely first: the discovered name, the conventional name, the bare
// base name, then singular and plural variants of each. Duplicates are
// removed case-insensitively.
func (n *Namer) RelationshipCandidates(field, discovered string) []string {
	out := make([]string, 0, 8)
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}

	add(discovered)
	if field == "" {
		return out
	}
	conventional := n.RelationshipName(field)
	add(conventional)

	base := baseName(field)
	add(base)
	for _, variant := range []string{n.Singularize(base), n.Pluralize(base)} {
		add(variant + customRelationshipSuffix)
		add(variant)
	}
	if len(out) > 1 {
		n.logger.Debug("relationship candidates derived",
			slog.String("field", field),
			slog.Any("candidates", out),
		)
	}
	return out
}

// baseName strips lookup suffixes: "Contributors__c" -> "Contributors".
func baseName(field string) string {
	for _, suffix := range []string{customFieldSuffix, customRelationshipSuffix, "_id", "_fk"} {
		if hasSuffixFold(field, suffix) && len(field) > len(suffix) {
			return field[:len(field)-len(suffix)]
		}
	}
	if len(field) > 2 && strings.HasSuffix(field, "Id") {
		return field[:len(field)-2]
	}
	return field
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
