package approval

import (
	"maps"
	"slices"
	"strings"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
)

const (
	defaultNameField = "Name"
	maxScanDepth     = 2
)

// RelationshipPath is one place a related record may appear in a row.
type RelationshipPath struct {
	// Path is the dotted traversal to the related record's map.
	Path       string
	NameField  string
	EmailField string
}

// Related is the projection of a related record.
type Related struct {
	Name  string
	Email string
}

// Resolve returns the first candidate whose map carries a name or email.
func Resolve(row platform.Record, candidates []RelationshipPath) (Related, bool) {
	for _, c := range candidates {
		m, ok := row.Map(c.Path)
		if !ok {
			continue
		}
		rec := platform.Record(m)
		rel := Related{Name: str(rec, orDefault(c.NameField, defaultNameField))}
		if c.EmailField != "" {
			rel.Email = str(rec, c.EmailField)
		}
		if rel.Name != "" || rel.Email != "" {
			return rel, true
		}
	}
	return Related{}, false
}

// Candidates lists the paths tried for a binding: the discovered
// relationship path, then conventional and inflected variants of the lookup
// field's traversal name. Nested segments past the lookup are kept.
// Example: Field "Objective__r.Project__c", path "Objective__r.Project__r"
// yields "Objective__r.Project__r", "Objective__r.Project", ...
func (f *Flattener) Candidates(b schemamap.FieldBinding) []RelationshipPath {
	if !b.Bound() {
		return nil
	}
	fieldParts := strings.Split(b.Field, ".")
	prefix := fieldParts[:len(fieldParts)-1]
	leaf := fieldParts[len(fieldParts)-1]

	var discovered string
	var tail []string
	if b.RelationshipPath != "" {
		pathParts := strings.Split(b.RelationshipPath, ".")
		if len(pathParts) >= len(fieldParts) {
			discovered = pathParts[len(fieldParts)-1]
			tail = pathParts[len(fieldParts):]
		}
	}

	var out []RelationshipPath
	seen := make(map[string]struct{})
	add := func(parts ...string) {
		path := strings.Join(parts, ".")
		key := strings.ToLower(path)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, RelationshipPath{Path: path, NameField: b.NameField, EmailField: b.EmailField})
	}

	for _, name := range f.namer.RelationshipCandidates(leaf, discovered) {
		add(join(prefix, name, tail)...)
	}
	return out
}

func join(prefix []string, name string, tail []string) []string {
	parts := make([]string, 0, len(prefix)+1+len(tail))
	parts = append(parts, prefix...)
	parts = append(parts, name)
	return append(parts, tail...)
}

// ScanNameEmail walks the row's nested maps up to depth levels deep and
// returns the first map carrying both a name and an email-like value.
func ScanNameEmail(row platform.Record, nameField string, depth int) (Related, bool) {
	return scan(map[string]any(row), orDefault(nameField, defaultNameField), depth)
}

func scan(m map[string]any, nameField string, depth int) (Related, bool) {
	if depth <= 0 {
		return Related{}, false
	}
	for _, key := range slices.Sorted(maps.Keys(m)) {
		nested, ok := asMap(m[key])
		if !ok || strings.EqualFold(key, "attributes") {
			continue
		}
		rec := platform.Record(nested)
		name := str(rec, nameField)
		if email := emailIn(nested); name != "" && email != "" {
			return Related{Name: name, Email: email}, true
		}
		if rel, ok := scan(nested, nameField, depth-1); ok {
			return rel, true
		}
	}
	return Related{}, false
}

func emailIn(m map[string]any) string {
	for _, key := range slices.Sorted(maps.Keys(m)) {
		s, ok := m[key].(string)
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(key), "email") && strings.Contains(s, "@") {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, m != nil
	case platform.Record:
		return map[string]any(m), m != nil
	}
	return nil, false
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
