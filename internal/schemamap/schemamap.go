// Package schemamap discovers which physical object, fields and relationship
// paths on the remote platform carry the review workflow's logical roles.
package schemamap

import (
	"context"
	"slices"
	"strings"
)

// FieldBinding is the physical location of one role.
type FieldBinding struct {
	// Field is the physical field on the bound object, or "" when unbound.
	Field string `json:"field,omitempty"`
	Type  string `json:"type,omitempty"`
	// RelationshipPath is the dotted traversal from the target object to
	// the related record. Empty when it could not be resolved.
	RelationshipPath string `json:"relationshipPath,omitempty"`
	// Target is the object at the end of RelationshipPath.
	Target     string `json:"target,omitempty"`
	NameField  string `json:"nameField,omitempty"`
	EmailField string `json:"emailField,omitempty"`
}

// Bound reports whether a physical field was found for the role.
func (b FieldBinding) Bound() bool {
	return b.Field != ""
}

// Path joins the relationship path and a field of the related record. It
// returns "" when either is missing.
func (b FieldBinding) Path(field string) string {
	if b.RelationshipPath == "" || field == "" {
		return ""
	}
	return b.RelationshipPath + "." + field
}

// NamePath is Path(NameField).
func (b FieldBinding) NamePath() string {
	return b.Path(b.NameField)
}

// EmailPath is Path(EmailField).
func (b FieldBinding) EmailPath() string {
	return b.Path(b.EmailField)
}

// HierarchyLevel is one ancestor of the objective object. Levels are
// ordered nearest first: project, then account.
type HierarchyLevel struct {
	Role      Role   `json:"role"`
	Object    string `json:"object"`
	NameField string `json:"nameField"`
	// ChildObject holds LinkField, a lookup to Object.
	ChildObject string `json:"childObject"`
	LinkField   string `json:"linkField"`
}

// SchemaMap is the discovered mapping for the target object. It is never
// mutated after discovery.
type SchemaMap struct {
	// ObjectName is "" when no candidate object exists; the workflow is then
	// unavailable.
	ObjectName string                `json:"objectName"`
	NameField  string                `json:"nameField,omitempty"`
	Roles      map[Role]FieldBinding `json:"roles"`
	Hierarchy  []HierarchyLevel      `json:"hierarchy,omitempty"`
}

// Available reports whether a target object was found.
func (m *SchemaMap) Available() bool {
	return m != nil && m.ObjectName != ""
}

// Binding returns the binding for role; the zero value when unbound.
func (m *SchemaMap) Binding(role Role) FieldBinding {
	if m == nil {
		return FieldBinding{}
	}
	return m.Roles[role]
}

// Field returns the physical field for role, or "".
func (m *SchemaMap) Field(role Role) string {
	return m.Binding(role).Field
}

// Level returns the hierarchy level bound to role and its index.
func (m *SchemaMap) Level(role Role) (HierarchyLevel, int, bool) {
	if m == nil {
		return HierarchyLevel{}, -1, false
	}
	for i, level := range m.Hierarchy {
		if level.Role == role {
			return level, i, true
		}
	}
	return HierarchyLevel{}, -1, false
}

var scalarRoles = []Role{
	RoleHoursSelfReported,
	RoleHoursSystemTracked,
	RoleUnitsSelfReported,
	RoleUnitsSystemTracked,
	RoleTransactionDate,
	RolePayRate,
	RoleTotalPayment,
	RoleStatus,
	RoleVariance,
	RoleRejectionReason,
}

// SelectFields lists the fields a list query reads: Id, the record name,
// every bound scalar role, lookup ids, and related names and emails.
func (m *SchemaMap) SelectFields() []string {
	if !m.Available() {
		return nil
	}
	fields := []string{"Id"}
	if m.NameField != "" {
		fields = append(fields, m.NameField)
	}
	for _, role := range scalarRoles {
		if f := m.Field(role); f != "" {
			fields = append(fields, f)
		}
	}
	for _, role := range []Role{RoleContributor, RoleObjective, RoleProject, RoleAccount} {
		b := m.Binding(role)
		if !b.Bound() {
			continue
		}
		fields = append(fields, b.Field)
		if p := b.NamePath(); p != "" {
			fields = append(fields, p)
		}
		if p := b.EmailPath(); p != "" {
			fields = append(fields, p)
		}
	}
	return dedupeFold(fields)
}

// Equal reports whether two maps bind the same object, roles and hierarchy.
func (m *SchemaMap) Equal(other *SchemaMap) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.ObjectName != other.ObjectName || m.NameField != other.NameField || len(m.Roles) != len(other.Roles) {
		return false
	}
	for role, b := range m.Roles {
		if ob, ok := other.Roles[role]; !ok || ob != b {
			return false
		}
	}
	return slices.Equal(m.Hierarchy, other.Hierarchy)
}

func dedupeFold(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		key := strings.ToLower(f)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Discoverer builds a SchemaMap from the live platform.
type Discoverer interface {
	Discover(ctx context.Context) (*SchemaMap, error)
}
