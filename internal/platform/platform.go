// Package platform defines the contract the review engine needs from the
// remote record platform: object metadata, queries with continuation
// locators, and batch updates.
package platform

import (
	"context"

	"crm-approvals/internal/soql"
)

// Field types reported by Describe.
const (
	TypeID        = "id"
	TypeString    = "string"
	TypeTextArea  = "textarea"
	TypePicklist  = "picklist"
	TypeEmail     = "email"
	TypeReference = "reference"
	TypeDouble    = "double"
	TypeInt       = "int"
	TypeCurrency  = "currency"
	TypePercent   = "percent"
	TypeDate      = "date"
	TypeDateTime  = "datetime"
	TypeBoolean   = "boolean"
)

// Field is one field of a described object.
type Field struct {
	Name             string   `json:"name"`
	Label            string   `json:"label"`
	Type             string   `json:"type"`
	ReferenceTo      []string `json:"referenceTo,omitempty"`
	RelationshipName string   `json:"relationshipName,omitempty"`
	NameField        bool     `json:"nameField,omitempty"`
}

// IsReference reports whether the field is a lookup to another object.
func (f Field) IsReference() bool {
	return f.Type == TypeReference && len(f.ReferenceTo) > 0
}

// ObjectDescribe is the metadata of one object.
type ObjectDescribe struct {
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Fields []Field `json:"fields"`
}

// NameField returns the object's display-name field, defaulting to "Name".
func (d *ObjectDescribe) NameField() string {
	for _, f := range d.Fields {
		if f.NameField {
			return f.Name
		}
	}
	for _, f := range d.Fields {
		if f.Name == "Name" {
			return f.Name
		}
	}
	return "Name"
}

// EmailField returns the first email-typed field, or "".
func (d *ObjectDescribe) EmailField() string {
	for _, f := range d.Fields {
		if f.Type == TypeEmail {
			return f.Name
		}
	}
	return ""
}

// QueryResult is one response page of a query.
type QueryResult struct {
	TotalSize      int      `json:"totalSize"`
	Done           bool     `json:"done"`
	NextRecordsURL string   `json:"nextRecordsUrl,omitempty"`
	Records        []Record `json:"records"`
}

// HasMore reports whether a continuation locator was returned.
func (r *QueryResult) HasMore() bool {
	return r != nil && !r.Done && r.NextRecordsURL != ""
}

// RecordUpdate sets Fields on the record with ID.
type RecordUpdate struct {
	ID     string
	Fields map[string]any
}

// SaveResult is the per-record outcome of an update.
type SaveResult struct {
	ID      string   `json:"id"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

// Client is the remote platform.
type Client interface {
	Describe(ctx context.Context, object string) (*ObjectDescribe, error)
	Query(ctx context.Context, q soql.Query) (*QueryResult, error)
	QueryMore(ctx context.Context, locator string) (*QueryResult, error)
	Update(ctx context.Context, object string, updates []RecordUpdate) ([]SaveResult, error)
}
