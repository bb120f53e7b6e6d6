package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"crm-approvals/internal/approval"
	"crm-approvals/internal/filter"
	"crm-approvals/internal/review"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/summary"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type fakeReviewer struct {
	schema      *schemamap.SchemaMap
	lastList    review.ListRequest
	lastSummary filter.Spec
}

func (f *fakeReviewer) List(_ context.Context, req review.ListRequest) (*review.ListResult, error) {
	f.lastList = req
	return &review.ListResult{
		Records:   []approval.Record{{ID: "a01"}},
		Total:     1,
		Offset:    req.Offset,
		BatchSize: req.Limit,
	}, nil
}

func (f *fakeReviewer) Summary(_ context.Context, spec filter.Spec) (*review.SummaryResult, error) {
	f.lastSummary = spec
	return &review.SummaryResult{Metrics: summary.Metrics{Success: true, TotalHours: 7.5}}, nil
}

func (f *fakeReviewer) FilterOptions(context.Context) (*review.FilterOptions, error) {
	return &review.FilterOptions{}, nil
}

func (f *fakeReviewer) Approve(context.Context, []string) (*review.ApproveResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeReviewer) Reject(context.Context, []string, string) (*review.RejectResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeReviewer) Schema(context.Context) (*schemamap.SchemaMap, error) {
	return f.schema, nil
}

type fakeInvalidator struct {
	calls int
	err   error
}

func (f *fakeInvalidator) Invalidate(context.Context) error {
	f.calls++
	return f.err
}

type harness struct {
	reviewer    *fakeReviewer
	invalidator *fakeInvalidator
	closed      bool
}

func newHarness() *harness {
	return &harness{
		reviewer: &fakeReviewer{schema: &schemamap.SchemaMap{
			ObjectName: "Time_Entry__c",
			Roles: map[schemamap.Role]schemamap.FieldBinding{
				schemamap.RoleStatus: {Field: "Status__c", Type: "picklist"},
			},
		}},
		invalidator: &fakeInvalidator{},
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	factory := func(context.Context, *rootOptions) (*engine, error) {
		return &engine{reviewer: h.reviewer, schema: h.invalidator, close: func() { h.closed = true }}, nil
	}
	cmd := newRootCommand(factory)
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchemaCommand_YAML(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "schema")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Time_Entry__c", got["objectName"])
	assert.True(t, h.closed)
	assert.Zero(t, h.invalidator.calls)
}

func TestSchemaCommand_RefreshInvalidatesFirst(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "schema", "--refresh", "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, 1, h.invalidator.calls)
}

func TestListCommand_PassesFlags(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "list", "-o", "json", "--offset", "2500", "--limit", "50",
		"--filter-field", "project", "--filter-value", "Apollo", "--sort-by", "hours", "--sort-order", "asc")
	require.NoError(t, err)

	assert.Equal(t, review.ListRequest{
		Filter:    filter.Spec{LogicalField: "project", RawValue: "Apollo"},
		Offset:    2500,
		Limit:     50,
		SortBy:    "hours",
		SortOrder: "asc",
	}, h.reviewer.lastList)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.EqualValues(t, 2500, got["offset"])
}

func TestSummaryCommand(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "summary", "--filter-field", "status", "--filter-value", "Pending")
	require.NoError(t, err)

	assert.Equal(t, filter.Spec{LogicalField: "status", RawValue: "Pending"}, h.reviewer.lastSummary)
	assert.Contains(t, out, "totalHours: 7.5")
}

func TestInvalidateCommand(t *testing.T) {
	h := newHarness()
	out, err := h.run(t, "invalidate")
	require.NoError(t, err)
	assert.Equal(t, 1, h.invalidator.calls)
	assert.Contains(t, out, "invalidated: true")

	h.invalidator.err = errors.New("redis down")
	_, err = h.run(t, "invalidate")
	assert.ErrorContains(t, err, "redis down")
}

func TestRootCommand_RejectsUnknownOutput(t *testing.T) {
	h := newHarness()
	_, err := h.run(t, "schema", "-o", "xml")
	assert.ErrorContains(t, err, "invalid output")
}
