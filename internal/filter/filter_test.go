package filter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/platform/platformtest"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func discover(t *testing.T, p *platformtest.Platform) *schemamap.SchemaMap {
	t.Helper()
	svc, err := schemamap.NewService(schemamap.Config{Client: p, Logger: testLogger()})
	require.NoError(t, err)
	m, err := svc.Discover(context.Background())
	require.NoError(t, err)
	return m
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "Acme", Sanitize("  Acme\t"))
	assert.Equal(t, "AcmeCorp", Sanitize("Acme\x00Corp"))
	assert.Equal(t, "Café", Sanitize("Café"))
	assert.Equal(t, "O'Brien", Sanitize("O'Brien"))
	assert.Len(t, []rune(Sanitize(strings.Repeat("é", 400))), MaxValueLength)
	assert.Empty(t, Sanitize(" \n "))
}

func TestCompileUnknownField(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	c := New(Config{Client: org, Logger: testLogger()})

	_, err := c.Compile(context.Background(), Spec{LogicalField: "favouriteColour", RawValue: "red"}, discover(t, org))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownFilterField))
}

func TestCompileEmptyFilter(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)

	for _, spec := range []Spec{{}, {LogicalField: "status", RawValue: "   "}} {
		got, err := c.Compile(context.Background(), spec, schema)
		require.NoError(t, err)
		assert.Nil(t, got.Predicate)
		assert.True(t, spec.Empty())
	}
}

func TestCompileDirect(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)

	tests := []struct {
		spec Spec
		want soql.Predicate
	}{
		{Spec{"status", "Pending"}, soql.Eq{Field: "Status__c", Value: "Pending"}},
		{Spec{"ID", " a0R000001 "}, soql.Eq{Field: "Id", Value: "a0R000001"}},
		{Spec{"contributorEmail", "person1@example.com"}, soql.Eq{Field: "Contributor_Assignment__r.Contact__r.Email", Value: "person1@example.com"}},
		{Spec{"contributor", "Person 1"}, soql.Eq{Field: "Contributor_Assignment__r.Contact__r.Name", Value: "Person 1"}},
		{Spec{"objective", "Objective 3"}, soql.Eq{Field: "Objective__r.Name", Value: "Objective 3"}},
	}
	for _, tt := range tests {
		t.Run(tt.spec.LogicalField, func(t *testing.T) {
			got, err := c.Compile(context.Background(), tt.spec, schema)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Predicate)
			assert.False(t, got.MatchesNothing)
		})
	}
	assert.Empty(t, org.Queries(), "direct filters issue no lookups")
}

func TestCompileDirectUnboundMatchesNothing(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)
	contributor := schema.Roles[schemamap.RoleContributor]
	contributor.RelationshipPath = ""
	schema.Roles[schemamap.RoleContributor] = contributor

	got, err := c.Compile(context.Background(), Spec{"contributorEmail", "x@example.com"}, schema)
	require.NoError(t, err)
	assert.True(t, got.MatchesNothing)
	assert.True(t, soql.IsMatchNone(got.Predicate))

	got, err = c.Compile(context.Background(), Spec{"status", "Pending"}, &schemamap.SchemaMap{})
	require.NoError(t, err)
	assert.True(t, got.MatchesNothing)
}

func TestCompileHierarchicalChunksIDs(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	org.AddAccount("001A", "Acme")
	org.AddProject("a0P1", "Apollo", "001A")
	for i := 0; i < 1200; i++ {
		org.AddObjective(fmt.Sprintf("a0O%05d", i), fmt.Sprintf("Objective %d", i), "a0P1")
	}
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)

	got, err := c.Compile(context.Background(), Spec{"account", "Acme"}, schema)
	require.NoError(t, err)
	assert.False(t, got.Truncated)

	or, ok := got.Predicate.(soql.Or)
	require.True(t, ok, "expected OR of IN chunks, got %T", got.Predicate)
	require.Len(t, or, 3)
	sizes := make([]int, len(or))
	for i, part := range or {
		in, ok := part.(soql.In)
		require.True(t, ok)
		assert.Equal(t, "Objective__c", in.Field)
		sizes[i] = len(in.Values)
	}
	assert.Equal(t, []int{500, 500, 200}, sizes)

	rendered, err := soql.Render(soql.Query{Object: platformtest.ApprovalObject, Fields: []string{"Id"}, Where: got.Predicate})
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(rendered, " IN ("))
	assert.Equal(t, 2, strings.Count(rendered, " OR "))
}

func TestCompileHierarchicalProject(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	org.AddAccount("001A", "Acme")
	org.AddProject("a0P1", "Apollo", "001A")
	org.AddProject("a0P2", "Gemini", "001A")
	org.AddObjective("a0O1", "One", "a0P1")
	org.AddObjective("a0O2", "Two", "a0P2")
	c := New(Config{Client: org, Logger: testLogger()})

	got, err := c.Compile(context.Background(), Spec{"project", "gemini"}, discover(t, org))
	require.NoError(t, err)
	assert.Equal(t, soql.In{Field: "Objective__c", Values: []string{"a0O2"}}, got.Predicate)
}

func TestCompileHierarchicalNoMatchesMatchesNothing(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	org.AddAccount("001A", "Acme")
	org.AddAccount("001B", "Empty Co")
	org.AddProject("a0P1", "Apollo", "001A")
	org.AddObjective("a0O1", "One", "a0P1")
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)

	for _, name := range []string{"Empty Co", "Nobody"} {
		got, err := c.Compile(context.Background(), Spec{"account", name}, schema)
		require.NoError(t, err)
		assert.True(t, got.MatchesNothing, name)
		assert.True(t, soql.IsMatchNone(got.Predicate), name)
	}
}

func TestCompileHierarchicalLookupFailureMatchesNothing(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	org.AddAccount("001A", "Acme")
	org.AddProject("a0P1", "Apollo", "001A")
	schema := discover(t, org)
	org.QueryErr = func(q soql.Query) error {
		if q.Object == platformtest.ProjectObject {
			return &platform.APIError{StatusCode: 500, Message: "boom"}
		}
		return nil
	}
	c := New(Config{Client: org, Logger: testLogger()})

	got, err := c.Compile(context.Background(), Spec{"account", "Acme"}, schema)
	require.NoError(t, err)
	assert.True(t, got.MatchesNothing)
}

func TestCompileHierarchicalChunksParentsAndTruncates(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	org.AddAccount("001A", "Acme")
	for i := 0; i < 25; i++ {
		org.AddProject(fmt.Sprintf("a0P%02d", i), fmt.Sprintf("Project %d", i), "001A")
		org.AddObjective(fmt.Sprintf("a0O%02d", i), fmt.Sprintf("Objective %d", i), fmt.Sprintf("a0P%02d", i))
	}
	schema := discover(t, org)
	org.ResetCalls()
	c := New(Config{Client: org, Logger: testLogger(), ChunkSize: 10, MaxChunks: 2})

	got, err := c.Compile(context.Background(), Spec{"account", "Acme"}, schema)
	require.NoError(t, err)
	assert.True(t, got.Truncated)
	or, ok := got.Predicate.(soql.Or)
	require.True(t, ok)
	assert.Len(t, or, 2)

	objectiveLookups := 0
	for _, q := range org.Queries() {
		if q.Object == platformtest.ObjectiveObject {
			objectiveLookups++
		}
	}
	assert.Equal(t, 3, objectiveLookups, "25 project ids in chunks of 10")
}

func TestCompileUnboundHierarchy(t *testing.T) {
	org := platformtest.NewApprovalOrg()
	c := New(Config{Client: org, Logger: testLogger()})
	schema := discover(t, org)
	schema.Hierarchy = nil

	got, err := c.Compile(context.Background(), Spec{"project", "Apollo"}, schema)
	require.NoError(t, err)
	assert.True(t, got.MatchesNothing)
}
