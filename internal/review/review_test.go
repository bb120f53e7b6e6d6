package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"crm-approvals/internal/filter"
	"crm-approvals/internal/logging"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/platform/platformtest"
	"crm-approvals/internal/schemacache"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return &logging.Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newTestService(t *testing.T, org *platformtest.Platform) *Service {
	t.Helper()
	discoverer, err := schemamap.NewService(schemamap.Config{Client: org, Logger: testLogger()})
	require.NoError(t, err)
	cache, err := schemacache.New(schemacache.Config{Discoverer: discoverer, Logger: testLogger()})
	require.NoError(t, err)
	svc, err := NewService(Config{Client: org, Schema: cache, Logger: testLogger()})
	require.NoError(t, err)
	return svc
}

func seededOrg(n int) *platformtest.Platform {
	org := platformtest.NewApprovalOrg()
	org.SeedApprovals(n)
	return org
}

func recordByID(org *platformtest.Platform, id string) platform.Record {
	for _, rec := range org.Records(platformtest.ApprovalObject) {
		if rec.ID() == id {
			return rec
		}
	}
	return nil
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
	_, err = NewService(Config{Client: platformtest.New()})
	assert.Error(t, err)
}

func TestListDefaultsToNewestFirst(t *testing.T) {
	svc := newTestService(t, seededOrg(60))
	res, err := svc.List(context.Background(), ListRequest{Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 60, res.Total)
	assert.True(t, res.HasMore)
	assert.Equal(t, 10, res.BatchSize)
	require.Len(t, res.Records, 10)
	assert.Equal(t, "a0R000023", res.Records[0].ID)
	assert.Equal(t, "2024-12-24", res.Records[0].TransactionDate)
	for i := 1; i < len(res.Records); i++ {
		assert.GreaterOrEqual(t, res.Records[i-1].TransactionDate, res.Records[i].TransactionDate)
	}
	assert.Equal(t, "Apollo", res.Records[0].ProjectName)
	assert.Equal(t, "Acme", res.Records[0].AccountName)
}

func TestListSortByID(t *testing.T) {
	svc := newTestService(t, seededOrg(60))
	res, err := svc.List(context.Background(), ListRequest{Offset: 10, Limit: 5, SortBy: "id"})
	require.NoError(t, err)

	got := make([]string, len(res.Records))
	for i, r := range res.Records {
		got[i] = r.ID
	}
	assert.Equal(t, []string{"a0R000010", "a0R000011", "a0R000012", "a0R000013", "a0R000014"}, got)
	assert.Equal(t, 10, res.Offset)
}

func TestListFilters(t *testing.T) {
	svc := newTestService(t, seededOrg(60))
	tests := []struct {
		name      string
		spec      filter.Spec
		wantTotal int
	}{
		{name: "no filter", spec: filter.Spec{}, wantTotal: 60},
		{name: "status", spec: filter.Spec{LogicalField: "status", RawValue: "Approved"}, wantTotal: 20},
		{name: "contributor email", spec: filter.Spec{LogicalField: "email", RawValue: "person1@example.com"}, wantTotal: 12},
		{name: "objective", spec: filter.Spec{LogicalField: "objective", RawValue: "Objective 3"}, wantTotal: 6},
		{name: "project", spec: filter.Spec{LogicalField: "project", RawValue: "Apollo"}, wantTotal: 60},
		{name: "account", spec: filter.Spec{LogicalField: "account", RawValue: "Acme"}, wantTotal: 60},
		{name: "unknown project", spec: filter.Spec{LogicalField: "project", RawValue: "Gemini"}, wantTotal: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.List(context.Background(), ListRequest{Filter: tt.spec})
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, res.Total)
			assert.Len(t, res.Records, tt.wantTotal)
			assert.False(t, res.Truncated)
		})
	}
}

func TestListInvalidRequests(t *testing.T) {
	svc := newTestService(t, seededOrg(5))
	tests := []ListRequest{
		{Offset: -1},
		{Limit: -5},
		{SortOrder: "sideways"},
		{Filter: filter.Spec{LogicalField: "colour", RawValue: "red"}},
	}
	for _, req := range tests {
		_, err := svc.List(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%+v", req)
	}
}

func TestListUnavailableObject(t *testing.T) {
	svc := newTestService(t, platformtest.New())
	res, err := svc.List(context.Background(), ListRequest{})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.NotNil(t, res.Records)
	assert.Zero(t, res.Total)

	sum, err := svc.Summary(context.Background(), filter.Spec{})
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Zero(t, sum.TotalHours)
}

func TestPlatformUnreachable(t *testing.T) {
	org := seededOrg(5)
	org.DescribeErr = func(string) error { return fmt.Errorf("dial tcp: %w", platform.ErrUnavailable) }
	svc := newTestService(t, org)

	_, err := svc.List(context.Background(), ListRequest{})
	assert.ErrorIs(t, err, platform.ErrUnavailable)

	sum, err := svc.Summary(context.Background(), filter.Spec{})
	require.NoError(t, err)
	assert.False(t, sum.Success)
}

func TestSummary(t *testing.T) {
	svc := newTestService(t, seededOrg(30))
	sum, err := svc.Summary(context.Background(), filter.Spec{LogicalField: "status", RawValue: "Pending"})
	require.NoError(t, err)
	assert.True(t, sum.Success)
	assert.Greater(t, sum.TotalHours, 0.0)
	assert.Equal(t, sum.TotalHours, sum.TotalPendingHours)
	assert.False(t, sum.Truncated)

	_, err = svc.Summary(context.Background(), filter.Spec{LogicalField: "colour", RawValue: "red"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestFilterOptions(t *testing.T) {
	svc := newTestService(t, seededOrg(20))
	opts, err := svc.FilterOptions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme"}, opts.Accounts)
	assert.Equal(t, []string{"Apollo"}, opts.Projects)
	assert.Len(t, opts.Objectives, 10)
	assert.Equal(t, "Objective 0", opts.Objectives[0])
	assert.Equal(t, []string{
		"person0@example.com",
		"person1@example.com",
		"person2@example.com",
		"person3@example.com",
		"person4@example.com",
	}, opts.Emails)
}

func TestFilterOptionsToleratesFailingLoader(t *testing.T) {
	org := seededOrg(20)
	svc := newTestService(t, org)
	_, err := svc.Schema(context.Background())
	require.NoError(t, err)

	org.QueryErr = func(q soql.Query) error {
		if q.Object == platformtest.AccountObject {
			return &platform.APIError{StatusCode: 500, Code: "SERVER_ERROR", Message: "boom"}
		}
		return nil
	}
	opts, err := svc.FilterOptions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{}, opts.Accounts)
	assert.Equal(t, []string{"Apollo"}, opts.Projects)
}

func TestApprove(t *testing.T) {
	org := seededOrg(10)
	svc := newTestService(t, org)

	res, err := svc.Approve(context.Background(), []string{"a0R000001", "a0R000002", "a0R000001", "a0R999999"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Approved)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "a0R999999")
	assert.Equal(t, "Approved", recordByID(org, "a0R000001")["Status__c"])
	assert.Equal(t, "Approved", recordByID(org, "a0R000002")["Status__c"])
}

func TestApproveChunksUpdates(t *testing.T) {
	org := seededOrg(450)
	svc := newTestService(t, org)

	var mu sync.Mutex
	var sizes []int
	org.UpdateErr = func(_ string, updates []platform.RecordUpdate) error {
		mu.Lock()
		defer mu.Unlock()
		sizes = append(sizes, len(updates))
		return nil
	}
	ids := make([]string, 450)
	for i := range ids {
		ids[i] = fmt.Sprintf("a0R%06d", i)
	}
	res, err := svc.Approve(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 450, res.Approved)
	assert.Equal(t, []int{200, 200, 50}, sizes)
}

func TestApproveChunkFailure(t *testing.T) {
	org := seededOrg(10)
	svc := newTestService(t, org)
	org.UpdateErr = func(string, []platform.RecordUpdate) error {
		return errors.New("composite request rejected")
	}
	res, err := svc.Approve(context.Background(), []string{"a0R000001", "a0R000002"})
	require.NoError(t, err)
	assert.Zero(t, res.Approved)
	assert.Equal(t, 2, res.Failed)
	assert.NotEmpty(t, res.Errors)
}

func TestApproveInvalidIDs(t *testing.T) {
	svc := newTestService(t, seededOrg(1))
	for _, ids := range [][]string{nil, {"  "}, {"a0R000001", "bad id!"}, {"' OR Id != null"}} {
		_, err := svc.Approve(context.Background(), ids)
		assert.ErrorIs(t, err, ErrInvalidRequest, "%v", ids)
	}
}

func TestReject(t *testing.T) {
	org := seededOrg(10)
	svc := newTestService(t, org)

	res, err := svc.Reject(context.Background(), []string{"a0R000004"}, "  hours not tracked\x00 ")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.Errors)

	rec := recordByID(org, "a0R000004")
	assert.Equal(t, "Rejected", rec["Status__c"])
	assert.Equal(t, "hours not tracked", rec["Rejection_Reason__c"])

	_, err = svc.Reject(context.Background(), []string{"a0R000004"}, " \t")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestUpdateWithoutObject(t *testing.T) {
	svc := newTestService(t, platformtest.New())
	res, err := svc.Approve(context.Background(), []string{"a0R000001"})
	require.NoError(t, err)
	assert.Zero(t, res.Approved)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, res.Errors, 1)
}

func TestSortDescending(t *testing.T) {
	tests := []struct {
		sortBy, order string
		want          bool
	}{
		{"", "", true},
		{"transactionDate", "", true},
		{"hours", "", false},
		{"id", "", false},
		{"bogus", "", true},
		{"hours", "DESC", true},
		{"transactionDate", "asc", false},
	}
	for _, tt := range tests {
		got, err := sortDescending(tt.sortBy, tt.order)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %s", tt.sortBy, tt.order)
	}
}
