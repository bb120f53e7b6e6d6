package platformtest

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/soql"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seeded(n int) *Platform {
	p := New()
	records := make([]platform.Record, n)
	for i := range records {
		records[i] = platform.Record{
			"Id":        fmt.Sprintf("a%05d", i),
			"Hours__c":  float64(i % 10),
			"Status__c": map[bool]string{true: "Pending", false: "Approved"}[i%2 == 0],
			"Contact__r": map[string]any{
				"Name":  fmt.Sprintf("Person %d", i),
				"Email": fmt.Sprintf("p%d@example.com", i),
			},
		}
	}
	p.AddObject(platform.ObjectDescribe{Name: "Approval__c"}, records...)
	return p
}

func TestQueryPagesWithLocators(t *testing.T) {
	p := seeded(4500)
	ctx := context.Background()

	res, err := p.Query(ctx, soql.Query{Object: "Approval__c", Fields: []string{"Id"}, OrderBy: []soql.Order{{Field: "Id"}}})
	require.NoError(t, err)
	assert.Equal(t, 4500, res.TotalSize)
	assert.Len(t, res.Records, 2000)
	require.True(t, res.HasMore())

	all, complete, err := platform.CollectAll(ctx, p, soql.Query{Object: "Approval__c", Fields: []string{"Id"}}, 0)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Len(t, all, 4500)
}

func TestQueryRejectsOffsetAboveCap(t *testing.T) {
	p := seeded(10)
	_, err := p.Query(context.Background(), soql.Query{Object: "Approval__c", Fields: []string{"Id"}, Offset: 2001})
	var apiErr *platform.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "NUMBER_OUTSIDE_VALID_RANGE", apiErr.Code)
}

func TestQueryFiltersProjectsAndAggregates(t *testing.T) {
	p := seeded(20)
	ctx := context.Background()

	res, err := p.Query(ctx, soql.Query{
		Object: "Approval__c",
		Fields: []string{"Id", "Contact__r.Email"},
		Where:  soql.And{soql.Eq{Field: "Status__c", Value: "pending"}, soql.Cmp{Field: "Hours__c", Op: soql.OpGte, Value: 8.0}},
	})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, platform.Record{"Id": "a00008", "Contact__r": map[string]any{"Email": "p8@example.com"}}, res.Records[0])

	sum, err := p.Query(ctx, soql.Query{
		Object:     "Approval__c",
		Aggregates: []soql.Aggregate{{Func: soql.Sum, Field: "Hours__c", Alias: "total"}},
		Where:      soql.In{Field: "Id", Values: []string{"a00001", "a00002", "a00003"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 6.0, sum.Records[0]["total"])

	count, err := platform.Count(ctx, p, "Approval__c", soql.MatchNone())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueryMoreExpired(t *testing.T) {
	p := seeded(2500)
	p.ExpireLocators = true
	res, err := p.Query(context.Background(), soql.Query{Object: "Approval__c", Fields: []string{"Id"}})
	require.NoError(t, err)
	_, err = p.QueryMore(context.Background(), res.NextRecordsURL)
	assert.True(t, errors.Is(err, platform.ErrInvalidLocator))
}

func TestSortRecordsNullsLast(t *testing.T) {
	rows := []platform.Record{
		{"Id": "3", "D": nil},
		{"Id": "1", "D": "2024-01-02"},
		{"Id": "2", "D": "2024-01-03"},
	}
	SortRecords(rows, []soql.Order{{Field: "D", Desc: true, NullsLast: true}, {Field: "Id"}})
	assert.Equal(t, []string{"2", "1", "3"}, []string{rows[0].ID(), rows[1].ID(), rows[2].ID()})
}

func TestUpdate(t *testing.T) {
	p := seeded(3)
	results, err := p.Update(context.Background(), "Approval__c", []platform.RecordUpdate{
		{ID: "a00001", Fields: map[string]any{"Status__c": "Approved"}},
		{ID: "missing", Fields: map[string]any{"Status__c": "Approved"}},
	})
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, "Approved", p.Records("Approval__c")[1]["Status__c"])
}
