package platform

import (
	"context"
	"fmt"

	"crm-approvals/internal/soql"
)

// DefaultMaxPages bounds CollectAll when the caller passes 0.
const DefaultMaxPages = 50

// CollectAll runs q and follows continuation locators until the result is
// done or maxPages responses were read. The second result is false when the
// page limit cut the result short.
func CollectAll(ctx context.Context, c Client, q soql.Query, maxPages int) ([]Record, bool, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	res, err := c.Query(ctx, q)
	if err != nil {
		return nil, false, err
	}
	records := append([]Record(nil), res.Records...)
	pages := 1
	for res.HasMore() {
		if pages >= maxPages {
			return records, false, nil
		}
		res, err = c.QueryMore(ctx, res.NextRecordsURL)
		if err != nil {
			return records, false, err
		}
		records = append(records, res.Records...)
		pages++
	}
	return records, true, nil
}

// Count returns the number of object records matching where.
func Count(ctx context.Context, c Client, object string, where soql.Predicate) (int, error) {
	res, err := c.Query(ctx, soql.Query{Object: object, Where: where, Count: true})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", object, err)
	}
	return res.TotalSize, nil
}

// ChunkStrings splits values into slices of at most size elements.
func ChunkStrings(values []string, size int) [][]string {
	if len(values) == 0 {
		return nil
	}
	if size <= 0 || len(values) <= size {
		return [][]string{values}
	}
	chunks := make([][]string, 0, (len(values)+size-1)/size)
	for start := 0; start < len(values); start += size {
		end := start + size
		if end > len(values) {
			end = len(values)
		}
		chunks = append(chunks, values[start:end])
	}
	return chunks
}
