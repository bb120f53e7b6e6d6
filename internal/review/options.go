package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"
)

// FilterOptions lists the values offered by the filter pickers.
type FilterOptions struct {
	Accounts   []string `json:"accounts"`
	Projects   []string `json:"projects"`
	Objectives []string `json:"objectives"`
	Emails     []string `json:"emails"`
}

type optionSource struct {
	name   string
	object string
	field  string
	target *[]string
}

// FilterOptions loads the picker values concurrently. A loader that fails
// or has no bound source yields an empty list.
func (s *Service) FilterOptions(ctx context.Context) (*FilterOptions, error) {
	ctx, span := startSpan(ctx, "review.filter_options")
	defer span.End()

	out := &FilterOptions{Accounts: []string{}, Projects: []string{}, Objectives: []string{}, Emails: []string{}}
	schema, err := s.schema.Get(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("load schema: %w", err)
	}
	if !schema.Available() {
		return out, nil
	}

	sources := []optionSource{
		levelSource("accounts", schema, schemamap.RoleAccount, &out.Accounts),
		levelSource("projects", schema, schemamap.RoleProject, &out.Projects),
	}
	objective := schema.Binding(schemamap.RoleObjective)
	sources = append(sources, optionSource{name: "objectives", object: objective.Target, field: objective.NameField, target: &out.Objectives})
	contributor := schema.Binding(schemamap.RoleContributor)
	if contributor.EmailPath() != "" {
		sources = append(sources, optionSource{name: "emails", object: contributor.Target, field: contributor.EmailField, target: &out.Emails})
	}

	var wg sync.WaitGroup
	for _, src := range sources {
		if src.object == "" || src.field == "" {
			continue
		}
		wg.Add(1)
		go func(src optionSource) {
			defer wg.Done()
			values, err := s.distinct(ctx, src.object, src.field)
			if err != nil {
				s.logger.Warn("filter option lookup failed",
					slog.String("options", src.name),
					slog.String("object", src.object),
					slog.String("error", err.Error()),
				)
				return
			}
			*src.target = values
		}(src)
	}
	wg.Wait()
	return out, nil
}

func levelSource(name string, schema *schemamap.SchemaMap, role schemamap.Role, target *[]string) optionSource {
	level, _, ok := schema.Level(role)
	if !ok {
		return optionSource{name: name, target: target}
	}
	return optionSource{name: name, object: level.Object, field: level.NameField, target: target}
}

// distinct returns the sorted, case-insensitively unique non-empty values
// of field on object.
func (s *Service) distinct(ctx context.Context, object, field string) ([]string, error) {
	rows, complete, err := platform.CollectAll(ctx, s.client, soql.Query{
		Object:  object,
		Fields:  []string{field},
		Where:   soql.Cmp{Field: field, Op: soql.OpNe, Value: nil},
		OrderBy: []soql.Order{{Field: field}},
	}, s.optPages)
	if err != nil {
		return nil, err
	}
	if !complete {
		s.logger.Warn("filter options truncated at page limit", slog.String("object", object), slog.Int("values", len(rows)))
	}
	seen := make(map[string]struct{}, len(rows))
	values := make([]string, 0, len(rows))
	for _, row := range rows {
		v, _ := row.Lookup(field)
		value := strings.TrimSpace(platform.AsString(v))
		key := strings.ToLower(value)
		if value == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, value)
	}
	slices.SortFunc(values, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return values, nil
}
