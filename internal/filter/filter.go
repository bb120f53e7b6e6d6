// Package filter compiles a single logical filter into a query predicate,
// resolving ancestor names to id sets through chained lookups.
package filter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/platform"
	"crm-approvals/internal/schemamap"
	"crm-approvals/internal/soql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/text/unicode/norm"
)

const (
	// ChunkSize is the largest id list in one IN clause.
	ChunkSize = 500
	// MaxChunks caps the OR-joined IN clauses of one filter.
	MaxChunks = 100
	// MaxValueLength caps a sanitized filter value, in runes.
	MaxValueLength = 255
	// DefaultLookupMaxPages bounds continuation fetches per id lookup.
	DefaultLookupMaxPages = 50
)

// ErrUnknownFilterField is returned for a logical field the compiler does
// not support.
var ErrUnknownFilterField = errors.New("unknown filter field")

// Logical filter fields.
const (
	FieldStatus           = "status"
	FieldID               = "id"
	FieldContributorEmail = "contributorEmail"
	FieldContributor      = "contributor"
	FieldObjective        = "objective"
	FieldProject          = "project"
	FieldAccount          = "account"
)

var fieldAliases = map[string]string{
	"status":           FieldStatus,
	"id":               FieldID,
	"recordid":         FieldID,
	"contributoremail": FieldContributorEmail,
	"email":            FieldContributorEmail,
	"contributor":      FieldContributor,
	"contributorname":  FieldContributor,
	"objective":        FieldObjective,
	"objectivename":    FieldObjective,
	"project":          FieldProject,
	"projectname":      FieldProject,
	"account":          FieldAccount,
	"accountname":      FieldAccount,
}

// Spec is one logical filter.
type Spec struct {
	LogicalField string
	RawValue     string
}

// Empty reports whether s selects every record.
func (s Spec) Empty() bool {
	return strings.TrimSpace(s.LogicalField) == "" || Sanitize(s.RawValue) == ""
}

// CanonicalField maps a logical field name, case-insensitively, to its
// canonical form.
func CanonicalField(name string) (string, bool) {
	canonical, ok := fieldAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

// Sanitize trims, NFC-normalizes, drops control characters and caps the
// value length. Quoting happens when the query is rendered.
func Sanitize(raw string) string {
	normalized := norm.NFC.String(strings.TrimSpace(raw))
	var b strings.Builder
	b.Grow(len(normalized))
	n := 0
	for _, r := range normalized {
		if unicode.IsControl(r) {
			continue
		}
		if n == MaxValueLength {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// CompiledPredicate is the result of compiling a Spec.
type CompiledPredicate struct {
	// Predicate is nil when no filter applies.
	Predicate soql.Predicate
	// Truncated is set when the resolved id set exceeded MaxChunks*ChunkSize
	// or a lookup hit its page limit, so some matching records are missing.
	Truncated bool
	// MatchesNothing is set when the filter resolved to no records.
	MatchesNothing bool
}

func matchNothing() CompiledPredicate {
	return CompiledPredicate{Predicate: soql.MatchNone(), MatchesNothing: true}
}

// Config controls the compiler.
type Config struct {
	Client         platform.Client
	Logger         *logging.Logger
	ChunkSize      int
	MaxChunks      int
	LookupMaxPages int
}

// Compiler turns Specs into predicates.
type Compiler struct {
	client    platform.Client
	logger    *logging.Logger
	chunkSize int
	maxChunks int
	maxPages  int
}

// New returns a compiler.
func New(cfg Config) *Compiler {
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > ChunkSize {
		cfg.ChunkSize = ChunkSize
	}
	if cfg.MaxChunks <= 0 || cfg.MaxChunks > MaxChunks {
		cfg.MaxChunks = MaxChunks
	}
	if cfg.LookupMaxPages <= 0 {
		cfg.LookupMaxPages = DefaultLookupMaxPages
	}
	return &Compiler{
		client:    cfg.Client,
		logger:    cfg.Logger.ForComponent("filter"),
		chunkSize: cfg.ChunkSize,
		maxChunks: cfg.MaxChunks,
		maxPages:  cfg.LookupMaxPages,
	}
}

// Compile returns the predicate for spec. Only an unknown logical field is
// an error; unresolvable filters compile to a predicate matching nothing.
func (c *Compiler) Compile(ctx context.Context, spec Spec, schema *schemamap.SchemaMap) (CompiledPredicate, error) {
	if strings.TrimSpace(spec.LogicalField) == "" {
		return CompiledPredicate{}, nil
	}
	field, ok := CanonicalField(spec.LogicalField)
	if !ok {
		return CompiledPredicate{}, fmt.Errorf("%w: %q", ErrUnknownFilterField, spec.LogicalField)
	}
	value := Sanitize(spec.RawValue)
	if value == "" {
		return CompiledPredicate{}, nil
	}
	if !schema.Available() {
		return matchNothing(), nil
	}

	switch field {
	case FieldProject, FieldAccount:
		return c.compileHierarchical(ctx, schemamap.Role(field), value, schema), nil
	}
	return c.compileDirect(field, value, schema), nil
}

func (c *Compiler) compileDirect(field, value string, schema *schemamap.SchemaMap) CompiledPredicate {
	var target string
	switch field {
	case FieldID:
		target = "Id"
	case FieldStatus:
		target = schema.Field(schemamap.RoleStatus)
	case FieldContributorEmail:
		target = schema.Binding(schemamap.RoleContributor).EmailPath()
	case FieldContributor:
		target = schema.Binding(schemamap.RoleContributor).NamePath()
	case FieldObjective:
		target = schema.Binding(schemamap.RoleObjective).NamePath()
	}
	if target == "" {
		c.logger.Warn("filter field unbound; matching no records", slog.String("filter", field))
		return matchNothing()
	}
	return CompiledPredicate{Predicate: soql.Eq{Field: target, Value: value}}
}

// compileHierarchical resolves the ancestor name to ids, descends one level
// per query to objective ids, then filters the objective lookup with them.
func (c *Compiler) compileHierarchical(ctx context.Context, role schemamap.Role, value string, schema *schemamap.SchemaMap) CompiledPredicate {
	ctx, span := otel.Tracer("crm-approvals/filter").Start(ctx, "filter.resolve_hierarchy")
	defer span.End()
	span.SetAttributes(attribute.String("filter.role", string(role)))

	logger := c.logger.WithFields(slog.String("filter", string(role)))
	level, idx, ok := schema.Level(role)
	objective := schema.Field(schemamap.RoleObjective)
	if !ok || objective == "" {
		logger.Warn("hierarchy level unbound; matching no records")
		return matchNothing()
	}

	ids, complete, err := c.lookupIDs(ctx, level.Object, []soql.Predicate{soql.Eq{Field: level.NameField, Value: value}})
	truncated := !complete
	for i := idx; err == nil && len(ids) > 0 && i >= 0; i-- {
		step := schema.Hierarchy[i]
		var stepComplete bool
		ids, stepComplete, err = c.lookupChildren(ctx, step, ids)
		truncated = truncated || !stepComplete
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("hierarchy resolution failed; matching no records", slog.String("error", err.Error()))
		return matchNothing()
	}
	span.SetAttributes(attribute.Int("filter.resolved_ids", len(ids)))
	if len(ids) == 0 {
		logger.Debug("hierarchy resolved to no records")
		return matchNothing()
	}

	chunks := platform.ChunkStrings(ids, c.chunkSize)
	if len(chunks) > c.maxChunks {
		logger.Warn("resolved id set exceeds predicate limit; results truncated",
			slog.Int("ids", len(ids)),
			slog.Int("chunks", len(chunks)),
			slog.Int("max_chunks", c.maxChunks),
		)
		chunks = chunks[:c.maxChunks]
		truncated = true
	}
	if truncated {
		span.SetAttributes(attribute.Bool("filter.truncated", true))
	}
	return CompiledPredicate{Predicate: inChunks(objective, chunks), Truncated: truncated}
}

// lookupChildren returns ids of step.ChildObject records linked to any of
// parentIDs, querying parents in ChunkSize batches.
func (c *Compiler) lookupChildren(ctx context.Context, step schemamap.HierarchyLevel, parentIDs []string) ([]string, bool, error) {
	chunks := platform.ChunkStrings(parentIDs, c.chunkSize)
	preds := make([]soql.Predicate, len(chunks))
	for i, chunk := range chunks {
		preds[i] = soql.In{Field: step.LinkField, Values: chunk}
	}
	return c.lookupIDs(ctx, step.ChildObject, preds)
}

// lookupIDs runs one id query per predicate and merges the ids in order.
func (c *Compiler) lookupIDs(ctx context.Context, object string, preds []soql.Predicate) ([]string, bool, error) {
	var ids []string
	seen := make(map[string]struct{})
	complete := true
	for _, pred := range preds {
		records, done, err := platform.CollectAll(ctx, c.client, soql.Query{
			Object:  object,
			Fields:  []string{"Id"},
			Where:   pred,
			OrderBy: []soql.Order{{Field: "Id"}},
		}, c.maxPages)
		if err != nil {
			return nil, false, fmt.Errorf("lookup %s ids: %w", object, err)
		}
		complete = complete && done
		for _, rec := range records {
			id := rec.ID()
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, complete, nil
}

func inChunks(field string, chunks [][]string) soql.Predicate {
	preds := make([]soql.Predicate, len(chunks))
	for i, chunk := range chunks {
		preds[i] = soql.In{Field: field, Values: chunk}
	}
	return soql.AnyOf(preds...)
}
