package schemamap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-approvals/internal/logging"
	"crm-approvals/internal/naming"
	"crm-approvals/internal/observability"
	"crm-approvals/internal/platform"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Config controls discovery.
type Config struct {
	Client platform.Client
	// CandidateObjects overrides DefaultCandidateObjects.
	CandidateObjects []string
	// RoleOverrides adds exact names tried before the built-in rules.
	RoleOverrides map[Role][]string
	Naming        naming.Config
	Logger        *logging.Logger
	Metrics       *observability.SchemaMetrics
}

// Service discovers a SchemaMap by describing candidate objects.
type Service struct {
	client     platform.Client
	candidates []string
	specs      []RoleSpec
	overrides  map[Role][]MatchRule
	namer      *naming.Namer
	logger     *logging.Logger
	metrics    *observability.SchemaMetrics
}

var _ Discoverer = (*Service)(nil)

// NewService returns a discovery service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("schema discovery requires a platform client")
	}
	if cfg.Logger == nil {
		cfg.Logger = &logging.Logger{Logger: slog.Default()}
	}
	candidates := cfg.CandidateObjects
	if len(candidates) == 0 {
		candidates = DefaultCandidateObjects
	}
	componentLogger := cfg.Logger.ForComponent("schema_discovery")

	overrides := make(map[Role][]MatchRule, len(cfg.RoleOverrides))
	for role, names := range cfg.RoleOverrides {
		if len(names) > 0 {
			overrides[role] = []MatchRule{Exact(names...)}
		}
	}

	return &Service{
		client:     cfg.Client,
		candidates: append([]string(nil), candidates...),
		specs:      DefaultRoleSpecs(),
		overrides:  overrides,
		namer:      naming.New(cfg.Naming, componentLogger.Logger),
		logger:     componentLogger,
		metrics:    cfg.Metrics,
	}, nil
}

// Discover probes the candidate objects in order and binds roles on the
// first one that exists. When none exists it returns an unavailable map and
// no error; only platform failures other than not-found are returned.
func (s *Service) Discover(ctx context.Context) (*SchemaMap, error) {
	ctx, span := startSpan(ctx, "schemamap.discover")
	defer span.End()
	start := time.Now()

	run := &discovery{service: s, describes: make(map[string]*platform.ObjectDescribe)}
	for _, candidate := range s.candidates {
		desc, err := run.describe(ctx, candidate)
		if errors.Is(err, platform.ErrObjectNotFound) {
			s.logger.Debug("candidate object not found", slog.String("object", candidate))
			continue
		}
		if err != nil {
			recordSpanError(span, err)
			s.metrics.RecordDiscovery(ctx, time.Since(start), observability.DiscoveryFailed, candidate, 0)
			return nil, fmt.Errorf("describe candidate %s: %w", candidate, err)
		}

		m := run.build(ctx, desc)
		if run.transient != nil {
			recordSpanError(span, run.transient)
			s.metrics.RecordDiscovery(ctx, time.Since(start), observability.DiscoveryFailed, candidate, 0)
			return nil, fmt.Errorf("discover %s: %w", candidate, run.transient)
		}
		unbound := s.unboundRoles(m)
		span.SetAttributes(
			attribute.String("schema.object", m.ObjectName),
			attribute.Int("schema.roles_bound", len(m.Roles)),
			attribute.Int("schema.roles_unbound", len(unbound)),
		)
		s.logger.Info("schema discovered",
			slog.String("object", m.ObjectName),
			slog.Int("roles_bound", len(m.Roles)),
			slog.Any("roles_unbound", unbound),
			slog.Int("hierarchy_levels", len(m.Hierarchy)),
			slog.Duration("duration", time.Since(start)),
		)
		s.metrics.RecordDiscovery(ctx, time.Since(start), observability.DiscoveryBound, m.ObjectName, len(unbound))
		return m, nil
	}

	s.logger.Warn("no candidate object found; approval review unavailable", slog.Any("candidates", s.candidates))
	s.metrics.RecordDiscovery(ctx, time.Since(start), observability.DiscoveryUnavailable, "", 0)
	return &SchemaMap{Roles: map[Role]FieldBinding{}}, nil
}

func (s *Service) rulesFor(spec RoleSpec) []MatchRule {
	extra := s.overrides[spec.Role]
	if len(extra) == 0 {
		return spec.Rules
	}
	return append(append([]MatchRule(nil), extra...), spec.Rules...)
}

func (s *Service) unboundRoles(m *SchemaMap) []Role {
	var unbound []Role
	for _, spec := range s.specs {
		if !m.Binding(spec.Role).Bound() {
			unbound = append(unbound, spec.Role)
		}
	}
	for _, role := range []Role{RoleProject, RoleAccount} {
		if _, _, ok := m.Level(role); !ok {
			unbound = append(unbound, role)
		}
	}
	return unbound
}

// discovery memoizes describes for one Discover call.
type discovery struct {
	service   *Service
	describes map[string]*platform.ObjectDescribe
	// transient is the first retryable failure of a nested describe. The
	// partial map is discarded so it never reaches the cache.
	transient error
}

func (d *discovery) describe(ctx context.Context, object string) (*platform.ObjectDescribe, error) {
	if desc, ok := d.describes[object]; ok {
		return desc, nil
	}
	ctx, span := startSpan(ctx, "schemamap.describe", attribute.String("platform.object", object))
	defer span.End()

	desc, err := d.service.client.Describe(ctx, object)
	if err != nil {
		if !errors.Is(err, platform.ErrObjectNotFound) {
			recordSpanError(span, err)
		}
		if platform.IsTransient(err) && d.transient == nil {
			d.transient = err
		}
		return nil, err
	}
	d.describes[object] = desc
	return desc, nil
}

func (d *discovery) build(ctx context.Context, desc *platform.ObjectDescribe) *SchemaMap {
	m := &SchemaMap{
		ObjectName: desc.Name,
		NameField:  desc.NameField(),
		Roles:      make(map[Role]FieldBinding),
	}

	for _, spec := range d.service.specs {
		rules := d.service.rulesFor(spec)
		field, ok := findField(desc, spec, rules)
		if !ok {
			continue
		}
		if !spec.Reference() {
			m.Roles[spec.Role] = FieldBinding{Field: field.Name, Type: field.Type}
			continue
		}
		needsEmail := spec.Role == RoleContributor
		m.Roles[spec.Role] = d.bindReference(ctx, field, needsEmail)
	}

	d.bindHierarchy(ctx, m)
	return m
}

// bindReference resolves the relationship path of a lookup. When the lookup
// needs an email but its target has none, the target is treated as an
// intermediate object and searched for a nested person lookup.
func (d *discovery) bindReference(ctx context.Context, field platform.Field, needsEmail bool) FieldBinding {
	logger := d.service.logger
	binding := FieldBinding{
		Field:            field.Name,
		Type:             field.Type,
		RelationshipPath: d.relationshipName(field),
		Target:           field.ReferenceTo[0],
		NameField:        "Name",
	}

	target, err := d.describe(ctx, binding.Target)
	if err != nil {
		logger.Warn("describe lookup target failed; using conventional names",
			slog.String("field", field.Name),
			slog.String("target", binding.Target),
			slog.String("error", err.Error()),
		)
		return binding
	}
	binding.NameField = target.NameField()
	if email := target.EmailField(); email != "" || !needsEmail {
		binding.EmailField = email
		return binding
	}

	// Second-level discovery through the intermediate object.
	nested, ok := findField(target, RoleSpec{Role: RoleContributor, Types: referenceTypes}, contributorTargetRules)
	if !ok {
		logger.Warn("intermediate object has no person lookup; contributor names unavailable",
			slog.String("field", field.Name),
			slog.String("intermediate", target.Name),
		)
		binding.RelationshipPath = ""
		return binding
	}
	person, err := d.describe(ctx, nested.ReferenceTo[0])
	if err != nil {
		logger.Warn("describe nested lookup target failed; contributor names unavailable",
			slog.String("intermediate", target.Name),
			slog.String("target", nested.ReferenceTo[0]),
			slog.String("error", err.Error()),
		)
		binding.RelationshipPath = ""
		return binding
	}

	binding.RelationshipPath = binding.RelationshipPath + "." + d.relationshipName(nested)
	binding.Target = person.Name
	binding.NameField = person.NameField()
	binding.EmailField = person.EmailField()
	logger.Debug("resolved nested relationship path",
		slog.String("field", field.Name),
		slog.String("path", binding.RelationshipPath),
	)
	return binding
}

// bindHierarchy walks objective -> project -> account, one describe per
// level, stopping at the first level that cannot be resolved.
func (d *discovery) bindHierarchy(ctx context.Context, m *SchemaMap) {
	objective := m.Binding(RoleObjective)
	if !objective.Bound() {
		return
	}

	child := objective.Target
	path := objective.RelationshipPath
	fieldPrefix := objective.RelationshipPath
	for _, step := range []struct {
		role  Role
		rules []MatchRule
	}{
		{RoleProject, projectRules},
		{RoleAccount, accountRules},
	} {
		childDesc, err := d.describe(ctx, child)
		if err != nil {
			d.service.logger.Warn("hierarchy discovery stopped",
				slog.String("object", child),
				slog.String("role", string(step.role)),
				slog.String("error", err.Error()),
			)
			return
		}
		spec := RoleSpec{Role: step.role, Types: referenceTypes}
		link, ok := findField(childDesc, spec, d.service.rulesFor(RoleSpec{Role: step.role, Rules: step.rules}))
		if !ok {
			return
		}
		parent := link.ReferenceTo[0]
		nameField := "Name"
		if parentDesc, err := d.describe(ctx, parent); err == nil {
			nameField = parentDesc.NameField()
		}
		m.Hierarchy = append(m.Hierarchy, HierarchyLevel{
			Role:        step.role,
			Object:      parent,
			NameField:   nameField,
			ChildObject: childDesc.Name,
			LinkField:   link.Name,
		})

		binding := FieldBinding{Type: link.Type, Target: parent, NameField: nameField}
		if fieldPrefix != "" {
			binding.Field = fieldPrefix + "." + link.Name
			binding.RelationshipPath = path + "." + d.relationshipName(link)
		}
		if binding.Bound() {
			m.Roles[step.role] = binding
		}

		child = parent
		if fieldPrefix != "" {
			path = binding.RelationshipPath
			fieldPrefix = binding.RelationshipPath
		}
	}
}

func (d *discovery) relationshipName(field platform.Field) string {
	if field.RelationshipName != "" {
		return field.RelationshipName
	}
	return d.service.namer.RelationshipName(field.Name)
}

// findField applies rules to the API names of type-compatible fields, then
// to their labels.
func findField(desc *platform.ObjectDescribe, spec RoleSpec, rules []MatchRule) (platform.Field, bool) {
	candidates := make([]platform.Field, 0, len(desc.Fields))
	for _, f := range desc.Fields {
		if !spec.accepts(f.Type) {
			continue
		}
		if spec.Reference() && !f.IsReference() {
			continue
		}
		candidates = append(candidates, f)
	}
	names := make([]string, len(candidates))
	labels := make([]string, len(candidates))
	for i, f := range candidates {
		names[i] = f.Name
		labels[i] = f.Label
	}
	if idx := resolveIndex(names, rules); idx >= 0 {
		return candidates[idx], true
	}
	if idx := resolveIndex(labels, rules); idx >= 0 {
		return candidates[idx], true
	}
	return platform.Field{}, false
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("crm-approvals/schemamap")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
