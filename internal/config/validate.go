package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"crm-approvals/internal/platform/rest"
	"crm-approvals/internal/schemamap"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) fail(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) warn(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Platform.validate(result)
	c.Review.validate(result)
	c.SchemaCache.validate(result)
	c.Server.validate(result, c.Review.RequestTimeout)
	c.Observability.validate(result)

	return result
}

func (p *PlatformConfig) validate(result *ValidationResult) {
	switch p.Backend {
	case BackendREST:
		p.REST.validate(result)
	case BackendSQLMirror:
		p.SQLMirror.validate(result)
	default:
		result.fail(BackendKey, fmt.Sprintf("invalid backend %q", p.Backend), "valid values are: rest, sqlmirror")
	}
}

func (r *RESTConfig) validate(result *ValidationResult) {
	parsed, err := url.Parse(r.InstanceURL)
	if strings.TrimSpace(r.InstanceURL) == "" || err != nil || parsed.Scheme == "" || parsed.Host == "" {
		result.fail("platform.rest.instance_url", fmt.Sprintf("invalid instance URL %q", r.InstanceURL), "use the org base URL, e.g. https://acme.my.example.com")
	} else if parsed.Scheme != "https" {
		result.warn("platform.rest.instance_url", "instance URL is not https", "tokens will be sent in cleartext")
	}
	if r.Timeout < 0 {
		result.fail("platform.rest.timeout", "timeout cannot be negative", "")
	}

	a := r.Auth
	switch a.Flow {
	case rest.AuthClientCredentials:
		if a.TokenURL == "" || a.ClientID == "" || a.ClientSecret == "" {
			result.fail("platform.rest.auth", "client_credentials requires token_url, client_id and client_secret", "set client_secret or client_secret_file")
		}
	case rest.AuthJWTBearer:
		if a.TokenURL == "" || a.ClientID == "" || a.Username == "" || a.PrivateKeyFile == "" {
			result.fail("platform.rest.auth", "jwt_bearer requires token_url, client_id, username and private_key_file", "")
		}
	case rest.AuthStatic:
		if a.AccessToken == "" {
			result.fail("platform.rest.auth.access_token", "static flow requires an access token", "set access_token or access_token_file")
		}
	default:
		result.fail("platform.rest.auth.flow", fmt.Sprintf("invalid auth flow %q", a.Flow), "valid values are: client_credentials, jwt_bearer, static")
	}
	if a.SessionLifetime < 0 {
		result.fail("platform.rest.auth.session_lifetime", "session_lifetime cannot be negative", "")
	}
}

func (m *SQLMirrorConfig) validate(result *ValidationResult) {
	if m.DSN == "" && (m.Port < 1 || m.Port > 65535) {
		result.fail("platform.sqlmirror.port", fmt.Sprintf("port %d is out of valid range (1-65535)", m.Port), "")
	}
	if _, err := m.EffectiveDatabase(); err != nil {
		result.fail("platform.sqlmirror.database", err.Error(), "set platform.sqlmirror.database or include /<database> in the DSN")
	}

	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[m.TLS.Mode] {
		result.fail("platform.sqlmirror.tls.mode", fmt.Sprintf("invalid TLS mode %q", m.TLS.Mode), "valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (m.TLS.Mode == "verify-ca" || m.TLS.Mode == "verify-full") && m.TLS.CAFile == "" {
		result.warn("platform.sqlmirror.tls.ca_file", "no CA file set", "the system roots will verify the mirror certificate")
	}
	if m.TLS.Mode == "skip-verify" {
		result.warn("platform.sqlmirror.tls.mode", "skip-verify disables certificate verification", "use verify-ca or verify-full outside development")
	}

	if m.Pool.MaxOpen < 0 {
		result.fail("platform.sqlmirror.pool.max_open", "max_open cannot be negative", "")
	}
	if m.Pool.MaxIdle < 0 {
		result.fail("platform.sqlmirror.pool.max_idle", "max_idle cannot be negative", "")
	}
	if m.Pool.MaxIdle > m.Pool.MaxOpen && m.Pool.MaxOpen > 0 {
		result.warn("platform.sqlmirror.pool.max_idle", "max_idle is greater than max_open", "idle connections will be limited to max_open")
	}

	if m.ConnectionTimeout < 0 {
		result.fail("platform.sqlmirror.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if m.ConnectionRetryInterval < 0 {
		result.fail("platform.sqlmirror.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if m.ConnectionTimeout > 0 && m.ConnectionRetryInterval == 0 {
		result.fail("platform.sqlmirror.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}

	if m.PageSize < 0 || m.OffsetCap < 0 {
		result.fail("platform.sqlmirror.page_size", "page_size and offset_cap cannot be negative", "")
	}
	if m.LocatorTTL < 0 || m.DescribeTTL < 0 {
		result.fail("platform.sqlmirror.locator_ttl", "locator_ttl and describe_ttl cannot be negative", "")
	}
	if m.SlowQueryThreshold < 0 {
		result.fail("platform.sqlmirror.slow_query_threshold", "slow_query_threshold cannot be negative", "set 0 to disable slow statement logging")
	}
}

func (r *ReviewConfig) validate(result *ValidationResult) {
	if r.RequestTimeout <= 0 {
		result.fail("review.request_timeout", "request_timeout must be greater than 0", "the default is 3m")
	}
	for field, value := range map[string]int{
		"review.offset_cap":        r.OffsetCap,
		"review.max_batch_size":    r.MaxBatchSize,
		"review.max_pages":         r.MaxPages,
		"review.filter_chunk_size": r.FilterChunkSize,
		"review.filter_max_chunks": r.FilterMaxChunks,
		"review.update_chunk_size": r.UpdateChunkSize,
		"review.max_update_ids":    r.MaxUpdateIDs,
		"review.options_max_pages": r.OptionsMaxPages,
	} {
		if value < 0 {
			result.fail(field, "value cannot be negative", "")
		}
	}
	if r.UpdateChunkSize > 200 {
		result.warn("review.update_chunk_size", "update_chunk_size is above the platform limit of 200", "chunks are capped at 200")
	}

	statuses := map[string]string{
		"review.pending_status":  r.PendingStatus,
		"review.approved_status": r.ApprovedStatus,
		"review.rejected_status": r.RejectedStatus,
	}
	for field, value := range statuses {
		if strings.TrimSpace(value) == "" {
			result.fail(field, "status value cannot be empty", "")
		}
	}
	if r.ApprovedStatus != "" && r.ApprovedStatus == r.RejectedStatus {
		result.fail("review.rejected_status", "approved and rejected statuses must differ", "")
	}

	for i, object := range r.CandidateObjects {
		if strings.TrimSpace(object) == "" {
			result.fail(fmt.Sprintf("review.candidate_objects[%d]", i), "object name cannot be empty", "")
		}
	}

	known := make(map[schemamap.Role]bool)
	for _, spec := range schemamap.DefaultRoleSpecs() {
		known[spec.Role] = true
	}
	for role, names := range r.RoleOverrides {
		if !known[schemamap.Role(role)] {
			result.fail("review.role_overrides."+role, fmt.Sprintf("unknown role %q", role), "see the roles listed by approvalsctl schema")
			continue
		}
		if len(names) == 0 {
			result.warn("review.role_overrides."+role, "override lists no field names", "")
		}
	}
}

// RoleOverrideMap converts RoleOverrides to the discovery service's form.
func (r *ReviewConfig) RoleOverrideMap() map[schemamap.Role][]string {
	if len(r.RoleOverrides) == 0 {
		return nil
	}
	out := make(map[schemamap.Role][]string, len(r.RoleOverrides))
	for role, names := range r.RoleOverrides {
		out[schemamap.Role(role)] = names
	}
	return out
}

func (s *SchemaCacheConfig) validate(result *ValidationResult) {
	switch s.Backend {
	case CacheMemory:
	case CacheRedis:
		if _, _, err := net.SplitHostPort(s.Redis.Address); err != nil {
			result.fail("schema_cache.redis.address", fmt.Sprintf("invalid redis address %q", s.Redis.Address), "use host:port")
		}
		if s.Redis.Database < 0 {
			result.fail("schema_cache.redis.database", "database cannot be negative", "")
		}
		if strings.TrimSpace(s.Redis.Key) == "" {
			result.fail("schema_cache.redis.key", "key cannot be empty", "")
		}
		if s.TTL == 0 {
			result.warn("schema_cache.ttl", "shared schema never expires", "replicas only rediscover after POST /admin/schema/invalidate")
		}
	default:
		result.fail("schema_cache.backend", fmt.Sprintf("invalid backend %q", s.Backend), "valid values are: memory, redis")
	}
	if s.TTL < 0 {
		result.fail("schema_cache.ttl", "ttl cannot be negative", "")
	}
}

func (s *ServerConfig) validate(result *ValidationResult, requestTimeout time.Duration) {
	if s.Port < 1 || s.Port > 65535 {
		result.fail("server.port", fmt.Sprintf("port %d is out of valid range (1-65535)", s.Port), "")
	}

	if s.Admin.Enabled && strings.TrimSpace(s.Admin.AuthToken) == "" {
		result.fail("server.admin.auth_token", "admin endpoints require an auth token", "set server.admin.auth_token or server.admin.auth_token_file")
	}
	if !s.Admin.Enabled && s.Admin.AuthToken != "" {
		result.warn("server.admin.enabled", "admin auth token is set but admin endpoints are disabled", "enable server.admin.enabled to mount /admin")
	}

	if s.RateLimitEnabled {
		if s.RateLimitRPS <= 0 {
			result.fail("server.rate_limit_rps", "rate_limit_rps must be greater than 0 when rate limiting is enabled", "")
		}
		if s.RateLimitBurst <= 0 {
			result.fail("server.rate_limit_burst", "rate_limit_burst must be greater than 0 when rate limiting is enabled", "")
		}
	} else if s.RateLimitRPS > 0 || s.RateLimitBurst > 0 {
		result.warn("server.rate_limit_enabled", "rate limit values are set but rate limiting is disabled", "enable server.rate_limit_enabled to apply rate limits")
	}

	if s.CORSEnabled {
		if len(s.CORSAllowedOrigins) == 0 {
			result.warn("server.cors_allowed_origins", "CORS is enabled with no allowed origins", "cross-origin requests will be refused")
		}
		for _, origin := range s.CORSAllowedOrigins {
			if origin == "*" && s.CORSAllowCredentials {
				result.warn("server.cors_allow_credentials", "credentials with a wildcard origin reflect every origin", "list the dashboard origins explicitly")
			}
		}
	}
	if s.CORSMaxAge < 0 {
		result.fail("server.cors_max_age", "cors_max_age cannot be negative", "")
	}

	for field, d := range map[string]time.Duration{
		"server.read_timeout":         s.ReadTimeout,
		"server.write_timeout":        s.WriteTimeout,
		"server.idle_timeout":         s.IdleTimeout,
		"server.shutdown_timeout":     s.ShutdownTimeout,
		"server.health_check_timeout": s.HealthCheckTimeout,
	} {
		if d < 0 {
			result.fail(field, "timeout cannot be negative", "")
		}
	}
	if s.WriteTimeout > 0 && s.WriteTimeout <= requestTimeout {
		result.warn("server.write_timeout", "write_timeout does not exceed review.request_timeout", "timed-out requests may be cut off before their 504 response")
	}

	switch s.TLSMode {
	case "", "off":
	case "file":
		if s.TLSCertFile == "" || s.TLSKeyFile == "" {
			result.fail("server.tls_cert_file", "tls_mode file requires tls_cert_file and tls_key_file", "")
		}
	default:
		result.fail("server.tls_mode", fmt.Sprintf("invalid TLS mode %q", s.TLSMode), "valid values are: off, file")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.fail("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level), "valid values are: debug, info, warn, error")
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.fail("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format), "valid values are: json, text")
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.fail("observability.trace_sample_ratio", fmt.Sprintf("trace_sample_ratio %.2f is outside 0..1", o.TraceSampleRatio), "")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.fail(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol), "valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.fail(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint), "use host:port or a full URL")
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.fail(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression), "valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.fail(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}
