package config

import (
	"time"

	"crm-approvals/internal/naming"
)

// Platform backends.
const (
	BackendREST      = "rest"
	BackendSQLMirror = "sqlmirror"
)

// Schema cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config holds the application configuration.
type Config struct {
	Platform      PlatformConfig      `mapstructure:"platform"`
	Review        ReviewConfig        `mapstructure:"review"`
	SchemaCache   SchemaCacheConfig   `mapstructure:"schema_cache"`
	Server        ServerConfig        `mapstructure:"server"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// PlatformConfig selects the remote platform the review engine reads from.
type PlatformConfig struct {
	// Backend is "rest" (the CRM's REST API) or "sqlmirror" (a replicated
	// MySQL/TiDB copy of the CRM objects).
	Backend   string          `mapstructure:"backend"`
	REST      RESTConfig      `mapstructure:"rest"`
	SQLMirror SQLMirrorConfig `mapstructure:"sqlmirror"`
}

// RESTConfig configures the REST backend.
type RESTConfig struct {
	InstanceURL string         `mapstructure:"instance_url"`
	APIVersion  string         `mapstructure:"api_version"`
	Timeout     time.Duration  `mapstructure:"timeout"`
	Auth        RESTAuthConfig `mapstructure:"auth"`
}

// RESTAuthConfig configures how the REST backend obtains access tokens.
type RESTAuthConfig struct {
	// Flow is client_credentials, jwt_bearer or static.
	Flow             string   `mapstructure:"flow"`
	TokenURL         string   `mapstructure:"token_url"`
	ClientID         string   `mapstructure:"client_id"`
	ClientSecret     string   `mapstructure:"client_secret"`
	ClientSecretFile string   `mapstructure:"client_secret_file"`
	Scopes           []string `mapstructure:"scopes"`
	// Username is the subject of jwt_bearer assertions.
	Username        string        `mapstructure:"username"`
	Audience        string        `mapstructure:"audience"`
	PrivateKeyFile  string        `mapstructure:"private_key_file"`
	AccessToken     string        `mapstructure:"access_token"`
	AccessTokenFile string        `mapstructure:"access_token_file"`
	SessionLifetime time.Duration `mapstructure:"session_lifetime"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for the mirror connection.
type DatabaseTLSConfig struct {
	// Mode is off, skip-verify, verify-ca or verify-full.
	Mode       string `mapstructure:"mode"`
	CAFile     string `mapstructure:"ca_file"`
	CertFile   string `mapstructure:"cert_file"`
	KeyFile    string `mapstructure:"key_file"`
	ServerName string `mapstructure:"server_name"`
}

// SQLMirrorConfig configures the SQL mirror backend.
type SQLMirrorConfig struct {
	// DSN is a complete go-sql-driver/mysql data source name. When set it
	// overrides the discrete connection fields.
	DSN     string `mapstructure:"dsn"`
	DSNFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the mirror on startup.
	ConnectionTimeout       time.Duration `mapstructure:"connection_timeout"`
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
	SQLCommenterEnabled     bool          `mapstructure:"sqlcommenter_enabled"`
	// SlowQueryThreshold logs mirror statements slower than this; 0 disables.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`

	PageSize    int           `mapstructure:"page_size"`
	OffsetCap   int           `mapstructure:"offset_cap"`
	LocatorTTL  time.Duration `mapstructure:"locator_ttl"`
	DescribeTTL time.Duration `mapstructure:"describe_ttl"`
}

// ReviewConfig tunes the review engine.
type ReviewConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	OffsetCap       int `mapstructure:"offset_cap"`
	MaxBatchSize    int `mapstructure:"max_batch_size"`
	MaxPages        int `mapstructure:"max_pages"`
	FilterChunkSize int `mapstructure:"filter_chunk_size"`
	FilterMaxChunks int `mapstructure:"filter_max_chunks"`
	UpdateChunkSize int `mapstructure:"update_chunk_size"`
	MaxUpdateIDs    int `mapstructure:"max_update_ids"`
	OptionsMaxPages int `mapstructure:"options_max_pages"`

	PendingStatus  string `mapstructure:"pending_status"`
	ApprovedStatus string `mapstructure:"approved_status"`
	RejectedStatus string `mapstructure:"rejected_status"`

	// CandidateObjects overrides the objects tried during discovery.
	CandidateObjects []string `mapstructure:"candidate_objects"`
	// RoleOverrides maps a field role to exact field names tried first.
	RoleOverrides map[string][]string `mapstructure:"role_overrides"`
}

// RedisConfig configures the shared schema cache.
type RedisConfig struct {
	Address      string `mapstructure:"address"`
	Password     string `mapstructure:"password"`
	PasswordFile string `mapstructure:"password_file"`
	Database     int    `mapstructure:"database"`
	PoolSize     int    `mapstructure:"pool_size"`
	Key          string `mapstructure:"key"`
}

// SchemaCacheConfig configures where discovered SchemaMaps are kept.
type SchemaCacheConfig struct {
	Backend string `mapstructure:"backend"`
	// TTL of 0 keeps a SchemaMap until it is invalidated.
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

// AdminConfig controls administrative endpoint exposure and authentication.
type AdminConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AuthToken     string `mapstructure:"auth_token"`
	AuthTokenFile string `mapstructure:"auth_token_file"`
	HeaderName    string `mapstructure:"header_name"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port                 int           `mapstructure:"port"`
	Admin                AdminConfig   `mapstructure:"admin"`
	RateLimitEnabled     bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRPS         float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst       int           `mapstructure:"rate_limit_burst"`
	CORSEnabled          bool          `mapstructure:"cors_enabled"`
	CORSAllowedOrigins   []string      `mapstructure:"cors_allowed_origins"`
	CORSAllowedMethods   []string      `mapstructure:"cors_allowed_methods"`
	CORSAllowedHeaders   []string      `mapstructure:"cors_allowed_headers"`
	CORSExposeHeaders    []string      `mapstructure:"cors_expose_headers"`
	CORSAllowCredentials bool          `mapstructure:"cors_allow_credentials"`
	CORSMaxAge           int           `mapstructure:"cors_max_age"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
	WriteTimeout         time.Duration `mapstructure:"write_timeout"`
	IdleTimeout          time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
	HealthCheckTimeout   time.Duration `mapstructure:"health_check_timeout"`

	// TLSMode is "off" or "file".
	TLSMode     string `mapstructure:"tls_mode"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs layers a signal override on the global settings. Insecure
// always comes from the override since a false value cannot be told apart
// from unset.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base
	result.Insecure = override.Insecure

	for _, f := range []struct {
		dst *string
		src string
	}{
		{&result.Endpoint, override.Endpoint},
		{&result.Protocol, override.Protocol},
		{&result.TLSCertFile, override.TLSCertFile},
		{&result.TLSClientCertFile, override.TLSClientCertFile},
		{&result.TLSClientKeyFile, override.TLSClientKeyFile},
		{&result.Compression, override.Compression},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}

	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
