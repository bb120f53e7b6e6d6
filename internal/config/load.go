// Package config loads configuration from files, env vars, and flags, and validates it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes every environment variable, e.g. CRMAPP_SERVER_PORT.
const EnvPrefix = "CRMAPP"

var defineFlagsOnce sync.Once

// secretFiles maps a secret key to the key naming a file that holds it.
// "@-" reads the file from stdin.
var secretFiles = []struct {
	key  string
	file string
	what string
}{
	{"platform.sqlmirror.dsn", "platform.sqlmirror.dsn_file", "mirror DSN"},
	{"platform.sqlmirror.password", "platform.sqlmirror.password_file", "mirror password"},
	{"platform.rest.auth.client_secret", "platform.rest.auth.client_secret_file", "client secret"},
	{"platform.rest.auth.access_token", "platform.rest.auth.access_token_file", "access token"},
	{"schema_cache.redis.password", "schema_cache.redis.password_file", "redis password"},
	{"server.admin.auth_token", "server.admin.auth_token_file", "admin auth token"},
}

// Load loads configuration from multiple sources with the following precedence:
// 1. Explicit overrides (v.Set) – secrets read from files or a prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
func Load() (*Config, error) {
	defineFlags()
	if !pflag.Parsed() {
		pflag.Parse()
	}

	cfgPath, _ := pflag.CommandLine.GetString("config")
	return load(cfgPath, func(v *viper.Viper) { bindChangedFlagsToViper(pflag.CommandLine, v) })
}

// LoadFile loads configuration without consulting command line flags. It is
// used by tools that define their own flags.
func LoadFile(path string) (*Config, error) {
	return load(path, nil)
}

func load(cfgPath string, bindFlags func(*viper.Viper)) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("crm-approvals")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/crm-approvals/")
		v.AddConfigPath("$HOME/.crm-approvals")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Canonical keys are dot + snake_case; env vars replace dots with
	// underscores, e.g. CRMAPP_PLATFORM_REST_INSTANCE_URL.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if bindFlags != nil {
		bindFlags(v)
	}

	if err := resolveSecrets(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.UnmarshalExact(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToStringSliceHookFunc(","),
		),
	)
}

func resolveSecrets(v *viper.Viper) error {
	if err := validateSingleStdinFileSource(v); err != nil {
		return err
	}

	for _, s := range secretFiles {
		path := strings.TrimSpace(v.GetString(s.file))
		if v.GetString(s.key) != "" || path == "" {
			continue
		}
		secret, err := readSecretFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s file: %w", s.what, err)
		}
		if secret == "" {
			return fmt.Errorf("%s file %q is empty", s.what, path)
		}
		v.Set(s.key, secret)
	}

	if v.GetString(BackendKey) == BackendSQLMirror &&
		v.GetString("platform.sqlmirror.dsn") == "" &&
		v.GetString("platform.sqlmirror.password") == "" &&
		v.GetBool("platform.sqlmirror.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("platform.sqlmirror.password", pwd)
	}
	return nil
}

// BackendKey is the configuration key selecting the platform backend.
const BackendKey = "platform.backend"

// bindChangedFlagsToViper copies only explicitly-set flags into Viper,
// preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Visit(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "version" {
			return
		}

		switch f.Value.Type() {
		case "string":
			val, _ := flags.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := flags.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := flags.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := flags.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := flags.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := flags.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines the server's command line flags using canonical
// snake_case keys. Settings without a flag are still reachable through the
// config file and CRMAPP_ env vars.
func defineFlags() {
	defineFlagsOnce.Do(func() {
		pflag.String(BackendKey, "", "Platform backend (rest, sqlmirror)")

		pflag.String("platform.rest.instance_url", "", "CRM instance base URL")
		pflag.String("platform.rest.api_version", "", "CRM REST API version (e.g. v59.0)")
		pflag.Duration("platform.rest.timeout", 0, "Timeout of one REST call")
		pflag.String("platform.rest.auth.flow", "", "Token flow (client_credentials, jwt_bearer, static)")
		pflag.String("platform.rest.auth.token_url", "", "OAuth2 token endpoint")
		pflag.String("platform.rest.auth.client_id", "", "OAuth2 client ID")
		pflag.String("platform.rest.auth.client_secret_file", "", "Path to file containing the client secret (use @- for stdin)")
		pflag.String("platform.rest.auth.username", "", "Subject of JWT bearer assertions")
		pflag.String("platform.rest.auth.private_key_file", "", "PEM RSA key signing JWT bearer assertions")
		pflag.String("platform.rest.auth.access_token_file", "", "Path to file containing a static access token (use @- for stdin)")

		pflag.String("platform.sqlmirror.dsn", "", "Complete MySQL DSN of the mirror (user:pass@tcp(host:port)/db)")
		pflag.String("platform.sqlmirror.dsn_file", "", "Path to file containing the mirror DSN (use @- for stdin)")
		pflag.String("platform.sqlmirror.host", "", "Mirror database host")
		pflag.Int("platform.sqlmirror.port", 0, "Mirror database port")
		pflag.String("platform.sqlmirror.user", "", "Mirror database user")
		pflag.String("platform.sqlmirror.password_file", "", "Path to file containing the mirror password (use @- for stdin)")
		pflag.Bool("platform.sqlmirror.password_prompt", false, "Prompt for the mirror password securely")
		pflag.String("platform.sqlmirror.database", "", "Mirror database name")
		pflag.String("platform.sqlmirror.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
		pflag.Duration("platform.sqlmirror.connection_timeout", 0, "Max time to wait for the mirror on startup (0 = fail immediately)")

		pflag.Duration("review.request_timeout", 0, "Deadline of one review request")
		pflag.Int("review.max_batch_size", 0, "Largest page returned by one list call")
		pflag.StringSlice("review.candidate_objects", nil, "Objects tried during schema discovery, in order")

		pflag.String("schema_cache.backend", "", "Schema cache backend (memory, redis)")
		pflag.Duration("schema_cache.ttl", 0, "Schema cache TTL (0 = until invalidated)")
		pflag.String("schema_cache.redis.address", "", "Redis address (host:port)")

		pflag.Int("server.port", 0, "HTTP server port")
		pflag.Bool("server.admin.enabled", false, "Enable /admin endpoints")
		pflag.String("server.admin.auth_token_file", "", "Path to file containing the admin auth token (use @- for stdin)")
		pflag.Bool("server.rate_limit_enabled", false, "Enable per-client rate limiting")
		pflag.Float64("server.rate_limit_rps", 0, "Per-client requests per second")
		pflag.Int("server.rate_limit_burst", 0, "Per-client burst size")
		pflag.Bool("server.cors_enabled", false, "Enable CORS (Cross-Origin Resource Sharing)")
		pflag.StringSlice("server.cors_allowed_origins", nil, "Allowed CORS origins (comma-separated or repeated)")
		pflag.Duration("server.shutdown_timeout", 0, "HTTP server graceful shutdown timeout")
		pflag.String("server.tls_mode", "", "TLS mode: off, file (default: off)")
		pflag.String("server.tls_cert_file", "", "Path to TLS certificate file")
		pflag.String("server.tls_key_file", "", "Path to TLS private key file")

		pflag.String("observability.environment", "", "Environment name (dev, staging, prod)")
		pflag.Bool("observability.metrics_enabled", false, "Enable metrics collection")
		pflag.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
		pflag.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
		pflag.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
		pflag.String("observability.logging.format", "", "Log format (json, text)")
		pflag.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
		pflag.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
		pflag.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
		pflag.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")

		pflag.StringP("config", "c", "", "Config file path")
	})
}

// setDefaults sets default values (lowest precedence). Every key is set so
// that AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault(BackendKey, BackendREST)

	v.SetDefault("platform.rest.instance_url", "")
	v.SetDefault("platform.rest.api_version", "v59.0")
	v.SetDefault("platform.rest.timeout", 2*time.Minute)
	v.SetDefault("platform.rest.auth.flow", "client_credentials")
	v.SetDefault("platform.rest.auth.token_url", "")
	v.SetDefault("platform.rest.auth.client_id", "")
	v.SetDefault("platform.rest.auth.client_secret", "")
	v.SetDefault("platform.rest.auth.client_secret_file", "")
	v.SetDefault("platform.rest.auth.scopes", []string{})
	v.SetDefault("platform.rest.auth.username", "")
	v.SetDefault("platform.rest.auth.audience", "")
	v.SetDefault("platform.rest.auth.private_key_file", "")
	v.SetDefault("platform.rest.auth.access_token", "")
	v.SetDefault("platform.rest.auth.access_token_file", "")
	v.SetDefault("platform.rest.auth.session_lifetime", 30*time.Minute)

	v.SetDefault("platform.sqlmirror.dsn", "")
	v.SetDefault("platform.sqlmirror.dsn_file", "")
	v.SetDefault("platform.sqlmirror.host", "localhost")
	v.SetDefault("platform.sqlmirror.port", 4000)
	v.SetDefault("platform.sqlmirror.user", "crm_approvals")
	v.SetDefault("platform.sqlmirror.password", "")
	v.SetDefault("platform.sqlmirror.password_file", "")
	v.SetDefault("platform.sqlmirror.password_prompt", false)
	v.SetDefault("platform.sqlmirror.database", "")
	v.SetDefault("platform.sqlmirror.tls.mode", "")
	v.SetDefault("platform.sqlmirror.tls.ca_file", "")
	v.SetDefault("platform.sqlmirror.tls.cert_file", "")
	v.SetDefault("platform.sqlmirror.tls.key_file", "")
	v.SetDefault("platform.sqlmirror.tls.server_name", "")
	v.SetDefault("platform.sqlmirror.pool.max_open", 25)
	v.SetDefault("platform.sqlmirror.pool.max_idle", 5)
	v.SetDefault("platform.sqlmirror.pool.max_lifetime", 5*time.Minute)
	v.SetDefault("platform.sqlmirror.connection_timeout", 60*time.Second)
	v.SetDefault("platform.sqlmirror.connection_retry_interval", 2*time.Second)
	v.SetDefault("platform.sqlmirror.sqlcommenter_enabled", true)
	v.SetDefault("platform.sqlmirror.slow_query_threshold", 2*time.Second)
	v.SetDefault("platform.sqlmirror.page_size", 2000)
	v.SetDefault("platform.sqlmirror.offset_cap", 2000)
	v.SetDefault("platform.sqlmirror.locator_ttl", 15*time.Minute)
	v.SetDefault("platform.sqlmirror.describe_ttl", 5*time.Minute)

	v.SetDefault("review.request_timeout", 3*time.Minute)
	v.SetDefault("review.offset_cap", 2000)
	v.SetDefault("review.max_batch_size", 5000)
	v.SetDefault("review.max_pages", 10)
	v.SetDefault("review.filter_chunk_size", 0)
	v.SetDefault("review.filter_max_chunks", 0)
	v.SetDefault("review.update_chunk_size", 200)
	v.SetDefault("review.max_update_ids", 10000)
	v.SetDefault("review.options_max_pages", 10)
	v.SetDefault("review.pending_status", "Pending")
	v.SetDefault("review.approved_status", "Approved")
	v.SetDefault("review.rejected_status", "Rejected")
	v.SetDefault("review.candidate_objects", []string{})
	v.SetDefault("review.role_overrides", map[string][]string{})

	v.SetDefault("schema_cache.backend", CacheMemory)
	v.SetDefault("schema_cache.ttl", 0)
	v.SetDefault("schema_cache.redis.address", "localhost:6379")
	v.SetDefault("schema_cache.redis.password", "")
	v.SetDefault("schema_cache.redis.password_file", "")
	v.SetDefault("schema_cache.redis.database", 0)
	v.SetDefault("schema_cache.redis.pool_size", 10)
	v.SetDefault("schema_cache.redis.key", "crm-approvals:schema-map")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.admin.enabled", false)
	v.SetDefault("server.admin.auth_token", "")
	v.SetDefault("server.admin.auth_token_file", "")
	v.SetDefault("server.admin.header_name", "X-Admin-Token")
	v.SetDefault("server.rate_limit_enabled", false)
	v.SetDefault("server.rate_limit_rps", 0.0)
	v.SetDefault("server.rate_limit_burst", 0)
	v.SetDefault("server.cors_enabled", false)
	v.SetDefault("server.cors_allowed_origins", []string{})
	v.SetDefault("server.cors_allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("server.cors_allowed_headers", []string{"Content-Type", "X-Admin-Token", "X-Request-ID"})
	v.SetDefault("server.cors_expose_headers", []string{"X-Request-ID"})
	v.SetDefault("server.cors_allow_credentials", false)
	v.SetDefault("server.cors_max_age", 86400)
	v.SetDefault("server.read_timeout", 15*time.Second)
	// Writes outlive review.request_timeout so a timed-out request still
	// gets its 504 problem.
	v.SetDefault("server.write_timeout", 4*time.Minute)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.health_check_timeout", 2*time.Second)
	v.SetDefault("server.tls_mode", "off")
	v.SetDefault("server.tls_cert_file", "")
	v.SetDefault("server.tls_key_file", "")

	v.SetDefault("observability.service_name", "crm-approvals")
	v.SetDefault("observability.service_version", "")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", true)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.timeout", 10*time.Second)
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 3)

	v.SetDefault("naming.relationship_overrides", map[string]string{})
	v.SetDefault("naming.plural_overrides", map[string]string{})
	v.SetDefault("naming.singular_overrides", map[string]string{})
}

// promptPassword prompts the user for a password without echoing to terminal.
func promptPassword() (string, error) {
	fmt.Print("Enter mirror database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

func readSecretFile(path string) (string, error) {
	var data []byte
	var err error

	if path == "@-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, s := range secretFiles {
		if strings.TrimSpace(v.GetString(s.file)) == "@-" {
			configured = append(configured, s.file)
		}
	}

	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}

		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}

		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}
