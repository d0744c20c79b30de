package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "realtyhub.yaml"

// MinJWTSecretLen is the shortest HS256 secret accepted at startup and on reload.
const MinJWTSecretLen = 32

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "REALTYHUB_PORT")
	setString(&cfg.Server.CORSOrigin, "REALTYHUB_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "REALTYHUB_REQUEST_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "REALTYHUB_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "REALTYHUB_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "REALTYHUB_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "REALTYHUB_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "REALTYHUB_PG_HEALTH_CHECK")
	setDuration(&cfg.Postgres.ResetTimeout, "REALTYHUB_PG_RESET_TIMEOUT")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "REALTYHUB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "REALTYHUB_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "REALTYHUB_LOG_ASYNC")

	// Cache
	setInt64(&cfg.Cache.L1MaxSizeMB, "REALTYHUB_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "REALTYHUB_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "REALTYHUB_CACHE_L2_TTL")
	setInt(&cfg.Breaker.MaxFailures, "REALTYHUB_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "REALTYHUB_BREAKER_TIMEOUT")

	// Tenancy
	setString(&cfg.Tenancy.OverrideHeader, "REALTYHUB_TENANT_HEADER")
	setList(&cfg.Tenancy.ExemptPrefixes, "REALTYHUB_TENANT_EXEMPT_PREFIXES")
	setString(&cfg.Tenancy.SharedSchema, "REALTYHUB_SHARED_SCHEMA")
	setDuration(&cfg.Tenancy.HostCacheTTL, "REALTYHUB_HOST_CACHE_TTL")
	setDuration(&cfg.Tenancy.TenantCacheTTL, "REALTYHUB_TENANT_CACHE_TTL")

	// Auth
	setString(&cfg.Auth.JWTSecret, "REALTYHUB_JWT_SECRET")
	setString(&cfg.Auth.Issuer, "REALTYHUB_JWT_ISSUER")
	setDuration(&cfg.Auth.AccessTokenExpiry, "REALTYHUB_ACCESS_TOKEN_EXPIRY")
	setInt(&cfg.Auth.BcryptCost, "REALTYHUB_BCRYPT_COST")

	// Provisioning
	setString(&cfg.Provisioning.Dispatch, "REALTYHUB_PROVISION_DISPATCH")
	setInt64(&cfg.Provisioning.MaxConcurrent, "REALTYHUB_PROVISION_MAX_CONCURRENT")
	setInt(&cfg.Provisioning.CloneParallelism, "REALTYHUB_PROVISION_CLONE_PARALLELISM")
	setDuration(&cfg.Provisioning.Timeout, "REALTYHUB_PROVISION_TIMEOUT")
	setList(&cfg.Provisioning.PlatformTables, "REALTYHUB_PROVISION_PLATFORM_TABLES")
	setList(&cfg.Provisioning.OptionalTables, "REALTYHUB_PROVISION_OPTIONAL_TABLES")

	// OTEL
	setBool(&cfg.OTEL.Enabled, "REALTYHUB_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "REALTYHUB_OTEL_INSECURE")

	setInt(&cfg.Rate.LoginPerMinute, "REALTYHUB_RATE_LOGIN_PER_MINUTE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Tenancy.OverrideHeader == "" {
		return errors.New("tenancy.override_header is required")
	}
	if cfg.Tenancy.SharedSchema == "" {
		return errors.New("tenancy.shared_schema is required")
	}
	if len(cfg.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	switch cfg.Provisioning.Dispatch {
	case "local":
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("provisioning.dispatch=nats requires nats.url")
		}
	default:
		return fmt.Errorf("provisioning.dispatch %q must be local or nats", cfg.Provisioning.Dispatch)
	}
	if cfg.Provisioning.MaxConcurrent < 1 {
		return errors.New("provisioning.max_concurrent must be >= 1")
	}
	if cfg.Provisioning.CloneParallelism < 1 {
		return errors.New("provisioning.clone_parallelism must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.LoginPerMinute < 1 {
		return errors.New("rate.login_per_minute must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setList splits a comma-separated env value, dropping empty entries.
func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
