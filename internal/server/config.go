package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/elskow/bms/internal/config"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

var ErrMissingSecret = errors.New("auth.jwt_secret must be set outside development")

func LoadConfig() (*config.AppConfig, error) {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvDevelopment
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if path := os.Getenv("BMS_CONFIG_PATH"); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config/server")

	v.SetEnvPrefix("BMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg config.AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Environment = env

	// Environment-specific overrides, e.g. [production.auth]
	if envSettings := v.GetStringMap(env); len(envSettings) > 0 {
		if err := v.UnmarshalKey(env, &cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling env config: %w", err)
		}
		cfg.Environment = env
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.max_body_bytes", 10<<20)
	v.SetDefault("server.trust_proxy_headers", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_duration", "24h")
	v.SetDefault("auth.refresh_token_duration", "168h")
	v.SetDefault("auth.session_duration", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)
	v.SetDefault("auth.enforce_session_revocation", true)
	v.SetDefault("auth.seed_on_start", false)

	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "bms")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.slow_threshold", "1s")
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.redis_url", "")
	v.SetDefault("rate_limit.login.max_attempts", 5)
	v.SetDefault("rate_limit.login.window", "15m")
	v.SetDefault("rate_limit.register.max_attempts", 10)
	v.SetDefault("rate_limit.register.window", "60s")
	v.SetDefault("rate_limit.throttle.requests_per_second", 0)
	v.SetDefault("rate_limit.throttle.burst", 0)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.interval", "10m")
	v.SetDefault("cleanup.session_retention", "0s")
	v.SetDefault("cleanup.throttle_idle", "10m")
}

// Validate enforces the invariants the service cannot run without. An empty
// signing secret is only tolerated in development and testing, where it is
// replaced with a random per-process value.
func Validate(cfg *config.AppConfig) error {
	if cfg.Auth.JWTSecret == "" {
		if cfg.Environment != EnvDevelopment && cfg.Environment != EnvTesting {
			return ErrMissingSecret
		}
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		cfg.Auth.JWTSecret = secret
		cfg.Auth.GeneratedSecret = true
	}

	if cfg.Database.URL == "" && cfg.Database.Host == "" {
		return errors.New("database.url or database.host is required")
	}

	for name, p := range map[string]config.LimitPolicy{
		"login":    cfg.RateLimit.Login,
		"register": cfg.RateLimit.Register,
	} {
		if p.MaxAttempts <= 0 || p.Window <= 0 {
			return fmt.Errorf("rate_limit.%s must have positive max_attempts and window", name)
		}
	}

	switch cfg.RateLimit.Backend {
	case "memory":
	case "redis":
		if cfg.RateLimit.RedisURL == "" {
			return errors.New("rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", cfg.RateLimit.Backend)
	}

	if cfg.Cleanup.Enabled && cfg.Cleanup.Interval <= 0 {
		return errors.New("cleanup.interval must be positive when cleanup is enabled")
	}

	return nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
