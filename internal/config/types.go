package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For or
	// X-Real-IP. Only enable it behind a proxy that overwrites them.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// SeedAccount describes a system account created directly as active.
type SeedAccount struct {
	Username    string `mapstructure:"username"`
	Email       string `mapstructure:"email"`
	Password    string `mapstructure:"password"`
	FirstName   string `mapstructure:"first_name"`
	LastName    string `mapstructure:"last_name"`
	DateOfBirth string `mapstructure:"date_of_birth"`
	PhoneNumber string `mapstructure:"phone_number"`
	Purok       string `mapstructure:"purok"`
	Role        string `mapstructure:"role"`
}

type AuthConfig struct {
	JWTSecret                string        `mapstructure:"jwt_secret"`
	AccessTokenDuration      time.Duration `mapstructure:"access_token_duration"`
	RefreshTokenDuration     time.Duration `mapstructure:"refresh_token_duration"`
	SessionDuration          time.Duration `mapstructure:"session_duration"`
	BcryptCost               int           `mapstructure:"bcrypt_cost"`
	EnforceSessionRevocation bool          `mapstructure:"enforce_session_revocation"`
	SeedOnStart              bool          `mapstructure:"seed_on_start"`
	SeedAccounts             []SeedAccount `mapstructure:"seed_accounts"`

	// GeneratedSecret is set when JWTSecret was filled with a random value.
	GeneratedSecret bool `mapstructure:"-"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	SlowThreshold   time.Duration `mapstructure:"slow_threshold"`
	LogLevel        string        `mapstructure:"log_level"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

// DSN returns the connection string, preferring an explicit URL.
func (c *DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.Host,
		c.User,
		c.Password,
		c.Name,
		c.Port,
		c.SSLMode,
	)
}

// LimitPolicy allows MaxAttempts inside each Window.
type LimitPolicy struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	Window      time.Duration `mapstructure:"window"`
}

type ThrottleConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type RateLimitConfig struct {
	Backend  string         `mapstructure:"backend"`
	RedisURL string         `mapstructure:"redis_url"`
	Login    LimitPolicy    `mapstructure:"login"`
	Register LimitPolicy    `mapstructure:"register"`
	Throttle ThrottleConfig `mapstructure:"throttle"`
}

// CleanupConfig drives the periodic removal of idle limiter state. Ended
// sessions are only purged when SessionRetention is positive.
type CleanupConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	SessionRetention time.Duration `mapstructure:"session_retention"`
	ThrottleIdle     time.Duration `mapstructure:"throttle_idle"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type AppConfig struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Database    DatabaseConfig  `mapstructure:"database"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Cleanup     CleanupConfig   `mapstructure:"cleanup"`
}

// Debug reports whether internal error details may be returned to clients.
func (c *AppConfig) Debug() bool {
	return c.Environment == "development"
}
