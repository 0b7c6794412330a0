package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Lockout   LockoutConfig
	Provider  ProviderConfig
	Reconcile ReconcileConfig
	Alert     AlertConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

type AuthConfig struct {
	ServiceTokenSecret string
	ServiceTokenExpiry time.Duration
}

// LockoutConfig is the single tunable governing the lockout decision:
// MaxFailures within Window locks the account.
type LockoutConfig struct {
	MaxFailures    int
	Window         time.Duration
	DedupTolerance time.Duration
	Retention      time.Duration
	SweepInterval  time.Duration
}

type ProviderConfig struct {
	Auth0Domain       string
	Auth0ClientID     string
	Auth0ClientSecret string
	CallTimeout       time.Duration
}

type ReconcileConfig struct {
	Interval   time.Duration
	PullWindow time.Duration
}

type AlertConfig struct {
	Enabled       bool
	AWSRegion     string
	FromAddress   string
	SecurityInbox string
}

type NotifyConfig struct {
	AMQPURL string // empty disables broker notifications
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	serviceSecret := getEnv("SERVICE_TOKEN_SECRET", "")
	if serviceSecret == "" {
		return nil, fmt.Errorf("SERVICE_TOKEN_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "aegis"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsSlice("TRUSTED_PROXIES", nil),
		},
		Auth: AuthConfig{
			ServiceTokenSecret: serviceSecret,
			ServiceTokenExpiry: getEnvAsDuration("SERVICE_TOKEN_EXPIRY", 1*time.Hour),
		},
		Lockout: LockoutConfig{
			MaxFailures:    getEnvAsInt("LOCKOUT_MAX_FAILURES", 3),
			Window:         getEnvAsDuration("LOCKOUT_WINDOW", 24*time.Hour),
			DedupTolerance: getEnvAsDuration("LOCKOUT_DEDUP_TOLERANCE", 1*time.Second),
			Retention:      getEnvAsDuration("EVENT_RETENTION", 30*24*time.Hour),
			SweepInterval:  getEnvAsDuration("RETENTION_SWEEP_INTERVAL", 1*time.Hour),
		},
		Provider: ProviderConfig{
			Auth0Domain:       getEnv("AUTH0_DOMAIN", ""),
			Auth0ClientID:     getEnv("AUTH0_MANAGEMENT_CLIENT_ID", ""),
			Auth0ClientSecret: getEnv("AUTH0_MANAGEMENT_CLIENT_SECRET", ""),
			CallTimeout:       getEnvAsDuration("PROVIDER_CALL_TIMEOUT", 5*time.Second),
		},
		Reconcile: ReconcileConfig{
			Interval:   getEnvAsDuration("RECONCILE_INTERVAL", 15*time.Minute),
			PullWindow: getEnvAsDuration("RECONCILE_PULL_WINDOW", 24*time.Hour),
		},
		Alert: AlertConfig{
			Enabled:       getEnvAsBool("ALERT_EMAIL_ENABLED", false),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			FromAddress:   getEnv("ALERT_FROM_ADDRESS", ""),
			SecurityInbox: getEnv("ALERT_SECURITY_INBOX", ""),
		},
		Notify: NotifyConfig{
			AMQPURL: getEnv("AMQP_URL", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if cfg.Lockout.MaxFailures < 1 {
		return nil, fmt.Errorf("LOCKOUT_MAX_FAILURES must be at least 1")
	}

	if env == "production" && len(serviceSecret) < 32 {
		return nil, fmt.Errorf("SERVICE_TOKEN_SECRET must be at least 32 characters in production (got %d)", len(serviceSecret))
	}

	// Auth0 settings are all-or-nothing: an empty set disables reconciliation,
	// a partial set would fail every scheduled run.
	auth0Configured := cfg.Provider.Auth0Domain != "" || cfg.Provider.Auth0ClientID != "" || cfg.Provider.Auth0ClientSecret != ""
	if auth0Configured && (cfg.Provider.Auth0Domain == "" || cfg.Provider.Auth0ClientID == "" || cfg.Provider.Auth0ClientSecret == "") {
		return nil, fmt.Errorf("AUTH0_DOMAIN, AUTH0_MANAGEMENT_CLIENT_ID and AUTH0_MANAGEMENT_CLIENT_SECRET must be set together")
	}

	if cfg.Alert.Enabled && (cfg.Alert.FromAddress == "" || cfg.Alert.SecurityInbox == "") {
		return nil, fmt.Errorf("ALERT_FROM_ADDRESS and ALERT_SECURITY_INBOX are required when alert email is enabled")
	}

	return cfg, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}
