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
	Database DatabaseConfig
	Server   ServerConfig
	Security SecurityConfig
	Monitor  MonitorConfig
	Email    EmailConfig
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
	Port     string
	Env      string
	LogLevel string
}

type SecurityConfig struct {
	AdminJWTSecret   string
	AdminTokenExpiry time.Duration
	AlertWebhookURL  string
	// UseLockoutRPC routes lockout lookups through the check_account_lockout
	// stored procedure instead of a direct query.
	UseLockoutRPC   bool
	IPBlockDuration time.Duration
	TrustedProxies  []string
}

type MonitorConfig struct {
	ExpiredSweepInterval  time.Duration
	InactiveSweepInterval time.Duration
	SecurityScanInterval  time.Duration
	InactivityThreshold   time.Duration
	MaxSessionsPerUser    int
	MaxSessionsPerIP      int
}

type EmailConfig struct {
	AWSRegion    string
	FromAddress  string
	SecurityTeam string
	Enabled      bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("ADMIN_JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("ADMIN_JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sentinel"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Env:      env,
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Security: SecurityConfig{
			AdminJWTSecret:   jwtSecret,
			AdminTokenExpiry: getEnvAsDuration("ADMIN_TOKEN_EXPIRY", 1*time.Hour),
			AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
			UseLockoutRPC:    getEnvAsBool("USE_LOCKOUT_RPC", false),
			IPBlockDuration:  getEnvAsDuration("IP_BLOCK_DURATION", 1*time.Hour),
			TrustedProxies:   parseCSV(getEnv("TRUSTED_PROXIES", "")),
		},
		Monitor: MonitorConfig{
			ExpiredSweepInterval:  getEnvAsDuration("EXPIRED_SWEEP_INTERVAL", 15*time.Minute),
			InactiveSweepInterval: getEnvAsDuration("INACTIVE_SWEEP_INTERVAL", 60*time.Minute),
			SecurityScanInterval:  getEnvAsDuration("SECURITY_SCAN_INTERVAL", 5*time.Minute),
			InactivityThreshold:   getEnvAsDuration("SESSION_INACTIVITY_THRESHOLD", 24*time.Hour),
			MaxSessionsPerUser:    getEnvAsInt("MAX_SESSIONS_PER_USER", 5),
			MaxSessionsPerIP:      getEnvAsInt("MAX_SESSIONS_PER_IP", 10),
		},
		Email: EmailConfig{
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			FromAddress:  getEnv("EMAIL_FROM_ADDRESS", ""),
			SecurityTeam: getEnv("SECURITY_TEAM_ADDRESS", ""),
			Enabled:      getEnvAsBool("EMAIL_NOTIFICATIONS_ENABLED", false),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Email.Enabled && cfg.Email.FromAddress == "" {
		return nil, fmt.Errorf("EMAIL_FROM_ADDRESS is required when email notifications are enabled")
	}

	return cfg, nil
}

// validateJWTSecret enforces minimum security standards for the admin JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("ADMIN_JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
