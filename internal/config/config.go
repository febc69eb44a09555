// Package config provides environment-based configuration management
// All settings come from environment variables, optionally seeded from a .env file
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// DBConfig holds MariaDB connection parameters (inbound message + activity log)
type DBConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// RedisConfig holds Redis connection parameters
type RedisConfig struct {
	Addr     string // Format: host:port
	Password string
	DB       int
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port        int
	AdminToken  string // bearer token for /api
	MeshSecret  string // ?secret_key= for /ws/logs
	LogLevel    string
	LogFormat   string // text | json
	ManagerName string
}

// BackendConfig points at the record-store REST API
type BackendConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// TelegramConfig tunes the platform gateway and the webhook
type TelegramConfig struct {
	APIEndpoint   string
	Timeout       time.Duration
	RatePerSec    float64
	RateBurst     int
	WebhookSecret string
}

// CoordinatorConfig holds leader election and tick timings
type CoordinatorConfig struct {
	Enabled           bool
	InstanceID        string
	LeaseBackend      string // redis | memory
	LeaseTTL          time.Duration
	PollInterval      time.Duration
	IdleInterval      time.Duration
	StandbyInterval   time.Duration
	ErrorInterval     time.Duration
	BroadcastInterval time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// FlowConfig holds interpreter settings
type FlowConfig struct {
	ScenarioDir    string // YAML scenarios; empty means the backend serves them
	SessionBackend string // redis | backend
	MaxSteps       int
}

// WatchdogConfig holds the disk watchdog settings
type WatchdogConfig struct {
	Enabled      bool
	Schedule     string
	ThresholdPct float64
	Retention    time.Duration
}

// Config aggregates all configuration sections
type Config struct {
	DB          DBConfig
	Redis       RedisConfig
	App         AppConfig
	Backend     BackendConfig
	Telegram    TelegramConfig
	Coordinator CoordinatorConfig
	Flow        FlowConfig
	Watchdog    WatchdogConfig
}

// LoadConfig reads configuration from the environment (and .env when present).
// Returns error if critical variables are missing.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the current environment only
func FromEnv() (*Config, error) {
	cfg := &Config{}

	// Database Configuration
	cfg.DB.Enabled = getEnvAsBool("DB_ENABLED", true)
	cfg.DB.Host = getEnv("DB_HOST", "botflow_db")
	cfg.DB.Port = getEnvAsInt("DB_PORT", 3306)
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "botflow")

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "botflow_redis:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.AdminToken = getEnv("ADMIN_TOKEN", "")
	cfg.App.MeshSecret = getEnv("MESH_SECRET", "")
	cfg.App.LogLevel = strings.ToLower(getEnv("LOG_LEVEL", "info"))
	cfg.App.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	cfg.App.ManagerName = getEnv("MANAGER_NAME", "Manager")

	// Backend Configuration
	cfg.Backend.BaseURL = getEnv("BACKEND_URL", "")
	cfg.Backend.Token = getEnv("BACKEND_TOKEN", "")
	cfg.Backend.Timeout = getEnvAsDuration("BACKEND_TIMEOUT", 10*time.Second)

	// Telegram Configuration
	cfg.Telegram.APIEndpoint = getEnv("TELEGRAM_API_ENDPOINT", "https://api.telegram.org/bot%s/%s")
	cfg.Telegram.Timeout = getEnvAsDuration("TELEGRAM_TIMEOUT", 10*time.Second)
	cfg.Telegram.RatePerSec = getEnvAsFloat("TELEGRAM_RATE_PER_SEC", 25)
	cfg.Telegram.RateBurst = getEnvAsInt("TELEGRAM_RATE_BURST", 5)
	cfg.Telegram.WebhookSecret = getEnv("TELEGRAM_WEBHOOK_SECRET", "")

	// Coordinator Configuration
	cfg.Coordinator.Enabled = getEnvAsBool("POLLING_ENABLED", true)
	cfg.Coordinator.InstanceID = getEnv("INSTANCE_ID", defaultInstanceID())
	cfg.Coordinator.LeaseBackend = strings.ToLower(getEnv("LEASE_BACKEND", "redis"))
	cfg.Coordinator.LeaseTTL = getEnvAsDuration("LEASE_TTL", 5*time.Second)
	cfg.Coordinator.PollInterval = getEnvAsDuration("POLL_INTERVAL", 4*time.Second)
	cfg.Coordinator.IdleInterval = getEnvAsDuration("IDLE_INTERVAL", 6*time.Second)
	cfg.Coordinator.StandbyInterval = getEnvAsDuration("STANDBY_INTERVAL", 5*time.Second)
	cfg.Coordinator.ErrorInterval = getEnvAsDuration("ERROR_INTERVAL", 15*time.Second)
	cfg.Coordinator.BroadcastInterval = getEnvAsDuration("BROADCAST_INTERVAL", 3*time.Second)
	cfg.Coordinator.BackoffBase = getEnvAsDuration("BACKOFF_BASE", 10*time.Second)
	cfg.Coordinator.BackoffMax = getEnvAsDuration("BACKOFF_MAX", 60*time.Second)

	// Flow Configuration
	cfg.Flow.ScenarioDir = getEnv("SCENARIO_DIR", "")
	cfg.Flow.SessionBackend = strings.ToLower(getEnv("SESSION_BACKEND", "redis"))
	cfg.Flow.MaxSteps = getEnvAsInt("FLOW_MAX_STEPS", 64)

	// Watchdog Configuration
	cfg.Watchdog.Enabled = getEnvAsBool("WATCHDOG_ENABLED", true)
	cfg.Watchdog.Schedule = getEnv("WATCHDOG_SCHEDULE", "*/10 * * * *")
	cfg.Watchdog.ThresholdPct = getEnvAsFloat("WATCHDOG_THRESHOLD", 70)
	cfg.Watchdog.Retention = getEnvAsDuration("MESSAGE_RETENTION", 7*24*time.Hour)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required variables and enumerations
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BACKEND_URL environment variable is required")
	}
	if c.DB.Enabled && c.DB.Password == "" {
		return fmt.Errorf("DB_PASS environment variable is required (or set DB_ENABLED=false)")
	}
	switch c.Coordinator.LeaseBackend {
	case "redis", "memory":
	default:
		return fmt.Errorf("LEASE_BACKEND must be redis or memory, got %q", c.Coordinator.LeaseBackend)
	}
	switch c.Flow.SessionBackend {
	case "redis", "backend":
	default:
		return fmt.Errorf("SESSION_BACKEND must be redis or backend, got %q", c.Flow.SessionBackend)
	}
	switch c.App.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.App.LogFormat)
	}
	if c.Coordinator.LeaseTTL <= 0 {
		return fmt.Errorf("LEASE_TTL must be positive")
	}
	if c.Flow.MaxSteps <= 0 {
		return fmt.Errorf("FLOW_MAX_STEPS must be positive")
	}
	return nil
}

// NeedsRedis reports whether any component is configured on Redis
func (c *Config) NeedsRedis() bool {
	return c.Coordinator.LeaseBackend == "redis" || c.Flow.SessionBackend == "redis"
}

// GetDSN returns MariaDB connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}

func defaultInstanceID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "instance"
	}
	return host + "-" + uuid.NewString()[:8]
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("5s") or plain milliseconds ("5000")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(value); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}
