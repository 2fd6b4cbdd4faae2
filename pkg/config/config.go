package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	WhatsApp   WhatsAppConfig
	Scheduling SchedulingConfig
	RateLimit  RateLimitConfig
	Dispatcher DispatcherConfig
	Throttle   ThrottleConfig
	OTEL       OTELConfig
	Log        LogConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	StorageDriver  string // "postgres" or "memory"
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// WhatsAppConfig selects and configures the outbound WhatsApp bridge
type WhatsAppConfig struct {
	Provider string // evolution, cloud, web, log

	EvolutionURL      string
	EvolutionAPIKey   string
	EvolutionInstance string

	CloudAccessToken   string
	CloudPhoneNumberID string
	CloudBaseURL       string

	WebDataDir string

	// DefaultAccountID is the sender account used when a community has none configured.
	DefaultAccountID string
	RequestTimeout   time.Duration
}

// SchedulingConfig holds availability defaults
type SchedulingConfig struct {
	Timezone    string
	SlotMinutes int
}

// TierPolicy is the env-provided default for one account tier.
type TierPolicy struct {
	MinDelay   time.Duration
	MaxPerHour int
	MaxPerDay  int
}

// RateLimitConfig holds notification throttling defaults; rows in
// rate_limit_policies override them at runtime.
type RateLimitConfig struct {
	New              TierPolicy
	Established      TierPolicy
	NewAccountAge    time.Duration
	IntelligentDelay bool
	DelayMin         time.Duration
	DelayMax         time.Duration
	SendLogBackend   string // memory or redis
}

// DispatcherConfig holds queue drain settings
type DispatcherConfig struct {
	Enabled     bool
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	BridgeRPS   float64
	BridgeBurst int
	LeaseTTL    time.Duration
}

// ThrottleConfig limits booking requests per caller
type ThrottleConfig struct {
	RPS   float64
	Burst int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// LogConfig holds logger settings
type LogConfig struct {
	Level       string
	Environment string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			StorageDriver:  getEnv("STORAGE_DRIVER", "postgres"),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "metacircle"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		WhatsApp: WhatsAppConfig{
			Provider:           getEnv("WHATSAPP_PROVIDER", "log"),
			EvolutionURL:       getEnv("EVOLUTION_API_URL", "http://localhost:8081"),
			EvolutionAPIKey:    getEnv("EVOLUTION_API_KEY", ""),
			EvolutionInstance:  getEnv("EVOLUTION_INSTANCE", "metacircle"),
			CloudAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
			CloudPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
			CloudBaseURL:       getEnv("WHATSAPP_CLOUD_BASE_URL", "https://graph.facebook.com/v18.0"),
			WebDataDir:         getEnv("WHATSAPP_DATA_DIR", "data"),
			DefaultAccountID:   getEnv("WHATSAPP_DEFAULT_ACCOUNT", "default"),
			RequestTimeout:     getEnvAsDuration("WHATSAPP_TIMEOUT", 30*time.Second),
		},
		Scheduling: SchedulingConfig{
			Timezone:    getEnv("SCHEDULING_TIMEZONE", "America/Sao_Paulo"),
			SlotMinutes: getEnvAsInt("SCHEDULING_SLOT_MINUTES", 60),
		},
		RateLimit: RateLimitConfig{
			New: TierPolicy{
				MinDelay:   getEnvAsDuration("RATE_NEW_MIN_DELAY", 60*time.Second),
				MaxPerHour: getEnvAsInt("RATE_NEW_MAX_PER_HOUR", 10),
				MaxPerDay:  getEnvAsInt("RATE_NEW_MAX_PER_DAY", 50),
			},
			Established: TierPolicy{
				MinDelay:   getEnvAsDuration("RATE_ESTABLISHED_MIN_DELAY", 20*time.Second),
				MaxPerHour: getEnvAsInt("RATE_ESTABLISHED_MAX_PER_HOUR", 30),
				MaxPerDay:  getEnvAsInt("RATE_ESTABLISHED_MAX_PER_DAY", 300),
			},
			NewAccountAge:    getEnvAsDuration("RATE_NEW_ACCOUNT_AGE", 14*24*time.Hour),
			IntelligentDelay: getEnvAsBool("RATE_INTELLIGENT_DELAY", false),
			DelayMin:         getEnvAsDuration("RATE_DELAY_MIN", 15*time.Second),
			DelayMax:         getEnvAsDuration("RATE_DELAY_MAX", 45*time.Second),
			SendLogBackend:   getEnv("RATE_SEND_LOG_BACKEND", "memory"),
		},
		Dispatcher: DispatcherConfig{
			Enabled:     getEnvAsBool("DISPATCHER_ENABLED", true),
			Interval:    getEnvAsDuration("NOTIFY_DRAIN_INTERVAL", 5*time.Second),
			BatchSize:   getEnvAsInt("NOTIFY_BATCH_SIZE", 20),
			MaxAttempts: getEnvAsInt("NOTIFY_MAX_ATTEMPTS", 5),
			BackoffBase: getEnvAsDuration("NOTIFY_BACKOFF_BASE", 30*time.Second),
			BridgeRPS:   getEnvAsFloat("NOTIFY_BRIDGE_RPS", 2),
			BridgeBurst: getEnvAsInt("NOTIFY_BRIDGE_BURST", 1),
			LeaseTTL:    getEnvAsDuration("NOTIFY_LEASE_TTL", 2*time.Minute),
		},
		Throttle: ThrottleConfig{
			RPS:   getEnvAsFloat("BOOKING_THROTTLE_RPS", 1),
			Burst: getEnvAsInt("BOOKING_THROTTLE_BURST", 5),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "metacircle-scheduling"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
		Log: LogConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Environment: getEnv("APP_ENV", "development"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Location resolves Timezone
func (c SchedulingConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULING_TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate rejects settings the scheduler and rate limiter cannot honour.
func (c *Config) Validate() error {
	if _, err := c.Scheduling.Location(); err != nil {
		return err
	}
	if c.Scheduling.SlotMinutes <= 0 || c.Scheduling.SlotMinutes > 24*60 {
		return fmt.Errorf("SCHEDULING_SLOT_MINUTES must be between 1 and 1440, got %d", c.Scheduling.SlotMinutes)
	}
	for name, tier := range map[string]TierPolicy{"new": c.RateLimit.New, "established": c.RateLimit.Established} {
		if tier.MinDelay < 0 || tier.MaxPerHour < 0 || tier.MaxPerDay < 0 {
			return fmt.Errorf("rate limit tier %s has negative values", name)
		}
	}
	if c.RateLimit.DelayMin < 0 || c.RateLimit.DelayMin > c.RateLimit.DelayMax {
		return fmt.Errorf("RATE_DELAY_MIN (%s) must be between 0 and RATE_DELAY_MAX (%s)", c.RateLimit.DelayMin, c.RateLimit.DelayMax)
	}
	switch c.Server.StorageDriver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.Server.StorageDriver)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

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
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
