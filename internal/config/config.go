package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vaidashi/lavender-orders/internal/pricing"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

type Config struct {
	Port      int             `yaml:"port"`
	LogLevel  string          `yaml:"log_level"`
	Env       string          `yaml:"env"`
	Storage   string          `yaml:"storage"`
	DB        DBConfig        `yaml:"db"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Stripe    StripeConfig    `yaml:"stripe"`
	Pricing   pricing.Rates   `yaml:"pricing"`
	Auth      AuthConfig      `yaml:"auth"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Breaker   BreakerConfig   `yaml:"breaker"`
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// KafkaConfig holds the broker settings for order events
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	OrdersTopic   string   `yaml:"orders_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`
}

// RedisConfig holds the catalog cache settings. An empty Addr disables caching.
type RedisConfig struct {
	Addr       string        `yaml:"addr"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	CatalogTTL time.Duration `yaml:"catalog_ttl"`
}

// StripeConfig holds the payment and catalog provider settings
type StripeConfig struct {
	SecretKey   string `yaml:"secret_key"`
	Currency    string `yaml:"currency"`
	CategoryKey string `yaml:"category_key"`
}

// AuthConfig holds the admin session settings
type AuthConfig struct {
	// AdminPasswordHash is a bcrypt hash; AdminPassword is hashed at startup when no hash is set
	AdminPasswordHash string        `yaml:"admin_password_hash"`
	AdminPassword     string        `yaml:"admin_password"`
	SessionSecret     string        `yaml:"session_secret"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	CookieSecure      bool          `yaml:"cookie_secure"`
}

// OutboxConfig holds the event delivery settings
type OutboxConfig struct {
	PollingInterval    time.Duration `yaml:"polling_interval"`
	BatchSize          int           `yaml:"batch_size"`
	MaxRetries         int           `yaml:"max_retries"`
	DLQPollingInterval time.Duration `yaml:"dlq_polling_interval"`
	DLQBatchSize       int           `yaml:"dlq_batch_size"`
	DLQMaxRetries      int           `yaml:"dlq_max_retries"`
}

// SMTPConfig holds the notification mail settings. An empty Host logs notifications instead.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// RateLimitConfig holds the per-client request limits
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// BreakerConfig holds the circuit breaker settings shared by outbound calls
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// Default returns the configuration used when nothing else is set
func Default() *Config {
	return &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",
		Storage:  StoragePostgres,
		DB: DBConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Name:     "lavender_orders",
			SSLMode:  "disable",
		},
		Kafka: KafkaConfig{
			Enabled:       false,
			Brokers:       []string{"localhost:9092"},
			OrdersTopic:   "orders",
			ConsumerGroup: "lavender-orders-notifier",
		},
		Redis: RedisConfig{
			CatalogTTL: 5 * time.Minute,
		},
		Stripe: StripeConfig{
			Currency:    "usd",
			CategoryKey: "category",
		},
		Pricing: pricing.DefaultRates(),
		Auth: AuthConfig{
			SessionTTL: 12 * time.Hour,
		},
		Outbox: OutboxConfig{
			PollingInterval:    5 * time.Second,
			BatchSize:          10,
			MaxRetries:         3,
			DLQPollingInterval: 30 * time.Second,
			DLQBatchSize:       5,
			DLQMaxRetries:      5,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: 30 * time.Second,
		},
	}
}

// getEnv retrieves the value of an environment variable or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}

	v, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvList(key string, defaultValue []string) []string {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// LoadFile overlays a YAML file onto cfg
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if any, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var err error

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Storage = strings.ToLower(getEnv("STORAGE_DRIVER", cfg.Storage))

	cfg.DB.Host = getEnv("DB_HOST", cfg.DB.Host)
	cfg.DB.User = getEnv("DB_USER", cfg.DB.User)
	cfg.DB.Password = getEnv("DB_PASSWORD", cfg.DB.Password)
	cfg.DB.Name = getEnv("DB_NAME", cfg.DB.Name)
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", cfg.DB.SSLMode)

	cfg.Kafka.Brokers = getEnvList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.OrdersTopic = getEnv("KAFKA_ORDERS_TOPIC", cfg.Kafka.OrdersTopic)
	cfg.Kafka.ConsumerGroup = getEnv("KAFKA_CONSUMER_GROUP", cfg.Kafka.ConsumerGroup)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)

	cfg.Stripe.SecretKey = getEnv("STRIPE_SECRET_KEY", cfg.Stripe.SecretKey)
	cfg.Stripe.Currency = getEnv("STRIPE_CURRENCY", cfg.Stripe.Currency)
	cfg.Stripe.CategoryKey = getEnv("STRIPE_CATEGORY_KEY", cfg.Stripe.CategoryKey)

	cfg.Auth.AdminPasswordHash = getEnv("ADMIN_PASSWORD_HASH", cfg.Auth.AdminPasswordHash)
	cfg.Auth.AdminPassword = getEnv("ADMIN_PASSWORD", cfg.Auth.AdminPassword)
	cfg.Auth.SessionSecret = getEnv("SESSION_SECRET", cfg.Auth.SessionSecret)

	cfg.SMTP.Host = getEnv("SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Username = getEnv("SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getEnv("SMTP_PASSWORD", cfg.SMTP.Password)
	cfg.SMTP.From = getEnv("SMTP_FROM", cfg.SMTP.From)

	if cfg.Port, err = getEnvInt("PORT", cfg.Port); err != nil {
		return err
	}
	if cfg.DB.Port, err = getEnvInt("DB_PORT", cfg.DB.Port); err != nil {
		return err
	}
	if cfg.Kafka.Enabled, err = getEnvBool("KAFKA_ENABLED", cfg.Kafka.Enabled); err != nil {
		return err
	}
	if cfg.Redis.DB, err = getEnvInt("REDIS_DB", cfg.Redis.DB); err != nil {
		return err
	}
	if cfg.Redis.CatalogTTL, err = getEnvDuration("CATALOG_CACHE_TTL", cfg.Redis.CatalogTTL); err != nil {
		return err
	}
	if cfg.Pricing.BaseShippingCents, err = getEnvInt64("SHIPPING_BASE_CENTS", cfg.Pricing.BaseShippingCents); err != nil {
		return err
	}
	if cfg.Pricing.PerAdditionalUnitCents, err = getEnvInt64("SHIPPING_PER_ADDITIONAL_UNIT_CENTS", cfg.Pricing.PerAdditionalUnitCents); err != nil {
		return err
	}
	if cfg.Pricing.FreeShippingThresholdCents, err = getEnvInt64("FREE_SHIPPING_THRESHOLD_CENTS", cfg.Pricing.FreeShippingThresholdCents); err != nil {
		return err
	}
	if cfg.Pricing.TaxRateBps, err = getEnvInt64("TAX_RATE_BPS", cfg.Pricing.TaxRateBps); err != nil {
		return err
	}
	if cfg.Auth.SessionTTL, err = getEnvDuration("SESSION_TTL", cfg.Auth.SessionTTL); err != nil {
		return err
	}
	if cfg.Auth.CookieSecure, err = getEnvBool("SESSION_COOKIE_SECURE", cfg.Auth.CookieSecure); err != nil {
		return err
	}
	if cfg.Outbox.PollingInterval, err = getEnvDuration("OUTBOX_POLLING_INTERVAL", cfg.Outbox.PollingInterval); err != nil {
		return err
	}
	if cfg.Outbox.MaxRetries, err = getEnvInt("OUTBOX_MAX_RETRIES", cfg.Outbox.MaxRetries); err != nil {
		return err
	}
	if cfg.SMTP.Port, err = getEnvInt("SMTP_PORT", cfg.SMTP.Port); err != nil {
		return err
	}
	if cfg.RateLimit.RequestsPerSecond, err = getEnvFloat("RATE_LIMIT_RPS", cfg.RateLimit.RequestsPerSecond); err != nil {
		return err
	}
	if cfg.RateLimit.Burst, err = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst); err != nil {
		return err
	}

	return nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return fmt.Errorf("invalid storage driver %q", c.Storage)
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}

	p := c.Pricing
	if p.BaseShippingCents < 0 || p.PerAdditionalUnitCents < 0 || p.FreeShippingThresholdCents < 0 || p.TaxRateBps < 0 {
		return fmt.Errorf("pricing rates must not be negative")
	}

	if c.Outbox.BatchSize <= 0 || c.Outbox.PollingInterval <= 0 {
		return fmt.Errorf("outbox batch size and polling interval must be positive")
	}

	if c.IsProduction() && c.Auth.SessionSecret == "" {
		return fmt.Errorf("SESSION_SECRET is required in production")
	}

	return nil
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}
