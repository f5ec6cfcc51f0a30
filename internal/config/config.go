package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "CongoShop"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultCurrency          = "NGN"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultTxTimeout         = 10 * time.Second
	defaultPriceCacheTTL     = 5 * time.Minute
	defaultSweepInterval     = 5 * time.Minute
	defaultSweepStaleAfter   = 30 * time.Minute
	defaultNotifyQueueSize   = 1024
	defaultKafkaTopic        = "shop.notifications"
	defaultCheckoutPerMinute = 10
)

// Notification backends.
const (
	NotifyLog   = "log"
	NotifyRedis = "redis"
	NotifyKafka = "kafka"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName               string
	AppEnv                string
	Port                  string
	LogLevel              string
	DatabaseURL           string
	RedisURL              string
	ShutdownPeriod        time.Duration
	IdempotencyTTL        time.Duration
	TxTimeout             time.Duration
	JWTSecret             string
	WebhookSecret         string
	DeliveryWebhookSecret string
	Currency              string
	NotifyBackend         string
	NotifyQueueSize       int
	KafkaBrokers          []string
	KafkaTopic            string
	PriceCacheTTL         time.Duration
	SweepInterval         time.Duration
	SweepStaleAfter       time.Duration
	CheckoutPerMinute     int
	// CatalogSeed is a JSON product and location file served by the
	// in-memory catalog when no database is configured.
	CatalogSeed           string
}

// Load reads configuration values from the environment and populates a Config instance.
// Durations accept NAME_SECONDS as an integer or NAME as a Go duration string.
func Load() (Config, error) {
	cfg := Config{
		AppName:       getEnv("APP_NAME", defaultAppName),
		AppEnv:        getEnv("APP_ENV", defaultAppEnv),
		Port:          getEnv("PORT", defaultPort),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
		Currency:      strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
		NotifyBackend: strings.ToLower(getEnv("NOTIFY_BACKEND", NotifyLog)),
		KafkaBrokers:  splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		CatalogSeed:   os.Getenv("CATALOG_SEED"),
	}
	cfg.DeliveryWebhookSecret = getEnv("DELIVERY_WEBHOOK_SECRET", cfg.WebhookSecret)

	var err error
	durations := []struct {
		name     string
		dst      *time.Duration
		fallback time.Duration
	}{
		{"SHUTDOWN_TIMEOUT", &cfg.ShutdownPeriod, defaultShutdownDelay},
		{"IDEMPOTENCY_TTL", &cfg.IdempotencyTTL, defaultIdempotencyTTL},
		{"TX_TIMEOUT", &cfg.TxTimeout, defaultTxTimeout},
		{"PRICE_CACHE_TTL", &cfg.PriceCacheTTL, defaultPriceCacheTTL},
		{"SWEEP_INTERVAL", &cfg.SweepInterval, defaultSweepInterval},
		{"SWEEP_STALE_AFTER", &cfg.SweepStaleAfter, defaultSweepStaleAfter},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.name, d.fallback); err != nil {
			return Config{}, err
		}
	}
	if cfg.NotifyQueueSize, err = getInt("NOTIFY_QUEUE_SIZE", defaultNotifyQueueSize); err != nil {
		return Config{}, err
	}
	if cfg.CheckoutPerMinute, err = getInt("CHECKOUT_RATE_LIMIT", defaultCheckoutPerMinute); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.NotifyBackend {
	case NotifyLog:
	case NotifyRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("NOTIFY_BACKEND=redis requires REDIS_URL")
		}
	case NotifyKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("NOTIFY_BACKEND=kafka requires KAFKA_BROKERS")
		}
	default:
		return fmt.Errorf("invalid NOTIFY_BACKEND %q", c.NotifyBackend)
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("invalid CURRENCY %q", c.Currency)
	}

	if c.IsDev() {
		return nil
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.WebhookSecret == "" {
		return fmt.Errorf("WEBHOOK_SECRET must be set")
	}
	return nil
}

// IsDev reports whether the app runs in a local development environment,
// where Postgres and Redis are optional and in-memory backends stand in.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(name + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", name, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}
	return fallback, nil
}

func getInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func splitList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
