package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Counter store backends
const (
	CounterStoreMemory = "memory"
	CounterStoreRedis  = "redis"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Defense  DefenseConfig
	Redis    RedisConfig
	Alerts   AlertsConfig
	Payments PaymentsConfig
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
	ConnectTimeout    time.Duration
	RunMigrations     bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	BcryptCost        int
	LoginBaseDelay    time.Duration
	LoginRandomDelay  time.Duration
	AdminEmail        string
	AdminPassword     string
}

// DefenseConfig tunes the rate limiter, login tracker, replay detector and event monitor
type DefenseConfig struct {
	CounterStore string

	// Progressive rate limiting
	RateLimitBase        time.Duration
	RateLimitMultiplier  float64
	RateLimitCap         time.Duration
	SuspiciousFactor     int
	SuspiciousRetryAfter time.Duration
	RateLimitFailClosed  bool
	MemoryHighWaterMark  int

	// Per-category allowances per RateLimitWindow
	RateLimitWindow    time.Duration
	LoginLimit         int
	PaymentCreateLimit int
	PaymentVerifyLimit int
	WebhookLimit       int
	ProductsLimit      int

	// Coarse httprate limits, requests per minute
	AuthRequestsPerMinute  int
	AdminRequestsPerMinute int

	// Login tracker
	LoginWindow       time.Duration
	LoginMaxAttempts  int
	LoginLockDuration time.Duration

	ReplayWindow time.Duration

	// Event monitor
	EventBufferSize   int
	CorrelationWindow time.Duration
	EventThreshold    int
	EndpointThreshold int
	AutoBlockDuration time.Duration

	// Cleanup
	CleanupInterval time.Duration
	BlockRetention  time.Duration
	EventRetention  time.Duration
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string
	Timeout   time.Duration
}

// AlertsConfig selects where critical security events are sent. Empty values disable a channel.
type AlertsConfig struct {
	SESRegion     string
	SESFrom       string
	SESRecipients []string
	NATSURL       string
	NATSSubject   string
	NotifyTimeout time.Duration
}

type PaymentsConfig struct {
	KeySecret     string
	WebhookSecret string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "storeguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 5*time.Second),
			RunMigrations:     getEnvAsBool("DB_RUN_MIGRATIONS", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			BcryptCost:        getEnvAsInt("BCRYPT_COST", 12),
			LoginBaseDelay:    getEnvAsDuration("LOGIN_BASE_DELAY", 250*time.Millisecond),
			LoginRandomDelay:  getEnvAsDuration("LOGIN_RANDOM_DELAY", 100*time.Millisecond),
			AdminEmail:        getEnv("ADMIN_EMAIL", ""),
			AdminPassword:     getEnv("ADMIN_PASSWORD", ""),
		},
		Defense: DefenseConfig{
			CounterStore:           strings.ToLower(getEnv("COUNTER_STORE", CounterStoreMemory)),
			RateLimitBase:          getEnvAsDuration("RATE_LIMIT_BASE", 60*time.Second),
			RateLimitMultiplier:    getEnvAsFloat("RATE_LIMIT_MULTIPLIER", 3),
			RateLimitCap:           getEnvAsDuration("RATE_LIMIT_CAP", time.Hour),
			SuspiciousFactor:       getEnvAsInt("RATE_LIMIT_SUSPICIOUS_FACTOR", 3),
			SuspiciousRetryAfter:   getEnvAsDuration("RATE_LIMIT_SUSPICIOUS_RETRY_AFTER", time.Hour),
			RateLimitFailClosed:    getEnvAsBool("RATE_LIMIT_FAIL_CLOSED", false),
			MemoryHighWaterMark:    getEnvAsInt("MEMORY_STORE_HIGH_WATER_MARK", 10000),
			RateLimitWindow:        getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			LoginLimit:             getEnvAsInt("RATE_LIMIT_LOGIN", 5),
			PaymentCreateLimit:     getEnvAsInt("RATE_LIMIT_PAYMENT_CREATE", 10),
			PaymentVerifyLimit:     getEnvAsInt("RATE_LIMIT_PAYMENT_VERIFY", 10),
			WebhookLimit:           getEnvAsInt("RATE_LIMIT_WEBHOOK", 100),
			ProductsLimit:          getEnvAsInt("RATE_LIMIT_PRODUCTS", 30),
			AuthRequestsPerMinute:  getEnvAsInt("AUTH_REQUESTS_PER_MINUTE", 10),
			AdminRequestsPerMinute: getEnvAsInt("ADMIN_REQUESTS_PER_MINUTE", 120),
			LoginWindow:            getEnvAsDuration("LOGIN_ATTEMPT_WINDOW", 30*time.Minute),
			LoginMaxAttempts:       getEnvAsInt("LOGIN_MAX_ATTEMPTS", 5),
			LoginLockDuration:      getEnvAsDuration("LOGIN_LOCK_DURATION", 15*time.Minute),
			ReplayWindow:           getEnvAsDuration("REPLAY_WINDOW", 10*time.Second),
			EventBufferSize:        getEnvAsInt("EVENT_BUFFER_SIZE", 1000),
			CorrelationWindow:      getEnvAsDuration("EVENT_CORRELATION_WINDOW", 5*time.Minute),
			EventThreshold:         getEnvAsInt("EVENT_THRESHOLD", 10),
			EndpointThreshold:      getEnvAsInt("EVENT_ENDPOINT_THRESHOLD", 5),
			AutoBlockDuration:      getEnvAsDuration("AUTO_BLOCK_DURATION", 24*time.Hour),
			CleanupInterval:        getEnvAsDuration("CLEANUP_INTERVAL", time.Hour),
			BlockRetention:         getEnvAsDuration("BLOCK_RETENTION", 30*24*time.Hour),
			EventRetention:         getEnvAsDuration("EVENT_RETENTION", 90*24*time.Hour),
		},
		Redis: RedisConfig{
			Address:   getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "storeguard:"),
			Timeout:   getEnvAsDuration("REDIS_TIMEOUT", 2*time.Second),
		},
		Alerts: AlertsConfig{
			SESRegion:     getEnv("ALERT_SES_REGION", ""),
			SESFrom:       getEnv("ALERT_SES_FROM", ""),
			SESRecipients: getEnvAsList("ALERT_SES_RECIPIENTS"),
			NATSURL:       getEnv("ALERT_NATS_URL", ""),
			NATSSubject:   getEnv("ALERT_NATS_SUBJECT", "storeguard.security.critical"),
			NotifyTimeout: getEnvAsDuration("ALERT_TIMEOUT", 10*time.Second),
		},
		Payments: PaymentsConfig{
			KeySecret:     getEnv("PAYMENT_KEY_SECRET", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}
	if err := validatePaymentSecrets(cfg.Payments, env); err != nil {
		return nil, err
	}
	if err := cfg.Defense.validate(cfg.Redis); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the server runs with production defaults
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	// Check against common weak secrets
	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// validatePaymentSecrets requires both HMAC secrets in production. Outside
// production they may be empty, in which case every signature check fails.
func validatePaymentSecrets(p PaymentsConfig, env string) error {
	secrets := []struct {
		name  string
		value string
	}{
		{"PAYMENT_KEY_SECRET", p.KeySecret},
		{"PAYMENT_WEBHOOK_SECRET", p.WebhookSecret},
	}
	for _, s := range secrets {
		if s.value == "" {
			if env == "production" {
				return fmt.Errorf("%s is required in production", s.name)
			}
			continue
		}
		if len(s.value) < 16 {
			return fmt.Errorf("%s must be at least 16 characters (got %d)", s.name, len(s.value))
		}
	}
	return nil
}

func (d *DefenseConfig) validate(redis RedisConfig) error {
	switch d.CounterStore {
	case CounterStoreMemory:
	case CounterStoreRedis:
		if redis.Address == "" {
			return fmt.Errorf("REDIS_ADDR is required when COUNTER_STORE=redis")
		}
	default:
		return fmt.Errorf("COUNTER_STORE must be %q or %q (got %q)", CounterStoreMemory, CounterStoreRedis, d.CounterStore)
	}

	if d.RateLimitBase <= 0 {
		return fmt.Errorf("RATE_LIMIT_BASE must be positive")
	}
	if d.RateLimitMultiplier < 1 {
		return fmt.Errorf("RATE_LIMIT_MULTIPLIER must be at least 1 (got %v)", d.RateLimitMultiplier)
	}
	if d.RateLimitCap < d.RateLimitBase {
		return fmt.Errorf("RATE_LIMIT_CAP must not be below RATE_LIMIT_BASE")
	}
	if d.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}
	limits := map[string]int{
		"RATE_LIMIT_LOGIN":          d.LoginLimit,
		"RATE_LIMIT_PAYMENT_CREATE": d.PaymentCreateLimit,
		"RATE_LIMIT_PAYMENT_VERIFY": d.PaymentVerifyLimit,
		"RATE_LIMIT_WEBHOOK":        d.WebhookLimit,
		"RATE_LIMIT_PRODUCTS":       d.ProductsLimit,
		"LOGIN_MAX_ATTEMPTS":        d.LoginMaxAttempts,
		"EVENT_THRESHOLD":           d.EventThreshold,
		"EVENT_ENDPOINT_THRESHOLD":  d.EndpointThreshold,
	}
	for name, v := range limits {
		if v <= 0 {
			return fmt.Errorf("%s must be positive (got %d)", name, v)
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

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma-separated variable, dropping empty items
func getEnvAsList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS") // Default to no origins in production
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
