package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Rate limit storage backends.
const (
	RateLimitBackendPostgres = "postgres"
	RateLimitBackendRedis    = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	CORS        CORSConfig
	Log         LogConfig
	Payments    PaymentsConfig
	RateLimit   RateLimitConfig
	Idempotency IdempotencyConfig
	Scheduler   SchedulerConfig
	Transfers   TransfersConfig
	Receipt     ReceiptConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	CacheTTL time.Duration
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// PaymentsConfig tunes the payment request lifecycle.
type PaymentsConfig struct {
	RequestTTL         time.Duration
	DisplayTTL         time.Duration
	TransferGrace      time.Duration
	UniqueCodeMax      int
	UniqueCodeAttempts int
	CreateRetries      int
	SystemActor        string
}

// RateLimitConfig selects the counter store used by the rate limiter.
type RateLimitConfig struct {
	Enabled bool
	Backend string
}

// IdempotencyConfig controls result retention for deduplicated operations.
type IdempotencyConfig struct {
	TTL    time.Duration
	Bucket time.Duration
}

// SchedulerConfig drives the cron sweeps.
type SchedulerConfig struct {
	Enabled             bool
	ExpireSweepCron     string
	ScholarshipSyncCron string
	HousekeepingCron    string
	JobTimeout          time.Duration
}

// TransfersConfig configures intake of detected bank transfers.
type TransfersConfig struct {
	Workers      int
	Retries      int
	SharedSecret string
}

// ReceiptConfig customises rendered payment receipts.
type ReceiptConfig struct {
	SchoolName string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("REDIS_ENABLED"),
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		CacheTTL: parseDuration(v.GetString("REDIS_CACHE_TTL"), 10*time.Minute),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Payments = PaymentsConfig{
		RequestTTL:         parseDuration(v.GetString("PAYMENT_REQUEST_TTL"), 10*time.Minute),
		DisplayTTL:         parseDuration(v.GetString("PAYMENT_DISPLAY_TTL"), 5*time.Minute),
		TransferGrace:      parseDuration(v.GetString("PAYMENT_TRANSFER_GRACE"), 2*time.Minute),
		UniqueCodeMax:      positiveInt(v.GetInt("PAYMENT_UNIQUE_CODE_MAX"), 999),
		UniqueCodeAttempts: positiveInt(v.GetInt("PAYMENT_UNIQUE_CODE_ATTEMPTS"), 50),
		CreateRetries:      positiveInt(v.GetInt("PAYMENT_CREATE_RETRIES"), 3),
		SystemActor:        v.GetString("PAYMENT_SYSTEM_ACTOR"),
	}
	if cfg.Payments.DisplayTTL > cfg.Payments.RequestTTL {
		cfg.Payments.DisplayTTL = cfg.Payments.RequestTTL
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("RATE_LIMIT_BACKEND")))
	if backend != RateLimitBackendRedis {
		backend = RateLimitBackendPostgres
	}
	cfg.RateLimit = RateLimitConfig{
		Enabled: v.GetBool("RATE_LIMIT_ENABLED"),
		Backend: backend,
	}

	cfg.Idempotency = IdempotencyConfig{
		TTL:    parseDuration(v.GetString("IDEMPOTENCY_TTL"), 24*time.Hour),
		Bucket: parseDuration(v.GetString("IDEMPOTENCY_BUCKET"), time.Minute),
	}

	cfg.Scheduler = SchedulerConfig{
		Enabled:             v.GetBool("ENABLE_SCHEDULER"),
		ExpireSweepCron:     v.GetString("EXPIRE_SWEEP_CRON"),
		ScholarshipSyncCron: v.GetString("SCHOLARSHIP_SYNC_CRON"),
		HousekeepingCron:    v.GetString("HOUSEKEEPING_CRON"),
		JobTimeout:          parseDuration(v.GetString("SCHEDULER_JOB_TIMEOUT"), 4*time.Minute),
	}

	cfg.Transfers = TransfersConfig{
		Workers:      positiveInt(v.GetInt("TRANSFER_WORKERS"), 2),
		Retries:      positiveInt(v.GetInt("TRANSFER_RETRIES"), 3),
		SharedSecret: v.GetString("TRANSFER_SHARED_SECRET"),
	}

	cfg.Receipt = ReceiptConfig{SchoolName: v.GetString("RECEIPT_SCHOOL_NAME")}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_tuition")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_CACHE_TTL", "10m")

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "sma-tuition-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("PAYMENT_REQUEST_TTL", "10m")
	v.SetDefault("PAYMENT_DISPLAY_TTL", "5m")
	v.SetDefault("PAYMENT_TRANSFER_GRACE", "2m")
	v.SetDefault("PAYMENT_UNIQUE_CODE_MAX", 999)
	v.SetDefault("PAYMENT_UNIQUE_CODE_ATTEMPTS", 50)
	v.SetDefault("PAYMENT_CREATE_RETRIES", 3)
	v.SetDefault("PAYMENT_SYSTEM_ACTOR", "SYSTEM")

	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_BACKEND", RateLimitBackendPostgres)

	v.SetDefault("IDEMPOTENCY_TTL", "24h")
	v.SetDefault("IDEMPOTENCY_BUCKET", "1m")

	v.SetDefault("ENABLE_SCHEDULER", true)
	v.SetDefault("EXPIRE_SWEEP_CRON", "@every 1m")
	v.SetDefault("SCHOLARSHIP_SYNC_CRON", "0 2 * * *")
	v.SetDefault("HOUSEKEEPING_CRON", "@every 15m")
	v.SetDefault("SCHEDULER_JOB_TIMEOUT", "4m")

	v.SetDefault("TRANSFER_WORKERS", 2)
	v.SetDefault("TRANSFER_RETRIES", 3)
	v.SetDefault("TRANSFER_SHARED_SECRET", "dev_transfer_secret")

	v.SetDefault("RECEIPT_SCHOOL_NAME", "SMA ADP")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
