package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Log         LogConfig
	HTTP        HTTPConfig
	Telemetry   TelemetryConfig
	Idempotency IdempotencyConfig
	Matching    MatchingConfig
	Forecast    ForecastConfig
	Aging       AgingConfig
	ReportCache ReportCacheConfig
	Storage     StorageConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string
	Port    string
	Version string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host               string
	Port               int
	User               string
	Password           string
	DBName             string
	SSLMode            string
	MaxOpenConns       int
	MaxIdleConns       int
	ConnMaxLifetime    int // in minutes
	ConnMaxIdleTime    int // in minutes
	LogLevel           string
	SlowQueryThreshold time.Duration
	MigrateOnStart     bool // apply embedded migrations before serving
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	MaxUploadSize    int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable tracing
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string
	Insecure          bool // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	LogsLevel         string
	// Database tracing options
	DBTraceEnabled    bool
	DBLogFullSQL      bool // dev only
	DBSlowQueryThresh time.Duration
}

// IdempotencyConfig selects and tunes the idempotency store
type IdempotencyConfig struct {
	Enabled        bool
	Backend        string // memory, database, redis
	TTL            time.Duration
	PurgeInterval  time.Duration
	DeriveFromBody bool
}

// MatchingConfig tunes the statement matcher
type MatchingConfig struct {
	DateToleranceDays int
	MaxSuggestions    int
}

// ForecastConfig holds forecast defaults used when a request omits a value
type ForecastConfig struct {
	Days              int
	CollectionRatePct int
	DelayDays         int
	SafetyMarginPct   int
	HistoricalDays    int
}

// AgingConfig holds receivables aging defaults
type AgingConfig struct {
	DefaultBuckets []int
}

// ReportCacheConfig tunes the aging/forecast report cache
type ReportCacheConfig struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
	RedisL2    bool
}

// StorageConfig holds object storage settings for statement attachments
type StorageConfig struct {
	Backend             string // s3, memory
	Endpoint            string
	Region              string
	Bucket              string
	AccessKeyID         string
	SecretAccessKey     string
	UsePathStyle        bool
	AttachmentRetention time.Duration
	PurgeInterval       time.Duration
	PurgeBatchSize      int
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with TREASURY_ prefix (e.g., TREASURY_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("TREASURY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true need an explicit default, zero is a valid setting
	v.SetDefault("idempotency.enabled", true)
	v.SetDefault("report_cache.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Port:    v.GetString("app.port"),
			Version: v.GetString("app.version"),
		},
		Database: DatabaseConfig{
			Host:               v.GetString("database.host"),
			Port:               v.GetInt("database.port"),
			User:               v.GetString("database.user"),
			Password:           v.GetString("database.password"),
			DBName:             v.GetString("database.dbname"),
			SSLMode:            v.GetString("database.sslmode"),
			MaxOpenConns:       v.GetInt("database.max_open_conns"),
			MaxIdleConns:       v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime:    v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime:    v.GetInt("database.conn_max_idle_time"),
			LogLevel:           v.GetString("database.log_level"),
			SlowQueryThreshold: v.GetDuration("database.slow_query_threshold"),
			MigrateOnStart:     v.GetBool("database.migrate_on_start"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			MaxUploadSize:    v.GetInt64("http.max_upload_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogsLevel:         v.GetString("telemetry.logs_level"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Idempotency: IdempotencyConfig{
			Enabled:        v.GetBool("idempotency.enabled"),
			Backend:        v.GetString("idempotency.backend"),
			TTL:            v.GetDuration("idempotency.ttl"),
			PurgeInterval:  v.GetDuration("idempotency.purge_interval"),
			DeriveFromBody: v.GetBool("idempotency.derive_from_body"),
		},
		Matching: MatchingConfig{
			DateToleranceDays: v.GetInt("matching.date_tolerance_days"),
			MaxSuggestions:    v.GetInt("matching.max_suggestions"),
		},
		Forecast: ForecastConfig{
			Days:              v.GetInt("forecast.days"),
			CollectionRatePct: v.GetInt("forecast.collection_rate_pct"),
			DelayDays:         v.GetInt("forecast.delay_days"),
			SafetyMarginPct:   v.GetInt("forecast.safety_margin_pct"),
			HistoricalDays:    v.GetInt("forecast.historical_days"),
		},
		Aging: AgingConfig{
			DefaultBuckets: v.GetIntSlice("aging.default_buckets"),
		},
		ReportCache: ReportCacheConfig{
			Enabled:    v.GetBool("report_cache.enabled"),
			TTL:        v.GetDuration("report_cache.ttl"),
			MaxEntries: v.GetInt("report_cache.max_entries"),
			RedisL2:    v.GetBool("report_cache.redis_l2"),
		},
		Storage: StorageConfig{
			Backend:             v.GetString("storage.backend"),
			Endpoint:            v.GetString("storage.endpoint"),
			Region:              v.GetString("storage.region"),
			Bucket:              v.GetString("storage.bucket"),
			AccessKeyID:         v.GetString("storage.access_key_id"),
			SecretAccessKey:     v.GetString("storage.secret_access_key"),
			UsePathStyle:        v.GetBool("storage.use_path_style"),
			AttachmentRetention: v.GetDuration("storage.attachment_retention"),
			PurgeInterval:       v.GetDuration("storage.purge_interval"),
			PurgeBatchSize:      v.GetInt("storage.purge_batch_size"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "treasury"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "treasury"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}
	if cfg.Database.SlowQueryThreshold == 0 {
		cfg.Database.SlowQueryThreshold = 200 * time.Millisecond
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 30 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxUploadSize == 0 {
		cfg.HTTP.MaxUploadSize = 6 << 20 // 5MB statement file plus form fields
	}
	// Empty CORS origins means no cross-origin requests until configured.
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "X-Request-ID", "X-Tenant-ID", "X-User-ID", "Idempotency-Key"}
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "treasury"
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Idempotency.Backend == "" {
		cfg.Idempotency.Backend = "database"
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = 24 * time.Hour
	}
	if cfg.Idempotency.PurgeInterval == 0 {
		cfg.Idempotency.PurgeInterval = time.Hour
	}
	if cfg.Matching.DateToleranceDays == 0 {
		cfg.Matching.DateToleranceDays = 3
	}
	if cfg.Matching.MaxSuggestions == 0 {
		cfg.Matching.MaxSuggestions = 3
	}
	if cfg.Forecast.Days == 0 {
		cfg.Forecast.Days = 30
	}
	if cfg.Forecast.CollectionRatePct == 0 {
		cfg.Forecast.CollectionRatePct = 100
	}
	if cfg.Forecast.HistoricalDays == 0 {
		cfg.Forecast.HistoricalDays = 30
	}
	if len(cfg.Aging.DefaultBuckets) == 0 {
		cfg.Aging.DefaultBuckets = []int{30, 60, 90, 120}
	}
	if cfg.ReportCache.TTL == 0 {
		cfg.ReportCache.TTL = 5 * time.Minute
	}
	if cfg.ReportCache.MaxEntries == 0 {
		cfg.ReportCache.MaxEntries = 1000
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "treasury-statements"
	}
	if cfg.Storage.AttachmentRetention == 0 {
		cfg.Storage.AttachmentRetention = 30 * 24 * time.Hour
	}
	if cfg.Storage.PurgeInterval == 0 {
		cfg.Storage.PurgeInterval = 6 * time.Hour
	}
	if cfg.Storage.PurgeBatchSize == 0 {
		cfg.Storage.PurgeBatchSize = 100
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	switch c.Idempotency.Backend {
	case "memory", "database", "redis":
	default:
		return fmt.Errorf("idempotency.backend must be one of memory, database, redis, got %q", c.Idempotency.Backend)
	}
	if c.Idempotency.Backend == "redis" && !c.Redis.Enabled {
		return fmt.Errorf("idempotency.backend=redis requires redis.enabled")
	}
	if c.Idempotency.TTL < time.Minute {
		return fmt.Errorf("idempotency.ttl must be at least 1m, got %s", c.Idempotency.TTL)
	}

	if c.Matching.DateToleranceDays < 0 || c.Matching.DateToleranceDays > 31 {
		return fmt.Errorf("matching.date_tolerance_days must be between 0 and 31, got %d", c.Matching.DateToleranceDays)
	}

	prev := 0
	for _, b := range c.Aging.DefaultBuckets {
		if b <= prev {
			return fmt.Errorf("aging.default_buckets must be strictly ascending positive integers")
		}
		prev = b
	}

	switch c.Storage.Backend {
	case "memory", "s3":
	default:
		return fmt.Errorf("storage.backend must be memory or s3, got %q", c.Storage.Backend)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Idempotency.Backend == "memory" {
			return fmt.Errorf("idempotency.backend cannot be 'memory' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
