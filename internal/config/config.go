// Package config loads pipeline configuration from defaults, an optional
// YAML file, and environment variables, in that precedence order.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete configuration for both the pipeline (coordinator +
// orchestrator) process and a connector process.
type Config struct {
	Service     ServiceConfig           `mapstructure:"service"`
	Database    DatabaseConfig          `mapstructure:"database"`
	Redis       RedisConfig             `mapstructure:"redis"`
	Storage     StorageConfig           `mapstructure:"storage"`
	Embedding   EmbeddingConfig         `mapstructure:"embedding"`
	Batch       BatchConfig             `mapstructure:"batch"`
	Security    SecurityConfig          `mapstructure:"security"`
	Coordinator CoordinatorConfig       `mapstructure:"coordinator"`
	Sources     map[string]SourceConfig `mapstructure:"sources"`
	QueueNotify QueueNotifyConfig       `mapstructure:"queue_notify"`
}

// SourceConfig is one configured source: which connector drives it (by
// source type) and the connector-specific settings passed through verbatim.
type SourceConfig struct {
	SourceType string                 `mapstructure:"source_type"`
	TenantID   string                 `mapstructure:"tenant_id"`
	Settings   map[string]interface{} `mapstructure:"settings"`
	FullSync   bool                   `mapstructure:"scheduled_full_sync"`
}

// ServiceConfig contains process-level settings.
type ServiceConfig struct {
	Port            int           `mapstructure:"port"`
	MetricsPort     int           `mapstructure:"metrics_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DatabaseConfig contains the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	MaxConns     int    `mapstructure:"max_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig contains Redis connection settings, used for the sync-lock.
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
}

// StorageConfig selects and configures the content/object storage backends.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"` // "object_store" | "relational"
	BucketName string `mapstructure:"bucket_name"`
	Region     string `mapstructure:"region"`
	Endpoint   string `mapstructure:"endpoint"` // non-empty to target an S3-compatible endpoint
}

// QueueNotifyConfig configures the best-effort SQS fan-out published
// alongside each durable enqueue; empty QueueURL disables it.
type QueueNotifyConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `mapstructure:"provider"` // "remote_batch" | "openai_compatible"
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	EnableBatch    bool   `mapstructure:"enable_batch_inference"`
}

// BatchConfig tunes the orchestrator's accumulation and monitoring loops.
type BatchConfig struct {
	MinDocuments              int           `mapstructure:"min_documents"`
	MaxDocuments              int           `mapstructure:"max_documents"`
	AccumulationTimeout       time.Duration `mapstructure:"accumulation_timeout"`
	AccumulationPollInterval  time.Duration `mapstructure:"accumulation_poll_interval"`
	MonitorPollInterval       time.Duration `mapstructure:"monitor_poll_interval"`
	ChunkMode                 string        `mapstructure:"chunk_mode"` // "fixed" | "sentence" | "semantic"
	ChunkMaxChars             int           `mapstructure:"chunk_max_chars"`
	CheckpointInterval        int           `mapstructure:"checkpoint_interval"`
}

// SecurityConfig carries the master key used to derive per-source credential
// encryption keys and the signing secret for connector callback tokens.
type SecurityConfig struct {
	MasterKeyBase64   string `mapstructure:"master_key"`
	CallbackJWTSecret string `mapstructure:"callback_jwt_secret"`
}

// CoordinatorConfig tunes the sync coordinator's scheduling and per-source defaults.
type CoordinatorConfig struct {
	FullSyncCron       string        `mapstructure:"full_sync_cron"`
	CallbackTokenTTL   time.Duration `mapstructure:"callback_token_ttl"`
	CheckpointInterval int           `mapstructure:"checkpoint_interval"`
}

// Load reads configuration from built-in defaults, ./configs/pipeline.yaml
// (if present), and environment variables, in that increasing precedence,
// and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("pipeline")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/configs")

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service.metrics_port", 9094)
	v.SetDefault("service.shutdown_timeout", "30s")
	v.SetDefault("service.log_level", "info")

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("storage.backend", "object_store")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("embedding.provider", "openai_compatible")
	v.SetDefault("embedding.dimensions", 1536)
	v.SetDefault("embedding.enable_batch_inference", true)

	v.SetDefault("batch.min_documents", 10)
	v.SetDefault("batch.max_documents", 100)
	v.SetDefault("batch.accumulation_timeout", "5m")
	v.SetDefault("batch.accumulation_poll_interval", "10s")
	v.SetDefault("batch.monitor_poll_interval", "30s")
	v.SetDefault("batch.chunk_mode", "sentence")
	v.SetDefault("batch.chunk_max_chars", 1000)
	v.SetDefault("batch.checkpoint_interval", 50)

	v.SetDefault("coordinator.full_sync_cron", "0 3 * * *")
	v.SetDefault("coordinator.callback_token_ttl", "1h")
	v.SetDefault("coordinator.checkpoint_interval", 50)
}

func bindEnvVars(v *viper.Viper) {
	v.AutomaticEnv()

	_ = v.BindEnv("service.port", "PORT")
	_ = v.BindEnv("service.metrics_port", "METRICS_PORT")
	_ = v.BindEnv("service.log_level", "LOG_LEVEL")

	_ = v.BindEnv("database.url", "DATABASE_URL")

	_ = v.BindEnv("redis.address", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	_ = v.BindEnv("storage.backend", "STORAGE_BACKEND")
	_ = v.BindEnv("storage.bucket_name", "OBJECT_STORE_BUCKET")
	_ = v.BindEnv("storage.region", "OBJECT_STORE_REGION")
	_ = v.BindEnv("storage.endpoint", "OBJECT_STORE_ENDPOINT")

	_ = v.BindEnv("embedding.provider", "EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.endpoint", "EMBEDDING_ENDPOINT")
	_ = v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	_ = v.BindEnv("embedding.model", "EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.dimensions", "EMBEDDING_DIMENSIONS")
	_ = v.BindEnv("embedding.enable_batch_inference", "ENABLE_EMBEDDING_BATCH_INFERENCE")

	_ = v.BindEnv("batch.min_documents", "EMBEDDING_BATCH_MIN_DOCUMENTS")
	_ = v.BindEnv("batch.max_documents", "EMBEDDING_BATCH_MAX_DOCUMENTS")
	_ = v.BindEnv("batch.accumulation_timeout", "EMBEDDING_BATCH_ACCUMULATION_TIMEOUT_SECONDS")
	_ = v.BindEnv("batch.accumulation_poll_interval", "EMBEDDING_BATCH_ACCUMULATION_POLL_INTERVAL")
	_ = v.BindEnv("batch.monitor_poll_interval", "EMBEDDING_BATCH_MONITOR_POLL_INTERVAL")

	_ = v.BindEnv("security.master_key", "RAG_MASTER_KEY")
	_ = v.BindEnv("security.callback_jwt_secret", "CALLBACK_JWT_SECRET")

	_ = v.BindEnv("queue_notify.queue_url", "EMBEDDING_QUEUE_NOTIFY_SQS_URL")
	_ = v.BindEnv("queue_notify.region", "EMBEDDING_QUEUE_NOTIFY_SQS_REGION")

	_ = v.BindEnv("coordinator.full_sync_cron", "COORDINATOR_FULL_SYNC_CRON")
}

// validate enforces fatal-at-startup configuration errors: a missing or
// invalid PORT before the scheduler loops start.
func validate(cfg *Config) error {
	if cfg.Service.Port <= 0 || cfg.Service.Port > 65535 {
		return fmt.Errorf("PORT must be set to a value in 1..65535, got %d", cfg.Service.Port)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if _, err := url.Parse(cfg.Database.URL); err != nil {
		return fmt.Errorf("DATABASE_URL is not a valid URL: %w", err)
	}
	switch cfg.Storage.Backend {
	case "object_store", "relational":
	default:
		return fmt.Errorf("STORAGE_BACKEND must be object_store or relational, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Backend == "object_store" && cfg.Storage.BucketName == "" {
		return fmt.Errorf("OBJECT_STORE_BUCKET is required when STORAGE_BACKEND=object_store")
	}
	if cfg.Batch.MinDocuments <= 0 || cfg.Batch.MaxDocuments < cfg.Batch.MinDocuments {
		return fmt.Errorf("batch min/max documents misconfigured: min=%d max=%d", cfg.Batch.MinDocuments, cfg.Batch.MaxDocuments)
	}
	return nil
}

// mustEnv returns the value of the environment variable key, or an error when
// it is unset or empty.
func mustEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return v, nil
}
