package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the filings orchestrator.
type Config struct {
	General  GeneralConfig  `mapstructure:"general"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Provider ProviderConfig `mapstructure:"provider"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Storage  StorageConfig  `mapstructure:"storage"`
}

// GeneralConfig contains process-level settings.
type GeneralConfig struct {
	Listen    string `mapstructure:"listen"`
	LogLevel  string `mapstructure:"log_level"`
	UserAgent string `mapstructure:"user_agent"`
}

// StorageConfig configures the local blob store standing in for an object
// storage SDK (see DESIGN.md's "Cloud storage" section for why).
type StorageConfig struct {
	BlobDir string `mapstructure:"blob_dir"`
}

// DatabaseConfig describes how to reach Postgres.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig describes how to reach the Redis instance backing the
// staleness-recovery advisory lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProviderConfig configures the model providers used for embedding,
// chat completion and structured extraction.
type ProviderConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig holds OpenAI-compatible provider settings.
type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	ChatModel         string        `mapstructure:"chat_model"`
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	ExtractionModel   string        `mapstructure:"extraction_model"`
	Temperature       float64       `mapstructure:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// PipelineConfig carries the ingestion/retrieval tunables.
type PipelineConfig struct {
	ChunkSize                int           `mapstructure:"chunk_size"`
	ChunkOverlap             int           `mapstructure:"chunk_overlap"`
	MaxChunksPerPage         int           `mapstructure:"max_chunks_per_page"`
	EmbeddingDimension       int           `mapstructure:"embedding_dimension"`
	KNNk                     int           `mapstructure:"knn_k"`
	KeepAliveInterval        time.Duration `mapstructure:"keep_alive_interval"`
	StaleJobThreshold        time.Duration `mapstructure:"stale_job_threshold"`
	MaxRetries               int           `mapstructure:"max_retries"`
	ScrapeTimeout            time.Duration `mapstructure:"scrape_timeout"`
	GenerateSnapshotOnResume string        `mapstructure:"generate_snapshot_on_resume"` // "always" | "if_absent"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.listen", ":8080")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.user_agent", "filings-orchestrator/1.0")

	v.SetDefault("storage.blob_dir", "./data/blobs")

	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.migrations_path", "file://migrations")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("provider.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("provider.openai.chat_model", "gpt-4o-mini")
	v.SetDefault("provider.openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("provider.openai.extraction_model", "gpt-4o-mini")
	v.SetDefault("provider.openai.temperature", 0.2)
	v.SetDefault("provider.openai.max_tokens", 2000)
	v.SetDefault("provider.openai.timeout", 60*time.Second)
	v.SetDefault("provider.openai.requests_per_second", 3.0)

	v.SetDefault("pipeline.chunk_size", 400)
	v.SetDefault("pipeline.chunk_overlap", 80)
	v.SetDefault("pipeline.max_chunks_per_page", 10)
	v.SetDefault("pipeline.embedding_dimension", 1536)
	v.SetDefault("pipeline.knn_k", 10)
	v.SetDefault("pipeline.keep_alive_interval", 30*time.Second)
	v.SetDefault("pipeline.stale_job_threshold", 5*time.Minute)
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.scrape_timeout", 30*time.Second)
	v.SetDefault("pipeline.generate_snapshot_on_resume", "always")
}

// LoadConfig reads configuration from an optional file at path, then layers
// environment variables on top (FILINGS_DATABASE_URL, FILINGS_REDIS_ADDR, ...).
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("filings")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	// Keys without a default are unknown to AutomaticEnv during Unmarshal,
	// so bind them explicitly for their FILINGS_* variables to apply.
	for _, key := range []string{"database.url", "redis.password", "provider.openai.api_key"} {
		_ = v.BindEnv(key)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the handful of settings that have no sane default.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (or FILINGS_DATABASE_URL)")
	}
	if c.Pipeline.EmbeddingDimension <= 0 {
		return fmt.Errorf("pipeline.embedding_dimension must be positive")
	}
	switch c.Pipeline.GenerateSnapshotOnResume {
	case "always", "if_absent":
	default:
		return fmt.Errorf("pipeline.generate_snapshot_on_resume must be 'always' or 'if_absent', got %q", c.Pipeline.GenerateSnapshotOnResume)
	}
	return nil
}
