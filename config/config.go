// Package config loads process configuration from defaults, an optional
// config file, a .env file and ASKPDF_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Index     IndexConfig     `mapstructure:"index"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	MinIO     MinIOConfig     `mapstructure:"minio"`
	Loader    LoaderConfig    `mapstructure:"loader"`
}

type ServerConfig struct {
	Addr        string `mapstructure:"addr" validate:"required"`
	BodyLimitMB int    `mapstructure:"body_limit_mb" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output"`
}

type IndexConfig struct {
	Handle  string `mapstructure:"handle" validate:"required"`
	TopK    int    `mapstructure:"top_k" validate:"gt=0"`
	Backend string `mapstructure:"backend" validate:"oneof=file postgres redis minio"`
	Dir     string `mapstructure:"dir"`
}

type ChunkerConfig struct {
	Size    int `mapstructure:"size" validate:"gt=0"`
	Overlap int `mapstructure:"overlap" validate:"gte=0,ltfield=Size"`
}

type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider" validate:"oneof=gemini openai ollama"`
	Model     string        `mapstructure:"model" validate:"required"`
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	BatchSize int           `mapstructure:"batch_size" validate:"gt=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gt=0"`
	RateLimit float64       `mapstructure:"rate_limit" validate:"gte=0"`
}

type LLMConfig struct {
	Provider         string        `mapstructure:"provider" validate:"oneof=gemini openai ollama"`
	Model            string        `mapstructure:"model" validate:"required"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Temperature      float32       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	Timeout          time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxContextTokens int           `mapstructure:"max_context_tokens" validate:"gt=0"`
}

type PipelineConfig struct {
	IngestTimeout time.Duration `mapstructure:"ingest_timeout" validate:"gt=0"`
	AskTimeout    time.Duration `mapstructure:"ask_timeout" validate:"gt=0"`
}

type ExtractorConfig struct {
	CropTop    float64 `mapstructure:"crop_top" validate:"gte=0"`
	CropBottom float64 `mapstructure:"crop_bottom" validate:"gte=0"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN renders the connection string the way pgx expects it.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// LoaderConfig drives the watch-folder daemon. Every batch rebuilds Handle in
// full from the archive, so an index written by the loader must not also be
// written by uploads from another process: the writer lock is per process and
// the last rebuild wins. Handle defaults to index.handle.
type LoaderConfig struct {
	Handle         string        `mapstructure:"handle"`
	SourceDir      string        `mapstructure:"source_dir" validate:"required"`
	ArchiveDir     string        `mapstructure:"archive_dir" validate:"required"`
	BadDir         string        `mapstructure:"bad_dir" validate:"required"`
	MonitoringTime time.Duration `mapstructure:"monitoring_time" validate:"gt=0"`
	PollInterval   time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
}

// LoaderHandle is the index handle the loader rebuilds.
func (c *Config) LoaderHandle() string {
	if c.Loader.Handle != "" {
		return c.Loader.Handle
	}
	return c.Index.Handle
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.body_limit_mb", 50)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("index.handle", "uploaded_vectors")
	v.SetDefault("index.top_k", 4)
	v.SetDefault("index.backend", "file")
	v.SetDefault("index.dir", "vectors")

	v.SetDefault("chunker.size", 10000)
	v.SetDefault("chunker.overlap", 1000)

	v.SetDefault("embedding.provider", "gemini")
	v.SetDefault("embedding.model", "embedding-001")
	v.SetDefault("embedding.base_url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.timeout", 30*time.Second)
	v.SetDefault("embedding.rate_limit", 0)

	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_context_tokens", 6000)

	v.SetDefault("pipeline.ingest_timeout", 10*time.Minute)
	v.SetDefault("pipeline.ask_timeout", 90*time.Second)

	v.SetDefault("extractor.crop_top", 0)
	v.SetDefault("extractor.crop_bottom", 0)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "askpdf")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "askpdf:index:")

	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.access_key", "")
	v.SetDefault("minio.secret_key", "")
	v.SetDefault("minio.bucket", "askpdf-indexes")
	v.SetDefault("minio.use_ssl", false)

	v.SetDefault("loader.handle", "")
	v.SetDefault("loader.source_dir", "data/inbox")
	v.SetDefault("loader.archive_dir", "data/archive")
	v.SetDefault("loader.bad_dir", "data/bad")
	v.SetDefault("loader.monitoring_time", 5*time.Second)
	v.SetDefault("loader.poll_interval", time.Second)
}

// Load reads configuration. configFile may be empty; a missing .env file is
// not an error.
func Load(configFile string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ASKPDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyKeyFallbacks(v, &cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyKeyFallbacks picks provider keys from their conventional variables
// when no ASKPDF_ key is set.
func applyKeyFallbacks(v *viper.Viper, cfg *Config) {
	_ = v.BindEnv("google_api_key", "GOOGLE_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("openai_api_key", "OPENAI_API_KEY")

	fallback := func(provider string) string {
		switch provider {
		case "gemini":
			return v.GetString("google_api_key")
		case "openai":
			return v.GetString("openai_api_key")
		}
		return ""
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = fallback(cfg.Embedding.Provider)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = fallback(cfg.LLM.Provider)
	}
}

var validate = validator.New()

func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return err
		}
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}
