// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidConfig is returned by Validate for configuration that must be rejected before any work starts.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Log           LogConfig           `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	RAG           RAGConfig           `mapstructure:"rag"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	VectorStore   VectorStoreConfig   `mapstructure:"vector_store"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Tika          TikaConfig          `mapstructure:"tika"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储会话库与 Redis 的配置。
type DatabaseConfig struct {
	Driver string      `mapstructure:"driver"` // sqlite | mysql
	DSN    string      `mapstructure:"dsn"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// RedisConfig 存储 Redis 的配置。Addr 为空表示不启用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// RAGConfig controls retrieval and context assembly.
type RAGConfig struct {
	TopK            int    `mapstructure:"top_k"`
	MaxContextChars int    `mapstructure:"max_context_chars"`
	Truncation      string `mapstructure:"truncation"` // prefix | block
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	DataDir          string        `mapstructure:"data_dir"`
	CollectionName   string        `mapstructure:"collection_name"`
	IndexPath        string        `mapstructure:"index_path"`
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkOverlap     int           `mapstructure:"chunk_overlap"`
	Workers          int           `mapstructure:"workers"`
	ReplaceChanged   bool          `mapstructure:"replace_changed"`
	PDFExtractor     string        `mapstructure:"pdf_extractor"` // native | tika
	ScheduleInterval time.Duration `mapstructure:"schedule_interval"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
}

// VectorStoreConfig selects the vector store backend.
type VectorStoreConfig struct {
	Backend     string `mapstructure:"backend"` // chromem | elasticsearch
	PersistDir  string `mapstructure:"persist_dir"`
	Compress    bool   `mapstructure:"compress"`
	Concurrency int    `mapstructure:"concurrency"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexPrefix string `mapstructure:"index_prefix"`
	Dimensions  int    `mapstructure:"dimensions"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"` // ollama | openai
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	Provider    string        `mapstructure:"provider"` // ollama | openai
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空表示不启用异步摄取。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。Endpoint 为空表示不启用。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// legacyEnv maps the flat environment names used by existing deployments onto config keys.
var legacyEnv = map[string]string{
	"rag.top_k":                "RAG_TOP_K",
	"rag.max_context_chars":    "RAG_MAX_CONTEXT_CHARS",
	"ingest.chunk_size":        "CHUNK_SIZE",
	"ingest.chunk_overlap":     "CHUNK_OVERLAP",
	"ingest.data_dir":          "INGEST_DATA_DIR",
	"ingest.collection_name":   "INGEST_COLLECTION_NAME",
	"llm.base_url":             "OLLAMA_URL",
	"llm.model":                "LLM_MODEL_NAME",
	"llm.temperature":          "LLM_TEMPERATURE",
	"llm.max_tokens":           "LLM_MAX_TOKENS",
	"embedding.model":          "EMBEDDING_MODEL_NAME",
	"vector_store.persist_dir": "CHROMA_PERSIST_DIR",
	"database.dsn":             "PRODUCT_ATLAS_DB",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/product_atlas.db")
	v.SetDefault("database.redis.addr", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("rag.top_k", 5)
	v.SetDefault("rag.max_context_chars", 8000)
	v.SetDefault("rag.truncation", "prefix")

	v.SetDefault("ingest.data_dir", "data")
	v.SetDefault("ingest.collection_name", "pm_docs")
	v.SetDefault("ingest.index_path", "data/.product_atlas_ingested.json")
	v.SetDefault("ingest.chunk_size", 800)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.replace_changed", false)
	v.SetDefault("ingest.pdf_extractor", "native")
	v.SetDefault("ingest.lock_ttl", 30*time.Minute)
	v.SetDefault("ingest.schedule_interval", time.Duration(0))

	v.SetDefault("vector_store.backend", "chromem")
	v.SetDefault("vector_store.persist_dir", "data/chroma")
	v.SetDefault("vector_store.compress", false)
	v.SetDefault("vector_store.concurrency", 4)

	v.SetDefault("elasticsearch.addresses", "http://localhost:9200")
	v.SetDefault("elasticsearch.username", "")
	v.SetDefault("elasticsearch.password", "")
	v.SetDefault("elasticsearch.index_prefix", "atlas_")
	v.SetDefault("elasticsearch.dimensions", 1024)

	v.SetDefault("embedding.provider", "ollama")
	v.SetDefault("embedding.base_url", "http://localhost:11434")
	v.SetDefault("embedding.model", "bge-m3")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.dimensions", 0)

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.base_url", "http://localhost:11434")
	v.SetDefault("llm.model", "llama3:8b")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", 2*time.Minute)
	v.SetDefault("llm.api_key", "")

	v.SetDefault("minio.endpoint", "")
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket_name", "atlas-docs")
	v.SetDefault("minio.prefix", "")

	v.SetDefault("tika.server_url", "")

	v.SetDefault("log.output_path", "")

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "atlas-ingest")
	v.SetDefault("kafka.group_id", "product-atlas-ingest")
}

// Load 读取配置：默认值 < YAML 文件 < .env / 环境变量。configPath 为空或文件不存在时仅使用默认值与环境变量。
func Load(configPath string, envFiles ...string) (*Config, error) {
	loadEnvFiles(envFiles)

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "ATLAS_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("绑定环境变量 %s 失败: %w", env, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadEnvFiles loads dotenv files without overriding variables already set in the process.
func loadEnvFiles(files []string) {
	if len(files) == 0 {
		files = []string{".env", "config/settings.env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		_ = godotenv.Load(f)
	}
}

// Validate rejects settings that would make chunking or retrieval misbehave.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("%w: chunk overlap %d must be in [0, chunk size %d)", ErrInvalidConfig, c.Ingest.ChunkOverlap, c.Ingest.ChunkSize)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("%w: top-k must be positive, got %d", ErrInvalidConfig, c.RAG.TopK)
	}
	if c.RAG.MaxContextChars <= 0 {
		return fmt.Errorf("%w: context budget must be positive, got %d", ErrInvalidConfig, c.RAG.MaxContextChars)
	}
	switch c.RAG.Truncation {
	case "prefix", "block":
	default:
		return fmt.Errorf("%w: unknown truncation strategy %q", ErrInvalidConfig, c.RAG.Truncation)
	}
	switch c.VectorStore.Backend {
	case "chromem", "elasticsearch":
	default:
		return fmt.Errorf("%w: unknown vector store backend %q", ErrInvalidConfig, c.VectorStore.Backend)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}
	switch c.Ingest.PDFExtractor {
	case "native", "tika":
	default:
		return fmt.Errorf("%w: unknown pdf extractor %q", ErrInvalidConfig, c.Ingest.PDFExtractor)
	}
	if c.Ingest.PDFExtractor == "tika" && c.Tika.ServerURL == "" {
		return fmt.Errorf("%w: tika.server_url is required for the tika pdf extractor", ErrInvalidConfig)
	}
	if c.Ingest.Workers <= 0 {
		c.Ingest.Workers = 1
	}
	return nil
}
