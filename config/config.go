// Package config loads docqa settings from defaults, an optional YAML file and the
// environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Paths        PathsConfig        `yaml:"paths"`
	Models       ModelsConfig       `yaml:"models"`
	Indexing     IndexingConfig     `yaml:"indexing"`
	VectorStore  VectorStoreConfig  `yaml:"vector_store"`
	Conversation ConversationConfig `yaml:"conversation"`
	Session      SessionConfig      `yaml:"session"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig configures the HTTP listener and its mounts.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           string        `yaml:"port" validate:"required,numeric"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	FrontendDir    string        `yaml:"frontend_dir"`
	MaxUploadMB    int64         `yaml:"max_upload_mb" validate:"gt=0"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// PathsConfig lists the on-disk directories the service owns.
type PathsConfig struct {
	TempDir        string `yaml:"temp_dir" validate:"required"`
	VectorCacheDir string `yaml:"vector_cache_dir" validate:"required"`
	HistoryDir     string `yaml:"history_dir" validate:"required"`
}

// ModelsConfig holds provider endpoints. Credentials arrive per request.
type ModelsConfig struct {
	OllamaURL       string `yaml:"ollama_url"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	DeepSeekBaseURL string `yaml:"deepseek_base_url"`
	MaxRetries      int    `yaml:"max_retries" validate:"gte=0"`
}

// IndexingConfig controls chunking.
type IndexingConfig struct {
	ChunkSize    int `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
}

// VectorStoreConfig selects where chunk embeddings live.
type VectorStoreConfig struct {
	Backend     string `yaml:"backend" validate:"oneof=local chroma pgvector"`
	ChromaURL   string `yaml:"chroma_url" validate:"required_if=Backend chroma"`
	PgvectorURL string `yaml:"pgvector_url" validate:"required_if=Backend pgvector"`
}

// ConversationConfig configures the pipeline and where its checkpoints are kept.
type ConversationConfig struct {
	ThreadID      string        `yaml:"thread_id" validate:"required"`
	TopK          int           `yaml:"top_k" validate:"gt=0"`
	Store         string        `yaml:"store" validate:"oneof=memory file sqlite redis postgres"`
	FileDir       string        `yaml:"file_dir" validate:"required_if=Store file"`
	SqlitePath    string        `yaml:"sqlite_path" validate:"required_if=Store sqlite"`
	RedisAddr     string        `yaml:"redis_addr" validate:"required_if=Store redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
	PostgresURL   string        `yaml:"postgres_url" validate:"required_if=Store postgres"`
}

// SessionConfig controls the session registry.
type SessionConfig struct {
	// IdleTTL evicts idle sessions; zero keeps them for the process lifetime.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           "8000",
			AllowedOrigins: []string{"http://localhost:3000", "http://127.0.0.1:8000"},
			FrontendDir:    filepath.Join("frontend", "out"),
			MaxUploadMB:    50,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   5 * time.Minute,
		},
		Paths: PathsConfig{
			TempDir:        filepath.Join("files", "Temp"),
			VectorCacheDir: filepath.Join("files", "VectorCache"),
			HistoryDir:     filepath.Join("files", "HistoryDocs"),
		},
		Models: ModelsConfig{
			OllamaURL:       "http://localhost:11434",
			DeepSeekBaseURL: "https://api.deepseek.com/v1",
			MaxRetries:      2,
		},
		Indexing: IndexingConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		VectorStore: VectorStoreConfig{
			Backend: "local",
		},
		Conversation: ConversationConfig{
			ThreadID: "1",
			TopK:     3,
			Store:    "memory",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error; an
// unreadable or invalid one is. Environment variables win over the file.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EnsureDirs creates the temp, vector cache and history directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Paths.TempDir, c.Paths.VectorCacheDir, c.Paths.HistoryDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Host, "DOCQA_HOST")
	setString(&cfg.Server.Port, "DOCQA_PORT")
	setString(&cfg.Server.FrontendDir, "DOCQA_FRONTEND_DIR")
	if v := os.Getenv("DOCQA_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}

	setString(&cfg.Paths.TempDir, "DOCQA_TEMP_DIR")
	setString(&cfg.Paths.VectorCacheDir, "DOCQA_VECTOR_CACHE_DIR")
	setString(&cfg.Paths.HistoryDir, "DOCQA_HISTORY_DIR")

	setString(&cfg.Models.OllamaURL, "OLLAMA_HOST")
	setString(&cfg.Models.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Models.DeepSeekBaseURL, "DEEPSEEK_BASE_URL")

	setString(&cfg.VectorStore.Backend, "DOCQA_VECTOR_BACKEND")
	setString(&cfg.VectorStore.ChromaURL, "DOCQA_CHROMA_URL")
	setString(&cfg.VectorStore.PgvectorURL, "DOCQA_PGVECTOR_URL")

	setString(&cfg.Conversation.Store, "DOCQA_CONVERSATION_STORE")
	setString(&cfg.Conversation.RedisAddr, "DOCQA_REDIS_ADDR")
	setString(&cfg.Conversation.RedisPassword, "DOCQA_REDIS_PASSWORD")
	setString(&cfg.Conversation.PostgresURL, "DOCQA_POSTGRES_URL")
	setString(&cfg.Conversation.SqlitePath, "DOCQA_SQLITE_PATH")
	setString(&cfg.Conversation.FileDir, "DOCQA_CHECKPOINT_DIR")
	if v, err := strconv.Atoi(os.Getenv("DOCQA_TOP_K")); err == nil {
		cfg.Conversation.TopK = v
	}

	setString(&cfg.Log.Level, "DOCQA_LOG_LEVEL")
	setString(&cfg.Log.File, "DOCQA_LOG_FILE")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
