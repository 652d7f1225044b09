// Package config は tavern.yaml と環境変数から実行時の設定を組み立てます。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sat8bit/tavern/bot"
	"github.com/sat8bit/tavern/configs"
	"github.com/sat8bit/tavern/llm"
	"github.com/sat8bit/tavern/session"
	"github.com/sat8bit/tavern/turn"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	LLM       LLMConfig       `yaml:"llm"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// CacheSize が 0 より大きければ、読み取りを LRU でキャッシュします。
	CacheSize int `yaml:"cache_size"`
}

type LLMConfig struct {
	Backend        string  `yaml:"backend"`
	APIKey         string  `yaml:"api_key"`
	Project        string  `yaml:"project"`
	Location       string  `yaml:"location"`
	Model          string  `yaml:"model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
}

type RetrievalConfig struct {
	ChunkSize    int  `yaml:"chunk_size"`
	ChunkOverlap int  `yaml:"chunk_overlap"`
	TopK         int  `yaml:"top_k"`
	ReuseIndex   bool `yaml:"reuse_index"`
	// IndexCacheSize は再利用する索引の最大セッション数です。
	IndexCacheSize int `yaml:"index_cache_size"`
}

type SessionConfig struct {
	KeyMode string `yaml:"key_mode"`
	Lock    string `yaml:"lock"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Load は path の YAML を読み込みます。path が空なら埋め込みの tavern.yaml を使います。
// その後 .env（あれば）と環境変数で秘密情報や接続先を上書きします。
func Load(path string) (*Config, error) {
	data := configs.Tavern
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		data = b
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}
	return Parse(data, os.Getenv)
}

// Parse は YAML を読み込み、getenv で上書きし、既定値を補ってから検証します。
func Parse(data []byte, getenv func(string) string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.applyEnv(getenv)
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("GEMINI_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := getenv("PROJECT_ID"); v != "" {
		c.LLM.Project = v
	}
	if v := getenv("LOCATION"); v != "" {
		c.LLM.Location = v
	}
	if v := getenv("TAVERN_LLM_BACKEND"); v != "" {
		c.LLM.Backend = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		c.Store.DSN = v
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			c.Store.Driver = DriverPostgres
		}
	}
	if v := getenv("TAVERN_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := getenv("TAVERN_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("TAVERN_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverMemory
	}
	if c.Store.CacheSize < 0 {
		c.Store.CacheSize = 0
	}
	if c.LLM.Backend == "" {
		c.LLM.Backend = BackendGemini
	}
	if c.LLM.Model == "" {
		c.LLM.Model = bot.DefaultConfig.Model
	}
	if c.LLM.Location == "" {
		c.LLM.Location = "us-central1"
	}
	if c.Retrieval.ChunkSize <= 0 {
		c.Retrieval.ChunkSize = 1000
		if c.Retrieval.ChunkOverlap <= 0 {
			c.Retrieval.ChunkOverlap = 200
		}
	}
	if c.Retrieval.ChunkOverlap < 0 {
		c.Retrieval.ChunkOverlap = 0
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 4
	}
	if c.Retrieval.IndexCacheSize <= 0 {
		c.Retrieval.IndexCacheSize = 64
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB <= 0 {
		c.Log.MaxSizeMB = 20
	}
	if c.Log.MaxBackups < 0 {
		c.Log.MaxBackups = 0
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if strings.TrimSpace(c.Store.DSN) == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver: %s", c.Store.Driver)
	}

	switch c.LLM.Backend {
	case BackendGemini:
	case BackendVertex:
		if c.LLM.Project == "" {
			return fmt.Errorf("llm.project (or PROJECT_ID) is required for the vertex backend")
		}
	default:
		return fmt.Errorf("unknown llm.backend: %s", c.LLM.Backend)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be within [0, 2], got %v", c.LLM.Temperature)
	}

	if c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval.chunk_overlap (%d) must be smaller than chunk_size (%d)",
			c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
	}

	if _, err := session.ParseMode(c.Session.KeyMode); err != nil {
		return fmt.Errorf("session.key_mode: %w", err)
	}
	if _, err := turn.ParsePolicy(c.Session.Lock); err != nil {
		return fmt.Errorf("session.lock: %w", err)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel は log.level を slog.Level に変換します。
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return level, nil
}

// KeyMode は検証済みの session.key_mode です。
func (c *Config) KeyMode() session.Mode {
	m, _ := session.ParseMode(c.Session.KeyMode)
	return m
}

// LockPolicy は検証済みの session.lock です。
func (c *Config) LockPolicy() turn.Policy {
	p, _ := turn.ParsePolicy(c.Session.Lock)
	return p
}

// GeminiOptions は llm.NewGemini に渡す接続設定です。
// gemini バックエンドでは PROJECT_ID が設定されていても Vertex AI は使いません。
func (c *Config) GeminiOptions() llm.GeminiOptions {
	opts := llm.GeminiOptions{
		APIKey:         c.LLM.APIKey,
		EmbeddingModel: c.LLM.EmbeddingModel,
	}
	if c.LLM.Backend == BackendVertex {
		opts.Project = c.LLM.Project
		opts.Location = c.LLM.Location
	}
	return opts
}

// BotDefaults はボット作成時に補う既定の設定です。
func (c *Config) BotDefaults() bot.Config {
	return bot.Config{Model: c.LLM.Model, Temperature: c.LLM.Temperature}
}
