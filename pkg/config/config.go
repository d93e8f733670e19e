package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Workspace string       `json:"workspace" env:"DOCMEM_WORKSPACE"`
	Model     ModelConfig  `json:"model"`
	Redis     RedisConfig  `json:"redis"`
	Vector    VectorConfig `json:"vector"`
	Memory    MemoryConfig `json:"memory"`
}

type ModelConfig struct {
	MaxContextTokens int `json:"max_context_tokens" env:"DOCMEM_MODEL_MAX_CONTEXT_TOKENS"`
}

type RedisConfig struct {
	Addr       string `json:"addr" env:"DOCMEM_REDIS_ADDR"`
	Password   string `json:"password" env:"DOCMEM_REDIS_PASSWORD"`
	DB         int    `json:"db" env:"DOCMEM_REDIS_DB"`
	Namespace  string `json:"namespace" env:"DOCMEM_REDIS_NAMESPACE"`
	TTLSeconds int    `json:"ttl_seconds" env:"DOCMEM_REDIS_TTL_SECONDS"`
}

type VectorConfig struct {
	// Backend selects "local" (embedded sqlite index) or "qdrant".
	Backend      string `json:"backend" env:"DOCMEM_VECTOR_BACKEND"`
	QdrantURL    string `json:"qdrant_url" env:"DOCMEM_VECTOR_QDRANT_URL"`
	QdrantAPIKey string `json:"qdrant_api_key" env:"DOCMEM_VECTOR_QDRANT_API_KEY"`
	Collection   string `json:"collection" env:"DOCMEM_VECTOR_COLLECTION"`
	VectorSize   int    `json:"vector_size" env:"DOCMEM_VECTOR_SIZE"`
}

type MemoryConfig struct {
	PerChatCap         int     `json:"per_chat_cap" env:"DOCMEM_MEMORY_PER_CHAT_CAP"`
	TopK               int     `json:"top_k" env:"DOCMEM_MEMORY_TOP_K"`
	ScoreThreshold     float64 `json:"score_threshold" env:"DOCMEM_MEMORY_SCORE_THRESHOLD"`
	SummarizeThreshold int     `json:"summarize_threshold" env:"DOCMEM_MEMORY_SUMMARIZE_THRESHOLD"`
	BootstrapAfter     int     `json:"bootstrap_after" env:"DOCMEM_MEMORY_BOOTSTRAP_AFTER"`
	MaxSummaryChars    int     `json:"max_summary_chars" env:"DOCMEM_MEMORY_MAX_SUMMARY_CHARS"`
	OverallTimeoutMS   int     `json:"overall_timeout_ms" env:"DOCMEM_MEMORY_OVERALL_TIMEOUT_MS"`
	SyncSchedule       string  `json:"sync_schedule" env:"DOCMEM_MEMORY_SYNC_SCHEDULE"`
}

func DefaultConfig() *Config {
	return &Config{
		Workspace: "~/.docmem",
		Model: ModelConfig{
			MaxContextTokens: 8192,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			Namespace: "docmem",
		},
		Vector: VectorConfig{
			Backend:    "local",
			QdrantURL:  "http://localhost:6333",
			Collection: "docmem_exchanges",
			VectorSize: 384,
		},
		Memory: MemoryConfig{
			PerChatCap:         100,
			TopK:               5,
			ScoreThreshold:     0.6,
			SummarizeThreshold: 8,
			BootstrapAfter:     20,
			MaxSummaryChars:    2000,
			OverallTimeoutMS:   3000,
			SyncSchedule:       "* * * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	return expandHome(c.Workspace)
}

func (c *Config) ArchivePath() string {
	return filepath.Join(c.WorkspacePath(), "state", "archive.db")
}

func (c *Config) VectorPath() string {
	return filepath.Join(c.WorkspacePath(), "state", "vectors.db")
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
