// Package config provides configuration management for Recall.
// It loads settings from environment variables with the RECALL_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration settings for the Recall application.
type Config struct {
	Server     ServerConfig
	Storage    StorageConfig
	Graph      GraphConfig
	KV         KVConfig
	Vault      VaultConfig
	LLM        LLMConfig
	Limits     LimitsConfig
	Budget     BudgetConfig
	Processing ProcessingConfig
	Sync       SyncConfig
}

// ServerConfig contains HTTP capture-surface configuration.
type ServerConfig struct {
	Port int    // Capture server port (default: 6364)
	Host string // Capture server host (default: 127.0.0.1)
}

// StorageConfig contains relational store configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresDSN   string // Postgres connection string (used when engine=postgres)
	UploadDir     string // Staging directory for uploaded files (default: ./data/uploads)
}

// GraphConfig contains Neo4j graph store configuration.
type GraphConfig struct {
	URI      string // bolt/neo4j URI; empty disables the graph store
	User     string // default: neo4j
	Password string
	Database string // default database when empty
	Timeout  time.Duration
}

// KVConfig contains Redis configuration for queues, cache, and sync state.
type KVConfig struct {
	Addr     string // host:port; empty disables Redis-backed features
	Password string
	DB       int
}

// VaultConfig contains note-vault configuration.
type VaultConfig struct {
	Path         string // Vault root directory (RECALL_VAULT_PATH)
	TaxonomyPath string // Tag taxonomy YAML file
	TaxonomyTTL  time.Duration
}

// LLMConfig contains provider and per-operation model configuration.
type LLMConfig struct {
	Provider       string // openai-compatible provider (default: openai)
	APIKey         string
	BaseURL        string // default: https://api.openai.com
	TextModel      string // default model for text operations
	VisionModel    string // model for OCR/vision operations
	EmbeddingModel string // model for embeddings
	Timeout        time.Duration
}

// LimitsConfig contains size and concurrency caps.
type LimitsConfig struct {
	MaxFileSizeBytes int64         // per-upload cap (default: 100 MiB)
	BookConcurrency  int           // concurrent page OCR for book batches (default: 5)
	HTTPTimeout      time.Duration // default outbound HTTP timeout (default: 30s)
	TitleProbeTimeout time.Duration // page-title probe timeout (default: 10s)
	RepoFileCap      int           // max files listed from a source repo (default: 200)
}

// SyncConfig contains external-source sync configuration. Empty tokens
// disable the corresponding sync.
type SyncConfig struct {
	RaindropToken    string        // Raindrop.io API token
	GitHubToken      string        // GitHub token for private repos (optional)
	BookmarkInterval time.Duration // periodic bookmark sync; 0 disables the timer
}

// BudgetConfig contains LLM spend budget configuration.
type BudgetConfig struct {
	MonthlyLimitUSD float64 // 0 disables budget checks
}

// ProcessingConfig contains orchestrator and task-runner tuning.
type ProcessingConfig struct {
	MaxRetries      int           // retryable-stage retry cap (default: 3)
	RetryBaseDelay  time.Duration // exponential backoff base (default: 2s)
	RetryMaxDelay   time.Duration // backoff ceiling (default: 30s)
	DeleteCardsOnReprocess bool   // default false: preserve review history
	Workers         int           // task-runner workers per process (default: 2)
	ConnectionTopK  int           // connection-discovery candidates (default: 5)
	ConnectionMinScore float64    // vector-search threshold (default: 0.7)
	GenerateQuestions bool        // mastery questions stage (default: true)
	GenerateFollowups bool        // follow-up suggestions stage (default: true)
}

// Load builds a Config from environment variables with defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnvInt("RECALL_PORT", 6364),
			Host: getEnv("RECALL_HOST", "127.0.0.1"),
		},
		Storage: StorageConfig{
			StorageEngine: getEnv("RECALL_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("RECALL_DATA_PATH", "./data"),
			PostgresDSN:   getEnv("RECALL_POSTGRES_DSN", ""),
			UploadDir:     getEnv("RECALL_UPLOAD_DIR", "./data/uploads"),
		},
		Graph: GraphConfig{
			URI:      getEnv("RECALL_NEO4J_URI", ""),
			User:     getEnv("RECALL_NEO4J_USER", "neo4j"),
			Password: getEnv("RECALL_NEO4J_PASSWORD", ""),
			Database: getEnv("RECALL_NEO4J_DATABASE", ""),
			Timeout:  getEnvDuration("RECALL_NEO4J_TIMEOUT", 10*time.Second),
		},
		KV: KVConfig{
			Addr:     getEnv("RECALL_REDIS_ADDR", ""),
			Password: getEnv("RECALL_REDIS_PASSWORD", ""),
			DB:       getEnvInt("RECALL_REDIS_DB", 0),
		},
		Vault: VaultConfig{
			Path:         getEnv("RECALL_VAULT_PATH", "./vault"),
			TaxonomyPath: getEnv("RECALL_TAXONOMY_PATH", "./config/taxonomy.yaml"),
			TaxonomyTTL:  getEnvDuration("RECALL_TAXONOMY_TTL", 5*time.Minute),
		},
		LLM: LLMConfig{
			Provider:       getEnv("RECALL_LLM_PROVIDER", "openai"),
			APIKey:         getEnv("RECALL_LLM_API_KEY", ""),
			BaseURL:        getEnv("RECALL_LLM_BASE_URL", "https://api.openai.com"),
			TextModel:      getEnv("RECALL_LLM_TEXT_MODEL", "gpt-4o-mini"),
			VisionModel:    getEnv("RECALL_LLM_VISION_MODEL", "gpt-4o"),
			EmbeddingModel: getEnv("RECALL_LLM_EMBEDDING_MODEL", "text-embedding-3-small"),
			Timeout:        getEnvDuration("RECALL_LLM_TIMEOUT", 60*time.Second),
		},
		Limits: LimitsConfig{
			MaxFileSizeBytes:  getEnvInt64("RECALL_MAX_FILE_SIZE", 100<<20),
			BookConcurrency:   getEnvInt("RECALL_BOOK_CONCURRENCY", 5),
			HTTPTimeout:       getEnvDuration("RECALL_HTTP_TIMEOUT", 30*time.Second),
			TitleProbeTimeout: getEnvDuration("RECALL_TITLE_PROBE_TIMEOUT", 10*time.Second),
			RepoFileCap:       getEnvInt("RECALL_REPO_FILE_CAP", 200),
		},
		Budget: BudgetConfig{
			MonthlyLimitUSD: getEnvFloat("RECALL_BUDGET_MONTHLY_USD", 0),
		},
		Processing: ProcessingConfig{
			MaxRetries:             getEnvInt("RECALL_PROCESSING_MAX_RETRIES", 3),
			RetryBaseDelay:         getEnvDuration("RECALL_PROCESSING_RETRY_BASE", 2*time.Second),
			RetryMaxDelay:          getEnvDuration("RECALL_PROCESSING_RETRY_MAX", 30*time.Second),
			DeleteCardsOnReprocess: getEnvBool("RECALL_DELETE_CARDS_ON_REPROCESS", false),
			Workers:                getEnvInt("RECALL_WORKERS", 2),
			ConnectionTopK:         getEnvInt("RECALL_CONNECTION_TOP_K", 5),
			ConnectionMinScore:     getEnvFloat("RECALL_CONNECTION_MIN_SCORE", 0.7),
			GenerateQuestions:      getEnvBool("RECALL_GENERATE_QUESTIONS", true),
			GenerateFollowups:      getEnvBool("RECALL_GENERATE_FOLLOWUPS", true),
		},
		Sync: SyncConfig{
			RaindropToken:    getEnv("RECALL_RAINDROP_TOKEN", ""),
			GitHubToken:      getEnv("RECALL_GITHUB_TOKEN", ""),
			BookmarkInterval: getEnvDuration("RECALL_BOOKMARK_SYNC_INTERVAL", 0),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer environment variable or returns a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (Go syntax, e.g.
// "30s") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
