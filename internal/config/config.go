// Package config provides configuration management for Engram.
// Settings load from an optional YAML file, then environment variables with
// the ENGRAM_ prefix override file values. Every tunable the retrieval,
// ingestion and maintenance pipelines use lives here with its reference
// default; none of them are hard constants.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the Engram daemon.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Lexical     LexicalConfig     `yaml:"lexical"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Assembler   AssemblerConfig   `yaml:"assembler"`
	Security    SecurityConfig    `yaml:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host string `yaml:"host"` // default 127.0.0.1
	Port int    `yaml:"port"` // default 7437
}

// StorageConfig contains the durable state layout configuration.
type StorageConfig struct {
	// DataPath is the root directory for all persisted artifacts:
	// memories/<id>.json, index.json, embeddings.json, notifications/.
	DataPath string `yaml:"data_path"`

	// EmbeddingTable selects the embedding table backend: "file" (default)
	// or "postgres" (pgvector).
	EmbeddingTable string `yaml:"embedding_table"`

	// PostgresDSN is required when EmbeddingTable is "postgres".
	PostgresDSN string `yaml:"postgres_dsn"`

	// RecordCacheSize bounds the in-process full-record LRU cache.
	RecordCacheSize int `yaml:"record_cache_size"`

	// WatchExternal enables the fsnotify watcher that invalidates the index
	// cache when another process rewrites the artifacts.
	WatchExternal bool `yaml:"watch_external"`
}

// EmbeddingConfig configures the external embedding provider client.
type EmbeddingConfig struct {
	Endpoint string `yaml:"endpoint"` // e.g. http://localhost:11434/v1/embeddings
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`

	// MaxChars is the character ceiling applied before sending text.
	MaxChars int `yaml:"max_chars"`

	// Timeout bounds each provider call; expiry degrades to a nil vector.
	Timeout time.Duration `yaml:"timeout"`

	// RequestsPerSecond rate-limits provider calls client-side.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// LexicalConfig selects and configures the lexical scorer backend.
type LexicalConfig struct {
	// Engine is "bm25" (in-memory, default) or "sqlite" (FTS5-backed).
	Engine string `yaml:"engine"`

	// SQLitePath is the index database path for the sqlite engine. Empty
	// means {data_path}/lexical.db.
	SQLitePath string `yaml:"sqlite_path"`
}

// RetrievalConfig holds the hybrid fusion parameters. The reference split
// (0.4 lexical / 0.6 vector, K=60) is a deployment observation, not law.
type RetrievalConfig struct {
	RRFK          float64 `yaml:"rrf_k"`
	LexicalWeight float64 `yaml:"lexical_weight"`
	VectorWeight  float64 `yaml:"vector_weight"`
}

// IngestionConfig holds the trust gate thresholds.
type IngestionConfig struct {
	// HighConfidence commits at or above this value; LowConfidence discards
	// strictly below it. The band between queues for approval.
	HighConfidence float64 `yaml:"high_confidence"`
	LowConfidence  float64 `yaml:"low_confidence"`
}

// MaintenanceConfig holds decay, consolidation and expiry parameters.
type MaintenanceConfig struct {
	// DecayHalfLifeDays is the age at which importance halves without access.
	DecayHalfLifeDays float64 `yaml:"decay_half_life_days"`

	// DecayFloor archives records whose importance drops below it ...
	DecayFloor float64 `yaml:"decay_floor"`

	// ... once they are at least DecayMinAgeDays old.
	DecayMinAgeDays float64 `yaml:"decay_min_age_days"`

	// ConsolidationThreshold is the pairwise cosine similarity above which
	// active memories join one duplicate cluster.
	ConsolidationThreshold float64 `yaml:"consolidation_threshold"`

	// Cron schedules for the engramd host scheduler.
	DecaySchedule       string `yaml:"decay_schedule"`
	ConsolidateSchedule string `yaml:"consolidate_schedule"`
	ExpirySchedule      string `yaml:"expiry_schedule"`
}

// AssemblerConfig holds context assembly parameters.
type AssemblerConfig struct {
	// TokenDivisor estimates token cost as len(content)/TokenDivisor.
	TokenDivisor int `yaml:"token_divisor"`

	// PreferenceQuota is the number of top-importance preference records
	// always folded into assembled context.
	PreferenceQuota int `yaml:"preference_quota"`

	// DomainQuota is the number of high-importance fact/observation records
	// folded in when the task names a target domain.
	DomainQuota int `yaml:"domain_quota"`
}

// SecurityConfig contains API authentication settings.
type SecurityConfig struct {
	// Mode is "development" (no auth) or "production" (bearer token).
	Mode     string `yaml:"mode"`
	APIToken string `yaml:"api_token"`
}

// Load builds the configuration from defaults and ENGRAM_* environment
// variables.
func Load() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

// LoadFile reads a YAML config file, then applies environment overrides on
// top. A missing file is not an error; a malformed one is.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env-only config
	case err != nil:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7437,
		},
		Storage: StorageConfig{
			DataPath:        "./data",
			EmbeddingTable:  "file",
			RecordCacheSize: 512,
		},
		Embedding: EmbeddingConfig{
			Endpoint:          "http://localhost:11434/v1/embeddings",
			Model:             "nomic-embed-text",
			MaxChars:          8000,
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
		},
		Lexical: LexicalConfig{
			Engine: "bm25",
		},
		Retrieval: RetrievalConfig{
			RRFK:          60,
			LexicalWeight: 0.4,
			VectorWeight:  0.6,
		},
		Ingestion: IngestionConfig{
			HighConfidence: 0.85,
			LowConfidence:  0.70,
		},
		Maintenance: MaintenanceConfig{
			DecayHalfLifeDays:      60,
			DecayFloor:             0.15,
			DecayMinAgeDays:        30,
			ConsolidationThreshold: 0.92,
			DecaySchedule:          "0 3 * * *",
			ConsolidateSchedule:    "0 4 * * 0",
			ExpirySchedule:         "@hourly",
		},
		Assembler: AssemblerConfig{
			TokenDivisor:    4,
			PreferenceQuota: 3,
			DomainQuota:     3,
		},
		Security: SecurityConfig{
			Mode: "development",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("ENGRAM_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvInt("ENGRAM_PORT", cfg.Server.Port)

	cfg.Storage.DataPath = getEnv("ENGRAM_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.EmbeddingTable = getEnv("ENGRAM_EMBEDDING_TABLE", cfg.Storage.EmbeddingTable)
	cfg.Storage.PostgresDSN = getEnv("ENGRAM_POSTGRES_DSN", cfg.Storage.PostgresDSN)
	cfg.Storage.RecordCacheSize = getEnvInt("ENGRAM_RECORD_CACHE_SIZE", cfg.Storage.RecordCacheSize)
	cfg.Storage.WatchExternal = getEnvBool("ENGRAM_WATCH_EXTERNAL", cfg.Storage.WatchExternal)

	cfg.Embedding.Endpoint = getEnv("ENGRAM_EMBEDDING_ENDPOINT", cfg.Embedding.Endpoint)
	cfg.Embedding.Model = getEnv("ENGRAM_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.APIKey = getEnv("ENGRAM_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.MaxChars = getEnvInt("ENGRAM_EMBEDDING_MAX_CHARS", cfg.Embedding.MaxChars)
	cfg.Embedding.Timeout = getEnvDuration("ENGRAM_EMBEDDING_TIMEOUT", cfg.Embedding.Timeout)
	cfg.Embedding.RequestsPerSecond = getEnvFloat("ENGRAM_EMBEDDING_REQUESTS_PER_SECOND", cfg.Embedding.RequestsPerSecond)

	cfg.Lexical.Engine = getEnv("ENGRAM_LEXICAL_ENGINE", cfg.Lexical.Engine)
	cfg.Lexical.SQLitePath = getEnv("ENGRAM_LEXICAL_SQLITE_PATH", cfg.Lexical.SQLitePath)

	cfg.Retrieval.RRFK = getEnvFloat("ENGRAM_RRF_K", cfg.Retrieval.RRFK)
	cfg.Retrieval.LexicalWeight = getEnvFloat("ENGRAM_LEXICAL_WEIGHT", cfg.Retrieval.LexicalWeight)
	cfg.Retrieval.VectorWeight = getEnvFloat("ENGRAM_VECTOR_WEIGHT", cfg.Retrieval.VectorWeight)

	cfg.Ingestion.HighConfidence = getEnvFloat("ENGRAM_HIGH_CONFIDENCE", cfg.Ingestion.HighConfidence)
	cfg.Ingestion.LowConfidence = getEnvFloat("ENGRAM_LOW_CONFIDENCE", cfg.Ingestion.LowConfidence)

	cfg.Maintenance.DecayHalfLifeDays = getEnvFloat("ENGRAM_DECAY_HALF_LIFE_DAYS", cfg.Maintenance.DecayHalfLifeDays)
	cfg.Maintenance.DecayFloor = getEnvFloat("ENGRAM_DECAY_FLOOR", cfg.Maintenance.DecayFloor)
	cfg.Maintenance.DecayMinAgeDays = getEnvFloat("ENGRAM_DECAY_MIN_AGE_DAYS", cfg.Maintenance.DecayMinAgeDays)
	cfg.Maintenance.ConsolidationThreshold = getEnvFloat("ENGRAM_CONSOLIDATION_THRESHOLD", cfg.Maintenance.ConsolidationThreshold)

	cfg.Assembler.TokenDivisor = getEnvInt("ENGRAM_TOKEN_DIVISOR", cfg.Assembler.TokenDivisor)
	cfg.Assembler.PreferenceQuota = getEnvInt("ENGRAM_PREFERENCE_QUOTA", cfg.Assembler.PreferenceQuota)
	cfg.Assembler.DomainQuota = getEnvInt("ENGRAM_DOMAIN_QUOTA", cfg.Assembler.DomainQuota)

	cfg.Security.Mode = getEnv("ENGRAM_SECURITY_MODE", cfg.Security.Mode)
	cfg.Security.APIToken = getEnv("ENGRAM_API_TOKEN", cfg.Security.APIToken)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value when unset or unparseable.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value when unset or unparseable.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value when unset or unparseable.
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

// getEnvDuration retrieves a duration environment variable or returns a
// default value when unset or unparseable.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
