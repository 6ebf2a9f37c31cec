package agrokg

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bbiangul/agrokg/embed"
	"github.com/bbiangul/agrokg/mirror"
	"github.com/bbiangul/agrokg/retrieval"
)

// Config holds all configuration for the agrokg engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.agrokg/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set: "home" (default) uses ~/.agrokg/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	Embedding embed.Config     `json:"embedding" yaml:"embedding" mapstructure:"embedding"`
	Retrieval retrieval.Config `json:"retrieval" yaml:"retrieval" mapstructure:"retrieval"`
	Neo4j     mirror.Config    `json:"neo4j" yaml:"neo4j" mapstructure:"neo4j"`

	// Chunking
	MaxChunkTokens int `json:"max_chunk_tokens" yaml:"max_chunk_tokens" mapstructure:"max_chunk_tokens"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap" mapstructure:"chunk_overlap"`

	// Loading
	LoadConcurrency int           `json:"load_concurrency" yaml:"load_concurrency" mapstructure:"load_concurrency"`
	LoadRetries     int           `json:"load_retries" yaml:"load_retries" mapstructure:"load_retries"`
	RecordTimeout   time.Duration `json:"record_timeout" yaml:"record_timeout" mapstructure:"record_timeout"`

	// Indexing
	IndexConcurrency int           `json:"index_concurrency" yaml:"index_concurrency" mapstructure:"index_concurrency"`
	EmbedBatchSize   int           `json:"embed_batch_size" yaml:"embed_batch_size" mapstructure:"embed_batch_size"`
	EmbedCacheSize   int           `json:"embed_cache_size" yaml:"embed_cache_size" mapstructure:"embed_cache_size"`
	IndexTimeout     time.Duration `json:"index_timeout" yaml:"index_timeout" mapstructure:"index_timeout"`

	// Identity
	AliasFiles         []string `json:"alias_files,omitempty" yaml:"alias_files,omitempty" mapstructure:"alias_files"`
	StripBrandSuffixes bool     `json:"strip_brand_suffixes" yaml:"strip_brand_suffixes" mapstructure:"strip_brand_suffixes"`
}

// DefaultConfig returns a Config for local inference against Ollama.
// Database is stored in ~/.agrokg/agrokg.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "agrokg",
		StorageDir: "home",
		Embedding: embed.Config{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
			Dim:      768,
		},
		Retrieval:        retrieval.DefaultConfig(),
		MaxChunkTokens:   512,
		ChunkOverlap:     64,
		LoadConcurrency:  4,
		LoadRetries:      5,
		RecordTimeout:    2 * time.Minute,
		IndexConcurrency: 2,
		EmbedBatchSize:   32,
		EmbedCacheSize:   4096,
		IndexTimeout:     5 * time.Minute,
	}
}

// Validate reports the first configuration problem as ErrInvalidConfig.
func (c *Config) Validate() error {
	if c.Embedding.Dim <= 0 {
		return fmt.Errorf("%w: embedding.dim must be positive, got %d", ErrInvalidConfig, c.Embedding.Dim)
	}
	switch c.StorageDir {
	case "", "home", "local", "cwd":
	default:
		return fmt.Errorf("%w: storage_dir must be home or local, got %q", ErrInvalidConfig, c.StorageDir)
	}
	if c.ChunkOverlap < 0 || (c.MaxChunkTokens > 0 && c.ChunkOverlap >= c.MaxChunkTokens) {
		return fmt.Errorf("%w: chunk_overlap must be below max_chunk_tokens", ErrInvalidConfig)
	}
	return nil
}

// ResolveDBPath computes the final database path from config fields.
func (c *Config) ResolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "agrokg"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".agrokg", name+".db")
	}
}
