// Package config loads podgraph-engine configuration from config.yaml with
// environment variable overrides. Secrets (passwords, API keys) must only come
// from environment variables.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for podgraph-engine. Environment variables
// always override YAML values for fields that support both.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL checkpoint store)
	Database DatabaseConfig `yaml:"database"`

	// Graph configuration (Neo4j knowledge graph store)
	Graph GraphConfig `yaml:"graph"`

	// LLM extraction configuration
	LLM LLMConfig `yaml:"llm"`

	// Pipeline configuration
	Pipeline PipelineConfig `yaml:"pipeline"`

	// RulesPath points at the declarative resolution-rules document. A missing
	// or malformed document degrades resolution to exact-match-only.
	RulesPath string `yaml:"rules_path" env:"RULES_PATH" env-default:"rules.yaml"`

	// MigrationsPath points at the checkpoint store migration directory.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// DatabaseConfig holds PostgreSQL configuration for the checkpoint store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"podgraph"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"podgraph_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns a PostgreSQL URL, used by the migration runner. Credentials are
// escaped so passwords containing URL metacharacters still parse.
func (c *DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// GraphConfig holds Neo4j configuration.
type GraphConfig struct {
	URI            string `yaml:"uri" env:"NEO4J_URI" env-default:"bolt://localhost:7687"`
	Username       string `yaml:"username" env:"NEO4J_USER" env-default:"neo4j"`
	Password       string `yaml:"-" env:"NEO4J_PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"NEO4J_DATABASE" env-default:""`
	MaxPoolSize    int    `yaml:"max_pool_size" env:"NEO4J_MAX_POOL_SIZE" env-default:"50"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"NEO4J_TIMEOUT_SECONDS" env-default:"10"`
}

// LLMConfig holds extraction provider configuration.
type LLMConfig struct {
	// Provider selects the client: "openai" (any OpenAI-compatible endpoint)
	// or "anthropic".
	Provider string `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint string `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"http://localhost:11434/v1"`
	Model    string `yaml:"model" env:"LLM_MODEL" env-default:"llama3.1"`
	APIKey   string `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML

	// CallTimeoutSeconds bounds each per-segment extraction call.
	CallTimeoutSeconds int `yaml:"call_timeout_seconds" env:"LLM_CALL_TIMEOUT_SECONDS" env-default:"60"`

	// Embeddings are optional enrichment, off by default.
	EmbeddingsEnabled bool   `yaml:"embeddings_enabled" env:"LLM_EMBEDDINGS_ENABLED" env-default:"false"`
	EmbeddingModel    string `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
}

// CallTimeout returns the per-call timeout as a duration.
func (c *LLMConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// PipelineConfig bounds batch parallelism and shutdown behavior.
type PipelineConfig struct {
	// Workers is the number of concurrent episode workers, sized against
	// external API rate limits.
	Workers int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"2"`

	// ShutdownGraceSeconds is how long in-flight rollbacks get on shutdown.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds" env:"PIPELINE_SHUTDOWN_GRACE_SECONDS" env-default:"30"`

	// DryRun makes the preprocessor report what it would inject without
	// mutating segment text.
	DryRun bool `yaml:"dry_run" env:"PIPELINE_DRY_RUN" env-default:"false"`
}

// ShutdownGrace returns the shutdown grace period as a duration.
func (c *PipelineConfig) ShutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceSeconds) * time.Second
}

// Load reads configuration from the given YAML path with environment variable
// overrides. The version parameter is injected at build time.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must be set")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1")
	}
	return nil
}
