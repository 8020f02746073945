package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all askdesk configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	RBAC      RBACConfig      `yaml:"rbac"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	ListenAddr            string `yaml:"listen_addr"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests"`
	QueryDeadlineMs       int    `yaml:"request_deadline_query_ms"`
	LoginDeadlineMs       int    `yaml:"request_deadline_login_ms"`
}

// AuthConfig configures credentials and session tokens.
type AuthConfig struct {
	UserDBPath             string `yaml:"user_db_path"`
	SigningKey             string `yaml:"signing_key"`
	SigningAlgorithm       string `yaml:"signing_algorithm"` // HS256 (default) or HS384/HS512
	AccessTokenTTLSeconds  int    `yaml:"access_token_ttl_seconds"`
	RefreshTokenTTLSeconds int    `yaml:"refresh_token_ttl_seconds"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"` // hashed (local) or genai
	Dimension   int    `yaml:"embedding_dimension"`
	GenAIAPIKey string `yaml:"genai_api_key"`
	GenAIModel  string `yaml:"genai_model"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	TopKDefault         int     `yaml:"top_k_default"`
	TopKMax             int     `yaml:"top_k_max"`
	MaxPerDocument      int     `yaml:"max_per_document"` // 0 disables the diversity cap
}

// IndexConfig configures the vector index artifacts.
type IndexConfig struct {
	ArtifactsPath string `yaml:"index_artifacts_path"`
	WatchPointer  bool   `yaml:"watch_pointer"` // reload on CURRENT pointer change
}

// ChunkingConfig configures the document preparer.
type ChunkingConfig struct {
	TargetTokens   int  `yaml:"chunk_target_tokens"`
	OverlapTokens  int  `yaml:"chunk_overlap_tokens"`
	StableChunkIDs bool `yaml:"stable_chunk_ids"` // content-hash ids instead of ordinals
}

// RBACConfig points to the roles/aliases/departments definition.
type RBACConfig struct {
	ConfigPath string `yaml:"rbac_config_path"`
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	SinkPath string `yaml:"audit_sink_path"`
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "askdesk",
		Version: "1.0.0",

		Server: ServerConfig{
			ListenAddr:            ":8080",
			MaxConcurrentRequests: 64,
			QueryDeadlineMs:       30000,
			LoginDeadlineMs:       10000,
		},

		Auth: AuthConfig{
			UserDBPath:             "askdesk.db",
			SigningAlgorithm:       "HS256",
			AccessTokenTTLSeconds:  15 * 60,
			RefreshTokenTTLSeconds: 7 * 24 * 3600,
		},

		Embedding: EmbeddingConfig{
			Provider:   "hashed",
			Dimension:  384,
			GenAIModel: "gemini-embedding-001",
		},

		Retrieval: RetrievalConfig{
			SimilarityThreshold: 0.30,
			TopKDefault:         5,
			TopKMax:             20,
			MaxPerDocument:      0,
		},

		Index: IndexConfig{
			ArtifactsPath: "index",
			WatchPointer:  true,
		},

		Chunking: ChunkingConfig{
			TargetTokens:  512,
			OverlapTokens: 50,
		},

		RBAC: RBACConfig{
			ConfigPath: "rbac.yaml",
		},

		Audit: AuditConfig{
			SinkPath: "audit",
		},

		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist. Environment variables override file values.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.Validate()
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("ASKDESK_SIGNING_KEY"); key != "" {
		c.Auth.SigningKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIAPIKey = key
	}
	if addr := os.Getenv("ASKDESK_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}
	if path := os.Getenv("ASKDESK_DB"); path != "" {
		c.Auth.UserDBPath = path
	}
	if path := os.Getenv("ASKDESK_INDEX"); path != "" {
		c.Index.ArtifactsPath = path
	}
	if v := os.Getenv("ASKDESK_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.MaxConcurrentRequests = n
		}
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding_dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Retrieval.SimilarityThreshold < -1 || c.Retrieval.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [-1, 1], got %f", c.Retrieval.SimilarityThreshold)
	}
	if c.Retrieval.TopKDefault < 1 || c.Retrieval.TopKDefault > c.Retrieval.TopKMax {
		return fmt.Errorf("top_k_default must be in [1, %d], got %d", c.Retrieval.TopKMax, c.Retrieval.TopKDefault)
	}
	if c.Chunking.TargetTokens < 300 || c.Chunking.TargetTokens > 512 {
		return fmt.Errorf("chunk_target_tokens must be in [300, 512], got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.TargetTokens {
		return fmt.Errorf("chunk_overlap_tokens must be in [0, chunk_target_tokens), got %d", c.Chunking.OverlapTokens)
	}
	switch c.Auth.SigningAlgorithm {
	case "", "HS256", "HS384", "HS512":
	default:
		return fmt.Errorf("unsupported signing_algorithm %q", c.Auth.SigningAlgorithm)
	}
	return nil
}

// QueryDeadline returns the per-request deadline for /query.
func (c *Config) QueryDeadline() time.Duration {
	if c.Server.QueryDeadlineMs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Server.QueryDeadlineMs) * time.Millisecond
}

// LoginDeadline returns the per-request deadline for /auth endpoints.
func (c *Config) LoginDeadline() time.Duration {
	if c.Server.LoginDeadlineMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Server.LoginDeadlineMs) * time.Millisecond
}

// AccessTokenTTL returns the access token lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenTTLSeconds) * time.Second
}

// RefreshTokenTTL returns the refresh token lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenTTLSeconds) * time.Second
}
