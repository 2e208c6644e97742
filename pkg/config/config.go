// Package config defines the process configuration: one immutable
// record loaded from YAML, with environment-variable expansion and
// per-section defaults and validation.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BoolPtr returns a pointer to the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// Config is the root configuration.
//
// Example YAML:
//
//	log:
//	  level: info
//	source:
//	  type: minio
//	  minio:
//	    endpoint: localhost:9000
//	    access_key: ${MINIO_ACCESS_KEY}
//	    secret_key: ${MINIO_SECRET_KEY}
//	    bucket: seemantic
//	database:
//	  host: localhost
//	  username: seemantic_back
//	  password: ${DB_PASSWORD}
//	vector_store:
//	  host: localhost
//	embedder:
//	  api_key: ${JINA_API_KEY}
//	generator:
//	  api_key: ${MISTRAL_API_KEY}
//	indexer:
//	  version: 1
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Source      SourceConfig      `yaml:"source"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Generator   GeneratorConfig   `yaml:"generator"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Server      ServerConfig      `yaml:"server"`
}

// SetDefaults applies default values to all sections.
func (c *Config) SetDefaults() {
	c.Log.SetDefaults()
	c.Source.SetDefaults()
	c.Database.SetDefaults()
	c.VectorStore.SetDefaults()
	c.Embedder.SetDefaults()
	c.Generator.SetDefaults()
	c.Indexer.SetDefaults()
	c.Server.SetDefaults()
}

// Validate checks all sections for errors.
func (c *Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vector_store: %w", err)
	}
	if err := c.Embedder.Validate(); err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	if err := c.Generator.Validate(); err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	if err := c.Indexer.Validate(); err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// LoadFromFile reads, expands, defaults and validates a config file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Load(data)
}

// Load parses config bytes with environment-variable expansion.
func Load(data []byte) (*Config, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	expanded := ExpandEnvVarsInData(raw)
	expandedData, err := yaml.Marshal(expanded)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of: debug, info, warn, error.
	Level string `yaml:"level,omitempty"`

	// Format is "simple" or "verbose".
	Format string `yaml:"format,omitempty"`

	// File redirects log output to a file (default stderr).
	File string `yaml:"file,omitempty"`
}

// SetDefaults applies default values.
func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "simple"
	}
}

// Validate checks the configuration for errors.
func (c *LogConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level %q (valid: debug, info, warn, error)", c.Level)
	}
	return nil
}

// SourceConfig configures the document source.
type SourceConfig struct {
	// Type is the source type: "minio" or "directory".
	Type string `yaml:"type,omitempty"`

	// Minio configuration (for minio sources).
	Minio *MinioConfig `yaml:"minio,omitempty"`

	// Path is the watched directory (for directory sources).
	Path string `yaml:"path,omitempty"`
}

// SetDefaults applies default values.
func (c *SourceConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "minio"
	}
	if c.Type == "minio" {
		if c.Minio == nil {
			c.Minio = &MinioConfig{}
		}
		c.Minio.SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *SourceConfig) Validate() error {
	switch c.Type {
	case "minio":
		if c.Minio == nil {
			return fmt.Errorf("minio config is required for minio source")
		}
		if err := c.Minio.Validate(); err != nil {
			return fmt.Errorf("minio: %w", err)
		}
	case "directory":
		if c.Path == "" {
			return fmt.Errorf("path is required for directory source")
		}
	default:
		return fmt.Errorf("invalid source type %q (valid: minio, directory)", c.Type)
	}
	return nil
}

// MinioConfig configures the object-store source.
type MinioConfig struct {
	// Endpoint is the host:port of the object store.
	Endpoint string `yaml:"endpoint,omitempty"`

	// AccessKey for authentication.
	AccessKey string `yaml:"access_key,omitempty"`

	// SecretKey for authentication.
	SecretKey string `yaml:"secret_key,omitempty"`

	// UseTLS enables TLS connections.
	UseTLS *bool `yaml:"use_tls,omitempty"`

	// Bucket holding the documents.
	Bucket string `yaml:"bucket,omitempty"`

	// Prefix under which documents live; stripped from exposed URIs.
	Prefix string `yaml:"prefix,omitempty"`
}

// SetDefaults applies default values.
func (c *MinioConfig) SetDefaults() {
	if c.Endpoint == "" {
		c.Endpoint = "localhost:9000"
	}
	if c.Bucket == "" {
		c.Bucket = "seemantic"
	}
	if c.Prefix == "" {
		c.Prefix = "seemantic_drive/"
	}
	if c.UseTLS == nil {
		c.UseTLS = BoolPtr(false)
	}
}

// Validate checks the configuration for errors.
func (c *MinioConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// DatabaseConfig configures the catalog database (PostgreSQL).
type DatabaseConfig struct {
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database,omitempty"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		c.Database = "postgres"
	}
	if c.SSLMode == "" {
		c.SSLMode = "disable"
	}
}

// Validate checks the configuration for errors.
func (c *DatabaseConfig) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("username is required")
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, c.SSLMode)
}

// VectorStoreConfig configures the vector store (Qdrant).
type VectorStoreConfig struct {
	// Host of the Qdrant instance.
	Host string `yaml:"host,omitempty"`

	// Port of the Qdrant gRPC endpoint.
	Port int `yaml:"port,omitempty"`

	// APIKey for authenticated access.
	APIKey string `yaml:"api_key,omitempty"`

	// EnableTLS enables TLS connections.
	EnableTLS *bool `yaml:"enable_tls,omitempty"`

	// ReadConsistencyIntervalS bounds how stale reads after writes may be.
	ReadConsistencyIntervalS float64 `yaml:"read_consistency_interval_s,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorStoreConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.EnableTLS == nil {
		c.EnableTLS = BoolPtr(false)
	}
	if c.ReadConsistencyIntervalS <= 0 {
		c.ReadConsistencyIntervalS = 1.0
	}
}

// Validate checks the configuration for errors.
func (c *VectorStoreConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

// EmbedderConfig configures the embedding provider.
type EmbedderConfig struct {
	// BaseURL of the embeddings API.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for the provider.
	APIKey string `yaml:"api_key,omitempty"`

	// Model name.
	Model string `yaml:"model,omitempty"`

	// Dimension of output vectors.
	Dimension int `yaml:"dimension,omitempty"`

	// DistanceMetric declared by the model: "l2", "cosine" or "dot".
	DistanceMetric string `yaml:"distance_metric,omitempty"`

	// MaxChars is the per-batch concatenated character budget.
	MaxChars int `yaml:"max_chars,omitempty"`

	// MaxRetries for transient provider failures.
	MaxRetries int `yaml:"max_retries,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.jina.ai/v1"
	}
	if c.Model == "" {
		c.Model = "jina-embeddings-v3"
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.DistanceMetric == "" {
		c.DistanceMetric = "cosine"
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 15000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Validate checks the configuration for errors.
func (c *EmbedderConfig) Validate() error {
	validMetrics := map[string]bool{
		"l2":     true,
		"cosine": true,
		"dot":    true,
	}
	if !validMetrics[c.DistanceMetric] {
		return fmt.Errorf("invalid distance metric %q (valid: l2, cosine, dot)", c.DistanceMetric)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("dimension must be positive")
	}
	return nil
}

// GeneratorConfig configures the answer-generation LLM.
type GeneratorConfig struct {
	// BaseURL of an OpenAI-compatible chat completions API.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for the provider.
	APIKey string `yaml:"api_key,omitempty"`

	// Model name.
	Model string `yaml:"model,omitempty"`
}

// SetDefaults applies default values.
func (c *GeneratorConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.mistral.ai/v1"
	}
	if c.Model == "" {
		c.Model = "mistral-small-latest"
	}
}

// Validate checks the configuration for errors.
func (c *GeneratorConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	return nil
}

// IndexerConfig configures the indexing pipeline.
type IndexerConfig struct {
	// Version partitions catalog rows and vector collections.
	// Bumping it triggers a full re-index into fresh partitions.
	Version int `yaml:"version,omitempty"`

	// MaxQueueSize bounds the work queue; producers block when full.
	MaxQueueSize int `yaml:"max_queue_size,omitempty"`

	// ChunkerMaxChars is the section-split threshold.
	ChunkerMaxChars int `yaml:"chunker_max_chars,omitempty"`
}

// SetDefaults applies default values.
func (c *IndexerConfig) SetDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.ChunkerMaxChars <= 0 {
		c.ChunkerMaxChars = 1000
	}
}

// Validate checks the configuration for errors.
func (c *IndexerConfig) Validate() error {
	if c.Version < 0 {
		return fmt.Errorf("version must be non-negative")
	}
	if c.ChunkerMaxChars < 1 {
		return fmt.Errorf("chunker_max_chars must be positive")
	}
	return nil
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// KeepAliveIntervalS is the SSE idle ping cadence in seconds.
	KeepAliveIntervalS float64 `yaml:"keep_alive_interval_s,omitempty"`
}

// SetDefaults applies default values.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
	if c.KeepAliveIntervalS <= 0 {
		c.KeepAliveIntervalS = 20
	}
}

// Validate checks the configuration for errors.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
