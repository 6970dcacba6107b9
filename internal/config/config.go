// Package config loads the Cortex server configuration from a YAML file.
//
// Environment variables written as ${VAR} are expanded before decoding and
// unknown keys are rejected. Every key is optional; Load("") returns the
// defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/cortex/internal/conversation"
	"github.com/HendryAvila/cortex/internal/embed"
	"github.com/HendryAvila/cortex/internal/ingest"
	"github.com/HendryAvila/cortex/internal/store"
	"github.com/HendryAvila/cortex/internal/textproc"
	"github.com/HendryAvila/cortex/internal/vector"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Log formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Config is the decoded configuration file.
type Config struct {
	Database  Database  `yaml:"database"`
	Memory    Memory    `yaml:"memory"`
	Vector    Vector    `yaml:"vector"`
	Embedding Embedding `yaml:"embedding"`
	Log       Log       `yaml:"log"`
}

// Database configures the metadata store.
type Database struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}

// Memory configures the memory engine.
type Memory struct {
	// MaxEpisodicMessages bounds each tenant's episodic buffer. Negative
	// disables trimming.
	MaxEpisodicMessages int    `yaml:"max_episodic_messages"`
	PIIMode             string `yaml:"pii_mode"`
	MaxTextLength       int    `yaml:"max_text_length"`
	SearchOverfetch     int    `yaml:"search_overfetch"`
}

// Vector configures the vector index.
type Vector struct {
	Backend   string       `yaml:"backend"`
	Dimension int          `yaml:"dimension"`
	Local     VectorLocal  `yaml:"local"`
	Remote    VectorRemote `yaml:"remote"`
}

// VectorLocal configures the local exact index.
type VectorLocal struct {
	// Dir holds the sidecar artifacts. Empty keeps the index in memory.
	Dir               string `yaml:"dir"`
	ResetOnCorruption bool   `yaml:"reset_on_corruption"`
}

// VectorRemote configures the remote managed index.
type VectorRemote struct {
	Host      string `yaml:"host"`
	APIKey    string `yaml:"api_key"`
	Namespace string `yaml:"namespace"`
	IndexName string `yaml:"index_name"`
	// Timeout is a duration string such as "10s".
	Timeout    string `yaml:"timeout"`
	MaxRetries *int   `yaml:"max_retries"`
	RateLimit  int    `yaml:"rate_limit"`
}

// Embedding selects the embedding provider.
type Embedding struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	// Dimensions defaults to the vector dimension.
	Dimensions int `yaml:"dimensions"`
	CacheSize  int `yaml:"cache_size"`
}

// Log configures logrus.
type Log struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	ReportCaller bool   `yaml:"report_caller"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads, expands and decodes the file at path, applies defaults and
// validates the result. An empty path returns Default().
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

// Parse decodes data as a configuration file.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var c Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = store.DefaultConfig().Path
	}
	if c.Database.BusyTimeout == "" {
		c.Database.BusyTimeout = store.DefaultConfig().BusyTimeout.String()
	}

	if c.Memory.MaxEpisodicMessages == 0 {
		c.Memory.MaxEpisodicMessages = ingest.DefaultMaxEpisodes
	}
	if c.Memory.PIIMode == "" {
		c.Memory.PIIMode = string(textproc.PIIMask)
	}
	if c.Memory.MaxTextLength == 0 {
		c.Memory.MaxTextLength = textproc.DefaultMaxLength
	}
	if c.Memory.SearchOverfetch == 0 {
		c.Memory.SearchOverfetch = conversation.DefaultOverfetch
	}

	if c.Vector.Backend == "" {
		c.Vector.Backend = string(vector.KindLocal)
	}
	if c.Vector.Dimension == 0 {
		c.Vector.Dimension = embed.DefaultDimensions
	}
	if c.Vector.Remote.Timeout == "" {
		c.Vector.Remote.Timeout = "10s"
	}
	if c.Vector.Remote.MaxRetries == nil {
		n := 3
		c.Vector.Remote.MaxRetries = &n
	}

	if c.Embedding.Provider == "" {
		c.Embedding.Provider = embed.ProviderHash
	}
	if c.Embedding.Dimensions == 0 {
		c.Embedding.Dimensions = c.Vector.Dimension
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = FormatText
	}
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		add("database.path is required")
	}
	if _, err := cast.ToDurationE(c.Database.BusyTimeout); err != nil {
		add("database.busy_timeout %q: %v", c.Database.BusyTimeout, err)
	}

	if _, err := textproc.ParsePIIMode(c.Memory.PIIMode); err != nil {
		add("memory.pii_mode: %v", err)
	}
	if c.Memory.MaxTextLength < 0 {
		add("memory.max_text_length must not be negative")
	}
	if c.Memory.SearchOverfetch < 1 {
		add("memory.search_overfetch must be at least 1")
	}

	switch vector.Kind(c.Vector.Backend) {
	case vector.KindLocal:
	case vector.KindRemote:
		if c.Vector.Remote.Host == "" {
			add("vector.remote.host is required for the remote backend")
		}
		if c.Vector.Remote.APIKey == "" {
			add("vector.remote.api_key is required for the remote backend")
		}
	default:
		add("vector.backend %q is not one of local, remote", c.Vector.Backend)
	}
	if c.Vector.Dimension < 1 {
		add("vector.dimension must be positive")
	}
	if d, err := cast.ToDurationE(c.Vector.Remote.Timeout); err != nil || d <= 0 {
		add("vector.remote.timeout %q is not a positive duration", c.Vector.Remote.Timeout)
	}
	if c.Vector.Remote.MaxRetries != nil && *c.Vector.Remote.MaxRetries < 0 {
		add("vector.remote.max_retries must not be negative")
	}
	if c.Vector.Remote.RateLimit < 0 {
		add("vector.remote.rate_limit must not be negative")
	}

	switch c.Embedding.Provider {
	case embed.ProviderHash:
	case embed.ProviderOpenAI:
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			add("embedding.api_key or embedding.base_url is required for openai")
		}
	default:
		add("embedding.provider %q is not one of hash, openai", c.Embedding.Provider)
	}
	if c.Embedding.Dimensions != c.Vector.Dimension {
		add("embedding.dimensions (%d) must equal vector.dimension (%d)",
			c.Embedding.Dimensions, c.Vector.Dimension)
	}
	if c.Embedding.CacheSize < 0 {
		add("embedding.cache_size must not be negative")
	}

	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	switch c.Log.Format {
	case FormatJSON, FormatText:
	default:
		add("log.format %q is not one of json, text", c.Log.Format)
	}

	return errors.Join(errs...)
}

// ─── Component configs ───────────────────────────────────────────────────────

// Store returns the metadata store configuration.
func (c *Config) Store() store.Config {
	return store.Config{
		Path:        c.Database.Path,
		BusyTimeout: cast.ToDuration(c.Database.BusyTimeout),
	}
}

// VectorIndex returns the vector index configuration.
func (c *Config) VectorIndex() vector.Config {
	var retries int
	if c.Vector.Remote.MaxRetries != nil {
		retries = *c.Vector.Remote.MaxRetries
	}
	return vector.Config{
		Kind:      vector.Kind(c.Vector.Backend),
		Dimension: c.Vector.Dimension,
		Local: vector.LocalConfig{
			Dir:               c.Vector.Local.Dir,
			ResetOnCorruption: c.Vector.Local.ResetOnCorruption,
		},
		Remote: vector.RemoteConfig{
			Host:       c.Vector.Remote.Host,
			APIKey:     c.Vector.Remote.APIKey,
			Namespace:  c.Vector.Remote.Namespace,
			IndexName:  c.Vector.Remote.IndexName,
			Timeout:    cast.ToDuration(c.Vector.Remote.Timeout),
			MaxRetries: retries,
			RateLimit:  c.Vector.Remote.RateLimit,
		},
	}
}

// Embedder returns the embedding provider configuration.
func (c *Config) Embedder() embed.Config {
	return embed.Config{
		Provider:   c.Embedding.Provider,
		Model:      c.Embedding.Model,
		BaseURL:    c.Embedding.BaseURL,
		APIKey:     c.Embedding.APIKey,
		Dimensions: c.Embedding.Dimensions,
		CacheSize:  c.Embedding.CacheSize,
	}
}

// Conversation returns the conversation memory options.
func (c *Config) Conversation() conversation.Options {
	return conversation.Options{Overfetch: c.Memory.SearchOverfetch}
}

// Ingest returns the ingestion pipeline options.
func (c *Config) Ingest() ingest.Options {
	mode, _ := textproc.ParsePIIMode(c.Memory.PIIMode)
	return ingest.Options{
		MaxEpisodes:   c.Memory.MaxEpisodicMessages,
		PIIMode:       mode,
		MaxTextLength: c.Memory.MaxTextLength,
	}
}
