// Package config loads the engine configuration: YAML file first, then
// environment overrides using a double-underscore namespace separator
// (CACHE__BACKEND, FEEDS__0__URL, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"blogwatch/internal/logging"
)

// Config holds all blogwatch configuration.
type Config struct {
	Feeds     []FeedConfig    `yaml:"feeds"`
	Cache     CacheConfig     `yaml:"cache"`
	VectorDB  VectorDBConfig  `yaml:"vector_db"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Article   ArticleConfig   `yaml:"article"`
	Browser   BrowserConfig   `yaml:"browser"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   logging.Config  `yaml:"logging"`

	// Hosts allowed to skip TLS verification (broken cert chains).
	// Every use emits a warning event.
	InsecureTLSHosts []string `yaml:"insecure_tls_hosts"`
}

// FeedConfig describes one source. Created at startup, read-only after.
type FeedConfig struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	PollInterval string `yaml:"poll_interval"`
	MaxPosts     int    `yaml:"max_posts"`
	Enabled      bool   `yaml:"enabled"`
	Hints        string `yaml:"hints"` // spa | browser | medium | html | ""
}

// CacheConfig selects and tunes the entry store backend.
type CacheConfig struct {
	Backend       string `yaml:"backend"` // memory | postgres | filesystem
	PostgresDSN   string `yaml:"postgres_dsn"`
	TTLHours      int    `yaml:"ttl_hours"`
	Directory     string `yaml:"directory"` // filesystem backend only
	SweepInterval string `yaml:"sweep_interval"`
}

// VectorDBConfig configures the embedding collection.
type VectorDBConfig struct {
	ConnectionString    string `yaml:"connection_string"`
	CollectionName      string `yaml:"collection_name"`
	TextVectorDimension int    `yaml:"text_vector_dimension"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	ModelType           string `yaml:"model_type"` // genai | ollama
	ModelName           string `yaml:"model_name"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`
	APIKey              string `yaml:"api_key"`
	BaseURL             string `yaml:"base_url"` // ollama endpoint
}

// ArticleConfig tunes the enrichment pipeline.
type ArticleConfig struct {
	FullContentCapture     bool   `yaml:"full_content_capture"`
	GenerateSummary        bool   `yaml:"generate_summary"`
	SummaryMaxTokens       int    `yaml:"summary_max_tokens"`
	MaxArticlesPerFeed     int    `yaml:"max_articles_per_feed"`
	ConcurrentArticleTasks int    `yaml:"concurrent_article_tasks"`
	ContentTTL             string `yaml:"content_ttl"`
}

// BrowserConfig tunes the rendering pool.
type BrowserConfig struct {
	Enabled               bool   `yaml:"enabled"`
	MaxConcurrentBrowsers int    `yaml:"max_concurrent_browsers"`
	RenderTimeout         string `yaml:"render_timeout"`
}

// SchedulerConfig tunes the orchestrator.
type SchedulerConfig struct {
	MaxConcurrentSourceTasks int    `yaml:"max_concurrent_source_tasks"`
	TickTimeout              string `yaml:"tick_timeout"`
	ShutdownGrace            string `yaml:"shutdown_grace"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Backend:       "memory",
			TTLHours:      168, // 7 days
			SweepInterval: "1h",
		},
		VectorDB: VectorDBConfig{
			CollectionName:      "blog_posts",
			TextVectorDimension: 1920,
		},
		Embedding: EmbeddingConfig{
			ModelType:           "genai",
			ModelName:           "gemini-embedding-001",
			EmbeddingDimensions: 3072,
		},
		Article: ArticleConfig{
			FullContentCapture:     true,
			GenerateSummary:        false,
			SummaryMaxTokens:       512,
			ConcurrentArticleTasks: 5,
			// ContentTTL left empty: cache ttl_hours is the default.
		},
		Browser: BrowserConfig{
			Enabled:               true,
			MaxConcurrentBrowsers: 3,
			RenderTimeout:         "45s",
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentSourceTasks: 10,
			TickTimeout:              "10m",
			ShutdownGrace:            "30s",
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file, then applies environment
// overrides and validates.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Missing file is fine; env overrides may supply everything.
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for startup-fatal mistakes.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "memory", "postgres", "filesystem":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "postgres" && c.CacheDSN() == "" {
		return fmt.Errorf("config: postgres cache backend requires CACHE__POSTGRES_DSN or VECTOR_DB__CONNECTION_STRING")
	}
	if c.Cache.Backend == "filesystem" && c.Cache.Directory == "" {
		return fmt.Errorf("config: filesystem cache backend requires CACHE__DIRECTORY")
	}
	if c.VectorDB.TextVectorDimension <= 0 {
		return fmt.Errorf("config: text_vector_dimension must be positive")
	}
	if c.Embedding.EmbeddingDimensions < c.VectorDB.TextVectorDimension {
		return fmt.Errorf("config: embedding_dimensions %d below stored dimension %d",
			c.Embedding.EmbeddingDimensions, c.VectorDB.TextVectorDimension)
	}
	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		if f.Name == "" {
			return fmt.Errorf("config: feed %d has no name", i)
		}
		if seen[f.Name] {
			return fmt.Errorf("config: duplicate feed name %q", f.Name)
		}
		seen[f.Name] = true
		if f.URL == "" {
			return fmt.Errorf("config: feed %q has no url", f.Name)
		}
	}
	return nil
}

// CacheDSN returns the cache connection string, falling back to the vector
// store's when unset.
func (c *Config) CacheDSN() string {
	if c.Cache.PostgresDSN != "" {
		return c.Cache.PostgresDSN
	}
	return c.VectorDB.ConnectionString
}

// MaxPostsFor returns the per-tick candidate cap for a feed. The article
// section's max_articles_per_feed overrides the per-feed value when set.
func (c *Config) MaxPostsFor(f FeedConfig) int {
	if c.Article.MaxArticlesPerFeed > 0 {
		return c.Article.MaxArticlesPerFeed
	}
	if f.MaxPosts > 0 {
		return f.MaxPosts
	}
	return 20
}

// InsecureTLSAllowed reports whether host may skip certificate verification.
func (c *Config) InsecureTLSAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, h := range c.InsecureTLSHosts {
		if strings.ToLower(h) == host {
			return true
		}
	}
	return false
}

// PollIntervalFor returns a feed's poll interval, defaulting to 30 minutes.
func (f FeedConfig) PollIntervalOrDefault() time.Duration {
	return parseDuration(f.PollInterval, 30*time.Minute)
}

// GetCacheTTL returns the default lifetime of enrichment-cache entries.
func (c *Config) GetCacheTTL() time.Duration {
	if c.Cache.TTLHours <= 0 {
		return 168 * time.Hour
	}
	return time.Duration(c.Cache.TTLHours) * time.Hour
}

// GetContentTTL returns the TTL applied to cached article bodies. The
// article section's content_ttl overrides the cache-wide default.
func (c *Config) GetContentTTL() time.Duration {
	return parseDuration(c.Article.ContentTTL, c.GetCacheTTL())
}

// GetSweepInterval returns the expired-entry sweep interval.
func (c *Config) GetSweepInterval() time.Duration {
	return parseDuration(c.Cache.SweepInterval, time.Hour)
}

// GetRenderTimeout returns the per-render browser deadline.
func (c *Config) GetRenderTimeout() time.Duration {
	return parseDuration(c.Browser.RenderTimeout, 45*time.Second)
}

// GetTickTimeout returns the hard cap on one orchestrator tick.
func (c *Config) GetTickTimeout() time.Duration {
	return parseDuration(c.Scheduler.TickTimeout, 10*time.Minute)
}

// GetShutdownGrace returns the in-flight drain deadline at shutdown.
func (c *Config) GetShutdownGrace() time.Duration {
	return parseDuration(c.Scheduler.ShutdownGrace, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides applies environment variable overrides. The namespace
// separator is a double underscore: SECTION__FIELD, FEEDS__<n>__FIELD.
func (c *Config) applyEnvOverrides() {
	envString("CACHE__BACKEND", &c.Cache.Backend)
	envString("CACHE__POSTGRES_DSN", &c.Cache.PostgresDSN)
	envInt("CACHE__TTL_HOURS", &c.Cache.TTLHours)
	envString("CACHE__DIRECTORY", &c.Cache.Directory)
	envString("CACHE__SWEEP_INTERVAL", &c.Cache.SweepInterval)

	envString("VECTOR_DB__CONNECTION_STRING", &c.VectorDB.ConnectionString)
	envString("VECTOR_DB__COLLECTION_NAME", &c.VectorDB.CollectionName)
	envInt("VECTOR_DB__TEXT_VECTOR_DIMENSION", &c.VectorDB.TextVectorDimension)

	envString("EMBEDDING__MODEL_TYPE", &c.Embedding.ModelType)
	envString("EMBEDDING__MODEL_NAME", &c.Embedding.ModelName)
	envInt("EMBEDDING__EMBEDDING_DIMENSIONS", &c.Embedding.EmbeddingDimensions)
	envString("EMBEDDING__API_KEY", &c.Embedding.APIKey)
	envString("EMBEDDING__BASE_URL", &c.Embedding.BaseURL)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Embedding.APIKey == "" {
		c.Embedding.APIKey = key
	}

	envBool("ARTICLE__FULL_CONTENT_CAPTURE", &c.Article.FullContentCapture)
	envBool("ARTICLE__GENERATE_SUMMARY", &c.Article.GenerateSummary)
	envInt("ARTICLE__SUMMARY_MAX_TOKENS", &c.Article.SummaryMaxTokens)
	envInt("ARTICLE__MAX_ARTICLES_PER_FEED", &c.Article.MaxArticlesPerFeed)
	envInt("ARTICLE__CONCURRENT_ARTICLE_TASKS", &c.Article.ConcurrentArticleTasks)
	envString("ARTICLE__CONTENT_TTL", &c.Article.ContentTTL)

	envBool("BROWSER__ENABLED", &c.Browser.Enabled)
	envInt("BROWSER__MAX_CONCURRENT_BROWSERS", &c.Browser.MaxConcurrentBrowsers)
	envString("BROWSER__RENDER_TIMEOUT", &c.Browser.RenderTimeout)

	envInt("SCHEDULER__MAX_CONCURRENT_SOURCE_TASKS", &c.Scheduler.MaxConcurrentSourceTasks)
	envString("SCHEDULER__TICK_TIMEOUT", &c.Scheduler.TickTimeout)
	envString("SCHEDULER__SHUTDOWN_GRACE", &c.Scheduler.ShutdownGrace)

	envString("LOGGING__LEVEL", &c.Logging.Level)
	envString("LOGGING__FORMAT", &c.Logging.Format)
	envString("LOGGING__FILE", &c.Logging.File)

	c.applyFeedEnvOverrides()
}

// applyFeedEnvOverrides scans FEEDS__<n>__* variables. Indexes beyond the
// YAML-provided feeds append new entries, so a config can be env-only.
func (c *Config) applyFeedEnvOverrides() {
	maxIdx := len(c.Feeds) - 1
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, "FEEDS__") {
			continue
		}
		rest := strings.TrimPrefix(kv, "FEEDS__")
		end := strings.Index(rest, "__")
		if end < 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:end]); err == nil && n > maxIdx {
			maxIdx = n
		}
	}
	for i := 0; i <= maxIdx; i++ {
		prefix := fmt.Sprintf("FEEDS__%d__", i)
		if i >= len(c.Feeds) {
			c.Feeds = append(c.Feeds, FeedConfig{Enabled: true})
		}
		f := &c.Feeds[i]
		envString(prefix+"NAME", &f.Name)
		envString(prefix+"URL", &f.URL)
		envString(prefix+"POLL_INTERVAL", &f.PollInterval)
		envInt(prefix+"MAX_POSTS", &f.MaxPosts)
		envBool(prefix+"ENABLED", &f.Enabled)
		envString(prefix+"HINTS", &f.Hints)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
