package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"aeo-audit/pkg/utils"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
	Identity           IdentityConfig   `yaml:"identity,omitempty"`
	Precheck           PrecheckConfig   `yaml:"precheck,omitempty"`
	Robots             RobotsConfig     `yaml:"robots,omitempty"`
	Discovery          DiscoveryConfig  `yaml:"discovery,omitempty"`
	Render             RenderConfig     `yaml:"render,omitempty"`
	Batch              BatchConfig      `yaml:"batch,omitempty"`
	Scoring            ScoringConfig    `yaml:"scoring,omitempty"`
	Sweep              SweepConfig      `yaml:"sweep,omitempty"`
	Storage            StorageConfig    `yaml:"storage,omitempty"`
	Server             ServerConfig     `yaml:"server,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"`
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"` // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`
	MaxRedirects          int           `yaml:"max_redirects,omitempty"`
}

// IdentityConfig is the bot's public identity. Every outbound request carries it.
type IdentityConfig struct {
	BotName        string `yaml:"bot_name,omitempty"` // robots.txt product token
	UserAgent      string `yaml:"user_agent,omitempty"`
	ContactURL     string `yaml:"contact_url,omitempty"`
	HeaderName     string `yaml:"header_name,omitempty"`
	HeaderValue    string `yaml:"header_value,omitempty"`
	AcceptLanguage string `yaml:"accept_language,omitempty"`
}

// PrecheckConfig controls domain validation before an audit is created
type PrecheckConfig struct {
	Timeout           time.Duration     `yaml:"timeout,omitempty"`
	MaxRetries        int               `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration     `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration     `yaml:"max_retry_delay,omitempty"`
	MinBodyBytes      int               `yaml:"min_body_bytes,omitempty"`
	BlockedPlatforms  []string          `yaml:"blocked_platforms,omitempty"`
	RedirectTable     map[string]string `yaml:"redirect_table,omitempty"` // host -> replacement root URL
	CriticalPhrases   []string          `yaml:"critical_phrases,omitempty"`
	BroadPhrases      []string          `yaml:"broad_phrases,omitempty"`
}

// RobotsConfig controls the robots.txt policy cache
type RobotsConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl,omitempty"`
	FetchTimeout time.Duration `yaml:"fetch_timeout,omitempty"`
	CacheDir     string        `yaml:"cache_dir,omitempty"` // empty = in-memory
}

// DiscoveryConfig bounds the initial frontier
type DiscoveryConfig struct {
	FetchTimeout     time.Duration `yaml:"fetch_timeout,omitempty"`
	MaxSitemaps      int           `yaml:"max_sitemaps,omitempty"`
	MaxChildSitemaps int           `yaml:"max_child_sitemaps,omitempty"`
	MaxSitemapURLs   int           `yaml:"max_sitemap_urls,omitempty"`
	MaxURLs          int           `yaml:"max_urls,omitempty"`
	BFSMaxDepth      int           `yaml:"bfs_max_depth,omitempty"`
	BFSMaxPages      int           `yaml:"bfs_max_pages,omitempty"`
	LinksPerPage     int           `yaml:"links_per_page,omitempty"`
	DefaultDelay     time.Duration `yaml:"default_delay,omitempty"` // politeness delay when robots sets none
}

// RenderConfig controls static fetching and headless rendering
type RenderConfig struct {
	Enabled          *bool         `yaml:"enabled,omitempty"`
	ChromePath       string        `yaml:"chrome_path,omitempty"`
	StaticTimeout    time.Duration `yaml:"static_timeout,omitempty"`
	RenderTimeout    time.Duration `yaml:"render_timeout,omitempty"`
	BrowserTimeout   time.Duration `yaml:"browser_timeout,omitempty"`
	Budget           int           `yaml:"budget,omitempty"`         // renders allowed per batch pass
	RenderFirstN     int           `yaml:"render_first_n,omitempty"` // only pages with index < N (plus the homepage)
	SPATextThreshold int           `yaml:"spa_text_threshold,omitempty"`
	MaxHTMLBytes     int           `yaml:"max_html_bytes,omitempty"`
}

// BatchConfig holds the continuation engine thresholds
type BatchConfig struct {
	TargetMinPages    int           `yaml:"target_min_pages,omitempty"`
	TargetMaxPages    int           `yaml:"target_max_pages,omitempty"`
	Concurrency       int           `yaml:"concurrency,omitempty"`
	PerRequestBudget  time.Duration `yaml:"per_request_budget,omitempty"`
	HardTime          time.Duration `yaml:"hard_time,omitempty"`
	MinPagesOnTimeout int           `yaml:"min_pages_on_timeout,omitempty"`
	ValveElapsed      time.Duration `yaml:"valve_elapsed,omitempty"`
	ValveMinPages     int           `yaml:"valve_min_pages,omitempty"`
	StaggerDelay      time.Duration `yaml:"stagger_delay,omitempty"`
	MaxStagger        time.Duration `yaml:"max_stagger,omitempty"`
	LinksPerPage      int           `yaml:"links_per_page,omitempty"`
	NewLinksPerPage   int           `yaml:"new_links_per_page,omitempty"`
	MaxPasses         int           `yaml:"max_passes,omitempty"`
}

// ScoringConfig holds the finalize penalty policy
type ScoringConfig struct {
	SevereGap          float64       `yaml:"severe_gap,omitempty"`
	ModerateGap        float64       `yaml:"moderate_gap,omitempty"`
	AEOSeverePenalty   float64       `yaml:"aeo_severe_penalty,omitempty"`
	GEOSeverePenalty   float64       `yaml:"geo_severe_penalty,omitempty"`
	GEOModeratePenalty float64       `yaml:"geo_moderate_penalty,omitempty"`
	HandoffTimeout     time.Duration `yaml:"handoff_timeout,omitempty"`
}

// SweepConfig controls stuck-audit recovery
type SweepConfig struct {
	Interval         time.Duration `yaml:"interval,omitempty"`
	MinAge           time.Duration `yaml:"min_age,omitempty"`
	PartialAge       time.Duration `yaml:"partial_age,omitempty"`
	EmptyAge         time.Duration `yaml:"empty_age,omitempty"`
	FinalizeMinPages int           `yaml:"finalize_min_pages,omitempty"`
	StateFile        string        `yaml:"state_file,omitempty"` // last-run record; empty = in-memory only
}

// StorageConfig selects the relational store
type StorageConfig struct {
	Driver string `yaml:"driver,omitempty"` // "sqlite" or "pgx"
	DSN    string `yaml:"dsn,omitempty"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr,omitempty"`
	ReadTimeout     time.Duration `yaml:"read_timeout,omitempty"`
	WriteTimeout    time.Duration `yaml:"write_timeout,omitempty"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// RenderEnabled reports whether headless rendering should be wired in
func (c *AppConfig) RenderEnabled() bool {
	if c.Render.Enabled != nil {
		return *c.Render.Enabled
	}
	return true
}

// Default returns a validated configuration with every default applied
func Default() *AppConfig {
	cfg := &AppConfig{}
	_, _ = cfg.Validate()
	return cfg
}

// Load reads a YAML config file and validates it. A missing path yields Default().
func Load(path string) (*AppConfig, []string, error) {
	cfg := &AppConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, nil, fmt.Errorf("%w: reading %s: %w", utils.ErrConfigValidation, path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, nil, fmt.Errorf("%w: parsing %s: %w", utils.ErrConfigValidation, path, err)
		}
	}
	cfg.ApplyEnv()
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// ApplyEnv overlays settings that deployments pass through the environment
func (c *AppConfig) ApplyEnv() {
	if v := os.Getenv("AEO_DATABASE_URL"); v != "" {
		c.Storage.DSN = v
		if c.Storage.Driver == "" {
			c.Storage.Driver = "pgx"
		}
	}
	if v := os.Getenv("AEO_DB_DRIVER"); v != "" {
		c.Storage.Driver = v
	}
	if v := os.Getenv("AEO_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("AEO_CHROME_PATH"); v != "" {
		c.Render.ChromePath = v
	}
}
