package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to initialise the scraper.
type Config struct {
	Worker    WorkerConfig              `yaml:"worker"`
	Crawl     CrawlConfig               `yaml:"crawl"`
	Policy    PolicyConfig              `yaml:"policy"`
	Robots    RobotsConfig              `yaml:"robots"`
	Prequal   PrequalConfig             `yaml:"prequal"`
	Extract   ExtractConfig             `yaml:"extract"`
	Rendering RenderingConfig           `yaml:"rendering"`
	Identity  IdentityConfig            `yaml:"identity"`
	DB        SQLConfig                 `yaml:"db"`
	Dedup     DedupConfig               `yaml:"dedup"`
	Logging   LoggingConfig             `yaml:"logging"`
	Schemas   map[string]FieldSelectors `yaml:"schemas"`
}

// FieldSelectors maps structured-extraction field names to CSS selectors for
// one domain.
type FieldSelectors map[string]string

// WorkerConfig controls crawl concurrency.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// CrawlConfig controls the frontier, scope, and crawl limits.
type CrawlConfig struct {
	Seeds               []string `yaml:"seeds"`
	AllowedDomains      []string `yaml:"allowed_domains"`
	ExcludedDomains     []string `yaml:"excluded_domains"`
	IncludePatterns     []string `yaml:"include_patterns"`
	ExcludePatterns     []string `yaml:"exclude_patterns"`
	MaxDepth            int      `yaml:"max_depth"`
	MaxPages            int      `yaml:"max_pages"`
	TrapRepeatThreshold int      `yaml:"trap_repeat_threshold"`
}

// PolicyConfig tunes per-domain politeness, backoff, and anomaly detection.
type PolicyConfig struct {
	BaseDelay         Duration            `yaml:"base_delay"`
	DelayOverrides    map[string]Duration `yaml:"delay_overrides"`
	RateLimit         RateLimitConfig     `yaml:"rate_limit"`
	BackoffGrowth     float64             `yaml:"backoff_growth"`
	BackoffCap        float64             `yaml:"backoff_cap"`
	BackoffDecay      float64             `yaml:"backoff_decay"`
	MaxRetries        int                 `yaml:"max_retries"`
	RetryBase         Duration            `yaml:"retry_base"`
	RetryCap          Duration            `yaml:"retry_cap"`
	AnomalyThreshold  float64             `yaml:"anomaly_threshold"`
	AnomalyMinSamples int                 `yaml:"anomaly_min_samples"`
}

// RateLimitConfig applies an optional token bucket per domain on top of the
// fixed inter-request delay.
type RateLimitConfig struct {
	Requests int      `yaml:"requests"`
	Window   Duration `yaml:"window"`
}

// Enabled reports whether per-domain token-bucket limiting is active.
func (r RateLimitConfig) Enabled() bool {
	return r.Requests > 0 && !r.Window.IsZero()
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect   bool     `yaml:"respect"`
	Overrides []string `yaml:"overrides"`
	UserAgent string   `yaml:"user_agent"`
	CacheTTL  Duration `yaml:"cache_ttl"`
}

// PrequalConfig controls the cheap HEAD check run before a full fetch.
type PrequalConfig struct {
	Enabled             bool     `yaml:"enabled"`
	Timeout             Duration `yaml:"timeout"`
	AllowedContentTypes []string `yaml:"allowed_content_types"`
	MaxContentLength    int64    `yaml:"max_content_length"`
	FailOpen            bool     `yaml:"fail_open"`
}

// ExtractConfig tunes page extraction and the quality gate.
type ExtractConfig struct {
	NavigationTimeout Duration `yaml:"navigation_timeout"`
	IdleTimeout       Duration `yaml:"idle_timeout"`
	MinContentLength  int      `yaml:"min_content_length"`
	ForbiddenPhrases  []string `yaml:"forbidden_phrases"`
	MaxLinksPerPage   int      `yaml:"max_links_per_page"`
	Screenshots       bool     `yaml:"screenshots"`
}

// RenderingConfig selects the browser transport.
type RenderingConfig struct {
	Enabled            bool `yaml:"enabled"`
	ConcurrentSessions int  `yaml:"concurrent_sessions"`
	DisableHeadless    bool `yaml:"disable_headless"`
}

// IdentityConfig feeds the fingerprint provider.
type IdentityConfig struct {
	UserAgents []string   `yaml:"user_agents"`
	Viewports  []Viewport `yaml:"viewports"`
	Languages  []string   `yaml:"languages"`
}

// Viewport mirrors types.Viewport for YAML decoding.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SQLConfig describes the relational database used for persistence.
type SQLConfig struct {
	Driver          string   `yaml:"driver"`
	DSN             string   `yaml:"dsn"`
	MaxOpenConns    int      `yaml:"max_open_conns"`
	MaxIdleConns    int      `yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `yaml:"conn_max_lifetime"`
	CreateIfMissing bool     `yaml:"create_if_missing"`
	AutoMigrate     bool     `yaml:"auto_migrate"`
}

// DedupConfig controls exact and fuzzy duplicate handling at persistence.
type DedupConfig struct {
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	ScanWindow           int     `yaml:"scan_window"`
	StoreExactDuplicates bool    `yaml:"store_exact_duplicates"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			Concurrency: 8,
		},
		Crawl: CrawlConfig{
			MaxDepth:            3,
			MaxPages:            1000,
			TrapRepeatThreshold: 2,
		},
		Policy: PolicyConfig{
			BaseDelay:         DurationFrom(500 * time.Millisecond),
			BackoffGrowth:     2.0,
			BackoffCap:        8.0,
			BackoffDecay:      0.85,
			MaxRetries:        3,
			RetryBase:         DurationFrom(250 * time.Millisecond),
			RetryCap:          DurationFrom(8 * time.Second),
			AnomalyThreshold:  0.3,
			AnomalyMinSamples: 10,
		},
		Robots: RobotsConfig{
			Respect:   true,
			UserAgent: "webharvest-bot/1.0",
			CacheTTL:  DurationFrom(6 * time.Hour),
		},
		Prequal: PrequalConfig{
			Enabled: true,
			Timeout: DurationFrom(5 * time.Second),
			AllowedContentTypes: []string{
				"text/html",
				"application/xhtml+xml",
			},
			MaxContentLength: 5 * 1024 * 1024,
			FailOpen:         true,
		},
		Extract: ExtractConfig{
			NavigationTimeout: DurationFrom(30 * time.Second),
			IdleTimeout:       DurationFrom(5 * time.Second),
			MinContentLength:  150,
			ForbiddenPhrases: []string{
				"page not found",
				"access denied",
				"captcha",
				"are you a robot",
				"enable javascript",
			},
			MaxLinksPerPage: 200,
			Screenshots:     true,
		},
		Rendering: RenderingConfig{
			Enabled:            true,
			ConcurrentSessions: 2,
		},
		Identity: IdentityConfig{
			UserAgents: []string{
				"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
				"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
				"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
			},
			Viewports: []Viewport{
				{Width: 1920, Height: 1080},
				{Width: 1366, Height: 768},
				{Width: 1536, Height: 864},
			},
			Languages: []string{"en-US", "en"},
		},
		DB: SQLConfig{
			AutoMigrate: true,
		},
		Dedup: DedupConfig{
			SimilarityThreshold:  0.92,
			ScanWindow:           100,
			StoreExactDuplicates: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces required invariants for the scraper configuration.
func (c Config) Validate() error {
	if len(c.Crawl.Seeds) == 0 {
		return errors.New("at least one crawl seed must be configured")
	}
	for i, seed := range c.Crawl.Seeds {
		if strings.TrimSpace(seed) == "" {
			return fmt.Errorf("seed %d is empty", i)
		}
	}
	if c.Crawl.MaxDepth <= 0 {
		return fmt.Errorf("crawl.max_depth must be > 0 (got %d)", c.Crawl.MaxDepth)
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0 (got %d)", c.Crawl.MaxPages)
	}
	if c.Crawl.TrapRepeatThreshold < 2 {
		return fmt.Errorf("crawl.trap_repeat_threshold must be >= 2 (got %d)", c.Crawl.TrapRepeatThreshold)
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	if c.Policy.MaxRetries < 0 {
		return fmt.Errorf("policy.max_retries must be >= 0 (got %d)", c.Policy.MaxRetries)
	}
	if c.Policy.BackoffGrowth < 1.0 {
		return fmt.Errorf("policy.backoff_growth must be >= 1.0 (got %g)", c.Policy.BackoffGrowth)
	}
	if c.Policy.BackoffCap < 1.0 {
		return fmt.Errorf("policy.backoff_cap must be >= 1.0 (got %g)", c.Policy.BackoffCap)
	}
	if c.Policy.BackoffDecay <= 0 || c.Policy.BackoffDecay > 1.0 {
		return fmt.Errorf("policy.backoff_decay must be in (0, 1] (got %g)", c.Policy.BackoffDecay)
	}
	if c.Policy.AnomalyThreshold < 0 || c.Policy.AnomalyThreshold > 1.0 {
		return fmt.Errorf("policy.anomaly_threshold must be in [0, 1] (got %g)", c.Policy.AnomalyThreshold)
	}
	if c.Prequal.Enabled {
		if len(c.Prequal.AllowedContentTypes) == 0 {
			return errors.New("prequal.allowed_content_types must include at least one value")
		}
		if c.Prequal.MaxContentLength <= 0 {
			return fmt.Errorf("prequal.max_content_length must be > 0 (got %d)", c.Prequal.MaxContentLength)
		}
	}
	if c.Extract.MinContentLength < 0 {
		return fmt.Errorf("extract.min_content_length must be >= 0 (got %d)", c.Extract.MinContentLength)
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		return errors.New("robots.user_agent must be set")
	}
	if len(c.Identity.UserAgents) == 0 {
		return errors.New("identity.user_agents must include at least one value")
	}
	if len(c.Identity.Viewports) == 0 {
		return errors.New("identity.viewports must include at least one value")
	}
	if c.Dedup.SimilarityThreshold < 0 || c.Dedup.SimilarityThreshold > 1.0 {
		return fmt.Errorf("dedup.similarity_threshold must be in [0, 1] (got %g)", c.Dedup.SimilarityThreshold)
	}
	if c.Dedup.ScanWindow < 0 {
		return fmt.Errorf("dedup.scan_window must be >= 0 (got %d)", c.Dedup.ScanWindow)
	}
	return nil
}

func (c *Config) normalise() {
	for i := range c.Crawl.Seeds {
		c.Crawl.Seeds[i] = strings.TrimSpace(c.Crawl.Seeds[i])
	}
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)

	if len(c.Robots.Overrides) > 0 {
		c.Robots.Overrides = dedupeLower(c.Robots.Overrides)
	}
	if len(c.Crawl.AllowedDomains) > 0 {
		c.Crawl.AllowedDomains = dedupeLower(c.Crawl.AllowedDomains)
	}
	if len(c.Crawl.ExcludedDomains) > 0 {
		c.Crawl.ExcludedDomains = dedupeLower(c.Crawl.ExcludedDomains)
	}
	if len(c.Prequal.AllowedContentTypes) > 0 {
		c.Prequal.AllowedContentTypes = dedupeLower(c.Prequal.AllowedContentTypes)
	}
	if len(c.Policy.DelayOverrides) > 0 {
		overrides := make(map[string]Duration, len(c.Policy.DelayOverrides))
		for host, d := range c.Policy.DelayOverrides {
			host = strings.ToLower(strings.TrimSpace(host))
			if host == "" {
				continue
			}
			overrides[host] = d
		}
		c.Policy.DelayOverrides = overrides
	}
	if len(c.Schemas) > 0 {
		schemas := make(map[string]FieldSelectors, len(c.Schemas))
		for host, fields := range c.Schemas {
			host = strings.ToLower(strings.TrimSpace(host))
			if host == "" || len(fields) == 0 {
				continue
			}
			schemas[host] = fields
		}
		c.Schemas = schemas
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
