package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
crawl:
  seeds:
    - https://example.com/
`

func TestLoadFromReaderAppliesDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("concurrency = %d, want default 8", cfg.Worker.Concurrency)
	}
	if cfg.Policy.BackoffGrowth != 2.0 || cfg.Policy.BackoffCap != 8.0 {
		t.Errorf("backoff defaults = %g/%g", cfg.Policy.BackoffGrowth, cfg.Policy.BackoffCap)
	}
	if cfg.Policy.AnomalyThreshold != 0.3 || cfg.Policy.AnomalyMinSamples != 10 {
		t.Errorf("anomaly defaults = %g/%d", cfg.Policy.AnomalyThreshold, cfg.Policy.AnomalyMinSamples)
	}
	if got := cfg.Extract.NavigationTimeout.Duration; got != 30*time.Second {
		t.Errorf("navigation timeout default = %v", got)
	}
	if len(cfg.Identity.UserAgents) == 0 {
		t.Errorf("no default user agents")
	}
}

func TestLoadShippedSampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	if err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	if len(cfg.Crawl.Seeds) == 0 {
		t.Errorf("sample config has no seeds")
	}
	if !cfg.Prequal.Enabled || len(cfg.Prequal.AllowedContentTypes) == 0 {
		t.Errorf("prequal section not decoded: %+v", cfg.Prequal)
	}
	if !cfg.Rendering.Enabled {
		t.Errorf("rendering section not decoded")
	}
}

func TestLoadFromReaderOverrides(t *testing.T) {
	in := `
crawl:
  seeds:
    - https://example.com/
  max_depth: 5
policy:
  base_delay: 2s
  delay_overrides:
    Slow.Example.COM: 10s
schemas:
  Shop.Example.com:
    price: "#price"
`
	cfg, err := LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Crawl.MaxDepth != 5 {
		t.Errorf("max_depth = %d", cfg.Crawl.MaxDepth)
	}
	if got := cfg.Policy.BaseDelay.Duration; got != 2*time.Second {
		t.Errorf("base_delay = %v", got)
	}
	if _, ok := cfg.Policy.DelayOverrides["slow.example.com"]; !ok {
		t.Errorf("delay override host not lowercased: %v", cfg.Policy.DelayOverrides)
	}
	if _, ok := cfg.Schemas["shop.example.com"]; !ok {
		t.Errorf("schema host not lowercased: %v", cfg.Schemas)
	}
}

func TestLoadFromReaderRejectsUnknownKeys(t *testing.T) {
	in := minimalYAML + `
frontier:
  bogus: true
`
	if _, err := LoadFromReader(strings.NewReader(in)); err == nil {
		t.Fatal("unknown top-level key accepted")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no seeds", func(c *Config) { c.Crawl.Seeds = nil }},
		{"zero depth", func(c *Config) { c.Crawl.MaxDepth = 0 }},
		{"trap threshold too low", func(c *Config) { c.Crawl.TrapRepeatThreshold = 1 }},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"backoff growth below one", func(c *Config) { c.Policy.BackoffGrowth = 0.5 }},
		{"decay out of range", func(c *Config) { c.Policy.BackoffDecay = 0 }},
		{"anomaly threshold out of range", func(c *Config) { c.Policy.AnomalyThreshold = 1.5 }},
		{"prequal without content types", func(c *Config) {
			c.Prequal.Enabled = true
			c.Prequal.AllowedContentTypes = nil
		}},
		{"empty robots agent", func(c *Config) { c.Robots.UserAgent = " " }},
		{"no viewports", func(c *Config) { c.Identity.Viewports = nil }},
		{"similarity above one", func(c *Config) { c.Dedup.SimilarityThreshold = 1.2 }},
	}
	for _, tc := range cases {
		cfg := Default()
		cfg.Crawl.Seeds = []string{"https://example.com/"}
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: invalid config accepted", tc.name)
		}
	}
}

func TestDurationYAML(t *testing.T) {
	in := minimalYAML + `
extract:
  navigation_timeout: 90s
  idle_timeout: 1500ms
`
	cfg, err := LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Extract.NavigationTimeout.Duration; got != 90*time.Second {
		t.Errorf("navigation_timeout = %v", got)
	}
	if got := cfg.Extract.IdleTimeout.Duration; got != 1500*time.Millisecond {
		t.Errorf("idle_timeout = %v", got)
	}
}

func TestDurationNumericSeconds(t *testing.T) {
	in := minimalYAML + `
extract:
  navigation_timeout: 45
  idle_timeout: 0.5
`
	cfg, err := LoadFromReader(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.Extract.NavigationTimeout.Duration; got != 45*time.Second {
		t.Errorf("navigation_timeout = %v", got)
	}
	if got := cfg.Extract.IdleTimeout.Duration; got != 500*time.Millisecond {
		t.Errorf("idle_timeout = %v", got)
	}
}

func TestDurationRejectsNegative(t *testing.T) {
	for _, in := range []string{
		minimalYAML + "\nextract:\n  navigation_timeout: -5s\n",
		minimalYAML + "\nextract:\n  navigation_timeout: -5\n",
	} {
		if _, err := LoadFromReader(strings.NewReader(in)); err == nil {
			t.Errorf("negative duration accepted: %q", in)
		}
	}
}
