// Package identity produces per-session browser fingerprints: user agent,
// viewport, and spoofed navigator properties.
package identity

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"webharvest/internal/config"
	"webharvest/pkg/types"
)

var (
	hardwareChoices = []int{2, 4, 8, 16}
	memoryChoices   = []int{4, 8, 16}
)

// Provider generates fingerprints from a rotating user-agent list and a
// configured viewport pool. Safe for concurrent callers.
type Provider struct {
	mu         sync.Mutex
	rnd        *rand.Rand
	userAgents []string
	uaIndex    int
	viewports  []types.Viewport
	languages  []string
}

// New builds a provider from identity configuration.
func New(cfg config.IdentityConfig) *Provider {
	viewports := make([]types.Viewport, 0, len(cfg.Viewports))
	for _, v := range cfg.Viewports {
		viewports = append(viewports, types.Viewport{Width: v.Width, Height: v.Height})
	}
	if len(viewports) == 0 {
		viewports = []types.Viewport{{Width: 1920, Height: 1080}}
	}
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = []string{"en-US", "en"}
	}
	return &Provider{
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		userAgents: cfg.UserAgents,
		viewports:  viewports,
		languages:  languages,
	}
}

// Next returns a fresh fingerprint: the next user agent in rotation, a
// viewport drawn uniformly at random, and navigator overrides consistent
// with the chosen user agent.
func (p *Provider) Next() types.Fingerprint {
	p.mu.Lock()
	defer p.mu.Unlock()

	ua := ""
	if len(p.userAgents) > 0 {
		ua = p.userAgents[p.uaIndex%len(p.userAgents)]
		p.uaIndex++
	}
	viewport := p.viewports[p.rnd.Intn(len(p.viewports))]

	return types.Fingerprint{
		UserAgent: ua,
		Viewport:  viewport,
		JSOverrides: map[string]any{
			"webdriver":           false,
			"languages":           p.languages,
			"platform":            PlatformFor(ua),
			"plugins.length":      0,
			"hardwareConcurrency": hardwareChoices[p.rnd.Intn(len(hardwareChoices))],
			"deviceMemory":        memoryChoices[p.rnd.Intn(len(memoryChoices))],
		},
	}
}

// PlatformFor infers a plausible navigator.platform from user-agent
// substrings.
func PlatformFor(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iPhone"
	case strings.Contains(ua, "android"):
		return "Linux armv8l"
	case strings.Contains(ua, "windows"):
		return "Win32"
	case strings.Contains(ua, "mac"):
		return "MacIntel"
	case strings.Contains(ua, "linux"):
		return "Linux x86_64"
	default:
		return "Win32"
	}
}
