package types

import (
	"net/http"
	"time"
)

// Status is the terminal scheduling outcome of a single fetch attempt.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusRetry   Status = "RETRY"
	StatusFailed  Status = "FAILED"
)

// ContentType is the coarse page classification produced by the extractor.
type ContentType string

const (
	ContentProduct  ContentType = "PRODUCT"
	ContentBlogPost ContentType = "BLOG_POST"
	ContentArticle  ContentType = "ARTICLE"
	ContentGeneral  ContentType = "GENERAL"
	ContentUnknown  ContentType = "UNKNOWN"
)

// FrontierItem models a pending URL in the crawl frontier. Lower priority
// values dequeue first.
type FrontierItem struct {
	URL      string
	Priority float64
	Depth    int
	Attempt  int
}

// DomainMetrics tracks rolling politeness and quality state for one host.
// Created lazily on first request, never deleted during a session.
type DomainMetrics struct {
	Domain        string
	Delay         time.Duration
	BackoffFactor float64
	MaxRetries    int
	TotalScraped  int64
	LowQuality    int64
	Empty         int64
	Failed        int64
	Success       int64
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// Fingerprint is a consistent per-session browser identity. Immutable once
// created.
type Fingerprint struct {
	UserAgent   string
	Viewport    Viewport
	JSOverrides map[string]any
}

// FieldValue is the outcome of extracting one schema field. Error is empty
// on success; a non-empty Error means the selector failed and healing did
// not recover the field.
type FieldValue struct {
	Value    string
	Selector string
	Error    string
}

// HealingEvent records a selector repaired by text-match recovery.
type HealingEvent struct {
	Field       string
	OldSelector string
	NewSelector string
}

// Cookie is a browser cookie captured from or applied to a session.
type Cookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"http_only,omitempty"`
}

// ScrapeResult aggregates everything produced by one fetch attempt.
// Immutable after creation; consumed by the scheduler and by persistence.
type ScrapeResult struct {
	Status        Status
	URL           string
	SessionID     string
	Title         string
	ContentText   string
	ContentHTML   string
	Links         []string
	VisualHash    string
	HTTPStatus    int
	Headers       http.Header
	Duration      time.Duration
	ContentType   ContentType
	ExtractedData map[string]FieldValue
	HealingEvents []HealingEvent
	ErrorMessage  string
	Retryable     bool
	// QualityRejected marks failures produced by the content quality gate,
	// which feed anomaly accounting separately from hard errors.
	QualityRejected bool
	Duplicate       bool
	FetchedAt       time.Time
	Depth           int
}

// Field returns the extracted value for a schema field, if one was recorded
// successfully.
func (r *ScrapeResult) Field(name string) (string, bool) {
	if r == nil || r.ExtractedData == nil {
		return "", false
	}
	fv, ok := r.ExtractedData[name]
	if !ok || fv.Error != "" {
		return "", false
	}
	return fv.Value, true
}
