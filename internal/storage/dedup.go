package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"webharvest/internal/config"
	"webharvest/pkg/types"
)

// ContentHash returns a stable hex digest of the page text used for exact
// duplicate detection. Whitespace runs are collapsed first so trivial
// reformatting does not defeat the hash.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Similarity computes the Jaccard coefficient over word trigram shingles of
// two texts. Returns a value in [0,1]; 1 means identical shingle sets.
func Similarity(a, b string) float64 {
	sa := shingles(a)
	sb := shingles(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	intersection := 0
	for sh := range sa {
		if _, ok := sb[sh]; ok {
			intersection++
		}
	}
	union := len(sa) + len(sb) - intersection
	return float64(intersection) / float64(union)
}

func shingles(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	out := make(map[string]struct{})
	if len(words) < 3 {
		if len(words) > 0 {
			out[strings.Join(words, " ")] = struct{}{}
		}
		return out
	}
	for i := 0; i+3 <= len(words); i++ {
		out[strings.Join(words[i:i+3], " ")] = struct{}{}
	}
	return out
}

type seenEntry struct {
	hash string
	text string
	url  string
}

// Deduplicator flags exact and near-duplicate page content across a bounded
// window of recently stored pages. Exact matches are detected by content
// hash; near matches by shingle similarity against the window.
type Deduplicator struct {
	mu        sync.Mutex
	cfg       config.DedupConfig
	hashes    map[string]string
	window    []seenEntry
	nextSlot  int
	populated int
}

// NewDeduplicator builds a deduplicator with the configured scan window.
func NewDeduplicator(cfg config.DedupConfig) *Deduplicator {
	if cfg.ScanWindow <= 0 {
		cfg.ScanWindow = 1
	}
	return &Deduplicator{
		cfg:    cfg,
		hashes: make(map[string]string),
		window: make([]seenEntry, cfg.ScanWindow),
	}
}

// Check inspects the result's text against previously admitted content and
// sets the Duplicate flag when an exact or near match is found. The first
// occurrence of any content is always admitted and remembered.
func (d *Deduplicator) Check(result *types.ScrapeResult) {
	if d == nil || result == nil || result.ContentText == "" {
		return
	}
	hash := ContentHash(result.ContentText)

	d.mu.Lock()
	defer d.mu.Unlock()

	if firstURL, ok := d.hashes[hash]; ok && firstURL != result.URL {
		result.Duplicate = true
		return
	}
	if d.cfg.SimilarityThreshold > 0 && d.cfg.SimilarityThreshold < 1 {
		for i := 0; i < d.populated; i++ {
			entry := d.window[i]
			if entry.url == result.URL {
				continue
			}
			if Similarity(entry.text, result.ContentText) >= d.cfg.SimilarityThreshold {
				result.Duplicate = true
				return
			}
		}
	}

	d.hashes[hash] = result.URL
	d.window[d.nextSlot] = seenEntry{hash: hash, text: result.ContentText, url: result.URL}
	d.nextSlot = (d.nextSlot + 1) % len(d.window)
	if d.populated < len(d.window) {
		d.populated++
	}
}

// ShouldStore reports whether a result, after Check, should be written to
// the backing store.
func (d *Deduplicator) ShouldStore(result *types.ScrapeResult) bool {
	if result == nil {
		return false
	}
	if result.Duplicate && !d.cfg.StoreExactDuplicates {
		return false
	}
	return true
}
