// Package frontier holds the priority-ordered set of URLs discovered but not
// yet fetched.
package frontier

import (
	"container/heap"
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"webharvest/pkg/types"
)

// ErrClosed is returned by Pop once the queue is closed and drained.
var ErrClosed = errors.New("frontier closed")

// Queue is a min-priority frontier with a normalized-URL seen set. Shallow
// URLs dequeue before deep ones, giving a breadth-biased crawl order.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  itemHeap
	seen   map[string]struct{}
	closed bool

	trapThreshold int
}

// New creates an empty queue. trapThreshold is the number of occurrences of
// a repeating path-segment sequence that marks a URL as a crawl trap.
func New(trapThreshold int) *Queue {
	if trapThreshold < 2 {
		trapThreshold = 2
	}
	q := &Queue{
		seen:          make(map[string]struct{}),
		trapThreshold: trapThreshold,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push inserts a URL at the given link depth. It returns false when the URL
// is invalid, matches a crawl-trap pattern, or was already pushed once.
func (q *Queue) Push(rawURL string, depth int) bool {
	normalized, u, err := Normalize(rawURL)
	if err != nil {
		return false
	}
	if HasRepetitivePath(u.Path, q.trapThreshold) {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if _, ok := q.seen[normalized]; ok {
		return false
	}
	q.seen[normalized] = struct{}{}

	heap.Push(&q.items, types.FrontierItem{
		URL:      normalized,
		Priority: Priority(u, depth),
		Depth:    depth,
	})
	q.cond.Broadcast()
	return true
}

// Requeue re-inserts an item for a retry attempt, bypassing the seen set.
func (q *Queue) Requeue(item types.FrontierItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	heap.Push(&q.items, item)
	q.cond.Broadcast()
	return true
}

// Pop removes the lowest-priority item, blocking while the queue is empty.
// It returns ErrClosed after Close, and the context error if ctx is
// cancelled while waiting.
func (q *Queue) Pop(ctx context.Context) (types.FrontierItem, error) {
	// Wake the cond wait when the context ends.
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return types.FrontierItem{}, ctx.Err()
		}
		if len(q.items) > 0 {
			return heap.Pop(&q.items).(types.FrontierItem), nil
		}
		if q.closed {
			return types.FrontierItem{}, ErrClosed
		}
		q.cond.Wait()
	}
}

// MarkSeen records a normalized URL without queueing it. It returns true if
// the URL was newly inserted.
func (q *Queue) MarkSeen(rawURL string) bool {
	normalized, _, err := Normalize(rawURL)
	if err != nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.seen[normalized]; ok {
		return false
	}
	q.seen[normalized] = struct{}{}
	return true
}

// Len reports the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops the queue: pending Pops drain remaining items and then return
// ErrClosed; new pushes are rejected.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Priority scores a URL for dequeue ordering: lower dequeues first. The
// score grows with path depth so root-level URLs are crawled before deep
// ones; query parameters add a small penalty.
func Priority(u *url.URL, depth int) float64 {
	segments := 0
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			segments++
		}
	}
	score := float64(depth)*10 + float64(segments)
	if u.RawQuery != "" {
		score += 0.5 * float64(len(u.Query()))
	}
	return score
}

// Normalize canonicalizes a URL for seen-set membership: lowercase scheme
// and host, fragment stripped, trailing slash removed from non-root paths.
func Normalize(rawURL string) (string, *url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return "", nil, errors.New("url must be absolute")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	} else if u.Path != "/" {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}
	return u.String(), u, nil
}
