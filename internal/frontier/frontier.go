// Package frontier implements the URL frontier: a priority queue of pending
// URLs with at-most-once admission.
//
// All state lives behind one mutex, so the seen check and the insert are a
// single atomic step. Entries handed out by Next are leased until the caller
// reports Done or Retry; Pending counts leased entries so that "nothing
// queued" is never mistaken for "crawl finished" while work is in flight.
package frontier

import (
	"container/heap"
	"fmt"
	"sync"
	"time"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

// AddResult is the outcome of an Add call.
type AddResult int

// Add outcomes.
const (
	Added AddResult = iota + 1
	AlreadySeen
	Rejected
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "added"
	case AlreadySeen:
		return "already_seen"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// maxHint keeps a priority hint inside its depth band.
const maxHint = 0.99

// Entry is a URL awaiting dispatch.
type Entry struct {
	URL          string
	Priority     float64
	Depth        int
	DiscoveredAt time.Time
	// Attempt is 1 for the first fetch and grows with each retry.
	Attempt int

	seq     uint64
	readyAt time.Time
}

// Stats is a point-in-time view of the frontier.
type Stats struct {
	Queued   int `json:"queued"`
	Parked   int `json:"parked"`
	InFlight int `json:"in_flight"`
	Seen     int `json:"seen"`
	Crawled  int `json:"crawled"`
}

// Config controls frontier admission.
type Config struct {
	// MaxQueued caps queued entries; Add is rejected at the cap. Zero means unbounded.
	MaxQueued int
	Hasher    crawler.Hasher
	Clock     crawler.Clock
}

// Frontier is safe for concurrent use.
type Frontier struct {
	mu       sync.Mutex
	queue    entryHeap
	parked   parkedHeap
	seen     map[string]struct{}
	crawled  map[string]struct{}
	inFlight int
	seq      uint64

	maxQueued int
	hasher    crawler.Hasher
	clock     crawler.Clock
}

// New builds an empty Frontier.
func New(cfg Config) *Frontier {
	return &Frontier{
		seen:      make(map[string]struct{}),
		crawled:   make(map[string]struct{}),
		maxQueued: cfg.MaxQueued,
		hasher:    cfg.Hasher,
		clock:     cfg.Clock,
	}
}

// Add admits rawURL at the given depth unless its normalized form was seen
// before. hint shifts the priority within the depth band (0 keeps pure
// breadth-first order). Rejected results carry an error wrapping
// crawler.ErrFrontierRejected; a rejected URL is not marked seen.
func (f *Frontier) Add(rawURL string, depth int, hint float64) (AddResult, error) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return Rejected, fmt.Errorf("%w: %w", crawler.ErrFrontierRejected, err)
	}
	if depth < 0 {
		return Rejected, fmt.Errorf("%w: negative depth %d", crawler.ErrFrontierRejected, depth)
	}
	key, err := f.key(normalized)
	if err != nil {
		return Rejected, fmt.Errorf("%w: %w", crawler.ErrFrontierRejected, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.seen[key]; dup {
		return AlreadySeen, nil
	}
	if f.maxQueued > 0 && f.queue.Len()+f.parked.Len() >= f.maxQueued {
		return Rejected, fmt.Errorf("%w: queue full at %d entries", crawler.ErrFrontierRejected, f.maxQueued)
	}
	f.seen[key] = struct{}{}
	f.seq++
	heap.Push(&f.queue, &Entry{
		URL:          normalized,
		Priority:     float64(depth) + clampHint(hint),
		Depth:        depth,
		DiscoveredAt: f.now(),
		Attempt:      1,
		seq:          f.seq,
	})
	return Added, nil
}

// Next leases the lowest (priority, depth, insertion) entry. It returns
// false when nothing is ready right now; callers must also consult Pending
// before concluding that the crawl is over.
func (f *Frontier) Next() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.promoteLocked(f.now())
	if f.queue.Len() == 0 {
		return Entry{}, false
	}
	e, _ := heap.Pop(&f.queue).(*Entry)
	f.inFlight++
	return *e, true
}

// Retry ends the lease on e and parks it until delay has elapsed, with its
// attempt counter advanced. Parked entries bypass deduplication.
func (f *Frontier) Retry(e Entry, delay time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.releaseLocked()
	f.seq++
	e.Attempt++
	e.seq = f.seq
	e.readyAt = f.now().Add(delay)
	heap.Push(&f.parked, &e)
}

// Done ends the lease on an entry returned by Next.
func (f *Frontier) Done(Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseLocked()
}

// MarkCrawled records a completed fetch for statistics. It does not affect
// deduplication, which happens at Add time.
func (f *Frontier) MarkCrawled(rawURL string) {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return
	}
	key, err := f.key(normalized)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.crawled[key] = struct{}{}
	f.mu.Unlock()
}

// IsCrawled reports whether MarkCrawled was called for rawURL.
func (f *Frontier) IsCrawled(rawURL string) bool {
	normalized, err := crawler.NormalizeURL(rawURL)
	if err != nil {
		return false
	}
	key, err := f.key(normalized)
	if err != nil {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.crawled[key]
	return ok
}

// Len returns the number of queued and parked entries.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() + f.parked.Len()
}

// Pending returns queued, parked and leased entries together. Zero means
// no further work can appear.
func (f *Frontier) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Len() + f.parked.Len() + f.inFlight
}

// Stats returns a snapshot of frontier sizes.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Queued:   f.queue.Len(),
		Parked:   f.parked.Len(),
		InFlight: f.inFlight,
		Seen:     len(f.seen),
		Crawled:  len(f.crawled),
	}
}

func (f *Frontier) releaseLocked() {
	if f.inFlight > 0 {
		f.inFlight--
	}
}

// promoteLocked moves parked entries whose delay has elapsed into the queue.
func (f *Frontier) promoteLocked(now time.Time) {
	for f.parked.Len() > 0 && !f.parked[0].readyAt.After(now) {
		e, _ := heap.Pop(&f.parked).(*Entry)
		heap.Push(&f.queue, e)
	}
}

func (f *Frontier) key(normalized string) (string, error) {
	if f.hasher == nil {
		return normalized, nil
	}
	digest, err := f.hasher.Hash([]byte(normalized))
	if err != nil {
		return "", fmt.Errorf("hash url: %w", err)
	}
	return digest, nil
}

func (f *Frontier) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}

func clampHint(hint float64) float64 {
	switch {
	case hint < 0:
		return 0
	case hint > maxHint:
		return maxHint
	default:
		return hint
	}
}
