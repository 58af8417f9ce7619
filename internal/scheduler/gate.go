package scheduler

import (
	"sync"
	"time"

	"github.com/shreyas-bk24/anvesha-crawler/internal/crawler"
)

// domainState is the scheduler's accounting for one domain. The grant
// timestamp is only ever advanced inside tryGrant, under mu.
type domainState struct {
	name string
	once sync.Once

	mu        sync.Mutex
	record    crawler.Domain
	delay     time.Duration
	allowed   bool
	lastGrant time.Time
	granted   bool
	// nextSlot staggers waiters so they do not all wake at the same instant.
	nextSlot  time.Time
	forbidden int
}

// reserve returns how long the caller should wait before trying to grant.
func (d *domainState) reserve(now time.Time) time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	eligible := now
	if d.granted {
		if earliest := d.lastGrant.Add(d.delay); earliest.After(eligible) {
			eligible = earliest
		}
	}
	if d.nextSlot.After(eligible) {
		eligible = d.nextSlot
	}
	d.nextSlot = eligible.Add(d.delay)
	return eligible.Sub(now)
}

// tryGrant commits a grant at now if the domain delay has elapsed since the
// previous grant.
func (d *domainState) tryGrant(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.granted && now.Sub(d.lastGrant) < d.delay {
		return false
	}
	d.lastGrant = now
	d.granted = true
	return true
}

func (d *domainState) isAllowed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allowed
}

func (d *domainState) currentDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delay
}

// markForbidden counts a 403 and reports whether the domain crossed limit
// on this call.
func (d *domainState) markForbidden(limit int) (crawler.Domain, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forbidden++
	if limit <= 0 || d.forbidden < limit || !d.allowed {
		return crawler.Domain{}, false
	}
	d.allowed = false
	d.record.CrawlAllowed = false
	return d.record, true
}

func (d *domainState) resetForbidden() {
	d.mu.Lock()
	d.forbidden = 0
	d.mu.Unlock()
}
