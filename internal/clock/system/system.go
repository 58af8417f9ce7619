// Package system provides the wall clock used for crawl timestamps.
package system

import "time"

// Clock implements crawler.Clock. Times are UTC and truncated to the
// microsecond precision of Postgres timestamptz columns, so a value read back
// from the database equals the one that was written.
type Clock struct{}

// New returns the wall clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
