// Package system provides the wall clock used to stamp runs.
package system

import "time"

// DefaultPrecision matches the finest timestamp every sink stores.
const DefaultPrecision = time.Millisecond

// Clock implements pipeline.Clock on the wall clock. Readings are UTC and
// truncated to the clock's precision, so a run's started_at reads back the
// same from CSV, SQLite, Postgres and the published summary.
type Clock struct {
	precision time.Duration
}

// New returns a clock truncating to DefaultPrecision.
func New() *Clock {
	return NewWithPrecision(DefaultPrecision)
}

// NewWithPrecision returns a clock truncating to p. Zero or less keeps the
// full resolution.
func NewWithPrecision(p time.Duration) *Clock {
	return &Clock{precision: p}
}

// Now returns the current UTC time.
func (c *Clock) Now() time.Time {
	now := time.Now().UTC()
	if c.precision > 0 {
		now = now.Truncate(c.precision)
	}
	return now
}
