// Package archive talks to the Wayback Machine: the CDX index that lists
// captures of a domain's robots.txt and the raw-content endpoint that serves
// each capture.
package archive

import (
	"context"
	"fmt"
	"time"
)

// TimestampLayout is the 14-digit capture timestamp format (YYYYMMDDHHMMSS).
const TimestampLayout = "20060102150405"

// Default archive endpoints.
const (
	DefaultCDXURL     = "http://web.archive.org/cdx/search/cdx"
	DefaultContentURL = "https://web.archive.org/web"
)

// Timestamp identifies one capture. Timestamps are fixed width, so string
// ordering matches chronological ordering.
type Timestamp string

// MonthStart returns the timestamp of the first second of the given month.
func MonthStart(year, month int) Timestamp {
	t := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	return Timestamp(t.Format(TimestampLayout))
}

// Time parses the timestamp as UTC.
func (ts Timestamp) Time() (time.Time, error) {
	t, err := time.Parse(TimestampLayout, string(ts))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", string(ts), err)
	}
	return t, nil
}

// Window bounds the captures of interest; both ends are inclusive.
type Window struct {
	Start Timestamp
	End   Timestamp
}

// NewWindow builds a Window from month/year pairs. Each bound is the first
// second of its month.
func NewWindow(startYear, startMonth, endYear, endMonth int) (Window, error) {
	if startMonth < 1 || startMonth > 12 {
		return Window{}, fmt.Errorf("start month %d out of range 1-12", startMonth)
	}
	if endMonth < 1 || endMonth > 12 {
		return Window{}, fmt.Errorf("end month %d out of range 1-12", endMonth)
	}
	w := Window{
		Start: MonthStart(startYear, startMonth),
		End:   MonthStart(endYear, endMonth),
	}
	if w.End < w.Start {
		return Window{}, fmt.Errorf("window end %s precedes start %s", w.End, w.Start)
	}
	return w, nil
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts Timestamp) bool {
	return w.Start <= ts && ts <= w.End
}

// Content is the outcome of a snapshot fetch: either the document text or
// nothing. Failures are reported by the client and surface here as Missing.
type Content struct {
	body  string
	found bool
}

// Found wraps a successfully fetched document.
func Found(body string) Content {
	return Content{body: body, found: true}
}

// Missing reports that no document is available for the capture.
func Missing() Content {
	return Content{}
}

// Body returns the document text and whether it was found.
func (c Content) Body() (string, bool) {
	return c.body, c.found
}

// Response is the raw result of one archive HTTP exchange.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs a single GET. Implementations return an error only when no
// HTTP response was received; non-2xx statuses come back in Response.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Response, error)
}

// Limiter paces outgoing archive requests.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Config holds the endpoint and timeout settings shared by both clients.
type Config struct {
	CDXURL         string
	ContentURL     string
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.CDXURL == "" {
		c.CDXURL = DefaultCDXURL
	}
	if c.ContentURL == "" {
		c.ContentURL = DefaultContentURL
	}
	return c
}
