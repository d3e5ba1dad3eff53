// Package pipeline turns domain lists into robots.txt history records: one
// Pipeline per domain walks its captures in order, and a Fleet runs all
// pipelines concurrently and hands the flattened result to the sinks.
package pipeline

import (
	"time"

	"github.com/JakeFAU/robots-history/internal/archive"
)

// Record is one (domain, capture, user agent) row, carrying the full capture text.
type Record struct {
	Domain    string
	Timestamp archive.Timestamp
	UserAgent string
	RobotsTxt string
}

// DomainResult is what a Pipeline produced for one domain.
type DomainResult struct {
	Domain string
	// Snapshots is the number of captures the index listed in the window.
	Snapshots int
	// Fetched is the number of captures whose content was retrieved.
	Fetched int
	Records []Record
}

// Result is the flattened outcome of a fleet run.
type Result struct {
	Domains            int
	DomainsWithRecords int
	Snapshots          int
	Fetched            int
	Records            []Record
}

// Run is the unit handed to record sinks.
type Run struct {
	ID        string
	StartedAt time.Time
	Window    archive.Window
	Records   []Record
}

// Summary describes a completed run; it is published once the sinks finish.
type Summary struct {
	RunID              string    `json:"run_id"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	WindowStart        string    `json:"window_start"`
	WindowEnd          string    `json:"window_end"`
	Domains            int       `json:"domains"`
	DomainsWithRecords int       `json:"domains_with_records"`
	Snapshots          int       `json:"snapshots"`
	Fetched            int       `json:"fetched"`
	Records            int       `json:"records"`
	Outputs            []string  `json:"outputs,omitempty"`
}
