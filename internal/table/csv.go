// Package table reads and writes the CSV files the scraper consumes and
// produces.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/robots-history/internal/pipeline"
	"github.com/JakeFAU/robots-history/internal/robots"
)

// Column names used in scraper output and enrichment input.
const (
	ColumnDomain          = "Domain"
	ColumnTimestamp       = "Timestamp"
	ColumnUserAgent       = "UserAgent"
	ColumnRobotsTxt       = "RobotsTxt"
	ColumnBlockedCrawlers = "Blocked_Crawlers"
)

// ErrMissingColumn is returned when an input CSV lacks a required column.
var ErrMissingColumn = errors.New("missing required column")

// RecordHeader is the header row written by WriteRecords.
var RecordHeader = []string{ColumnDomain, ColumnTimestamp, ColumnUserAgent, ColumnRobotsTxt}

// WriteRecords writes the header followed by one row per record.
func WriteRecords(w io.Writer, records []pipeline.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(RecordHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, r := range records {
		row := []string{r.Domain, string(r.Timestamp), r.UserAgent, r.RobotsTxt}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadDomains returns the first column of every row, skipping blanks, `#`
// comments and a leading "Domain" header. Plain one-per-line files parse too.
func ReadDomains(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.Comment = '#'
	cr.TrimLeadingSpace = true

	var domains []string
	first := true
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read domains: %w", err)
		}
		if len(row) == 0 {
			continue
		}
		domain := strings.TrimSpace(row[0])
		if first {
			first = false
			if strings.EqualFold(domain, ColumnDomain) {
				continue
			}
		}
		if domain == "" {
			continue
		}
		domains = append(domains, domain)
	}
	return domains, nil
}

// EnrichBlocked copies the CSV from r to w, appending a Blocked_Crawlers
// column computed from each row's RobotsTxt cell.
func EnrichBlocked(r io.Reader, w io.Writer) (int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("%w: %s (empty input)", ErrMissingColumn, ColumnRobotsTxt)
	}
	if err != nil {
		return 0, fmt.Errorf("read header: %w", err)
	}
	col := indexOf(header, ColumnRobotsTxt)
	if col < 0 {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumn, ColumnRobotsTxt)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(append(header, ColumnBlockedCrawlers)); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	rows := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, fmt.Errorf("read row %d: %w", rows+1, err)
		}
		var text string
		if col < len(row) {
			text = row[col]
		}
		if err := cw.Write(append(row, robots.BlockedCrawlers(text).String())); err != nil {
			return rows, fmt.Errorf("write row %d: %w", rows+1, err)
		}
		rows++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		// Spreadsheet exports often carry a BOM on the first cell.
		if strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) == name {
			return i
		}
	}
	return -1
}
