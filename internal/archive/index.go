package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/metrics"
)

// timestampColumn is the CDX JSON column holding the capture timestamp.
const timestampColumn = 1

// IndexClient lists the captures of a domain's robots.txt.
type IndexClient struct {
	requester
}

// NewIndexClient builds an IndexClient. limiter may be nil.
func NewIndexClient(fetcher Fetcher, limiter Limiter, cfg Config, logger *zap.Logger) *IndexClient {
	return &IndexClient{requester: newRequester(fetcher, limiter, cfg, logger)}
}

// IndexURL returns the CDX query for the domain's robots.txt captures that
// were archived with status 200.
func (c *IndexClient) IndexURL(domain string) string {
	return fmt.Sprintf("%s?url=%s/robots.txt&output=json&filter=statuscode:200", c.cfg.CDXURL, domain)
}

// ListSnapshots returns the capture timestamps inside window, ascending.
// Failures are logged and produce an empty result; it never returns an error.
func (c *IndexClient) ListSnapshots(ctx context.Context, domain string, window Window) []Timestamp {
	url := c.IndexURL(domain)
	resp, err := c.get(ctx, url)
	if err != nil {
		metrics.ObserveArchiveRequest(metrics.EndpointIndex, metrics.OutcomeTransportError, resp.Duration, 0)
		c.logger.Warn("cdx lookup failed", zap.String("domain", domain), zap.Error(err))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveArchiveRequest(metrics.EndpointIndex, metrics.OutcomeHTTPError, resp.Duration, len(resp.Body))
		c.logger.Warn("cdx lookup returned non-200 status",
			zap.String("domain", domain),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	all, err := parseCDX(resp.Body)
	if err != nil {
		metrics.ObserveArchiveRequest(metrics.EndpointIndex, metrics.OutcomeMalformed, resp.Duration, len(resp.Body))
		c.logger.Warn("cdx response malformed", zap.String("domain", domain), zap.Error(err))
		return nil
	}

	inWindow := make([]Timestamp, 0, len(all))
	for _, ts := range all {
		if window.Contains(ts) {
			inWindow = append(inWindow, ts)
		}
	}
	slices.Sort(inWindow)

	outcome := metrics.OutcomeOK
	if len(inWindow) == 0 {
		outcome = metrics.OutcomeEmpty
	}
	metrics.ObserveArchiveRequest(metrics.EndpointIndex, outcome, resp.Duration, len(resp.Body))
	c.logger.Debug("cdx lookup complete",
		zap.String("domain", domain),
		zap.Int("captures", len(all)),
		zap.Int("in_window", len(inWindow)),
	)
	return inWindow
}

// parseCDX decodes the CDX JSON table and returns the timestamp column of
// every row after the header. An empty body means no captures.
func parseCDX(body []byte) ([]Timestamp, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var rows [][]any
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("decode cdx json: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil
	}
	out := make([]Timestamp, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) <= timestampColumn {
			continue
		}
		ts, ok := row[timestampColumn].(string)
		if !ok || strings.TrimSpace(ts) == "" {
			continue
		}
		out = append(out, Timestamp(ts))
	}
	return out, nil
}
