package archive

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/metrics"
)

// ContentClient downloads the raw text of individual robots.txt captures.
type ContentClient struct {
	requester
}

// NewContentClient builds a ContentClient. limiter may be nil.
func NewContentClient(fetcher Fetcher, limiter Limiter, cfg Config, logger *zap.Logger) *ContentClient {
	return &ContentClient{requester: newRequester(fetcher, limiter, cfg, logger)}
}

// SnapshotURL returns the raw-content ("id_") URL of one capture.
func (c *ContentClient) SnapshotURL(domain string, ts Timestamp) string {
	return fmt.Sprintf("%s/%sid_/%s/robots.txt", c.cfg.ContentURL, ts, domain)
}

// FetchSnapshot returns the capture's text on HTTP 200 with a non-empty body
// and Missing otherwise. Failures are logged; a failed capture never stops
// the caller.
func (c *ContentClient) FetchSnapshot(ctx context.Context, domain string, ts Timestamp) Content {
	url := c.SnapshotURL(domain, ts)
	resp, err := c.get(ctx, url)
	if err != nil {
		metrics.ObserveArchiveRequest(metrics.EndpointContent, metrics.OutcomeTransportError, resp.Duration, 0)
		c.logger.Warn("snapshot fetch failed",
			zap.String("domain", domain),
			zap.String("timestamp", string(ts)),
			zap.String("url", url),
			zap.Error(err),
		)
		return Missing()
	}
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveArchiveRequest(metrics.EndpointContent, metrics.OutcomeHTTPError, resp.Duration, len(resp.Body))
		c.logger.Warn("snapshot fetch returned non-200 status",
			zap.String("domain", domain),
			zap.String("timestamp", string(ts)),
			zap.Int("status", resp.StatusCode),
		)
		return Missing()
	}
	if len(resp.Body) == 0 {
		metrics.ObserveArchiveRequest(metrics.EndpointContent, metrics.OutcomeEmpty, resp.Duration, 0)
		c.logger.Debug("snapshot is empty",
			zap.String("domain", domain),
			zap.String("timestamp", string(ts)),
		)
		return Missing()
	}
	metrics.ObserveArchiveRequest(metrics.EndpointContent, metrics.OutcomeOK, resp.Duration, len(resp.Body))
	return Found(string(resp.Body))
}
