package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/archive"
	"github.com/JakeFAU/robots-history/internal/metrics"
	"github.com/JakeFAU/robots-history/internal/robots"
)

// DefaultPaceInterval is the pause between consecutive capture fetches.
const DefaultPaceInterval = 50 * time.Millisecond

// Pacer waits d between fetches. It returns an error when ctx ends first.
type Pacer func(ctx context.Context, d time.Duration) error

// SleepPacer waits on a timer, returning early if ctx is done.
func SleepPacer(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("pace wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Config controls a Pipeline.
type Config struct {
	PaceInterval time.Duration
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithPacer replaces the timer-based pacer.
func WithPacer(p Pacer) Option {
	return func(pl *Pipeline) {
		if p != nil {
			pl.pace = p
		}
	}
}

// Pipeline processes a single domain: one index lookup, then one fetch per
// capture in ascending order with a fixed pause after each attempt.
type Pipeline struct {
	index  SnapshotIndex
	source SnapshotSource
	cfg    Config
	pace   Pacer
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(index SnapshotIndex, source SnapshotSource, cfg Config, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PaceInterval < 0 {
		cfg.PaceInterval = 0
	}
	p := &Pipeline{
		index:  index,
		source: source,
		cfg:    cfg,
		pace:   SleepPacer,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run returns the records for domain. It never fails: unavailable captures are
// skipped, and a cancelled ctx ends the walk with whatever was collected.
func (p *Pipeline) Run(ctx context.Context, domain string, window archive.Window) DomainResult {
	result := DomainResult{Domain: domain}
	log := p.logger.With(zap.String("domain", domain))

	timestamps := p.index.ListSnapshots(ctx, domain, window)
	result.Snapshots = len(timestamps)
	if len(timestamps) == 0 {
		log.Info("no records found in the specified range",
			zap.String("start", string(window.Start)),
			zap.String("end", string(window.End)),
		)
		metrics.ObserveDomain(false)
		return result
	}

	for _, ts := range timestamps {
		log.Info("fetching snapshot", zap.String("timestamp", string(ts)))
		content := p.source.FetchSnapshot(ctx, domain, ts)
		if text, ok := content.Body(); ok {
			result.Fetched++
			result.Records = append(result.Records, p.recordsFor(domain, ts, text)...)
		}

		if err := p.pace(ctx, p.cfg.PaceInterval); err != nil {
			log.Warn("domain run interrupted", zap.String("timestamp", string(ts)), zap.Error(err))
			break
		}
	}

	metrics.ObserveRecords(domain, len(result.Records))
	metrics.ObserveDomain(len(result.Records) > 0)
	log.Info("domain complete",
		zap.Int("snapshots", result.Snapshots),
		zap.Int("fetched", result.Fetched),
		zap.Int("records", len(result.Records)),
	)
	return result
}

func (p *Pipeline) recordsFor(domain string, ts archive.Timestamp, text string) []Record {
	agents := robots.UserAgents(text)
	records := make([]Record, 0, len(agents))
	for _, agent := range agents {
		records = append(records, Record{
			Domain:    domain,
			Timestamp: ts,
			UserAgent: agent,
			RobotsTxt: text,
		})
	}
	return records
}
