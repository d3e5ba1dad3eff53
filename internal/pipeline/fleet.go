package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/robots-history/internal/archive"
)

// FleetConfig controls fan-out across domains.
type FleetConfig struct {
	// MaxConcurrency caps concurrent domain pipelines; zero means one per domain.
	MaxConcurrency int
	// Topic receives the run Summary when a publisher is configured.
	Topic string
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type fixedID string

func (f fixedID) NewID() (string, error) { return string(f), nil }

// FleetOption customises a Fleet.
type FleetOption func(*Fleet)

// WithSinks appends record sinks, written in order.
func WithSinks(sinks ...RecordSink) FleetOption {
	return func(f *Fleet) {
		for _, s := range sinks {
			if s != nil {
				f.sinks = append(f.sinks, s)
			}
		}
	}
}

// WithPublisher sets the notifier for run summaries.
func WithPublisher(p Publisher) FleetOption {
	return func(f *Fleet) { f.publisher = p }
}

// WithClock overrides the time source.
func WithClock(c Clock) FleetOption {
	return func(f *Fleet) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithIDGenerator overrides the run ID source.
func WithIDGenerator(g IDGenerator) FleetOption {
	return func(f *Fleet) {
		if g != nil {
			f.ids = g
		}
	}
}

// Fleet runs one pipeline per domain concurrently, waits for all of them, and
// hands the combined records to its sinks.
type Fleet struct {
	runner    DomainRunner
	cfg       FleetConfig
	sinks     []RecordSink
	publisher Publisher
	clock     Clock
	ids       IDGenerator
	logger    *zap.Logger
}

// NewFleet constructs a Fleet.
func NewFleet(runner DomainRunner, cfg FleetConfig, logger *zap.Logger, opts ...FleetOption) *Fleet {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxConcurrency < 0 {
		cfg.MaxConcurrency = 0
	}
	f := &Fleet{
		runner: runner,
		cfg:    cfg,
		clock:  systemClock{},
		ids:    fixedID("local"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// RunAll processes every domain and returns once all of them have finished.
// Records are grouped by domain in input order; within a domain they keep
// the pipeline's order.
func (f *Fleet) RunAll(ctx context.Context, domains []string, window archive.Window) Result {
	slots := make([]DomainResult, len(domains))

	var g errgroup.Group
	if f.cfg.MaxConcurrency > 0 {
		g.SetLimit(f.cfg.MaxConcurrency)
	}
	for i, domain := range domains {
		g.Go(func() error {
			slots[i] = f.runner.Run(ctx, domain, window)
			return nil
		})
	}
	// Pipelines never fail; Wait is the barrier.
	_ = g.Wait()

	result := Result{Domains: len(domains)}
	for _, slot := range slots {
		result.Snapshots += slot.Snapshots
		result.Fetched += slot.Fetched
		if len(slot.Records) > 0 {
			result.DomainsWithRecords++
		}
		result.Records = append(result.Records, slot.Records...)
	}
	return result
}

// Scrape runs the fleet and persists the result. When nothing was scraped it
// logs and returns without touching any sink.
func (f *Fleet) Scrape(ctx context.Context, domains []string, window archive.Window) (Summary, error) {
	runID, err := f.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := f.clock.Now()
	log := f.logger.With(zap.String("run_id", runID))
	log.Info("scrape started",
		zap.Int("domains", len(domains)),
		zap.String("start", string(window.Start)),
		zap.String("end", string(window.End)),
	)

	result := f.RunAll(ctx, domains, window)
	summary := Summary{
		RunID:              runID,
		StartedAt:          started,
		WindowStart:        string(window.Start),
		WindowEnd:          string(window.End),
		Domains:            result.Domains,
		DomainsWithRecords: result.DomainsWithRecords,
		Snapshots:          result.Snapshots,
		Fetched:            result.Fetched,
		Records:            len(result.Records),
	}

	if len(result.Records) == 0 {
		summary.FinishedAt = f.clock.Now()
		log.Info("no data scraped")
		return summary, nil
	}

	run := Run{ID: runID, StartedAt: started, Window: window, Records: result.Records}
	var errs []error
	for _, sink := range f.sinks {
		uri, err := sink.Write(ctx, run)
		if err != nil {
			log.Error("sink write failed", zap.String("sink", sink.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
			continue
		}
		log.Info("records written", zap.String("sink", sink.Name()), zap.String("uri", uri), zap.Int("records", len(run.Records)))
		summary.Outputs = append(summary.Outputs, uri)
	}
	summary.FinishedAt = f.clock.Now()
	if len(errs) > 0 {
		return summary, fmt.Errorf("write records: %w", errors.Join(errs...))
	}

	f.publish(ctx, log, summary)
	return summary, nil
}

func (f *Fleet) publish(ctx context.Context, log *zap.Logger, summary Summary) {
	if f.publisher == nil || f.cfg.Topic == "" {
		return
	}
	msgID, err := f.publisher.Publish(ctx, f.cfg.Topic, summary)
	if err != nil {
		log.Warn("failed to publish run summary", zap.String("topic", f.cfg.Topic), zap.Error(err))
		return
	}
	log.Info("run summary published", zap.String("topic", f.cfg.Topic), zap.String("message_id", msgID))
}
