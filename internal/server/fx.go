// Package server wires configuration into a runnable application: archive
// clients, the domain fleet, output sinks, run notifications and the optional
// metrics listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/archive"
	"github.com/JakeFAU/robots-history/internal/clock/system"
	"github.com/JakeFAU/robots-history/internal/config"
	collyfetcher "github.com/JakeFAU/robots-history/internal/fetcher/colly"
	"github.com/JakeFAU/robots-history/internal/hash/sha256"
	"github.com/JakeFAU/robots-history/internal/id/uuid"
	"github.com/JakeFAU/robots-history/internal/logging"
	"github.com/JakeFAU/robots-history/internal/metrics"
	"github.com/JakeFAU/robots-history/internal/pipeline"
	"github.com/JakeFAU/robots-history/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/robots-history/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/robots-history/internal/publisher/pubsub"
	"github.com/JakeFAU/robots-history/internal/storage"
	pgstore "github.com/JakeFAU/robots-history/internal/storage/postgres"
	sqlitestore "github.com/JakeFAU/robots-history/internal/storage/sqlite"
	"github.com/JakeFAU/robots-history/internal/table"
	"github.com/JakeFAU/robots-history/internal/telemetry"
)

// ErrNoDomains is returned when neither scrape.domains nor scrape.domains_file
// yields a domain.
var ErrNoDomains = errors.New("no domains configured (set scrape.domains or scrape.domains_file)")

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	fetcher         archive.Fetcher
	runner          pipeline.DomainRunner
	publisher       pipeline.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	tracerProvider  *sdktrace.TracerProvider
	metricsSrv      *http.Server
	metricsAddr     string
}

// Option customises Build.
type Option func(*App)

// WithLogger supplies a logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithFetcher replaces the Colly fetcher.
func WithFetcher(f archive.Fetcher) Option {
	return func(a *App) { a.fetcher = f }
}

// WithPublisher replaces the configured publisher.
func WithPublisher(p pipeline.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg}
	for _, opt := range opts {
		opt(app)
	}

	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}
	app.tracerProvider = tp

	app.logger.Info("building application dependencies",
		zap.String("cdx_url", cfg.Archive.CDXURL),
		zap.String("content_url", cfg.Archive.ContentURL),
		zap.Duration("pace_interval", cfg.Scrape.PaceInterval),
		zap.Int("max_concurrency", cfg.Scrape.MaxConcurrency),
	)

	app.runner = setupPipeline(app)

	if app.publisher == nil {
		app.publisher, err = setupPublisher(ctx, app)
		if err != nil {
			return nil, err
		}
	}

	if err := setupMetrics(app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// MetricsAddr returns the bound metrics listener address, or "" when disabled.
func (a *App) MetricsAddr() string {
	return a.metricsAddr
}

// Scrape runs the configured domains through the fleet and writes the
// configured outputs.
func (a *App) Scrape(ctx context.Context) (_ pipeline.Summary, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "scrape")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	window, err := a.cfg.Scrape.Window()
	if err != nil {
		return pipeline.Summary{}, err
	}
	domains, err := a.resolveDomains(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}

	sinks, closeSinks, err := a.openSinks(ctx)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer closeSinks()

	fleet := pipeline.NewFleet(a.runner,
		pipeline.FleetConfig{
			MaxConcurrency: a.cfg.Scrape.MaxConcurrency,
			Topic:          a.topic(),
		},
		a.logger.Named("fleet"),
		pipeline.WithSinks(sinks...),
		pipeline.WithPublisher(a.publisher),
		pipeline.WithClock(system.New()),
		pipeline.WithIDGenerator(uuid.New()),
	)
	summary, err := fleet.Scrape(ctx, domains, window)
	span.SetAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.Int("domains", summary.Domains),
		attribute.Int("records", summary.Records),
	)
	if err != nil {
		return summary, fmt.Errorf("scrape: %w", err)
	}
	return summary, nil
}

// Blocked streams the CSV at input through the blocked-crawler enrichment and
// writes the result to output. It returns the number of data rows.
func (a *App) Blocked(ctx context.Context, input, output string) (int, error) {
	in, err := storage.Open(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer a.closeHandle(in)
	out, err := storage.Open(ctx, output)
	if err != nil {
		return 0, fmt.Errorf("open output: %w", err)
	}
	defer a.closeHandle(out)

	src, err := in.Store.GetObject(ctx, in.Key)
	if err != nil {
		return 0, fmt.Errorf("read input: %w", err)
	}
	defer func() { _ = src.Close() }()

	pr, pw := io.Pipe()
	rowsCh := make(chan int, 1)
	go func() {
		rows, err := table.EnrichBlocked(src, pw)
		rowsCh <- rows
		_ = pw.CloseWithError(err)
	}()

	uri, err := out.Store.PutObject(ctx, out.Key, a.cfg.Storage.ContentType, pr)
	// Unblock the encoder if the store stopped reading early.
	_ = pr.CloseWithError(io.ErrClosedPipe)
	rows := <-rowsCh
	if err != nil {
		return rows, fmt.Errorf("enrich %s: %w", input, err)
	}
	a.logger.Info("results saved", zap.String("input", input), zap.String("output", uri), zap.Int("rows", rows))
	return rows, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.metricsSrv != nil {
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	a.closeInfrastructure()
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown: %w", err))
		}
	}
	// Sync fails on stdout/stderr ttys; nothing useful to report.
	_ = a.logger.Sync()
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure() {
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
}

func (a *App) closeHandle(h *storage.Handle) {
	if err := h.Close(); err != nil {
		a.logger.Warn("storage close failed", zap.Error(err))
	}
}

func (a *App) topic() string {
	if a.cfg.PubSub.TopicName != "" {
		return a.cfg.PubSub.TopicName
	}
	return "robots-history-runs"
}

// resolveDomains merges scrape.domains with scrape.domains_file, keeping the
// first occurrence of each domain.
func (a *App) resolveDomains(ctx context.Context) ([]string, error) {
	domains := append([]string(nil), a.cfg.Scrape.Domains...)
	if a.cfg.Scrape.DomainsFile != "" {
		h, err := storage.Open(ctx, a.cfg.Scrape.DomainsFile)
		if err != nil {
			return nil, fmt.Errorf("open domains file: %w", err)
		}
		defer a.closeHandle(h)
		rc, err := h.Store.GetObject(ctx, h.Key)
		if err != nil {
			return nil, fmt.Errorf("read domains file: %w", err)
		}
		defer func() { _ = rc.Close() }()
		fromFile, err := table.ReadDomains(rc)
		if err != nil {
			return nil, fmt.Errorf("parse domains file %s: %w", a.cfg.Scrape.DomainsFile, err)
		}
		domains = append(domains, fromFile...)
	}

	seen := make(map[string]struct{}, len(domains))
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(d)
		key := strings.ToLower(d)
		if d == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			a.logger.Debug("skipping duplicate domain", zap.String("domain", d))
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, ErrNoDomains
	}
	return out, nil
}

// openSinks builds the record sinks for one scrape. The output path picks
// SQLite or CSV; Postgres is added when db.dsn is set.
func (a *App) openSinks(ctx context.Context) ([]pipeline.RecordSink, func(), error) {
	var (
		sinks   []pipeline.RecordSink
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	hasher := sha256.New()
	output := a.cfg.Scrape.Output

	if storage.IsSQLite(output) {
		target, err := storage.ParseTarget(output)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite output: %w", err)
		}
		if target.Scheme != storage.SchemeLocal {
			return nil, nil, fmt.Errorf("sqlite output %q must be a local path", output)
		}
		db, err := sqlitestore.Open(ctx, strings.TrimPrefix(output, "file://"), hasher)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite output: %w", err)
		}
		closers = append(closers, func() {
			if err := db.Close(); err != nil {
				a.logger.Warn("sqlite close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, db)
		a.logger.Info("writing records to sqlite", zap.String("path", output))
	} else {
		h, err := storage.Open(ctx, output)
		if err != nil {
			return nil, nil, fmt.Errorf("open output: %w", err)
		}
		closers = append(closers, func() { a.closeHandle(h) })
		sinks = append(sinks, table.NewBlobSink(h.Store, h.Key, a.cfg.Storage.ContentType))
		a.logger.Info("writing records to csv", zap.String("target", output))
	}

	if a.cfg.DB.DSN != "" {
		pg, err := pgstore.NewRecordStore(ctx, pgstore.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		}, hasher)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("postgres record store init failed: %w", err)
		}
		closers = append(closers, pg.Close)
		if a.cfg.DB.CreateSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				closeAll()
				return nil, nil, fmt.Errorf("postgres schema: %w", err)
			}
		}
		sinks = append(sinks, pg)
		a.logger.Info("postgres record store initialized", zap.String("table", a.cfg.DB.Table))
	}
	return sinks, closeAll, nil
}

func setupPipeline(app *App) pipeline.DomainRunner {
	if app.fetcher == nil {
		app.fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent: app.cfg.Archive.UserAgent,
			Timeout:   app.cfg.Archive.RequestTimeout,
		})
		app.logger.Info("using colly fetcher", zap.String("user_agent", app.cfg.Archive.UserAgent))
	}

	var limiter archive.Limiter
	if app.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RPS:   app.cfg.RateLimit.RPS,
			Burst: app.cfg.RateLimit.Burst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", app.cfg.RateLimit.RPS),
			zap.Int("burst", app.cfg.RateLimit.Burst),
		)
	}

	archiveCfg := archive.Config{
		CDXURL:         app.cfg.Archive.CDXURL,
		ContentURL:     app.cfg.Archive.ContentURL,
		RequestTimeout: app.cfg.Archive.RequestTimeout,
	}
	index := archive.NewIndexClient(app.fetcher, limiter, archiveCfg, app.logger.Named("cdx"))
	content := archive.NewContentClient(app.fetcher, limiter, archiveCfg, app.logger.Named("content"))
	return pipeline.New(index, content,
		pipeline.Config{PaceInterval: app.cfg.Scrape.PaceInterval},
		app.logger.Named("pipeline"),
	)
}

func setupPublisher(ctx context.Context, app *App) (pipeline.Publisher, error) {
	if !app.cfg.PubSub.Enabled() {
		app.logger.Debug("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupMetrics(app *App) error {
	if app.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", app.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	app.metricsAddr = ln.Addr().String()
	app.metricsSrv = &http.Server{
		Handler:           NewRouter(app.logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		app.logger.Info("metrics server started", zap.String("addr", app.metricsAddr))
		if err := app.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}
