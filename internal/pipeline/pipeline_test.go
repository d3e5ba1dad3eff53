package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/robots-history/internal/archive"
)

const (
	cdxURL     = "https://cdx.test/cdx"
	contentURL = "https://content.test/web"
)

// routeFetcher serves canned responses keyed by URL; unknown URLs are 404.
type routeFetcher struct {
	mu     sync.Mutex
	routes map[string]archive.Response
	errs   map[string]error
	calls  []string
}

func (f *routeFetcher) Fetch(_ context.Context, url string) (archive.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if err, ok := f.errs[url]; ok {
		return archive.Response{}, err
	}
	if resp, ok := f.routes[url]; ok {
		return resp, nil
	}
	return archive.Response{URL: url, StatusCode: http.StatusNotFound}, nil
}

func ok(body string) archive.Response {
	return archive.Response{StatusCode: http.StatusOK, Body: []byte(body)}
}

func newClients(f archive.Fetcher) (*archive.IndexClient, *archive.ContentClient) {
	cfg := archive.Config{CDXURL: cdxURL, ContentURL: contentURL}
	return archive.NewIndexClient(f, nil, cfg, zap.NewNop()), archive.NewContentClient(f, nil, cfg, zap.NewNop())
}

func noPause(context.Context, time.Duration) error { return nil }

func testWindow(t *testing.T) archive.Window {
	t.Helper()
	w, err := archive.NewWindow(2020, 1, 2024, 12)
	require.NoError(t, err)
	return w
}

func TestPipelineIndex404ProducesNoRecords(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{}
	index, content := newClients(f)
	p := New(index, content, Config{}, zap.NewNop(), WithPacer(noPause))

	got := p.Run(context.Background(), "missing.example", testWindow(t))
	assert.Equal(t, "missing.example", got.Domain)
	assert.Zero(t, got.Snapshots)
	assert.Empty(t, got.Records)
	// Only the index was consulted.
	require.Len(t, f.calls, 1)
}

func TestPipelineEmitsRecordPerAgentInTimestampOrder(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]archive.Response{
		cdxURL + "?url=a.com/robots.txt&output=json&filter=statuscode:200": ok(
			`[["urlkey","timestamp"],["com,a)/robots.txt","20230101000000"],["com,a)/robots.txt","20210101000000"]]`),
		contentURL + "/20210101000000id_/a.com/robots.txt": ok("User-agent: *\nDisallow: /private"),
		contentURL + "/20230101000000id_/a.com/robots.txt": ok("User-agent: GPTBot\nDisallow: /\nUser-agent: CCBot\nDisallow: /"),
	}}
	index, content := newClients(f)

	var pauses []time.Duration
	pacer := func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}
	p := New(index, content, Config{PaceInterval: 25 * time.Millisecond}, zap.NewNop(), WithPacer(pacer))

	got := p.Run(context.Background(), "a.com", testWindow(t))
	require.Equal(t, 2, got.Snapshots)
	require.Equal(t, 2, got.Fetched)
	require.Len(t, got.Records, 3)

	assert.Equal(t, Record{
		Domain:    "a.com",
		Timestamp: "20210101000000",
		UserAgent: "*",
		RobotsTxt: "User-agent: *\nDisallow: /private",
	}, got.Records[0])
	assert.Equal(t, "GPTBot", got.Records[1].UserAgent)
	assert.Equal(t, "CCBot", got.Records[2].UserAgent)
	assert.Equal(t, archive.Timestamp("20230101000000"), got.Records[2].Timestamp)

	// One pause per fetch attempt.
	assert.Equal(t, []time.Duration{25 * time.Millisecond, 25 * time.Millisecond}, pauses)
}

func TestPipelineSkipsUnavailableCapturesButStillPaces(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{
		routes: map[string]archive.Response{
			cdxURL + "?url=b.com/robots.txt&output=json&filter=statuscode:200": ok(
				`[["urlkey","timestamp"],["x","20200101000000"],["x","20200201000000"],["x","20200301000000"]]`),
			contentURL + "/20200301000000id_/b.com/robots.txt": ok("User-agent: Bot\n"),
		},
		errs: map[string]error{
			contentURL + "/20200101000000id_/b.com/robots.txt": errors.New("connection reset"),
		},
	}
	index, content := newClients(f)

	var pauses atomic.Int32
	p := New(index, content, Config{}, zap.NewNop(), WithPacer(func(context.Context, time.Duration) error {
		pauses.Add(1)
		return nil
	}))

	got := p.Run(context.Background(), "b.com", testWindow(t))
	assert.Equal(t, 3, got.Snapshots)
	assert.Equal(t, 1, got.Fetched)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "Bot", got.Records[0].UserAgent)
	assert.Equal(t, int32(3), pauses.Load())
}

func TestPipelineEmptyDocumentYieldsNoRecords(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{routes: map[string]archive.Response{
		cdxURL + "?url=c.com/robots.txt&output=json&filter=statuscode:200": ok(`[["urlkey","timestamp"],["x","20220101000000"]]`),
		contentURL + "/20220101000000id_/c.com/robots.txt":                  ok(""),
	}}
	index, content := newClients(f)
	p := New(index, content, Config{}, zap.NewNop(), WithPacer(noPause))

	got := p.Run(context.Background(), "c.com", testWindow(t))
	assert.Equal(t, 1, got.Snapshots)
	assert.Zero(t, got.Fetched)
	assert.Empty(t, got.Records)
}

func TestPipelineStopsWhenPacerReportsCancellation(t *testing.T) {
	t.Parallel()

	index := stubIndex{"d.com": {"20200101000000", "20200201000000", "20200301000000"}}
	source := stubSource{body: "User-agent: *\nDisallow: /"}
	ctx, cancel := context.WithCancel(context.Background())
	p := New(index, source, Config{PaceInterval: time.Hour}, zap.NewNop(), WithPacer(func(ctx context.Context, d time.Duration) error {
		cancel()
		return SleepPacer(ctx, d)
	}))

	got := p.Run(ctx, "d.com", testWindow(t))
	require.Len(t, got.Records, 1)
	assert.Equal(t, archive.Timestamp("20200101000000"), got.Records[0].Timestamp)
}

func TestSleepPacer(t *testing.T) {
	t.Parallel()

	require.NoError(t, SleepPacer(context.Background(), 0))
	require.NoError(t, SleepPacer(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SleepPacer(ctx, time.Hour)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	p := New(stubIndex{}, stubSource{}, Config{PaceInterval: -time.Second}, nil, WithPacer(nil))
	require.NotNil(t, p.logger)
	require.NotNil(t, p.pace)
	require.Zero(t, p.cfg.PaceInterval)
}

type stubIndex map[string][]archive.Timestamp

func (s stubIndex) ListSnapshots(_ context.Context, domain string, _ archive.Window) []archive.Timestamp {
	return s[domain]
}

type stubSource struct {
	body string
}

func (s stubSource) FetchSnapshot(context.Context, string, archive.Timestamp) archive.Content {
	if s.body == "" {
		return archive.Missing()
	}
	return archive.Found(s.body)
}

func TestFleetKeepsOnlyWorkingDomains(t *testing.T) {
	t.Parallel()

	f := &routeFetcher{
		routes: map[string]archive.Response{
			cdxURL + "?url=good.com/robots.txt&output=json&filter=statuscode:200": ok(
				`[["urlkey","timestamp"],["x","20200101000000"],["x","20210101000000"],["x","20220101000000"]]`),
			contentURL + "/20200101000000id_/good.com/robots.txt": ok("User-agent: A\nUser-agent: B\n"),
			contentURL + "/20210101000000id_/good.com/robots.txt": ok("User-agent: A\n"),
			// 20220101000000 is missing from the content endpoint.
		},
		errs: map[string]error{
			cdxURL + "?url=bad.com/robots.txt&output=json&filter=statuscode:200": errors.New("dial tcp: refused"),
		},
	}
	index, content := newClients(f)
	fleet := NewFleet(New(index, content, Config{}, zap.NewNop(), WithPacer(noPause)), FleetConfig{}, zap.NewNop())

	got := fleet.RunAll(context.Background(), []string{"bad.com", "good.com"}, testWindow(t))
	assert.Equal(t, 2, got.Domains)
	assert.Equal(t, 1, got.DomainsWithRecords)
	assert.Equal(t, 3, got.Snapshots)
	assert.Equal(t, 2, got.Fetched)
	// (2 agents) + (1 agent) from the two fetched captures.
	require.Len(t, got.Records, 3)
	for _, r := range got.Records {
		assert.Equal(t, "good.com", r.Domain)
	}
}

// orderRunner finishes domains in reverse order to check that output order
// does not depend on completion order.
type orderRunner struct {
	delay map[string]time.Duration
	live  atomic.Int32
	peak  atomic.Int32
}

func (r *orderRunner) Run(_ context.Context, domain string, _ archive.Window) DomainResult {
	n := r.live.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(r.delay[domain])
	r.live.Add(-1)
	return DomainResult{
		Domain:    domain,
		Snapshots: 1,
		Fetched:   1,
		Records: []Record{
			{Domain: domain, Timestamp: "20200101000000", UserAgent: "first"},
			{Domain: domain, Timestamp: "20200101000000", UserAgent: "second"},
		},
	}
}

func TestFleetGroupsRecordsInInputOrder(t *testing.T) {
	t.Parallel()

	runner := &orderRunner{delay: map[string]time.Duration{
		"one.com":   30 * time.Millisecond,
		"two.com":   15 * time.Millisecond,
		"three.com": 0,
	}}
	fleet := NewFleet(runner, FleetConfig{}, zap.NewNop())

	got := fleet.RunAll(context.Background(), []string{"one.com", "two.com", "three.com"}, testWindow(t))
	require.Len(t, got.Records, 6)
	var order []string
	for _, r := range got.Records {
		order = append(order, r.Domain+"/"+r.UserAgent)
	}
	assert.Equal(t, []string{
		"one.com/first", "one.com/second",
		"two.com/first", "two.com/second",
		"three.com/first", "three.com/second",
	}, order)
}

func TestFleetRespectsMaxConcurrency(t *testing.T) {
	t.Parallel()

	delays := map[string]time.Duration{}
	domains := make([]string, 6)
	for i := range domains {
		domains[i] = fmt.Sprintf("d%d.com", i)
		delays[domains[i]] = 10 * time.Millisecond
	}
	runner := &orderRunner{delay: delays}
	fleet := NewFleet(runner, FleetConfig{MaxConcurrency: 2}, zap.NewNop())

	got := fleet.RunAll(context.Background(), domains, testWindow(t))
	assert.Len(t, got.Records, 12)
	assert.LessOrEqual(t, runner.peak.Load(), int32(2))
}

// barrierRunner holds every Run until want runs are in flight at once, and
// records the highest number of runs seen in flight together.
type barrierRunner struct {
	want int32
	live atomic.Int32
	peak atomic.Int32
	all  chan struct{}
}

func (r *barrierRunner) Run(ctx context.Context, domain string, _ archive.Window) DomainResult {
	n := r.live.Add(1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if n == r.want {
		close(r.all)
	}
	select {
	case <-r.all:
	case <-time.After(2 * time.Second):
	case <-ctx.Done():
	}
	r.live.Add(-1)
	return DomainResult{Domain: domain, Records: []Record{{Domain: domain, UserAgent: "*"}}}
}

func TestFleetRunsEveryDomainAtOnceByDefault(t *testing.T) {
	t.Parallel()

	const n = 8
	domains := make([]string, n)
	for i := range domains {
		domains[i] = fmt.Sprintf("site%d.com", i)
	}

	runner := &barrierRunner{want: n, all: make(chan struct{})}
	got := NewFleet(runner, FleetConfig{}, zap.NewNop()).RunAll(context.Background(), domains, testWindow(t))
	assert.Len(t, got.Records, n)
	assert.Equal(t, int32(n), runner.peak.Load())
}

func TestFleetEmptyDomainList(t *testing.T) {
	t.Parallel()

	fleet := NewFleet(&orderRunner{}, FleetConfig{}, zap.NewNop())
	got := fleet.RunAll(context.Background(), nil, testWindow(t))
	assert.Zero(t, got.Domains)
	assert.Empty(t, got.Records)
}

type recordingSink struct {
	name string
	uri  string
	err  error
	runs []Run
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, run Run) (string, error) {
	s.runs = append(s.runs, run)
	if s.err != nil {
		return "", s.err
	}
	return s.uri, nil
}

type recordingPublisher struct {
	topic   string
	payload any
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.topic = topic
	p.payload = payload
	return "msg-1", p.err
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type staticResultRunner map[string]DomainResult

func (r staticResultRunner) Run(_ context.Context, domain string, _ archive.Window) DomainResult {
	res := r[domain]
	res.Domain = domain
	return res
}

func TestScrapeWritesSinksAndPublishesSummary(t *testing.T) {
	t.Parallel()

	runner := staticResultRunner{
		"a.com": {Snapshots: 2, Fetched: 1, Records: []Record{{Domain: "a.com", Timestamp: "20200101000000", UserAgent: "*"}}},
		"b.com": {},
	}
	csvSink := &recordingSink{name: "csv", uri: "file:///tmp/out.csv"}
	dbSink := &recordingSink{name: "sqlite", uri: "sqlite:///tmp/out.db"}
	pub := &recordingPublisher{}
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	fleet := NewFleet(runner, FleetConfig{Topic: "robots-runs"}, zap.NewNop(),
		WithSinks(csvSink, nil, dbSink),
		WithPublisher(pub),
		WithClock(fixedClock{t: now}),
		WithIDGenerator(fixedID("run-123")),
	)

	window := testWindow(t)
	summary, err := fleet.Scrape(context.Background(), []string{"a.com", "b.com"}, window)
	require.NoError(t, err)

	require.Len(t, csvSink.runs, 1)
	require.Len(t, dbSink.runs, 1)
	assert.Equal(t, "run-123", csvSink.runs[0].ID)
	assert.Equal(t, window, csvSink.runs[0].Window)
	assert.Len(t, csvSink.runs[0].Records, 1)

	assert.Equal(t, Summary{
		RunID:              "run-123",
		StartedAt:          now,
		FinishedAt:         now,
		WindowStart:        "20200101000000",
		WindowEnd:          "20241201000000",
		Domains:            2,
		DomainsWithRecords: 1,
		Snapshots:          2,
		Fetched:            1,
		Records:            1,
		Outputs:            []string{"file:///tmp/out.csv", "sqlite:///tmp/out.db"},
	}, summary)
	assert.Equal(t, "robots-runs", pub.topic)
	assert.Equal(t, summary, pub.payload)
}

func TestScrapeWithNoRecordsSkipsSinks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{name: "csv"}
	pub := &recordingPublisher{}
	fleet := NewFleet(staticResultRunner{}, FleetConfig{Topic: "t"}, zap.NewNop(), WithSinks(sink), WithPublisher(pub))

	summary, err := fleet.Scrape(context.Background(), []string{"a.com"}, testWindow(t))
	require.NoError(t, err)
	assert.Zero(t, summary.Records)
	assert.Empty(t, sink.runs)
	assert.Nil(t, pub.payload)
}

func TestScrapeReportsSinkFailures(t *testing.T) {
	t.Parallel()

	runner := staticResultRunner{"a.com": {Records: []Record{{Domain: "a.com", UserAgent: "*"}}}}
	broken := &recordingSink{name: "gcs", err: errors.New("permission denied")}
	healthy := &recordingSink{name: "sqlite", uri: "sqlite:///out.db"}
	pub := &recordingPublisher{}
	fleet := NewFleet(runner, FleetConfig{Topic: "t"}, zap.NewNop(), WithSinks(broken, healthy), WithPublisher(pub))

	summary, err := fleet.Scrape(context.Background(), []string{"a.com"}, testWindow(t))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "gcs: permission denied"))
	// Later sinks still run.
	assert.Len(t, healthy.runs, 1)
	assert.Equal(t, []string{"sqlite:///out.db"}, summary.Outputs)
	assert.Nil(t, pub.payload)
}

func TestScrapePublishFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	runner := staticResultRunner{"a.com": {Records: []Record{{Domain: "a.com", UserAgent: "*"}}}}
	pub := &recordingPublisher{err: io.ErrClosedPipe}
	fleet := NewFleet(runner, FleetConfig{Topic: "t"}, zap.NewNop(), WithPublisher(pub))

	_, err := fleet.Scrape(context.Background(), []string{"a.com"}, testWindow(t))
	require.NoError(t, err)
	assert.NotNil(t, pub.payload)
}

type failingIDs struct{}

func (failingIDs) NewID() (string, error) { return "", errors.New("entropy exhausted") }

func TestScrapeFailsWithoutRunID(t *testing.T) {
	t.Parallel()

	fleet := NewFleet(staticResultRunner{}, FleetConfig{}, zap.NewNop(), WithIDGenerator(failingIDs{}))
	_, err := fleet.Scrape(context.Background(), []string{"a.com"}, testWindow(t))
	require.ErrorContains(t, err, "generate run id")
}
