package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/apm-collector/pkg/aggregate"
	"github.com/apm-collector/pkg/backoff"
	"github.com/apm-collector/pkg/fetch"
	"github.com/apm-collector/pkg/window"
)

var base = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type normalizerFunc func(job fetch.Job, body []byte) ([]aggregate.MetricRecord, error)

func (f normalizerFunc) Normalize(job fetch.Job, body []byte) ([]aggregate.MetricRecord, error) {
	return f(job, body)
}

var emptyNormalizer = normalizerFunc(func(fetch.Job, []byte) ([]aggregate.MetricRecord, error) { return nil, nil })

type fakePersister struct {
	mu       sync.Mutex
	failures int // 前 failures 次返回 false
	calls    int
	batches  [][]aggregate.MetricRecord
}

func (p *fakePersister) Persist(_ context.Context, _ aggregate.Metadata, records []aggregate.MetricRecord) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return false, nil
	}
	p.batches = append(p.batches, records)
	return true, nil
}

type mapDecrypter map[string]string

func (d mapDecrypter) Decrypt(_ context.Context, ref string) (string, error) {
	v, ok := d[ref]
	if !ok {
		return "", fmt.Errorf("unknown ref %s", ref)
	}
	return v, nil
}

type recordingStreamer struct {
	mu    sync.Mutex
	lines []string
}

func (s *recordingStreamer) StreamLog(_ context.Context, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func okFetcher(calls *atomic.Int32) fetch.FetcherFunc {
	return func(context.Context, fetch.Job) ([]byte, error) {
		if calls != nil {
			calls.Add(1)
		}
		return []byte("[]"), nil
	}
}

func baseParams(clock *fakeClock) Params {
	return Params{
		TaskID:                  "task-1",
		StateType:               "APP_DYNAMICS",
		Mode:                    window.Bounded,
		Strategy:                window.Comparative,
		TotalCollectionMinutes:  3,
		CollectionWindowMinutes: 1,
		TickPeriod:              5 * time.Millisecond,
		MaxRetries:              3,
		RetryBackoff:            0,
		FetchConcurrency:        4,
		CanaryDays:              window.DefaultCanaryDays,
		LookBackMinutes:         window.DefaultLookBackMinutes,
		TestHost:                "testNode",
		ControlHostPrefix:       "controlNode",
		Hosts:                   []Host{{Name: "web-1", Group: "web"}},
		BaseURL:                 "http://apm.local/api",
		Metrics:                 []MetricTemplate{{Name: "throughput", Path: "/metrics?host=${host}&from=${start_time}&to=${end_time}"}},
		Now:                     clock.Now,
	}
}

func newTestEngine(t *testing.T, p Params, c Collaborators) *Engine {
	t.Helper()
	e, err := NewEngine(p, c, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return e
}

func TestNewEngineRequiresCollaborators(t *testing.T) {
	clock := &fakeClock{t: base}
	_, err := NewEngine(baseParams(clock), Collaborators{Normalizer: emptyNormalizer, Persister: &fakePersister{}})
	assert.ErrorIs(t, err, ErrMissingCollaborator)

	p := baseParams(clock)
	p.SecretRefs = map[string]string{"api_key": "env:KEY"}
	_, err = NewEngine(p, Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: &fakePersister{}})
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}

func TestTickRetriesThenSucceeds(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.TotalCollectionMinutes = 5
	p.Hosts = []Host{{Name: "web-1", Group: "web"}, {Name: "web-2", Group: "web"}}
	persister := &fakePersister{failures: p.MaxRetries - 1}

	var mu sync.Mutex
	var fetched []window.Window
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		fetched = append(fetched, window.Window{Host: j.Host(), Start: j.Start(), End: j.End()})
		return []byte("[]"), nil
	})
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: persister})
	start := e.Status().CollectionStart

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	assert.Equal(t, p.MaxRetries, persister.calls)
	// every attempt rebuilds the window and fetches every host again
	require.Len(t, fetched, p.MaxRetries*len(p.Hosts))
	perHost := map[string]int{}
	for _, w := range fetched {
		perHost[w.Host]++
		assert.Equal(t, start, w.Start)
		assert.Equal(t, start.Add(time.Minute), w.End)
	}
	assert.Equal(t, map[string]int{"web-1": p.MaxRetries, "web-2": p.MaxRetries}, perHost)
	assert.False(t, e.sm.Terminal())
	assert.Equal(t, "RUNNING", e.Result().Status)
	assert.Empty(t, e.Result().ErrorMessage)
	assert.Equal(t, 1, e.Status().DataCollectionMinute)
}

func TestTickAlwaysFailingReportsFirstError(t *testing.T) {
	clock := &fakeClock{t: base}
	var calls atomic.Int32
	f := fetch.FetcherFunc(func(context.Context, fetch.Job) ([]byte, error) {
		n := calls.Add(1)
		return nil, fmt.Errorf("backend unavailable on attempt %d", n)
	})
	p := baseParams(clock)
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	assert.Equal(t, int32(p.MaxRetries), calls.Load())
	res := e.Result()
	assert.Equal(t, "FAILURE", res.Status)
	assert.Equal(t, "APP_DYNAMICS", res.StateType)
	assert.Contains(t, res.ErrorMessage, "attempt 1")
	assert.NotContains(t, res.ErrorMessage, "attempt 3")
	select {
	case <-e.Done():
	default:
		t.Fatal("done channel not closed on failure")
	}
}

func TestPersistRejectionSharesRetryBudget(t *testing.T) {
	clock := &fakeClock{t: base}
	persister := &fakePersister{failures: 100}
	e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: persister})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	assert.Equal(t, 3, persister.calls)
	assert.Equal(t, "FAILURE", e.Result().Status)
	assert.Contains(t, e.Result().ErrorMessage, aggregate.ErrPersistRejected.Error())
}

func TestFatalErrorsStopWithoutRetry(t *testing.T) {
	t.Run("unresolved placeholder", func(t *testing.T) {
		clock := &fakeClock{t: base}
		var calls atomic.Int32
		p := baseParams(clock)
		p.Metrics = []MetricTemplate{{Name: "m", Path: "/q?key=${missing_key}"}}
		persister := &fakePersister{}
		e := newTestEngine(t, p, Collaborators{Fetcher: okFetcher(&calls), Normalizer: emptyNormalizer, Persister: persister})

		clock.Set(base.Add(time.Hour))
		e.Tick(context.Background())

		assert.Equal(t, "FAILURE", e.Result().Status)
		assert.Contains(t, e.Result().ErrorMessage, "missing_key")
		assert.Zero(t, calls.Load())
		assert.Zero(t, persister.calls)
	})

	t.Run("permanent collaborator error", func(t *testing.T) {
		clock := &fakeClock{t: base}
		var calls atomic.Int32
		f := fetch.FetcherFunc(func(context.Context, fetch.Job) ([]byte, error) {
			calls.Add(1)
			return nil, backoff.NewPermanentError(errors.New("401 unauthorized"))
		})
		e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})

		clock.Set(base.Add(time.Hour))
		e.Tick(context.Background())

		assert.Equal(t, int32(1), calls.Load())
		assert.Equal(t, "FAILURE", e.Result().Status)
	})

	t.Run("panic in pass", func(t *testing.T) {
		clock := &fakeClock{t: base}
		bad := normalizerFunc(func(fetch.Job, []byte) ([]aggregate.MetricRecord, error) { panic("nil map") })
		persister := &fakePersister{}
		e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: okFetcher(nil), Normalizer: bad, Persister: persister})

		clock.Set(base.Add(time.Hour))
		e.Tick(context.Background())

		assert.Equal(t, "FAILURE", e.Result().Status)
		assert.Contains(t, e.Result().ErrorMessage, "panicked")
		assert.Zero(t, persister.calls)
	})
}

func TestEndToEndHeartbeatOnlyTicks(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.Hosts = []Host{{Name: "web-1", Group: "web"}, {Name: "db-1", Group: "db"}, {Name: "cache-1"}}
	persister := &fakePersister{}
	e := newTestEngine(t, p, Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: persister})

	clock.Set(base.Add(time.Hour))
	for i := 0; i < 3; i++ {
		require.False(t, e.sm.Terminal(), "terminal before tick %d", i)
		e.Tick(context.Background())
	}

	assert.Equal(t, "SUCCESS", e.Result().Status)
	require.Len(t, persister.batches, 3)
	for minute, batch := range persister.batches {
		require.Len(t, batch, 3, "one heartbeat per group")
		groups := map[string]bool{}
		for _, r := range batch {
			assert.True(t, r.IsHeartbeat())
			assert.Equal(t, minute, r.DataCollectionMinute)
			assert.Equal(t, "task-1", r.TaskMetadata.TaskID)
			groups[r.GroupName] = true
		}
		assert.Equal(t, map[string]bool{"web": true, "db": true, aggregate.DefaultGroupName: true}, groups)
	}

	e.Tick(context.Background())
	assert.Len(t, persister.batches, 3, "ticks after completion are no-ops")
}

func TestWindowAdvancesAndStampsRecords(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.TotalCollectionMinutes = 4
	p.CollectionWindowMinutes = 3

	var mu sync.Mutex
	var windows []window.Window
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		mu.Lock()
		windows = append(windows, window.Window{Host: j.Host(), Start: j.Start(), End: j.End()})
		mu.Unlock()
		return nil, nil
	})
	n := normalizerFunc(func(j fetch.Job, _ []byte) ([]aggregate.MetricRecord, error) {
		return []aggregate.MetricRecord{
			{Name: "throughput", Timestamp: j.Start().Add(30 * time.Second), Values: map[string]float64{"v": 1}},
			{Name: "errors"},
		}, nil
	})
	persister := &fakePersister{}
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: n, Persister: persister})
	start := e.Status().CollectionStart

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())
	e.Tick(context.Background())

	require.Len(t, windows, 2)
	assert.Equal(t, 1, windows[0].Minutes(), "bootstrap tick covers one minute")
	assert.Equal(t, 3, windows[1].Minutes())
	assert.Equal(t, start.Add(4*time.Minute), windows[1].End)
	assert.Equal(t, "SUCCESS", e.Result().Status)

	second := persister.batches[1]
	byName := map[string]aggregate.MetricRecord{}
	for _, r := range second {
		byName[r.Name] = r
	}
	assert.Equal(t, "web-1", byName["throughput"].Host)
	assert.Equal(t, "web", byName["throughput"].GroupName)
	assert.Equal(t, 1, byName["throughput"].DataCollectionMinute)
	assert.Equal(t, start.Add(4*time.Minute), byName["errors"].Timestamp, "missing timestamp is stamped with the window end")
	assert.Equal(t, 3, byName[aggregate.HeartbeatName].DataCollectionMinute)
}

func TestDataAvailabilityGuardSkipsFutureWindows(t *testing.T) {
	clock := &fakeClock{t: base}
	var calls atomic.Int32
	e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: okFetcher(&calls), Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	e.Tick(context.Background())
	assert.Zero(t, calls.Load())
	assert.Zero(t, e.Status().DataCollectionMinute)
	assert.False(t, e.sm.Terminal())
}

func TestCanaryHostExpandsAcrossDays(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.CanaryDays = 2
	p.Hosts = []Host{{Name: "testNode", Group: "canary"}}

	var mu sync.Mutex
	seen := map[string]time.Time{}
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		mu.Lock()
		seen[j.Host()] = j.Start()
		mu.Unlock()
		return nil, nil
	})
	n := normalizerFunc(func(j fetch.Job, _ []byte) ([]aggregate.MetricRecord, error) {
		return []aggregate.MetricRecord{{Name: "rt", Timestamp: j.Start()}}, nil
	})
	persister := &fakePersister{}
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: n, Persister: persister})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	require.Len(t, seen, 3)
	assert.Equal(t, seen["testNode"].Add(-48*time.Hour), seen["controlNode-2"])

	require.Len(t, persister.batches, 1)
	var data int
	for _, r := range persister.batches[0] {
		if r.IsHeartbeat() {
			continue
		}
		data++
		assert.Equal(t, 0, r.DataCollectionMinute, "control hosts are measured from their own start minute")
		assert.Equal(t, "canary", r.GroupName)
	}
	assert.Equal(t, 3, data)
}

func TestCanaryURLAddsSingleTestJob(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.CanaryURL = "http://canary.local/q?from=${start_time}"

	var mu sync.Mutex
	var urls []string
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		mu.Lock()
		urls = append(urls, j.Host()+" "+j.URL())
		mu.Unlock()
		return nil, nil
	})
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	require.Len(t, urls, 2)
	var canary int
	for _, u := range urls {
		if strings.HasPrefix(u, "testNode http://canary.local/q?from=") {
			canary++
		}
	}
	assert.Equal(t, 1, canary)
}

func TestBatchMacroSplitsHosts(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.Hosts = nil
	for i := 0; i < 20; i++ {
		p.Hosts = append(p.Hosts, Host{Name: fmt.Sprintf("h%02d", i)})
	}
	p.Metrics = []MetricTemplate{{Name: "rt", Method: "POST", Path: "/search", Body: "q=$harness_batch{host:${host},' OR '}&from=${start_time_seconds}"}}

	var mu sync.Mutex
	var jobs []fetch.Job
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		mu.Lock()
		jobs = append(jobs, j)
		mu.Unlock()
		return nil, nil
	})
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	require.Len(t, jobs, 2)
	total := 0
	for _, j := range jobs {
		assert.Equal(t, "POST", j.Method())
		assert.Equal(t, "http://apm.local/api/search", j.URL())
		assert.True(t, strings.HasPrefix(j.Body(), "q=host:h"))
		assert.NotContains(t, j.Body(), "${")
		total += len(j.Hosts())
	}
	assert.Equal(t, 20, total)
}

func TestSecretsAreDecryptedAndMasked(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.SecretRefs = map[string]string{"api_key": "vault:apm"}
	p.Headers = map[string]string{"Authorization": "${auth}"}
	p.SecretRefs["auth"] = "vault:auth"
	p.Metrics = []MetricTemplate{{Name: "m", Path: "/q?key=${api_key}"}}

	streamer := &recordingStreamer{}
	var gotURL, gotAuth string
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		gotURL, gotAuth = j.URL(), j.Header("Authorization")
		return nil, fmt.Errorf("GET %s: connection refused", j.URL())
	})
	d := mapDecrypter{"vault:apm": "s3cr3t", "vault:auth": "Basic encodeWithBase64(user:pass)"}
	p.MaxRetries = 1
	e := newTestEngine(t, p, Collaborators{Decrypter: d, Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}, Logs: streamer})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())

	assert.Equal(t, "http://apm.local/api/q?key=s3cr3t", gotURL)
	assert.Equal(t, "Basic dXNlcjpwYXNz", gotAuth)
	res := e.Result()
	assert.Equal(t, "FAILURE", res.Status)
	assert.NotContains(t, res.ErrorMessage, "s3cr3t")
	assert.Contains(t, res.ErrorMessage, "key=******")
	for _, l := range streamer.lines {
		assert.NotContains(t, l, "s3cr3t")
	}
}

func TestDecryptFailureIsFatal(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.SecretRefs = map[string]string{"api_key": "vault:missing"}
	e := newTestEngine(t, p, Collaborators{Decrypter: mapDecrypter{}, Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FAILURE", res.Status)
	assert.Contains(t, res.ErrorMessage, "api_key")
}

func TestPredictiveFirstTickLooksBack(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.Strategy = window.Predictive
	p.TotalCollectionMinutes = 5

	var starts []time.Time
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		starts = append(starts, j.Start())
		return nil, nil
	})
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})
	start := e.Status().CollectionStart

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())
	e.Tick(context.Background())

	require.Len(t, starts, 2)
	assert.Equal(t, start.Add(-120*time.Minute), starts[0])
	assert.Equal(t, start.Add(time.Minute), starts[1])
}

func TestPredictiveLogicalMinutesKeepIncreasing(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.Strategy = window.Predictive
	p.TotalCollectionMinutes = 5

	// 每个窗口最后一分钟的中间产生一条记录
	n := normalizerFunc(func(j fetch.Job, _ []byte) ([]aggregate.MetricRecord, error) {
		return []aggregate.MetricRecord{
			{Name: "response_time", Timestamp: j.End().Add(-30 * time.Second), Values: map[string]float64{"avg": 12}},
		}, nil
	})
	persister := &fakePersister{}
	e := newTestEngine(t, p, Collaborators{Fetcher: okFetcher(nil), Normalizer: n, Persister: persister})

	clock.Set(base.Add(time.Hour))
	e.Tick(context.Background())
	assert.Equal(t, 1, e.Status().HostStarts)
	e.Tick(context.Background())

	require.Len(t, persister.batches, 2)
	want := []int{120, 121}
	for i, batch := range persister.batches {
		require.Len(t, batch, 2)
		for _, r := range batch {
			assert.Equal(t, want[i], r.DataCollectionMinute, "tick %d record %s", i, r.Name)
		}
	}
}

func TestAlwaysOnCompletesInOnePass(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.Mode = window.AlwaysOn
	p.Strategy = window.Predictive
	p.TotalCollectionMinutes = 30

	var span time.Duration
	f := fetch.FetcherFunc(func(_ context.Context, j fetch.Job) ([]byte, error) {
		span = j.End().Sub(j.Start())
		return nil, nil
	})
	n := normalizerFunc(func(j fetch.Job, _ []byte) ([]aggregate.MetricRecord, error) {
		return []aggregate.MetricRecord{
			{Name: "rt", Timestamp: j.Start().Add(5 * time.Minute)},
			{Name: "rt", Timestamp: j.Start().Add(-time.Hour)},
		}, nil
	})
	persister := &fakePersister{}
	e := newTestEngine(t, p, Collaborators{Fetcher: f, Normalizer: n, Persister: persister})

	e.Tick(context.Background())

	assert.Equal(t, 30*time.Minute, span)
	assert.Equal(t, "SUCCESS", e.Result().Status)
	require.Len(t, persister.batches, 1)
	batch := persister.batches[0]
	require.Len(t, batch, 2, "record before the window start is discarded")
	want := int(base.Add(-25*time.Minute).Unix() / 60)
	for _, r := range batch {
		assert.Equal(t, want, r.DataCollectionMinute)
	}
}

func TestRunCompletesThroughScheduler(t *testing.T) {
	clock := &fakeClock{t: base}
	persister := &fakePersister{}
	e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: persister})
	clock.Set(base.Add(time.Hour))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.Run(ctx)
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, "SUCCESS", res.Status)
	assert.Len(t, persister.batches, 3)
	assert.Equal(t, string(StatusSuccess), e.Status().Phase)
	require.NotNil(t, e.Status().Result)
}

func TestShutdownReleasesRun(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.InitialDelayMin = time.Hour
	p.InitialDelayMax = time.Hour
	e := newTestEngine(t, p, Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	done := make(chan Result, 1)
	go func() {
		res, _ := e.Run(context.Background())
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	e.Shutdown()
	e.Shutdown()

	select {
	case res := <-done:
		assert.Equal(t, "FAILURE", res.Status)
		assert.Equal(t, ErrShutdown.Error(), res.ErrorMessage)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Shutdown")
	}
}

func TestRunContextCancel(t *testing.T) {
	clock := &fakeClock{t: base}
	p := baseParams(clock)
	p.InitialDelayMin = time.Hour
	p.InitialDelayMax = time.Hour
	e := newTestEngine(t, p, Collaborators{Fetcher: okFetcher(nil), Normalizer: emptyNormalizer, Persister: &fakePersister{}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := e.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, e.sm.Terminal())
}

func TestShutdownDiscardsInFlightResult(t *testing.T) {
	clock := &fakeClock{t: base}
	release := make(chan struct{})
	started := make(chan struct{})
	f := fetch.FetcherFunc(func(context.Context, fetch.Job) ([]byte, error) {
		close(started)
		<-release
		return nil, nil
	})
	e := newTestEngine(t, baseParams(clock), Collaborators{Fetcher: f, Normalizer: emptyNormalizer, Persister: &fakePersister{}})
	clock.Set(base.Add(time.Hour))

	tickDone := make(chan struct{})
	go func() {
		e.Tick(context.Background())
		close(tickDone)
	}()
	<-started
	e.Shutdown()
	close(release)
	<-tickDone

	assert.Zero(t, e.Status().DataCollectionMinute)
	assert.Equal(t, ErrShutdown.Error(), e.Result().ErrorMessage)
}
