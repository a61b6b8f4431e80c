package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgmetrics/gatherer"
	"pgmetrics/logger"
	"pgmetrics/metrics"
)

// fakeSource records every fetch and returns the clock's current time
// as the raw result, or a scripted error.
type fakeSource struct {
	mu    sync.Mutex
	clock clockwork.Clock
	calls []time.Time
	errs  []error // consumed per call; nil entry means success
}

func (f *fakeSource) Fetch(ctx context.Context) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.clock.Now()
	f.calls = append(f.calls, now)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return now, nil
}

func (f *fakeSource) callTimes() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Time{}, f.calls...)
}

// oneRecord formats any raw result into a single record keyed by the
// task name and tagged with the task's database.
func oneRecord(raw, _ any, meta gatherer.Meta) ([]metrics.Record, error) {
	at := raw.(time.Time)
	return []metrics.Record{
		metrics.New(meta.Task, 1, at, map[string]string{
			"host":     meta.Host,
			"database": meta.Database,
		}),
	}, nil
}

func newTask(name, database string, interval time.Duration, source gatherer.Source, format gatherer.FormatFunc) *gatherer.Task {
	return &gatherer.Task{
		Name:     name,
		Scope:    gatherer.PerDatabase,
		Database: database,
		Interval: interval,
		Source:   source,
		Format:   format,
		Meta:     gatherer.Meta{Task: name, Database: database, Host: "testhost"},
	}
}

// collectSink accumulates delivered batches.
type collectSink struct {
	mu      sync.Mutex
	records []metrics.Record
}

func (c *collectSink) Deliver(_ context.Context, records []metrics.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, records...)
	return nil
}

func (c *collectSink) all() []metrics.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]metrics.Record{}, c.records...)
}

type errorSink struct{ err error }

func (e *errorSink) Deliver(context.Context, []metrics.Record) error { return e.err }

func TestRunOnceExecutesEveryTaskInOrder(t *testing.T) {
	clock := clockwork.NewFakeClock()
	first := &fakeSource{clock: clock}
	second := &fakeSource{clock: clock}

	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("alpha", "db1", time.Minute, first, oneRecord),
		newTask("beta", "db1", time.Minute, second, oneRecord),
	})

	records, failed := sched.RunOnce(context.Background())
	require.Equal(t, 0, failed)
	require.Len(t, records, 2)
	assert.Equal(t, "postgresql.alpha", records[0].Key)
	assert.Equal(t, "postgresql.beta", records[1].Key)
	assert.Len(t, first.callTimes(), 1)
	assert.Len(t, second.callTimes(), 1)
}

func TestRunOncePerDatabaseFanOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	databases := []string{"orders", "billing", "users"}

	var tasks []*gatherer.Task
	sources := map[string]*fakeSource{}
	for _, database := range databases {
		source := &fakeSource{clock: clock}
		sources[database] = source
		tasks = append(tasks, newTask("connections", database, time.Minute, source, oneRecord))
	}

	sched := New(logger.Discard(), clock, tasks)
	records, failed := sched.RunOnce(context.Background())

	require.Equal(t, 0, failed)
	require.Len(t, records, len(databases))
	for i, database := range databases {
		assert.Len(t, sources[database].callTimes(), 1, "source for %s", database)
		assert.Equal(t, database, records[i].Tags["database"])
	}
}

func TestRunOnceIsolatesFailingTask(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("connection refused")

	good1 := &fakeSource{clock: clock}
	bad := &fakeSource{clock: clock, errs: []error{boom}}
	good2 := &fakeSource{clock: clock}

	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("first", "db1", time.Minute, good1, oneRecord),
		newTask("failing", "db1", time.Minute, bad, oneRecord),
		newTask("last", "db1", time.Minute, good2, oneRecord),
	})

	records, failed := sched.RunOnce(context.Background())
	require.Equal(t, 1, failed)
	require.Len(t, records, 2)
	assert.Equal(t, "postgresql.first", records[0].Key)
	assert.Equal(t, "postgresql.last", records[1].Key)
}

func TestFailureKeepsPreviousRawForRates(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("query timed out")

	source := &fakeSource{clock: clock, errs: []error{nil, boom, nil}}
	// rate-like format: one record with the elapsed seconds between
	// the current and previous successful samples.
	rateFormat := func(raw, prev any, meta gatherer.Meta) ([]metrics.Record, error) {
		cur := raw.(time.Time)
		if prev == nil {
			return nil, nil
		}
		elapsed := cur.Sub(prev.(time.Time)).Seconds()
		return []metrics.Record{
			metrics.New(meta.Task, elapsed, cur, map[string]string{"host": meta.Host}),
		}, nil
	}

	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("tx_rate", "db1", time.Minute, source, rateFormat),
	})
	ctx := context.Background()

	records, failed := sched.RunOnce(ctx)
	assert.Empty(t, records, "first sample emits nothing")
	assert.Equal(t, 0, failed)

	clock.Advance(30 * time.Second)
	records, failed = sched.RunOnce(ctx)
	assert.Empty(t, records)
	assert.Equal(t, 1, failed)

	clock.Advance(30 * time.Second)
	records, failed = sched.RunOnce(ctx)
	require.Equal(t, 0, failed)
	require.Len(t, records, 1)
	// previous sample is from the first run, 60s ago, not from the
	// failed cycle in between
	assert.InDelta(t, 60.0, records[0].Value, 1e-9)
}

func TestRunForeverHonorsIntervals(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)

	fast := &fakeSource{clock: clock}
	slow := &fakeSource{clock: clock}
	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("fast", "db1", 60*time.Second, fast, oneRecord),
		newTask("slow", "db1", 180*time.Second, slow, oneRecord),
	})

	out := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.RunForever(ctx, out) }()

	for elapsed := 0; elapsed < 185; elapsed += 5 {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}
	clock.BlockUntil(1)

	fastCalls := fast.callTimes()
	slowCalls := slow.callTimes()
	require.Len(t, fastCalls, 4)
	require.Len(t, slowCalls, 2)
	for i, offset := range []time.Duration{0, 60 * time.Second, 120 * time.Second, 180 * time.Second} {
		assert.Equal(t, start.Add(offset), fastCalls[i])
	}
	for i, offset := range []time.Duration{0, 180 * time.Second} {
		assert.Equal(t, start.Add(offset), slowCalls[i])
	}

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, out.all(), 6)
}

func TestRunForeverIsolatesAlwaysFailingTask(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)

	alwaysFail := errors.New("permission denied")
	good := &fakeSource{clock: clock}
	bad := &fakeSource{clock: clock, errs: []error{alwaysFail, alwaysFail, alwaysFail, alwaysFail}}

	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("broken", "db1", 60*time.Second, bad, oneRecord),
		newTask("healthy", "db1", 60*time.Second, good, oneRecord),
	})

	out := &collectSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.RunForever(ctx, out) }()

	for elapsed := 0; elapsed < 120; elapsed += 60 {
		clock.BlockUntil(1)
		clock.Advance(60 * time.Second)
	}
	clock.BlockUntil(1)
	cancel()
	require.NoError(t, <-done)

	records := out.all()
	require.Len(t, records, 3, "three healthy cycles, zero from the broken task")
	for _, record := range records {
		assert.Equal(t, "postgresql.healthy", record.Key)
	}
	assert.Len(t, bad.callTimes(), 3, "broken task keeps being scheduled")
}

func TestRunForeverReturnsFatalSinkError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{clock: clock}
	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("any", "db1", time.Minute, source, oneRecord),
	})

	broken := errors.New("broken pipe")
	err := sched.RunForever(context.Background(), &errorSink{err: broken})
	require.ErrorIs(t, err, broken)
}

func TestRunForeverStopsOnCancelDuringSleep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	source := &fakeSource{clock: clock}
	sched := New(logger.Discard(), clock, []*gatherer.Task{
		newTask("any", "db1", time.Hour, source, oneRecord),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.RunForever(ctx, &collectSink{}) }()

	clock.BlockUntil(1) // idle sleep reached
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after cancellation")
	}
	assert.Len(t, source.callTimes(), 1)
}

func TestRunForeverWithoutTasksFails(t *testing.T) {
	sched := New(logger.Discard(), clockwork.NewFakeClock(), nil)
	err := sched.RunForever(context.Background(), &collectSink{})
	require.Error(t, err)
}
