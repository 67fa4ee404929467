package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

type testClock struct {
	sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.now = c.now.Add(d)
}

type testFetcher struct {
	sync.Mutex
	readings glucose.Readings
	err      error
	calls    []string
	block    chan struct{}
}

func (f *testFetcher) FetchReadings() (glucose.Readings, error) {
	if f.block != nil {
		<-f.block
	}

	f.Lock()
	defer f.Unlock()
	f.calls = append(f.calls, "fetch")
	return f.readings, f.err
}

func (f *testFetcher) set(readings glucose.Readings, err error) {
	f.Lock()
	defer f.Unlock()
	f.readings, f.err = readings, err
}

type testChecker struct {
	fetcher *testFetcher
	err     error
}

func (c *testChecker) Check() error {
	c.fetcher.Lock()
	defer c.fetcher.Unlock()
	c.fetcher.calls = append(c.fetcher.calls, "check")
	return c.err
}

type testDelegate struct {
	sync.Mutex
	newData [][]glucose.Sample
	noData  int
	errs    []error
}

func (d *testDelegate) OnNewData(samples glucose.Samples) {
	d.Lock()
	defer d.Unlock()
	d.newData = append(d.newData, samples)
}

func (d *testDelegate) OnNoData() {
	d.Lock()
	defer d.Unlock()
	d.noData++
}

func (d *testDelegate) OnError(err error) {
	d.Lock()
	defer d.Unlock()
	d.errs = append(d.errs, err)
}

func (d *testDelegate) calls() int {
	d.Lock()
	defer d.Unlock()
	return len(d.newData) + d.noData + len(d.errs)
}

func reading(value float64, age time.Duration) glucose.Reading {
	return glucose.Reading{Value: value, Trend: glucose.TrendFlat, Timestamp: refTime.Add(-age), Source: "xDrip"}
}

func newTestBridge(t *testing.T, readings glucose.Readings) (*Bridge, *testFetcher, *testDelegate, *testClock) {
	clock := &testClock{now: refTime}
	fetcher := &testFetcher{readings: readings}
	delegate := &testDelegate{}

	b, err := New(fetcher, delegate, WithClock(clock.Now), WithIdentityChecker(&testChecker{fetcher: fetcher}))
	require.Nil(t, err)

	return b, fetcher, delegate, clock
}

func TestNew(t *testing.T) {
	_, err := New(nil, &testDelegate{})
	assert.Error(t, err)
	_, err = New(&testFetcher{}, nil)
	assert.Error(t, err)
}

func TestForwardAllNew(t *testing.T) {
	b, fetcher, delegate, _ := newTestBridge(t, glucose.Readings{
		reading(110, 10*time.Minute),
		reading(115, 5*time.Minute),
		reading(120, time.Minute),
	})

	res := b.FetchNewDataIfNeeded(TriggerPoll)
	require.Equal(t, OutcomeNewData, res.Outcome)
	require.Len(t, res.Samples, 3)
	assert.Equal(t, 110., res.Samples[0].Value)
	assert.Equal(t, 120., res.Samples[2].Value)
	assert.Equal(t, "1699999940", res.Samples[2].SyncIdentifier)
	assert.Equal(t, [][]glucose.Sample{res.Samples}, delegate.newData)

	latest, ok := b.LatestReading()
	require.True(t, ok)
	assert.Equal(t, reading(120, time.Minute), latest)

	// The identity check runs ahead of the fetch
	assert.Equal(t, []string{"check", "fetch"}, fetcher.calls)
}

func TestInvalidReadingAdvancesWatermark(t *testing.T) {
	b, _, delegate, _ := newTestBridge(t, glucose.Readings{reading(520, 2*time.Minute)})

	res := b.FetchNewDataIfNeeded(TriggerHeartbeat)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.Equal(t, 1, delegate.noData)
	assert.Empty(t, delegate.newData)

	latest, ok := b.LatestReading()
	require.True(t, ok)
	assert.Equal(t, refTime.Add(-2*time.Minute), latest.Timestamp)
}

func TestEmptyFetch(t *testing.T) {
	b, _, delegate, _ := newTestBridge(t, glucose.Readings{})

	res := b.FetchNewDataIfNeeded(TriggerForeground)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.Equal(t, 1, delegate.noData)

	_, ok := b.LatestReading()
	assert.False(t, ok)
}

func TestFetchError(t *testing.T) {
	b, fetcher, delegate, clock := newTestBridge(t, glucose.Readings{reading(120, 10*time.Minute)})
	require.Equal(t, OutcomeNewData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)

	errFetch := errors.New("store unavailable")
	fetcher.set(nil, errFetch)
	clock.Advance(time.Minute)

	res := b.FetchNewDataIfNeeded(TriggerPoll)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.ErrorIs(t, res.Err, errFetch)
	assert.Equal(t, []error{errFetch}, delegate.errs)

	latest, _ := b.LatestReading()
	assert.Equal(t, reading(120, 10*time.Minute), latest)
}

func TestRateLimit(t *testing.T) {
	b, _, delegate, clock := newTestBridge(t, glucose.Readings{reading(120, time.Minute)})

	assert.Equal(t, OutcomeNewData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)
	assert.Equal(t, 1, delegate.calls())

	for _, trigger := range []Trigger{TriggerHeartbeat, TriggerForeground, TriggerPoll, TriggerTimer} {
		assert.Equal(t, Result{Outcome: OutcomeSkipped}, b.FetchNewDataIfNeeded(trigger))
	}
	clock.Advance(54 * time.Second)
	assert.Equal(t, OutcomeSkipped, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)
	assert.Equal(t, 1, delegate.calls(), "skipped polls must not call the delegate")

	clock.Advance(time.Second)
	assert.Equal(t, OutcomeNoData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)
	assert.Equal(t, 2, delegate.calls())

	stats := b.Stats()
	assert.EqualValues(t, 2, stats.Polls)
	assert.EqualValues(t, 5, stats.Skipped)
	assert.Equal(t, OutcomeNoData, stats.LastOutcome)
}

func TestDeduplication(t *testing.T) {
	b, fetcher, delegate, clock := newTestBridge(t, glucose.Readings{
		reading(110, 10*time.Minute),
		reading(115, 5*time.Minute),
	})
	require.Equal(t, OutcomeNewData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)

	// The same readings again plus a new one: only the new one is forwarded
	clock.Advance(5 * time.Minute)
	fetcher.set(glucose.Readings{
		reading(110, 10*time.Minute),
		reading(115, 5*time.Minute),
		reading(118, 0),
	}, nil)
	res := b.FetchNewDataIfNeeded(TriggerHeartbeat)
	require.Equal(t, OutcomeNewData, res.Outcome)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, 118., res.Samples[0].Value)

	// Nothing new
	clock.Advance(5 * time.Minute)
	assert.Equal(t, OutcomeNoData, b.FetchNewDataIfNeeded(TriggerHeartbeat).Outcome)
	assert.Len(t, delegate.newData, 2)
}

func TestBackfillLimit(t *testing.T) {
	b, fetcher, _, clock := newTestBridge(t, glucose.Readings{
		reading(100, 45*time.Minute),
		reading(105, 31*time.Minute),
		reading(110, 29*time.Minute),
	})

	res := b.FetchNewDataIfNeeded(TriggerPoll)
	require.Equal(t, OutcomeNewData, res.Outcome)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, 110., res.Samples[0].Value)

	// After a long gap the watermark is too old, the backfill horizon applies instead
	clock.Advance(2 * time.Hour)
	fetcher.set(glucose.Readings{
		reading(120, -60*time.Minute),
		reading(125, -100*time.Minute),
	}, nil)
	res = b.FetchNewDataIfNeeded(TriggerPoll)
	require.Equal(t, OutcomeNewData, res.Outcome)
	require.Len(t, res.Samples, 1)
	assert.Equal(t, 125., res.Samples[0].Value)
}

func TestWatermarkMonotonic(t *testing.T) {
	b, fetcher, _, clock := newTestBridge(t, glucose.Readings{reading(120, time.Minute)})
	require.Equal(t, OutcomeNewData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)

	// Older data (e.g. after the companion app was reset) never moves the watermark back
	clock.Advance(time.Minute)
	fetcher.set(glucose.Readings{reading(100, 20*time.Minute)}, nil)
	assert.Equal(t, OutcomeNoData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)

	latest, _ := b.LatestReading()
	assert.Equal(t, reading(120, time.Minute), latest)
}

func TestConcurrentTriggers(t *testing.T) {
	b, fetcher, delegate, _ := newTestBridge(t, glucose.Readings{reading(120, time.Minute)})
	fetcher.block = make(chan struct{})

	b.Notify(TriggerHeartbeat)
	require.Eventually(t, func() bool {
		return b.inFlight.Load()
	}, time.Second, time.Millisecond)

	// While a poll is in flight all other triggers are dropped
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, OutcomeSkipped, b.FetchNewDataIfNeeded(TriggerForeground).Outcome)
		}()
	}
	wg.Wait()

	close(fetcher.block)
	b.Wait()
	assert.Equal(t, 1, delegate.calls())
	assert.Len(t, fetcher.calls, 2)
}

func TestCheckerErrorDoesNotAbortPoll(t *testing.T) {
	fetcher := &testFetcher{readings: glucose.Readings{reading(120, time.Minute)}}
	delegate := &testDelegate{}
	b, err := New(fetcher, delegate,
		WithClock(func() time.Time { return refTime }),
		WithIdentityChecker(&testChecker{fetcher: fetcher, err: errors.New("incomplete identity")}),
	)
	require.Nil(t, err)

	assert.Equal(t, OutcomeNewData, b.FetchNewDataIfNeeded(TriggerPoll).Outcome)
	assert.Len(t, delegate.newData, 1)
}

func TestDelegates(t *testing.T) {
	d1, d2 := &testDelegate{}, &testDelegate{}
	ds := Delegates{d1, LogDelegate{Logger: &glucose.NullLogger{}}, d2}

	ds.OnNewData(glucose.Samples{reading(120, 0).Sample()})
	ds.OnNoData()
	ds.OnError(errors.New("failure"))

	for _, d := range []*testDelegate{d1, d2} {
		assert.Len(t, d.newData, 1)
		assert.Equal(t, 1, d.noData)
		assert.Len(t, d.errs, 1)
	}
}

func TestString(t *testing.T) {
	b, _, _, _ := newTestBridge(t, glucose.Readings{reading(120, time.Minute)})
	assert.Contains(t, b.String(), "latestReading: <none>")

	b.FetchNewDataIfNeeded(TriggerPoll)
	assert.Contains(t, b.String(), "latestReading: 120 mg/dL")
	assert.Contains(t, b.String(), "(poll, new data)")
}

func TestOutcomeText(t *testing.T) {
	for outcome := range outcomeNames {
		text, err := outcome.MarshalText()
		require.Nil(t, err)

		var parsed Outcome
		require.Nil(t, parsed.UnmarshalText(text))
		assert.Equal(t, outcome, parsed)
	}

	var parsed Outcome
	assert.Error(t, parsed.UnmarshalText([]byte("pending")))
}
