// Package bridge forwards new glucose readings from the shared store to the host. All
// triggers share a single rate-limited entry point, and readings already forwarded are
// never forwarded again
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
)

const (
	defaultMinInterval = 55 * time.Second
	defaultBackfill    = 30 * time.Minute
)

// Bridge denotes the polling / deduplication bridge between shared store and host
type Bridge struct {
	fetcher  Fetcher
	delegate Delegate
	checker  IdentityChecker

	minInterval time.Duration
	backfill    time.Duration
	now         func() time.Time

	inFlight atomic.Bool
	wg       sync.WaitGroup

	mu          sync.RWMutex
	lastPoll    time.Time
	watermark   *glucose.Reading
	lastOutcome Outcome
	lastTrigger Trigger
	nPolls      uint64
	nSkipped    uint64

	logger glucose.Logger
}

// New instantiates a new Bridge, executing functional options, if any
func New(fetcher Fetcher, delegate Delegate, options ...func(*Bridge)) (*Bridge, error) {
	if fetcher == nil {
		return nil, errors.New("no readings fetcher provided")
	}
	if delegate == nil {
		return nil, errors.New("no host delegate provided")
	}

	b := &Bridge{
		fetcher:     fetcher,
		delegate:    delegate,
		minInterval: defaultMinInterval,
		backfill:    defaultBackfill,
		now:         time.Now,
		logger:      &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(b)
	}

	return b, nil
}

// FetchNewDataIfNeeded runs a poll unless another one is in progress or the last one
// happened less than the minimum interval ago, in which case it returns OutcomeSkipped
// without contacting the delegate
func (b *Bridge) FetchNewDataIfNeeded(trigger Trigger) Result {
	if !b.inFlight.CompareAndSwap(false, true) {
		b.skip(trigger, "poll in progress")
		return Result{Outcome: OutcomeSkipped}
	}
	defer b.inFlight.Store(false)

	now := b.now()
	b.mu.Lock()
	if !b.lastPoll.IsZero() && now.Sub(b.lastPoll) < b.minInterval {
		b.mu.Unlock()
		b.skip(trigger, "rate limited")
		return Result{Outcome: OutcomeSkipped}
	}
	b.lastPoll = now
	b.lastTrigger = trigger
	b.nPolls++
	b.mu.Unlock()

	b.logger.Debugf("polling for new data (trigger: %s)", trigger)
	res := b.poll(now)

	b.mu.Lock()
	b.lastOutcome = res.Outcome
	b.mu.Unlock()

	switch res.Outcome {
	case OutcomeNewData:
		b.delegate.OnNewData(res.Samples)
	case OutcomeNoData:
		b.delegate.OnNoData()
	case OutcomeError:
		b.delegate.OnError(res.Err)
	}

	return res
}

// Notify requests a poll in the background (e.g. from within the BLE event loop)
func (b *Bridge) Notify(trigger Trigger) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.FetchNewDataIfNeeded(trigger)
	}()
}

// Run polls periodically until the context is done
func (b *Bridge) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	b.FetchNewDataIfNeeded(TriggerTimer)
	for {
		select {
		case <-ticker.C:
			b.FetchNewDataIfNeeded(TriggerTimer)
		case <-ctx.Done():
			return
		}
	}
}

// Wait blocks until all background polls requested via Notify() have completed
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// LatestReading returns the latest reading seen (the watermark), if any
func (b *Bridge) LatestReading() (glucose.Reading, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.watermark == nil {
		return glucose.Reading{}, false
	}
	return *b.watermark, true
}

// Stats denotes poll statistics
type Stats struct {
	LastPoll    time.Time `json:"last_poll"`
	LastTrigger string    `json:"last_trigger"`
	LastOutcome Outcome   `json:"last_outcome"`
	Polls       uint64    `json:"polls"`
	Skipped     uint64    `json:"skipped"`
}

// Stats returns the current poll statistics
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Stats{
		LastPoll:    b.lastPoll,
		LastTrigger: b.lastTrigger.String(),
		LastOutcome: b.lastOutcome,
		Polls:       b.nPolls,
		Skipped:     b.nSkipped,
	}
}

// String returns a debug description of the bridge
func (b *Bridge) String() string {
	stats := b.Stats()
	latest, ok := b.LatestReading()

	lines := []string{"## bridge"}
	if ok {
		lines = append(lines, fmt.Sprintf("latestReading: %s", latest))
	} else {
		lines = append(lines, "latestReading: <none>")
	}
	if !stats.LastPoll.IsZero() {
		lines = append(lines, fmt.Sprintf("lastPoll: %s (%s, %s)", stats.LastPoll.Format(time.RFC3339), stats.LastTrigger, stats.LastOutcome))
	}
	lines = append(lines, fmt.Sprintf("polls: %d, skipped: %d", stats.Polls, stats.Skipped), "")

	return strings.Join(lines, "\n")
}

////////////////////////////////////////////////////////////////////////////////

func (b *Bridge) skip(trigger Trigger, reason string) {
	b.mu.Lock()
	b.nSkipped++
	b.mu.Unlock()

	b.logger.Debugf("skipping poll (trigger: %s): %s", trigger, reason)
}

func (b *Bridge) poll(now time.Time) Result {

	// Pick up transmitter changes ahead of the actual fetch
	if b.checker != nil {
		if err := b.checker.Check(); err != nil {
			b.logger.Errorf("failed to check transmitter identity: %s", err)
		}
	}

	readings, err := b.fetcher.FetchReadings()
	if err != nil {
		return Result{Outcome: OutcomeError, Err: err}
	}
	if len(readings) == 0 {
		return Result{Outcome: OutcomeNoData}
	}

	samples := readings.Since(b.lowerBound(now)).Valid().Samples()
	b.advanceWatermark(readings)

	if len(samples) == 0 {
		return Result{Outcome: OutcomeNoData}
	}
	return Result{Outcome: OutcomeNewData, Samples: samples}
}

// lowerBound returns the later of the backfill horizon and the watermark (if the latter
// lies within the backfill horizon)
func (b *Bridge) lowerBound(now time.Time) time.Time {
	bound := now.Add(-b.backfill)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.watermark != nil && b.watermark.Timestamp.After(bound) {
		return b.watermark.Timestamp
	}
	return bound
}

// advanceWatermark moves the watermark to the latest of all fetched readings (including
// those filtered out), never backwards
func (b *Bridge) advanceWatermark(readings glucose.Readings) {
	latest, ok := readings.Latest()
	if !ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.watermark == nil || latest.Timestamp.After(b.watermark.Timestamp) {
		b.watermark = &latest
	}
}
