package bridge

import (
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
)

// WithIdentityChecker sets the identity checker run ahead of each admitted poll
func WithIdentityChecker(checker IdentityChecker) func(*Bridge) {
	return func(b *Bridge) {
		b.checker = checker
	}
}

// WithMinInterval sets the minimum interval between two polls
func WithMinInterval(interval time.Duration) func(*Bridge) {
	return func(b *Bridge) {
		b.minInterval = interval
	}
}

// WithBackfill sets the maximum age of readings forwarded by a single poll
func WithBackfill(backfill time.Duration) func(*Bridge) {
	return func(b *Bridge) {
		if backfill > 0 {
			b.backfill = backfill
		}
	}
}

// WithClock sets the time source
func WithClock(now func() time.Time) func(*Bridge) {
	return func(b *Bridge) {
		b.now = now
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Bridge) {
	return func(b *Bridge) {
		b.logger = logger
	}
}
