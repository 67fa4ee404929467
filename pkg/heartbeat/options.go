package heartbeat

import "github.com/fako1024/cgmbridge/pkg/glucose"

// WithHeartbeatHandler sets the function called upon each notification or disconnect
func WithHeartbeatHandler(fn func()) func(*Transmitter) {
	return func(t *Transmitter) {
		t.heartbeatHandler = fn
	}
}

// WithStatusChangeHandler sets the function called upon each status change
func WithStatusChangeHandler(fn func(status Status)) func(*Transmitter) {
	return func(t *Transmitter) {
		t.statusChangeHandler = fn
	}
}

// WithStatusChangeChannel sets a channel receiving each status change (non-blocking)
func WithStatusChangeChannel(ch chan Status) func(*Transmitter) {
	return func(t *Transmitter) {
		t.statusChangeChan = ch
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Transmitter) {
	return func(t *Transmitter) {
		t.logger = logger
	}
}

// WithQueueSize sets the capacity of the event queue
func WithQueueSize(n int) func(*Transmitter) {
	return func(t *Transmitter) {
		if n > 0 {
			t.queueSize = n
		}
	}
}
