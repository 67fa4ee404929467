package watcher

import (
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
)

// WithDefaultEnabled sets if the heartbeat is enabled as long as it has never been toggled
func WithDefaultEnabled(enabled bool) func(*Watcher) {
	return func(w *Watcher) {
		w.defaultEnabled = enabled
	}
}

// WithStatusChangeHandler sets the function called upon each heartbeat status change
func WithStatusChangeHandler(fn func(status heartbeat.Status)) func(*Watcher) {
	return func(w *Watcher) {
		w.statusChangeHandler = fn
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Watcher) {
	return func(w *Watcher) {
		w.logger = logger
	}
}
