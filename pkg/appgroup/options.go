package appgroup

import "github.com/fako1024/cgmbridge/pkg/glucose"

// WithSource restricts the readings to those tagged with the given source (empty: all)
func WithSource(source string) func(*Reader) {
	return func(r *Reader) {
		r.source = source
	}
}

// WithRetries sets the number of retries of a failed fetch in the readings stream
func WithRetries(n int) func(*Reader) {
	return func(r *Reader) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Reader) {
	return func(r *Reader) {
		r.logger = logger
	}
}
