package api

import "github.com/fako1024/cgmbridge/pkg/glucose"

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*API) {
	return func(api *API) {
		api.logger = logger
	}
}
