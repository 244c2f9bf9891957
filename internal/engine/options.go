package engine

import "github.com/prometheus/client_golang/prometheus"

type options struct {
	journal    Journal
	registerer prometheus.Registerer
}

// Option configures an Engine.
type Option func(*options)

// WithJournal records every terminal run in j.
func WithJournal(j Journal) Option {
	return func(o *options) {
		o.journal = j
	}
}

// WithMetrics registers the engine's collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}
