package stock

import "time"

// Options configures an Engine.
type Options struct {
	// AllowNegativeStock lets outgoing movements drive stock below zero.
	AllowNegativeStock bool

	// DefaultTimezone applies to outlets created without one.
	DefaultTimezone string

	// Now overrides the clock (tests). Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions allows negative stock and uses UTC.
func DefaultOptions() Options {
	return Options{AllowNegativeStock: true, DefaultTimezone: "UTC"}
}

// Engine bundles the components that share one store.
type Engine struct {
	Outlets *Directory
	Items   *Registry
	Ledger  *Ledger
	Stock   *Projection
	Closing *ClosingEngine
	Metrics *Aggregator
}

func NewEngine(store Store, opts Options) *Engine {
	return &Engine{
		Outlets: &Directory{Store: store, DefaultTimezone: opts.DefaultTimezone, Now: opts.Now},
		Items:   &Registry{Store: store, Now: opts.Now},
		Ledger:  &Ledger{Store: store, AllowNegative: opts.AllowNegativeStock, Now: opts.Now},
		Stock:   &Projection{Store: store},
		Closing: &ClosingEngine{Store: store, Now: opts.Now},
		Metrics: &Aggregator{Store: store, Now: opts.Now},
	}
}
