// Package metrics holds the instrumentation interfaces shared by the actor
// runtime, the cluster transport, aggregators and the membership registry.
// Backends live in adapters; the core only sees these interfaces.
package metrics

import "time"

// Timer measures one operation; call ObserveDuration when it completes.
//
//	defer m.MessageDuration("ping").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

// ObserveFunc turns a histogram-like observe func into a Timer starting now.
func ObserveFunc(observe func(seconds float64)) Timer {
	return &funcTimer{start: time.Now(), observe: observe}
}

type funcTimer struct {
	start   time.Time
	observe func(float64)
}

func (t *funcTimer) ObserveDuration() { t.observe(time.Since(t.start).Seconds()) }
