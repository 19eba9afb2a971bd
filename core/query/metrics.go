package query

import "time"

// QueryMetrics instruments aggregators. All methods are thread-safe.
type QueryMetrics interface {
	QueryStarted(targets int)
	// OutcomeRecorded is called once per target with the Kind name.
	OutcomeRecorded(kind string)
	QueryCompleted(partial bool, took time.Duration)
}

type nopQueryMetrics struct{}

func (nopQueryMetrics) QueryStarted(int)                   {}
func (nopQueryMetrics) OutcomeRecorded(string)             {}
func (nopQueryMetrics) QueryCompleted(bool, time.Duration) {}

func NopQueryMetrics() QueryMetrics { return nopQueryMetrics{} }
