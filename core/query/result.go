package query

import (
	"fmt"
	"log/slog"
	"sort"
)

// Kind tags a per-worker outcome.
type Kind int

const (
	// KindValue carries a value the worker answered with.
	KindValue Kind = iota
	// KindUnavailable means the worker answered but had nothing to report.
	KindUnavailable
	// KindTerminated means the worker stopped before answering.
	KindTerminated
	// KindTimedOut means the deadline fired before the worker answered.
	KindTimedOut
)

var kindNames = map[Kind]string{
	KindValue:       "value",
	KindUnavailable: "unavailable",
	KindTerminated:  "terminated",
	KindTimedOut:    "timed_out",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	for kind, name := range kindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("query: unknown result kind %q", string(b))
}

// Result is the outcome recorded for one targeted worker.
type Result struct {
	Kind  Kind    `json:"kind"`
	Value float64 `json:"value,omitempty"`
}

func Value(v float64) Result { return Result{Kind: KindValue, Value: v} }
func Unavailable() Result    { return Result{Kind: KindUnavailable} }
func Terminated() Result     { return Result{Kind: KindTerminated} }
func TimedOut() Result       { return Result{Kind: KindTimedOut} }

// Float returns the value for KindValue results.
func (r Result) Float() (float64, bool) {
	return r.Value, r.Kind == KindValue
}

func (r Result) String() string {
	if r.Kind == KindValue {
		return fmt.Sprintf("value(%g)", r.Value)
	}
	return r.Kind.String()
}

// Reply is the single aggregated answer to a request. Results holds exactly
// one entry per targeted worker.
type Reply struct {
	RequestID string            `json:"request_id"`
	Results   map[string]Result `json:"results"`
}

// Partial reports whether any worker did not answer with a value.
func (r Reply) Partial() bool {
	for _, res := range r.Results {
		if res.Kind != KindValue {
			return true
		}
	}
	return false
}

// Count returns how many results are of kind k.
func (r Reply) Count(k Kind) (n int) {
	for _, res := range r.Results {
		if res.Kind == k {
			n++
		}
	}
	return n
}

// Values returns all KindValue values ordered by worker id.
func (r Reply) Values() []float64 {
	ids := make([]string, 0, len(r.Results))
	for id, res := range r.Results {
		if res.Kind == KindValue {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]float64, len(ids))
	for i, id := range ids {
		out[i] = r.Results[id].Value
	}
	return out
}

func (r Reply) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("request_id", r.RequestID),
		slog.Int("workers", len(r.Results)),
		slog.Int("values", r.Count(KindValue)),
		slog.Int("unavailable", r.Count(KindUnavailable)),
		slog.Int("terminated", r.Count(KindTerminated)),
		slog.Int("timed_out", r.Count(KindTimedOut)),
	)
}

var _ slog.LogValuer = Reply{}
