package client

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/fanout/core/query"
)

func TestRandomText(t *testing.T) {
	require.Empty(t, RandomText(0))
	for range 20 {
		words := strings.Split(RandomText(10), " ")
		require.Len(t, words, 10)
		for _, w := range words {
			require.GreaterOrEqual(t, len(w), 3)
			require.LessOrEqual(t, len(w), 8)
			require.Equal(t, strings.ToLower(w), w)
		}
	}
}

func TestDriver_requires_query(t *testing.T) {
	_, err := New(Options{})
	require.ErrorIs(t, err, ErrNoQuery)
}

func TestDriver_counts_outcomes(t *testing.T) {
	var calls int
	ids := map[string]bool{}
	d, err := New(Options{
		Interval:    5 * time.Millisecond,
		MaxRequests: 3,
		Log:         slog.New(slog.DiscardHandler),
		Query: func(ctx context.Context, requestID string) (Result, error) {
			ids[requestID] = true
			calls++
			switch calls {
			case 1:
				return query.Reply{RequestID: requestID, Results: map[string]query.Result{"a": query.Value(1)}}, nil
			case 2:
				return query.Reply{RequestID: requestID, Results: map[string]query.Result{"a": query.TimedOut()}}, nil
			default:
				return nil, errors.New("boom")
			}
		},
	})
	require.NoError(t, err)

	require.NoError(t, d.Run(t.Context()))
	require.Equal(t, Stats{Sent: 3, Complete: 1, Partial: 1, Failed: 1}, d.Stats())
	require.Len(t, ids, 3)
}

func TestDriver_stops_with_context(t *testing.T) {
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	d, err := New(Options{
		Interval: time.Hour,
		Query: func(ctx context.Context, requestID string) (Result, error) {
			t.Fatal("no request expected")
			return nil, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, d.Run(ctx))
	require.Zero(t, d.Stats().Sent)
}

func TestDriver_applies_timeout(t *testing.T) {
	d, err := New(Options{
		Interval:    5 * time.Millisecond,
		Timeout:     20 * time.Millisecond,
		MaxRequests: 1,
		Query: func(ctx context.Context, requestID string) (Result, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)
	require.NoError(t, d.Run(t.Context()))
	require.Equal(t, int64(1), d.Stats().Failed)
}

type words struct{ n int }

func (w words) Partial() bool        { return false }
func (w words) LogValue() slog.Value { return slog.IntValue(w.n) }

func TestTexts(t *testing.T) {
	var gotID string
	q := Texts(4, func(ctx context.Context, requestID, text string) (words, error) {
		gotID = requestID
		return words{n: len(strings.Fields(text))}, nil
	})
	res, err := q(t.Context(), "id-7")
	require.NoError(t, err)
	require.Equal(t, words{n: 4}, res)
	require.Equal(t, "id-7", gotID)
}

func TestDriver_waits_interval_after_each_reply(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		busy     = 60 * time.Millisecond
	)
	var starts []time.Time
	d, err := New(Options{
		Interval:    interval,
		Timeout:     time.Second,
		MaxRequests: 3,
		Log:         slog.New(slog.DiscardHandler),
		Query: func(ctx context.Context, requestID string) (Result, error) {
			starts = append(starts, time.Now())
			time.Sleep(busy)
			return query.Reply{RequestID: requestID, Results: map[string]query.Result{}}, nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, d.Run(t.Context()))

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		require.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), busy+interval)
	}
}
