package membership

import (
	"context"
	"log/slog"
	"time"
)

// Follow keeps the registry in sync with feed until ctx is done. When the
// subscription fails or the feed closes, the registry keeps serving its last
// snapshot marked stale and resubscribes with exponential backoff.
func (r *Registry) Follow(ctx context.Context, feed Feed) error {
	if r.resolve == nil {
		return ErrNoResolver
	}

	backoff := r.minBackoff
	for {
		ch, err := feed.Subscribe(ctx, r.topic)
		if err == nil {
			if r.consume(ctx, ch) {
				backoff = r.minBackoff
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		r.markStale(err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(2*backoff, r.maxBackoff)
		r.metrics.FeedResubscribed(r.topic)
	}
}

// consume applies events until the channel closes and reports whether any
// event arrived.
func (r *Registry) consume(ctx context.Context, ch <-chan Changed) (received bool) {
	for {
		select {
		case <-ctx.Done():
			return received
		case c, ok := <-ch:
			if !ok {
				return received
			}
			received = true
			if r.Stale() {
				r.log.Info("membership feed recovered")
				r.setStale(false)
			}
			if err := r.Apply(ctx, c); err != nil {
				r.log.Warn("failed to apply membership change", slog.Any("change", c), slog.Any("error", err))
			}
		}
	}
}

func (r *Registry) markStale(err error) {
	age := time.Since(time.Unix(0, r.changedAt.Load()))
	attrs := []any{
		slog.Duration("snapshot_age", age),
		slog.Int("members", r.Snapshot().Len()),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
	}
	r.log.Warn("membership feed lost, serving last snapshot", attrs...)
	r.setStale(true)
}
