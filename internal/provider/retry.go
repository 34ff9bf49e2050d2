package provider

import (
	"context"
	"time"

	"marcus/internal/logging"
	"marcus/internal/task"
	"marcus/internal/types"
)

// Retrying wraps a Provider with bounded exponential backoff on
// retryable failures. Every attempt reuses the caller's idempotency
// key, so a retry after an ambiguous failure cannot double-apply.
type Retrying struct {
	inner    Provider
	attempts int
	base     time.Duration
	sleep    func(context.Context, time.Duration) error
}

// WithRetry wraps p. attempts is the total number of tries (min 1).
func WithRetry(p Provider, attempts int, base time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return &Retrying{inner: p, attempts: attempts, base: base, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (r *Retrying) Name() string { return r.inner.Name() }

func (r *Retrying) retry(ctx context.Context, op string, fn func() error) error {
	delay := r.base
	var err error
	for i := 0; i < r.attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !types.Retryable(err) || i == r.attempts-1 {
			return err
		}
		logging.Provider("%s %s attempt %d/%d failed, retrying in %s: %v",
			r.inner.Name(), op, i+1, r.attempts, delay, err)
		if serr := r.sleep(ctx, delay); serr != nil {
			return types.E(types.KindTimeout, "%s %s: %v", r.inner.Name(), op, serr)
		}
		delay *= 2
	}
	return err
}

func (r *Retrying) CreateTask(ctx context.Context, c Card, idemKey string) (string, error) {
	var id string
	err := r.retry(ctx, "create", func() error {
		var err error
		id, err = r.inner.CreateTask(ctx, c, idemKey)
		return err
	})
	return id, err
}

func (r *Retrying) GetTask(ctx context.Context, id string) (*Card, error) {
	var c *Card
	err := r.retry(ctx, "get", func() error {
		var err error
		c, err = r.inner.GetTask(ctx, id)
		return err
	})
	return c, err
}

func (r *Retrying) UpdateTask(ctx context.Context, c Card, idemKey string) error {
	return r.retry(ctx, "update", func() error { return r.inner.UpdateTask(ctx, c, idemKey) })
}

func (r *Retrying) DeleteTask(ctx context.Context, id string, idemKey string) error {
	return r.retry(ctx, "delete", func() error { return r.inner.DeleteTask(ctx, id, idemKey) })
}

func (r *Retrying) SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error {
	return r.retry(ctx, "set-status", func() error { return r.inner.SetStatus(ctx, id, status, idemKey) })
}

func (r *Retrying) AddComment(ctx context.Context, id string, text string, idemKey string) error {
	return r.retry(ctx, "comment", func() error { return r.inner.AddComment(ctx, id, text, idemKey) })
}

func (r *Retrying) ListBoard(ctx context.Context) ([]Card, error) {
	var cards []Card
	err := r.retry(ctx, "list", func() error {
		var err error
		cards, err = r.inner.ListBoard(ctx)
		return err
	})
	return cards, err
}
