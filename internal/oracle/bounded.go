package oracle

import (
	"context"
	"time"

	"marcus/internal/deps"
	"marcus/internal/logging"
	"marcus/internal/task"
)

// Bounded runs a primary oracle under a hard deadline and falls back
// to a deterministic one when the primary errs or runs long. Callers
// always get an answer; assignment never stalls on the model.
type Bounded struct {
	primary  Oracle
	fallback Oracle
	deadline time.Duration
}

// Bound wraps primary with deadline and fallback. A nil primary means
// the fallback answers everything.
func Bound(primary Oracle, fallback Oracle, deadline time.Duration) *Bounded {
	if deadline <= 0 {
		deadline = 2 * time.Second
	}
	return &Bounded{primary: primary, fallback: fallback, deadline: deadline}
}

// Budget returns the deadline one oracle question may consume. Callers
// issuing a batch of questions under one time budget derive a shared
// context from it.
func (b *Bounded) Budget() time.Duration { return b.deadline }

func (b *Bounded) Name() string {
	if b.primary == nil {
		return b.fallback.Name()
	}
	return b.primary.Name() + "+" + b.fallback.Name()
}

type outcome[T any] struct {
	val T
	err error
}

// bounded executes the primary under the deadline. The primary call runs
// in its own goroutine so a stuck client cannot hold the caller past the
// budget; results travel through the channel, so a late answer is
// dropped rather than raced with the fallback's.
func bounded[T any](b *Bounded, ctx context.Context, op string,
	primary func(context.Context) (T, error), fallback func() (T, error)) (T, error) {
	if b.primary == nil {
		return fallback()
	}
	ctx, cancel := context.WithTimeout(ctx, b.deadline)
	defer cancel()

	done := make(chan outcome[T], 1)
	go func() {
		v, err := primary(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.val, nil
		}
		logging.Oracle("%s failed, using fallback: %v", op, out.err)
	case <-ctx.Done():
		logging.Oracle("%s exceeded %s deadline, using fallback", op, b.deadline)
	}
	return fallback()
}

func (b *Bounded) ScoreFit(ctx context.Context, req FitRequest) (Fit, error) {
	return bounded(b, ctx, "fit scoring",
		func(ctx context.Context) (Fit, error) { return b.primary.ScoreFit(ctx, req) },
		func() (Fit, error) { return b.fallback.ScoreFit(ctx, req) })
}

func (b *Bounded) InferDependencies(ctx context.Context, tasks []*task.Task) ([]deps.CandidateEdge, error) {
	return bounded(b, ctx, "dependency inference",
		func(ctx context.Context) ([]deps.CandidateEdge, error) { return b.primary.InferDependencies(ctx, tasks) },
		func() ([]deps.CandidateEdge, error) { return b.fallback.InferDependencies(ctx, tasks) })
}

func (b *Bounded) SuggestMitigation(ctx context.Context, t *task.Task, blk task.Blocker) (Mitigation, error) {
	return bounded(b, ctx, "blocker mitigation",
		func(ctx context.Context) (Mitigation, error) { return b.primary.SuggestMitigation(ctx, t, blk) },
		func() (Mitigation, error) { return b.fallback.SuggestMitigation(ctx, t, blk) })
}

func (b *Bounded) Predict(ctx context.Context, req FitRequest) (Prediction, error) {
	return bounded(b, ctx, "prediction",
		func(ctx context.Context) (Prediction, error) { return b.primary.Predict(ctx, req) },
		func() (Prediction, error) { return b.fallback.Predict(ctx, req) })
}
