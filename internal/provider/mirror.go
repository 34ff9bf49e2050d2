package provider

import (
	"context"
	"time"

	"marcus/internal/logging"
	"marcus/internal/task"
)

// Mirror decouples board reflection from the serialization point.
// Mutations are queued and applied by one background goroutine, so a
// slow or down backend never holds up a board mutation; reads pass
// through synchronously. Lost writes are repaired by reconciliation.
type Mirror struct {
	inner   Provider
	timeout time.Duration
	ops     chan mirrorOp
	done    chan struct{}
}

type mirrorOp struct {
	apply func(context.Context) error
	name  string
	ack   chan struct{} // non-nil for Flush sentinels
}

// NewMirror wraps inner with an asynchronous write queue.
func NewMirror(inner Provider, buffer int, timeout time.Duration) *Mirror {
	if buffer < 1 {
		buffer = 256
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	m := &Mirror{
		inner:   inner,
		timeout: timeout,
		ops:     make(chan mirrorOp, buffer),
		done:    make(chan struct{}),
	}
	go m.drain()
	return m
}

func (m *Mirror) drain() {
	defer close(m.done)
	for op := range m.ops {
		if op.ack != nil {
			close(op.ack)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := op.apply(ctx); err != nil {
			logging.Provider("mirror %s: %v", op.name, err)
		}
		cancel()
	}
}

// enqueue schedules a mutation. A full queue drops the op; the
// reconciliation worker repairs the drift.
func (m *Mirror) enqueue(name string, apply func(context.Context) error) {
	select {
	case m.ops <- mirrorOp{apply: apply, name: name}:
	default:
		logging.Provider("mirror queue full, dropped %s", name)
	}
}

// Flush blocks until everything queued so far has been applied.
func (m *Mirror) Flush() {
	ack := make(chan struct{})
	select {
	case m.ops <- mirrorOp{ack: ack}:
		<-ack
	case <-m.done:
	}
}

// Close stops the queue after draining it.
func (m *Mirror) Close() {
	close(m.ops)
	<-m.done
}

func (m *Mirror) Name() string { return m.inner.Name() }

func (m *Mirror) CreateTask(_ context.Context, c Card, idemKey string) (string, error) {
	m.enqueue("create "+c.ID, func(ctx context.Context) error {
		_, err := m.inner.CreateTask(ctx, c, idemKey)
		return err
	})
	return c.ID, nil
}

func (m *Mirror) GetTask(ctx context.Context, id string) (*Card, error) {
	return m.inner.GetTask(ctx, id)
}

func (m *Mirror) UpdateTask(_ context.Context, c Card, idemKey string) error {
	m.enqueue("update "+c.ID, func(ctx context.Context) error {
		return m.inner.UpdateTask(ctx, c, idemKey)
	})
	return nil
}

func (m *Mirror) DeleteTask(_ context.Context, id string, idemKey string) error {
	m.enqueue("delete "+id, func(ctx context.Context) error {
		return m.inner.DeleteTask(ctx, id, idemKey)
	})
	return nil
}

func (m *Mirror) SetStatus(_ context.Context, id string, status task.Status, idemKey string) error {
	m.enqueue("set-status "+id, func(ctx context.Context) error {
		return m.inner.SetStatus(ctx, id, status, idemKey)
	})
	return nil
}

func (m *Mirror) AddComment(_ context.Context, id string, text string, idemKey string) error {
	m.enqueue("comment "+id, func(ctx context.Context) error {
		return m.inner.AddComment(ctx, id, text, idemKey)
	})
	return nil
}

func (m *Mirror) ListBoard(ctx context.Context) ([]Card, error) {
	return m.inner.ListBoard(ctx)
}
