package core

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"marcus/internal/logging"
	"marcus/internal/provider"
	"marcus/internal/store"
	"marcus/internal/task"
)

// diagRefreshInterval paces the background board analysis feeding the
// cached health score.
const diagRefreshInterval = 30 * time.Second

// Run starts the background workers and blocks until ctx is cancelled:
// the lease sweeper, the provider reconciler, and the diagnostics
// refresher.
func (c *Core) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.loop(ctx, c.cfg.Lease.SweepInterval(), c.SweepExpired) })
	g.Go(func() error {
		return c.loop(ctx, c.cfg.Provider.ReconcileInterval(), func() { c.Reconcile(ctx) })
	})
	g.Go(func() error {
		return c.loop(ctx, diagRefreshInterval, func() {
			if _, err := c.Diagnose(); err != nil {
				logging.Worker("diagnostics refresh: %v", err)
			}
		})
	})
	return g.Wait()
}

func (c *Core) loop(ctx context.Context, period time.Duration, fn func()) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// SweepExpired recovers every lapsed lease: the task returns to the
// pool with a note, the holder takes a failure outcome, and the board
// mirror is updated.
func (c *Core) SweepExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, l := range c.leases.Expired(c.now()) {
		t, err := c.graph.Get(l.TaskID)
		if err != nil {
			c.leases.Release(l.TaskID)
			continue
		}
		labels := append([]string(nil), t.Labels...)
		if t.Status == task.StatusBlocked {
			// The task stays blocked; only the claim on it lapses.
			c.leases.Release(l.TaskID)
			c.graph.SetAssignee(l.TaskID, "")
			c.agents.SetAssignment(l.AgentID, "")
			c.st.Delete(store.AssignmentKey(l.AgentID))
		} else if err := c.assigner.Drop(l.AgentID, l.TaskID, task.StatusTodo); err != nil {
			logging.Worker("sweeping lease on %s: %v", l.TaskID, err)
			continue
		}
		c.graph.AddNote(l.TaskID, fmt.Sprintf("lease of %s expired at %s; returned to pool",
			l.AgentID, l.ExpiresAt.Format(time.RFC3339)))
		c.agents.RecordOutcome(l.AgentID, labels, false)
		if snap, err := c.graph.Snapshot(l.TaskID); err == nil {
			store.PutJSON(c.st, store.TaskKey(l.TaskID), snap)
		}
		if c.prov != nil {
			c.prov.SetStatus(context.Background(), l.TaskID, task.StatusTodo, "sweep-"+l.TaskID+"-"+fmt.Sprint(l.Version))
		}
		logging.Worker("lease on %s expired, task recovered from %s", l.TaskID, l.AgentID)
		c.emit("lease_expired", l.TaskID, l.AgentID, "task returned to pool")
	}
}

// Reconcile compares the provider board against local state. Local
// wins: divergent card statuses are pushed out, missing cards are
// created, and cards unknown locally are imported as new tasks.
func (c *Core) Reconcile(ctx context.Context) {
	if c.prov == nil {
		return
	}
	// Board read happens before the lock; only the comparison and the
	// (asynchronous) repairs run under it.
	cards, err := c.prov.ListBoard(ctx)
	if err != nil {
		logging.Provider("reconcile: list board: %v", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byID := make(map[string]provider.Card, len(cards))
	for _, card := range cards {
		byID[card.ID] = card
	}

	pushed, imported := 0, 0
	for _, id := range c.graph.All() {
		t, _ := c.graph.Get(id)
		card, ok := byID[id]
		if !ok {
			c.prov.CreateTask(ctx, provider.Card{
				ID: t.ID, Name: t.Name, Description: t.Description, Status: t.Status, Labels: t.Labels,
			}, "reconcile-create-"+t.ID)
			pushed++
			continue
		}
		delete(byID, id)
		if card.Status != t.Status {
			c.prov.SetStatus(ctx, id, t.Status, fmt.Sprintf("reconcile-%s-%s", id, t.Status))
			pushed++
		}
	}

	// Remaining cards exist only on the board: new work added out of
	// band. Terminal cards are history, not new work.
	for id, card := range byID {
		if card.Status.Terminal() {
			continue
		}
		t := &task.Task{
			ID:          id,
			Name:        card.Name,
			Description: card.Description,
			Status:      card.Status,
			Labels:      card.Labels,
		}
		if err := c.graph.Add(t); err != nil {
			logging.Provider("reconcile: importing card %s: %v", id, err)
			continue
		}
		store.PutJSON(c.st, store.TaskKey(id), t)
		c.emit("task_created", id, "", "imported from board")
		imported++
	}
	if pushed+imported > 0 {
		logging.Provider("reconciled board: %d pushed, %d imported", pushed, imported)
	}
}
