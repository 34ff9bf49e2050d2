package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"marcus/internal/task"
	"marcus/internal/types"
)

// InMemory is the in-process provider used for single-binary deployments
// and tests. It honors idempotency keys and can inject failures.
type InMemory struct {
	mu       sync.Mutex
	cards    map[string]*Card
	comments map[string][]string
	applied  map[string]bool // idempotency keys already applied
	seq      int

	// FailNext makes the next n mutations fail with ProviderUnavailable.
	// Test hook for retry and rollback paths.
	failNext int
}

// NewInMemory creates an empty in-memory provider.
func NewInMemory() *InMemory {
	return &InMemory{
		cards:    make(map[string]*Card),
		comments: make(map[string][]string),
		applied:  make(map[string]bool),
	}
}

func (p *InMemory) Name() string { return "in-memory" }

// FailNext arms failure injection for the next n mutations.
func (p *InMemory) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

func (p *InMemory) checkFail() error {
	if p.failNext > 0 {
		p.failNext--
		return types.E(types.KindProviderUnavailable, "injected provider failure")
	}
	return nil
}

func (p *InMemory) CreateTask(ctx context.Context, c Card, idemKey string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkFail(); err != nil {
		return "", err
	}
	if idemKey != "" && p.applied[idemKey] {
		return c.ID, nil
	}
	if c.ID == "" {
		p.seq++
		c.ID = newID(p.seq)
	}
	cp := c
	p.cards[c.ID] = &cp
	if idemKey != "" {
		p.applied[idemKey] = true
	}
	return c.ID, nil
}

func (p *InMemory) GetTask(ctx context.Context, id string) (*Card, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cards[id]
	if !ok {
		return nil, types.E(types.KindUnknownTask, "card %s not found", id)
	}
	cp := *c
	return &cp, nil
}

func (p *InMemory) UpdateTask(ctx context.Context, c Card, idemKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkFail(); err != nil {
		return err
	}
	if idemKey != "" && p.applied[idemKey] {
		return nil
	}
	if _, ok := p.cards[c.ID]; !ok {
		return types.E(types.KindUnknownTask, "card %s not found", c.ID)
	}
	cp := c
	p.cards[c.ID] = &cp
	if idemKey != "" {
		p.applied[idemKey] = true
	}
	return nil
}

func (p *InMemory) DeleteTask(ctx context.Context, id string, idemKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkFail(); err != nil {
		return err
	}
	if idemKey != "" && p.applied[idemKey] {
		return nil
	}
	delete(p.cards, id)
	delete(p.comments, id)
	if idemKey != "" {
		p.applied[idemKey] = true
	}
	return nil
}

func (p *InMemory) SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkFail(); err != nil {
		return err
	}
	if idemKey != "" && p.applied[idemKey] {
		return nil
	}
	c, ok := p.cards[id]
	if !ok {
		return types.E(types.KindUnknownTask, "card %s not found", id)
	}
	c.Status = status
	if idemKey != "" {
		p.applied[idemKey] = true
	}
	return nil
}

func (p *InMemory) AddComment(ctx context.Context, id string, text string, idemKey string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkFail(); err != nil {
		return err
	}
	if idemKey != "" && p.applied[idemKey] {
		return nil
	}
	if _, ok := p.cards[id]; !ok {
		return types.E(types.KindUnknownTask, "card %s not found", id)
	}
	p.comments[id] = append(p.comments[id], text)
	if idemKey != "" {
		p.applied[idemKey] = true
	}
	return nil
}

func (p *InMemory) ListBoard(ctx context.Context) ([]Card, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.cards))
	for id := range p.cards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Card, 0, len(ids))
	for _, id := range ids {
		out = append(out, *p.cards[id])
	}
	return out, nil
}

// Comments returns the comments on a card. Test observability.
func (p *InMemory) Comments(id string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.comments[id]...)
}

func newID(seq int) string {
	return fmt.Sprintf("card-%d", seq)
}
