// Package provider abstracts the kanban backend behind a narrow CRUD
// interface. The core books state locally first and then reflects it
// here; a failed reflection is retried and later repaired by the
// reconciliation worker, so the local store stays the source of truth.
//
// Callers pass a client-generated idempotency key with every mutation so
// retries are safe against backends without compare-and-set semantics.
package provider

import (
	"context"

	"marcus/internal/task"
)

// Card is the provider's view of a task.
type Card struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Status      task.Status `json:"status"`
	Labels      []string    `json:"labels,omitempty"`
}

// Provider is the kanban backend seam. All mutations must be idempotent
// on retry under the same key.
type Provider interface {
	Name() string
	CreateTask(ctx context.Context, c Card, idemKey string) (string, error)
	GetTask(ctx context.Context, id string) (*Card, error)
	UpdateTask(ctx context.Context, c Card, idemKey string) error
	DeleteTask(ctx context.Context, id string, idemKey string) error
	SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error
	AddComment(ctx context.Context, id string, text string, idemKey string) error
	ListBoard(ctx context.Context) ([]Card, error)
}
