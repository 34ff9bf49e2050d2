package provider

import (
	"context"
	"fmt"
	"time"

	"marcus/internal/task"
)

// Planka talks to a Planka board over its REST API. Cards live on one
// board; statuses map to the board's lists by name.
type Planka struct {
	rc      *restClient
	boardID string
}

// NewPlanka creates a Planka-backed provider.
func NewPlanka(baseURL, token, boardID string, timeout time.Duration) *Planka {
	return &Planka{rc: newRESTClient("planka", baseURL, token, timeout), boardID: boardID}
}

func (p *Planka) Name() string { return "planka" }

type plankaCard struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	ListName    string   `json:"listName,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

func plankaList(s task.Status) string {
	switch s {
	case task.StatusTodo:
		return "To Do"
	case task.StatusInProgress:
		return "In Progress"
	case task.StatusBlocked:
		return "Blocked"
	case task.StatusDone:
		return "Done"
	case task.StatusCancelled:
		return "Cancelled"
	}
	return "To Do"
}

func plankaStatus(list string) task.Status {
	switch list {
	case "In Progress":
		return task.StatusInProgress
	case "Blocked":
		return task.StatusBlocked
	case "Done":
		return task.StatusDone
	case "Cancelled":
		return task.StatusCancelled
	}
	return task.StatusTodo
}

func (p *Planka) CreateTask(ctx context.Context, c Card, idemKey string) (string, error) {
	in := plankaCard{Name: c.Name, Description: c.Description, ListName: plankaList(c.Status), Labels: c.Labels}
	var out struct {
		Item plankaCard `json:"item"`
	}
	path := fmt.Sprintf("/api/boards/%s/cards", p.boardID)
	if err := p.rc.do(ctx, "POST", path, in, &out, idemKey); err != nil {
		return "", err
	}
	return out.Item.ID, nil
}

func (p *Planka) GetTask(ctx context.Context, id string) (*Card, error) {
	var out struct {
		Item plankaCard `json:"item"`
	}
	if err := p.rc.do(ctx, "GET", "/api/cards/"+id, nil, &out, ""); err != nil {
		return nil, err
	}
	return &Card{
		ID:          out.Item.ID,
		Name:        out.Item.Name,
		Description: out.Item.Description,
		Status:      plankaStatus(out.Item.ListName),
		Labels:      out.Item.Labels,
	}, nil
}

func (p *Planka) UpdateTask(ctx context.Context, c Card, idemKey string) error {
	in := plankaCard{Name: c.Name, Description: c.Description, ListName: plankaList(c.Status), Labels: c.Labels}
	return p.rc.do(ctx, "PATCH", "/api/cards/"+c.ID, in, nil, idemKey)
}

func (p *Planka) DeleteTask(ctx context.Context, id string, idemKey string) error {
	return p.rc.do(ctx, "DELETE", "/api/cards/"+id, nil, nil, idemKey)
}

func (p *Planka) SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error {
	in := map[string]string{"listName": plankaList(status)}
	return p.rc.do(ctx, "PATCH", "/api/cards/"+id, in, nil, idemKey)
}

func (p *Planka) AddComment(ctx context.Context, id string, text string, idemKey string) error {
	in := map[string]string{"text": text}
	return p.rc.do(ctx, "POST", "/api/cards/"+id+"/comment-actions", in, nil, idemKey)
}

func (p *Planka) ListBoard(ctx context.Context) ([]Card, error) {
	var out struct {
		Items []plankaCard `json:"items"`
	}
	path := fmt.Sprintf("/api/boards/%s/cards", p.boardID)
	if err := p.rc.do(ctx, "GET", path, nil, &out, ""); err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(out.Items))
	for _, it := range out.Items {
		cards = append(cards, Card{
			ID:          it.ID,
			Name:        it.Name,
			Description: it.Description,
			Status:      plankaStatus(it.ListName),
			Labels:      it.Labels,
		})
	}
	return cards, nil
}
