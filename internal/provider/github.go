package provider

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"marcus/internal/task"
	"marcus/internal/types"
)

// GitHub maps tasks onto issues in one repository. Status travels as a
// label (marcus:in_progress etc.) since issues only know open/closed.
type GitHub struct {
	rc    *restClient
	owner string
	repo  string
}

// NewGitHub creates a provider backed by a GitHub repository's issues.
// repo is "owner/name".
func NewGitHub(baseURL, token, repo string, timeout time.Duration) (*GitHub, error) {
	owner, name, ok := splitRepo(repo)
	if !ok {
		return nil, types.E(types.KindPersistenceFailure, "github: board id %q is not owner/name", repo)
	}
	if baseURL == "" {
		baseURL = "https://api.github.com"
	}
	rc := newRESTClient("github", baseURL, token, timeout)
	rc.headers = map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	return &GitHub{rc: rc, owner: owner, repo: name}, nil
}

func splitRepo(repo string) (owner, name string, ok bool) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], i > 0 && i < len(repo)-1
		}
	}
	return "", "", false
}

func (g *GitHub) Name() string { return "github" }

const statusLabelPrefix = "marcus:"

type ghIssue struct {
	Number int       `json:"number,omitempty"`
	Title  string    `json:"title"`
	Body   string    `json:"body,omitempty"`
	State  string    `json:"state,omitempty"`
	Labels []ghLabel `json:"labels,omitempty"`
}

type ghLabel struct {
	Name string `json:"name"`
}

func ghLabels(c Card) []string {
	out := append([]string(nil), c.Labels...)
	return append(out, statusLabelPrefix+string(c.Status))
}

func ghCard(is ghIssue) Card {
	c := Card{ID: strconv.Itoa(is.Number), Name: is.Title, Description: is.Body, Status: task.StatusTodo}
	for _, l := range is.Labels {
		if len(l.Name) > len(statusLabelPrefix) && l.Name[:len(statusLabelPrefix)] == statusLabelPrefix {
			c.Status = task.Status(l.Name[len(statusLabelPrefix):])
			continue
		}
		c.Labels = append(c.Labels, l.Name)
	}
	if is.State == "closed" && !c.Status.Terminal() {
		c.Status = task.StatusDone
	}
	return c
}

func (g *GitHub) issuePath(id string) string {
	return fmt.Sprintf("/repos/%s/%s/issues/%s", g.owner, g.repo, id)
}

func (g *GitHub) CreateTask(ctx context.Context, c Card, idemKey string) (string, error) {
	in := map[string]interface{}{"title": c.Name, "body": c.Description, "labels": ghLabels(c)}
	var out ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues", g.owner, g.repo)
	if err := g.rc.do(ctx, "POST", path, in, &out, idemKey); err != nil {
		return "", err
	}
	return strconv.Itoa(out.Number), nil
}

func (g *GitHub) GetTask(ctx context.Context, id string) (*Card, error) {
	var out ghIssue
	if err := g.rc.do(ctx, "GET", g.issuePath(id), nil, &out, ""); err != nil {
		return nil, err
	}
	c := ghCard(out)
	return &c, nil
}

func (g *GitHub) UpdateTask(ctx context.Context, c Card, idemKey string) error {
	in := map[string]interface{}{
		"title":  c.Name,
		"body":   c.Description,
		"labels": ghLabels(c),
		"state":  ghState(c.Status),
	}
	return g.rc.do(ctx, "PATCH", g.issuePath(c.ID), in, nil, idemKey)
}

// DeleteTask closes the issue; GitHub has no true delete.
func (g *GitHub) DeleteTask(ctx context.Context, id string, idemKey string) error {
	in := map[string]string{"state": "closed", "state_reason": "not_planned"}
	return g.rc.do(ctx, "PATCH", g.issuePath(id), in, nil, idemKey)
}

func ghState(s task.Status) string {
	if s.Terminal() {
		return "closed"
	}
	return "open"
}

func (g *GitHub) SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error {
	cur, err := g.GetTask(ctx, id)
	if err != nil {
		return err
	}
	cur.Status = status
	return g.UpdateTask(ctx, *cur, idemKey)
}

func (g *GitHub) AddComment(ctx context.Context, id string, text string, idemKey string) error {
	in := map[string]string{"body": text}
	return g.rc.do(ctx, "POST", g.issuePath(id)+"/comments", in, nil, idemKey)
}

func (g *GitHub) ListBoard(ctx context.Context) ([]Card, error) {
	var out []ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues?state=all&per_page=100", g.owner, g.repo)
	if err := g.rc.do(ctx, "GET", path, nil, &out, ""); err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(out))
	for _, is := range out {
		cards = append(cards, ghCard(is))
	}
	return cards, nil
}
