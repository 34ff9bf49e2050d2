package provider

import (
	"context"
	"time"

	"marcus/internal/task"
)

// Linear drives the Linear GraphQL API. One team is the board; workflow
// state names carry the status.
type Linear struct {
	rc     *restClient
	teamID string
}

// NewLinear creates a Linear-backed provider for one team.
func NewLinear(baseURL, token, teamID string, timeout time.Duration) *Linear {
	if baseURL == "" {
		baseURL = "https://api.linear.app"
	}
	return &Linear{rc: newRESTClient("linear", baseURL, token, timeout), teamID: teamID}
}

func (l *Linear) Name() string { return "linear" }

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

func (l *Linear) gql(ctx context.Context, query string, vars map[string]interface{}, out interface{}, idemKey string) error {
	return l.rc.do(ctx, "POST", "/graphql", gqlRequest{Query: query, Variables: vars}, out, idemKey)
}

func linearState(s task.Status) string {
	switch s {
	case task.StatusInProgress:
		return "In Progress"
	case task.StatusBlocked:
		return "Blocked"
	case task.StatusDone:
		return "Done"
	case task.StatusCancelled:
		return "Canceled"
	}
	return "Todo"
}

func linearStatus(state string) task.Status {
	switch state {
	case "In Progress":
		return task.StatusInProgress
	case "Blocked":
		return task.StatusBlocked
	case "Done":
		return task.StatusDone
	case "Canceled":
		return task.StatusCancelled
	}
	return task.StatusTodo
}

type linearIssue struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Desc  string `json:"description"`
	State struct {
		Name string `json:"name"`
	} `json:"state"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
}

func linearCard(is linearIssue) Card {
	c := Card{ID: is.ID, Name: is.Title, Description: is.Desc, Status: linearStatus(is.State.Name)}
	for _, n := range is.Labels.Nodes {
		c.Labels = append(c.Labels, n.Name)
	}
	return c
}

func (l *Linear) CreateTask(ctx context.Context, c Card, idemKey string) (string, error) {
	const q = `mutation($input: IssueCreateInput!) {
		issueCreate(input: $input) { issue { id } }
	}`
	var out struct {
		Data struct {
			IssueCreate struct {
				Issue struct {
					ID string `json:"id"`
				} `json:"issue"`
			} `json:"issueCreate"`
		} `json:"data"`
	}
	vars := map[string]interface{}{"input": map[string]interface{}{
		"teamId":      l.teamID,
		"title":       c.Name,
		"description": c.Description,
		"stateName":   linearState(c.Status),
	}}
	if err := l.gql(ctx, q, vars, &out, idemKey); err != nil {
		return "", err
	}
	return out.Data.IssueCreate.Issue.ID, nil
}

func (l *Linear) GetTask(ctx context.Context, id string) (*Card, error) {
	const q = `query($id: String!) {
		issue(id: $id) {
			id title description
			state { name }
			labels { nodes { name } }
		}
	}`
	var out struct {
		Data struct {
			Issue linearIssue `json:"issue"`
		} `json:"data"`
	}
	if err := l.gql(ctx, q, map[string]interface{}{"id": id}, &out, ""); err != nil {
		return nil, err
	}
	c := linearCard(out.Data.Issue)
	return &c, nil
}

func (l *Linear) UpdateTask(ctx context.Context, c Card, idemKey string) error {
	const q = `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	vars := map[string]interface{}{"id": c.ID, "input": map[string]interface{}{
		"title":       c.Name,
		"description": c.Description,
		"stateName":   linearState(c.Status),
	}}
	return l.gql(ctx, q, vars, nil, idemKey)
}

func (l *Linear) DeleteTask(ctx context.Context, id string, idemKey string) error {
	const q = `mutation($id: String!) {
		issueArchive(id: $id) { success }
	}`
	return l.gql(ctx, q, map[string]interface{}{"id": id}, nil, idemKey)
}

func (l *Linear) SetStatus(ctx context.Context, id string, status task.Status, idemKey string) error {
	const q = `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	vars := map[string]interface{}{"id": id, "input": map[string]interface{}{
		"stateName": linearState(status),
	}}
	return l.gql(ctx, q, vars, nil, idemKey)
}

func (l *Linear) AddComment(ctx context.Context, id string, text string, idemKey string) error {
	const q = `mutation($input: CommentCreateInput!) {
		commentCreate(input: $input) { success }
	}`
	vars := map[string]interface{}{"input": map[string]interface{}{
		"issueId": id,
		"body":    text,
	}}
	return l.gql(ctx, q, vars, nil, idemKey)
}

func (l *Linear) ListBoard(ctx context.Context) ([]Card, error) {
	const q = `query($teamId: ID!) {
		issues(filter: { team: { id: { eq: $teamId } } }, first: 250) {
			nodes {
				id title description
				state { name }
				labels { nodes { name } }
			}
		}
	}`
	var out struct {
		Data struct {
			Issues struct {
				Nodes []linearIssue `json:"nodes"`
			} `json:"issues"`
		} `json:"data"`
	}
	if err := l.gql(ctx, q, map[string]interface{}{"teamId": l.teamID}, &out, ""); err != nil {
		return nil, err
	}
	cards := make([]Card, 0, len(out.Data.Issues.Nodes))
	for _, is := range out.Data.Issues.Nodes {
		cards = append(cards, linearCard(is))
	}
	return cards, nil
}
