package core

import (
	"context"
	"encoding/json"

	"marcus/internal/logging"
	"marcus/internal/progress"
	"marcus/internal/task"
	"marcus/internal/types"
)

// Request is one tool invocation. The transport authenticates the
// caller and stamps the role; the core only checks it.
type Request struct {
	Tool    string          `json:"tool"`
	AgentID string          `json:"agent_id,omitempty"`
	Role    types.Role      `json:"role,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Response is the uniform tool envelope. Failures carry a kind from the
// closed set and a retryability hint.
type Response struct {
	OK        bool            `json:"ok"`
	ErrorKind types.ErrorKind `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
	Retryable bool            `json:"retryable,omitempty"`
	Result    interface{}     `json:"result,omitempty"`
}

func ok(result interface{}) Response { return Response{OK: true, Result: result} }

func fail(err error) Response {
	return Response{
		OK:        false,
		ErrorKind: types.KindOf(err),
		Message:   err.Error(),
		Retryable: types.Retryable(err),
	}
}

// writeTools mutate board or agent state and require a writing role.
var writeTools = map[string]bool{
	"register_agent":       true,
	"request_next_task":    true,
	"report_task_progress": true,
	"report_blocker":       true,
	"resolve_blocker":      true,
	"log_decision":         true,
	"log_artifact":         true,
}

// Dispatch routes one tool call. Panics inside a handler are contained
// here so a single bad call cannot take the server down.
func (c *Core) Dispatch(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			logging.Worker("panic in tool %s: %v", req.Tool, r)
			resp = Response{
				OK:        false,
				ErrorKind: types.KindPersistenceFailure,
				Message:   "internal error",
			}
		}
	}()

	role := req.Role
	if role == "" {
		role = types.RoleAgent
	}
	if !role.CanRead() {
		return fail(types.E(types.KindPermissionDenied, "unrecognized role %q", role))
	}
	if writeTools[req.Tool] && !role.CanWrite() {
		return fail(types.E(types.KindPermissionDenied, "role %s cannot call %s", role, req.Tool))
	}

	switch req.Tool {
	case "register_agent":
		return c.toolRegisterAgent(req)
	case "request_next_task":
		return c.toolRequestNextTask(ctx, req)
	case "report_task_progress":
		return c.toolReportProgress(ctx, req)
	case "report_blocker":
		return c.toolReportBlocker(ctx, req)
	case "resolve_blocker":
		return c.toolResolveBlocker(ctx, req)
	case "get_task_context":
		return c.toolTaskContext(ctx, req)
	case "check_task_dependencies":
		return c.toolCheckDependencies(req)
	case "log_decision":
		return c.toolLogDecision(ctx, req)
	case "log_artifact":
		return c.toolLogArtifact(ctx, req)
	case "list_agents":
		return ok(c.ListAgents())
	case "get_agent_status":
		return c.toolAgentStatus(req)
	case "project_status":
		return ok(c.GetProjectStatus())
	case "board_health":
		return c.toolBoardHealth()
	case "diagnose":
		return c.toolDiagnose()
	}
	return fail(types.E(types.KindPermissionDenied, "unknown tool %q", req.Tool))
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func (c *Core) toolRegisterAgent(req Request) Response {
	var args struct {
		Role         string   `json:"role"`
		Capabilities []string `json:"capabilities"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	if args.Role == "" {
		args.Role = string(types.RoleAgent)
	}
	agent, already, err := c.RegisterAgent(req.AgentID, args.Role, args.Capabilities)
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"agent": agent, "already_registered": already})
}

func (c *Core) toolRequestNextTask(ctx context.Context, req Request) Response {
	asg, err := c.RequestNextTask(ctx, req.AgentID)
	if err != nil {
		if reason := emptyReason(err); reason != "" {
			return ok(c.emptyAssignment(reason))
		}
		return fail(err)
	}
	return ok(asg)
}

// emptyReason maps the kinds that mean "nothing for you right now" onto
// the reason codes of an empty assignment. Anything else is an error.
func emptyReason(err error) string {
	switch types.KindOf(err) {
	case types.KindNoReadyTask:
		return "no_ready_tasks"
	case types.KindCapabilityMismatch:
		return "capability_mismatch"
	case types.KindConflict:
		return "concurrent_lost_race"
	}
	return ""
}

func (c *Core) toolReportProgress(ctx context.Context, req Request) Response {
	var args struct {
		TaskID  string `json:"task_id"`
		Status  string `json:"status"` // in_progress, paused, completed
		Percent int    `json:"percent"`
		Message string `json:"message"`
		Done    bool   `json:"done"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	ack, err := c.ReportProgress(ctx, progress.Report{
		TaskID:  args.TaskID,
		AgentID: req.AgentID,
		Percent: args.Percent,
		Message: args.Message,
		Done:    args.Done || args.Status == "completed",
	})
	if err != nil {
		return fail(err)
	}
	return ok(ack)
}

func (c *Core) toolReportBlocker(ctx context.Context, req Request) Response {
	var args struct {
		TaskID      string               `json:"task_id"`
		Description string               `json:"description"`
		Severity    task.BlockerSeverity `json:"severity"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	ack, err := c.ReportBlocker(ctx, args.TaskID, req.AgentID, args.Description, args.Severity)
	if err != nil {
		return fail(err)
	}
	return ok(ack)
}

func (c *Core) toolResolveBlocker(ctx context.Context, req Request) Response {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	if err := c.Unblock(ctx, args.TaskID, req.AgentID); err != nil {
		return fail(err)
	}
	return ok(nil)
}

func (c *Core) toolTaskContext(ctx context.Context, req Request) Response {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	tc, err := c.TaskContext(ctx, args.TaskID)
	if err != nil {
		return fail(err)
	}
	return ok(tc)
}

func (c *Core) toolCheckDependencies(req Request) Response {
	var args struct {
		TaskID string `json:"task_id"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	ds, err := c.CheckDependencies(args.TaskID)
	if err != nil {
		return fail(err)
	}
	return ok(ds)
}

func (c *Core) toolLogDecision(ctx context.Context, req Request) Response {
	var args struct {
		TaskID string `json:"task_id"`
		Text   string `json:"text"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	d, err := c.LogDecision(ctx, args.TaskID, req.AgentID, args.Text)
	if err != nil {
		return fail(err)
	}
	return ok(d)
}

func (c *Core) toolLogArtifact(ctx context.Context, req Request) Response {
	var args struct {
		TaskID   string            `json:"task_id"`
		Filename string            `json:"filename"`
		Type     task.ArtifactType `json:"type"`
		Location string            `json:"location"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	a, err := c.LogArtifact(ctx, args.TaskID, req.AgentID, args.Filename, args.Type, args.Location)
	if err != nil {
		return fail(err)
	}
	return ok(a)
}

func (c *Core) toolAgentStatus(req Request) Response {
	var args struct {
		AgentID string `json:"agent_id"`
	}
	if err := decode(req.Args, &args); err != nil {
		return fail(types.E(types.KindInvalidArgument, "bad arguments: %v", err))
	}
	id := args.AgentID
	if id == "" {
		id = req.AgentID
	}
	st, err := c.GetAgentStatus(id)
	if err != nil {
		return fail(err)
	}
	return ok(st)
}

func (c *Core) toolBoardHealth() Response {
	rep, err := c.BoardHealth()
	if err != nil {
		return fail(err)
	}
	return ok(map[string]interface{}{"health": rep.Health, "generated_at": rep.GeneratedAt, "issues": len(rep.Issues)})
}

func (c *Core) toolDiagnose() Response {
	rep, err := c.Diagnose()
	if err != nil {
		return fail(err)
	}
	return ok(rep)
}
