package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/a2a"
)

const maxWait = 5 * time.Minute

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.submitTool(),
		s.getTaskTool(),
		s.cancelTaskTool(),
		s.listTasksTool(),
	)
}

func (s *Server) submitTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("submit_contract_review",
		mcplib.WithDescription("Submit contract text for clause extraction, risk assessment and recommendations"),
		mcplib.WithString("text",
			mcplib.Required(),
			mcplib.Description("The full contract text"),
		),
		mcplib.WithString("task_id",
			mcplib.Description("Optional client-chosen task ID; resubmitting an existing ID returns that task"),
		),
		mcplib.WithString("session_id",
			mcplib.Description("Optional session to group related tasks"),
		),
		mcplib.WithNumber("wait_seconds",
			mcplib.Description("Wait up to this many seconds for the review to finish"),
			mcplib.Min(0),
			mcplib.Max(maxWait.Seconds()),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleSubmit}
}

func (s *Server) getTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("get_task",
		mcplib.WithDescription("Get the state and, once completed, the analysis of a review task"),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to look up"),
		),
		mcplib.WithNumber("history_length",
			mcplib.Description("Number of most recent messages to include; omit for all"),
			mcplib.Min(0),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleGetTask}
}

func (s *Server) cancelTaskTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("cancel_task",
		mcplib.WithDescription("Cancel a review task that has not finished yet"),
		mcplib.WithIdempotentHintAnnotation(true),
		mcplib.WithString("task_id",
			mcplib.Required(),
			mcplib.Description("The task ID to cancel"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCancel}
}

func (s *Server) listTasksTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("list_tasks",
		mcplib.WithDescription("List retained review tasks in submission order"),
		mcplib.WithReadOnlyHintAnnotation(true),
		mcplib.WithString("state",
			mcplib.Description("Only tasks in this state"),
			mcplib.Enum(stateNames()...),
		),
		mcplib.WithNumber("limit",
			mcplib.Description("Maximum number of tasks"),
			mcplib.Min(1),
			mcplib.Max(500),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleListTasks}
}

func (s *Server) handleSubmit(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	text, err := req.RequireString("text")
	if err != nil || text == "" {
		return mcplib.NewToolResultError("text is required"), nil
	}

	in := task.Input{
		Message: task.Message{Role: task.RoleUser, Parts: []task.Part{{Type: task.PartText, Text: text}}},
	}
	if sid := req.GetString("session_id", ""); sid != "" {
		in.Metadata = map[string]any{"sessionId": sid}
	}

	t, err := s.tasks.Submit(ctx, req.GetString("task_id", ""), in)
	if err != nil {
		return toolError("submit failed", err), nil
	}

	if wait := time.Duration(req.GetFloat("wait_seconds", 0) * float64(time.Second)); wait > 0 && !t.State.IsTerminal() {
		if t, err = s.await(ctx, t.ID, min(wait, maxWait)); err != nil {
			return toolError("wait failed", err), nil
		}
	}
	return toolResultJSON(a2a.FromTask(&t, -1))
}

// await blocks until task id reaches a terminal state or wait elapses,
// then returns the latest snapshot.
func (s *Server) await(ctx context.Context, id string, wait time.Duration) (task.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	sub, err := s.tasks.Subscribe(ctx, id)
	if err != nil {
		return task.Task{}, err
	}
	defer s.tasks.Unsubscribe(sub)

loop:
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok || ev.Final {
				break loop
			}
		case <-ctx.Done():
			break loop
		}
	}
	return s.tasks.GetStatus(context.WithoutCancel(ctx), id)
}

func (s *Server) handleGetTask(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	id, err := req.RequireString("task_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	t, err := s.tasks.GetStatus(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("failed to get task %s", id), err), nil
	}
	return toolResultJSON(a2a.FromTask(&t, req.GetInt("history_length", -1)))
}

func (s *Server) handleCancel(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	id, err := req.RequireString("task_id")
	if err != nil || id == "" {
		return mcplib.NewToolResultError("task_id is required"), nil
	}
	ack, err := s.tasks.Cancel(ctx, id)
	if err != nil {
		return toolError(fmt.Sprintf("failed to cancel task %s", id), err), nil
	}
	out := a2a.FromTask(&ack.Task, 0)
	out.AlreadyTerminal = ack.AlreadyTerminal
	return toolResultJSON(out)
}

func (s *Server) handleListTasks(_ context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	var state task.State
	if raw := req.GetString("state", ""); raw != "" {
		state = task.State(raw)
		if !state.Valid() {
			return mcplib.NewToolResultError("unknown state " + raw), nil
		}
	}

	tasks := s.tasks.List(state, req.GetInt("limit", 50))
	out := make([]a2a.Task, len(tasks))
	for i := range tasks {
		out[i] = a2a.FromTask(&tasks[i], 0)
	}
	return toolResultJSON(out)
}

func toolError(msg string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return mcplib.NewToolResultError(msg + ": task not found")
	case errors.Is(err, domain.ErrValidation):
		return mcplib.NewToolResultErrorFromErr(msg+": invalid request", err)
	}
	return mcplib.NewToolResultErrorFromErr(msg, err)
}

// toolResultJSON returns v as JSON text content.
func toolResultJSON(v any) (*mcplib.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal result", err), nil
	}
	return mcplib.NewToolResultText(string(data)), nil
}

func stateNames() []string {
	states := task.States()
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}
	return names
}
