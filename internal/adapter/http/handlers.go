package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/codes"

	cfotel "github.com/Strob0t/contractreview/internal/adapter/otel"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/a2a"
	"github.com/Strob0t/contractreview/internal/service"
)

const (
	defaultBodyLimit = 10 << 20 // 10 MiB
	defaultKeepAlive = 15 * time.Second
	defaultListLimit = 100
)

// TaskService is the lifecycle API the protocol adapter drives.
type TaskService interface {
	Submit(ctx context.Context, id string, in task.Input) (task.Task, error)
	GetStatus(ctx context.Context, id string) (task.Task, error)
	Cancel(ctx context.Context, id string) (service.CancelAck, error)
	Subscribe(ctx context.Context, id string) (*service.Subscription, error)
	Unsubscribe(sub *service.Subscription)
	List(state task.State, limit int) []task.Task
	Counts() map[task.State]int
}

// Options tunes the handlers. Zero values select defaults.
type Options struct {
	Version   string
	BodyLimit int64
	KeepAlive time.Duration // SSE comment interval
	WebSocket http.HandlerFunc
}

// Handlers holds the A2A endpoint handlers.
type Handlers struct {
	tasks TaskService
	card  a2a.AgentCard
	opts  Options
}

// NewHandlers creates the protocol adapter.
func NewHandlers(tasks TaskService, card a2a.AgentCard, opts Options) *Handlers {
	if opts.BodyLimit <= 0 {
		opts.BodyLimit = defaultBodyLimit
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = defaultKeepAlive
	}
	return &Handlers{tasks: tasks, card: card, opts: opts}
}

// AgentCard serves the discovery document.
func (h *Handlers) AgentCard(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}

type healthResponse struct {
	Status  string             `json:"status"`
	Agent   string             `json:"agent"`
	Version string             `json:"version"`
	Tasks   map[task.State]int `json:"tasks"`
}

// Health reports liveness and per-state task counts.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Agent:   h.card.Name,
		Version: h.opts.Version,
		Tasks:   h.tasks.Counts(),
	})
}

// JSONRPC serves POST /a2a.
func (h *Handlers) JSONRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.BodyLimit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeRPC(w, a2a.NewError(nil, a2a.CodeInvalidRequest, "request body too large"))
			return
		}
		writeRPC(w, a2a.NewError(nil, a2a.CodeParseError, "parse error"))
		return
	}
	if !json.Valid(body) {
		writeRPC(w, a2a.NewError(nil, a2a.CodeParseError, "parse error"))
		return
	}
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		writeRPC(w, a2a.NewError(nil, a2a.CodeInvalidRequest, "batch requests are not supported"))
		return
	}
	var req a2a.Request
	if err := json.Unmarshal(body, &req); err != nil || req.JSONRPC != a2a.Version || req.Method == "" {
		writeRPC(w, a2a.NewError(req.ID, a2a.CodeInvalidRequest, "invalid request"))
		return
	}

	ctx, span := cfotel.StartRPCSpan(r.Context(), req.Method)
	defer span.End()
	r = r.WithContext(ctx)

	var (
		result any
		rpcErr *a2a.Error
	)
	switch req.Method {
	case a2a.MethodTasksSend:
		result, rpcErr = h.rpcSend(ctx, req.Params)
	case a2a.MethodTasksGet:
		result, rpcErr = h.rpcGet(ctx, req.Params)
	case a2a.MethodTasksCancel:
		result, rpcErr = h.rpcCancel(ctx, req.Params)
	case a2a.MethodTasksSendSubscribe:
		h.rpcSendSubscribe(w, r, req)
		return
	case a2a.MethodTasksResubscribe:
		h.rpcResubscribe(w, r, req)
		return
	default:
		rpcErr = &a2a.Error{Code: a2a.CodeMethodNotFound, Message: "method not found: " + req.Method}
	}

	if rpcErr != nil {
		span.SetStatus(codes.Error, rpcErr.Message)
		writeRPC(w, a2a.Response{JSONRPC: a2a.Version, ID: req.ID, Error: rpcErr})
		return
	}
	writeRPC(w, a2a.NewResult(req.ID, result))
}

func (h *Handlers) rpcSend(ctx context.Context, raw json.RawMessage) (any, *a2a.Error) {
	params, rpcErr := decodeParams[a2a.TaskSendParams](raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	snap, rpcErr := h.submit(ctx, &params)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return a2a.FromTask(&snap, historyLength(params.HistoryLength)), nil
}

func (h *Handlers) rpcGet(ctx context.Context, raw json.RawMessage) (any, *a2a.Error) {
	params, rpcErr := decodeParams[a2a.TaskQueryParams](raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "id is required"}
	}
	snap, err := h.tasks.GetStatus(ctx, params.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	return a2a.FromTask(&snap, historyLength(params.HistoryLength)), nil
}

func (h *Handlers) rpcCancel(ctx context.Context, raw json.RawMessage) (any, *a2a.Error) {
	params, rpcErr := decodeParams[a2a.TaskIDParams](raw)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.ID == "" {
		return nil, &a2a.Error{Code: a2a.CodeInvalidParams, Message: "id is required"}
	}
	ack, err := h.tasks.Cancel(ctx, params.ID)
	if err != nil {
		return nil, rpcError(err)
	}
	wt := a2a.FromTask(&ack.Task, -1)
	wt.AlreadyTerminal = ack.AlreadyTerminal
	return wt, nil
}

func (h *Handlers) rpcSendSubscribe(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	params, rpcErr := decodeParams[a2a.TaskSendParams](req.Params)
	if rpcErr != nil {
		writeRPC(w, a2a.Response{JSONRPC: a2a.Version, ID: req.ID, Error: rpcErr})
		return
	}
	snap, rpcErr := h.submit(r.Context(), &params)
	if rpcErr != nil {
		writeRPC(w, a2a.Response{JSONRPC: a2a.Version, ID: req.ID, Error: rpcErr})
		return
	}
	h.subscribeRPC(w, r, req.ID, snap.ID)
}

func (h *Handlers) rpcResubscribe(w http.ResponseWriter, r *http.Request, req a2a.Request) {
	params, rpcErr := decodeParams[a2a.TaskQueryParams](req.Params)
	if rpcErr == nil && params.ID == "" {
		rpcErr = &a2a.Error{Code: a2a.CodeInvalidParams, Message: "id is required"}
	}
	if rpcErr != nil {
		writeRPC(w, a2a.Response{JSONRPC: a2a.Version, ID: req.ID, Error: rpcErr})
		return
	}
	h.subscribeRPC(w, r, req.ID, params.ID)
}

func (h *Handlers) subscribeRPC(w http.ResponseWriter, r *http.Request, rpcID json.RawMessage, taskID string) {
	sub, err := h.tasks.Subscribe(r.Context(), taskID)
	if err != nil {
		writeRPC(w, a2a.Response{JSONRPC: a2a.Version, ID: rpcID, Error: rpcError(err)})
		return
	}
	h.stream(w, r, sub, func(v any) any { return a2a.NewResult(rpcID, v) })
}

// submit validates send params and hands the task to the lifecycle manager.
func (h *Handlers) submit(ctx context.Context, params *a2a.TaskSendParams) (task.Task, *a2a.Error) {
	if err := validateMessage(&params.Message); err != nil {
		return task.Task{}, &a2a.Error{Code: a2a.CodeInvalidParams, Message: err.Error()}
	}
	in := task.Input{Message: params.Message, Metadata: params.Metadata}
	if params.SessionID != "" {
		if in.Metadata == nil {
			in.Metadata = make(map[string]any, 1)
		}
		in.Metadata["sessionId"] = params.SessionID
	}
	snap, err := h.tasks.Submit(ctx, params.ID, in)
	if err != nil {
		return task.Task{}, rpcError(err)
	}
	return snap, nil
}

var (
	errNoParts     = errors.New("message must contain at least one part")
	errBadRole     = errors.New("message role must be user")
	errBadPartType = errors.New("part type must be text, file or data")
	errFileMissing = errors.New("file part requires a file object")
)

func validateMessage(m *task.Message) error {
	if m.Role == "" {
		m.Role = task.RoleUser
	}
	if m.Role != task.RoleUser {
		return errBadRole
	}
	if len(m.Parts) == 0 {
		return errNoParts
	}
	for _, p := range m.Parts {
		switch p.Type {
		case task.PartText, task.PartData:
		case task.PartFile:
			if p.File == nil {
				return errFileMissing
			}
		default:
			return errBadPartType
		}
	}
	return nil
}

// historyLength maps the optional param onto a2a.FromTask's convention.
func historyLength(n *int) int {
	if n == nil || *n < 0 {
		return -1
	}
	return *n
}

// ---------------------------------------------------------------------------
// REST companion routes
// ---------------------------------------------------------------------------

type listResponse struct {
	Tasks []a2a.Task `json:"tasks"`
	Count int        `json:"count"`
}

// ListTasks serves GET /a2a/tasks?state=&limit=.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	state := task.State(r.URL.Query().Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state "+string(state))
		return
	}
	limit, ok := queryInt(r, "limit", defaultListLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	snaps := h.tasks.List(state, limit)
	resp := listResponse{Tasks: make([]a2a.Task, 0, len(snaps)), Count: len(snaps)}
	for i := range snaps {
		resp.Tasks = append(resp.Tasks, a2a.FromTask(&snaps[i], 0))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTask serves GET /a2a/tasks/{id}?historyLength=.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	n, ok := queryInt(r, "historyLength", -1)
	if !ok {
		writeError(w, http.StatusBadRequest, "historyLength must be a non-negative integer")
		return
	}
	snap, err := h.tasks.GetStatus(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, a2a.FromTask(&snap, n))
}

// CancelTask serves POST /a2a/tasks/{id}/cancel. A task that had already
// finished answers 409 with its snapshot.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	ack, err := h.tasks.Cancel(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	wt := a2a.FromTask(&ack.Task, -1)
	wt.AlreadyTerminal = ack.AlreadyTerminal
	status := http.StatusOK
	if ack.AlreadyTerminal {
		status = http.StatusConflict
	}
	writeJSON(w, status, wt)
}

// Stream serves GET /a2a/stream/{id} as a plain SSE feed of status updates.
func (h *Handlers) Stream(w http.ResponseWriter, r *http.Request) {
	sub, err := h.tasks.Subscribe(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "task not found")
		return
	}
	h.stream(w, r, sub, nil)
}

func logStreamEnd(ctx context.Context, taskID string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.DebugContext(ctx, "task stream ended", "task_id", taskID, "error", err)
	}
}
