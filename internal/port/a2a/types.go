// Package a2a defines the A2A wire protocol: JSON-RPC envelopes, method
// params, the task and event shapes sent to clients, and the agent card.
package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/contractreview/internal/domain/task"
)

// JSON-RPC methods served on /a2a.
const (
	MethodTasksSend          = "tasks/send"
	MethodTasksGet           = "tasks/get"
	MethodTasksCancel        = "tasks/cancel"
	MethodTasksSendSubscribe = "tasks/sendSubscribe"
	MethodTasksResubscribe   = "tasks/resubscribe"
)

// JSON-RPC error codes.
const (
	CodeParseError       = -32700
	CodeInvalidRequest   = -32600
	CodeMethodNotFound   = -32601
	CodeInvalidParams    = -32602
	CodeInternalError    = -32603
	CodeTaskNotFound     = -32001
	CodeInvalidState     = -32002
	CodeCapacityExceeded = -32003
)

// Version is the only JSON-RPC version accepted.
const Version = "2.0"

// Request is a JSON-RPC 2.0 request. ID is kept raw so string and
// numeric ids round-trip unchanged.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response carrying either Result or Error.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewResult builds a success response.
func NewResult(id json.RawMessage, result any) Response {
	return Response{JSONRPC: Version, ID: nullID(id), Result: result}
}

// NewError builds an error response.
func NewError(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: Version, ID: nullID(id), Error: &Error{Code: code, Message: msg}}
}

func nullID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

// TaskSendParams are the params of tasks/send and tasks/sendSubscribe.
type TaskSendParams struct {
	ID            string         `json:"id,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	Message       task.Message   `json:"message"`
	HistoryLength *int           `json:"historyLength,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams are the params of tasks/get and tasks/resubscribe.
type TaskQueryParams struct {
	ID            string `json:"id"`
	HistoryLength *int   `json:"historyLength,omitempty"`
}

// TaskIDParams are the params of tasks/cancel.
type TaskIDParams struct {
	ID string `json:"id"`
}

// TaskStatus is the current state of a task as seen by clients.
type TaskStatus struct {
	State     task.State    `json:"state"`
	Message   *task.Message `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Artifact is an output produced by the agent.
type Artifact struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parts       []task.Part `json:"parts"`
	Index       int         `json:"index"`
}

// Task is the wire form of a task snapshot.
type Task struct {
	ID              string              `json:"id"`
	SessionID       string              `json:"sessionId,omitempty"`
	Status          TaskStatus          `json:"status"`
	Artifacts       []Artifact          `json:"artifacts,omitempty"`
	History         []task.Message      `json:"history,omitempty"`
	StateHistory    []task.HistoryEntry `json:"stateHistory"`
	Version         int                 `json:"version"`
	Error           *task.Error         `json:"error,omitempty"`
	Cancellation    *task.Cancellation  `json:"cancellation,omitempty"`
	Metadata        map[string]any      `json:"metadata,omitempty"`
	AlreadyTerminal bool                `json:"alreadyTerminal,omitempty"`
}

// TaskStatusUpdateEvent is one streamed state change.
type TaskStatusUpdateEvent struct {
	ID           string              `json:"id"`
	Status       TaskStatus          `json:"status"`
	Final        bool                `json:"final"`
	Version      int                 `json:"version"`
	CatchUp      bool                `json:"catchUp,omitempty"`
	Lagging      bool                `json:"lagging,omitempty"`
	StateHistory []task.HistoryEntry `json:"stateHistory,omitempty"`
	Error        *task.Error         `json:"error,omitempty"`
	Cancellation *task.Cancellation  `json:"cancellation,omitempty"`
}

// TaskArtifactUpdateEvent carries an artifact ahead of the final status event.
type TaskArtifactUpdateEvent struct {
	ID       string   `json:"id"`
	Artifact Artifact `json:"artifact"`
}
