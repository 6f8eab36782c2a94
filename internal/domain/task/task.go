// Package task defines the Task domain entity and its state machine.
package task

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Part kinds.
const (
	PartText = "text"
	PartFile = "file"
	PartData = "data"
)

// FileContent is the payload of a file part. Bytes holds base64 data or a
// data: URI; URI points to an external location.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Part is one piece of message content.
type Part struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// Message is a single turn sent to or produced by the agent.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Input is the original submission payload. It is immutable once the task exists.
type Input struct {
	Message  Message        `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Error codes stored on FAILED tasks.
const (
	ErrCodeAnalyzerFailure = "analyzer_failure"
	ErrCodeInvalidInput    = "invalid_input"
)

// Cancel reasons stored on CANCELED tasks.
const (
	CancelRequested = "requested"
	CancelTimeout   = "timeout"
	CancelShutdown  = "shutdown"
)

// Error is the structured failure attached to a FAILED task.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Cancellation describes why a task ended in CANCELED.
type Cancellation struct {
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

// HistoryEntry records one state the task passed through.
type HistoryEntry struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Outcome is the payload that accompanies a transition. Only the field
// matching the target state is applied.
type Outcome struct {
	Result       json.RawMessage
	Error        *Error
	Cancellation *Cancellation
}

// Task is the unit of trackable work.
type Task struct {
	ID           string          `json:"id"`
	State        State           `json:"state"`
	Input        Input           `json:"input"`
	Messages     []Message       `json:"messages,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *Error          `json:"error,omitempty"`
	Cancellation *Cancellation   `json:"cancellation,omitempty"`
	History      []HistoryEntry  `json:"history"`
	Version      int             `json:"version"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// New returns a task in StateSubmitted with a single history entry.
func New(id string, in Input, now time.Time) Task {
	return Task{
		ID:        id,
		State:     StateSubmitted,
		Input:     in,
		Messages:  []Message{in.Message},
		History:   []HistoryEntry{{State: StateSubmitted, Timestamp: now}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply moves the task to the given state. The caller must have checked
// CanTransition. The history timestamp is forced strictly after the
// previous entry so history stays totally ordered under clock skew.
func (t *Task) Apply(to State, out Outcome, now time.Time) {
	if last := t.History[len(t.History)-1].Timestamp; !now.After(last) {
		now = last.Add(time.Nanosecond)
	}
	t.State = to
	switch to {
	case StateCompleted:
		t.Result = slices.Clone(out.Result)
	case StateFailed:
		if out.Error != nil {
			e := *out.Error
			t.Error = &e
		} else {
			t.Error = &Error{Code: ErrCodeAnalyzerFailure, Message: "unknown failure"}
		}
	case StateCanceled:
		if out.Cancellation != nil {
			c := *out.Cancellation
			t.Cancellation = &c
		} else {
			t.Cancellation = &Cancellation{Reason: CancelRequested}
		}
	}
	t.History = append(t.History, HistoryEntry{State: to, Timestamp: now})
	t.Version++
	t.UpdatedAt = now
}

// Clone returns a deep copy that shares no mutable memory with t.
func (t *Task) Clone() Task {
	c := *t
	c.Input = cloneInput(t.Input)
	c.Messages = make([]Message, len(t.Messages))
	for i := range t.Messages {
		c.Messages[i] = cloneMessage(t.Messages[i])
	}
	c.Result = slices.Clone(t.Result)
	if t.Error != nil {
		e := *t.Error
		c.Error = &e
	}
	if t.Cancellation != nil {
		cn := *t.Cancellation
		c.Cancellation = &cn
	}
	c.History = slices.Clone(t.History)
	return c
}

// Text returns the non-empty text parts of the message in order.
func (m Message) Text() []string {
	var out []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			out = append(out, p.Text)
		}
	}
	return out
}

func cloneInput(in Input) Input {
	return Input{Message: cloneMessage(in.Message), Metadata: maps.Clone(in.Metadata)}
}

func cloneMessage(m Message) Message {
	c := Message{Role: m.Role, Metadata: maps.Clone(m.Metadata)}
	if m.Parts != nil {
		c.Parts = make([]Part, len(m.Parts))
		for i, p := range m.Parts {
			c.Parts[i] = p
			if p.File != nil {
				f := *p.File
				c.Parts[i].File = &f
			}
			c.Parts[i].Data = maps.Clone(p.Data)
		}
	}
	return c
}
