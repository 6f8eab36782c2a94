package messagequeue

import "time"

// TaskEventPayload is the schema for a2a.tasks.{state} messages.
type TaskEventPayload struct {
	TaskID       string    `json:"task_id"`
	State        string    `json:"state"`
	Version      int       `json:"version"`
	Timestamp    time.Time `json:"timestamp"`
	Final        bool      `json:"final"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CancelReason string    `json:"cancel_reason,omitempty"`
}

// TaskCancelPayload is the schema for a2a.control.cancel messages.
type TaskCancelPayload struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason,omitempty"`
}
