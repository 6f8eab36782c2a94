// Package event defines the task state-change notification delivered to subscribers.
package event

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/contractreview/internal/domain/task"
)

// Event is one committed state change of a task. It never carries
// uncommitted state: every field is derived from a store snapshot.
type Event struct {
	TaskID       string             `json:"task_id"`
	State        task.State         `json:"state"`
	Version      int                `json:"version"`
	Timestamp    time.Time          `json:"timestamp"`
	Final        bool               `json:"final"`
	Result       json.RawMessage    `json:"result,omitempty"`
	Error        *task.Error        `json:"error,omitempty"`
	Cancellation *task.Cancellation `json:"cancellation,omitempty"`

	// CatchUp marks the synthetic first event built from the snapshot a
	// subscriber found when it connected.
	CatchUp bool `json:"catch_up,omitempty"`
	// History is only populated on catch-up events.
	History []task.HistoryEntry `json:"history,omitempty"`
	// Lagging is set on the first event delivered after the hub dropped
	// buffered events for a slow subscriber.
	Lagging bool `json:"lagging,omitempty"`
}

// FromTask builds the live event for the snapshot's latest transition.
func FromTask(t *task.Task) Event {
	ev := Event{
		TaskID:    t.ID,
		State:     t.State,
		Version:   t.Version,
		Timestamp: t.UpdatedAt,
		Final:     t.State.IsTerminal(),
	}
	if ev.Final {
		ev.Result = t.Result
		ev.Error = t.Error
		ev.Cancellation = t.Cancellation
	}
	return ev
}

// CatchUpFrom builds the synthetic catch-up event for a late subscriber.
func CatchUpFrom(t *task.Task) Event {
	ev := FromTask(t)
	ev.CatchUp = true
	ev.History = t.History
	return ev
}
