package a2a

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Strob0t/contractreview/internal/domain/contract"
	"github.com/Strob0t/contractreview/internal/domain/event"
	"github.com/Strob0t/contractreview/internal/domain/task"
)

// ArtifactName is the name of the artifact attached to completed tasks.
const ArtifactName = "contract_analysis"

// FromTask converts a snapshot to its wire form. historyLength limits the
// returned message history to the last n messages; n < 0 returns all of
// them and 0 returns none. The state history is always complete.
func FromTask(t *task.Task, historyLength int) Task {
	wt := Task{
		ID:           t.ID,
		Status:       status(t.State, t.UpdatedAt, t.Error, t.Cancellation),
		StateHistory: t.History,
		Version:      t.Version,
		Error:        t.Error,
		Cancellation: t.Cancellation,
		Metadata:     t.Input.Metadata,
	}
	if sid, ok := t.Input.Metadata["sessionId"].(string); ok {
		wt.SessionID = sid
	}
	msgs := t.Messages
	if historyLength >= 0 && historyLength < len(msgs) {
		msgs = msgs[len(msgs)-historyLength:]
	}
	if len(msgs) > 0 {
		wt.History = msgs
	}
	if t.State == task.StateCompleted {
		wt.Artifacts = []Artifact{ResultArtifact(t.Result)}
	}
	return wt
}

// FromEvent converts a hub event to a status update.
func FromEvent(ev *event.Event) TaskStatusUpdateEvent {
	return TaskStatusUpdateEvent{
		ID:           ev.TaskID,
		Status:       status(ev.State, ev.Timestamp, ev.Error, ev.Cancellation),
		Final:        ev.Final,
		Version:      ev.Version,
		CatchUp:      ev.CatchUp,
		Lagging:      ev.Lagging,
		StateHistory: ev.History,
		Error:        ev.Error,
		Cancellation: ev.Cancellation,
	}
}

// ResultArtifact renders a completed task's result. Results that decode
// as a contract analysis get a markdown report part next to the data;
// anything else is passed through as a text part.
func ResultArtifact(result json.RawMessage) Artifact {
	art := Artifact{
		Name:        ArtifactName,
		Description: "Contract risk analysis",
	}
	var analysis contract.Analysis
	var data map[string]any
	if json.Unmarshal(result, &analysis) == nil && json.Unmarshal(result, &data) == nil && analysis.Clauses != nil {
		art.Parts = []task.Part{
			{Type: task.PartText, Text: analysis.Markdown()},
			{Type: task.PartData, Data: data},
		}
		return art
	}
	art.Parts = []task.Part{{Type: task.PartText, Text: string(result)}}
	return art
}

func status(state task.State, ts time.Time, e *task.Error, c *task.Cancellation) TaskStatus {
	return TaskStatus{State: state, Message: statusMessage(e, c), Timestamp: ts}
}

// statusMessage returns the agent message explaining a failed or
// canceled task.
func statusMessage(e *task.Error, c *task.Cancellation) *task.Message {
	var text string
	switch {
	case e != nil:
		text = fmt.Sprintf("%s: %s", e.Code, e.Message)
	case c != nil && c.Detail != "":
		text = fmt.Sprintf("canceled (%s): %s", c.Reason, c.Detail)
	case c != nil:
		text = fmt.Sprintf("canceled (%s)", c.Reason)
	default:
		return nil
	}
	return &task.Message{Role: task.RoleAgent, Parts: []task.Part{{Type: task.PartText, Text: text}}}
}
