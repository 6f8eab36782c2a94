package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/messagequeue"
)

// Relay mirrors committed transitions onto the message queue so other
// services can follow task progress. Publishing is best-effort. A nil
// *Relay is valid and does nothing.
type Relay struct {
	queue messagequeue.Queue
}

// NewRelay creates a Relay publishing to q.
func NewRelay(q messagequeue.Queue) *Relay {
	return &Relay{queue: q}
}

// Publish sends snap's latest transition on a2a.tasks.{state}.
func (r *Relay) Publish(ctx context.Context, snap *task.Task) {
	if r == nil || r.queue == nil {
		return
	}
	p := messagequeue.TaskEventPayload{
		TaskID:    snap.ID,
		State:     string(snap.State),
		Version:   snap.Version,
		Timestamp: snap.UpdatedAt,
		Final:     snap.State.IsTerminal(),
	}
	if snap.Error != nil {
		p.ErrorCode = snap.Error.Code
		p.ErrorMessage = snap.Error.Message
	}
	if snap.Cancellation != nil {
		p.CancelReason = snap.Cancellation.Reason
	}
	data, err := json.Marshal(p)
	if err != nil {
		slog.ErrorContext(ctx, "marshal task event", "task_id", snap.ID, "error", err)
		return
	}
	if err := r.queue.Publish(ctx, messagequeue.TaskEventSubject(p.State), data); err != nil {
		slog.ErrorContext(ctx, "relay publish failed", "task_id", snap.ID, "state", p.State, "error", err)
	}
}

// Canceler is the part of the lifecycle manager the cancel listener needs.
type Canceler interface {
	Cancel(ctx context.Context, id string) (CancelAck, error)
}

// ListenForCancels subscribes to a2a.control.cancel and forwards each
// request to c. The returned function stops the subscription.
func ListenForCancels(ctx context.Context, q messagequeue.Queue, c Canceler) (func(), error) {
	return q.Subscribe(ctx, messagequeue.SubjectTaskCancel, func(ctx context.Context, subject string, data []byte) error {
		if err := messagequeue.Validate(subject, data); err != nil {
			return err
		}
		var p messagequeue.TaskCancelPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("decode cancel request: %w", err)
		}
		ack, err := c.Cancel(ctx, p.TaskID)
		if errors.Is(err, domain.ErrNotFound) {
			slog.WarnContext(ctx, "cancel request for unknown task", "task_id", p.TaskID)
			return nil
		}
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "task canceled via queue", "task_id", p.TaskID,
			"already_terminal", ack.AlreadyTerminal, "reason", p.Reason)
		return nil
	})
}
