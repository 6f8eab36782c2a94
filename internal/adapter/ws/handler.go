// Package ws implements the WebSocket transport for task subscriptions.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/a2a"
	"github.com/Strob0t/contractreview/internal/service"
)

// Message types.
const (
	TypeTaskStatus   = "task.status"
	TypeTaskArtifact = "task.artifact"
	TypeTaskCancel   = "task.cancel" // client -> server
	TypeError        = "error"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TaskService is the part of the lifecycle manager the transport uses.
type TaskService interface {
	Subscribe(ctx context.Context, id string) (*service.Subscription, error)
	Unsubscribe(sub *service.Subscription)
	Cancel(ctx context.Context, id string) (service.CancelAck, error)
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
	taskID string
}

// Hub tracks open task subscriptions over WebSocket.
type Hub struct {
	tasks TaskService

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a new WebSocket hub.
func NewHub(tasks TaskService) *Hub {
	return &Hub{
		tasks: tasks,
		conns: make(map[*conn]struct{}),
	}
}

// HandleWS upgrades GET /a2a/ws/{id} and streams the task's events until
// the final one. Clients may send a task.cancel message.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")
	sub, err := h.tasks.Subscribe(r.Context(), taskID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrShutdown):
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	defer h.tasks.Unsubscribe(sub)

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // CORS handled by middleware
	})
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &conn{ws: ws, cancel: cancel, taskID: taskID}
	h.add(c)
	defer h.remove(c)

	slog.InfoContext(ctx, "websocket subscribed", "task_id", taskID, "remote", r.RemoteAddr)

	go h.readLoop(ctx, c)

	status, reason := h.writeLoop(ctx, c, sub)
	_ = ws.Close(status, reason)
}

// readLoop detects disconnects and handles client commands.
func (h *Hub) readLoop(ctx context.Context, c *conn) {
	defer c.cancel()
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.send(ctx, c, TypeError, map[string]string{"message": "invalid message"})
			continue
		}
		switch msg.Type {
		case TypeTaskCancel:
			if _, err := h.tasks.Cancel(ctx, c.taskID); err != nil {
				h.send(ctx, c, TypeError, map[string]string{"message": err.Error()})
			}
		default:
			h.send(ctx, c, TypeError, map[string]string{"message": "unknown message type " + msg.Type})
		}
	}
}

func (h *Hub) writeLoop(ctx context.Context, c *conn, sub *service.Subscription) (websocket.StatusCode, string) {
	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""
		case ev, ok := <-sub.Events():
			if !ok {
				return websocket.StatusGoingAway, "subscription closed"
			}
			if ev.State == task.StateCompleted && ev.Result != nil {
				art := a2a.TaskArtifactUpdateEvent{ID: ev.TaskID, Artifact: a2a.ResultArtifact(ev.Result)}
				if err := h.send(ctx, c, TypeTaskArtifact, art); err != nil {
					return websocket.StatusInternalError, "write failed"
				}
			}
			if err := h.send(ctx, c, TypeTaskStatus, a2a.FromEvent(&ev)); err != nil {
				return websocket.StatusInternalError, "write failed"
			}
			if ev.Final {
				return websocket.StatusNormalClosure, "task finished"
			}
		}
	}
}

func (h *Hub) send(ctx context.Context, c *conn, typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "websocket marshal failed", "error", err)
		return err
	}
	frame, err := json.Marshal(Message{Type: typ, Payload: data})
	if err != nil {
		return err
	}
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil {
		slog.DebugContext(ctx, "websocket write failed", "error", err)
		return err
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll disconnects every client, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	for _, c := range conns {
		c.cancel()
	}
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("websocket disconnected", "task_id", c.taskID)
	}
}
