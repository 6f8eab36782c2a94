package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Strob0t/contractreview/internal/domain/event"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/a2a"
	"github.com/Strob0t/contractreview/internal/service"
)

// SSE event names used on the plain stream route.
const (
	sseStatus   = "status"
	sseArtifact = "artifact"
)

type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func startSSE(w http.ResponseWriter) (*sseWriter, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s := &sseWriter{w: w, rc: http.NewResponseController(w)}
	if err := s.rc.Flush(); err != nil {
		return nil, fmt.Errorf("sse flush: %w", err)
	}
	return s, nil
}

func (s *sseWriter) send(id, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse marshal: %w", err)
	}
	if id != "" {
		if _, err := fmt.Fprintf(s.w, "id: %s\n", id); err != nil {
			return err
		}
	}
	if name != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	return s.rc.Flush()
}

func (s *sseWriter) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	return s.rc.Flush()
}

// stream relays a subscription as server-sent events until the final
// event, the client disconnects, or the subscription ends. wrap, when
// set, encloses every payload in a JSON-RPC response; the plain route
// sends bare payloads with named events instead.
func (h *Handlers) stream(w http.ResponseWriter, r *http.Request, sub *service.Subscription, wrap func(any) any) {
	defer h.tasks.Unsubscribe(sub)
	ctx := r.Context()

	sse, err := startSSE(w)
	if err != nil {
		logStreamEnd(ctx, sub.TaskID(), err)
		return
	}
	send := func(ev *event.Event, name string, v any) error {
		id := strconv.Itoa(ev.Version)
		if wrap != nil {
			return sse.send(id, "", wrap(v))
		}
		return sse.send(id, name, v)
	}

	ticker := time.NewTicker(h.opts.KeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := sse.comment("keepalive"); err != nil {
				logStreamEnd(ctx, sub.TaskID(), err)
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.State == task.StateCompleted && ev.Result != nil {
				art := a2a.TaskArtifactUpdateEvent{ID: ev.TaskID, Artifact: a2a.ResultArtifact(ev.Result)}
				if err := send(&ev, sseArtifact, art); err != nil {
					logStreamEnd(ctx, sub.TaskID(), err)
					return
				}
			}
			if err := send(&ev, sseStatus, a2a.FromEvent(&ev)); err != nil {
				logStreamEnd(ctx, sub.TaskID(), err)
				return
			}
			if ev.Final {
				return
			}
		}
	}
}
