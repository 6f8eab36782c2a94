package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	cfotel "github.com/Strob0t/contractreview/internal/adapter/otel"
	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/event"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/logger"
	"github.com/Strob0t/contractreview/internal/port/analyzer"
	"github.com/Strob0t/contractreview/internal/port/archive"
)

// LifecycleConfig is passed explicitly at construction.
type LifecycleConfig struct {
	MaxConcurrent   int
	AnalysisTimeout time.Duration // 0 disables the timeout
	Retention       time.Duration // 0 keeps terminal tasks forever
	SweepInterval   time.Duration
}

// CancelAck is the result of Cancel. AlreadyTerminal reports that the task
// had finished before the request arrived; it is not an error.
type CancelAck struct {
	Task            task.Task
	AlreadyTerminal bool
}

// LifecycleManager owns the task state machine. It creates tasks, runs
// one analysis per task in the background, and publishes every committed
// transition to the event hub.
type LifecycleManager struct {
	store    *TaskStore
	hub      *EventHub
	analyzer analyzer.Analyzer
	cfg      LifecycleConfig
	sem      *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu      sync.Mutex
	runs    map[string]*run
	closing bool
	wg      sync.WaitGroup

	relay   *Relay
	archive archive.Archive
	metrics *cfotel.Metrics
}

// run serializes commit-then-publish for one task so event order always
// matches history order.
type run struct {
	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewLifecycleManager creates a LifecycleManager.
func NewLifecycleManager(store *TaskStore, hub *EventHub, a analyzer.Analyzer, cfg LifecycleConfig) *LifecycleManager {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &LifecycleManager{
		store:      store,
		hub:        hub,
		analyzer:   a,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		baseCtx:    ctx,
		baseCancel: cancel,
		runs:       make(map[string]*run),
	}
}

// SetRelay enables best-effort publication of transitions to the message queue.
func (m *LifecycleManager) SetRelay(r *Relay) { m.relay = r }

// SetArchive enables archiving of terminal tasks and archive lookups
// for tasks removed by retention.
func (m *LifecycleManager) SetArchive(a archive.Archive) { m.archive = a }

// SetMetrics enables lifecycle metrics.
func (m *LifecycleManager) SetMetrics(mt *cfotel.Metrics) { m.metrics = mt }

// Submit creates a task and schedules its analysis without waiting for
// it. Submitting an existing id returns that task unchanged apart from
// the appended message; no second analysis is started.
func (m *LifecycleManager) Submit(ctx context.Context, id string, in task.Input) (task.Task, error) {
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return task.Task{}, fmt.Errorf("submit: %w", domain.ErrShutdown)
	}
	snap, created, err := m.store.Create(id, in)
	if err != nil {
		m.mu.Unlock()
		if errors.Is(err, domain.ErrCapacityExceeded) && m.metrics != nil {
			m.metrics.TasksRejected.Add(ctx, 1)
		}
		return task.Task{}, err
	}
	if !created {
		m.mu.Unlock()
		slog.InfoContext(ctx, "task resubmitted", "task_id", snap.ID, "state", snap.State)
		if len(in.Message.Parts) == 0 {
			return snap, nil
		}
		return m.store.AppendMessage(snap.ID, in.Message)
	}

	runCtx, cancel := context.WithCancelCause(m.baseCtx)
	if reqID := logger.RequestID(ctx); reqID != "" {
		runCtx = logger.WithRequestID(runCtx, reqID)
	}
	r := &run{ctx: logger.WithTaskID(runCtx, snap.ID), cancel: cancel}
	m.runs[snap.ID] = r
	m.wg.Add(1)
	m.mu.Unlock()

	slog.InfoContext(ctx, "task created", "task_id", snap.ID)
	if m.metrics != nil {
		m.metrics.TasksSubmitted.Add(ctx, 1)
	}
	m.hub.Publish(event.FromTask(&snap))
	m.relay.Publish(ctx, &snap)

	go m.runAnalysis(r, snap)
	return snap, nil
}

// GetStatus returns the current snapshot, falling back to the archive for
// tasks already removed from memory.
func (m *LifecycleManager) GetStatus(ctx context.Context, id string) (task.Task, error) {
	snap, err := m.store.Get(id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || m.archive == nil {
		return snap, err
	}
	archived, aerr := m.archive.Load(ctx, id)
	if aerr != nil {
		if !errors.Is(aerr, domain.ErrNotFound) {
			slog.ErrorContext(ctx, "archive lookup failed", "task_id", id, "error", aerr)
		}
		return task.Task{}, err
	}
	return *archived, nil
}

// List returns retained tasks, optionally filtered by state.
func (m *LifecycleManager) List(state task.State, limit int) []task.Task {
	return m.store.List(state, limit)
}

// Counts returns retained tasks per state.
func (m *LifecycleManager) Counts() map[task.State]int {
	return m.store.Counts()
}

// Cancel moves a non-terminal task to CANCELED and signals its analysis
// to stop. The store decides races with a completing analysis: whichever
// transition commits first wins and the loser reports AlreadyTerminal.
func (m *LifecycleManager) Cancel(ctx context.Context, id string) (CancelAck, error) {
	snap, err := m.GetStatus(ctx, id)
	if err != nil {
		return CancelAck{}, err
	}
	if snap.State.IsTerminal() {
		return CancelAck{Task: snap, AlreadyTerminal: true}, nil
	}

	m.mu.Lock()
	r := m.runs[id]
	m.mu.Unlock()
	if r == nil {
		// The analysis finished between the read and the lookup.
		snap, err = m.store.Get(id)
		if err != nil {
			return CancelAck{}, err
		}
		return CancelAck{Task: snap, AlreadyTerminal: snap.State.IsTerminal()}, nil
	}

	snap, err = m.advance(ctx, r, id, task.StateCanceled, task.Outcome{
		Cancellation: &task.Cancellation{Reason: task.CancelRequested},
	})
	if errors.Is(err, domain.ErrInvalidTransition) {
		current, gerr := m.store.Get(id)
		if gerr != nil {
			return CancelAck{}, gerr
		}
		return CancelAck{Task: current, AlreadyTerminal: true}, nil
	}
	if err != nil {
		return CancelAck{}, err
	}
	r.cancel(domain.ErrCanceled)
	return CancelAck{Task: snap}, nil
}

// Subscribe opens an event subscription. Tasks only found in the archive
// yield a single terminal catch-up event.
func (m *LifecycleManager) Subscribe(ctx context.Context, id string) (*Subscription, error) {
	sub, err := m.hub.Subscribe(id)
	if err == nil || !errors.Is(err, domain.ErrNotFound) || m.archive == nil {
		return sub, err
	}
	archived, aerr := m.archive.Load(ctx, id)
	if aerr != nil {
		return nil, err
	}
	return m.hub.Replay(archived), nil
}

// Unsubscribe releases a subscription. It is idempotent.
func (m *LifecycleManager) Unsubscribe(sub *Subscription) {
	m.hub.Unsubscribe(sub)
}

// Shutdown stops accepting tasks, cancels in-flight analyses (their tasks
// end CANCELED with reason shutdown) and waits for them to finish.
func (m *LifecycleManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	m.mu.Unlock()

	m.baseCancel(domain.ErrShutdown)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("lifecycle shutdown: %w", ctx.Err())
	}
	m.hub.Close()
	return err
}

func (m *LifecycleManager) runAnalysis(r *run, snap task.Task) {
	defer m.wg.Done()
	defer m.forget(snap.ID)
	ctx := r.ctx

	// Excess submissions wait here in SUBMITTED until a slot frees.
	if err := m.sem.Acquire(ctx, 1); err != nil {
		m.abandon(ctx, r, snap.ID)
		return
	}
	defer m.sem.Release(1)
	if ctx.Err() != nil {
		m.abandon(ctx, r, snap.ID)
		return
	}

	if _, err := m.advance(ctx, r, snap.ID, task.StateWorking, task.Outcome{}); err != nil {
		return
	}

	text, err := ExtractText(ctx, snap.Input.Message)
	if err != nil {
		msg := "no contract text provided"
		var fe *FileError
		if errors.As(err, &fe) {
			msg = fe.Error()
			slog.WarnContext(ctx, "input file rejected", "name", fe.Name, "error", fe.Err)
		}
		_, _ = m.advance(ctx, r, snap.ID, task.StateFailed, task.Outcome{
			Error: &task.Error{Code: task.ErrCodeInvalidInput, Message: msg},
		})
		return
	}

	actx := ctx
	if m.cfg.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeoutCause(ctx, m.cfg.AnalysisTimeout, domain.ErrAnalysisTimeout)
		defer cancel()
	}
	actx, span := cfotel.StartAnalysisSpan(actx, snap.ID)
	defer span.End()

	start := time.Now()
	// The analyzer runs detached so a call that ignores ctx cannot hold
	// the task in WORKING or keep its slot past a timeout or shutdown.
	done := make(chan analysisReply, 1)
	go func() {
		result, err := m.analyzer.Analyze(actx, analyzer.Request{
			TaskID:   snap.ID,
			Text:     text,
			Metadata: snap.Input.Metadata,
		})
		done <- analysisReply{result: result, err: err}
	}()
	var reply analysisReply
	select {
	case reply = <-done:
	case <-actx.Done():
	}
	result, err := reply.result, reply.err
	if m.metrics != nil {
		m.metrics.AnalysisDuration.Record(ctx, time.Since(start).Seconds())
	}

	// A canceled context wins over whatever the analyzer returned.
	if actx.Err() != nil {
		cause := context.Cause(actx)
		span.SetStatus(codes.Error, cause.Error())
		switch {
		case errors.Is(cause, domain.ErrAnalysisTimeout):
			slog.WarnContext(ctx, "analysis timed out", "timeout", m.cfg.AnalysisTimeout)
			_, _ = m.advance(ctx, r, snap.ID, task.StateCanceled, task.Outcome{
				Cancellation: &task.Cancellation{
					Reason: task.CancelTimeout,
					Detail: fmt.Sprintf("analysis exceeded %s", m.cfg.AnalysisTimeout),
				},
			})
		case errors.Is(cause, domain.ErrShutdown):
			m.abandon(ctx, r, snap.ID)
		default:
			// Cancel already committed CANCELED; the result is discarded.
			slog.DebugContext(ctx, "analysis result discarded after cancel")
		}
		return
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.WarnContext(ctx, "analysis failed", "error", err)
		_, _ = m.advance(ctx, r, snap.ID, task.StateFailed, task.Outcome{
			Error: &task.Error{Code: task.ErrCodeAnalyzerFailure, Message: err.Error()},
		})
		return
	}
	if !json.Valid(result) {
		span.SetStatus(codes.Error, "invalid result")
		_, _ = m.advance(ctx, r, snap.ID, task.StateFailed, task.Outcome{
			Error: &task.Error{Code: task.ErrCodeAnalyzerFailure, Message: "analyzer returned invalid JSON"},
		})
		return
	}
	_, _ = m.advance(ctx, r, snap.ID, task.StateCompleted, task.Outcome{Result: result})
}

type analysisReply struct {
	result json.RawMessage
	err    error
}

// abandon cancels a task whose run context ended before analysis began.
func (m *LifecycleManager) abandon(ctx context.Context, r *run, id string) {
	if !errors.Is(context.Cause(ctx), domain.ErrShutdown) {
		return
	}
	_, _ = m.advance(ctx, r, id, task.StateCanceled, task.Outcome{
		Cancellation: &task.Cancellation{Reason: task.CancelShutdown},
	})
}

// advance commits a transition and publishes its event while holding the
// task's run lock. A rejected transition means another writer resolved
// the task first; it is logged at debug level and returned.
func (m *LifecycleManager) advance(ctx context.Context, r *run, id string, to task.State, out task.Outcome) (task.Task, error) {
	if logger.TaskID(ctx) == "" {
		ctx = logger.WithTaskID(ctx, id)
	}
	r.mu.Lock()
	snap, err := m.store.Transition(id, to, out)
	if err != nil {
		r.mu.Unlock()
		var te *task.TransitionError
		if errors.As(err, &te) {
			slog.DebugContext(ctx, "transition lost race", "from", te.From, "to", te.To)
		}
		return task.Task{}, err
	}
	m.hub.Publish(event.FromTask(&snap))
	r.mu.Unlock()

	from := snap.History[len(snap.History)-2].State
	slog.InfoContext(ctx, "task transitioned", "from", from, "to", to)

	// Detached: a canceled run must still get its terminal write out.
	bg := context.WithoutCancel(ctx)
	m.relay.Publish(bg, &snap)
	if to.IsTerminal() {
		if m.metrics != nil {
			m.metrics.TasksFinished.Add(bg, 1, metric.WithAttributes(attribute.String("state", string(to))))
		}
		m.saveArchive(bg, &snap)
	}
	return snap, nil
}

func (m *LifecycleManager) saveArchive(ctx context.Context, snap *task.Task) {
	if m.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.archive.Save(ctx, snap); err != nil {
		slog.ErrorContext(ctx, "archive save failed", "error", err)
	}
}

func (m *LifecycleManager) forget(id string) {
	m.mu.Lock()
	r := m.runs[id]
	delete(m.runs, id)
	m.mu.Unlock()
	if r != nil {
		r.cancel(context.Canceled)
	}
}
