package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/analyzer"
)

func newTestManager(t *testing.T, a analyzer.Analyzer, cfg LifecycleConfig) (*LifecycleManager, *TaskStore) {
	t.Helper()
	store := NewTaskStore(0)
	hub := NewEventHub(store, HubConfig{BufferSize: 16, DeliveryWait: time.Second})
	m := NewLifecycleManager(store, hub, a, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, store
}

func waitTerminal(t *testing.T, m *LifecycleManager, id string) task.Task {
	t.Helper()
	deadline := time.Now().Add(recvTimeout)
	for time.Now().Before(deadline) {
		snap, err := m.GetStatus(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if snap.State.IsTerminal() {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach a terminal state", id)
	return task.Task{}
}

func historyStates(tk task.Task) []task.State {
	out := make([]task.State, len(tk.History))
	for i, h := range tk.History {
		out[i] = h.State
	}
	return out
}

func assertHistory(t *testing.T, tk task.Task, want ...task.State) {
	t.Helper()
	got := historyStates(tk)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestSubmitCompletes(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 2})
	ctx := context.Background()

	snap, err := m.Submit(ctx, "t1", textInput("Section 5: Liability is unlimited."))
	if err != nil {
		t.Fatal(err)
	}
	if snap.State != task.StateSubmitted {
		t.Fatalf("submit must return before analysis, got %s", snap.State)
	}

	sub, err := m.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	g.waitStarted(t)
	close(g.release)

	var states []task.State
	for ev := range sub.Events() {
		states = append(states, ev.State)
	}
	if states[len(states)-1] != task.StateCompleted {
		t.Fatalf("expected completed as last event, got %v", states)
	}

	final := waitTerminal(t, m, "t1")
	assertHistory(t, final, task.StateSubmitted, task.StateWorking, task.StateCompleted)
	if final.Result == nil || final.Error != nil {
		t.Fatalf("unexpected outcome %+v", final)
	}
}

func TestSubmitAnalyzerFailure(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer("", errors.New("model unavailable")), LifecycleConfig{MaxConcurrent: 1})

	if _, err := m.Submit(context.Background(), "t1", textInput("contract")); err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, m, "t1")

	assertHistory(t, final, task.StateSubmitted, task.StateWorking, task.StateFailed)
	if final.Error == nil || final.Error.Code != task.ErrCodeAnalyzerFailure || final.Error.Message != "model unavailable" {
		t.Fatalf("unexpected error %+v", final.Error)
	}
	if final.Result != nil {
		t.Fatal("failed task must not carry a result")
	}
}

func TestSubmitInvalidResultFails(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer("{not json", nil), LifecycleConfig{MaxConcurrent: 1})

	_, _ = m.Submit(context.Background(), "t1", textInput("contract"))
	final := waitTerminal(t, m, "t1")

	if final.State != task.StateFailed || final.Error.Code != task.ErrCodeAnalyzerFailure {
		t.Fatalf("expected analyzer failure, got %+v", final)
	}
}

func TestSubmitWithoutTextFails(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})

	in := task.Input{Message: task.Message{Role: task.RoleUser, Parts: []task.Part{
		{Type: task.PartData, Data: map[string]any{"k": "v"}},
	}}}
	_, _ = m.Submit(context.Background(), "t1", in)
	final := waitTerminal(t, m, "t1")

	if final.State != task.StateFailed || final.Error.Code != task.ErrCodeInvalidInput {
		t.Fatalf("expected invalid input failure, got %+v", final)
	}
	if g.calls.Load() != 0 {
		t.Fatal("analyzer must not run without text")
	}
}

func TestSubmitIdempotent(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	first, _ := m.Submit(ctx, "t1", textInput("contract"))
	g.waitStarted(t)
	second, err := m.Submit(ctx, "t1", textInput("follow-up"))
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID || len(second.Messages) != 2 {
		t.Fatalf("expected appended message on the same task, got %+v", second)
	}
	close(g.release)
	waitTerminal(t, m, "t1")

	if n := g.calls.Load(); n != 1 {
		t.Fatalf("expected one analysis, got %d", n)
	}
}

func TestSubmitRejectsAtCapacity(t *testing.T) {
	store := NewTaskStore(1)
	hub := NewEventHub(store, HubConfig{BufferSize: 4})
	g := newGatedAnalyzer()
	m := NewLifecycleManager(store, hub, g, LifecycleConfig{MaxConcurrent: 1})
	defer func() { _ = m.Shutdown(context.Background()) }()

	_, _ = m.Submit(context.Background(), "a", textInput("x"))
	if _, err := m.Submit(context.Background(), "b", textInput("x")); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
}

func TestConcurrencyLimitQueuesInSubmitted(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "a", textInput("x"))
	g.waitStarted(t)
	_, _ = m.Submit(ctx, "b", textInput("y"))

	time.Sleep(50 * time.Millisecond)
	if snap, _ := m.GetStatus(ctx, "b"); snap.State != task.StateSubmitted {
		t.Fatalf("second task should wait in submitted, got %s", snap.State)
	}

	g.release <- struct{}{}
	if id := g.waitStarted(t); id != "b" {
		t.Fatalf("expected b to start, got %s", id)
	}
	g.release <- struct{}{}
	waitTerminal(t, m, "a")
	waitTerminal(t, m, "b")
}

func TestCancelWhileWorking(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	g.waitStarted(t)

	ack, err := m.Cancel(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if ack.AlreadyTerminal || ack.Task.State != task.StateCanceled {
		t.Fatalf("unexpected ack %+v", ack)
	}

	final := waitTerminal(t, m, "t1")
	assertHistory(t, final, task.StateSubmitted, task.StateWorking, task.StateCanceled)
	if final.Cancellation == nil || final.Cancellation.Reason != task.CancelRequested {
		t.Fatalf("unexpected cancellation %+v", final.Cancellation)
	}
	if final.Result != nil || final.Error != nil {
		t.Fatal("canceled task must carry neither result nor error")
	}
}

func TestCancelTerminalTask(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer(`{"clauses":[]}`, nil), LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	done := waitTerminal(t, m, "t1")

	ack, err := m.Cancel(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !ack.AlreadyTerminal || ack.Task.State != task.StateCompleted {
		t.Fatalf("expected already-terminal ack, got %+v", ack)
	}
	after, _ := m.GetStatus(ctx, "t1")
	if len(after.History) != len(done.History) {
		t.Fatal("cancel of a terminal task must not change history")
	}
}

func TestCancelUnknownTask(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer(`{}`, nil), LifecycleConfig{MaxConcurrent: 1})
	if _, err := m.Cancel(context.Background(), "unknown-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelRaceWithCompletion(t *testing.T) {
	for i := range 50 {
		id := fmt.Sprintf("t%d", i)
		m, _ := newTestManager(t, instantAnalyzer(`{"clauses":[]}`, nil), LifecycleConfig{MaxConcurrent: 4})
		ctx := context.Background()

		_, _ = m.Submit(ctx, id, textInput("contract"))
		ack, err := m.Cancel(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		final := waitTerminal(t, m, id)

		terminals := 0
		for _, st := range historyStates(final) {
			if st.IsTerminal() {
				terminals++
			}
		}
		if terminals != 1 {
			t.Fatalf("expected exactly one terminal entry, got %v", historyStates(final))
		}
		if ack.AlreadyTerminal != (final.State == task.StateCompleted) {
			t.Fatalf("ack %+v disagrees with final state %s", ack, final.State)
		}
	}
}

func TestAnalysisTimeoutCancels(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1, AnalysisTimeout: 30 * time.Millisecond})

	_, _ = m.Submit(context.Background(), "t1", textInput("contract"))
	final := waitTerminal(t, m, "t1")

	assertHistory(t, final, task.StateSubmitted, task.StateWorking, task.StateCanceled)
	if final.Cancellation == nil || final.Cancellation.Reason != task.CancelTimeout {
		t.Fatalf("expected timeout cancellation, got %+v", final.Cancellation)
	}
	if final.Error != nil {
		t.Fatal("timeout must not set error")
	}
}

func TestShutdownCancelsInFlight(t *testing.T) {
	g := newGatedAnalyzer()
	store := NewTaskStore(0)
	hub := NewEventHub(store, HubConfig{BufferSize: 16, DeliveryWait: time.Second})
	m := NewLifecycleManager(store, hub, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "running", textInput("x"))
	g.waitStarted(t)
	_, _ = m.Submit(ctx, "queued", textInput("y"))
	sub, _ := m.Subscribe(ctx, "running")

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Shutdown(sctx); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"running", "queued"} {
		snap, _ := store.Get(id)
		if snap.State != task.StateCanceled || snap.Cancellation == nil || snap.Cancellation.Reason != task.CancelShutdown {
			t.Fatalf("%s: expected shutdown cancellation, got %+v", id, snap)
		}
	}

	var last task.State
	for ev := range sub.Events() {
		last = ev.State
	}
	if last != task.StateCanceled {
		t.Fatalf("subscriber missed the terminal event, last %s", last)
	}

	if _, err := m.Submit(ctx, "late", textInput("z")); !errors.Is(err, domain.ErrShutdown) {
		t.Fatalf("expected ErrShutdown after shutdown, got %v", err)
	}
}

func TestRelayPublishesTransitions(t *testing.T) {
	q := &mockQueue{}
	m, _ := newTestManager(t, instantAnalyzer(`{"clauses":[]}`, nil), LifecycleConfig{MaxConcurrent: 1})
	m.SetRelay(NewRelay(q))

	_, _ = m.Submit(context.Background(), "t1", textInput("contract"))
	waitTerminal(t, m, "t1")

	want := map[string]bool{"a2a.tasks.submitted": true, "a2a.tasks.working": true, "a2a.tasks.completed": true}
	deadline := time.Now().Add(recvTimeout)
	for time.Now().Before(deadline) && len(q.subjects()) < len(want) {
		time.Sleep(5 * time.Millisecond)
	}
	got := q.subjects()
	if len(got) != len(want) {
		t.Fatalf("expected %d relayed messages, got %v", len(want), got)
	}
	for _, s := range got {
		if !want[s] {
			t.Fatalf("unexpected subject %s", s)
		}
	}
}

func TestCancelViaQueue(t *testing.T) {
	q := &mockQueue{}
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	stop, err := ListenForCancels(ctx, q, m)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	g.waitStarted(t)

	if err := q.deliver(ctx, "a2a.control.cancel", []byte(`{"task_id":"t1","reason":"operator"}`)); err != nil {
		t.Fatal(err)
	}
	final := waitTerminal(t, m, "t1")
	if final.State != task.StateCanceled {
		t.Fatalf("expected canceled, got %s", final.State)
	}

	if err := q.deliver(ctx, "a2a.control.cancel", []byte(`{"task_id":"unknown-id"}`)); err != nil {
		t.Fatalf("unknown task must be ignored, got %v", err)
	}
	if err := q.deliver(ctx, "a2a.control.cancel", []byte(`{}`)); err == nil {
		t.Fatal("expected validation error for missing task_id")
	}
}

func TestArchiveFallback(t *testing.T) {
	arch := newMemArchive()
	m, store := newTestManager(t, instantAnalyzer(`{"clauses":[]}`, nil), LifecycleConfig{
		MaxConcurrent: 1,
		Retention:     time.Hour,
		SweepInterval: time.Hour,
	})
	m.SetArchive(arch)
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	waitTerminal(t, m, "t1")
	deadline := time.Now().Add(recvTimeout)
	for time.Now().Before(deadline) && arch.len() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if arch.len() != 1 {
		t.Fatalf("expected terminal task archived, got %d", arch.len())
	}

	if n := m.Sweep(ctx, time.Now().Add(2*time.Hour)); n != 1 {
		t.Fatalf("expected 1 task swept, got %d", n)
	}
	if _, err := store.Get("t1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatal("task still in memory after sweep")
	}

	snap, err := m.GetStatus(ctx, "t1")
	if err != nil || snap.State != task.StateCompleted {
		t.Fatalf("expected archived snapshot, got %+v err=%v", snap, err)
	}
	sub, err := m.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	ev := recv(t, sub)
	if !ev.Final || !ev.CatchUp {
		t.Fatalf("expected final catch-up from archive, got %+v", ev)
	}
}

func TestSweepSkipsWatchedTasks(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer(`{"clauses":[]}`, nil), LifecycleConfig{
		MaxConcurrent: 1,
		Retention:     time.Minute,
		SweepInterval: time.Minute,
	})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	waitTerminal(t, m, "t1")
	// A registered subscriber that has not drained its final event yet.
	m.hub.mu.Lock()
	m.hub.subs["t1"] = map[*Subscription]struct{}{{}: {}}
	m.hub.mu.Unlock()

	if n := m.Sweep(ctx, time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("expected watched task to be kept, swept %d", n)
	}
	m.hub.mu.Lock()
	delete(m.hub.subs, "t1")
	m.hub.mu.Unlock()
	if n := m.Sweep(ctx, time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected task to be swept, got %d", n)
	}
}

func TestSubscribersSeeIdenticalSequences(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	g.waitStarted(t)

	subs := make([]*Subscription, 3)
	for i := range subs {
		sub, err := m.Subscribe(ctx, "t1")
		if err != nil {
			t.Fatal(err)
		}
		subs[i] = sub
	}
	close(g.release)

	var wg sync.WaitGroup
	finals := make([]json.RawMessage, len(subs))
	for i, sub := range subs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range sub.Events() {
				if ev.Final {
					finals[i] = ev.Result
				}
			}
		}()
	}
	wg.Wait()
	for i, r := range finals {
		if string(r) != string(finals[0]) || r == nil {
			t.Fatalf("subscriber %d saw result %s", i, r)
		}
	}
}

func TestCancelBeforeAnalysisStarts(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	// Occupy the only slot so t1 stays SUBMITTED.
	_, _ = m.Submit(ctx, "busy", textInput("x"))
	g.waitStarted(t)
	_, _ = m.Submit(ctx, "t1", textInput("NDA clause..."))

	ack, err := m.Cancel(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if ack.AlreadyTerminal {
		t.Fatal("first cancel must not be already terminal")
	}
	final := waitTerminal(t, m, "t1")
	assertHistory(t, final, task.StateSubmitted, task.StateCanceled)

	again, err := m.Cancel(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if !again.AlreadyTerminal {
		t.Fatal("second cancel must report already terminal")
	}

	g.release <- struct{}{}
	waitTerminal(t, m, "busy")
}

func TestGetStatusUnknownTask(t *testing.T) {
	m, _ := newTestManager(t, instantAnalyzer(`{}`, nil), LifecycleConfig{MaxConcurrent: 1})
	if _, err := m.GetStatus(context.Background(), "unknown-id"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// stubbornAnalyzer ignores ctx and only returns once release is closed.
func stubbornAnalyzer(t *testing.T) (analyzer.Func, <-chan struct{}) {
	t.Helper()
	started := make(chan struct{}, 8)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	return func(_ context.Context, _ analyzer.Request) (json.RawMessage, error) {
		started <- struct{}{}
		<-release
		return json.RawMessage(`{"clauses":[]}`), nil
	}, started
}

func TestAnalysisTimeoutWithoutAnalyzerCooperation(t *testing.T) {
	a, _ := stubbornAnalyzer(t)
	m, _ := newTestManager(t, a, LifecycleConfig{MaxConcurrent: 1, AnalysisTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	_, _ = m.Submit(ctx, "t2", textInput("contract"))

	for _, id := range []string{"t1", "t2"} {
		final := waitTerminal(t, m, id)
		assertHistory(t, final, task.StateSubmitted, task.StateWorking, task.StateCanceled)
		if final.Cancellation == nil || final.Cancellation.Reason != task.CancelTimeout {
			t.Fatalf("%s: expected timeout cancellation, got %+v", id, final.Cancellation)
		}
	}
}

func TestShutdownWithoutAnalyzerCooperation(t *testing.T) {
	a, started := stubbornAnalyzer(t)
	store := NewTaskStore(0)
	hub := NewEventHub(store, HubConfig{BufferSize: 16, DeliveryWait: time.Second})
	m := NewLifecycleManager(store, hub, a, LifecycleConfig{MaxConcurrent: 1})
	ctx := context.Background()

	_, _ = m.Submit(ctx, "t1", textInput("contract"))
	select {
	case <-started:
	case <-time.After(recvTimeout):
		t.Fatal("analysis did not start")
	}
	sub, err := m.Subscribe(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}

	sctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := m.Shutdown(sctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	snap, _ := store.Get("t1")
	if snap.State != task.StateCanceled || snap.Cancellation == nil || snap.Cancellation.Reason != task.CancelShutdown {
		t.Fatalf("expected shutdown cancellation, got %+v", snap)
	}
	var last task.State
	for ev := range sub.Events() {
		last = ev.State
	}
	if last != task.StateCanceled {
		t.Fatalf("subscriber missed the terminal event, last %s", last)
	}
}

func TestSubmitUnreadableFileFails(t *testing.T) {
	g := newGatedAnalyzer()
	m, _ := newTestManager(t, g, LifecycleConfig{MaxConcurrent: 1})

	in := task.Input{Message: task.Message{Role: task.RoleUser, Parts: []task.Part{
		{Type: task.PartText, Text: "see attachment"},
		{Type: task.PartFile, File: &task.FileContent{Name: "msa.pdf", MimeType: "application/pdf", Bytes: "bm90IGEgcGRm"}},
	}}}
	_, _ = m.Submit(context.Background(), "t1", in)
	final := waitTerminal(t, m, "t1")

	if final.State != task.StateFailed || final.Error == nil || final.Error.Code != task.ErrCodeInvalidInput {
		t.Fatalf("expected invalid input failure, got %+v", final)
	}
	if !strings.HasPrefix(final.Error.Message, `failed to parse uploaded file "msa.pdf"`) {
		t.Fatalf("unexpected message %q", final.Error.Message)
	}
	if g.calls.Load() != 0 {
		t.Fatal("analyzer must not run on an unreadable file")
	}
}
