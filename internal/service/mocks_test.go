package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
	"github.com/Strob0t/contractreview/internal/port/analyzer"
	"github.com/Strob0t/contractreview/internal/port/messagequeue"
)

// mockQueue records published messages and lets tests inject deliveries.
type mockQueue struct {
	mu       sync.Mutex
	messages []queued
	handlers map[string]messagequeue.Handler
}

type queued struct {
	subject string
	data    []byte
}

func (m *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, queued{subject: subject, data: data})
	return nil
}

func (m *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers == nil {
		m.handlers = make(map[string]messagequeue.Handler)
	}
	m.handlers[subject] = h
	return func() {
		m.mu.Lock()
		delete(m.handlers, subject)
		m.mu.Unlock()
	}, nil
}

func (m *mockQueue) Drain() error      { return nil }
func (m *mockQueue) Close() error      { return nil }
func (m *mockQueue) IsConnected() bool { return true }

func (m *mockQueue) deliver(ctx context.Context, subject string, data []byte) error {
	m.mu.Lock()
	h := m.handlers[subject]
	m.mu.Unlock()
	if h == nil {
		return nil
	}
	return h(ctx, subject, data)
}

func (m *mockQueue) subjects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.subject
	}
	return out
}

// memArchive keeps archived snapshots in a map.
type memArchive struct {
	mu    sync.Mutex
	tasks map[string]task.Task
}

func newMemArchive() *memArchive { return &memArchive{tasks: make(map[string]task.Task)} }

func (a *memArchive) Save(_ context.Context, t *task.Task) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tasks[t.ID] = t.Clone()
	return nil
}

func (a *memArchive) Load(_ context.Context, id string) (*task.Task, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	t, ok := a.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := t.Clone()
	return &c, nil
}

func (a *memArchive) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tasks)
}

// memCache is a map-backed cache.Cache.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.sets++
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

// gatedAnalyzer blocks each call until released or its context ends.
type gatedAnalyzer struct {
	started chan string
	release chan struct{}
	result  json.RawMessage
	err     error
	calls   atomic.Int32
}

func newGatedAnalyzer() *gatedAnalyzer {
	return &gatedAnalyzer{
		started: make(chan string, 16),
		release: make(chan struct{}),
		result:  json.RawMessage(`{"contract_id":"x","clauses":[]}`),
	}
}

func (g *gatedAnalyzer) Analyze(ctx context.Context, req analyzer.Request) (json.RawMessage, error) {
	g.calls.Add(1)
	g.started <- req.TaskID
	select {
	case <-g.release:
		return g.result, g.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gatedAnalyzer) waitStarted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-g.started:
		return id
	case <-time.After(recvTimeout):
		t.Fatal("analysis did not start")
	}
	return ""
}

func instantAnalyzer(result string, err error) analyzer.Analyzer {
	return analyzer.Func(func(context.Context, analyzer.Request) (json.RawMessage, error) {
		if err != nil {
			return nil, err
		}
		return json.RawMessage(result), nil
	})
}
