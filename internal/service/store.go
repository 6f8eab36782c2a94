package service

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/contractreview/internal/domain"
	"github.com/Strob0t/contractreview/internal/domain/task"
)

// TaskStore is the in-memory source of truth for task records. Lookups
// share a map lock; writes to one task are serialized by that task's
// record lock so different tasks progress independently.
type TaskStore struct {
	mu       sync.RWMutex
	tasks    map[string]*record
	retired  map[string]struct{}
	maxTasks int

	now   func() time.Time
	newID func() string
}

type record struct {
	mu sync.Mutex
	t  task.Task
}

// NewTaskStore creates an empty store. maxTasks caps the number of
// retained tasks; 0 means unlimited.
func NewTaskStore(maxTasks int) *TaskStore {
	return &TaskStore{
		tasks:    make(map[string]*record),
		retired:  make(map[string]struct{}),
		maxTasks: maxTasks,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Create inserts a SUBMITTED task. An empty id gets a server-assigned one.
// When id already exists the existing snapshot is returned with
// created=false so retries by fixed id are idempotent.
func (s *TaskStore) Create(id string, in task.Input) (snap task.Task, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = s.newID()
	}
	if rec, ok := s.tasks[id]; ok {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.t.Clone(), false, nil
	}
	if _, ok := s.retired[id]; ok {
		return task.Task{}, false, fmt.Errorf("task %s: %w", id, domain.ErrIDRetired)
	}
	if s.maxTasks > 0 && len(s.tasks) >= s.maxTasks {
		return task.Task{}, false, fmt.Errorf("store holds %d tasks: %w", len(s.tasks), domain.ErrCapacityExceeded)
	}

	t := task.New(id, in, s.now())
	rec := &record{t: t.Clone()}
	s.tasks[id] = rec
	return t.Clone(), true, nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (task.Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return task.Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.t.Clone(), nil
}

// Transition validates and applies a state change and returns the new
// snapshot. A rejected move returns a *task.TransitionError and leaves
// the record unchanged.
func (s *TaskStore) Transition(id string, to task.State, out task.Outcome) (task.Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return task.Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !task.CanTransition(rec.t.State, to) {
		return task.Task{}, &task.TransitionError{TaskID: id, From: rec.t.State, To: to}
	}
	rec.t.Apply(to, out, s.now())
	return rec.t.Clone(), nil
}

// AppendMessage records a follow-up message on an existing task without
// changing its state.
func (s *TaskStore) AppendMessage(id string, msg task.Message) (task.Task, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return task.Task{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.t.Messages = append(rec.t.Messages, msg)
	return rec.t.Clone(), nil
}

// List returns tasks ordered by creation time, optionally filtered by
// state. limit <= 0 returns all matches.
func (s *TaskStore) List(state task.State, limit int) []task.Task {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.tasks))
	for _, rec := range s.tasks {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]task.Task, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		if state == "" || rec.t.State == state {
			out = append(out, rec.t.Clone())
		}
		rec.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b task.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Counts returns the number of retained tasks per state.
func (s *TaskStore) Counts() map[task.State]int {
	counts := make(map[task.State]int)
	for _, t := range s.List("", 0) {
		counts[t.State]++
	}
	return counts
}

// Expired returns the ids of terminal tasks last updated before cutoff.
func (s *TaskStore) Expired(cutoff time.Time) []string {
	var ids []string
	for _, t := range s.List("", 0) {
		if t.State.IsTerminal() && t.UpdatedAt.Before(cutoff) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Delete removes a terminal task. The id is retired and never reused.
// Non-terminal tasks are never deleted.
func (s *TaskStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	rec.mu.Lock()
	state := rec.t.State
	rec.mu.Unlock()
	if !state.IsTerminal() {
		return fmt.Errorf("task %s is %s: %w", id, state, domain.ErrTaskActive)
	}

	delete(s.tasks, id)
	s.retired[id] = struct{}{}
	return nil
}

func (s *TaskStore) lookup(id string) (*record, error) {
	s.mu.RLock()
	rec, ok := s.tasks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return rec, nil
}
