// Package analyzer defines the port for the contract analysis capability
// invoked once per task by the lifecycle manager.
package analyzer

import (
	"context"
	"encoding/json"
)

// Request is the analyzer input extracted from a task.
type Request struct {
	TaskID   string
	Text     string
	Metadata map[string]any
}

// Analyzer performs the domain computation for a task. Implementations
// must observe ctx cancellation where they can; a result returned after
// cancellation is discarded.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)
}

// Func adapts a plain function to the Analyzer interface.
type Func func(ctx context.Context, req Request) (json.RawMessage, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, req Request) (json.RawMessage, error) {
	return f(ctx, req)
}
