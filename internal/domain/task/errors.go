package task

import (
	"fmt"

	"github.com/Strob0t/contractreview/internal/domain"
)

// TransitionError is returned when the state machine rejects a move.
// It unwraps to domain.ErrInvalidTransition.
type TransitionError struct {
	TaskID string
	From   State
	To     State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot transition from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return domain.ErrInvalidTransition
}
