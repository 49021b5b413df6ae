package engine

import (
	"context"
	"fmt"

	"github.com/rlorentegh/tramitador/internal/filing"
)

// Noop completes every task without touching the portal. Useful for dry runs
// and for wiring tests.
type Noop struct{}

// NewNoop returns a Noop engine.
func NewNoop() *Noop {
	return &Noop{}
}

// Execute reports the task as completed without side effects.
func (e *Noop) Execute(_ context.Context, task filing.PendingTask) (filing.EngineResult, error) {
	return filing.EngineResult{
		Completed: true,
		Result:    fmt.Sprintf("dry run: case %s not submitted", task.Payload.CaseNumber),
	}, nil
}
