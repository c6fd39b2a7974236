package loan

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/mcclellann/loanschedule/pkg/models"
)

const (
	eventCalculate = "calculate"
	eventDraft     = "draft"
)

// ErrInvalidTransition is returned when a lifecycle action is not allowed in
// the current state.
var ErrInvalidTransition = errors.New("invalid loan state transition")

// newLifecycle builds the draft <-> calculated state machine. Calculating a
// calculated loan is a recomputation and keeps it calculated.
func newLifecycle(state models.State) *fsm.FSM {
	if state == "" {
		state = models.StateDraft
	}
	return fsm.NewFSM(
		string(state),
		fsm.Events{
			{Name: eventCalculate, Src: []string{string(models.StateDraft), string(models.StateCalculated)}, Dst: string(models.StateCalculated)},
			{Name: eventDraft, Src: []string{string(models.StateCalculated)}, Dst: string(models.StateDraft)},
		},
		fsm.Callbacks{},
	)
}

func (l *Loan) fire(ctx context.Context, event string) error {
	err := l.lifecycle.Event(ctx, event)
	if err == nil {
		return nil
	}
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return fmt.Errorf("%w: %s from %s: %v", ErrInvalidTransition, event, l.lifecycle.Current(), err)
}

// CanCalculate reports whether Calculate is allowed in the current state.
func (l *Loan) CanCalculate() bool { return l.lifecycle.Can(eventCalculate) }

// CanDraft reports whether Draft is allowed in the current state.
func (l *Loan) CanDraft() bool { return l.lifecycle.Can(eventDraft) }
