package investigation

import (
	"errors"
	"fmt"
)

// ErrUnknownHypothesis is returned when an operation references a hypothesis
// ID that does not exist in the investigation.
var ErrUnknownHypothesis = errors.New("unknown hypothesis id")

// InvalidTransitionError reports an attempt to take an edge that is not in
// the phase graph. It indicates a programming error in the caller.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid phase transition: %s -> %s", e.From, e.To)
}

// CapExceededError reports that the hypothesis hard cap was reached.
type CapExceededError struct {
	Limit int
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("hypothesis cap reached (%d)", e.Limit)
}

// WrongPhaseError reports an operation issued in a phase that does not
// permit it (e.g. setting a triage result outside the triage phase).
type WrongPhaseError struct {
	Op   string
	Want Phase
	Got  Phase
}

func (e *WrongPhaseError) Error() string {
	return fmt.Sprintf("%s requires phase %q, investigation is in %q", e.Op, e.Want, e.Got)
}
