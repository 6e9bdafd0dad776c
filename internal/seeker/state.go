package seeker

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of an Orchestrator run.
//
//	CREATED -> INITIALIZING -> AWAITING_LOGIN -> SEARCHING <-> EVALUATING
//	EVALUATING -> APPLYING | SKIPPING -> SEARCHING
//	SEARCHING -> DONE
//	any non-terminal -> CANCELLED | FAILED
//	DONE | CANCELLED | FAILED -> SHUTDOWN
type State string

const (
	StateCreated       State = "CREATED"
	StateInitializing  State = "INITIALIZING"
	StateAwaitingLogin State = "AWAITING_LOGIN"
	StateSearching     State = "SEARCHING"
	StateEvaluating    State = "EVALUATING"
	StateApplying      State = "APPLYING"
	StateSkipping      State = "SKIPPING"
	StateDone          State = "DONE"
	StateCancelled     State = "CANCELLED"
	StateFailed        State = "FAILED"
	StateShutdown      State = "SHUTDOWN"
)

var validStates = map[State]bool{
	StateCreated:       true,
	StateInitializing:  true,
	StateAwaitingLogin: true,
	StateSearching:     true,
	StateEvaluating:    true,
	StateApplying:      true,
	StateSkipping:      true,
	StateDone:          true,
	StateCancelled:     true,
	StateFailed:        true,
	StateShutdown:      true,
}

// validTransitions lists the forward edges. CANCELLED and FAILED are added
// for every non-terminal state in IsTransitionAllowed.
var validTransitions = map[State][]State{
	StateCreated:       {StateInitializing},
	StateInitializing:  {StateAwaitingLogin},
	StateAwaitingLogin: {StateSearching},
	StateSearching:     {StateEvaluating, StateDone},
	StateEvaluating:    {StateApplying, StateSkipping, StateSearching},
	StateApplying:      {StateSearching, StateSkipping},
	StateSkipping:      {StateSearching},
	StateDone:          {StateShutdown},
	StateCancelled:     {StateShutdown},
	StateFailed:        {StateShutdown},
}

// ParseState converts a string into a State, case-insensitively.
func ParseState(s string) (State, error) {
	st := State(strings.ToUpper(strings.TrimSpace(s)))
	if !validStates[st] {
		return "", fmt.Errorf("invalid state: %q", s)
	}
	return st, nil
}

// IsTerminal reports whether s ends a run. SHUTDOWN follows a terminal state.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// IsTransitionAllowed reports whether moving from one state to another is allowed.
func IsTransitionAllowed(from, to State) bool {
	if from == StateShutdown {
		return false
	}
	if (to == StateCancelled || to == StateFailed) && !from.IsTerminal() {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
