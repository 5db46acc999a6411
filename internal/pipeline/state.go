// internal/pipeline/state.go
package pipeline

import "fmt"

// State is one gate in the run. Order is fixed; transitions are
// one-directional and non-retryable within a run.
type State string

const (
	StateInit                 State = "Init"
	StateValidatingWorkspaces State = "ValidatingWorkspaces"
	StateComposingPatch       State = "ComposingPatch"
	StateBuildingBaseline     State = "BuildingBaseline"
	StateSnapshottingBefore   State = "SnapshottingBefore"
	StateApplyingPatch        State = "ApplyingPatch"
	StateBuildingPatched      State = "BuildingPatched"
	StateSnapshottingAfter    State = "SnapshottingAfter"
	StateVerifyingFingerprint State = "VerifyingFingerprint"
	StateGeneratingDistPatch  State = "GeneratingDistPatch"
	StateComparingIdempotency State = "ComparingIdempotency"
	StateCommittingArtifacts  State = "CommittingArtifacts"
	StatePublishing           State = "Publishing"
	StateSuccess              State = "Success"
	StateRolledBack           State = "RolledBack"
	StateFailed               State = "Failed"
)

// stateOrder is the happy path, Init through Success.
var stateOrder = []State{
	StateInit,
	StateValidatingWorkspaces,
	StateComposingPatch,
	StateBuildingBaseline,
	StateSnapshottingBefore,
	StateApplyingPatch,
	StateBuildingPatched,
	StateSnapshottingAfter,
	StateVerifyingFingerprint,
	StateGeneratingDistPatch,
	StateComparingIdempotency,
	StateCommittingArtifacts,
	StatePublishing,
	StateSuccess,
}

var stateIndex = func() map[State]int {
	m := make(map[State]int, len(stateOrder))
	for i, s := range stateOrder {
		m[s] = i
	}
	return m
}()

// Event drives a transition.
type Event int

const (
	// EventAdvance moves to the next state in order.
	EventAdvance Event = iota
	// EventComplete short-circuits to Success. Only the gates that can
	// decide the run is a clean no-op may raise it.
	EventComplete
	// EventFail terminates the run. At or after CommittingArtifacts the
	// run owes compensation and lands in RolledBack, otherwise Failed.
	EventFail
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSuccess || s == StateRolledBack || s == StateFailed
}

// RequiresRollback reports whether a failure in s leaves side effects that
// must be compensated.
func (s State) RequiresRollback() bool {
	idx, ok := stateIndex[s]
	if !ok {
		return false
	}
	return idx >= stateIndex[StateCommittingArtifacts]
}

// Transition is a pure function of (state, event). Side effects belong to
// the pipeline executing the states, never to the transition itself.
func Transition(s State, ev Event) (State, error) {
	if s.Terminal() {
		return s, fmt.Errorf("no transition out of terminal state %s", s)
	}
	idx, ok := stateIndex[s]
	if !ok {
		return s, fmt.Errorf("unknown state %s", s)
	}

	switch ev {
	case EventAdvance:
		return stateOrder[idx+1], nil
	case EventComplete:
		switch s {
		case StateGeneratingDistPatch, StateComparingIdempotency, StateCommittingArtifacts:
			return StateSuccess, nil
		}
		return s, fmt.Errorf("state %s cannot complete early", s)
	case EventFail:
		if s.RequiresRollback() {
			return StateRolledBack, nil
		}
		return StateFailed, nil
	}
	return s, fmt.Errorf("unknown event %d", ev)
}
