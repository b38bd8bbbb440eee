package states

import "fmt"

// EpisodePhase represents where an episode is in its lifecycle
type EpisodePhase int

const (
	// PhaseRunning - Accepting steps
	PhaseRunning EpisodePhase = iota

	// PhaseTerminated - Reached a terminal cell condition (goal or retry limit)
	PhaseTerminated

	// PhaseTruncated - Cut off by the step or invalid-action limit
	PhaseTruncated
)

func (p EpisodePhase) String() string {
	switch p {
	case PhaseRunning:
		return "Running"
	case PhaseTerminated:
		return "Terminated"
	case PhaseTruncated:
		return "Truncated"
	default:
		return fmt.Sprintf("Unknown(%d)", p)
	}
}

// IsTerminal returns true for the absorbing phases. Only a reset leaves them.
func (p EpisodePhase) IsTerminal() bool {
	return p == PhaseTerminated || p == PhaseTruncated
}

// CanStep returns true if the episode accepts actions in this phase
func (p EpisodePhase) CanStep() bool {
	return p == PhaseRunning
}

// AllowedTransitions returns the valid phases this phase can transition to.
// Running -> Running is a mid-episode reset.
func (p EpisodePhase) AllowedTransitions() []EpisodePhase {
	switch p {
	case PhaseRunning:
		return []EpisodePhase{PhaseRunning, PhaseTerminated, PhaseTruncated}
	case PhaseTerminated, PhaseTruncated:
		return []EpisodePhase{PhaseRunning}
	default:
		return []EpisodePhase{}
	}
}

// CanTransitionTo checks if a transition from this phase to the target phase is allowed
func (p EpisodePhase) CanTransitionTo(target EpisodePhase) bool {
	for _, phase := range p.AllowedTransitions() {
		if phase == target {
			return true
		}
	}
	return false
}

// ParsePhase converts a string to an EpisodePhase
func ParsePhase(s string) (EpisodePhase, error) {
	switch s {
	case "Running":
		return PhaseRunning, nil
	case "Terminated":
		return PhaseTerminated, nil
	case "Truncated":
		return PhaseTruncated, nil
	default:
		return PhaseRunning, fmt.Errorf("unknown phase %q", s)
	}
}
