package events

// Event type constants
const (
	TypeEpisodeStarted  = "episode.started"
	TypeEpisodeEnded    = "episode.ended"
	TypeStepTaken       = "step.taken"
	TypeHazardEntered   = "hazard.entered"
	TypeMoveInvalid     = "move.invalid"
	TypePhaseTransition = "phase.transition"
)

// Position is a grid cell in event payloads
type Position struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// EpisodeStartedEvent is published on every reset
type EpisodeStartedEvent struct {
	BaseEvent
	Start Position `json:"start"`
	Rows  int      `json:"rows"`
	Cols  int      `json:"cols"`
}

func NewEpisodeStartedEvent(envID, episodeID string, start Position, rows, cols int) *EpisodeStartedEvent {
	return &EpisodeStartedEvent{
		BaseEvent: newBase(TypeEpisodeStarted, envID, episodeID),
		Start:     start,
		Rows:      rows,
		Cols:      cols,
	}
}

// StepTakenEvent is published for every accepted step
type StepTakenEvent struct {
	BaseEvent
	Step       int      `json:"step"`
	Action     int      `json:"action"`
	From       Position `json:"from"`
	To         Position `json:"to"`
	Cell       string   `json:"cell"`
	Reward     float64  `json:"reward"`
	Invalid    bool     `json:"invalid"`
	Terminated bool     `json:"terminated"`
	Truncated  bool     `json:"truncated"`
}

func NewStepTakenEvent(envID, episodeID string, step, action int, from, to Position, cell string, reward float64, invalid, terminated, truncated bool) *StepTakenEvent {
	return &StepTakenEvent{
		BaseEvent:  newBase(TypeStepTaken, envID, episodeID),
		Step:       step,
		Action:     action,
		From:       from,
		To:         to,
		Cell:       cell,
		Reward:     reward,
		Invalid:    invalid,
		Terminated: terminated,
		Truncated:  truncated,
	}
}

// HazardEnteredEvent is published when the agent steps onto a hazard cell
type HazardEnteredEvent struct {
	BaseEvent
	At         Position `json:"at"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`
}

func NewHazardEnteredEvent(envID, episodeID string, at Position, retries, maxRetries int) *HazardEnteredEvent {
	return &HazardEnteredEvent{
		BaseEvent:  newBase(TypeHazardEntered, envID, episodeID),
		At:         at,
		RetryCount: retries,
		MaxRetries: maxRetries,
	}
}

// MoveInvalidEvent is published when an action would leave the grid
type MoveInvalidEvent struct {
	BaseEvent
	At           Position `json:"at"`
	Action       int      `json:"action"`
	InvalidCount int      `json:"invalid_count"`
	MaxInvalid   int      `json:"max_invalid"`
}

func NewMoveInvalidEvent(envID, episodeID string, at Position, action, count, max int) *MoveInvalidEvent {
	return &MoveInvalidEvent{
		BaseEvent:    newBase(TypeMoveInvalid, envID, episodeID),
		At:           at,
		Action:       action,
		InvalidCount: count,
		MaxInvalid:   max,
	}
}

// EpisodeEndedEvent is published when an episode terminates or truncates
type EpisodeEndedEvent struct {
	BaseEvent
	Reason      string  `json:"reason"`
	Terminated  bool    `json:"terminated"`
	Truncated   bool    `json:"truncated"`
	Steps       int     `json:"steps"`
	TotalReward float64 `json:"total_reward"`
}

func NewEpisodeEndedEvent(envID, episodeID, reason string, terminated, truncated bool, steps int, totalReward float64) *EpisodeEndedEvent {
	return &EpisodeEndedEvent{
		BaseEvent:   newBase(TypeEpisodeEnded, envID, episodeID),
		Reason:      reason,
		Terminated:  terminated,
		Truncated:   truncated,
		Steps:       steps,
		TotalReward: totalReward,
	}
}

// PhaseTransitionEvent is published when the episode phase machine changes phase
type PhaseTransitionEvent struct {
	BaseEvent
	FromPhase string `json:"from_phase"`
	ToPhase   string `json:"to_phase"`
	Reason    string `json:"reason"`
}

func NewPhaseTransitionEvent(envID, episodeID, from, to, reason string) *PhaseTransitionEvent {
	return &PhaseTransitionEvent{
		BaseEvent: newBase(TypePhaseTransition, envID, episodeID),
		FromPhase: from,
		ToPhase:   to,
		Reason:    reason,
	}
}
