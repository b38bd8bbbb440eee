package states

import (
	"fmt"
	"sync"
	"time"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/rs/zerolog"
)

const defaultMaxHistory = 1000

// Transition represents a phase transition in the history
type Transition struct {
	From      EpisodePhase
	To        EpisodePhase
	EpisodeID string
	Step      int
	Timestamp time.Time
	Reason    string
}

// Machine tracks the episode phase of one environment and records its transitions
type Machine struct {
	mu             sync.RWMutex
	envID          string
	episodeID      string
	current        EpisodePhase
	history        []Transition
	maxHistorySize int
	publisher      events.Publisher
	logger         zerolog.Logger
}

// NewMachine creates a machine in PhaseRunning
func NewMachine(envID string, publisher events.Publisher, logger zerolog.Logger) *Machine {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Machine{
		envID:          envID,
		current:        PhaseRunning,
		history:        make([]Transition, 0, 16),
		maxHistorySize: defaultMaxHistory,
		publisher:      publisher,
		logger:         logger.With().Str("component", "phase_machine").Logger(),
	}
}

// SetMaxHistory bounds the number of transitions kept
func (m *Machine) SetMaxHistory(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > 0 {
		m.maxHistorySize = n
		m.trimLocked()
	}
}

// Current returns the current phase
func (m *Machine) Current() EpisodePhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// BeginEpisode moves the machine to PhaseRunning for a new episode. Always allowed.
func (m *Machine) BeginEpisode(episodeID string) {
	m.mu.Lock()
	from := m.current
	m.episodeID = episodeID
	m.record(from, PhaseRunning, 0, "reset")
	m.current = PhaseRunning
	m.mu.Unlock()

	m.announce(from, PhaseRunning, episodeID, "reset")
}

// TransitionTo attempts to move to the target phase
func (m *Machine) TransitionTo(target EpisodePhase, step int, reason string) error {
	m.mu.Lock()
	from := m.current
	if !from.CanTransitionTo(target) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, target)
	}
	m.record(from, target, step, reason)
	m.current = target
	episodeID := m.episodeID
	m.mu.Unlock()

	m.announce(from, target, episodeID, reason)
	return nil
}

// History returns a copy of the transition history
func (m *Machine) History() []Transition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history := make([]Transition, len(m.history))
	copy(history, m.history)
	return history
}

// record must be called with mu held
func (m *Machine) record(from, to EpisodePhase, step int, reason string) {
	m.history = append(m.history, Transition{
		From:      from,
		To:        to,
		EpisodeID: m.episodeID,
		Step:      step,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	m.trimLocked()
}

func (m *Machine) trimLocked() {
	if len(m.history) > m.maxHistorySize {
		m.history = m.history[len(m.history)-m.maxHistorySize:]
	}
}

// announce publishes outside the lock so subscribers may query the machine
func (m *Machine) announce(from, to EpisodePhase, episodeID, reason string) {
	m.publisher.Publish(events.NewPhaseTransitionEvent(m.envID, episodeID, from.String(), to.String(), reason))

	m.logger.Debug().
		Str("episode_id", episodeID).
		Str("from_phase", from.String()).
		Str("to_phase", to.String()).
		Str("reason", reason).
		Msg("Phase transition")
}
