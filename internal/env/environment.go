// Package env implements the dental scanner grid-world: a deterministic environment
// with a reset/step/observe contract for external trainers.
//
// An Environment is owned by a single caller and is not safe for concurrent use.
package env

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/states"
)

// EndReason explains why an episode left PhaseRunning
type EndReason string

const (
	EndNone         EndReason = ""
	EndGoal         EndReason = "goal"
	EndRetryLimit   EndReason = "retry_limit"
	EndInvalidLimit EndReason = "invalid_limit"
	EndStepLimit    EndReason = "step_limit"
)

// Counters are the per-episode tallies. They only grow until the next reset.
type Counters struct {
	RetryCount         int
	InvalidActionCount int
	StepCount          int
}

// Info carries diagnostics alongside a step result
type Info struct {
	EpisodeID string
	Position  core.Coordinate
	Cell      core.CellLabel // label under the agent after the step
	Invalid   bool
	Counters  Counters
	EndReason EndReason
}

// StepResult is everything a trainer receives from Step
type StepResult struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
	Info        Info
}

// Environment is the grid-world state machine
type Environment struct {
	id       string
	settings Settings
	layout   *core.Layout

	pos         core.Coordinate
	counters    Counters
	totalReward float64
	episodeID   string

	machine   *states.Machine
	publisher events.Publisher
	newID     func() string
	logger    zerolog.Logger
}

// Option configures an Environment
type Option func(*Environment)

// WithSettings replaces the default grid, rewards and limits
func WithSettings(s Settings) Option {
	return func(e *Environment) { e.settings = s }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Environment) { e.logger = logger }
}

// WithPublisher sends environment events to p
func WithPublisher(p events.Publisher) Option {
	return func(e *Environment) { e.publisher = p }
}

// WithID sets the environment ID used to tag events
func WithID(id string) Option {
	return func(e *Environment) { e.id = id }
}

// WithIDGenerator replaces the episode ID source
func WithIDGenerator(gen func() string) Option {
	return func(e *Environment) { e.newID = gen }
}

// New creates an environment positioned at the start of a fresh episode
func New(opts ...Option) (*Environment, error) {
	e := &Environment{
		settings:  DefaultSettings(),
		publisher: events.NopPublisher{},
		newID:     uuid.NewString,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid environment settings: %w", err)
	}
	if e.id == "" {
		e.id = e.newID()
	}
	if e.publisher == nil {
		e.publisher = events.NopPublisher{}
	}

	e.settings.Rewards = e.settings.Rewards.Clone()
	e.layout = e.settings.Layout
	e.logger = e.logger.With().Str("component", "grid_env").Str("env_id", e.id).Logger()
	e.machine = states.NewMachine(e.id, e.publisher, e.logger)

	e.Reset()
	return e, nil
}

// Reset starts a new episode and returns its first observation
func (e *Environment) Reset() Observation {
	e.pos = e.layout.Start()
	e.counters = Counters{}
	e.totalReward = 0
	e.episodeID = e.newID()

	e.machine.BeginEpisode(e.episodeID)
	e.publisher.Publish(events.NewEpisodeStartedEvent(
		e.id, e.episodeID, toEventPos(e.pos), e.layout.Rows(), e.layout.Cols(),
	))

	e.logger.Debug().
		Str("episode_id", e.episodeID).
		Msg("Episode reset")

	return e.Observe()
}

// Step applies one action. Out-of-grid moves are scored outcomes, not errors.
// Errors are returned only for an action outside the action space (core.ErrInvalidAction)
// and for stepping a finished episode (core.ErrEpisodeOver); neither changes any state.
func (e *Environment) Step(a core.Action) (StepResult, error) {
	if !a.IsValid() {
		return StepResult{}, fmt.Errorf("step: %w: %d", core.ErrInvalidAction, int(a))
	}
	if phase := e.machine.Current(); !phase.CanStep() {
		return StepResult{}, fmt.Errorf("step: %w (%s), reset required", core.ErrEpisodeOver, phase)
	}

	from := e.pos
	candidate := from.Move(a)

	var (
		reward     float64
		terminated bool
		truncated  bool
		invalid    bool
		reason     = EndNone
	)

	if !e.layout.Contains(candidate) {
		invalid = true
		reward = e.settings.Rewards.InvalidMove
		e.counters.InvalidActionCount++
		e.publisher.Publish(events.NewMoveInvalidEvent(
			e.id, e.episodeID, toEventPos(from), int(a),
			e.counters.InvalidActionCount, e.settings.Limits.MaxInvalidActions,
		))
	} else {
		e.pos = candidate
		reward, terminated, reason = e.enter(candidate)
	}

	e.counters.StepCount++

	if e.counters.InvalidActionCount >= e.settings.Limits.MaxInvalidActions {
		truncated = true
		if reason == EndNone {
			reason = EndInvalidLimit
		}
	}
	if e.settings.Limits.MaxSteps > 0 && e.counters.StepCount >= e.settings.Limits.MaxSteps {
		truncated = true
		if reason == EndNone {
			reason = EndStepLimit
		}
	}

	e.totalReward += reward
	cell := e.cellAt(e.pos)

	e.publisher.Publish(events.NewStepTakenEvent(
		e.id, e.episodeID, e.counters.StepCount, int(a),
		toEventPos(from), toEventPos(e.pos), cell.String(),
		reward, invalid, terminated, truncated,
	))

	if terminated || truncated {
		e.finish(terminated, truncated, reason)
	}

	return StepResult{
		Observation: e.Observe(),
		Reward:      reward,
		Terminated:  terminated,
		Truncated:   truncated,
		Info: Info{
			EpisodeID: e.episodeID,
			Position:  e.pos,
			Cell:      cell,
			Invalid:   invalid,
			Counters:  e.counters,
			EndReason: reason,
		},
	}, nil
}

// enter applies the effect of the cell the agent just moved onto
func (e *Environment) enter(at core.Coordinate) (reward float64, terminated bool, reason EndReason) {
	label := e.cellAt(at)
	reward = e.settings.Rewards.For(label)

	switch label {
	case core.CellHazard:
		e.counters.RetryCount++
		e.publisher.Publish(events.NewHazardEnteredEvent(
			e.id, e.episodeID, toEventPos(at),
			e.counters.RetryCount, e.settings.Limits.MaxRetries,
		))
		if e.counters.RetryCount >= e.settings.Limits.MaxRetries {
			terminated = true
			reason = EndRetryLimit
			if e.settings.RetryLimitPolicy == core.RetryLimitOverride {
				reward = e.settings.Rewards.RetryLimit
			}
		}
	case core.CellGoal:
		terminated = true
		reason = EndGoal
	}

	return reward, terminated, reason
}

// finish moves the phase machine into its absorbing phase. Termination wins when
// both flags are raised by the same step.
func (e *Environment) finish(terminated, truncated bool, reason EndReason) {
	target := states.PhaseTruncated
	if terminated {
		target = states.PhaseTerminated
	}
	if err := e.machine.TransitionTo(target, e.counters.StepCount, string(reason)); err != nil {
		e.logger.Error().Err(err).Msg("Failed to end episode")
	}

	e.publisher.Publish(events.NewEpisodeEndedEvent(
		e.id, e.episodeID, string(reason), terminated, truncated,
		e.counters.StepCount, e.totalReward,
	))

	e.logger.Debug().
		Str("episode_id", e.episodeID).
		Str("reason", string(reason)).
		Int("steps", e.counters.StepCount).
		Float64("total_reward", e.totalReward).
		Msg("Episode ended")
}

// Observe returns the grid with the agent marked. It has no side effects.
func (e *Environment) Observe() Observation {
	obs := Observation(e.layout.Codes())
	obs[e.pos.Row][e.pos.Col] = core.AgentMarker
	return obs
}

func (e *Environment) cellAt(c core.Coordinate) core.CellLabel {
	label, err := e.layout.At(c)
	if err != nil {
		// position is bounds checked on every move
		panic(err)
	}
	return label
}

func (e *Environment) ID() string                   { return e.id }
func (e *Environment) EpisodeID() string            { return e.episodeID }
func (e *Environment) Position() core.Coordinate    { return e.pos }
func (e *Environment) Counters() Counters           { return e.counters }
func (e *Environment) TotalReward() float64         { return e.totalReward }
func (e *Environment) Phase() states.EpisodePhase   { return e.machine.Current() }
func (e *Environment) Layout() *core.Layout         { return e.layout }
func (e *Environment) Limits() core.Limits          { return e.settings.Limits }
func (e *Environment) Rewards() core.RewardTable    { return e.settings.Rewards.Clone() }
func (e *Environment) History() []states.Transition { return e.machine.History() }

// Done reports whether the current episode has ended
func (e *Environment) Done() bool {
	return e.machine.Current().IsTerminal()
}

func toEventPos(c core.Coordinate) events.Position {
	return events.Position{Row: c.Row, Col: c.Col}
}
