package experience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
)

// Sink receives collected transitions
type Sink interface {
	Add(*Transition) error
}

// Collector turns step.taken events into transitions. Observations are rebuilt from
// the layout and the agent cells reported by the event, so the environment does not
// need to know it is being recorded.
type Collector struct {
	id     string
	layout *core.Layout
	codes  []int
	sink   Sink
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	envs    map[string]bool // empty means every environment
	dropped int64
	count   int64
}

// NewCollector creates a collector for environments built on layout
func NewCollector(layout *core.Layout, sink Sink, logger zerolog.Logger) *Collector {
	codes := make([]int, 0, layout.Rows()*layout.Cols())
	for _, row := range layout.Codes() {
		codes = append(codes, row...)
	}
	return &Collector{
		id:     "experience_collector_" + uuid.NewString(),
		layout: layout,
		codes:  codes,
		sink:   sink,
		now:    time.Now,
		envs:   make(map[string]bool),
		logger: logger.With().Str("component", "experience_collector").Logger(),
	}
}

// Track restricts collection to the given environments. With no tracked
// environments every step is collected.
func (c *Collector) Track(envIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range envIDs {
		c.envs[id] = true
	}
}

// Untrack stops collecting from an environment
func (c *Collector) Untrack(envID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.envs, envID)
}

func (c *Collector) ID() string { return c.id }

func (c *Collector) InterestedIn(eventType string) bool {
	return eventType == events.TypeStepTaken
}

// HandleEvent implements events.Subscriber
func (c *Collector) HandleEvent(e events.Event) {
	step, ok := e.(*events.StepTakenEvent)
	if !ok {
		return
	}

	c.mu.RLock()
	tracked := len(c.envs) == 0 || c.envs[step.EnvID()]
	c.mu.RUnlock()
	if !tracked {
		return
	}

	t := c.FromStep(step)
	if err := c.sink.Add(t); err != nil {
		atomic.AddInt64(&c.dropped, 1)
		c.logger.Warn().
			Err(err).
			Str("episode_id", t.EpisodeID).
			Int("step", t.Step).
			Msg("Dropping transition")
		return
	}
	atomic.AddInt64(&c.count, 1)

	c.logger.Debug().
		Str("episode_id", t.EpisodeID).
		Int("step", t.Step).
		Float64("reward", t.Reward).
		Bool("done", t.Done()).
		Msg("Collected transition")
}

// FromStep builds the transition described by a step event
func (c *Collector) FromStep(step *events.StepTakenEvent) *Transition {
	return &Transition{
		ID:              uuid.NewString(),
		EnvID:           step.EnvID(),
		EpisodeID:       step.EpisodeID(),
		Step:            step.Step,
		Rows:            c.layout.Rows(),
		Cols:            c.layout.Cols(),
		Observation:     c.observationAt(step.From),
		Action:          step.Action,
		Reward:          step.Reward,
		NextObservation: c.observationAt(step.To),
		Terminated:      step.Terminated,
		Truncated:       step.Truncated,
		Position:        core.NewCoordinate(step.To.Row, step.To.Col),
		RecordedAt:      c.now(),
	}
}

func (c *Collector) observationAt(p events.Position) []int {
	obs := make([]int, len(c.codes))
	copy(obs, c.codes)
	obs[core.NewCoordinate(p.Row, p.Col).ToIndex(c.layout.Cols())] = core.AgentMarker
	return obs
}

// Collected returns how many transitions reached the sink
func (c *Collector) Collected() int64 { return atomic.LoadInt64(&c.count) }

// Dropped returns how many transitions the sink rejected
func (c *Collector) Dropped() int64 { return atomic.LoadInt64(&c.dropped) }
