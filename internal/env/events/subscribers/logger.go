package subscribers

import (
	"encoding/json"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/rs/zerolog"
)

// LoggerSubscriber logs events to structured logs
type LoggerSubscriber struct {
	id              string
	logger          zerolog.Logger
	logLevel        zerolog.Level
	eventTypeFilter map[string]bool // If non-nil, only log these event types
	devMode         bool            // If true, log full event details
}

// NewLoggerSubscriber creates a new logger subscriber
func NewLoggerSubscriber(id string, logger zerolog.Logger, logLevel zerolog.Level) *LoggerSubscriber {
	return &LoggerSubscriber{
		id:       id,
		logger:   logger.With().Str("subscriber", "event_logger").Logger(),
		logLevel: logLevel,
	}
}

func (ls *LoggerSubscriber) ID() string {
	return ls.id
}

// SetEventFilter sets which event types to log (nil means log all)
func (ls *LoggerSubscriber) SetEventFilter(eventTypes []string) {
	if len(eventTypes) == 0 {
		ls.eventTypeFilter = nil
		return
	}

	ls.eventTypeFilter = make(map[string]bool)
	for _, eventType := range eventTypes {
		ls.eventTypeFilter[eventType] = true
	}
}

// SetDevMode enables or disables logging the full event as JSON
func (ls *LoggerSubscriber) SetDevMode(enabled bool) {
	ls.devMode = enabled
}

func (ls *LoggerSubscriber) InterestedIn(eventType string) bool {
	if ls.eventTypeFilter == nil {
		return true
	}
	return ls.eventTypeFilter[eventType]
}

// HandleEvent processes an event by logging it
func (ls *LoggerSubscriber) HandleEvent(event events.Event) {
	eventLogger := ls.logger.With().
		Str("event_type", event.Type()).
		Str("env_id", event.EnvID()).
		Str("episode_id", event.EpisodeID()).
		Time("timestamp", event.Timestamp()).
		Logger()

	logEvent := eventLogger.WithLevel(ls.logLevel)
	if ls.logLevel == zerolog.NoLevel {
		logEvent = eventLogger.Info()
	}

	switch e := event.(type) {
	case *events.EpisodeStartedEvent:
		logEvent.
			Int("start_row", e.Start.Row).
			Int("start_col", e.Start.Col).
			Int("rows", e.Rows).
			Int("cols", e.Cols)

	case *events.StepTakenEvent:
		logEvent.
			Int("step", e.Step).
			Int("action", e.Action).
			Int("to_row", e.To.Row).
			Int("to_col", e.To.Col).
			Str("cell", e.Cell).
			Float64("reward", e.Reward).
			Bool("invalid", e.Invalid).
			Bool("terminated", e.Terminated).
			Bool("truncated", e.Truncated)

	case *events.HazardEnteredEvent:
		logEvent.
			Int("row", e.At.Row).
			Int("col", e.At.Col).
			Int("retry_count", e.RetryCount).
			Int("max_retries", e.MaxRetries)

	case *events.MoveInvalidEvent:
		logEvent.
			Int("row", e.At.Row).
			Int("col", e.At.Col).
			Int("action", e.Action).
			Int("invalid_count", e.InvalidCount)

	case *events.EpisodeEndedEvent:
		logEvent.
			Str("reason", e.Reason).
			Bool("terminated", e.Terminated).
			Bool("truncated", e.Truncated).
			Int("steps", e.Steps).
			Float64("total_reward", e.TotalReward)

	case *events.PhaseTransitionEvent:
		logEvent.
			Str("from_phase", e.FromPhase).
			Str("to_phase", e.ToPhase).
			Str("reason", e.Reason)
	}

	if ls.devMode {
		if jsonData, err := json.Marshal(event); err == nil {
			logEvent.RawJSON("event_data", jsonData)
		}
	}

	logEvent.Msg("Environment event")
}
