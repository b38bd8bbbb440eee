package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/experience"
)

// Environment is the part of env.Environment the runner drives
type Environment interface {
	Reset() env.Observation
	Step(core.Action) (env.StepResult, error)
	EpisodeID() string
}

// Outcome is how an episode run by the runner finished
type Outcome string

const (
	OutcomeGoal         Outcome = "goal"
	OutcomeRetryLimit   Outcome = "retry_limit"
	OutcomeStepLimit    Outcome = "step_limit"
	OutcomeInvalidLimit Outcome = "invalid_limit"
	OutcomeRunnerCap    Outcome = "runner_cap"
	OutcomeCancelled    Outcome = "cancelled"
)

// DefaultMaxSteps caps an episode when the environment itself has no step limit
const DefaultMaxSteps = 100

// EpisodeSummary describes one finished episode
type EpisodeSummary struct {
	EpisodeID        string
	Steps            int
	TotalReward      float64
	DiscountedReturn float64
	Outcome          Outcome
	Path             []core.Coordinate // agent cells, starting with the start cell
	Rewards          []float64
}

// Success reports whether the goal was reached
func (s EpisodeSummary) Success() bool { return s.Outcome == OutcomeGoal }

// StepHook is called after every step the runner takes
type StepHook func(step int, a core.Action, res env.StepResult)

// Runner plays policies against an environment
type Runner struct {
	env      Environment
	maxSteps int
	gamma    float64
	hook     StepHook
	logger   zerolog.Logger
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithMaxSteps caps each episode at n steps
func WithMaxSteps(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithGamma sets the discount for EpisodeSummary.DiscountedReturn
func WithGamma(gamma float64) RunnerOption {
	return func(r *Runner) { r.gamma = gamma }
}

// WithStepHook registers a callback run after every step
func WithStepHook(h StepHook) RunnerOption {
	return func(r *Runner) { r.hook = h }
}

// WithRunnerLogger sets the logger
func WithRunnerLogger(logger zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// NewRunner creates a runner for e
func NewRunner(e Environment, opts ...RunnerOption) *Runner {
	r := &Runner{
		env:      e,
		maxSteps: DefaultMaxSteps,
		gamma:    experience.DefaultGamma,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "rollout_runner").Logger()
	return r
}

// RunEpisode resets the environment and plays policy until the episode ends, the
// runner's step cap is hit or ctx is done. A cancelled episode returns its partial
// summary together with ctx.Err().
func (r *Runner) RunEpisode(ctx context.Context, policy Policy) (EpisodeSummary, error) {
	if p, ok := policy.(Resetter); ok {
		p.Reset()
	}

	obs := r.env.Reset()
	summary := EpisodeSummary{
		EpisodeID: r.env.EpisodeID(),
		Outcome:   OutcomeRunnerCap,
	}
	if start, ok := PathFromObservation(obs); ok {
		summary.Path = append(summary.Path, start)
	}

	for summary.Steps < r.maxSteps {
		if err := ctx.Err(); err != nil {
			summary.Outcome = OutcomeCancelled
			r.finish(&summary)
			return summary, err
		}

		a := policy.Act(obs)
		res, err := r.env.Step(a)
		if err != nil {
			r.finish(&summary)
			return summary, fmt.Errorf("step %d: %w", summary.Steps+1, err)
		}

		summary.Steps++
		summary.TotalReward += res.Reward
		summary.Rewards = append(summary.Rewards, res.Reward)
		if pos, ok := PathFromObservation(res.Observation); ok {
			summary.Path = append(summary.Path, pos)
		}
		if r.hook != nil {
			r.hook(summary.Steps, a, res)
		}

		obs = res.Observation
		if res.Terminated || res.Truncated {
			summary.Outcome = outcomeFor(res.Info.EndReason)
			break
		}
	}

	r.finish(&summary)
	r.logger.Debug().
		Str("episode_id", summary.EpisodeID).
		Str("outcome", string(summary.Outcome)).
		Int("steps", summary.Steps).
		Float64("total_reward", summary.TotalReward).
		Msg("Episode finished")
	return summary, nil
}

func (r *Runner) finish(s *EpisodeSummary) {
	if returns := experience.DiscountedReturns(s.Rewards, r.gamma); len(returns) > 0 {
		s.DiscountedReturn = returns[0]
	}
}

func outcomeFor(reason env.EndReason) Outcome {
	switch reason {
	case env.EndGoal:
		return OutcomeGoal
	case env.EndRetryLimit:
		return OutcomeRetryLimit
	case env.EndInvalidLimit:
		return OutcomeInvalidLimit
	case env.EndStepLimit:
		return OutcomeStepLimit
	default:
		return OutcomeRunnerCap
	}
}

// EvalStats aggregates a batch of episodes
type EvalStats struct {
	Episodes    int
	MeanReward  float64
	StdReward   float64
	MinReward   float64
	MaxReward   float64
	MeanLength  float64
	SuccessRate float64
	Outcomes    map[Outcome]int
	Summaries   []EpisodeSummary
}

// Evaluate runs n episodes and aggregates their rewards and lengths
func (r *Runner) Evaluate(ctx context.Context, policy Policy, n int) (EvalStats, error) {
	if n <= 0 {
		return EvalStats{}, fmt.Errorf("episode count must be positive, got %d", n)
	}

	stats := EvalStats{
		Outcomes:  make(map[Outcome]int),
		MinReward: math.Inf(1),
		MaxReward: math.Inf(-1),
	}
	rewards := make([]float64, 0, n)
	lengths := make([]float64, 0, n)
	successes := 0

	for i := 0; i < n; i++ {
		summary, err := r.RunEpisode(ctx, policy)
		if err != nil {
			return stats, fmt.Errorf("episode %d: %w", i+1, err)
		}

		stats.Summaries = append(stats.Summaries, summary)
		stats.Outcomes[summary.Outcome]++
		rewards = append(rewards, summary.TotalReward)
		lengths = append(lengths, float64(summary.Steps))
		stats.MinReward = math.Min(stats.MinReward, summary.TotalReward)
		stats.MaxReward = math.Max(stats.MaxReward, summary.TotalReward)
		if summary.Success() {
			successes++
		}
	}

	stats.Episodes = n
	stats.MeanReward, stats.StdReward = stat.MeanStdDev(rewards, nil)
	if n == 1 {
		stats.StdReward = 0
	}
	stats.MeanLength = stat.Mean(lengths, nil)
	stats.SuccessRate = float64(successes) / float64(n)

	r.logger.Info().
		Int("episodes", n).
		Float64("mean_reward", stats.MeanReward).
		Float64("std_reward", stats.StdReward).
		Float64("success_rate", stats.SuccessRate).
		Float64("mean_length", stats.MeanLength).
		Msg("Evaluation complete")

	return stats, nil
}
