package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/agent"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/events"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/experience"
)

const defaultScript = "3,3,3,3,1,1,1,1"

type rolloutOptions struct {
	policy   string
	actions  string
	episodes int
	seed     int64
	maxSteps int
	gamma    float64
	record   string
	render   bool
}

func newRolloutCmd(out io.Writer) *cobra.Command {
	opts := &rolloutOptions{}
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Play episodes in-process with a scripted or random policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Get()
			if !cmd.Flags().Changed("episodes") {
				opts.episodes = cfg.Rollout.Episodes
			}
			if !cmd.Flags().Changed("seed") {
				opts.seed = cfg.Rollout.Seed
			}
			if !cmd.Flags().Changed("max-steps") {
				opts.maxSteps = cfg.Rollout.MaxStepsPerEpisode
			}
			return runRollout(cmd, out, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.policy, "policy", "scripted", "Policy: scripted, random or safe-random")
	flags.StringVar(&opts.actions, "actions", defaultScript, "Comma separated actions for the scripted policy (0-3 or up/down/left/right)")
	flags.IntVar(&opts.episodes, "episodes", 1, "Number of episodes")
	flags.Int64Var(&opts.seed, "seed", 1, "Random policy seed")
	flags.IntVar(&opts.maxSteps, "max-steps", agent.DefaultMaxSteps, "Runner step cap per episode")
	flags.Float64Var(&opts.gamma, "gamma", experience.DefaultGamma, "Discount for reported returns")
	flags.StringVar(&opts.record, "record", "", "Directory to write transitions to as JSON lines")
	flags.BoolVar(&opts.render, "render", false, "Print the grid after every step")
	return cmd
}

func runRollout(cmd *cobra.Command, out io.Writer, cfg *config.Config, opts *rolloutOptions) error {
	logger := log.Logger
	settings, err := env.SettingsFromConfig(cfg.Env)
	if err != nil {
		return fmt.Errorf("environment settings: %w", err)
	}

	script, err := agent.ParseActions(opts.actions)
	if err != nil {
		return fmt.Errorf("--actions: %w", err)
	}
	policy, err := agent.NewPolicy(opts.policy, script, opts.seed)
	if err != nil {
		return err
	}

	bus := events.NewEventBusWithLogger(logger)
	e, err := env.New(env.WithSettings(settings), env.WithPublisher(bus), env.WithLogger(logger))
	if err != nil {
		return err
	}

	var buffer *experience.Buffer
	if opts.record != "" {
		capacity := opts.episodes * opts.maxSteps
		if capacity <= 0 {
			capacity = 1
		}
		buffer = experience.NewBuffer(capacity, logger)
		defer buffer.Close()
		bus.Subscribe(experience.NewCollector(settings.Layout, buffer, logger))
	}

	runnerOpts := []agent.RunnerOption{
		agent.WithMaxSteps(opts.maxSteps),
		agent.WithGamma(opts.gamma),
		agent.WithRunnerLogger(logger),
	}
	if opts.render {
		fmt.Fprintln(out, env.Legend())
		runnerOpts = append(runnerOpts, agent.WithStepHook(func(step int, a core.Action, res env.StepResult) {
			fmt.Fprintf(out, "\nstep %d: %s reward=%.1f\n%s", step, a, res.Reward, e.Render())
		}))
	}

	stats, err := agent.NewRunner(e, runnerOpts...).Evaluate(cmd.Context(), policy, opts.episodes)
	if err != nil {
		return err
	}

	for i, s := range stats.Summaries {
		fmt.Fprintf(out, "episode %d: outcome=%s steps=%d reward=%.1f return=%.3f\n",
			i+1, s.Outcome, s.Steps, s.TotalReward, s.DiscountedReturn)
	}
	fmt.Fprintf(out, "episodes=%d mean_reward=%.2f std_reward=%.2f min=%.1f max=%.1f mean_length=%.1f success_rate=%.2f\n",
		stats.Episodes, stats.MeanReward, stats.StdReward, stats.MinReward, stats.MaxReward,
		stats.MeanLength, stats.SuccessRate)

	if buffer != nil {
		transitions := buffer.GetAll()
		pstats, err := recordTransitions(cmd.Context(), opts.record, cfg.Experience.MaxFileSize, transitions, logger)
		if err != nil {
			return fmt.Errorf("record transitions: %w", err)
		}
		fmt.Fprintf(out, "recorded %d transitions in %d file(s) under %s\n",
			pstats.TotalWritten, pstats.FilesCreated, opts.record)
	}
	return nil
}
