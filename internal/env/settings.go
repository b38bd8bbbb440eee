package env

import (
	"fmt"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/config"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// Settings is the static description of an environment: grid, rewards, limits and
// the reward policy for the retry-limit hit
type Settings struct {
	Layout           *core.Layout
	Rewards          core.RewardTable
	Limits           core.Limits
	RetryLimitPolicy core.RetryLimitPolicy
}

// DefaultSettings returns the standard scanner environment
func DefaultSettings() Settings {
	return Settings{
		Layout:           core.DefaultLayout(),
		Rewards:          core.DefaultRewardTable(),
		Limits:           core.DefaultLimits(),
		RetryLimitPolicy: core.RetryLimitOverride,
	}
}

// Validate checks the settings are usable
func (s Settings) Validate() error {
	if s.Layout == nil {
		return fmt.Errorf("%w: layout is required", core.ErrInvalidLayout)
	}
	if err := s.Limits.Validate(); err != nil {
		return err
	}
	if _, err := core.ParseRetryLimitPolicy(string(s.RetryLimitPolicy)); err != nil {
		return err
	}
	return nil
}

// SettingsFromConfig builds settings from the env section of the application config
func SettingsFromConfig(c config.EnvConfig) (Settings, error) {
	layout, err := core.NewLayout(c.Layout)
	if err != nil {
		return Settings{}, err
	}

	policy, err := core.ParseRetryLimitPolicy(c.RetryLimitPolicy)
	if err != nil {
		return Settings{}, err
	}

	s := Settings{
		Layout: layout,
		Rewards: core.RewardTable{
			Cells: map[core.CellLabel]float64{
				core.CellNeutral: c.Rewards.Neutral,
				core.CellStart:   c.Rewards.Start,
				core.CellGoal:    c.Rewards.Goal,
				core.CellHazard:  c.Rewards.Hazard,
				core.CellIssue:   c.Rewards.Issue,
				core.CellEngaged: c.Rewards.Engaged,
			},
			InvalidMove: c.Rewards.InvalidMove,
			RetryLimit:  c.Rewards.RetryLimit,
		},
		Limits: core.Limits{
			MaxRetries:        c.Limits.MaxRetries,
			MaxInvalidActions: c.Limits.MaxInvalidActions,
			MaxSteps:          c.Limits.MaxSteps,
		},
		RetryLimitPolicy: policy,
	}

	return s, s.Validate()
}
