package core

import "fmt"

// RetryLimitPolicy decides the reward of the hazard entry that exhausts the retry budget
type RetryLimitPolicy string

const (
	// RetryLimitOverride replaces the hazard reward with RewardTable.RetryLimit
	RetryLimitOverride RetryLimitPolicy = "override"
	// RetryLimitKeep keeps the plain hazard reward on the terminating entry
	RetryLimitKeep RetryLimitPolicy = "keep"
)

// ParseRetryLimitPolicy validates a policy name
func ParseRetryLimitPolicy(s string) (RetryLimitPolicy, error) {
	switch RetryLimitPolicy(s) {
	case RetryLimitOverride, RetryLimitKeep:
		return RetryLimitPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown retry limit policy %q", s)
	}
}

// RewardTable maps cell labels to the reward for entering them
type RewardTable struct {
	Cells       map[CellLabel]float64
	InvalidMove float64
	RetryLimit  float64
}

// DefaultRewardTable returns the scanner rewards
func DefaultRewardTable() RewardTable {
	return RewardTable{
		Cells: map[CellLabel]float64{
			CellNeutral: 0,
			CellStart:   0,
			CellGoal:    10,
			CellHazard:  -5,
			CellIssue:   2,
			CellEngaged: 3,
		},
		InvalidMove: -1,
		RetryLimit:  -10,
	}
}

// For returns the reward for entering a cell with the given label. Missing labels score 0.
func (rt RewardTable) For(label CellLabel) float64 {
	return rt.Cells[label]
}

// Clone returns a deep copy so callers cannot mutate a table in use
func (rt RewardTable) Clone() RewardTable {
	cells := make(map[CellLabel]float64, len(rt.Cells))
	for k, v := range rt.Cells {
		cells[k] = v
	}
	return RewardTable{Cells: cells, InvalidMove: rt.InvalidMove, RetryLimit: rt.RetryLimit}
}

// Range returns the smallest and largest reward a single step can produce
func (rt RewardTable) Range() (min, max float64) {
	min, max = rt.InvalidMove, rt.InvalidMove
	consider := func(v float64) {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	for _, v := range rt.Cells {
		consider(v)
	}
	consider(rt.RetryLimit)
	return min, max
}

// Limits bounds an episode
type Limits struct {
	MaxRetries        int // hazard entries before termination
	MaxInvalidActions int // out-of-bounds attempts before truncation
	MaxSteps          int // steps before truncation, 0 disables
}

// DefaultLimits returns the scanner limits
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:        3,
		MaxInvalidActions: 3,
		MaxSteps:          100,
	}
}

// Validate checks the limits are usable
func (l Limits) Validate() error {
	if l.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1, got %d", l.MaxRetries)
	}
	if l.MaxInvalidActions < 1 {
		return fmt.Errorf("max invalid actions must be at least 1, got %d", l.MaxInvalidActions)
	}
	if l.MaxSteps < 0 {
		return fmt.Errorf("max steps must be non-negative, got %d", l.MaxSteps)
	}
	return nil
}
