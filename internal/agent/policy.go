// Package agent holds non-learning policies and the rollout runner used to drive
// environments from the command line and in tests.
package agent

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// Policy chooses an action for an observation
type Policy interface {
	Act(obs env.Observation) core.Action
}

// Resetter is implemented by policies that keep per-episode state
type Resetter interface {
	Reset()
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(obs env.Observation) core.Action

func (f PolicyFunc) Act(obs env.Observation) core.Action { return f(obs) }

// ScriptedPolicy replays a fixed action sequence, wrapping around at the end
type ScriptedPolicy struct {
	actions []core.Action
	next    int
}

// NewScriptedPolicy creates a policy that plays actions in order
func NewScriptedPolicy(actions ...core.Action) (*ScriptedPolicy, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("scripted policy needs at least one action")
	}
	for _, a := range actions {
		if !a.IsValid() {
			return nil, fmt.Errorf("scripted policy: %w: %d", core.ErrInvalidAction, int(a))
		}
	}
	return &ScriptedPolicy{actions: append([]core.Action(nil), actions...)}, nil
}

func (p *ScriptedPolicy) Act(env.Observation) core.Action {
	a := p.actions[p.next%len(p.actions)]
	p.next++
	return a
}

// Reset restarts the script
func (p *ScriptedPolicy) Reset() { p.next = 0 }

// RandomPolicy picks uniformly among actions. With safe set it only picks moves
// that stay on the grid.
type RandomPolicy struct {
	mu   sync.Mutex
	rng  *rand.Rand
	safe bool
}

// NewRandomPolicy creates a seeded uniform random policy
func NewRandomPolicy(seed int64) *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewSource(seed))}
}

// NewSafeRandomPolicy is NewRandomPolicy restricted to in-bounds moves
func NewSafeRandomPolicy(seed int64) *RandomPolicy {
	p := NewRandomPolicy(seed)
	p.safe = true
	return p
}

func (p *RandomPolicy) Act(obs env.Observation) core.Action {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.safe {
		if legal := legalActions(obs); len(legal) > 0 {
			return legal[p.rng.Intn(len(legal))]
		}
	}
	return core.Action(p.rng.Intn(core.NumActions))
}

func legalActions(obs env.Observation) []core.Action {
	pos, ok := PathFromObservation(obs)
	if !ok {
		return nil
	}
	var legal []core.Action
	for _, a := range core.AllActions() {
		if pos.Move(a).IsValid(obs.Rows(), obs.Cols()) {
			legal = append(legal, a)
		}
	}
	return legal
}

// PathFromObservation recovers the agent cell from the sentinel in an observation
func PathFromObservation(obs env.Observation) (core.Coordinate, bool) {
	return obs.AgentPosition()
}

// ParseActions reads a comma separated action list such as "3,3,down,r"
func ParseActions(s string) ([]core.Action, error) {
	var actions []core.Action
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, err := core.ParseAction(part)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// NewPolicy builds a policy by name: "scripted", "random" or "safe-random"
func NewPolicy(name string, script []core.Action, seed int64) (Policy, error) {
	switch strings.ToLower(name) {
	case "scripted":
		return NewScriptedPolicy(script...)
	case "random":
		return NewRandomPolicy(seed), nil
	case "safe-random", "safe_random":
		return NewSafeRandomPolicy(seed), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}
