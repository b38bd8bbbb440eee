package core

import (
	"fmt"
	"strings"
)

// Action is one of the four discrete moves. The integer encoding is the one
// external trainers send: 0 Up, 1 Down, 2 Left, 3 Right.
type Action int

const (
	ActionUp Action = iota
	ActionDown
	ActionLeft
	ActionRight
)

// NumActions is the size of the discrete action space
const NumActions = 4

// actionDeltas provides the unit displacement for each action
var actionDeltas = [NumActions]Coordinate{
	ActionUp:    {Row: -1, Col: 0},
	ActionDown:  {Row: 1, Col: 0},
	ActionLeft:  {Row: 0, Col: -1},
	ActionRight: {Row: 0, Col: 1},
}

// AllActions returns every action in encoding order
func AllActions() []Action {
	return []Action{ActionUp, ActionDown, ActionLeft, ActionRight}
}

// IsValid reports whether the action is part of the action space
func (a Action) IsValid() bool {
	return a >= 0 && a < NumActions
}

// Delta returns the unit displacement of the action. Invalid actions have no displacement.
func (a Action) Delta() Coordinate {
	if !a.IsValid() {
		return Coordinate{}
	}
	return actionDeltas[a]
}

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "Up"
	case ActionDown:
		return "Down"
	case ActionLeft:
		return "Left"
	case ActionRight:
		return "Right"
	default:
		return fmt.Sprintf("Unknown(%d)", int(a))
	}
}

// ActionFromInt validates a raw action value as sent by a trainer
func ActionFromInt(v int) (Action, error) {
	a := Action(v)
	if !a.IsValid() {
		return 0, fmt.Errorf("%w: %d not in [0,%d)", ErrInvalidAction, v, NumActions)
	}
	return a, nil
}

// ParseAction accepts either a numeric encoding or a case-insensitive name
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "up", "u":
		return ActionUp, nil
	case "1", "down", "d":
		return ActionDown, nil
	case "2", "left", "l":
		return ActionLeft, nil
	case "3", "right", "r":
		return ActionRight, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAction, s)
	}
}
