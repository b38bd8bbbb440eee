package core

import (
	"fmt"
	"strings"
)

// CellLabel is the semantic meaning of a grid cell
type CellLabel int

// Label codes double as the observation encoding
const (
	CellNeutral CellLabel = iota
	CellGoal
	CellHazard
	CellIssue
	CellEngaged
	CellStart
)

// AgentMarker replaces the agent's cell in an observation. It never collides with a label code.
const AgentMarker = -1

// MaxCellCode is the largest label code that can appear in an observation
const MaxCellCode = int(CellStart)

var cellSymbols = map[CellLabel]rune{
	CellNeutral: '.',
	CellGoal:    'G',
	CellHazard:  'H',
	CellIssue:   'I',
	CellEngaged: 'E',
	CellStart:   'S',
}

// AllLabels returns every label in code order
func AllLabels() []CellLabel {
	return []CellLabel{CellNeutral, CellGoal, CellHazard, CellIssue, CellEngaged, CellStart}
}

// Code returns the observation encoding of the label
func (l CellLabel) Code() int { return int(l) }

// Symbol returns the single character used in layout strings
func (l CellLabel) Symbol() rune {
	if r, ok := cellSymbols[l]; ok {
		return r
	}
	return '?'
}

func (l CellLabel) String() string {
	switch l {
	case CellNeutral:
		return "Neutral"
	case CellGoal:
		return "Goal"
	case CellHazard:
		return "Hazard"
	case CellIssue:
		return "Issue"
	case CellEngaged:
		return "Engaged"
	case CellStart:
		return "Start"
	default:
		return fmt.Sprintf("Unknown(%d)", int(l))
	}
}

// LabelFromSymbol maps a layout character back to its label
func LabelFromSymbol(r rune) (CellLabel, bool) {
	for label, sym := range cellSymbols {
		if sym == r {
			return label, true
		}
	}
	return 0, false
}

// ParseLabel converts a label name (as used in config keys) to a CellLabel
func ParseLabel(s string) (CellLabel, bool) {
	for _, l := range AllLabels() {
		if strings.EqualFold(l.String(), s) || string(l.Symbol()) == s {
			return l, true
		}
	}
	return 0, false
}
