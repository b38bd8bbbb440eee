package env

import "github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"

// ActionSpace describes a discrete action space
type ActionSpace struct {
	N int
}

// Contains reports whether v is a legal action encoding
func (s ActionSpace) Contains(v int) bool {
	return v >= 0 && v < s.N
}

// ObservationSpace describes the integer box observations live in
type ObservationSpace struct {
	Rows, Cols int
	Low, High  int
}

// Contains reports whether the observation has the right shape and value range
func (s ObservationSpace) Contains(o Observation) bool {
	if o.Rows() != s.Rows || o.Cols() != s.Cols {
		return false
	}
	for _, row := range o {
		if len(row) != s.Cols {
			return false
		}
		for _, v := range row {
			if v < s.Low || v > s.High {
				return false
			}
		}
	}
	return true
}

func (e *Environment) ActionSpace() ActionSpace {
	return ActionSpace{N: core.NumActions}
}

func (e *Environment) ObservationSpace() ObservationSpace {
	return ObservationSpace{
		Rows: e.layout.Rows(),
		Cols: e.layout.Cols(),
		Low:  core.AgentMarker,
		High: core.MaxCellCode,
	}
}
