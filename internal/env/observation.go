package env

import "github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"

// Observation is the grid in label codes with the agent's cell set to core.AgentMarker.
// Every call that returns one hands out an independent copy.
type Observation [][]int

func (o Observation) Rows() int { return len(o) }

func (o Observation) Cols() int {
	if len(o) == 0 {
		return 0
	}
	return len(o[0])
}

// AgentPosition locates the sentinel cell. ok is false when no cell carries it.
func (o Observation) AgentPosition() (pos core.Coordinate, ok bool) {
	for r, row := range o {
		for c, v := range row {
			if v == core.AgentMarker {
				return core.NewCoordinate(r, c), true
			}
		}
	}
	return core.Coordinate{}, false
}

// Flatten returns the observation in row-major order
func (o Observation) Flatten() []int {
	out := make([]int, 0, o.Rows()*o.Cols())
	for _, row := range o {
		out = append(out, row...)
	}
	return out
}

// Clone returns a deep copy
func (o Observation) Clone() Observation {
	out := make(Observation, len(o))
	for i, row := range o {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// ObservationFromFlat rebuilds an observation from its row-major form
func ObservationFromFlat(flat []int, rows, cols int) (Observation, bool) {
	if rows <= 0 || cols <= 0 || len(flat) != rows*cols {
		return nil, false
	}
	out := make(Observation, rows)
	for r := 0; r < rows; r++ {
		out[r] = append([]int(nil), flat[r*cols:(r+1)*cols]...)
	}
	return out, true
}
