package experience

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// ChannelAgent is the one-hot channel of the agent cell. Label channels use the label code.
const ChannelAgent = core.MaxCellCode + 1

// NumChannels is the depth of a one-hot encoded observation
const NumChannels = ChannelAgent + 1

// Serializer converts observations into numeric encodings for external trainers
type Serializer struct {
	rows, cols int
}

// NewSerializer creates a serializer for rows x cols observations
func NewSerializer(rows, cols int) *Serializer {
	return &Serializer{rows: rows, cols: cols}
}

// Cells returns rows*cols
func (s *Serializer) Cells() int { return s.rows * s.cols }

// ObservationToMatrix returns the observation as a rows x cols matrix of codes
func (s *Serializer) ObservationToMatrix(obs env.Observation) (*mat.Dense, error) {
	if err := s.checkShape(obs.Rows(), obs.Cols()); err != nil {
		return nil, err
	}
	m := mat.NewDense(s.rows, s.cols, nil)
	for r, row := range obs {
		for c, v := range row {
			m.Set(r, c, float64(v))
		}
	}
	return m, nil
}

// OneHot encodes the observation as a (rows*cols) x NumChannels matrix. Each row has
// exactly one 1: the label channel of the cell, or ChannelAgent for the agent cell.
func (s *Serializer) OneHot(flat []int) (*mat.Dense, error) {
	if len(flat) != s.Cells() {
		return nil, fmt.Errorf("observation has %d cells, expected %d", len(flat), s.Cells())
	}
	m := mat.NewDense(s.Cells(), NumChannels, nil)
	for i, v := range flat {
		ch, err := channelFor(v)
		if err != nil {
			return nil, fmt.Errorf("cell %d: %w", i, err)
		}
		m.Set(i, ch, 1)
	}
	return m, nil
}

// StateToTensor is OneHot laid out channel-major (C x H x W) as float32
func (s *Serializer) StateToTensor(flat []int) ([]float32, error) {
	oh, err := s.OneHot(flat)
	if err != nil {
		return nil, err
	}
	cells := s.Cells()
	tensor := make([]float32, NumChannels*cells)
	for i := 0; i < cells; i++ {
		for ch := 0; ch < NumChannels; ch++ {
			tensor[ch*cells+i] = float32(oh.At(i, ch))
		}
	}
	return tensor, nil
}

// TensorShape returns the shape of StateToTensor output
func (s *Serializer) TensorShape() []int32 {
	return []int32{int32(NumChannels), int32(s.rows), int32(s.cols)}
}

// Vector returns the flattened observation scaled to [0, 1] by code range
func (s *Serializer) Vector(flat []int) (*mat.VecDense, error) {
	if len(flat) != s.Cells() {
		return nil, fmt.Errorf("observation has %d cells, expected %d", len(flat), s.Cells())
	}
	span := float64(core.MaxCellCode - core.AgentMarker)
	v := mat.NewVecDense(len(flat), nil)
	for i, code := range flat {
		v.SetVec(i, float64(code-core.AgentMarker)/span)
	}
	return v, nil
}

// Batch stacks the observations and next observations of transitions as matrix rows
func (s *Serializer) Batch(transitions []*Transition) (states, next *mat.Dense, err error) {
	if len(transitions) == 0 {
		return nil, nil, fmt.Errorf("empty batch")
	}
	states = mat.NewDense(len(transitions), s.Cells(), nil)
	next = mat.NewDense(len(transitions), s.Cells(), nil)
	for i, t := range transitions {
		if len(t.Observation) != s.Cells() || len(t.NextObservation) != s.Cells() {
			return nil, nil, fmt.Errorf("transition %d: observation size mismatch", i)
		}
		for j := 0; j < s.Cells(); j++ {
			states.Set(i, j, float64(t.Observation[j]))
			next.Set(i, j, float64(t.NextObservation[j]))
		}
	}
	return states, next, nil
}

// GenerateActionMask marks the actions that keep the agent on the grid
func (s *Serializer) GenerateActionMask(obs env.Observation) []bool {
	mask := make([]bool, core.NumActions)
	pos, ok := obs.AgentPosition()
	if !ok {
		return mask
	}
	for _, a := range core.AllActions() {
		mask[a] = pos.Move(a).IsValid(s.rows, s.cols)
	}
	return mask
}

// ActionFromVector decodes a one-element action vector, rounding to the nearest action
func ActionFromVector(v mat.Vector) (core.Action, error) {
	if v.Len() != 1 {
		return 0, fmt.Errorf("%w: action vector has length %d", core.ErrInvalidAction, v.Len())
	}
	return core.ActionFromInt(int(math.Round(v.AtVec(0))))
}

// ActionToVector encodes an action as a one-element vector
func ActionToVector(a core.Action) *mat.VecDense {
	return mat.NewVecDense(1, []float64{float64(a)})
}

func (s *Serializer) checkShape(rows, cols int) error {
	if rows != s.rows || cols != s.cols {
		return fmt.Errorf("observation is %dx%d, expected %dx%d", rows, cols, s.rows, s.cols)
	}
	return nil
}

func channelFor(code int) (int, error) {
	if code == core.AgentMarker {
		return ChannelAgent, nil
	}
	if code < 0 || code > core.MaxCellCode {
		return 0, fmt.Errorf("unknown cell code %d", code)
	}
	return code, nil
}
