package experience

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env"
	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

func TestSerializer_ObservationToMatrix(t *testing.T) {
	s := NewSerializer(2, 3)
	obs := env.Observation{{-1, 0, 1}, {2, 3, 4}}

	m, err := s.ObservationToMatrix(obs)
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, -1.0, m.At(0, 0))
	assert.Equal(t, 4.0, m.At(1, 2))

	_, err = s.ObservationToMatrix(env.Observation{{0}})
	assert.Error(t, err)
}

func TestSerializer_OneHot(t *testing.T) {
	s := NewSerializer(1, 3)

	m, err := s.OneHot([]int{-1, core.CellHazard.Code(), core.CellStart.Code()})
	require.NoError(t, err)

	rows, cols := m.Dims()
	assert.Equal(t, 3, rows)
	assert.Equal(t, NumChannels, cols)

	for i := 0; i < rows; i++ {
		assert.Equal(t, 1.0, mat.Sum(m.RowView(i)), "row %d", i)
	}
	assert.Equal(t, 1.0, m.At(0, ChannelAgent))
	assert.Equal(t, 1.0, m.At(1, core.CellHazard.Code()))
	assert.Equal(t, 1.0, m.At(2, core.CellStart.Code()))

	_, err = s.OneHot([]int{0, 9, 0})
	assert.Error(t, err)
	_, err = s.OneHot([]int{0})
	assert.Error(t, err)
}

func TestSerializer_StateToTensor(t *testing.T) {
	s := NewSerializer(1, 2)

	tensor, err := s.StateToTensor([]int{-1, core.CellGoal.Code()})
	require.NoError(t, err)
	require.Len(t, tensor, NumChannels*2)

	// channel-major: [channel][cell]
	assert.Equal(t, float32(1), tensor[ChannelAgent*2+0])
	assert.Equal(t, float32(1), tensor[core.CellGoal.Code()*2+1])
	assert.Equal(t, []int32{int32(NumChannels), 1, 2}, s.TensorShape())
}

func TestSerializer_Vector(t *testing.T) {
	s := NewSerializer(1, 2)

	v, err := s.Vector([]int{core.AgentMarker, core.MaxCellCode})
	require.NoError(t, err)
	assert.Equal(t, 0.0, v.AtVec(0))
	assert.Equal(t, 1.0, v.AtVec(1))
}

func TestSerializer_Batch(t *testing.T) {
	s := NewSerializer(2, 2)
	batch := []*Transition{createTestTransition("a", 1), createTestTransition("b", 2)}

	states, next, err := s.Batch(batch)
	require.NoError(t, err)
	r, c := states.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 4, c)
	assert.Equal(t, -1.0, states.At(0, 0))
	assert.Equal(t, -1.0, next.At(1, 1))

	_, _, err = s.Batch(nil)
	assert.Error(t, err)
	_, _, err = NewSerializer(3, 3).Batch(batch)
	assert.Error(t, err)
}

func TestSerializer_GenerateActionMask(t *testing.T) {
	s := NewSerializer(5, 5)
	e, err := env.New(env.WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	mask := s.GenerateActionMask(e.Observe())
	assert.Equal(t, []bool{false, true, false, true}, mask) // up, down, left, right from (0,0)

	assert.Equal(t, []bool{false, false, false, false}, s.GenerateActionMask(env.Observation{}))
}

func TestActionVectors(t *testing.T) {
	a, err := ActionFromVector(ActionToVector(core.ActionLeft))
	require.NoError(t, err)
	assert.Equal(t, core.ActionLeft, a)

	a, err = ActionFromVector(mat.NewVecDense(1, []float64{0.9}))
	require.NoError(t, err)
	assert.Equal(t, core.ActionDown, a)

	_, err = ActionFromVector(mat.NewVecDense(1, []float64{7}))
	assert.ErrorIs(t, err, core.ErrInvalidAction)
	_, err = ActionFromVector(mat.NewVecDense(2, nil))
	assert.ErrorIs(t, err, core.ErrInvalidAction)
}
