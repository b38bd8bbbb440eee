package testutil

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// CorridorRows is a single row where moving right enters three hazards before the goal
var CorridorRows = []string{"SHHHG"}

// OpenRows returns an all-neutral grid with the start top-left and the goal bottom-right
func OpenRows(rows, cols int) []string {
	out := make([]string, rows)
	for r := range out {
		out[r] = strings.Repeat(string(core.CellNeutral.Symbol()), cols)
	}
	out[0] = string(core.CellStart.Symbol()) + out[0][1:]
	last := rows - 1
	out[last] = out[last][:cols-1] + string(core.CellGoal.Symbol())
	return out
}

// MustLayout parses rows or fails the test
func MustLayout(t testing.TB, rows ...string) *core.Layout {
	t.Helper()
	layout, err := core.NewLayout(rows)
	require.NoError(t, err)
	return layout
}
