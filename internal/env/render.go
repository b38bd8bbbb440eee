package env

import (
	"fmt"
	"strings"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// AgentSymbol marks the agent in text renders
const AgentSymbol = 'A'

// Render draws the grid as text with the agent shown as 'A', followed by the episode counters
func (e *Environment) Render() string {
	var sb strings.Builder

	sb.WriteString("   ")
	for c := 0; c < e.layout.Cols(); c++ {
		sb.WriteString(fmt.Sprintf("%2d", c))
	}
	sb.WriteString("\n")

	for r := 0; r < e.layout.Rows(); r++ {
		sb.WriteString(fmt.Sprintf("%2d ", r))
		for c := 0; c < e.layout.Cols(); c++ {
			pos := core.NewCoordinate(r, c)
			symbol := e.cellAt(pos).Symbol()
			if pos == e.pos {
				symbol = AgentSymbol
			}
			sb.WriteString(" ")
			sb.WriteRune(symbol)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("step=%d retries=%d/%d invalid=%d/%d reward=%.1f phase=%s\n",
		e.counters.StepCount,
		e.counters.RetryCount, e.settings.Limits.MaxRetries,
		e.counters.InvalidActionCount, e.settings.Limits.MaxInvalidActions,
		e.totalReward,
		e.Phase(),
	))

	return sb.String()
}

// Legend describes the symbols used by Render
func Legend() string {
	parts := make([]string, 0, len(core.AllLabels())+1)
	for _, l := range core.AllLabels() {
		parts = append(parts, fmt.Sprintf("%c=%s", l.Symbol(), strings.ToLower(l.String())))
	}
	parts = append(parts, fmt.Sprintf("%c=agent", AgentSymbol))
	return strings.Join(parts, " ")
}
