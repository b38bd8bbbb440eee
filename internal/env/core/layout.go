package core

import (
	"fmt"
	"strings"
)

// DefaultLayoutRows is the scanner grid: start top left, engagement bonus top right,
// three poor-quality hazards across the middle, an issue cell and the goal bottom right.
var DefaultLayoutRows = []string{
	"S...E",
	".H.H.",
	"..H..",
	".I...",
	"....G",
}

// Layout is an immutable rows x cols table of cell labels
type Layout struct {
	rows, cols int
	cells      []CellLabel // row-major
	start      Coordinate
}

// NewLayout parses a layout from one string per row, one symbol per cell.
// Exactly one start cell and at least one goal cell are required.
func NewLayout(rows []string) (*Layout, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidLayout)
	}

	width := len([]rune(rows[0]))
	if width == 0 {
		return nil, fmt.Errorf("%w: empty first row", ErrInvalidLayout)
	}

	l := &Layout{
		rows:  len(rows),
		cols:  width,
		cells: make([]CellLabel, 0, len(rows)*width),
		start: Coordinate{Row: -1, Col: -1},
	}

	goals := 0
	for r, row := range rows {
		runes := []rune(row)
		if len(runes) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected %d", ErrInvalidLayout, r, len(runes), width)
		}
		for c, sym := range runes {
			label, ok := LabelFromSymbol(sym)
			if !ok {
				return nil, fmt.Errorf("%w: unknown symbol %q at (%d,%d)", ErrInvalidLayout, sym, r, c)
			}
			switch label {
			case CellStart:
				if l.start.Row >= 0 {
					return nil, fmt.Errorf("%w: second start cell at (%d,%d)", ErrInvalidLayout, r, c)
				}
				l.start = NewCoordinate(r, c)
			case CellGoal:
				goals++
			}
			l.cells = append(l.cells, label)
		}
	}

	if l.start.Row < 0 {
		return nil, fmt.Errorf("%w: no start cell", ErrInvalidLayout)
	}
	if goals == 0 {
		return nil, fmt.Errorf("%w: no goal cell", ErrInvalidLayout)
	}

	return l, nil
}

// DefaultLayout returns the standard 5x5 scanner layout
func DefaultLayout() *Layout {
	l, err := NewLayout(DefaultLayoutRows)
	if err != nil {
		panic("default layout is invalid: " + err.Error())
	}
	return l
}

func (l *Layout) Rows() int         { return l.rows }
func (l *Layout) Cols() int         { return l.cols }
func (l *Layout) Start() Coordinate { return l.start }

// Contains reports whether c lies inside the grid
func (l *Layout) Contains(c Coordinate) bool {
	return c.IsValid(l.rows, l.cols)
}

// At returns the label at c
func (l *Layout) At(c Coordinate) (CellLabel, error) {
	if !l.Contains(c) {
		return 0, fmt.Errorf("%w: %s", ErrOutOfBounds, c)
	}
	return l.cells[c.ToIndex(l.cols)], nil
}

// Codes returns a fresh copy of the grid in observation encoding
func (l *Layout) Codes() [][]int {
	grid := make([][]int, l.rows)
	for r := 0; r < l.rows; r++ {
		grid[r] = make([]int, l.cols)
		for c := 0; c < l.cols; c++ {
			grid[r][c] = l.cells[r*l.cols+c].Code()
		}
	}
	return grid
}

// CellsWith returns every coordinate carrying the given label, in row-major order
func (l *Layout) CellsWith(label CellLabel) []Coordinate {
	var out []Coordinate
	for i, cell := range l.cells {
		if cell == label {
			out = append(out, FromIndex(i, l.cols))
		}
	}
	return out
}

// Strings renders the layout back into its row-string form
func (l *Layout) Strings() []string {
	out := make([]string, l.rows)
	for r := 0; r < l.rows; r++ {
		var sb strings.Builder
		for c := 0; c < l.cols; c++ {
			sb.WriteRune(l.cells[r*l.cols+c].Symbol())
		}
		out[r] = sb.String()
	}
	return out
}
