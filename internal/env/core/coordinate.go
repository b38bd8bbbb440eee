package core

import "fmt"

// Coordinate is a (row, column) position on the grid, 0-indexed from the top left
type Coordinate struct {
	Row, Col int
}

// NewCoordinate creates a new coordinate with the given row and column
func NewCoordinate(row, col int) Coordinate {
	return Coordinate{Row: row, Col: col}
}

// FromIndex creates a coordinate from a row-major cell index
func FromIndex(idx, cols int) Coordinate {
	return Coordinate{
		Row: idx / cols,
		Col: idx % cols,
	}
}

// IsValid checks if the coordinate lies inside a rows x cols grid
func (c Coordinate) IsValid(rows, cols int) bool {
	return c.Row >= 0 && c.Row < rows && c.Col >= 0 && c.Col < cols
}

// ToIndex converts the coordinate to a row-major cell index
func (c Coordinate) ToIndex(cols int) int {
	return c.Row*cols + c.Col
}

// Add returns the sum of this coordinate and another
func (c Coordinate) Add(other Coordinate) Coordinate {
	return Coordinate{
		Row: c.Row + other.Row,
		Col: c.Col + other.Col,
	}
}

// DistanceTo calculates the Manhattan distance to another coordinate
func (c Coordinate) DistanceTo(other Coordinate) int {
	dr := c.Row - other.Row
	dc := c.Col - other.Col
	if dr < 0 {
		dr = -dr
	}
	if dc < 0 {
		dc = -dc
	}
	return dr + dc
}

// Move returns the coordinate one step away in the action's direction.
// The result is not bounds checked.
func (c Coordinate) Move(a Action) Coordinate {
	return c.Add(a.Delta())
}

func (c Coordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}
