// Package worldmap supplies the map-side collaborators the sync core
// consumes: world bounds with clamping, and a per-pixel walkability
// predicate backed by a cell grid. Map authoring itself lives elsewhere;
// this package only interprets its output.
package worldmap

import "math"

// WalkableFunc reports whether the pixel position can be stood on. Map data
// supplies one; the client motion controller consults it before each step.
// The server never does (client-authoritative collision, by contract).
type WalkableFunc func(x, y float64) bool

// Bounds describes the world rectangle [0, Width) x [0, Height).
type Bounds struct {
	Width  float64
	Height float64
}

// Clamp forces a position into bounds. The upper edge clamps to the last
// whole pixel so stored positions stay strictly inside the half-open range.
func (b Bounds) Clamp(x, y float64) (float64, float64) {
	x = math.Max(0, math.Min(x, b.Width-1))
	y = math.Max(0, math.Min(y, b.Height-1))
	return x, y
}

// Contains reports whether the position is inside the world rectangle.
func (b Bounds) Contains(x, y float64) bool {
	return x >= 0 && x < b.Width && y >= 0 && y < b.Height
}

// CenterX and CenterY give the default spawn point.
func (b Bounds) CenterX() float64 { return b.Width / 2 }
func (b Bounds) CenterY() float64 { return b.Height / 2 }

// Grid is a cell-based collision map. Cells default to walkable; map data
// marks the blocked ones.
type Grid struct {
	bounds   Bounds
	cellSize float64
	cols     int
	rows     int
	blocked  []bool
}

// NewGrid creates an all-walkable grid over the given bounds.
func NewGrid(bounds Bounds, cellSize float64) *Grid {
	cols := int(math.Ceil(bounds.Width / cellSize))
	rows := int(math.Ceil(bounds.Height / cellSize))
	return &Grid{
		bounds:   bounds,
		cellSize: cellSize,
		cols:     cols,
		rows:     rows,
		blocked:  make([]bool, cols*rows),
	}
}

// Bounds returns the world rectangle the grid covers.
func (g *Grid) Bounds() Bounds { return g.bounds }

// Block marks one cell as unwalkable. Out-of-range cells are ignored.
func (g *Grid) Block(col, row int) {
	if col < 0 || col >= g.cols || row < 0 || row >= g.rows {
		return
	}
	g.blocked[row*g.cols+col] = true
}

// IsWalkable reports whether the pixel position is inside the world and not
// on a blocked cell.
func (g *Grid) IsWalkable(x, y float64) bool {
	if !g.bounds.Contains(x, y) {
		return false
	}
	col := int(x / g.cellSize)
	row := int(y / g.cellSize)
	if col >= g.cols || row >= g.rows {
		return false
	}
	return !g.blocked[row*g.cols+col]
}
