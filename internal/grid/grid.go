package grid

import "fmt"

// Size is the edge length of the sellable grid. The grid is fixed at
// Size x Size cells for the lifetime of the process.
const Size = 100

// Capacity is the total number of sellable cells.
const Capacity = Size * Size

// Cell addresses one 1x1 block of the grid. Used only as a value/key.
type Cell struct {
	Col int `json:"col"`
	Row int `json:"row"`
}

func (c Cell) InBounds() bool {
	return c.Col >= 0 && c.Col < Size && c.Row >= 0 && c.Row < Size
}

func (c Cell) String() string { return fmt.Sprintf("(%d,%d)", c.Col, c.Row) }

// Bounds is the smallest axis-aligned box containing a region. Derived at
// commit time, never mutated afterward.
type Bounds struct {
	MinCol int `json:"min_col"`
	MinRow int `json:"min_row"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b Bounds) Contains(c Cell) bool {
	return c.Col >= b.MinCol && c.Col < b.MinCol+b.Width &&
		c.Row >= b.MinRow && c.Row < b.MinRow+b.Height
}

// BoundsOf computes the bounding box of a non-empty cell list.
func BoundsOf(cells []Cell) Bounds {
	minC, minR := cells[0].Col, cells[0].Row
	maxC, maxR := minC, minR
	for _, c := range cells[1:] {
		if c.Col < minC {
			minC = c.Col
		}
		if c.Col > maxC {
			maxC = c.Col
		}
		if c.Row < minR {
			minR = c.Row
		}
		if c.Row > maxR {
			maxR = c.Row
		}
	}
	return Bounds{MinCol: minC, MinRow: minR, Width: maxC - minC + 1, Height: maxR - minR + 1}
}

// Dedup returns the cells with duplicates removed, preserving first-seen
// order. Client selections may repeat a cell; a region never does.
func Dedup(cells []Cell) []Cell {
	seen := make(map[Cell]struct{}, len(cells))
	out := cells[:0:0]
	for _, c := range cells {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
