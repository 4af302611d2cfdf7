package grid

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrEmpty        = errors.New("empty selection")
	ErrDisconnected = errors.New("selection is not edge-connected")
	ErrOutOfBounds  = errors.New("cell outside grid")
)

// OccupiedError reports the proposed cells that are already owned.
type OccupiedError struct {
	Cells []Cell
}

func (e *OccupiedError) Error() string {
	return fmt.Sprintf("%d cell(s) already sold", len(e.Cells))
}

// Validate checks a proposed selection against a caller-supplied occupancy
// snapshot: non-empty, in bounds, all cells available, and one edge-connected
// component. On success it returns the bounding box. Pure; no side effects,
// safe to call speculatively on every selection change.
func Validate(cells []Cell, occupied func(Cell) bool) (Bounds, error) {
	if len(cells) == 0 {
		return Bounds{}, ErrEmpty
	}
	member := make(map[Cell]struct{}, len(cells))
	var taken []Cell
	for _, c := range cells {
		if !c.InBounds() {
			return Bounds{}, fmt.Errorf("%w: %s", ErrOutOfBounds, c)
		}
		member[c] = struct{}{}
		if occupied != nil && occupied(c) {
			taken = append(taken, c)
		}
	}
	if len(taken) > 0 {
		SortCells(taken)
		return Bounds{}, &OccupiedError{Cells: taken}
	}
	if !connected(member) {
		return Bounds{}, ErrDisconnected
	}
	if len(cells) != len(member) {
		cells = Dedup(cells)
	}
	return BoundsOf(cells), nil
}

// connected runs a worklist BFS from an arbitrary member cell, stepping only
// into member cells (4-directional). The selection is connected iff every
// member is visited.
func connected(member map[Cell]struct{}) bool {
	var start Cell
	for c := range member {
		start = c
		break
	}
	visited := map[Cell]struct{}{start: {}}
	queue := []Cell{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range [4]Cell{
			{Col: cur.Col + 1, Row: cur.Row},
			{Col: cur.Col - 1, Row: cur.Row},
			{Col: cur.Col, Row: cur.Row + 1},
			{Col: cur.Col, Row: cur.Row - 1},
		} {
			if _, ok := member[n]; !ok {
				continue
			}
			if _, ok := visited[n]; ok {
				continue
			}
			visited[n] = struct{}{}
			queue = append(queue, n)
		}
	}
	return len(visited) == len(member)
}

// SortCells orders cells row-major for stable wire output.
func SortCells(cells []Cell) {
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Row != cells[j].Row {
			return cells[i].Row < cells[j].Row
		}
		return cells[i].Col < cells[j].Col
	})
}
