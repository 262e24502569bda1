package models

import (
	"fmt"
	"sort"
)

// Labels is a label assignment: cell name -> categorical value.
// Two assignments are comparable only over identical key sets.
type Labels map[string]string

// Cells returns the cell names in sorted order
func (l Labels) Cells() []string {
	cells := make([]string, 0, len(l))
	for c := range l {
		cells = append(cells, c)
	}
	sort.Strings(cells)
	return cells
}

// Categories returns the sorted distinct labels
func (l Labels) Categories() []string {
	seen := make(map[string]struct{})
	for _, v := range l {
		seen[v] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)
	return cats
}

// LabelsFrom zips cell names and values into a Labels map.
func LabelsFrom(cells, values []string) (Labels, error) {
	if len(cells) != len(values) {
		return nil, fmt.Errorf("%d cells but %d labels: %w", len(cells), len(values), ErrShapeMismatch)
	}
	l := make(Labels, len(cells))
	for i, c := range cells {
		if _, dup := l[c]; dup {
			return nil, fmt.Errorf("duplicate cell name %q: %w", c, ErrShapeMismatch)
		}
		l[c] = values[i]
	}
	return l, nil
}

// Align returns the values of a and b over their shared cells in a common
// (sorted) order. The key sets must be identical.
func Align(a, b Labels) ([]string, []string, error) {
	if len(a) != len(b) {
		return nil, nil, fmt.Errorf("label sets cover %d and %d cells: %w", len(a), len(b), ErrShapeMismatch)
	}
	cells := a.Cells()
	va := make([]string, len(cells))
	vb := make([]string, len(cells))
	for i, c := range cells {
		v, ok := b[c]
		if !ok {
			return nil, nil, fmt.Errorf("cell %q missing from second label set: %w", c, ErrShapeMismatch)
		}
		va[i] = a[c]
		vb[i] = v
	}
	return va, vb, nil
}
