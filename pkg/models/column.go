package models

import (
	"fmt"
	"sort"
	"strconv"
)

// ColumnKind distinguishes categorical from numeric per-cell metadata
type ColumnKind int

const (
	Categorical ColumnKind = iota
	Numeric
)

func (k ColumnKind) String() string {
	switch k {
	case Categorical:
		return "categorical"
	case Numeric:
		return "numeric"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// Column is one per-cell metadata field. Exactly one of Values / Numbers is set,
// according to Kind.
type Column struct {
	kind    ColumnKind
	Values  []string  `json:"values,omitempty"`
	Numbers []float64 `json:"numbers,omitempty"`
}

// NewCategorical creates a categorical column. The slice is copied.
func NewCategorical(values []string) *Column {
	v := make([]string, len(values))
	copy(v, values)
	return &Column{kind: Categorical, Values: v}
}

// NewNumeric creates a numeric column. The slice is copied.
func NewNumeric(numbers []float64) *Column {
	v := make([]float64, len(numbers))
	copy(v, numbers)
	return &Column{kind: Numeric, Numbers: v}
}

// Kind returns the column kind
func (c *Column) Kind() ColumnKind { return c.kind }

// Len returns the number of cells in the column
func (c *Column) Len() int {
	if c.kind == Numeric {
		return len(c.Numbers)
	}
	return len(c.Values)
}

// String renders the value at row i regardless of kind
func (c *Column) String(i int) string {
	if c.kind == Numeric {
		return strconv.FormatFloat(c.Numbers[i], 'g', -1, 64)
	}
	return c.Values[i]
}

// Categories returns the sorted distinct values of a categorical column.
// Numeric columns are rendered as strings.
func (c *Column) Categories() []string {
	seen := make(map[string]struct{})
	for i := 0; i < c.Len(); i++ {
		seen[c.String(i)] = struct{}{}
	}
	cats := make([]string, 0, len(seen))
	for v := range seen {
		cats = append(cats, v)
	}
	sort.Strings(cats)
	return cats
}

// Codes maps every row to the index of its value in Categories().
func (c *Column) Codes() ([]int, []string) {
	cats := c.Categories()
	index := make(map[string]int, len(cats))
	for i, v := range cats {
		index[v] = i
	}
	codes := make([]int, c.Len())
	for i := range codes {
		codes[i] = index[c.String(i)]
	}
	return codes, cats
}

// Subset returns a new column holding the given rows, in order
func (c *Column) Subset(rows []int) *Column {
	if c.kind == Numeric {
		out := make([]float64, len(rows))
		for i, r := range rows {
			out[i] = c.Numbers[r]
		}
		return &Column{kind: Numeric, Numbers: out}
	}
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = c.Values[r]
	}
	return &Column{kind: Categorical, Values: out}
}

// Clone creates a deep copy of the column
func (c *Column) Clone() *Column {
	if c.kind == Numeric {
		return NewNumeric(c.Numbers)
	}
	return NewCategorical(c.Values)
}
