package models

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Well-known embedding names
const (
	PCAKey       = "X_pca"
	EmbeddingKey = "X_emb"
)

// Dataset is a cells x genes expression matrix with per-cell metadata and
// named embeddings. Metrics treat it as read-only; derived columns are written
// to copies.
type Dataset struct {
	Cells []string              `json:"cells"`
	Genes []string              `json:"genes"`
	X     *mat.Dense            `json:"-"` // cells x genes, nil when only embeddings exist
	Obs   map[string]*Column    `json:"obs"`
	Obsm  map[string]*mat.Dense `json:"-"`

	mu    sync.Mutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	fingerprint uint64
	value       interface{}
}

// NewDataset creates a dataset over the given cells and genes. x may be nil.
func NewDataset(cells, genes []string, x *mat.Dense) (*Dataset, error) {
	ds := &Dataset{
		Cells: append([]string(nil), cells...),
		Genes: append([]string(nil), genes...),
		X:     x,
		Obs:   make(map[string]*Column),
		Obsm:  make(map[string]*mat.Dense),
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// NumCells returns the number of cells (rows)
func (d *Dataset) NumCells() int { return len(d.Cells) }

// NumGenes returns the number of genes (columns of X)
func (d *Dataset) NumGenes() int { return len(d.Genes) }

// SetObs attaches a metadata column, checking its length.
func (d *Dataset) SetObs(key string, col *Column) error {
	if col.Len() != d.NumCells() {
		return fmt.Errorf("column %q has %d rows, dataset has %d cells: %w", key, col.Len(), d.NumCells(), ErrShapeMismatch)
	}
	if d.Obs == nil {
		d.Obs = make(map[string]*Column)
	}
	d.Obs[key] = col
	return nil
}

// Column returns the named metadata column
func (d *Dataset) Column(key string) (*Column, error) {
	col, ok := d.Obs[key]
	if !ok || col == nil {
		return nil, missing("obs column %q", key)
	}
	return col, nil
}

// Categorical returns the named column, which must be categorical.
func (d *Dataset) Categorical(key string) (*Column, error) {
	col, err := d.Column(key)
	if err != nil {
		return nil, err
	}
	if col.Kind() != Categorical {
		return nil, fmt.Errorf("obs column %q is %s, want categorical: %w", key, col.Kind(), ErrPrecondition)
	}
	return col, nil
}

// Labels builds a label assignment from a categorical column.
func (d *Dataset) Labels(key string) (Labels, error) {
	col, err := d.Categorical(key)
	if err != nil {
		return nil, err
	}
	return LabelsFrom(d.Cells, col.Values)
}

// SetLabels writes a label assignment as a categorical column. Every cell must be labelled.
func (d *Dataset) SetLabels(key string, labels Labels) error {
	values := make([]string, d.NumCells())
	for i, c := range d.Cells {
		v, ok := labels[c]
		if !ok {
			return fmt.Errorf("cell %q has no label for %q: %w", c, key, ErrShapeMismatch)
		}
		values[i] = v
	}
	if len(labels) != d.NumCells() {
		return fmt.Errorf("labels cover %d cells, dataset has %d: %w", len(labels), d.NumCells(), ErrShapeMismatch)
	}
	return d.SetObs(key, NewCategorical(values))
}

// SetEmbedding attaches a named embedding and drops memoised structures.
func (d *Dataset) SetEmbedding(name string, m *mat.Dense) error {
	if m == nil {
		return fmt.Errorf("embedding %q is nil: %w", name, ErrMissingField)
	}
	if r, _ := m.Dims(); r != d.NumCells() {
		return fmt.Errorf("embedding %q has %d rows, dataset has %d cells: %w", name, r, d.NumCells(), ErrShapeMismatch)
	}
	if d.Obsm == nil {
		d.Obsm = make(map[string]*mat.Dense)
	}
	d.Obsm[name] = m
	d.InvalidateCache()
	return nil
}

// Embedding returns the named embedding
func (d *Dataset) Embedding(name string) (*mat.Dense, error) {
	m, ok := d.Obsm[name]
	if !ok || m == nil {
		return nil, missing("embedding %q", name)
	}
	return m, nil
}

// HasEmbedding reports whether the named embedding exists
func (d *Dataset) HasEmbedding(name string) bool {
	m, ok := d.Obsm[name]
	return ok && m != nil
}

// SetExpression replaces the expression matrix and drops memoised structures.
func (d *Dataset) SetExpression(genes []string, x *mat.Dense) error {
	if x != nil {
		r, c := x.Dims()
		if r != d.NumCells() || c != len(genes) {
			return fmt.Errorf("expression is %dx%d, want %dx%d: %w", r, c, d.NumCells(), len(genes), ErrShapeMismatch)
		}
	}
	d.Genes = append([]string(nil), genes...)
	d.X = x
	d.InvalidateCache()
	return nil
}

// Expression returns X, failing when it is absent or empty.
func (d *Dataset) Expression() (*mat.Dense, error) {
	if d.X == nil || d.NumGenes() == 0 || d.NumCells() == 0 {
		return nil, missing("expression matrix")
	}
	return d.X, nil
}

// GeneIndex maps gene name -> column of X
func (d *Dataset) GeneIndex() map[string]int {
	idx := make(map[string]int, len(d.Genes))
	for i, g := range d.Genes {
		idx[g] = i
	}
	return idx
}

// Groups returns, for a categorical column, the sorted categories and the row
// indices belonging to each.
func (d *Dataset) Groups(key string) ([]string, map[string][]int, error) {
	col, err := d.Categorical(key)
	if err != nil {
		return nil, nil, err
	}
	groups := make(map[string][]int)
	for i, v := range col.Values {
		groups[v] = append(groups[v], i)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)
	return names, groups, nil
}

// Subset returns a new dataset restricted to the given rows. Embeddings,
// columns and expression are copied; the memo cache is not.
func (d *Dataset) Subset(rows []int) *Dataset {
	out := &Dataset{
		Cells: make([]string, len(rows)),
		Genes: append([]string(nil), d.Genes...),
		Obs:   make(map[string]*Column, len(d.Obs)),
		Obsm:  make(map[string]*mat.Dense, len(d.Obsm)),
	}
	for i, r := range rows {
		out.Cells[i] = d.Cells[r]
	}
	if d.X != nil {
		out.X = subsetRows(d.X, rows)
	}
	for k, col := range d.Obs {
		out.Obs[k] = col.Subset(rows)
	}
	for k, m := range d.Obsm {
		out.Obsm[k] = subsetRows(m, rows)
	}
	return out
}

// SubsetGenes returns a copy restricted to the named genes, in the given order.
// Embeddings are dropped because they no longer describe the reduced matrix.
func (d *Dataset) SubsetGenes(genes []string) (*Dataset, error) {
	x, err := d.Expression()
	if err != nil {
		return nil, err
	}
	index := d.GeneIndex()
	cols := make([]int, len(genes))
	for i, g := range genes {
		c, ok := index[g]
		if !ok {
			return nil, missing("gene %q", g)
		}
		cols[i] = c
	}
	var sub *mat.Dense
	if len(cols) > 0 {
		sub = mat.NewDense(d.NumCells(), len(cols), nil)
		for r := 0; r < d.NumCells(); r++ {
			for j, c := range cols {
				sub.Set(r, j, x.At(r, c))
			}
		}
	}
	out := &Dataset{
		Cells: append([]string(nil), d.Cells...),
		Genes: append([]string(nil), genes...),
		X:     sub,
		Obs:   make(map[string]*Column, len(d.Obs)),
		Obsm:  make(map[string]*mat.Dense),
	}
	for k, col := range d.Obs {
		out.Obs[k] = col.Clone()
	}
	return out, nil
}

// Copy returns a deep working copy (without memoised structures).
func (d *Dataset) Copy() *Dataset {
	rows := make([]int, d.NumCells())
	for i := range rows {
		rows[i] = i
	}
	return d.Subset(rows)
}

// Validate checks the row-alignment invariants of the dataset
func (d *Dataset) Validate() error {
	var errs ValidationErrors

	seen := make(map[string]struct{}, len(d.Cells))
	for _, c := range d.Cells {
		if _, dup := seen[c]; dup {
			errs = append(errs, ValidationError{Field: "cells", Message: "duplicate cell name", Value: c})
			continue
		}
		seen[c] = struct{}{}
	}

	if d.X != nil {
		r, c := d.X.Dims()
		if r != d.NumCells() || c != d.NumGenes() {
			errs = append(errs, ValidationError{
				Field:   "X",
				Message: fmt.Sprintf("expression is %dx%d, want %dx%d", r, c, d.NumCells(), d.NumGenes()),
			})
		}
	}
	for k, col := range d.Obs {
		if col == nil {
			errs = append(errs, ValidationError{Field: "obs", Message: "nil column", Value: k, Kind: ErrMissingField})
			continue
		}
		if col.Len() != d.NumCells() {
			errs = append(errs, ValidationError{
				Field:   "obs",
				Message: fmt.Sprintf("column has %d rows, want %d", col.Len(), d.NumCells()),
				Value:   k,
			})
		}
	}
	for k, m := range d.Obsm {
		if m == nil {
			errs = append(errs, ValidationError{Field: "obsm", Message: "nil embedding", Value: k, Kind: ErrMissingField})
			continue
		}
		if r, _ := m.Dims(); r != d.NumCells() {
			errs = append(errs, ValidationError{
				Field:   "obsm",
				Message: fmt.Sprintf("embedding has %d rows, want %d", r, d.NumCells()),
				Value:   k,
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Memo returns the cached value for key if its fingerprint matches, otherwise
// builds, stores and returns a fresh one. The lock is held while building.
func (d *Dataset) Memo(key string, fingerprint uint64, build func() (interface{}, error)) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.cache[key]; ok && e.fingerprint == fingerprint {
		return e.value, nil
	}
	v, err := build()
	if err != nil {
		return nil, err
	}
	if d.cache == nil {
		d.cache = make(map[string]cacheEntry)
	}
	d.cache[key] = cacheEntry{fingerprint: fingerprint, value: v}
	return v, nil
}

// InvalidateCache drops every memoised structure
func (d *Dataset) InvalidateCache() {
	d.mu.Lock()
	d.cache = nil
	d.mu.Unlock()
}

func subsetRows(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	if len(rows) == 0 || c == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
