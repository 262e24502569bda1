// Package integration defines the contract between the benchmark and batch
// integration methods, plus two in-process baselines and a wrapper for
// methods running as external processes.
package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"gonum.org/v1/gonum/mat"
)

// Adapter runs one integration method. It receives a private copy of the
// dataset and may modify it freely.
type Adapter interface {
	// Name returns the method name
	Name() string

	// Integrate corrects batch effects of batchKey. hvg, when non-empty,
	// restricts the genes the method should use.
	Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error)
}

// Output is what an adapter returns: a corrected dataset (same cells, same or
// fewer genes, optional embeddings), an embedding, or both.
type Output struct {
	Corrected     *models.Dataset
	Embedding     *mat.Dense
	EmbeddingName string // empty = X_emb
}

// AdapterError wraps every failure raised by an adapter
type AdapterError struct {
	Adapter string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Adapter, e.Err)
}

// Unwrap matches both ErrAdapter and the underlying cause.
func (e *AdapterError) Unwrap() []error {
	return []error{models.ErrAdapter, e.Err}
}

// Apply returns a copy of ds carrying the output. Corrected rows are matched
// to ds by cell name; a bare embedding must follow the row order of ds.
func (o *Output) Apply(ds *models.Dataset) (*models.Dataset, error) {
	if o == nil || (o.Corrected == nil && o.Embedding == nil) {
		return nil, fmt.Errorf("output has neither corrected data nor embedding: %w", models.ErrMissingField)
	}
	out := ds.Copy()

	if o.Corrected != nil {
		rows, err := rowOrder(ds.Cells, o.Corrected.Cells)
		if err != nil {
			return nil, err
		}
		if o.Corrected.X != nil {
			if err := out.SetExpression(o.Corrected.Genes, reorder(o.Corrected.X, rows)); err != nil {
				return nil, err
			}
		}
		for name, m := range o.Corrected.Obsm {
			if err := out.SetEmbedding(name, reorder(m, rows)); err != nil {
				return nil, err
			}
		}
	}

	if o.Embedding != nil {
		name := o.EmbeddingName
		if name == "" {
			name = models.EmbeddingKey
		}
		if err := out.SetEmbedding(name, mat.DenseCopyOf(o.Embedding)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Run checks the input, hands the adapter a copy of ds and applies its output
// to another copy. ds itself is never modified; every adapter failure,
// including a panic, comes back as an *AdapterError.
func Run(ctx context.Context, a Adapter, ds *models.Dataset, batchKey string, hvg []string) (result *models.Dataset, err error) {
	if err := CheckSanity(ds, batchKey, hvg); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &AdapterError{Adapter: a.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	out, err := a.Integrate(ctx, ds.Copy(), batchKey, hvg)
	if err != nil {
		var ae *AdapterError
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, &AdapterError{Adapter: a.Name(), Err: err}
	}

	result, err = out.Apply(ds)
	if err != nil {
		return nil, &AdapterError{Adapter: a.Name(), Err: err}
	}
	return result, nil
}

// CheckSanity verifies that ds has an expression matrix, a categorical batch
// column and every requested gene.
func CheckSanity(ds *models.Dataset, batchKey string, hvg []string) error {
	if _, err := ds.Expression(); err != nil {
		return err
	}
	if _, err := ds.Categorical(batchKey); err != nil {
		return fmt.Errorf("batch key: %w", err)
	}
	index := ds.GeneIndex()
	var absent []string
	for _, g := range hvg {
		if _, ok := index[g]; !ok {
			absent = append(absent, g)
		}
	}
	if len(absent) > 0 {
		return fmt.Errorf("%d of %d selected genes not in dataset (first %q): %w",
			len(absent), len(hvg), absent[0], models.ErrMissingField)
	}
	return nil
}

// SplitBatches returns one dataset per batch in sorted batch order, reduced
// to hvg when it is non-empty.
func SplitBatches(ds *models.Dataset, batchKey string, hvg []string) ([]*models.Dataset, error) {
	names, groups, err := ds.Groups(batchKey)
	if err != nil {
		return nil, err
	}
	source := ds
	if len(hvg) > 0 {
		if source, err = ds.SubsetGenes(hvg); err != nil {
			return nil, err
		}
	}

	parts := make([]*models.Dataset, len(names))
	for i, name := range names {
		parts[i] = source.Subset(groups[name])
	}
	return parts, nil
}

// rowOrder maps every cell of want to its row in got. Both must hold the same
// cell set.
func rowOrder(want, got []string) ([]int, error) {
	if len(want) != len(got) {
		return nil, fmt.Errorf("output has %d cells, input has %d: %w", len(got), len(want), models.ErrShapeMismatch)
	}
	index := make(map[string]int, len(got))
	for i, c := range got {
		index[c] = i
	}
	rows := make([]int, len(want))
	for i, c := range want {
		r, ok := index[c]
		if !ok {
			return nil, fmt.Errorf("cell %q missing from output: %w", c, models.ErrShapeMismatch)
		}
		rows[i] = r
	}
	return rows, nil
}

func reorder(m *mat.Dense, rows []int) *mat.Dense {
	_, c := m.Dims()
	out := mat.NewDense(len(rows), c, nil)
	for i, r := range rows {
		out.SetRow(i, m.RawRowView(r))
	}
	return out
}
