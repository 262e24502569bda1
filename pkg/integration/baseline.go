package integration

import (
	"context"
	"fmt"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/gilchrisn/scib-benchmark/pkg/pca"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Unintegrated is the no-op reference: the data is returned unchanged with its
// PCA as embedding.
type Unintegrated struct {
	NComps int // 0 = pca.DefaultComps
}

func (u *Unintegrated) Name() string { return "unintegrated" }

func (u *Unintegrated) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	src := ds
	if len(hvg) > 0 {
		var err error
		if src, err = ds.SubsetGenes(hvg); err != nil {
			return nil, err
		}
	}
	nComps := u.NComps
	if nComps <= 0 {
		nComps = pca.DefaultComps
	}
	res, err := pca.ForDataset(src, nComps)
	if err != nil {
		return nil, err
	}
	return &Output{Corrected: src, Embedding: res.Scores, EmbeddingName: models.PCAKey}, nil
}

// Centered subtracts every batch's per-gene mean expression. It removes
// additive batch shifts only and serves as a lower bound for real methods.
type Centered struct{}

func (c *Centered) Name() string { return "centered" }

func (c *Centered) Integrate(ctx context.Context, ds *models.Dataset, batchKey string, hvg []string) (*Output, error) {
	parts, err := SplitBatches(ds, batchKey, hvg)
	if err != nil {
		return nil, err
	}

	genes := parts[0].Genes
	cells := make([]string, 0, ds.NumCells())
	var blocks []*mat.Dense
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := part.Expression()
		if err != nil {
			return nil, err
		}
		r, g := x.Dims()
		centred := mat.NewDense(r, g, nil)
		for j := 0; j < g; j++ {
			col := mat.Col(nil, j, x)
			mean := stat.Mean(col, nil)
			for i, v := range col {
				centred.Set(i, j, v-mean)
			}
		}
		cells = append(cells, part.Cells...)
		blocks = append(blocks, centred)
	}

	x := mat.NewDense(len(cells), len(genes), nil)
	row := 0
	for _, b := range blocks {
		r, _ := b.Dims()
		for i := 0; i < r; i++ {
			x.SetRow(row, b.RawRowView(i))
			row++
		}
	}

	corrected, err := models.NewDataset(cells, genes, x)
	if err != nil {
		return nil, fmt.Errorf("concatenating batches: %w", err)
	}
	return &Output{Corrected: corrected}, nil
}
