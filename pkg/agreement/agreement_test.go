package agreement

import (
	"fmt"
	"testing"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func labels(values ...string) models.Labels {
	l := make(models.Labels, len(values))
	for i, v := range values {
		l[fmt.Sprintf("c%02d", i)] = v
	}
	return l
}

func TestNMI(t *testing.T) {
	tests := []struct {
		name string
		a, b models.Labels
		want float64
	}{
		{"identical", labels("x", "x", "y", "y"), labels("x", "x", "y", "y"), 1},
		{"renamed", labels("x", "x", "y", "y"), labels("p", "p", "q", "q"), 1},
		{"both single cluster", labels("x", "x", "x"), labels("y", "y", "y"), 1},
		{"independent", labels("x", "x", "y", "y"), labels("p", "q", "p", "q"), 0},
		{"one side single", labels("x", "x", "y", "y"), labels("p", "p", "p", "p"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NMI(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestNMIRange(t *testing.T) {
	a := labels("a", "a", "a", "b", "b", "c", "c", "c", "c")
	b := labels("x", "x", "y", "y", "y", "z", "z", "x", "z")
	got, err := NMI(a, b)
	require.NoError(t, err)
	assert.Greater(t, got, 0.0)
	assert.Less(t, got, 1.0)

	sym, err := NMI(b, a)
	require.NoError(t, err)
	assert.InDelta(t, got, sym, 1e-12)
}

func TestARI(t *testing.T) {
	tests := []struct {
		name string
		a, b models.Labels
		want float64
	}{
		{"identical", labels("x", "x", "y", "y"), labels("x", "x", "y", "y"), 1},
		{"renamed", labels("x", "y", "y", "z"), labels("3", "1", "1", "2"), 1},
		{"both single cluster", labels("x", "x", "x"), labels("y", "y", "y"), 1},
		{"both singletons", labels("a", "b", "c"), labels("d", "e", "f"), 1},
		// sklearn: adjusted_rand_score([0,0,1,1],[0,1,0,1]) == -0.5
		{"anti-correlated", labels("x", "x", "y", "y"), labels("p", "q", "p", "q"), -0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ARI(tt.a, tt.b)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestMismatchedCells(t *testing.T) {
	a := models.Labels{"c1": "x", "c2": "y"}
	b := models.Labels{"c1": "x", "c3": "y"}

	_, err := NMI(a, b)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	_, err = ARI(a, models.Labels{"c1": "x"})
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = NMI(models.Labels{}, models.Labels{})
	assert.ErrorIs(t, err, models.ErrPrecondition)
}

func TestMaxF1(t *testing.T) {
	reference := labels("rare", "rare", "common", "common", "common", "common")
	clusters := labels("0", "0", "0", "1", "1", "1")

	// cluster 0 holds both rare cells and one common: p = 2/3, r = 1
	got, err := MaxF1(clusters, reference, "rare")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, got, 1e-12)

	_, err = MaxF1(clusters, reference, "absent")
	assert.ErrorIs(t, err, models.ErrPrecondition)
}
