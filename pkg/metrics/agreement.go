// Package metrics scores integrated single-cell datasets for batch mixing
// and conservation of biological signal.
package metrics

import (
	"github.com/gilchrisn/scib-benchmark/pkg/agreement"
	"github.com/gilchrisn/scib-benchmark/pkg/models"
)

// NMI returns the normalised mutual information of two labelings in [0,1]
func NMI(a, b models.Labels) (float64, error) {
	return agreement.NMI(a, b)
}

// ARI returns the adjusted Rand index of two labelings
func ARI(a, b models.Labels) (float64, error) {
	return agreement.ARI(a, b)
}

// NMIKeys compares two categorical columns of the same dataset
func NMIKeys(ds *models.Dataset, key1, key2 string) (float64, error) {
	a, b, err := labelPair(ds, key1, key2)
	if err != nil {
		return 0, err
	}
	return agreement.NMI(a, b)
}

// ARIKeys compares two categorical columns of the same dataset
func ARIKeys(ds *models.Dataset, key1, key2 string) (float64, error) {
	a, b, err := labelPair(ds, key1, key2)
	if err != nil {
		return 0, err
	}
	return agreement.ARI(a, b)
}

func labelPair(ds *models.Dataset, key1, key2 string) (models.Labels, models.Labels, error) {
	a, err := ds.Labels(key1)
	if err != nil {
		return nil, nil, err
	}
	b, err := ds.Labels(key2)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
