package models

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/mat"
)

// Fingerprint hashes the shape and values of a matrix. Memoised structures
// store it so that in-place edits to an embedding are detected.
func Fingerprint(m mat.Matrix) uint64 {
	if m == nil {
		return 0
	}
	if d, ok := m.(*mat.Dense); ok && d == nil {
		return 0
	}
	h := xxhash.New()
	r, c := m.Dims()
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(r))
	h.Write(buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(c))
	h.Write(buf[:])

	if d, ok := m.(*mat.Dense); ok && !d.IsEmpty() {
		raw := d.RawMatrix()
		row := make([]byte, 8*c)
		for i := 0; i < r; i++ {
			for j, v := range raw.Data[i*raw.Stride : i*raw.Stride+c] {
				binary.LittleEndian.PutUint64(row[8*j:], math.Float64bits(v))
			}
			h.Write(row)
		}
		return h.Sum64()
	}

	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(m.At(i, j)))
			h.Write(buf[:])
		}
	}
	return h.Sum64()
}
