package embedding

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch indicates a vector of the wrong dimension reached
// an index or query boundary.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionGuard validates vector dimensions at the boundaries where a
// mixed-model deployment would otherwise corrupt retrieval. A failed check
// is reported as a degradation by the caller, never a panic.
type DimensionGuard struct {
	dimension int
}

// NewDimensionGuard creates a guard for the configured dimension.
func NewDimensionGuard(dimension int) *DimensionGuard {
	if dimension <= 0 {
		dimension = 768
	}
	return &DimensionGuard{dimension: dimension}
}

// Dimension returns the guarded dimension.
func (g *DimensionGuard) Dimension() int {
	return g.dimension
}

// Check validates a single vector.
func (g *DimensionGuard) Check(vec []float32) error {
	if len(vec) != g.dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), g.dimension)
	}
	return nil
}

// CheckAll validates a batch and reports the first offending index.
func (g *DimensionGuard) CheckAll(vecs [][]float32) error {
	for i, v := range vecs {
		if len(v) != g.dimension {
			return fmt.Errorf("%w: vector %d has %d, want %d", ErrDimensionMismatch, i, len(v), g.dimension)
		}
	}
	return nil
}
