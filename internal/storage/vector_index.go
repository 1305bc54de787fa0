package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrVectorDimensionMismatch indicates an insert whose vector dimension
// differs from the index dimension.
var ErrVectorDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndex is an in-memory nearest-neighbour index over chunk
// embeddings. Vectors are unit-normalized on insert; search orders by
// cosine distance divided by the chunk's rag_weight so that up-weighted
// chunks surface earlier.
//
// Both stores use it: the in-memory store directly, the SQL store after
// warming it from the vector column.
type VectorIndex struct {
	mu        sync.RWMutex
	dimension int
	entries   map[uuid.UUID]indexEntry
}

type indexEntry struct {
	chunk  Chunk
	vector []float32
}

// NewVectorIndex creates an index. A non-positive dimension defaults to
// 768 and is re-adopted from the first inserted vector.
func NewVectorIndex(dimension int) *VectorIndex {
	if dimension <= 0 {
		dimension = 768
	}
	return &VectorIndex{
		dimension: dimension,
		entries:   make(map[uuid.UUID]indexEntry),
	}
}

// Upsert indexes the chunks that carry a vector. Chunks without a vector
// are skipped. The stored chunk keeps its vector field nil; the index owns
// the normalized copy.
func (ix *VectorIndex) Upsert(chunks []Chunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, c := range chunks {
		if len(c.Vector) == 0 {
			continue
		}
		if len(ix.entries) == 0 {
			ix.dimension = len(c.Vector)
		} else if len(c.Vector) != ix.dimension {
			return fmt.Errorf("%w: expected %d, got %d for chunk %s",
				ErrVectorDimensionMismatch, ix.dimension, len(c.Vector), c.ID)
		}

		normalized := normalizeVector(c.Vector)
		stored := c
		stored.Vector = nil
		ix.entries[c.ID] = indexEntry{chunk: stored, vector: normalized}
	}
	return nil
}

// Delete removes chunks from the index.
func (ix *VectorIndex) Delete(ids []uuid.UUID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		delete(ix.entries, id)
	}
}

// Len returns the number of indexed vectors.
func (ix *VectorIndex) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Dimension returns the current index dimension.
func (ix *VectorIndex) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.dimension
}

// Search returns the k nearest chunks of the user that pass the filters.
// A query of the wrong dimension returns no results rather than an error,
// so the caller can fall back to keyword retrieval.
func (ix *VectorIndex) Search(ctx context.Context, userID uuid.UUID, query []float32, f Filters, k int) ([]ChunkHit, error) {
	if len(query) == 0 || k <= 0 {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(query) != ix.dimension && len(ix.entries) > 0 {
		return nil, nil
	}

	q := normalizeVector(query)

	type scored struct {
		chunk    Chunk
		distance float32
	}
	var results []scored
	for _, e := range ix.entries {
		if e.chunk.UserID != userID {
			continue
		}
		if !f.Admits(&e.chunk) {
			continue
		}
		if len(e.vector) != len(q) {
			continue
		}
		dist := cosineDistance(q, e.vector)
		if w := e.chunk.RAGWeight; w > 0 {
			dist = float32(float64(dist) / w)
		}
		results = append(results, scored{chunk: e.chunk, distance: dist})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].distance != results[j].distance {
			return results[i].distance < results[j].distance
		}
		return results[i].chunk.ID.String() < results[j].chunk.ID.String()
	})

	if k > len(results) {
		k = len(results)
	}
	out := make([]ChunkHit, k)
	for i := 0; i < k; i++ {
		out[i] = ChunkHit{Chunk: results[i].chunk, Distance: results[i].distance}
	}
	return out, nil
}

// cosineDistance computes cosine distance between two normalized vectors.
// For unit vectors: distance = 1 - dot(a, b).
func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) {
		return 1.0
	}
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	// Clamp against floating point drift.
	if dot > 1 {
		dot = 1
	} else if dot < -1 {
		dot = -1
	}
	return 1 - dot
}

// normalizeVector returns a unit vector.
func normalizeVector(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	normalized := make([]float32, len(v))
	for i, x := range v {
		normalized[i] = float32(float64(x) / norm)
	}
	return normalized
}
