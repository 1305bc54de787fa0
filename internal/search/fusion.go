package search

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/storage"
)

const rrfK = 60

// sourceTypePriority orders hits by how curated their source is.
// Plain highlights outrank insights, which outrank notes; a highlight
// carrying a reader comment slots between insights and notes.
func sourceTypePriority(c storage.Chunk) float64 {
	switch c.ContentType {
	case storage.ContentTypeHighlight:
		if c.Comment != nil && strings.TrimSpace(*c.Comment) != "" {
			return 2.5
		}
		return 1
	case storage.ContentTypeInsight:
		return 2
	case storage.ContentTypeNote:
		return 3
	default:
		return 4
	}
}

// bucketPriority breaks fused-score ties. Lexical buckets win over
// semantic, rescue comes last.
func bucketPriority(bucket string) int {
	switch bucket {
	case BucketExact:
		return 0
	case BucketLemma:
		return 1
	case BucketSemantic:
		return 2
	case BucketShadow:
		return 3
	default:
		return 4
	}
}

// rrfWeights returns the (exact, lemma, semantic) contribution weights
// for the intent. Direct intents lean lexical, synthesis leans
// semantic, everything else is flat.
func rrfWeights(intent Intent) (float64, float64, float64) {
	switch intent {
	case IntentDirect, IntentCitationSeeking, IntentFollowUp:
		return 0.55, 0.30, 0.15
	case IntentSynthesis, IntentComparative:
		return 0.20, 0.20, 0.60
	default:
		return 1.0 / 3, 1.0 / 3, 1.0 / 3
	}
}

type bucketList struct {
	name string
	hits []Hit
}

type fusedEntry struct {
	hit       Hit
	fused     float64
	bucketPri int
	raw       float64
}

// FuseRRF merges the buckets with reciprocal rank fusion. The fused
// value orders the output only; each hit keeps the raw score of its
// strongest bucket. Shadow hits contribute at the lemma weight.
func FuseRRF(buckets []bucketList, intent Intent) []Hit {
	we, wl, ws := rrfWeights(intent)
	weightFor := func(name string) float64 {
		switch name {
		case BucketExact:
			return we
		case BucketLemma, BucketShadow:
			return wl
		default:
			return ws
		}
	}

	entries := make(map[uuid.UUID]*fusedEntry)
	order := make([]uuid.UUID, 0)
	for _, b := range buckets {
		w := weightFor(b.name)
		pri := bucketPriority(b.name)
		for rank, h := range b.hits {
			contribution := w / float64(rrfK+rank+1)
			e, ok := entries[h.ID]
			if !ok {
				entries[h.ID] = &fusedEntry{hit: h, fused: contribution, bucketPri: pri, raw: h.Score}
				order = append(order, h.ID)
				continue
			}
			e.fused += contribution
			if h.Score > e.raw {
				e.raw = h.Score
			}
			if pri < e.bucketPri {
				e.bucketPri = pri
				e.hit = h
			}
		}
	}

	out := make([]*fusedEntry, 0, len(entries))
	for _, id := range order {
		out = append(out, entries[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].fused != out[j].fused {
			return out[i].fused > out[j].fused
		}
		if out[i].bucketPri != out[j].bucketPri {
			return out[i].bucketPri < out[j].bucketPri
		}
		if out[i].raw != out[j].raw {
			return out[i].raw > out[j].raw
		}
		return out[i].hit.ID.String() < out[j].hit.ID.String()
	})

	hits := make([]Hit, 0, len(out))
	for _, e := range out {
		h := e.hit
		h.Score = e.raw
		hits = append(hits, h)
	}
	return hits
}

// FuseConcat appends the buckets in caller order after sorting each by
// source-type priority then score. First occurrence of a chunk wins.
func FuseConcat(buckets []bucketList) []Hit {
	seen := make(map[uuid.UUID]struct{})
	var out []Hit
	for _, b := range buckets {
		sorted := make([]Hit, len(b.hits))
		copy(sorted, b.hits)
		sort.SliceStable(sorted, func(i, j int) bool {
			pi, pj := sourceTypePriority(sorted[i].Chunk), sourceTypePriority(sorted[j].Chunk)
			if pi != pj {
				return pi < pj
			}
			if sorted[i].Score != sorted[j].Score {
				return sorted[i].Score > sorted[j].Score
			}
			return sorted[i].ID.String() < sorted[j].ID.String()
		})
		for _, h := range sorted {
			if _, ok := seen[h.ID]; ok {
				continue
			}
			seen[h.ID] = struct{}{}
			out = append(out, h)
		}
	}
	return out
}

// dedupeHits removes duplicate chunk IDs keeping the first occurrence.
func dedupeHits(hits []Hit) []Hit {
	seen := make(map[uuid.UUID]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if _, ok := seen[h.ID]; ok {
			continue
		}
		seen[h.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}
