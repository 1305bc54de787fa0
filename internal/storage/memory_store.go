package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/textnorm"
)

// MemoryStore is a complete in-memory Store implementation. It backs the
// demo binary and the test fixtures, and defines the reference semantics
// the SQL store must match.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[uuid.UUID]*LibraryItem
	chunks    map[uuid.UUID]*Chunk
	shadow    map[uuid.UUID]*Chunk
	concepts  map[uuid.UUID]*Concept
	relations map[uuid.UUID]*Relation
	links     []ConceptChunkLink
	entities  map[uuid.UUID]*ExternalEntity
	edges     []ExternalEdge
	meta      map[uuid.UUID]*ExternalMeta
	logs      []SearchLogEntry
	index     *VectorIndex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[uuid.UUID]*LibraryItem),
		chunks:    make(map[uuid.UUID]*Chunk),
		shadow:    make(map[uuid.UUID]*Chunk),
		concepts:  make(map[uuid.UUID]*Concept),
		relations: make(map[uuid.UUID]*Relation),
		entities:  make(map[uuid.UUID]*ExternalEntity),
		meta:      make(map[uuid.UUID]*ExternalMeta),
		index:     NewVectorIndex(0),
	}
}

// prepareChunk fills derived fields so callers can hand over raw content.
func prepareChunk(c *Chunk) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.NormalizedText == "" {
		c.NormalizedText = textnorm.Normalize(textnorm.RepairMojibake(c.Text))
	}
	if c.ContentHash == "" {
		c.ContentHash = ContentHash(c.Text)
	}
	if c.RAGWeight <= 0 {
		c.RAGWeight = 1.0
	}
	if c.Visibility == "" {
		c.Visibility = VisibilityDefault
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
}

func sortChunkHits(hits []ChunkHit) {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Title != hits[j].Title {
			return hits[i].Title < hits[j].Title
		}
		if hits[i].ChunkIndex != hits[j].ChunkIndex {
			return hits[i].ChunkIndex < hits[j].ChunkIndex
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})
}

// SearchExact returns chunks whose normalized text contains the pattern.
func (s *MemoryStore) SearchExact(ctx context.Context, userID uuid.UUID, pattern string, f Filters, limit int) ([]ChunkHit, error) {
	if pattern == "" || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ChunkHit
	for _, c := range s.chunks {
		if c.UserID != userID || !f.Admits(c) {
			continue
		}
		if strings.Contains(c.NormalizedText, pattern) {
			hits = append(hits, ChunkHit{Chunk: *c})
		}
	}
	sortChunkHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchTokens returns chunks whose normalized text contains every token.
func (s *MemoryStore) SearchTokens(ctx context.Context, userID uuid.UUID, tokens []string, f Filters, limit int) ([]ChunkHit, error) {
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ChunkHit
	for _, c := range s.chunks {
		if c.UserID != userID || !f.Admits(c) {
			continue
		}
		all := true
		for _, tok := range tokens {
			if !strings.Contains(c.NormalizedText, tok) {
				all = false
				break
			}
		}
		if all {
			hits = append(hits, ChunkHit{Chunk: *c})
		}
	}
	sortChunkHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchLemma returns chunks whose lemma set contains any query lemma.
func (s *MemoryStore) SearchLemma(ctx context.Context, userID uuid.UUID, lemmas []string, f Filters, limit int) ([]ChunkHit, error) {
	if len(lemmas) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ChunkHit
	for _, c := range s.chunks {
		if c.UserID != userID || !f.Admits(c) {
			continue
		}
		if lemmaOverlap(c.Lemmas, lemmas) {
			hits = append(hits, ChunkHit{Chunk: *c})
		}
	}
	sortChunkHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func lemmaOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// SearchVector delegates to the in-memory vector index.
func (s *MemoryStore) SearchVector(ctx context.Context, userID uuid.UUID, query []float32, f Filters, limit int) ([]ChunkHit, error) {
	return s.index.Search(ctx, userID, query, f, limit)
}

// SearchShadow returns shadow-table candidates matching the pattern as a
// substring or overlapping the lemma set.
func (s *MemoryStore) SearchShadow(ctx context.Context, userID uuid.UUID, pattern string, lemmas []string, f Filters, limit int) ([]ChunkHit, error) {
	if (pattern == "" && len(lemmas) == 0) || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ChunkHit
	for _, c := range s.shadow {
		if c.UserID != userID || !f.Admits(c) {
			continue
		}
		if pattern != "" && strings.Contains(c.NormalizedText, pattern) {
			hits = append(hits, ChunkHit{Chunk: *c})
			continue
		}
		if lemmaOverlap(c.Lemmas, lemmas) {
			hits = append(hits, ChunkHit{Chunk: *c})
		}
	}
	sortChunkHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// MatchConcepts finds concepts whose normalized name or alias contains the
// pattern, closest names first.
func (s *MemoryStore) MatchConcepts(ctx context.Context, pattern string, limit int) ([]Concept, error) {
	if pattern == "" || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Concept
	for _, c := range s.concepts {
		if conceptMatches(c, pattern) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].NormalizedName) != len(out[j].NormalizedName) {
			return len(out[i].NormalizedName) < len(out[j].NormalizedName)
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func conceptMatches(c *Concept, pattern string) bool {
	if strings.Contains(c.NormalizedName, pattern) {
		return true
	}
	for _, a := range c.Aliases {
		if strings.Contains(textnorm.Normalize(a), pattern) {
			return true
		}
	}
	return false
}

// NearestConcepts finds concepts by description-vector similarity.
func (s *MemoryStore) NearestConcepts(ctx context.Context, query []float32, limit int) ([]Concept, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := normalizeVector(query)
	type scored struct {
		concept  Concept
		distance float32
	}
	var candidates []scored
	for _, c := range s.concepts {
		if len(c.DescriptionVector) != len(q) {
			continue
		}
		dist := cosineDistance(q, normalizeVector(c.DescriptionVector))
		candidates = append(candidates, scored{concept: *c, distance: dist})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].concept.Name < candidates[j].concept.Name
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]Concept, len(candidates))
	for i, c := range candidates {
		out[i] = c.concept
	}
	return out, nil
}

// GraphNeighbors traverses seed -> relation -> neighbor -> chunks. Hits are
// restricted to the default visibility scope. The same chunk may appear
// once per traversal path; callers deduplicate after scoring.
func (s *MemoryStore) GraphNeighbors(ctx context.Context, userID uuid.UUID, seedIDs []uuid.UUID, minStrength float64, limit, offset int) ([]GraphHit, error) {
	if len(seedIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	seeds := make(map[uuid.UUID]bool, len(seedIDs))
	for _, id := range seedIDs {
		seeds[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type hop struct {
		conceptID uuid.UUID
		relation  *Relation
	}
	var hops []hop
	for _, r := range s.relations {
		switch {
		case seeds[r.SourceID] && r.SourceID != r.TargetID:
			hops = append(hops, hop{conceptID: r.TargetID, relation: r})
		case seeds[r.TargetID] && r.SourceID != r.TargetID:
			hops = append(hops, hop{conceptID: r.SourceID, relation: r})
		}
	}

	var hits []GraphHit
	for _, h := range hops {
		concept, ok := s.concepts[h.conceptID]
		if !ok {
			continue
		}
		for _, link := range s.links {
			if link.ConceptID != h.conceptID || link.Strength < minStrength {
				continue
			}
			chunk, ok := s.chunks[link.ChunkID]
			if !ok || chunk.UserID != userID {
				continue
			}
			if !VisibilityScopeDefault.Admits(chunk.Visibility) {
				continue
			}
			hits = append(hits, GraphHit{
				Chunk:          *chunk,
				ConceptID:      concept.ID,
				ConceptName:    concept.Name,
				RelationType:   h.relation.Type,
				RelationWeight: h.relation.Weight,
				LinkStrength:   link.Strength,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].LinkStrength != hits[j].LinkStrength {
			return hits[i].LinkStrength > hits[j].LinkStrength
		}
		if hits[i].RelationWeight != hits[j].RelationWeight {
			return hits[i].RelationWeight > hits[j].RelationWeight
		}
		return hits[i].ID.String() < hits[j].ID.String()
	})

	if offset >= len(hits) {
		return nil, nil
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ConceptsForChunks returns the concepts linked to any of the chunks,
// strongest links first.
func (s *MemoryStore) ConceptsForChunks(ctx context.Context, chunkIDs []uuid.UUID, limit int) ([]Concept, error) {
	if len(chunkIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	want := make(map[uuid.UUID]bool, len(chunkIDs))
	for _, id := range chunkIDs {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type linked struct {
		conceptID uuid.UUID
		strength  float64
	}
	best := make(map[uuid.UUID]float64)
	for _, link := range s.links {
		if !want[link.ChunkID] {
			continue
		}
		if link.Strength > best[link.ConceptID] {
			best[link.ConceptID] = link.Strength
		}
	}
	ranked := make([]linked, 0, len(best))
	for id, strength := range best {
		ranked = append(ranked, linked{conceptID: id, strength: strength})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].strength != ranked[j].strength {
			return ranked[i].strength > ranked[j].strength
		}
		return ranked[i].conceptID.String() < ranked[j].conceptID.String()
	})

	var out []Concept
	for _, r := range ranked {
		if c, ok := s.concepts[r.conceptID]; ok {
			out = append(out, *c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// ConceptRelations returns relations touching any of the concepts,
// strongest first, with endpoint names joined in.
func (s *MemoryStore) ConceptRelations(ctx context.Context, conceptIDs []uuid.UUID, limit int) ([]RelationEdge, error) {
	if len(conceptIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	want := make(map[uuid.UUID]bool, len(conceptIDs))
	for _, id := range conceptIDs {
		want[id] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []RelationEdge
	for _, r := range s.relations {
		if !want[r.SourceID] && !want[r.TargetID] {
			continue
		}
		edge := RelationEdge{Relation: *r}
		if c, ok := s.concepts[r.SourceID]; ok {
			edge.SourceName = c.Name
		}
		if c, ok := s.concepts[r.TargetID]; ok {
			edge.TargetName = c.Name
		}
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExternalEdges returns the item's external KB edges, heaviest first, with
// entity labels denormalized.
func (s *MemoryStore) ExternalEdges(ctx context.Context, userID, itemID uuid.UUID, limit int) ([]ExternalEdge, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ExternalEdge
	for _, e := range s.edges {
		if e.UserID != userID || e.ItemID != itemID {
			continue
		}
		edge := e
		if ent, ok := s.entities[e.SourceID]; ok {
			edge.SourceLabel = ent.Label
		}
		if ent, ok := s.entities[e.TargetID]; ok {
			edge.TargetLabel = ent.Label
		}
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ExternalMeta returns the provider mapping for an item.
func (s *MemoryStore) ExternalMeta(ctx context.Context, userID, itemID uuid.UUID) (*ExternalMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.meta[itemID]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	out := *m
	return &out, nil
}

// BookTitleCatalog returns the user's books ordered by title.
func (s *MemoryStore) BookTitleCatalog(ctx context.Context, userID uuid.UUID) ([]BookTitle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []BookTitle
	for _, item := range s.items {
		if item.UserID != userID || item.Type != ItemTypeBook {
			continue
		}
		out = append(out, BookTitle{ItemID: item.ID, Title: item.Title, Author: item.Author})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

// LibraryItem returns one item of the user.
func (s *MemoryStore) LibraryItem(ctx context.Context, userID, itemID uuid.UUID) (*LibraryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok || item.UserID != userID {
		return nil, ErrNotFound
	}
	out := *item
	return &out, nil
}

// LogSearch appends an analytics row.
func (s *MemoryStore) LogSearch(ctx context.Context, entry *SearchLogEntry) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *entry
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	s.logs = append(s.logs, row)
	return row.ID, nil
}

// RecentSearches returns the user's latest analytics rows, newest first.
func (s *MemoryStore) RecentSearches(ctx context.Context, userID uuid.UUID, limit int) ([]SearchLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []SearchLogEntry
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if s.logs[i].UserID == userID {
			out = append(out, s.logs[i])
		}
	}
	return out, nil
}

// UpsertLibraryItem inserts or replaces an item.
func (s *MemoryStore) UpsertLibraryItem(ctx context.Context, item *LibraryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Visibility == "" {
		if item.Type == ItemTypePersonalNote {
			item.Visibility = VisibilityExcludedByDefault
		} else {
			item.Visibility = VisibilityDefault
		}
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	stored := *item
	s.items[item.ID] = &stored
	return nil
}

// UpsertChunks inserts or replaces chunks keyed by (item, content hash)
// and indexes their vectors. Derived fields (normalized text, content
// hash, rag weight, visibility) are filled when absent. Chunks inherit
// the item's visibility when the item is stricter.
func (s *MemoryStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range chunks {
		c := chunks[i]
		prepareChunk(&c)
		for _, existing := range s.chunks {
			if existing.ItemID == c.ItemID && existing.ContentHash == c.ContentHash {
				c.ID = existing.ID
				break
			}
		}
		if item, ok := s.items[c.ItemID]; ok {
			c.Visibility = stricterVisibility(c.Visibility, item.Visibility)
			if c.Title == "" {
				c.Title = item.Title
			}
		}
		if err := s.index.Upsert([]Chunk{c}); err != nil {
			return err
		}
		stored := c
		s.chunks[c.ID] = &stored
		chunks[i] = c
	}
	return nil
}

// stricterVisibility returns the more restrictive of the two.
func stricterVisibility(a, b Visibility) Visibility {
	rank := func(v Visibility) int {
		switch v {
		case VisibilityNeverRetrieve:
			return 2
		case VisibilityExcludedByDefault:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// UpsertShadowChunks inserts or replaces shadow-table rows. Shadow content
// is lexical-only and never vector-indexed.
func (s *MemoryStore) UpsertShadowChunks(ctx context.Context, chunks []Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range chunks {
		c := chunks[i]
		prepareChunk(&c)
		for _, existing := range s.shadow {
			if existing.ItemID == c.ItemID && existing.ContentHash == c.ContentHash {
				c.ID = existing.ID
				break
			}
		}
		stored := c
		s.shadow[c.ID] = &stored
		chunks[i] = c
	}
	return nil
}

// UpsertConcept inserts or replaces a concept.
func (s *MemoryStore) UpsertConcept(ctx context.Context, c *Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.NormalizedName == "" {
		c.NormalizedName = textnorm.Normalize(c.Name)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	s.concepts[c.ID] = &stored
	return nil
}

// UpsertRelation inserts or replaces a relation.
func (s *MemoryStore) UpsertRelation(ctx context.Context, r *Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	stored := *r
	s.relations[r.ID] = &stored
	return nil
}

// LinkConceptChunk inserts or updates a concept-chunk link.
func (s *MemoryStore) LinkConceptChunk(ctx context.Context, link *ConceptChunkLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	for i := range s.links {
		if s.links[i].ConceptID == link.ConceptID && s.links[i].ChunkID == link.ChunkID {
			s.links[i] = *link
			return nil
		}
	}
	s.links = append(s.links, *link)
	return nil
}

// UpsertExternalEntity inserts or replaces an external KB entity.
func (s *MemoryStore) UpsertExternalEntity(ctx context.Context, e *ExternalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	stored := *e
	s.entities[e.ID] = &stored
	return nil
}

// UpsertExternalEdge inserts or replaces an external KB edge.
func (s *MemoryStore) UpsertExternalEdge(ctx context.Context, e *ExternalEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if e.ID != uuid.Nil {
		for i := range s.edges {
			if s.edges[i].ID == e.ID {
				s.edges[i] = *e
				return nil
			}
		}
	} else {
		e.ID = uuid.New()
	}
	s.edges = append(s.edges, *e)
	return nil
}

// UpsertExternalMeta inserts or replaces an item's provider mapping.
func (s *MemoryStore) UpsertExternalMeta(ctx context.Context, m *ExternalMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *m
	s.meta[m.ItemID] = &stored
	return nil
}
