package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/textnorm"
)

const chunkColumns = "id, user_id, item_id, title, content_type, ingestion_type, text, normalized_text, lemmas, page_number, chunk_index, comment, tags, embedding_model, rag_weight, search_visibility, ai_eligible, content_hash, created_at, updated_at"

const conceptColumns = "id, name, normalized_name, aliases, description, created_at"

// SQLStore implements Store on a SQL database through the DB interface.
// The same SQL runs on PostgreSQL and SQLite; placeholders are numbered
// and appear in order, which both drivers bind positionally.
//
// Vector search is served by an in-memory index warmed from the vector
// column at startup and kept fresh by UpsertChunks.
type SQLStore struct {
	db    DB
	index *VectorIndex
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a store over an open database. Call WarmVectorIndex
// before serving semantic queries.
func NewSQLStore(db DB) *SQLStore {
	return &SQLStore{db: db, index: NewVectorIndex(0)}
}

// Index exposes the vector index for dimension checks.
func (s *SQLStore) Index() *VectorIndex {
	return s.index
}

// WarmVectorIndex loads every stored vector into the in-memory index and
// returns the number of vectors loaded. Rows with malformed vectors are
// skipped.
func (s *SQLStore) WarmVectorIndex(ctx context.Context) (int, error) {
	query := `
		SELECT ` + chunkColumns + `, vector
		FROM chunks WHERE vector IS NOT NULL AND LENGTH(vector) > 2
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var batch []Chunk
	for rows.Next() {
		var c Chunk
		var lemmas, tags, vector sql.NullString
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.ItemID, &c.Title, &c.ContentType, &c.IngestionType,
			&c.Text, &c.NormalizedText, &lemmas, &c.PageNumber, &c.ChunkIndex,
			&c.Comment, &tags, &c.EmbeddingModel, &c.RAGWeight, &c.Visibility,
			&c.AIEligible, &c.ContentHash, &c.CreatedAt, &c.UpdatedAt, &vector,
		); err != nil {
			return 0, err
		}
		c.Lemmas = decodeStrings(lemmas)
		c.Tags = decodeStrings(tags)
		c.Vector = decodeVector(vector)
		if len(c.Vector) == 0 {
			continue
		}
		batch = append(batch, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if err := s.index.Upsert(batch); err != nil {
		return 0, err
	}
	return len(batch), nil
}

// chunkFilterSQL appends the filter clauses shared by the chunk queries.
// Every clause ANDs in the visibility rule.
func chunkFilterSQL(prefix string, f Filters, clauses []string, args []interface{}) ([]string, []interface{}) {
	if f.EffectiveScope() == VisibilityScopeAll {
		args = append(args, string(VisibilityNeverRetrieve))
		clauses = append(clauses, fmt.Sprintf("%ssearch_visibility <> $%d", prefix, len(args)))
	} else {
		args = append(args, string(VisibilityDefault))
		clauses = append(clauses, fmt.Sprintf("%ssearch_visibility = $%d", prefix, len(args)))
	}
	if f.ItemID != nil {
		args = append(args, *f.ItemID)
		clauses = append(clauses, fmt.Sprintf("%sitem_id = $%d", prefix, len(args)))
	}
	if cts := f.ContentTypes(); len(cts) > 0 {
		ph := make([]string, len(cts))
		for i, ct := range cts {
			args = append(args, string(ct))
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%scontent_type IN (%s)", prefix, strings.Join(ph, ", ")))
	}
	if f.IngestionType != "" {
		args = append(args, string(f.IngestionType))
		clauses = append(clauses, fmt.Sprintf("%singestion_type = $%d", prefix, len(args)))
	}
	if f.ExcludePDF {
		args = append(args, string(IngestionTypePDF))
		clauses = append(clauses, fmt.Sprintf("%singestion_type <> $%d", prefix, len(args)))
	}
	if f.MinTextLen > 0 {
		args = append(args, f.MinTextLen)
		clauses = append(clauses, fmt.Sprintf("LENGTH(%stext) >= $%d", prefix, len(args)))
	}
	if f.MaxTextLen > 0 {
		args = append(args, f.MaxTextLen)
		clauses = append(clauses, fmt.Sprintf("LENGTH(%stext) <= $%d", prefix, len(args)))
	}
	return clauses, args
}

// escapeLike escapes LIKE metacharacters; queries use ESCAPE '\'.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

func (s *SQLStore) queryChunks(ctx context.Context, table string, clauses []string, args []interface{}, limit int) ([]ChunkHit, error) {
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE %s
		ORDER BY title, chunk_index, id
		LIMIT $%d
	`, chunkColumns, table, strings.Join(clauses, " AND "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var c Chunk
		var lemmas, tags sql.NullString
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.ItemID, &c.Title, &c.ContentType, &c.IngestionType,
			&c.Text, &c.NormalizedText, &lemmas, &c.PageNumber, &c.ChunkIndex,
			&c.Comment, &tags, &c.EmbeddingModel, &c.RAGWeight, &c.Visibility,
			&c.AIEligible, &c.ContentHash, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.Lemmas = decodeStrings(lemmas)
		c.Tags = decodeStrings(tags)
		hits = append(hits, ChunkHit{Chunk: c})
	}
	return hits, rows.Err()
}

// SearchExact returns chunks whose normalized text contains the pattern.
func (s *SQLStore) SearchExact(ctx context.Context, userID uuid.UUID, pattern string, f Filters, limit int) ([]ChunkHit, error) {
	if pattern == "" || limit <= 0 {
		return nil, nil
	}
	clauses := []string{"user_id = $1"}
	args := []interface{}{userID}
	clauses, args = chunkFilterSQL("", f, clauses, args)
	args = append(args, "%"+escapeLike(pattern)+"%")
	clauses = append(clauses, fmt.Sprintf(`normalized_text LIKE $%d ESCAPE '\'`, len(args)))
	return s.queryChunks(ctx, "chunks", clauses, args, limit)
}

// SearchTokens returns chunks whose normalized text contains every token.
func (s *SQLStore) SearchTokens(ctx context.Context, userID uuid.UUID, tokens []string, f Filters, limit int) ([]ChunkHit, error) {
	if len(tokens) == 0 || limit <= 0 {
		return nil, nil
	}
	clauses := []string{"user_id = $1"}
	args := []interface{}{userID}
	clauses, args = chunkFilterSQL("", f, clauses, args)
	for _, tok := range tokens {
		args = append(args, "%"+escapeLike(tok)+"%")
		clauses = append(clauses, fmt.Sprintf(`normalized_text LIKE $%d ESCAPE '\'`, len(args)))
	}
	return s.queryChunks(ctx, "chunks", clauses, args, limit)
}

// SearchLemma returns chunks whose lemma set contains any query lemma.
func (s *SQLStore) SearchLemma(ctx context.Context, userID uuid.UUID, lemmas []string, f Filters, limit int) ([]ChunkHit, error) {
	if len(lemmas) == 0 || limit <= 0 {
		return nil, nil
	}
	clauses := []string{"user_id = $1"}
	args := []interface{}{userID}
	clauses, args = chunkFilterSQL("", f, clauses, args)
	ors := make([]string, len(lemmas))
	for i, lemma := range lemmas {
		args = append(args, `%"`+escapeLike(lemma)+`"%`)
		ors[i] = fmt.Sprintf(`lemmas LIKE $%d ESCAPE '\'`, len(args))
	}
	clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	return s.queryChunks(ctx, "chunks", clauses, args, limit)
}

// SearchVector serves nearest-neighbour queries from the warmed index.
func (s *SQLStore) SearchVector(ctx context.Context, userID uuid.UUID, query []float32, f Filters, limit int) ([]ChunkHit, error) {
	return s.index.Search(ctx, userID, query, f, limit)
}

// SearchShadow returns shadow-table candidates matching the pattern as a
// substring or overlapping the lemma set.
func (s *SQLStore) SearchShadow(ctx context.Context, userID uuid.UUID, pattern string, lemmas []string, f Filters, limit int) ([]ChunkHit, error) {
	if (pattern == "" && len(lemmas) == 0) || limit <= 0 {
		return nil, nil
	}
	clauses := []string{"user_id = $1"}
	args := []interface{}{userID}
	clauses, args = chunkFilterSQL("", f, clauses, args)

	var ors []string
	if pattern != "" {
		args = append(args, "%"+escapeLike(pattern)+"%")
		ors = append(ors, fmt.Sprintf(`normalized_text LIKE $%d ESCAPE '\'`, len(args)))
	}
	for _, lemma := range lemmas {
		args = append(args, `%"`+escapeLike(lemma)+`"%`)
		ors = append(ors, fmt.Sprintf(`lemmas LIKE $%d ESCAPE '\'`, len(args)))
	}
	clauses = append(clauses, "("+strings.Join(ors, " OR ")+")")
	return s.queryChunks(ctx, "shadow_chunks", clauses, args, limit)
}

// MatchConcepts finds concepts whose normalized name or alias contains the
// pattern, closest names first.
func (s *SQLStore) MatchConcepts(ctx context.Context, pattern string, limit int) ([]Concept, error) {
	if pattern == "" || limit <= 0 {
		return nil, nil
	}
	like := "%" + escapeLike(pattern) + "%"
	query := `
		SELECT ` + conceptColumns + `
		FROM concepts
		WHERE normalized_name LIKE $1 ESCAPE '\' OR aliases LIKE $2 ESCAPE '\'
		ORDER BY LENGTH(normalized_name), name
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, like, like, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConcepts(rows)
}

func scanConcepts(rows *sql.Rows) ([]Concept, error) {
	var out []Concept
	for rows.Next() {
		var c Concept
		var aliases sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &aliases, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Aliases = decodeStrings(aliases)
		out = append(out, c)
	}
	return out, rows.Err()
}

// NearestConcepts scans description vectors in Go; the concept table is
// small enough that a linear pass beats maintaining a second index.
func (s *SQLStore) NearestConcepts(ctx context.Context, query []float32, limit int) ([]Concept, error) {
	if len(query) == 0 || limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conceptColumns+`, description_vector
		FROM concepts WHERE description_vector IS NOT NULL
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	q := normalizeVector(query)
	type scored struct {
		concept  Concept
		distance float32
	}
	var candidates []scored
	for rows.Next() {
		var c Concept
		var aliases, vector sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &aliases, &c.Description, &c.CreatedAt, &vector); err != nil {
			return nil, err
		}
		c.Aliases = decodeStrings(aliases)
		vec := decodeVector(vector)
		if len(vec) != len(q) {
			continue
		}
		candidates = append(candidates, scored{concept: c, distance: cosineDistance(q, normalizeVector(vec))})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].concept.ID.String() < candidates[j].concept.ID.String()
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

// GraphNeighbors traverses seed -> relation -> neighbor -> chunks in both
// edge directions. Hits stay in the default visibility scope.
func (s *SQLStore) GraphNeighbors(ctx context.Context, userID uuid.UUID, seedIDs []uuid.UUID, minStrength float64, limit, offset int) ([]GraphHit, error) {
	if len(seedIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	var args []interface{}
	ph := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	seedList := func() string {
		parts := make([]string, len(seedIDs))
		for i, id := range seedIDs {
			parts[i] = ph(id)
		}
		return strings.Join(parts, ", ")
	}

	selectCols := prefixColumns("c.", chunkColumns) +
		", con.id AS concept_id, con.name AS concept_name, r.relation_type, r.weight AS relation_weight, l.strength AS link_strength"

	branch := func(joinOn, seedCol string) string {
		return fmt.Sprintf(`
		SELECT %s
		FROM concept_relations r
		JOIN concepts con ON con.id = r.%s
		JOIN concept_chunk_links l ON l.concept_id = con.id
		JOIN chunks c ON c.id = l.chunk_id
		WHERE r.%s IN (%s) AND r.source_id <> r.target_id
		  AND l.strength >= %s AND c.user_id = %s AND c.search_visibility = %s`,
			selectCols, joinOn, seedCol, seedList(),
			ph(minStrength), ph(userID), ph(string(VisibilityDefault)))
	}

	query := branch("target_id", "source_id") + `
		UNION ALL` + branch("source_id", "target_id") + fmt.Sprintf(`
		ORDER BY link_strength DESC, relation_weight DESC, id
		LIMIT %s OFFSET %s
	`, ph(limit), ph(offset))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []GraphHit
	for rows.Next() {
		var h GraphHit
		var lemmas, tags sql.NullString
		if err := rows.Scan(
			&h.ID, &h.UserID, &h.ItemID, &h.Title, &h.ContentType, &h.IngestionType,
			&h.Text, &h.NormalizedText, &lemmas, &h.PageNumber, &h.ChunkIndex,
			&h.Comment, &tags, &h.EmbeddingModel, &h.RAGWeight, &h.Visibility,
			&h.AIEligible, &h.ContentHash, &h.CreatedAt, &h.UpdatedAt,
			&h.ConceptID, &h.ConceptName, &h.RelationType, &h.RelationWeight, &h.LinkStrength,
		); err != nil {
			return nil, err
		}
		h.Lemmas = decodeStrings(lemmas)
		h.Tags = decodeStrings(tags)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ConceptsForChunks returns the concepts linked to any of the chunks,
// strongest links first.
func (s *SQLStore) ConceptsForChunks(ctx context.Context, chunkIDs []uuid.UUID, limit int) ([]Concept, error) {
	if len(chunkIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	var args []interface{}
	parts := make([]string, len(chunkIDs))
	for i, id := range chunkIDs {
		args = append(args, id)
		parts[i] = fmt.Sprintf("$%d", len(args))
	}
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT con.id, con.name, con.normalized_name, con.aliases, con.description, con.created_at,
			MAX(l.strength) AS strength
		FROM concept_chunk_links l
		JOIN concepts con ON con.id = l.concept_id
		WHERE l.chunk_id IN (%s)
		GROUP BY con.id, con.name, con.normalized_name, con.aliases, con.description, con.created_at
		ORDER BY strength DESC, con.id
		LIMIT $%d
	`, strings.Join(parts, ", "), len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		var c Concept
		var aliases sql.NullString
		var strength float64
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &aliases, &c.Description, &c.CreatedAt, &strength); err != nil {
			return nil, err
		}
		c.Aliases = decodeStrings(aliases)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ConceptRelations returns relations touching any of the concepts,
// strongest first, with endpoint names joined in.
func (s *SQLStore) ConceptRelations(ctx context.Context, conceptIDs []uuid.UUID, limit int) ([]RelationEdge, error) {
	if len(conceptIDs) == 0 || limit <= 0 {
		return nil, nil
	}
	var args []interface{}
	list := func() string {
		parts := make([]string, len(conceptIDs))
		for i, id := range conceptIDs {
			args = append(args, id)
			parts[i] = fmt.Sprintf("$%d", len(args))
		}
		return strings.Join(parts, ", ")
	}
	first, second := list(), list()
	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT r.id, r.source_id, r.target_id, r.relation_type, r.weight, r.created_at, src.name, dst.name
		FROM concept_relations r
		JOIN concepts src ON src.id = r.source_id
		JOIN concepts dst ON dst.id = r.target_id
		WHERE r.source_id IN (%s) OR r.target_id IN (%s)
		ORDER BY r.weight DESC, r.id
		LIMIT $%d
	`, first, second, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RelationEdge
	for rows.Next() {
		var e RelationEdge
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Type, &e.Weight, &e.CreatedAt, &e.SourceName, &e.TargetName); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExternalEdges returns the item's external KB edges, heaviest first, with
// entity labels denormalized.
func (s *SQLStore) ExternalEdges(ctx context.Context, userID, itemID uuid.UUID, limit int) ([]ExternalEdge, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT e.id, e.user_id, e.item_id, e.source_entity_id, e.target_entity_id,
			e.relation_type, e.weight, e.provider, e.created_at,
			COALESCE(src.label, ''), COALESCE(dst.label, '')
		FROM external_edges e
		LEFT JOIN external_entities src ON src.id = e.source_entity_id
		LEFT JOIN external_entities dst ON dst.id = e.target_entity_id
		WHERE e.user_id = $1 AND e.item_id = $2
		ORDER BY e.weight DESC, e.id
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, userID, itemID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExternalEdge
	for rows.Next() {
		var e ExternalEdge
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.ItemID, &e.SourceID, &e.TargetID,
			&e.Type, &e.Weight, &e.Provider, &e.CreatedAt,
			&e.SourceLabel, &e.TargetLabel,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ExternalMeta returns the provider mapping for an item.
func (s *SQLStore) ExternalMeta(ctx context.Context, userID, itemID uuid.UUID) (*ExternalMeta, error) {
	query := `
		SELECT item_id, user_id, provider, external_id, match_score, edge_count, last_synced_at
		FROM external_meta WHERE item_id = $1 AND user_id = $2
	`
	m := &ExternalMeta{}
	err := s.db.QueryRowContext(ctx, query, itemID, userID).Scan(
		&m.ItemID, &m.UserID, &m.Provider, &m.ExternalID, &m.MatchScore, &m.EdgeCount, &m.LastSyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// BookTitleCatalog returns the user's books ordered by title.
func (s *SQLStore) BookTitleCatalog(ctx context.Context, userID uuid.UUID) ([]BookTitle, error) {
	query := `
		SELECT id, title, author
		FROM library_items WHERE user_id = $1 AND item_type = $2
		ORDER BY title
	`
	rows, err := s.db.QueryContext(ctx, query, userID, string(ItemTypeBook))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BookTitle
	for rows.Next() {
		var b BookTitle
		if err := rows.Scan(&b.ItemID, &b.Title, &b.Author); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// LibraryItem returns one item of the user.
func (s *SQLStore) LibraryItem(ctx context.Context, userID, itemID uuid.UUID) (*LibraryItem, error) {
	query := `
		SELECT id, user_id, item_type, title, author, summary, search_visibility, tags, created_at, updated_at
		FROM library_items WHERE id = $1 AND user_id = $2
	`
	item := &LibraryItem{}
	var tags sql.NullString
	err := s.db.QueryRowContext(ctx, query, itemID, userID).Scan(
		&item.ID, &item.UserID, &item.Type, &item.Title, &item.Author,
		&item.Summary, &item.Visibility, &tags, &item.CreatedAt, &item.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	item.Tags = decodeStrings(tags)
	return item, err
}

// LogSearch inserts an analytics row.
func (s *SQLStore) LogSearch(ctx context.Context, entry *SearchLogEntry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	var details interface{}
	if len(entry.StrategyDetails) > 0 {
		details = string(entry.StrategyDetails)
	}
	query := `
		INSERT INTO search_logs (id, user_id, query, normalized_query, intent, router_mode,
			result_count, top_score, top_chunk_id, cache_hit, duration_ms, strategy_details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Query, entry.NormalizedQuery, entry.Intent, entry.RouterMode,
		entry.ResultCount, entry.TopScore, entry.TopChunkID, entry.CacheHit, entry.DurationMs,
		details, entry.CreatedAt,
	)
	return entry.ID, err
}

// RecentSearches returns the user's latest analytics rows, newest first.
func (s *SQLStore) RecentSearches(ctx context.Context, userID uuid.UUID, limit int) ([]SearchLogEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT id, user_id, query, normalized_query, intent, router_mode,
			result_count, top_score, top_chunk_id, cache_hit, duration_ms, strategy_details, created_at
		FROM search_logs WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SearchLogEntry
	for rows.Next() {
		var e SearchLogEntry
		var details sql.NullString
		if err := rows.Scan(
			&e.ID, &e.UserID, &e.Query, &e.NormalizedQuery, &e.Intent, &e.RouterMode,
			&e.ResultCount, &e.TopScore, &e.TopChunkID, &e.CacheHit, &e.DurationMs,
			&details, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			e.StrategyDetails = json.RawMessage(details.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UpsertLibraryItem inserts or replaces an item.
func (s *SQLStore) UpsertLibraryItem(ctx context.Context, item *LibraryItem) error {
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
	tags, err := encodeStrings(item.Tags)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO library_items (id, user_id, item_type, title, author, summary,
			search_visibility, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			item_type = excluded.item_type, title = excluded.title, author = excluded.author,
			summary = excluded.summary, search_visibility = excluded.search_visibility,
			tags = excluded.tags, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		item.ID, item.UserID, string(item.Type), item.Title, item.Author, item.Summary,
		string(item.Visibility), tags, item.CreatedAt, item.UpdatedAt,
	)
	return err
}

// UpsertChunks inserts or replaces chunks keyed by (item_id, content_hash)
// and keeps the vector index fresh. Derived fields are filled when absent
// and the item's stricter visibility wins, matching the in-memory store.
func (s *SQLStore) UpsertChunks(ctx context.Context, chunks []Chunk) error {
	items := make(map[uuid.UUID]*LibraryItem)
	for i := range chunks {
		c := &chunks[i]
		prepareChunk(c)
		item, ok := items[c.ItemID]
		if !ok {
			var err error
			item, err = s.LibraryItem(ctx, c.UserID, c.ItemID)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			items[c.ItemID] = item
		}
		if item != nil {
			c.Visibility = stricterVisibility(c.Visibility, item.Visibility)
			if c.Title == "" {
				c.Title = item.Title
			}
		}
		if err := s.upsertChunkRow(ctx, "chunks", c); err != nil {
			return err
		}
		if len(c.Vector) > 0 {
			if err := s.index.Upsert([]Chunk{*c}); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpsertShadowChunks inserts or replaces shadow-table rows. Shadow content
// is lexical-only and never vector-indexed.
func (s *SQLStore) UpsertShadowChunks(ctx context.Context, chunks []Chunk) error {
	for i := range chunks {
		c := &chunks[i]
		prepareChunk(c)
		if err := s.upsertChunkRow(ctx, "shadow_chunks", c); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) upsertChunkRow(ctx context.Context, table string, c *Chunk) error {
	lemmas, err := encodeStrings(c.Lemmas)
	if err != nil {
		return err
	}
	tags, err := encodeStrings(c.Tags)
	if err != nil {
		return err
	}
	vector, err := encodeVector(c.Vector)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, user_id, item_id, title, content_type, ingestion_type, text, normalized_text,
			lemmas, page_number, chunk_index, comment, tags, vector, embedding_model, rag_weight,
			search_visibility, ai_eligible, content_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (item_id, content_hash) DO UPDATE SET
			title = excluded.title, content_type = excluded.content_type,
			ingestion_type = excluded.ingestion_type, text = excluded.text,
			normalized_text = excluded.normalized_text, lemmas = excluded.lemmas,
			page_number = excluded.page_number, chunk_index = excluded.chunk_index,
			comment = excluded.comment, tags = excluded.tags, vector = excluded.vector,
			embedding_model = excluded.embedding_model, rag_weight = excluded.rag_weight,
			search_visibility = excluded.search_visibility, ai_eligible = excluded.ai_eligible,
			updated_at = excluded.updated_at
		RETURNING id
	`, table)
	return s.db.QueryRowContext(ctx, query,
		c.ID, c.UserID, c.ItemID, c.Title, string(c.ContentType), string(c.IngestionType),
		c.Text, c.NormalizedText, lemmas, c.PageNumber, c.ChunkIndex, c.Comment, tags,
		vector, c.EmbeddingModel, c.RAGWeight, string(c.Visibility), c.AIEligible,
		c.ContentHash, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
}

// UpsertConcept inserts or replaces a concept.
func (s *SQLStore) UpsertConcept(ctx context.Context, c *Concept) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.NormalizedName == "" {
		c.NormalizedName = textnorm.Normalize(c.Name)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	aliases, err := encodeStrings(c.Aliases)
	if err != nil {
		return err
	}
	vector, err := encodeVector(c.DescriptionVector)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO concepts (id, name, normalized_name, aliases, description, description_vector, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, normalized_name = excluded.normalized_name,
			aliases = excluded.aliases, description = excluded.description,
			description_vector = excluded.description_vector
	`
	_, err = s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.NormalizedName, aliases, c.Description, vector, c.CreatedAt,
	)
	return err
}

// UpsertRelation inserts or replaces a relation keyed by its endpoints
// and type.
func (s *SQLStore) UpsertRelation(ctx context.Context, r *Relation) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO concept_relations (id, source_id, target_id, relation_type, weight, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_id, target_id, relation_type) DO UPDATE SET weight = excluded.weight
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		r.ID, r.SourceID, r.TargetID, string(r.Type), r.Weight, r.CreatedAt,
	).Scan(&r.ID)
}

// LinkConceptChunk inserts or updates a concept-chunk link.
func (s *SQLStore) LinkConceptChunk(ctx context.Context, link *ConceptChunkLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO concept_chunk_links (concept_id, chunk_id, strength, justification, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (concept_id, chunk_id) DO UPDATE SET
			strength = excluded.strength, justification = excluded.justification
	`
	_, err := s.db.ExecContext(ctx, query,
		link.ConceptID, link.ChunkID, link.Strength, link.Justification, link.CreatedAt,
	)
	return err
}

// UpsertExternalEntity inserts or replaces an entity keyed by its
// provider reference.
func (s *SQLStore) UpsertExternalEntity(ctx context.Context, e *ExternalEntity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO external_entities (id, provider, external_id, entity_type, label, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, external_id) DO UPDATE SET
			entity_type = excluded.entity_type, label = excluded.label
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		e.ID, string(e.Provider), e.ExternalID, string(e.Type), e.Label, e.CreatedAt,
	).Scan(&e.ID)
}

// UpsertExternalEdge inserts or replaces an external KB edge.
func (s *SQLStore) UpsertExternalEdge(ctx context.Context, e *ExternalEdge) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO external_edges (id, user_id, item_id, source_entity_id, target_entity_id,
			relation_type, weight, provider, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			relation_type = excluded.relation_type, weight = excluded.weight
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.UserID, e.ItemID, e.SourceID, e.TargetID,
		e.Type, e.Weight, string(e.Provider), e.CreatedAt,
	)
	return err
}

// UpsertExternalMeta inserts or replaces an item's provider mapping.
func (s *SQLStore) UpsertExternalMeta(ctx context.Context, m *ExternalMeta) error {
	if m.LastSyncedAt.IsZero() {
		m.LastSyncedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO external_meta (item_id, user_id, provider, external_id, match_score, edge_count, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (item_id) DO UPDATE SET
			provider = excluded.provider, external_id = excluded.external_id,
			match_score = excluded.match_score, edge_count = excluded.edge_count,
			last_synced_at = excluded.last_synced_at
	`
	_, err := s.db.ExecContext(ctx, query,
		m.ItemID, m.UserID, string(m.Provider), m.ExternalID, m.MatchScore, m.EdgeCount, m.LastSyncedAt,
	)
	return err
}

func prefixColumns(prefix, columns string) string {
	parts := strings.Split(columns, ", ")
	for i := range parts {
		parts[i] = prefix + parts[i]
	}
	return strings.Join(parts, ", ")
}

func encodeStrings(v []string) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeVector(v []float32) (interface{}, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func decodeStrings(s sql.NullString) []string {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}

func decodeVector(s sql.NullString) []float32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(s.String), &out); err != nil {
		return nil
	}
	return out
}
