package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/rag"
	"github.com/tomehub/tomehub/internal/storage"
)

const (
	bridgeChunkMax    = 10
	bridgeConceptMax  = 8
	bridgeRelationMax = 6
)

// bridgePhrases renders concept relation types as Turkish connective
// phrases for the semantic-bridge sentences.
var bridgePhrases = map[storage.RelationType]string{
	storage.RelationIsA:                "tür ilişkisi",
	storage.RelationDefines:            "tanım ilişkisi",
	storage.RelationPartOf:             "parça-bütün ilişkisi",
	storage.RelationSemanticSimilarity: "anlam yakınlığı",
	storage.RelationSynonym:            "eş anlamlılık",
	storage.RelationRelatedTo:          "genel ilişki",
	storage.RelationCoOccurrence:       "birlikte geçme",
	storage.RelationCites:              "alıntı ilişkisi",
}

func bridgePhrase(t storage.RelationType) string {
	if phrase, ok := bridgePhrases[t]; ok {
		return phrase
	}
	return strings.ToLower(strings.ReplaceAll(string(t), "_", " "))
}

// graphBridge appends semantic-bridge sentences for synthesis answers:
// the concepts behind the evidence chunks and the strongest relations
// between them, rendered as one line each.
type graphBridge struct {
	store   storage.GraphStore
	log     *observability.Logger
	timeout time.Duration
}

func newGraphBridge(store storage.GraphStore, log *observability.Logger, timeout time.Duration) *graphBridge {
	return &graphBridge{
		store:   store,
		log:     log.WithComponent("graph_bridge"),
		timeout: timeout,
	}
}

// sentences resolves bridge lines for the evidence set. Timeouts and
// store failures skip the stage; the second return reports a timeout.
func (b *graphBridge) sentences(ctx context.Context, evidence []rag.Evidence) ([]string, bool) {
	ids := make([]uuid.UUID, 0, bridgeChunkMax)
	seen := make(map[uuid.UUID]struct{}, bridgeChunkMax)
	for _, ev := range evidence {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		ids = append(ids, ev.ID)
		if len(ids) == bridgeChunkMax {
			break
		}
	}
	if len(ids) == 0 {
		return nil, false
	}

	cctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	concepts, err := b.store.ConceptsForChunks(cctx, ids, bridgeConceptMax)
	if err != nil {
		return nil, b.failed(err, cctx, "concept lookup")
	}
	if len(concepts) == 0 {
		return nil, false
	}

	conceptIDs := make([]uuid.UUID, len(concepts))
	for i, c := range concepts {
		conceptIDs[i] = c.ID
	}
	edges, err := b.store.ConceptRelations(cctx, conceptIDs, bridgeRelationMax)
	if err != nil {
		return nil, b.failed(err, cctx, "relation lookup")
	}

	lines := make([]string, 0, len(edges))
	for _, e := range edges {
		lines = append(lines, fmt.Sprintf("%s ile %s: %s (%.2f)", e.SourceName, e.TargetName, bridgePhrase(e.Type), e.Weight))
	}
	return lines, false
}

// failed logs the stage failure and reports whether it was the bridge
// deadline. The caller proceeds without bridge lines either way.
func (b *graphBridge) failed(err error, cctx context.Context, stage string) bool {
	timedOut := errors.Is(err, context.DeadlineExceeded) || cctx.Err() != nil
	b.log.Warn().Err(err).Str("stage", stage).Bool("timed_out", timedOut).Msg("graph bridge skipped")
	return timedOut
}
