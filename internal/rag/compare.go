package rag

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomehub/tomehub/internal/observability"
	"github.com/tomehub/tomehub/internal/search"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// CompareConfig tunes the multi-book compare fan-out.
type CompareConfig struct {
	Enabled bool
	// TargetMax truncates the target list, default 8.
	TargetMax int
	// PrimaryPerBook is the BOOK-call limit per target, default 5.
	PrimaryPerBook int
	// SecondaryPerBook is the ALL_NOTES-call limit per target, default 3.
	SecondaryPerBook int
	// Timeout is the total fan-out deadline, default 2500ms.
	Timeout time.Duration
	// SecondaryMaxRatio caps secondaries against primaries, default 1/3.
	SecondaryMaxRatio float64
	// CanaryUserIDs engage the fan-out regardless of compare mode.
	CanaryUserIDs []uuid.UUID
}

func (c CompareConfig) withDefaults() CompareConfig {
	if c.TargetMax <= 0 {
		c.TargetMax = 8
	}
	if c.PrimaryPerBook <= 0 {
		c.PrimaryPerBook = 5
	}
	if c.SecondaryPerBook <= 0 {
		c.SecondaryPerBook = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 2500 * time.Millisecond
	}
	if c.SecondaryMaxRatio <= 0 {
		c.SecondaryMaxRatio = 1.0 / 3.0
	}
	return c
}

// notesTargetLabel keys the user-notes pseudo-target in per-book counts.
const notesTargetLabel = "user_notes"

// compareFanOutWorkers bounds concurrent per-target retrievals.
const compareFanOutWorkers = 4

// Legacy notes-comparison trigger over the normalized question.
var notesTriggerRe = regexp.MustCompile(`(^|\s)(not|note|highlight|vurgu)\w*`)

// compareTarget is one fan-out target: a book, or the user-notes
// pseudo-target that widens the primary call to all notes.
type compareTarget struct {
	itemID uuid.UUID
	notes  bool
}

func (t compareTarget) label() string {
	if t.notes {
		return notesTargetLabel
	}
	return t.itemID.String()
}

// compareOutcome is the fan-out's contribution to the assembly.
type compareOutcome struct {
	applied          bool
	evidence         []Evidence
	targetsUsed      []uuid.UUID
	unauthorized     []uuid.UUID
	autoResolved     []uuid.UUID
	notesTargetAdded bool
	latencyBudgetHit bool
	degradeReason    string
	perBook          map[string]int
	degradations     []search.Metadata
}

// comparePolicy decides whether a request is a multi-book comparison
// and, when it is, fans retrieval out per target under a shared
// deadline.
type comparePolicy struct {
	log     *observability.Logger
	search  Searcher
	catalog storage.CatalogStore
	cfg     CompareConfig
}

func newComparePolicy(log *observability.Logger, s Searcher, catalog storage.CatalogStore, cfg CompareConfig) *comparePolicy {
	if log == nil {
		log = observability.Nop()
	}
	return &comparePolicy{
		log:     log.WithComponent("compare_policy"),
		search:  s,
		catalog: catalog,
		cfg:     cfg.withDefaults(),
	}
}

// engaged reports whether this request may compare at all.
func (p *comparePolicy) engaged(req Request) bool {
	if !p.cfg.Enabled || p.search == nil || p.catalog == nil {
		return false
	}
	if req.CompareMode == CompareExplicitOnly || req.CompareMode == CompareAuto {
		return true
	}
	for _, id := range p.cfg.CanaryUserIDs {
		if id == req.UserID {
			return true
		}
	}
	return false
}

// run resolves the targets and executes the fan-out. question is the
// effective (possibly rewritten) query.
func (p *comparePolicy) run(ctx context.Context, req Request, question string, cls Classification) compareOutcome {
	out := compareOutcome{perBook: map[string]int{}}
	if !p.engaged(req) {
		return out
	}

	titles, err := p.catalog.BookTitleCatalog(ctx, req.UserID)
	if err != nil {
		out.degradations = append(out.degradations, search.Metadata{
			"component": "compare_policy",
			"reason":    err.Error(),
			"severity":  "warn",
		})
		return out
	}
	authorized := make(map[uuid.UUID]bool, len(titles))
	for _, t := range titles {
		authorized[t.ItemID] = true
	}

	var targets []compareTarget
	if len(req.TargetItemIDs) > 0 {
		for _, id := range req.TargetItemIDs {
			if !authorized[id] {
				out.unauthorized = append(out.unauthorized, id)
				continue
			}
			targets = append(targets, compareTarget{itemID: id})
		}
	} else {
		for _, id := range resolveTitleTargets(question, titles) {
			targets = append(targets, compareTarget{itemID: id})
			out.autoResolved = append(out.autoResolved, id)
		}
	}

	// Legacy notes comparison: a context book plus the user's notes.
	if len(targets) == 0 && req.ContextItemID != nil && authorized[*req.ContextItemID] {
		if req.IncludeNotesTarget || notesTriggerRe.MatchString(textnorm.Normalize(question)) {
			targets = []compareTarget{
				{itemID: *req.ContextItemID},
				{notes: true},
			}
			out.notesTargetAdded = true
		}
	}

	if len(targets) < 2 {
		return out
	}
	if len(targets) > p.cfg.TargetMax {
		targets = targets[:p.cfg.TargetMax]
	}

	out.applied = true
	for _, t := range targets {
		if !t.notes {
			out.targetsUsed = append(out.targetsUsed, t.itemID)
		}
	}
	p.fanOut(ctx, req, question, cls, targets, &out)
	return out
}

// targetSlot collects one target's hits keeping the fan-out order
// stable regardless of goroutine completion order.
type targetSlot struct {
	primary   []Evidence
	secondary []Evidence
}

func (p *comparePolicy) fanOut(ctx context.Context, req Request, question string, cls Classification, targets []compareTarget, out *compareOutcome) {
	fanCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	slots := make([]targetSlot, len(targets))
	var (
		mu       sync.Mutex
		deadline bool
	)

	g, gctx := errgroup.WithContext(fanCtx)
	g.SetLimit(compareFanOutWorkers)

	call := func(slot *targetSlot, target compareTarget, sreq search.Request, sink func(slot *targetSlot, evs []Evidence)) {
		g.Go(func() error {
			resp, err := p.search.Search(gctx, sreq)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					deadline = true
				} else {
					out.degradations = append(out.degradations, search.Metadata{
						"component": "compare_fanout",
						"reason":    err.Error(),
						"severity":  "warn",
					})
				}
				return nil
			}
			evs := make([]Evidence, 0, len(resp.Results))
			for _, hit := range resp.Results {
				evs = append(evs, Evidence{Hit: hit, Annotation: Annotation{
					Source:        SourceCompare,
					CompareTarget: target.itemID,
				}})
			}
			sink(slot, evs)
			return nil
		})
	}

	for ti, t := range targets {
		target := t
		slot := &slots[ti]
		primaryReq := search.Request{
			Query:  question,
			UserID: req.UserID,
			Limit:  p.cfg.PrimaryPerBook,
			Intent: cls.Intent,
			Filters: storage.Filters{
				ResourceType:  storage.ResourceTypeBook,
				Scope:         req.Scope,
				IngestionType: req.IngestionType,
			},
		}
		if target.notes {
			primaryReq.Filters.ResourceType = storage.ResourceTypeAllNotes
		} else {
			id := target.itemID
			primaryReq.Filters.ItemID = &id
		}
		call(slot, target, primaryReq, func(slot *targetSlot, evs []Evidence) {
			for i := range evs {
				evs[i].Annotation.ComparePrimary = true
			}
			slot.primary = evs
		})

		// The notes pseudo-target already reads all notes; a secondary
		// pass would duplicate it.
		if target.notes {
			continue
		}
		id := target.itemID
		secondaryReq := search.Request{
			Query:  question,
			UserID: req.UserID,
			Limit:  p.cfg.SecondaryPerBook,
			Intent: cls.Intent,
			Filters: storage.Filters{
				ItemID:        &id,
				ResourceType:  storage.ResourceTypeAllNotes,
				Scope:         req.Scope,
				IngestionType: req.IngestionType,
			},
		}
		call(slot, target, secondaryReq, func(slot *targetSlot, evs []Evidence) {
			for i := range evs {
				evs[i].Annotation.CompareSecondary = true
			}
			slot.secondary = evs
		})
	}

	_ = g.Wait()
	if deadline || fanCtx.Err() != nil {
		out.latencyBudgetHit = true
		out.degradeReason = "timeout_partial_results"
	}

	var primaries, secondaries []Evidence
	for i, slot := range slots {
		primaries = append(primaries, slot.primary...)
		secondaries = append(secondaries, slot.secondary...)
		out.perBook[targets[i].label()] = len(slot.primary) + len(slot.secondary)
	}
	maxSecondary := int(float64(len(primaries)) * p.cfg.SecondaryMaxRatio)
	if len(secondaries) > maxSecondary {
		dropped := secondaries[maxSecondary:]
		secondaries = secondaries[:maxSecondary]
		for _, ev := range dropped {
			out.perBook[ev.Annotation.CompareTarget.String()]--
		}
	}
	out.evidence = append(primaries, secondaries...)
}

// resolveTitleTargets fuzzy-matches catalog titles against the
// question. A title matches when the normalized question contains it
// whole, when every title keyword appears on a stem boundary, or when
// a single-keyword title is within edit distance one of some question
// token.
func resolveTitleTargets(question string, titles []storage.BookTitle) []uuid.UUID {
	nq := textnorm.Normalize(question)
	if nq == "" {
		return nil
	}
	qTokens := textnorm.Tokenize(nq)

	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, bt := range titles {
		if seen[bt.ItemID] {
			continue
		}
		if titleMatches(nq, qTokens, bt.Title) {
			seen[bt.ItemID] = true
			ids = append(ids, bt.ItemID)
		}
	}
	return ids
}

func titleMatches(nq string, qTokens []string, title string) bool {
	nt := textnorm.Normalize(title)
	if nt == "" {
		return false
	}
	if strings.Contains(nq, nt) {
		return true
	}
	keywords := textnorm.Keywords(title)
	if len(keywords) == 0 {
		return false
	}
	all := true
	for _, kw := range keywords {
		if textnorm.CountStemMatches(nq, kw) == 0 {
			all = false
			break
		}
	}
	if all {
		return true
	}
	if len(keywords) == 1 && len([]rune(keywords[0])) >= 4 {
		for _, tok := range qTokens {
			if textnorm.EditDistance(tok, keywords[0]) <= 1 {
				return true
			}
		}
	}
	return false
}
