package answer

import (
	"fmt"
	"strings"

	"github.com/tomehub/tomehub/internal/rag"
)

// Memory zone labels. The prompt always carries all three zones in this
// order; empty zones render the placeholder.
const (
	zoneSummary  = "CONVERSATION SUMMARY (long-term):"
	zoneRecent   = "RECENT MESSAGES (short-term):"
	zoneEvidence = "FOUND EVIDENCE:"
	zoneEmpty    = "(yok)"
)

const (
	sourceSnippetRunes = 200

	evidenceTextRunes       = 1200
	budgetEvidenceTextRunes = 700
	budgetEvidenceBlockMax  = 12

	analyticStyleThreshold = 4.0
)

// Answer format headings. QUOTE and SYNTHESIS share the three-section
// layout; HYBRID uses the two-view layout that separates library
// evidence from outside knowledge.
const (
	headingDefinitions = "## Doğrudan Tanımlar"
	headingAnalysis    = "## Bağlamsal Analiz"
	headingConclusion  = "## Sonuç"
	headingLibrary     = "## Kütüphanenizden"
	headingOutside     = "## Kütüphane Dışından"
)

// requiredHeadings lists the headings the short-answer check expects for
// a mode.
func requiredHeadings(mode rag.AnswerMode) []string {
	switch mode {
	case rag.ModeQuote:
		return []string{headingDefinitions, headingAnalysis, headingConclusion}
	case rag.ModeHybrid:
		return []string{headingLibrary, headingConclusion}
	default:
		return []string{headingAnalysis, headingConclusion}
	}
}

// quotabilityMarker maps the chunk's quotability grade onto the
// instruction marker line of its evidence block.
func quotabilityMarker(q rag.Quotability) string {
	switch q {
	case rag.QuotabilityHigh:
		return "★★★ Birebir alıntıla"
	case rag.QuotabilityMedium:
		return "★★ Bağlam içinde kullan"
	default:
		return "★ Sentezle"
	}
}

// builtPrompt is one assembled generation request: the mode template as
// the system message, the zoned user prompt, and the evidence actually
// included after budgeting.
type builtPrompt struct {
	system string
	user   string
	used   []rag.Evidence
}

// promptBuilder renders the memory-augmented prompt and the per-mode
// system templates.
type promptBuilder struct {
	historyTurns  int
	contextBudget bool
}

func newPromptBuilder(historyTurns int, contextBudget bool) *promptBuilder {
	return &promptBuilder{historyTurns: historyTurns, contextBudget: contextBudget}
}

// build assembles the full prompt for the context's answer mode.
func (p *promptBuilder) build(req rag.Request, actx *rag.Context, bridge []string) builtPrompt {
	used := actx.Evidence
	textLimit := evidenceTextRunes
	if p.contextBudget {
		textLimit = budgetEvidenceTextRunes
		if len(used) > budgetEvidenceBlockMax {
			used = used[:budgetEvidenceBlockMax]
		}
	}

	var b strings.Builder

	b.WriteString(zoneSummary)
	b.WriteString("\n")
	if s := strings.TrimSpace(req.SessionSummary); s != "" {
		b.WriteString(s)
	} else {
		b.WriteString(zoneEmpty)
	}
	b.WriteString("\n\n")

	b.WriteString(zoneRecent)
	b.WriteString("\n")
	turns := req.ChatHistory
	if len(turns) > p.historyTurns {
		turns = turns[len(turns)-p.historyTurns:]
	}
	if len(turns) == 0 {
		b.WriteString(zoneEmpty)
		b.WriteString("\n")
	} else {
		for _, turn := range turns {
			b.WriteString(turn.Role)
			b.WriteString(": ")
			b.WriteString(turn.Content)
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")

	b.WriteString(zoneEvidence)
	b.WriteString("\n")
	if len(used) == 0 {
		b.WriteString(zoneEmpty)
		b.WriteString("\n")
	} else {
		for i, ev := range used {
			b.WriteString(evidenceBlock(i+1, ev, textLimit))
			b.WriteString("\n")
		}
	}
	if len(bridge) > 0 {
		b.WriteString("\nKAVRAM BAĞLARI:\n")
		for _, line := range bridge {
			b.WriteString("- ")
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\nSORU: ")
	b.WriteString(actx.Question)

	return builtPrompt{
		system: p.systemFor(actx, actx.Mode),
		user:   b.String(),
		used:   used,
	}
}

// evidenceBlock renders one chunk with its epistemic header and
// quotability marker.
func evidenceBlock(n int, ev rag.Evidence, textLimit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "KANIT %d [ID: %s | Score: %d/7 | Level: %s | Type: %s | Quotability: %s | ExactMatch: %t]\n",
		n,
		ev.ID.String()[:8],
		int(ev.Annotation.Score),
		ev.Annotation.Level,
		ev.Annotation.PassageType,
		ev.Annotation.Quotability,
		ev.Annotation.ExactMatch,
	)
	b.WriteString(quotabilityMarker(ev.Annotation.Quotability))
	b.WriteString("\n\"")
	b.WriteString(truncateRunes(strings.TrimSpace(ev.Text), textLimit))
	b.WriteString("\"\n")
	b.WriteString("Kaynak: ")
	b.WriteString(ev.Title)
	if ev.PageNumber != nil {
		fmt.Fprintf(&b, ", s. %d", *ev.PageNumber)
	}
	b.WriteString("\n")
	return b.String()
}

// systemFor composes the mode template: grounding rule from network
// status, style from confidence, and the fixed output format.
func (p *promptBuilder) systemFor(actx *rag.Context, mode rag.AnswerMode) string {
	parts := []string{
		"TomeHub kişisel kütüphane asistanısın. Soruyu FOUND EVIDENCE bölümündeki kanıtlara dayanarak Türkçe yanıtla.",
		"Kanıt işaretleri: ★★★ birebir alıntıla, ★★ bağlam içinde kullan, ★ sentezle.",
		groundingRule(actx.Network),
		styleRule(actx.Confidence),
		formatRule(mode),
	}
	if mode == rag.ModeQuote || mode == rag.ModeHybrid {
		if target, ok := actx.Metadata["quote_target_count"].(int); ok && target > 0 {
			parts = append(parts, fmt.Sprintf("En az %d doğrudan alıntıya yer ver; her alıntının kaynağını belirt.", target))
		}
	}
	return strings.Join(parts, "\n")
}

func groundingRule(status rag.NetworkStatus) string {
	switch status {
	case rag.NetworkIn:
		return "Yalnızca verilen kanıtları kullan; kanıtlarda olmayan bilgiyi ekleme."
	case rag.NetworkOut:
		return "Kanıtlar soruyu karşılamıyor. Yanıta \"notlarınızda bilgi bulamadım, \" ifadesiyle başla; genel bilgiyi ancak bu uyarıdan sonra ver."
	default:
		return "Önce kütüphane kanıtlarını kullan; genel bilgiyi en fazla iki cümleyle ekle ve kanıt dışı olduğunu belirt."
	}
}

func styleRule(confidence float64) string {
	if confidence >= analyticStyleThreshold {
		return "Üslup: çözümleyici. Kanıtları adım adım değerlendir, karşılaştır ve gerekçelendir."
	}
	return "Üslup: kısa ve öz. En güçlü kanıtlara odaklan."
}

func formatRule(mode rag.AnswerMode) string {
	switch mode {
	case rag.ModeQuote:
		return fmt.Sprintf("Yanıtı şu başlıklarla kur: %s, %s, %s. Alıntıları %s altında ver.",
			headingDefinitions, headingAnalysis, headingConclusion, headingDefinitions)
	case rag.ModeHybrid:
		return fmt.Sprintf("Yanıtı iki görünümle kur: %s, %s, %s.",
			headingLibrary, headingOutside, headingConclusion)
	default:
		return fmt.Sprintf("Yanıtı şu başlıklarla kur: %s (varsa), %s, %s.",
			headingDefinitions, headingAnalysis, headingConclusion)
	}
}

// truncateRunes bounds s to n runes, appending an ellipsis when cut.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
