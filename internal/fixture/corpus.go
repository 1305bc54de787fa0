// Package fixture builds the deterministic corpus used by the demo
// binary, the e2e suite and documentation examples: four library items
// with chunks, a small concept graph and external knowledge-base rows,
// all owned by one user. Identifiers are fixed so repeated seeding is
// idempotent and tests can reference rows directly.
package fixture

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomehub/tomehub/internal/embedding"
	"github.com/tomehub/tomehub/internal/storage"
	"github.com/tomehub/tomehub/internal/textnorm"
)

// Corpus holds the identifiers of the seeded rows.
type Corpus struct {
	UserID uuid.UUID

	NutukID   uuid.UUID
	SafahatID uuid.UUID
	ArticleID uuid.UUID
	NotesID   uuid.UUID

	// ConceptIDs is keyed by normalized concept name.
	ConceptIDs map[string]uuid.UUID

	ChunkCount int
}

// BookIDs returns the two book item ids, for compare requests.
func (c *Corpus) BookIDs() []uuid.UUID {
	return []uuid.UUID{c.NutukID, c.SafahatID}
}

// fid derives a fixed uuid from a small ordinal.
func fid(n int) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("f1c70000-0000-4000-8000-%012x", n))
}

func strptr(s string) *string { return &s }
func intptr(n int) *int       { return &n }

// NewMemoryCorpus seeds a fresh in-memory store using deterministic
// mock embeddings.
func NewMemoryCorpus(ctx context.Context) (*storage.MemoryStore, *Corpus, error) {
	store := storage.NewMemoryStore()
	corpus, err := Seed(ctx, store, embedding.NewMockClient(64))
	if err != nil {
		return nil, nil, err
	}
	return store, corpus, nil
}

// Seed writes the corpus through the store's write surface. A nil
// embedder seeds a lexical-only corpus without vectors.
func Seed(ctx context.Context, store storage.WriteStore, embedder embedding.Embedder) (*Corpus, error) {
	corpus := &Corpus{
		UserID:    fid(0x01),
		NutukID:   fid(0x10),
		SafahatID: fid(0x20),
		ArticleID: fid(0x30),
		NotesID:   fid(0x40),
		ConceptIDs: map[string]uuid.UUID{
			"vicdan": fid(0x100),
			"ahlak":  fid(0x101),
			"erdem":  fid(0x102),
		},
	}

	if err := seedItems(ctx, store, corpus); err != nil {
		return nil, err
	}

	chunks := corpusChunks(corpus)
	if embedder != nil {
		if err := embedChunks(ctx, embedder, chunks); err != nil {
			return nil, fmt.Errorf("embedding fixture chunks: %w", err)
		}
	}
	if err := store.UpsertChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("seeding chunks: %w", err)
	}
	corpus.ChunkCount = len(chunks)

	// Shadow copies of the two definitional Nutuk passages serve the
	// shadow-index read path when it is enabled.
	shadow := []storage.Chunk{chunks[0], chunks[1]}
	shadow[0].ID = fid(0x900)
	shadow[1].ID = fid(0x901)
	if err := store.UpsertShadowChunks(ctx, shadow); err != nil {
		return nil, fmt.Errorf("seeding shadow chunks: %w", err)
	}

	if err := seedGraph(ctx, store, corpus); err != nil {
		return nil, err
	}
	if err := seedExternal(ctx, store, corpus); err != nil {
		return nil, err
	}
	return corpus, nil
}

func seedItems(ctx context.Context, store storage.WriteStore, c *Corpus) error {
	items := []storage.LibraryItem{
		{
			ID:      c.NutukID,
			UserID:  c.UserID,
			Type:    storage.ItemTypeBook,
			Title:   "Nutuk",
			Author:  strptr("Mustafa Kemal Atatürk"),
			Summary: strptr("1919-1927 yılları arasındaki Milli Mücadele dönemini birinci elden anlatan eser."),
			Tags:    []string{"tarih", "söylev"},
		},
		{
			ID:      c.SafahatID,
			UserID:  c.UserID,
			Type:    storage.ItemTypeBook,
			Title:   "Safahat",
			Author:  strptr("Mehmed Âkif Ersoy"),
			Summary: strptr("Toplumsal ve ahlaki meseleleri manzum hikâyelerle işleyen şiir külliyatı."),
			Tags:    []string{"şiir", "ahlak"},
		},
		{
			ID:     c.ArticleID,
			UserID: c.UserID,
			Type:   storage.ItemTypeArticle,
			Title:  "Ahlak Felsefesine Giriş",
			Author: strptr("Derleme"),
			Tags:   []string{"felsefe"},
		},
		{
			ID:         c.NotesID,
			UserID:     c.UserID,
			Type:       storage.ItemTypePersonalNote,
			Title:      "Okuma Notları",
			Visibility: storage.VisibilityExcludedByDefault,
		},
	}
	for i := range items {
		if err := store.UpsertLibraryItem(ctx, &items[i]); err != nil {
			return fmt.Errorf("seeding item %s: %w", items[i].Title, err)
		}
	}
	return nil
}

// corpusChunks returns the chunk rows. The texts are arranged so the
// corpus has known lexical properties: Safahat contains "küfür" (and is
// the only PDF-ingested item), Nutuk contains "medeniyet" while the
// standalone word "niyet" appears nowhere, and the definitional vicdan
// passages live on Nutuk pages 12 and 45.
func corpusChunks(c *Corpus) []storage.Chunk {
	return []storage.Chunk{
		{
			ID: fid(0x11), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypeEPUB,
			Text:          "Vicdan, insanın içindeki yargıcın sesidir. Bir milletin vicdanında beliren karar, her türlü kuvvetin üstündedir.",
			Lemmas:        []string{"vicdan", "yargic", "ses", "millet", "karar", "kuvvet"},
			PageNumber:    intptr(12), ChunkIndex: 0,
		},
		{
			ID: fid(0x12), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypeEPUB,
			Text:          "Milli mücadele, milletin vicdanından doğan bir harekettir. Bu hareketi yürüten irade, milletin ta kendisidir.",
			Lemmas:        []string{"milli", "mucadele", "millet", "vicdan", "hareket", "irade"},
			PageNumber:    intptr(45), ChunkIndex: 1,
		},
		{
			ID: fid(0x13), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypeEPUB,
			Text:          "Medeniyet yolunda yürümek ve muvaffak olmak, hayat şartıdır. Medeniyetin emrettiğini yapmak, insan olmanın gereğidir.",
			Lemmas:        []string{"medeniyet", "yol", "hayat", "sart", "insan"},
			PageNumber:    intptr(87), ChunkIndex: 2,
		},
		{
			ID: fid(0x14), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypeEPUB,
			Text:          "Hürriyet ve istiklal benim karakterimdir. Milletimin hürriyetine kasteden her kuvvete karşı durdum.",
			Lemmas:        []string{"hurriyet", "istiklal", "karakter", "millet", "kuvvet"},
			PageNumber:    intptr(102), ChunkIndex: 3,
		},
		{
			ID: fid(0x15), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeItemSummary,
			IngestionType: storage.IngestionTypeSync,
			Text:          "Nutuk, Milli Mücadele'nin safhalarını ve yeni devletin kuruluşunu anlatan tarihi bir söylevdir.",
			Lemmas:        []string{"milli", "mucadele", "devlet", "kurulus", "soylev"},
			ChunkIndex:    4,
		},
		{
			ID: fid(0x16), UserID: c.UserID, ItemID: c.NutukID,
			ContentType:   storage.ContentTypeHighlight,
			IngestionType: storage.IngestionTypeSync,
			Text:          "İstikbal göklerdedir.",
			Lemmas:        []string{"istikbal", "gok"},
			PageNumber:    intptr(150), ChunkIndex: 5,
			Comment:       strptr("Havacılık bahsinden."),
		},
		{
			ID: fid(0x21), UserID: c.UserID, ItemID: c.SafahatID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypePDF,
			Text:          "Küfür, insanı karanlığa sürükleyen bir uçurumdur. Şair, küfrün karşısına imanın ışığını koyar.",
			Lemmas:        []string{"kufur", "karanlik", "ucurum", "iman", "isik"},
			PageNumber:    intptr(23), ChunkIndex: 0,
		},
		{
			ID: fid(0x22), UserID: c.UserID, ItemID: c.SafahatID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypePDF,
			Text:          "Ahlak, bir milletin ruhudur; ahlakı çöken millet ayakta kalamaz.",
			Lemmas:        []string{"ahlak", "millet", "ruh"},
			PageNumber:    intptr(56), ChunkIndex: 1,
		},
		{
			ID: fid(0x23), UserID: c.UserID, ItemID: c.SafahatID,
			ContentType:   storage.ContentTypeBookChunk,
			IngestionType: storage.IngestionTypePDF,
			Text:          "Erdem, bilgiyle amel arasındaki köprüdür; şair erdemi topluma örnek kılar.",
			Lemmas:        []string{"erdem", "bilgi", "amel", "kopru", "toplum"},
			PageNumber:    intptr(78), ChunkIndex: 2,
		},
		{
			ID: fid(0x31), UserID: c.UserID, ItemID: c.ArticleID,
			ContentType:   storage.ContentTypeArticleBody,
			IngestionType: storage.IngestionTypeWeb,
			Text:          "Ahlak felsefesi, iyi ve kötünün ölçütlerini araştırır. Erdem etiği, Aristoteles'ten bu yana bu alanın merkezindedir.",
			Lemmas:        []string{"ahlak", "felsefe", "iyi", "kotu", "erdem", "etik"},
			ChunkIndex:    0,
		},
		{
			ID: fid(0x32), UserID: c.UserID, ItemID: c.ArticleID,
			ContentType:   storage.ContentTypeArticleBody,
			IngestionType: storage.IngestionTypeWeb,
			Text:          "Vicdan kavramı, modern etikte içsel denetim mekanizması olarak tanımlanır.",
			Lemmas:        []string{"vicdan", "etik", "denetim", "mekanizma"},
			ChunkIndex:    1,
		},
		{
			ID: fid(0x41), UserID: c.UserID, ItemID: c.NotesID,
			ContentType:   storage.ContentTypeNote,
			IngestionType: storage.IngestionTypeManual,
			Text:          "Vicdan üzerine: Nutuk'taki vicdan vurgusu, bireysel ahlaktan çok kolektif bir iradeye işaret ediyor.",
			Lemmas:        []string{"vicdan", "ahlak", "irade"},
			ChunkIndex:    0,
		},
		{
			ID: fid(0x42), UserID: c.UserID, ItemID: c.NotesID,
			ContentType:   storage.ContentTypeNote,
			IngestionType: storage.IngestionTypeManual,
			Text:          "Safahat okurken erdem ile iman arasındaki bağ dikkatimi çekti.",
			Lemmas:        []string{"erdem", "iman", "bag"},
			ChunkIndex:    1,
		},
	}
}

func embedChunks(ctx context.Context, embedder embedding.Embedder, chunks []storage.Chunk) error {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	vectors, err := embedder.Embed(ctx, texts, embedding.TaskRetrievalDocument)
	if err != nil {
		return err
	}
	model := embedder.Model()
	for i := range chunks {
		chunks[i].Vector = vectors[i]
		chunks[i].EmbeddingModel = &model
	}
	return nil
}

func seedGraph(ctx context.Context, store storage.WriteStore, c *Corpus) error {
	concepts := []storage.Concept{
		{
			ID:          c.ConceptIDs["vicdan"],
			Name:        "Vicdan",
			Aliases:     []string{"bulunç"},
			Description: strptr("İyi ile kötüyü ayırt ettiren iç duygu."),
		},
		{
			ID:          c.ConceptIDs["ahlak"],
			Name:        "Ahlak",
			Aliases:     []string{"etik"},
			Description: strptr("Bir toplumda benimsenen davranış kuralları bütünü."),
		},
		{
			ID:          c.ConceptIDs["erdem"],
			Name:        "Erdem",
			Aliases:     []string{"fazilet"},
			Description: strptr("Ahlaki bakımdan iyi ve övülmeye değer olma durumu."),
		},
	}
	for i := range concepts {
		concepts[i].NormalizedName = textnorm.Normalize(concepts[i].Name)
		if err := store.UpsertConcept(ctx, &concepts[i]); err != nil {
			return fmt.Errorf("seeding concept %s: %w", concepts[i].Name, err)
		}
	}

	relations := []storage.Relation{
		{ID: fid(0x200), SourceID: c.ConceptIDs["vicdan"], TargetID: c.ConceptIDs["ahlak"], Type: storage.RelationRelatedTo, Weight: 0.85},
		{ID: fid(0x201), SourceID: c.ConceptIDs["erdem"], TargetID: c.ConceptIDs["ahlak"], Type: storage.RelationPartOf, Weight: 0.7},
		{ID: fid(0x202), SourceID: c.ConceptIDs["vicdan"], TargetID: c.ConceptIDs["erdem"], Type: storage.RelationSemanticSimilarity, Weight: 0.6},
	}
	for i := range relations {
		if err := store.UpsertRelation(ctx, &relations[i]); err != nil {
			return fmt.Errorf("seeding relation: %w", err)
		}
	}

	links := []storage.ConceptChunkLink{
		{ConceptID: c.ConceptIDs["vicdan"], ChunkID: fid(0x11), Strength: 0.9},
		{ConceptID: c.ConceptIDs["vicdan"], ChunkID: fid(0x12), Strength: 0.75},
		{ConceptID: c.ConceptIDs["vicdan"], ChunkID: fid(0x32), Strength: 0.8},
		{ConceptID: c.ConceptIDs["ahlak"], ChunkID: fid(0x22), Strength: 0.9},
		{ConceptID: c.ConceptIDs["ahlak"], ChunkID: fid(0x31), Strength: 0.7},
		{ConceptID: c.ConceptIDs["erdem"], ChunkID: fid(0x23), Strength: 0.85},
		{ConceptID: c.ConceptIDs["erdem"], ChunkID: fid(0x31), Strength: 0.8},
	}
	for i := range links {
		if err := store.LinkConceptChunk(ctx, &links[i]); err != nil {
			return fmt.Errorf("seeding concept link: %w", err)
		}
	}
	return nil
}

func seedExternal(ctx context.Context, store storage.WriteStore, c *Corpus) error {
	entities := []storage.ExternalEntity{
		{ID: fid(0x300), Provider: storage.ProviderOpenLibrary, ExternalID: "OL262758W", Type: storage.ExternalEntityWork, Label: "Nutuk"},
		{ID: fid(0x301), Provider: storage.ProviderOpenLibrary, ExternalID: "OL2664538A", Type: storage.ExternalEntityAuthor, Label: "Mustafa Kemal Atatürk"},
		{ID: fid(0x302), Provider: storage.ProviderOpenLibrary, ExternalID: "milli_mucadele", Type: storage.ExternalEntitySubject, Label: "Milli Mücadele"},
		{ID: fid(0x303), Provider: storage.ProviderOpenLibrary, ExternalID: "turkish_history", Type: storage.ExternalEntitySubject, Label: "Türk Tarihi"},
		{ID: fid(0x310), Provider: storage.ProviderWikidata, ExternalID: "Q6060041", Type: storage.ExternalEntityWork, Label: "Safahat"},
		{ID: fid(0x311), Provider: storage.ProviderWikidata, ExternalID: "Q434551", Type: storage.ExternalEntityAuthor, Label: "Mehmed Âkif Ersoy"},
	}
	for i := range entities {
		if err := store.UpsertExternalEntity(ctx, &entities[i]); err != nil {
			return fmt.Errorf("seeding external entity %s: %w", entities[i].Label, err)
		}
	}

	edges := []storage.ExternalEdge{
		{ID: fid(0x320), UserID: c.UserID, ItemID: c.NutukID, SourceID: fid(0x300), TargetID: fid(0x301), Type: "HAS_AUTHOR", Weight: 0.95, Provider: storage.ProviderOpenLibrary},
		{ID: fid(0x321), UserID: c.UserID, ItemID: c.NutukID, SourceID: fid(0x300), TargetID: fid(0x302), Type: "HAS_SUBJECT", Weight: 0.9, Provider: storage.ProviderOpenLibrary},
		{ID: fid(0x322), UserID: c.UserID, ItemID: c.NutukID, SourceID: fid(0x300), TargetID: fid(0x303), Type: "HAS_SUBJECT", Weight: 0.8, Provider: storage.ProviderOpenLibrary},
		{ID: fid(0x330), UserID: c.UserID, ItemID: c.SafahatID, SourceID: fid(0x310), TargetID: fid(0x311), Type: "HAS_AUTHOR", Weight: 0.93, Provider: storage.ProviderWikidata},
	}
	for i := range edges {
		if err := store.UpsertExternalEdge(ctx, &edges[i]); err != nil {
			return fmt.Errorf("seeding external edge: %w", err)
		}
	}

	metas := []storage.ExternalMeta{
		{ItemID: c.NutukID, UserID: c.UserID, Provider: storage.ProviderOpenLibrary, ExternalID: "OL262758W", MatchScore: 0.92, EdgeCount: 3},
		{ItemID: c.SafahatID, UserID: c.UserID, Provider: storage.ProviderWikidata, ExternalID: "Q6060041", MatchScore: 0.84, EdgeCount: 1},
	}
	for i := range metas {
		if err := store.UpsertExternalMeta(ctx, &metas[i]); err != nil {
			return fmt.Errorf("seeding external meta: %w", err)
		}
	}
	return nil
}
