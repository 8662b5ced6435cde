package corpus

import (
	"context"
	"math"
	"testing"

	"go.uber.org/zap"
)

func indexedStore(t *testing.T, fragments []Fragment, assets []Asset) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(DefaultMemoryStoreConfig(), zap.NewNop())
	store.Index(fragments, assets)
	return store
}

func keywordQuery(text string) HybridQuery {
	return HybridQuery{Text: text, SemanticWeight: 0.0, KeywordWeight: 1.0, TopK: 10}
}

func TestHybridSearch_KeywordRelevanceOrdering(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "a", SourceID: "doc", Content: "the panel supports zone expansion modules"},
		{ID: "b", SourceID: "doc", Content: "system database holds device addresses for the network"},
		{ID: "c", SourceID: "doc", Content: "the system database is edited from the database menu of the system"},
	}, nil)

	got, err := store.HybridSearch(context.Background(), keywordQuery("system database"))
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(got) == 0 {
		t.Fatal("expected candidates")
	}
	if got[0].Fragment.ID != "c" {
		t.Errorf("expected the term-dense fragment first, got %s", got[0].Fragment.ID)
	}
	for _, cand := range got {
		if cand.Fragment.ID == "a" {
			t.Error("fragment without query terms must not score")
		}
	}
}

func TestHybridSearch_GraduatedTopicBoost(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "none", SourceID: "doc", Content: "wiring the device addresses"},
		{ID: "one", SourceID: "doc", Content: "wiring the device addresses", Topics: []string{"wiring"}},
		{ID: "two", SourceID: "doc", Content: "wiring the device addresses", Topics: []string{"wiring", "installation"}},
	}, nil)

	q := keywordQuery("wiring device addresses")
	q.IncludeTopics = []string{"wiring", "installation"}
	got, err := store.HybridSearch(context.Background(), q)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("topic weighting must not filter, got %d candidates", len(got))
	}

	// 内容相同，排序只由主题乘数决定
	if got[0].Fragment.ID != "two" || got[1].Fragment.ID != "one" || got[2].Fragment.ID != "none" {
		t.Errorf("expected order two > one > none, got %s %s %s",
			got[0].Fragment.ID, got[1].Fragment.ID, got[2].Fragment.ID)
	}
	if got[0].TopicBoost != 1.5 {
		t.Errorf("expected multi-topic boost 1.5, got %v", got[0].TopicBoost)
	}
	if got[1].TopicBoost != 1.3 {
		t.Errorf("expected single-topic boost 1.3, got %v", got[1].TopicBoost)
	}
	if got[2].TopicBoost != 1.0 {
		t.Errorf("expected neutral boost 1.0, got %v", got[2].TopicBoost)
	}
}

func TestHybridSearch_ExcludeTopicsIsHardFilter(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "keep", SourceID: "doc", Content: "panel wiring guide"},
		{ID: "drop", SourceID: "doc", Content: "panel wiring guide", Topics: []string{"legacy"}},
	}, nil)

	q := keywordQuery("panel wiring")
	q.ExcludeTopics = []string{"legacy"}
	got, err := store.HybridSearch(context.Background(), q)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	for _, cand := range got {
		if cand.Fragment.ID == "drop" {
			t.Error("excluded topic must be hard-filtered")
		}
	}
	if len(got) != 1 {
		t.Errorf("expected 1 candidate, got %d", len(got))
	}
}

func TestHybridSearch_ScopeFilter(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "a", SourceID: "manual-a.pdf", Content: "system database overview"},
		{ID: "b", SourceID: "manual-b.pdf", Content: "system database overview"},
	}, nil)

	q := keywordQuery("system database")
	q.Scope = "manual-a.pdf"
	got, err := store.HybridSearch(context.Background(), q)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(got) != 1 || got[0].Fragment.ID != "a" {
		t.Errorf("expected only the scoped fragment, got %+v", got)
	}
}

func TestHybridSearch_SemanticScoring(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "near", SourceID: "doc", Content: "alpha", Embedding: []float64{1, 0}},
		{ID: "far", SourceID: "doc", Content: "beta", Embedding: []float64{0, 1}},
	}, nil)

	got, err := store.HybridSearch(context.Background(), HybridQuery{
		Text:           "gamma",
		Embedding:      []float64{0.9, 0.1},
		SemanticWeight: 1.0,
		KeywordWeight:  0.0,
		TopK:           10,
	})
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(got) == 0 || got[0].Fragment.ID != "near" {
		t.Fatalf("expected the embedding-near fragment first, got %+v", got)
	}
}

func TestHybridSearch_TopKTruncation(t *testing.T) {
	var fragments []Fragment
	for i := 0; i < 8; i++ {
		fragments = append(fragments, Fragment{
			ID:       string(rune('a' + i)),
			SourceID: "doc",
			Content:  "repeated content about the panel",
		})
	}
	store := indexedStore(t, fragments, nil)

	q := keywordQuery("panel")
	q.TopK = 3
	got, err := store.HybridSearch(context.Background(), q)
	if err != nil {
		t.Fatalf("HybridSearch failed: %v", err)
	}
	if len(got) > 3 {
		t.Errorf("expected at most 3 candidates, got %d", len(got))
	}
}

func TestSiblingsAndParent_WindowAndParent(t *testing.T) {
	store := indexedStore(t, []Fragment{
		{ID: "parent", SourceID: "doc", Position: Position{SectionPath: "3"}},
		{ID: "s1", SourceID: "doc", Position: Position{SectionPath: "3/3.1"}},
		{ID: "s2", SourceID: "doc", Position: Position{SectionPath: "3/3.2"}},
		{ID: "s3", SourceID: "doc", Position: Position{SectionPath: "3/3.3"}},
		{ID: "s4", SourceID: "doc", Position: Position{SectionPath: "3/3.4"}},
		{ID: "other", SourceID: "another-doc", Position: Position{SectionPath: "3/3.2"}},
	}, nil)

	got, err := store.SiblingsAndParent(context.Background(), "s2", 1)
	if err != nil {
		t.Fatalf("SiblingsAndParent failed: %v", err)
	}

	ids := make(map[string]bool, len(got))
	for _, frag := range got {
		ids[frag.ID] = true
	}
	for _, want := range []string{"s1", "s3", "parent"} {
		if !ids[want] {
			t.Errorf("expected %s in the hierarchy window, got %v", want, ids)
		}
	}
	if ids["s2"] {
		t.Error("the fragment itself must not be returned")
	}
	if ids["s4"] {
		t.Error("s4 is outside the window")
	}
	if ids["other"] {
		t.Error("siblings must come from the same source")
	}
}

func TestSiblingsAndParent_UnknownFragment(t *testing.T) {
	store := indexedStore(t, []Fragment{{ID: "a", SourceID: "doc"}}, nil)

	got, err := store.SiblingsAndParent(context.Background(), "missing", 2)
	if err != nil {
		t.Fatalf("SiblingsAndParent failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no results for unknown fragment, got %d", len(got))
	}
}

func TestAttachedAssets(t *testing.T) {
	store := indexedStore(t,
		[]Fragment{{ID: "a", SourceID: "doc"}},
		[]Asset{
			{ID: "img-1", Kind: "image", SectionPath: "3/3.2", Caption: "wiring diagram"},
			{ID: "tbl-1", Kind: "table", SectionPath: "3/3.2"},
			{ID: "img-2", Kind: "image", SectionPath: "4/4.1"},
		})

	got, err := store.AttachedAssets(context.Background(), "3/3.2")
	if err != nil {
		t.Fatalf("AttachedAssets failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(got))
	}
	for _, asset := range got {
		if asset.SectionPath != "3/3.2" {
			t.Errorf("asset %s is outside the section", asset.ID)
		}
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float64{1, 0}, []float64{1, 0}); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors must score 1, got %v", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors must score 0, got %v", got)
	}
	if got := CosineSimilarity(nil, []float64{1}); got != 0 {
		t.Errorf("nil input must score 0, got %v", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{1}); got != 0 {
		t.Errorf("mismatched lengths must score 0, got %v", got)
	}
}
