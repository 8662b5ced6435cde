package pipeline

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/rerank"
)

// mockRerankProvider 返回预置结果或错误。
type mockRerankProvider struct {
	results []rerank.Result
	err     error
}

func (m *mockRerankProvider) Rerank(_ context.Context, _ *rerank.Request) ([]rerank.Result, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func (m *mockRerankProvider) Name() string      { return "mock" }
func (m *mockRerankProvider) MaxDocuments() int { return 1000 }

func fusedFixture(ids ...string) []FusedCandidate {
	out := make([]FusedCandidate, len(ids))
	for i, id := range ids {
		out[i] = FusedCandidate{
			Candidate:   candidate(id, 1.0),
			FusionScore: 1.0 / float64(61+i),
		}
	}
	return out
}

func TestReranker_ReordersByRelevance(t *testing.T) {
	provider := &mockRerankProvider{results: []rerank.Result{
		{Index: 2, RelevanceScore: 0.95},
		{Index: 0, RelevanceScore: 0.40},
	}}
	reranker := NewReranker(provider, 15, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", fusedFixture("a", "b", "c"))
	if degraded {
		t.Fatal("expected no degradation")
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].Candidate.Fragment.ID != "c" {
		t.Errorf("expected c first, got %s", ranked[0].Candidate.Fragment.ID)
	}
	if !ranked[0].Reranked {
		t.Error("expected result to be marked as reranked")
	}
	if ranked[0].Relevance != 0.95 {
		t.Errorf("expected relevance 0.95, got %v", ranked[0].Relevance)
	}
}

func TestReranker_FallbackPreservesFusionOrder(t *testing.T) {
	provider := &mockRerankProvider{err: errors.New("rerank service down")}
	reranker := NewReranker(provider, 2, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", fusedFixture("a", "b", "c"))
	if !degraded {
		t.Fatal("expected degraded fallback")
	}
	if len(ranked) != 2 {
		t.Fatalf("expected truncation to top 2, got %d", len(ranked))
	}
	for i, want := range []string{"a", "b"} {
		if ranked[i].Candidate.Fragment.ID != want {
			t.Errorf("expected fusion order preserved at %d: want %s got %s",
				i, want, ranked[i].Candidate.Fragment.ID)
		}
		if ranked[i].Reranked {
			t.Error("fallback results must not be marked as reranked")
		}
		if ranked[i].Relevance != ranked[i].FusionScore {
			t.Error("fallback relevance must reuse the fusion score")
		}
	}
}

func TestReranker_NilProviderFallsBack(t *testing.T) {
	reranker := NewReranker(nil, 15, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", fusedFixture("a", "b"))
	if !degraded {
		t.Fatal("expected degraded fallback without a provider")
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
}

func TestReranker_OutOfRangeIndexDiscarded(t *testing.T) {
	provider := &mockRerankProvider{results: []rerank.Result{
		{Index: 7, RelevanceScore: 0.99},
		{Index: 1, RelevanceScore: 0.50},
	}}
	reranker := NewReranker(provider, 15, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", fusedFixture("a", "b"))
	if degraded {
		t.Fatal("expected no degradation")
	}
	if len(ranked) != 1 {
		t.Fatalf("expected out-of-range index to be dropped, got %d results", len(ranked))
	}
	if ranked[0].Candidate.Fragment.ID != "b" {
		t.Errorf("expected b, got %s", ranked[0].Candidate.Fragment.ID)
	}
}

func TestReranker_AllIndicesInvalidFallsBack(t *testing.T) {
	provider := &mockRerankProvider{results: []rerank.Result{
		{Index: 9, RelevanceScore: 0.99},
	}}
	reranker := NewReranker(provider, 15, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", fusedFixture("a"))
	if !degraded {
		t.Fatal("expected fallback when every index is invalid")
	}
	if len(ranked) != 1 {
		t.Fatalf("expected 1 fallback result, got %d", len(ranked))
	}
}

func TestReranker_EmptyInput(t *testing.T) {
	reranker := NewReranker(&mockRerankProvider{}, 15, zap.NewNop())

	ranked, degraded := reranker.Rerank(context.Background(), "query", nil)
	if ranked != nil || degraded {
		t.Error("expected empty input to produce no results and no degradation")
	}
}
