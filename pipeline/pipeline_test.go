package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/cache"
	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/llm/tokenizer"
	"github.com/BaSui01/docqa/types"
)

// mockLLM 可配置的模拟 LLM。completeFn 存在时按提示词路由，
// 否则返回固定文本/错误。
type mockLLM struct {
	completeText  string
	completeErr   error
	completeUsage llm.Usage
	completeFn    func(req llm.CompletionRequest) (string, error)

	embedFn  func(text string) []float64
	embedErr error

	lastRequest llm.CompletionRequest
}

func (m *mockLLM) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	m.lastRequest = req
	if m.completeFn != nil {
		text, err := m.completeFn(req)
		if err != nil {
			return nil, err
		}
		return &llm.CompletionResponse{Text: text, Usage: m.completeUsage}, nil
	}
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return &llm.CompletionResponse{Text: m.completeText, Usage: m.completeUsage}, nil
}

func (m *mockLLM) Embed(_ context.Context, text string) ([]float64, error) {
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.embedFn != nil {
		return m.embedFn(text), nil
	}
	return nil, nil
}

func (m *mockLLM) Name() string { return "mock-llm" }

// routedLLM 按提示词内容路由的标准测试 LLM：
// 扩展请求返回五个变体，分解请求返回子问题，其余按生成处理。
func routedLLM(answer string) *mockLLM {
	return &mockLLM{
		completeUsage: llm.Usage{PromptTokens: 100, CompletionTokens: 25},
		completeFn: func(req llm.CompletionRequest) (string, error) {
			switch {
			case strings.Contains(req.Prompt, "alternative search queries"):
				return "1. system database configuration\n" +
					"2. system database wiring\n" +
					"3. system database troubleshooting\n" +
					"4. system database specification\n" +
					"5. system database installation", nil
			case strings.Contains(req.Prompt, "Sub-questions:"):
				return "1. what is system database addressing\n" +
					"2. what is point-to-point addressing", nil
			default:
				return answer, nil
			}
		},
	}
}

// testCorpus 构建单一来源系统的内存语料。
func testCorpus(t *testing.T) *corpus.MemoryStore {
	t.Helper()
	store := corpus.NewMemoryStore(corpus.DefaultMemoryStoreConfig(), zap.NewNop())

	var fragments []corpus.Fragment
	for i := 0; i < 12; i++ {
		fragments = append(fragments, corpus.Fragment{
			ID:           fmt.Sprintf("frag-%02d", i),
			SourceID:     "manual.pdf",
			SourceSystem: "system-db",
			SourceType:   "document",
			Content: fmt.Sprintf("Section %d. The system database stores device addresses and routing "+
				"configuration for every controller on the network segment %d.", i, i),
			Position: corpus.Position{Page: 10 + i, SectionPath: fmt.Sprintf("3.%d", i)},
			Topics:   []string{"configuration"},
		})
	}
	store.Index(fragments, nil)
	return store
}

func newTestPipeline(t *testing.T, store *corpus.MemoryStore, provider llm.Provider, opts Options) *Pipeline {
	t.Helper()
	logger := zap.NewNop()
	counter := tokenizer.NewSafeCounter(fixedTokenizer{}, logger)

	return New(
		NewAnalyzer(DefaultAnalyzerConfig(), logger),
		NewQueryExpander(DefaultExpanderConfig(), provider, logger),
		NewParallelRetriever(DefaultFusionConfig(), store, provider, logger),
		NewReranker(nil, 15, logger),
		NewContextValidator(DefaultValidatorConfig(), logger),
		NewContextExpander(ContextExpanderConfig{TokenBudget: 6000}, store, counter, logger),
		NewMultiHopRetriever(DefaultMultiHopConfig(), store, provider, logger),
		NewGenerator(DefaultGeneratorConfig(), provider, logger),
		NewVerifier(DefaultVerifierConfig(), provider, logger),
		provider,
		opts,
		logger,
	)
}

func TestPipeline_DefinitionQuestionEndToEnd(t *testing.T) {
	provider := routedLLM("The system database stores device addresses and routing configuration for every controller.")
	p := newTestPipeline(t, testCorpus(t), provider, Options{})

	resp, err := p.Ask(context.Background(), Request{Question: "What is the system database?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	if resp.Clarification != nil {
		t.Fatalf("expected an answer, got clarification %+v", resp.Clarification)
	}
	if resp.Answer == nil {
		t.Fatal("expected an answer")
	}
	if resp.Stats.Strategy != StrategyFusion {
		t.Errorf("expected fusion strategy, got %s", resp.Stats.Strategy)
	}
	if resp.Stats.VariantsSucceeded != 5 {
		t.Errorf("expected 5 succeeded variants, got %d", resp.Stats.VariantsSucceeded)
	}
	if len(resp.Answer.Citations) == 0 {
		t.Error("expected citations")
	}
	if resp.Answer.Confidence < 0.85 {
		t.Errorf("expected grounded answer above threshold, got %v", resp.Answer.Confidence)
	}
	if resp.Answer.Disclaimer != "" {
		t.Errorf("expected no disclaimer, got %q", resp.Answer.Disclaimer)
	}
	if resp.RequestID == "" {
		t.Error("expected a request ID")
	}
	// 精排提供者缺失，必须以降级方式完成
	if resp.Stats.RerankApplied {
		t.Error("expected rerank fallback without a provider")
	}
}

func TestPipeline_GreetingShortCircuits(t *testing.T) {
	provider := routedLLM("unused")
	p := newTestPipeline(t, testCorpus(t), provider, Options{})

	resp, err := p.Ask(context.Background(), Request{Question: "Hello!"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if resp.Stats.Strategy != StrategyGreeting {
		t.Errorf("expected greeting strategy, got %s", resp.Stats.Strategy)
	}
	if resp.Answer == nil || resp.Answer.Text == "" {
		t.Fatal("expected a canned greeting answer")
	}
	if len(resp.Answer.Citations) != 0 {
		t.Error("greeting must not carry citations")
	}
}

func TestPipeline_AmbiguousQueryStops(t *testing.T) {
	provider := routedLLM("unused")
	p := newTestPipeline(t, testCorpus(t), provider, Options{})

	resp, err := p.Ask(context.Background(), Request{Question: "How does it work?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if resp.Clarification == nil {
		t.Fatal("expected a clarification")
	}
	if resp.Answer != nil {
		t.Error("clarification and answer are mutually exclusive")
	}
	if resp.Clarification.Kind != types.ClarifyAmbiguousQuery {
		t.Errorf("expected ambiguous_query, got %s", resp.Clarification.Kind)
	}
}

func TestPipeline_MixedSourcesRequestClarification(t *testing.T) {
	store := corpus.NewMemoryStore(corpus.DefaultMemoryStoreConfig(), zap.NewNop())
	var fragments []corpus.Fragment
	systems := []string{"system-a", "system-b", "system-c"}
	for i := 0; i < 12; i++ {
		fragments = append(fragments, corpus.Fragment{
			ID:           fmt.Sprintf("frag-%02d", i),
			SourceID:     fmt.Sprintf("manual-%s.pdf", systems[i%3]),
			SourceSystem: systems[i%3],
			SourceType:   "document",
			Content:      fmt.Sprintf("The system database stores addresses for %s controllers item %d.", systems[i%3], i),
		})
	}
	store.Index(fragments, nil)

	provider := routedLLM("unused")
	p := newTestPipeline(t, store, provider, Options{})

	resp, err := p.Ask(context.Background(), Request{Question: "What is the system database?"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if resp.Clarification == nil {
		t.Fatal("expected inconsistent-context clarification")
	}
	if resp.Clarification.Kind != types.ClarifyInconsistentContext {
		t.Errorf("expected inconsistent_context, got %s", resp.Clarification.Kind)
	}
}

func TestPipeline_ComparisonUsesMultiHop(t *testing.T) {
	provider := routedLLM("System database addressing is centrally stored while point-to-point addressing is configured per device.")
	p := newTestPipeline(t, testCorpus(t), provider, Options{})

	resp, err := p.Ask(context.Background(), Request{
		Question: "Compare system database addressing versus point-to-point addressing for controllers",
	})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if resp.Clarification != nil {
		t.Fatalf("expected an answer, got clarification %+v", resp.Clarification)
	}
	if resp.Stats.Strategy != StrategyMultiHop {
		t.Errorf("expected multi_hop strategy, got %s", resp.Stats.Strategy)
	}
	if resp.Answer == nil {
		t.Fatal("expected an answer")
	}
}

func TestPipeline_EmptyQuestionRejected(t *testing.T) {
	provider := routedLLM("unused")
	p := newTestPipeline(t, testCorpus(t), provider, Options{})

	_, err := p.Ask(context.Background(), Request{Question: ""})
	if !types.IsCode(err, types.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST, got %v", err)
	}
}

func TestPipeline_SecondAskHitsCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(rdb, cache.DefaultConfig(), zap.NewNop())

	provider := routedLLM("The system database stores device addresses and routing configuration for every controller.")
	p := newTestPipeline(t, testCorpus(t), provider, Options{Cache: store})

	first, err := p.Ask(context.Background(), Request{Question: "What is the system database?"})
	if err != nil {
		t.Fatalf("first Ask failed: %v", err)
	}
	if first.Stats.CacheHit != "" {
		t.Fatal("first request must not hit the cache")
	}

	second, err := p.Ask(context.Background(), Request{Question: "What is the system database?"})
	if err != nil {
		t.Fatalf("second Ask failed: %v", err)
	}
	if second.Stats.Strategy != StrategyCache {
		t.Errorf("expected cache strategy, got %s", second.Stats.Strategy)
	}
	if second.Stats.CacheHit != string(cache.HitExact) {
		t.Errorf("expected exact cache hit, got %q", second.Stats.CacheHit)
	}
	if second.Answer == nil || second.Answer.Text != first.Answer.Text {
		t.Error("expected the cached answer verbatim")
	}
}

// countingLLM 统计底层 provider 的调用次数。
type countingLLM struct {
	inner     llm.Provider
	completes int
	embeds    int
}

func (c *countingLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	c.completes++
	return c.inner.Complete(ctx, req)
}

func (c *countingLLM) Embed(ctx context.Context, text string) ([]float64, error) {
	c.embeds++
	return c.inner.Embed(ctx, text)
}

func (c *countingLLM) Name() string { return c.inner.Name() }

func TestPipeline_CacheHitSkipsProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(rdb, cache.DefaultConfig(), zap.NewNop())

	provider := &countingLLM{inner: routedLLM("The system database stores device addresses and routing configuration for every controller.")}
	p := newTestPipeline(t, testCorpus(t), provider, Options{Cache: store})

	if _, err := p.Ask(context.Background(), Request{Question: "What is the system database?"}); err != nil {
		t.Fatalf("first Ask failed: %v", err)
	}

	provider.completes = 0
	provider.embeds = 0

	resp, err := p.Ask(context.Background(), Request{Question: "What is the system database?"})
	if err != nil {
		t.Fatalf("second Ask failed: %v", err)
	}
	if resp.Stats.CacheHit != string(cache.HitExact) {
		t.Fatalf("expected exact cache hit, got %q", resp.Stats.CacheHit)
	}
	// 精确命中不得再调用模型，生成与嵌入都要省掉
	if provider.completes != 0 || provider.embeds != 0 {
		t.Errorf("exact hit must not touch the provider, saw completes=%d embeds=%d",
			provider.completes, provider.embeds)
	}
}

func TestPipeline_ScopeIsolatesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := cache.NewStore(rdb, cache.DefaultConfig(), zap.NewNop())

	corpusStore := corpus.NewMemoryStore(corpus.DefaultMemoryStoreConfig(), zap.NewNop())
	var fragments []corpus.Fragment
	for _, source := range []string{"manual-a.pdf", "manual-b.pdf"} {
		for i := 0; i < 12; i++ {
			fragments = append(fragments, corpus.Fragment{
				ID:           fmt.Sprintf("%s-%02d", source, i),
				SourceID:     source,
				SourceSystem: "system-db",
				SourceType:   "document",
				Content: fmt.Sprintf("Section %d. The system database stores device addresses and routing "+
					"configuration for every controller on segment %d.", i, i),
			})
		}
	}
	corpusStore.Index(fragments, nil)

	provider := routedLLM("The system database stores device addresses and routing configuration for every controller.")
	p := newTestPipeline(t, corpusStore, provider, Options{Cache: store})

	if _, err := p.Ask(context.Background(), Request{Question: "What is the system database?", Scope: "manual-a.pdf"}); err != nil {
		t.Fatalf("Ask failed: %v", err)
	}

	// 不同 scope 的相同问题不得命中
	resp, err := p.Ask(context.Background(), Request{Question: "What is the system database?", Scope: "manual-b.pdf"})
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if resp.Stats.Strategy == StrategyCache {
		t.Error("cache must not leak across scopes")
	}
}
