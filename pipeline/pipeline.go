// Package pipeline 实现自适应多阶段检索问答管线：
// 查询分析 → 自适应参数 → 变体扩展/多跳分解 → 并行混合检索与排名融合 →
// 精排 → 上下文校验 → 层级扩展 → 回答生成 → 事实性校验。
// 外层包着两级回答缓存与会话记忆。
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/docqa/cache"
	"github.com/BaSui01/docqa/conversation"
	"github.com/BaSui01/docqa/internal/metrics"
	"github.com/BaSui01/docqa/internal/metricstore"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// 检索策略标签。
const (
	StrategyFusion   = "fusion"
	StrategyMultiHop = "multi_hop"
	StrategyCache    = "cache"
	StrategyGreeting = "greeting"
)

const greetingReply = "Hello! Ask me anything about the product documentation and I will answer with citations to the source material."

// Pipeline 问答管线。各阶段组件在构造时注入，阶段之间通过显式的
// 请求内状态传递数据。
type Pipeline struct {
	analyzer  *Analyzer
	expander  *QueryExpander
	retriever *ParallelRetriever
	reranker  *Reranker
	validator *ContextValidator
	ctxExp    *ContextExpander
	multihop  *MultiHopRetriever
	generator *Generator
	verifier  *Verifier

	cache    *cache.Store
	sessions *conversation.Manager
	provider llm.Provider

	collector   *metrics.Collector
	metricStore *metricstore.Store
	tracer      trace.Tracer
	logger      *zap.Logger
}

// Options 管线的可选依赖。缓存、会话、指标都可以为 nil，对应能力关闭。
type Options struct {
	Cache       *cache.Store
	Sessions    *conversation.Manager
	Collector   *metrics.Collector
	MetricStore *metricstore.Store
}

// New 组装管线。
func New(
	analyzer *Analyzer,
	expander *QueryExpander,
	retriever *ParallelRetriever,
	reranker *Reranker,
	validator *ContextValidator,
	ctxExp *ContextExpander,
	multihop *MultiHopRetriever,
	generator *Generator,
	verifier *Verifier,
	provider llm.Provider,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		analyzer:    analyzer,
		expander:    expander,
		retriever:   retriever,
		reranker:    reranker,
		validator:   validator,
		ctxExp:      ctxExp,
		multihop:    multihop,
		generator:   generator,
		verifier:    verifier,
		cache:       opts.Cache,
		sessions:    opts.Sessions,
		provider:    provider,
		collector:   opts.Collector,
		metricStore: opts.MetricStore,
		tracer:      otel.Tracer("docqa/pipeline"),
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Ask 处理一次问答请求。返回的 Response 里 Answer 与 Clarification
// 互斥：澄清是终态，调用方需改写问题后重新提交。
func (p *Pipeline) Ask(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	requestID := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "pipeline.ask",
		trace.WithAttributes(attribute.String("request_id", requestID)))
	defer span.End()

	state := &requestState{req: req}
	resp := &Response{RequestID: requestID, SessionID: req.SessionID}

	if req.Question == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "empty question")
	}

	// ----- 查询分析 -----
	hasHistory := p.hasHistory(req.SessionID)
	analyzed, clarification := p.analyzer.Analyze(req, hasHistory)
	if clarification != nil {
		resp.Clarification = clarification
		p.recordClarification(clarification)
		return resp, nil
	}
	state.analyzed = analyzed
	span.SetAttributes(
		attribute.String("complexity", string(analyzed.Complexity)),
		attribute.String("query_type", string(analyzed.QueryType)),
	)

	// ----- 问候短路 -----
	if analyzed.Intent == IntentGreeting {
		resp.Answer = &types.Answer{Text: greetingReply, Confidence: 1}
		resp.Stats.Strategy = StrategyGreeting
		p.remember(req.SessionID, req.Question, resp.Answer.Text)
		return resp, nil
	}

	// ----- 会话扩充 -----
	if p.sessions != nil && analyzed.FollowUp {
		analyzed.Enriched = p.sessions.Enrich(ctx, req.SessionID, analyzed.Raw)
	}

	// ----- 缓存查找 -----
	if hit := p.lookupCache(ctx, state, resp); hit {
		elapsed := time.Since(start)
		p.recordQuery(state, StrategyCache, "ok", elapsed)
		return resp, nil
	}

	// ----- 自适应参数 -----
	state.params = DeriveParams(analyzed)

	// ----- 检索 -----
	var err error
	if state.params.NeedsMultiHop {
		err = p.retrieveMultiHop(ctx, state)
	} else {
		err = p.retrieveFusion(ctx, state)
	}
	if err != nil {
		p.recordQuery(state, state.stats.Strategy, string(types.CodeOf(err)), time.Since(start))
		return nil, err
	}

	// ----- 上下文校验 -----
	golden, clar, warnings := p.validator.Validate(state.golden)
	if clar != nil {
		resp.Clarification = clar
		resp.Stats = state.stats
		p.recordClarification(clar)
		p.recordQuery(state, state.stats.Strategy, "clarification", time.Since(start))
		return resp, nil
	}
	state.golden = golden
	state.warnings = append(state.warnings, warnings...)
	p.scoreStats(state)

	// ----- 层级上下文扩展 -----
	expandStart := time.Now()
	state.expanded = p.ctxExp.Expand(ctx, state.golden, state.params.ContextWindow)
	p.recordStage("context_expansion", time.Since(expandStart))

	// ----- 历史压缩 + 生成 -----
	history := p.compressHistory(ctx, req.SessionID)
	genStart := time.Now()
	answer, err := p.generator.Generate(ctx, state.analyzed.Raw, state.expanded, history)
	p.recordStage("generation", time.Since(genStart))
	if err != nil {
		p.recordQuery(state, state.stats.Strategy, string(types.CodeOf(err)), time.Since(start))
		return nil, err
	}

	// ----- 事实性校验 -----
	verifyStart := time.Now()
	p.verifier.Verify(ctx, answer, state.expanded)
	p.recordStage("verification", time.Since(verifyStart))

	resp.Answer = answer
	resp.Warnings = state.warnings
	resp.Stats = state.stats

	// ----- 缓存写入 + 会话记忆 -----
	p.storeCache(ctx, state, answer)
	p.remember(req.SessionID, req.Question, answer.Text)

	elapsed := time.Since(start)
	p.recordQuery(state, state.stats.Strategy, "ok", elapsed)
	p.persistMetrics(requestID, state, answer)

	p.logger.Info("request served",
		zap.String("request_id", requestID),
		zap.String("strategy", state.stats.Strategy),
		zap.Float64("confidence", answer.Confidence),
		zap.Duration("elapsed", elapsed))

	return resp, nil
}

// retrieveFusion 变体扩展 + 并行检索 + RRF 融合 + 精排。
func (p *Pipeline) retrieveFusion(ctx context.Context, state *requestState) error {
	state.stats.Strategy = StrategyFusion

	expandStart := time.Now()
	variants, degraded := p.expander.Expand(ctx, state.analyzed.Enriched)
	p.recordStage("query_expansion", time.Since(expandStart))
	state.variants = variants
	state.stats.VariantsRequested = len(variants)
	state.stats.ExpansionFallback = degraded
	if degraded {
		p.recordFallback("expansion")
	}

	searchStart := time.Now()
	fused, succeeded, err := p.retriever.RetrieveFused(ctx, variants, state.analyzed, state.params)
	p.recordStage("retrieval", time.Since(searchStart))
	if err != nil {
		return err
	}
	state.stats.VariantsSucceeded = succeeded
	state.stats.CandidatesFused = len(fused)
	if p.collector != nil {
		p.collector.RecordFusion(len(fused))
	}

	rerankStart := time.Now()
	ranked, rerankDegraded := p.reranker.Rerank(ctx, state.analyzed.Enriched, fused)
	p.recordStage("rerank", time.Since(rerankStart))
	state.stats.RerankApplied = !rerankDegraded
	if rerankDegraded {
		p.recordFallback("rerank")
	}

	state.golden = ranked
	return nil
}

// retrieveMultiHop 子问题分解检索，跳过精排。
func (p *Pipeline) retrieveMultiHop(ctx context.Context, state *requestState) error {
	state.stats.Strategy = StrategyMultiHop

	searchStart := time.Now()
	candidates, subQuestions, err := p.multihop.Retrieve(ctx, state.analyzed, state.params)
	p.recordStage("multihop_retrieval", time.Since(searchStart))
	if err != nil {
		return err
	}
	state.variants = subQuestions
	state.stats.VariantsRequested = len(subQuestions)
	state.stats.VariantsSucceeded = len(subQuestions)
	state.stats.CandidatesFused = len(candidates)
	state.golden = candidates
	return nil
}

// lookupCache 查缓存。命中时把缓存回答装进 resp 并返回 true。
// 精确键命中不需要嵌入，命中路径零模型调用；只有精确未命中才生成
// 问题嵌入去做语义匹配。
func (p *Pipeline) lookupCache(ctx context.Context, state *requestState, resp *Response) bool {
	if p.cache == nil {
		return false
	}
	scope := p.cacheScope(state)

	entry, err := p.cache.LookupExact(ctx, state.analyzed.Enriched, scope)
	kind := cache.HitExact
	if err != nil && cache.IsMiss(err) {
		entry, err = p.cache.LookupSemantic(ctx, scope, p.questionEmbedding(ctx, state))
		kind = cache.HitSemantic
	}
	if err != nil {
		if !cache.IsMiss(err) {
			p.logger.Warn("cache lookup failed", zap.Error(err))
		}
		if p.collector != nil {
			p.collector.RecordCacheMiss("answer")
		}
		return false
	}

	answer := entry.Answer
	resp.Answer = &answer
	resp.Stats.Strategy = StrategyCache
	resp.Stats.CacheHit = string(kind)
	state.stats = resp.Stats

	if p.collector != nil {
		p.collector.RecordCacheHit(string(kind))
	}
	p.remember(state.req.SessionID, state.req.Question, answer.Text)
	return true
}

// storeCache 缓存写入失败只记日志，不影响响应。
func (p *Pipeline) storeCache(ctx context.Context, state *requestState, answer *types.Answer) {
	if p.cache == nil {
		return
	}
	model := ""
	if p.provider != nil {
		model = p.provider.Name()
	}
	embedding := p.questionEmbedding(ctx, state)
	if err := p.cache.Put(ctx, state.analyzed.Enriched, p.cacheScope(state), model, *answer, embedding); err != nil {
		p.logger.Warn("cache write failed", zap.Error(err))
	}
}

// questionEmbedding 返回扩充后问题的嵌入。同一请求内只向模型要一次，
// 缓存查找和缓存写入共用结果；失败时返回空并只记日志。
func (p *Pipeline) questionEmbedding(ctx context.Context, state *requestState) []float64 {
	if state.embedded {
		return state.embedding
	}
	state.embedded = true
	if p.provider == nil {
		return nil
	}
	emb, err := p.provider.Embed(ctx, state.analyzed.Enriched)
	if err != nil {
		p.logger.Warn("question embedding failed", zap.Error(err))
		return nil
	}
	state.embedding = emb
	return state.embedding
}

// cacheScope 空范围归一为全局，保证键与隔离语义一致。
func (p *Pipeline) cacheScope(state *requestState) string {
	if state.req.Scope == "" {
		return cache.ScopeGlobal
	}
	return state.req.Scope
}

func (p *Pipeline) hasHistory(sessionID string) bool {
	if p.sessions == nil || sessionID == "" {
		return false
	}
	snapshot := p.sessions.Snapshot(sessionID)
	return snapshot != nil && len(snapshot.Messages) > 0
}

// compressHistory 把压缩后的历史拼成生成提示用的文本。
func (p *Pipeline) compressHistory(ctx context.Context, sessionID string) string {
	if p.sessions == nil || sessionID == "" {
		return ""
	}
	history, err := p.sessions.Compress(ctx, sessionID)
	if err != nil {
		p.logger.Warn("history compression failed", zap.Error(err))
		return ""
	}
	return conversation.RenderHistory(history)
}

// remember 把这一轮写进会话记忆。
func (p *Pipeline) remember(sessionID, question, answerText string) {
	if p.sessions == nil || sessionID == "" {
		return
	}
	p.sessions.Append(sessionID, types.NewUserMessage(question))
	p.sessions.Append(sessionID, types.NewAssistantMessage(answerText))
}

// scoreStats 计算金集分数统计。
func (p *Pipeline) scoreStats(state *requestState) {
	if len(state.golden) == 0 {
		return
	}
	sum := 0.0
	top := state.golden[0].Relevance
	for _, c := range state.golden {
		sum += c.Relevance
		if c.Relevance > top {
			top = c.Relevance
		}
	}
	state.stats.TopScore = top
	state.stats.AvgScore = sum / float64(len(state.golden))
}

func (p *Pipeline) recordStage(stage string, d time.Duration) {
	if p.collector != nil {
		p.collector.RecordStage(stage, d)
	}
}

func (p *Pipeline) recordFallback(stage string) {
	if p.collector != nil {
		p.collector.RecordFallback(stage)
	}
}

func (p *Pipeline) recordClarification(c *types.Clarification) {
	if p.collector != nil {
		p.collector.RecordClarification(string(c.Kind))
	}
}

func (p *Pipeline) recordQuery(state *requestState, strategy, status string, d time.Duration) {
	if p.collector == nil {
		return
	}
	complexity, queryType := "", ""
	if state.analyzed != nil {
		complexity = string(state.analyzed.Complexity)
		queryType = string(state.analyzed.QueryType)
	}
	p.collector.RecordQuery(complexity, queryType, strategy, status, d)
}

// persistMetrics 异步落库检索质量指标。
func (p *Pipeline) persistMetrics(requestID string, state *requestState, answer *types.Answer) {
	if p.metricStore == nil || state.analyzed == nil {
		return
	}
	if p.collector != nil {
		p.collector.RecordAnswerTokens(answer.Usage.PromptTokens, answer.Usage.CompletionTokens)
	}

	rec := metricstore.Record{
		RequestID:         requestID,
		Complexity:        string(state.analyzed.Complexity),
		QueryType:         string(state.analyzed.QueryType),
		Strategy:          state.stats.Strategy,
		VariantsSucceeded: state.stats.VariantsSucceeded,
		CandidatesFused:   state.stats.CandidatesFused,
		TopScore:          state.stats.TopScore,
		AvgScore:          state.stats.AvgScore,
		TopicCoverage:     topicCoverage(state),
		TopicDiversity:    topicDiversity(state),
		Confidence:        answer.Confidence,
		CacheHit:          state.stats.CacheHit,
		Topics:            metricstore.JoinTopics(state.analyzed.Topics),
	}

	// 写入不阻塞响应路径
	go p.metricStore.Append(context.Background(), rec)
}

// topicCoverage 查询主题中至少被一个金集候选覆盖的比例。
func topicCoverage(state *requestState) float64 {
	if len(state.analyzed.Topics) == 0 {
		return 0
	}
	covered := 0
	for _, topic := range state.analyzed.Topics {
		for _, c := range state.golden {
			if containsTopic(c.Candidate.Fragment.Topics, topic) {
				covered++
				break
			}
		}
	}
	return float64(covered) / float64(len(state.analyzed.Topics))
}

// topicDiversity 金集候选覆盖的不同主题数。
func topicDiversity(state *requestState) int {
	set := make(map[string]struct{})
	for _, c := range state.golden {
		for _, t := range c.Candidate.Fragment.Topics {
			set[t] = struct{}{}
		}
	}
	return len(set)
}

func containsTopic(topics []string, target string) bool {
	for _, t := range topics {
		if t == target {
			return true
		}
	}
	return false
}
