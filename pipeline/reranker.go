package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/rerank"
)

// Reranker 对融合候选做精排，把宽候选集收窄到少量高相关片段。
// 精排服务不可用时优雅降级：保留融合排序原样截断，不中断请求。
type Reranker struct {
	provider rerank.Provider
	topN     int
	logger   *zap.Logger
}

// NewReranker 创建精排器。provider 可以为 nil，此时所有请求都走降级路径。
func NewReranker(provider rerank.Provider, topN int, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topN <= 0 {
		topN = 15
	}
	return &Reranker{
		provider: provider,
		topN:     topN,
		logger:   logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 按交叉编码相关性重排候选。返回的 degraded 表示是否走了降级路径。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []FusedCandidate) (ranked []RerankedCandidate, degraded bool) {
	if len(candidates) == 0 {
		return nil, false
	}

	if r.provider == nil {
		return r.fallback(candidates), true
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Candidate.Fragment.Content
	}

	results, err := r.provider.Rerank(ctx, &rerank.Request{
		Query:     query,
		Documents: docs,
		TopN:      r.topN,
	})
	if err != nil {
		r.logger.Warn("rerank failed, falling back to fusion order",
			zap.String("provider", r.provider.Name()),
			zap.Error(err))
		return r.fallback(candidates), true
	}

	ranked = make([]RerankedCandidate, 0, len(results))
	for _, res := range results {
		if res.Index < 0 || res.Index >= len(candidates) {
			// 越界索引丢弃，不让坏响应放大成坏引用
			r.logger.Warn("rerank result index out of range",
				zap.Int("index", res.Index),
				zap.Int("candidates", len(candidates)))
			continue
		}
		ranked = append(ranked, RerankedCandidate{
			FusedCandidate: candidates[res.Index],
			Relevance:      res.RelevanceScore,
			Reranked:       true,
		})
	}
	if len(ranked) == 0 {
		return r.fallback(candidates), true
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	if len(ranked) > r.topN {
		ranked = ranked[:r.topN]
	}
	return ranked, false
}

// fallback 保持融合排序原样截断到 topN,相关性沿用融合分数。
func (r *Reranker) fallback(candidates []FusedCandidate) []RerankedCandidate {
	n := len(candidates)
	if n > r.topN {
		n = r.topN
	}
	ranked := make([]RerankedCandidate, n)
	for i := 0; i < n; i++ {
		ranked[i] = RerankedCandidate{
			FusedCandidate: candidates[i],
			Relevance:      candidates[i].FusionScore,
			Reranked:       false,
		}
	}
	return ranked
}
