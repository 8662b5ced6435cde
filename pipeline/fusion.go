package pipeline

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// 并行混合检索 + 倒数排名融合（Reciprocal Rank Fusion）。
// 各变体独立并发检索，融合步骤是汇合屏障：等待所有变体返回或失败，
// 容忍部分失败；全部失败与融合为空是两种不同的失败条件。

// FusionConfig 配置并行检索与融合。
type FusionConfig struct {
	// RRFConstant RRF 常数 k
	RRFConstant int `json:"rrf_constant"`
	// FusionLimit 融合后保留的候选上限
	FusionLimit int `json:"fusion_limit"`
	// OverfetchFactor 每个变体按 top_k * factor 过量检索
	OverfetchFactor int `json:"overfetch_factor"`
	// TechnicalSemanticWeight 含技术词查询的语义权重
	TechnicalSemanticWeight float64 `json:"technical_semantic_weight"`
	// DefaultSemanticWeight 普通查询的语义权重
	DefaultSemanticWeight float64 `json:"default_semantic_weight"`
}

// DefaultFusionConfig 返回默认配置。
func DefaultFusionConfig() FusionConfig {
	return FusionConfig{
		RRFConstant:             60,
		FusionLimit:             50,
		OverfetchFactor:         2,
		TechnicalSemanticWeight: 0.4, // 技术词查询偏向关键词匹配
		DefaultSemanticWeight:   0.7,
	}
}

// ParallelRetriever 并行混合检索器。
type ParallelRetriever struct {
	cfg      FusionConfig
	searcher corpus.Searcher
	provider llm.Provider
	logger   *zap.Logger
}

// NewParallelRetriever 创建并行混合检索器。
func NewParallelRetriever(cfg FusionConfig, searcher corpus.Searcher, provider llm.Provider, logger *zap.Logger) *ParallelRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = 60
	}
	if cfg.FusionLimit <= 0 {
		cfg.FusionLimit = 50
	}
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = 2
	}
	return &ParallelRetriever{
		cfg:      cfg,
		searcher: searcher,
		provider: provider,
		logger:   logger.With(zap.String("component", "parallel_retriever")),
	}
}

// RetrieveFused 并发检索所有变体并做 RRF 融合。
// 返回的 succeeded 是成功返回的变体数。失败的检索被丢弃而不重试；
// 全部失败返回 SEARCH_UNAVAILABLE，融合为空返回 NO_RESULTS。
func (r *ParallelRetriever) RetrieveFused(
	ctx context.Context,
	variants []string,
	analyzed *AnalyzedQuery,
	params RetrievalParams,
) (fused []FusedCandidate, succeeded int, err error) {
	semanticWeight := r.cfg.DefaultSemanticWeight
	if analyzed.TechnicalTerm {
		semanticWeight = r.cfg.TechnicalSemanticWeight
	}

	lists := make([][]corpus.SearchCandidate, len(variants))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, variant := range variants {
		g.Go(func() error {
			candidates, searchErr := r.searchOne(gctx, variant, analyzed, params, semanticWeight)
			if searchErr != nil {
				// 单个变体失败只丢弃，不中断其余变体
				r.logger.Warn("variant search failed",
					zap.Int("variant", i),
					zap.Error(searchErr))
				return nil
			}
			mu.Lock()
			lists[i] = candidates
			succeeded++
			mu.Unlock()
			return nil
		})
	}
	// errgroup 仅用于汇合；错误都被就地吞掉转为丢弃
	_ = g.Wait()

	if succeeded == 0 {
		return nil, 0, types.NewError(types.ErrSearchUnavailable,
			"all variant searches failed").WithRetryable(true)
	}

	fused = FuseRRF(lists, r.cfg.RRFConstant, r.cfg.FusionLimit)
	if len(fused) == 0 {
		return nil, succeeded, types.NewError(types.ErrNoResults,
			"fusion produced no candidates")
	}

	r.logger.Debug("variants fused",
		zap.Int("variants_succeeded", succeeded),
		zap.Int("candidates", len(fused)))

	return fused, succeeded, nil
}

// searchOne 检索单个变体。嵌入失败时降级为纯关键词检索。
func (r *ParallelRetriever) searchOne(
	ctx context.Context,
	variant string,
	analyzed *AnalyzedQuery,
	params RetrievalParams,
	semanticWeight float64,
) ([]corpus.SearchCandidate, error) {
	var embedding []float64
	if r.provider != nil {
		emb, err := r.provider.Embed(ctx, variant)
		if err != nil {
			r.logger.Warn("variant embedding failed, keyword-only search", zap.Error(err))
		} else {
			embedding = emb
		}
	}

	return r.searcher.HybridSearch(ctx, corpus.HybridQuery{
		Text:           variant,
		Embedding:      embedding,
		Scope:          analyzed.Scope,
		IncludeTopics:  analyzed.Topics,
		SemanticWeight: semanticWeight,
		KeywordWeight:  1 - semanticWeight,
		TopK:           params.TopK * r.cfg.OverfetchFactor,
	})
}

// FuseRRF 倒数排名融合。每个片段从一个列表获得 1/(k+rank+1) 的分数贡献，
// rank 为其在该列表中的 0 基位置；跨列表按片段 ID 去重求和。
// 融合分数只由排名位置决定，与原始分数无关。缺少 ID 的片段被防御性丢弃。
func FuseRRF(lists [][]corpus.SearchCandidate, k, limit int) []FusedCandidate {
	merged := make(map[string]*FusedCandidate)

	for _, list := range lists {
		for rank, candidate := range list {
			id := candidate.Fragment.ID
			if id == "" {
				// 无法去重的片段会污染合并表
				continue
			}

			contribution := 1.0 / float64(k+rank+1)

			if existing, ok := merged[id]; ok {
				existing.FusionScore += contribution
				existing.VariantCount++
				existing.Ranks = append(existing.Ranks, rank)
				continue
			}
			merged[id] = &FusedCandidate{
				Candidate:    candidate,
				FusionScore:  contribution,
				VariantCount: 1,
				Ranks:        []int{rank},
			}
		}
	}

	fused := make([]FusedCandidate, 0, len(merged))
	for _, fc := range merged {
		fused = append(fused, *fc)
	}

	// 分数相同按 ID 定序，保证结果确定性
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].FusionScore != fused[j].FusionScore {
			return fused[i].FusionScore > fused[j].FusionScore
		}
		return fused[i].Candidate.Fragment.ID < fused[j].Candidate.Fragment.ID
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}

	return fused
}
