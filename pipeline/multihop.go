package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// 多跳检索：复杂问题先拆成互相独立的子问题，每个子问题单独检索少量
// 高相关候选再合并。与五路变体扩展互斥——走多跳就不再走变体融合，
// 多跳结果也不经过精排。

// MultiHopConfig 配置多跳检索器。
type MultiHopConfig struct {
	// MaxSubQuestions 子问题数上限
	MaxSubQuestions int `json:"max_sub_questions"`
	// ResultsPerSubQuestion 每个子问题保留的候选数
	ResultsPerSubQuestion int `json:"results_per_sub_question"`
	// Temperature 分解生成温度
	Temperature float64 `json:"temperature"`
}

// DefaultMultiHopConfig 返回默认配置。
func DefaultMultiHopConfig() MultiHopConfig {
	return MultiHopConfig{
		MaxSubQuestions:       3,
		ResultsPerSubQuestion: 3,
		Temperature:           0.2,
	}
}

// MultiHopRetriever 多跳检索器。
type MultiHopRetriever struct {
	cfg      MultiHopConfig
	searcher corpus.Searcher
	provider llm.Provider
	logger   *zap.Logger
}

// NewMultiHopRetriever 创建多跳检索器。
func NewMultiHopRetriever(cfg MultiHopConfig, searcher corpus.Searcher, provider llm.Provider, logger *zap.Logger) *MultiHopRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSubQuestions <= 0 {
		cfg.MaxSubQuestions = 3
	}
	if cfg.ResultsPerSubQuestion <= 0 {
		cfg.ResultsPerSubQuestion = 3
	}
	return &MultiHopRetriever{
		cfg:      cfg,
		searcher: searcher,
		provider: provider,
		logger:   logger.With(zap.String("component", "multihop_retriever")),
	}
}

// Retrieve 分解问题并逐个子问题检索，跨子问题按片段 ID 去重。
// 子问题检索是串行的：后续扩展会让子问题引用前序答案。
// 所有子问题都检索失败返回 SEARCH_UNAVAILABLE；检索成功但没有
// 任何候选返回 NO_RESULTS。
func (m *MultiHopRetriever) Retrieve(ctx context.Context, analyzed *AnalyzedQuery, params RetrievalParams) ([]RerankedCandidate, []string, error) {
	subQuestions := m.Decompose(ctx, analyzed.Enriched)

	semanticWeight := 0.7
	if analyzed.TechnicalTerm {
		semanticWeight = 0.4
	}

	var out []RerankedCandidate
	seen := make(map[string]struct{})
	failed := 0

	for _, sub := range subQuestions {
		var embedding []float64
		if m.provider != nil {
			if emb, err := m.provider.Embed(ctx, sub); err == nil {
				embedding = emb
			} else {
				m.logger.Warn("sub-question embedding failed", zap.Error(err))
			}
		}

		candidates, err := m.searcher.HybridSearch(ctx, corpus.HybridQuery{
			Text:           sub,
			Embedding:      embedding,
			Scope:          analyzed.Scope,
			IncludeTopics:  analyzed.Topics,
			SemanticWeight: semanticWeight,
			KeywordWeight:  1 - semanticWeight,
			TopK:           m.cfg.ResultsPerSubQuestion,
		})
		if err != nil {
			m.logger.Warn("sub-question search failed",
				zap.String("sub_question", sub),
				zap.Error(err))
			failed++
			continue
		}

		for _, c := range candidates {
			if c.Fragment.ID == "" {
				continue
			}
			if _, ok := seen[c.Fragment.ID]; ok {
				continue
			}
			seen[c.Fragment.ID] = struct{}{}
			out = append(out, RerankedCandidate{
				FusedCandidate: FusedCandidate{
					Candidate:    c,
					FusionScore:  c.Score,
					VariantCount: 1,
				},
				Relevance: c.Score,
				Reranked:  false,
			})
		}
	}

	if failed == len(subQuestions) {
		return nil, subQuestions, types.NewError(types.ErrSearchUnavailable,
			"all sub-question searches failed").WithRetryable(true)
	}
	if len(out) == 0 {
		return nil, subQuestions, types.NewError(types.ErrNoResults,
			"sub-question searches produced no candidates")
	}

	m.logger.Debug("multi-hop retrieval complete",
		zap.Int("sub_questions", len(subQuestions)),
		zap.Int("candidates", len(out)))

	return out, subQuestions, nil
}

// Decompose 把复杂问题拆成最多 MaxSubQuestions 个子问题。
// LLM 不可用或输出无法解析时回退到连接词切分；切不开就原样返回。
func (m *MultiHopRetriever) Decompose(ctx context.Context, question string) []string {
	if m.provider != nil {
		subs, err := m.decomposeWithLLM(ctx, question)
		if err != nil {
			m.logger.Warn("llm decomposition failed, using rule split", zap.Error(err))
		} else if len(subs) > 0 {
			return subs
		}
	}
	return m.decomposeWithRules(question)
}

func (m *MultiHopRetriever) decomposeWithLLM(ctx context.Context, question string) ([]string, error) {
	prompt := fmt.Sprintf(`Break the following question into at most %d independent sub-questions,
each answerable from documentation on its own. Preserve the domain terminology exactly.
If the question is already atomic, return it unchanged.
Return only the sub-questions, one per line.

Question: %s

Sub-questions:`, m.cfg.MaxSubQuestions, question)

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	var subs []string
	for _, line := range strings.Split(resp.Text, "\n") {
		line = strings.TrimSpace(numberingPattern.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		subs = append(subs, line)
		if len(subs) == m.cfg.MaxSubQuestions {
			break
		}
	}
	return subs, nil
}

// decomposeWithRules 沿比较/并列连接词切分。
func (m *MultiHopRetriever) decomposeWithRules(question string) []string {
	separators := []string{" versus ", " vs ", " compared to ", " and also ", "; "}

	parts := []string{question}
	for _, sep := range separators {
		var next []string
		for _, part := range parts {
			for _, piece := range strings.Split(part, sep) {
				if piece = strings.TrimSpace(piece); piece != "" {
					next = append(next, piece)
				}
			}
		}
		parts = next
	}

	if len(parts) > m.cfg.MaxSubQuestions {
		parts = parts[:m.cfg.MaxSubQuestions]
	}
	return parts
}
