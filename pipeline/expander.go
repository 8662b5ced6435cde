package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/llm"
)

// 查询扩展器：为同一信息需求生成 N 个不同侧面的改写变体。

// expansionFacets 每个变体侧重的领域侧面。
var expansionFacets = []string{
	"configuration",
	"wiring and physical connections",
	"troubleshooting",
	"technical specification",
	"installation",
}

// ExpanderConfig 配置查询扩展器。
type ExpanderConfig struct {
	// VariantCount 变体数量
	VariantCount int `json:"variant_count"`
	// Temperature 生成温度
	Temperature float64 `json:"temperature"`
}

// DefaultExpanderConfig 返回默认配置。
func DefaultExpanderConfig() ExpanderConfig {
	return ExpanderConfig{
		VariantCount: 5,
		Temperature:  0.4,
	}
}

// QueryExpander 查询扩展器。
type QueryExpander struct {
	cfg      ExpanderConfig
	provider llm.Provider
	logger   *zap.Logger
}

// NewQueryExpander 创建查询扩展器。
func NewQueryExpander(cfg ExpanderConfig, provider llm.Provider, logger *zap.Logger) *QueryExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.VariantCount <= 0 {
		cfg.VariantCount = 5
	}
	return &QueryExpander{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "query_expander")),
	}
}

var numberingPattern = regexp.MustCompile(`^\d+[\.\)]\s*`)

// Expand 生成恰好 VariantCount 个非空、去重的查询变体。
// LLM 出错、输出格式异常或可用变体不足时，用扩充后的查询补齐缺口
// （绝不用原始查询补，以保留会话上下文）。degraded 表示发生了补齐。
func (e *QueryExpander) Expand(ctx context.Context, enrichedQuery string) (variants []string, degraded bool) {
	n := e.cfg.VariantCount

	generated, err := e.generate(ctx, enrichedQuery)
	if err != nil {
		e.logger.Warn("query expansion failed, filling with enriched query", zap.Error(err))
		return fill(nil, enrichedQuery, n), true
	}

	// 解析：剥编号、去空行、按小写去重
	seen := make(map[string]bool, n)
	for _, line := range strings.Split(generated, "\n") {
		line = strings.TrimSpace(numberingPattern.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		variants = append(variants, line)
		if len(variants) == n {
			break
		}
	}

	if len(variants) < n {
		e.logger.Warn("query expansion returned too few variants",
			zap.Int("got", len(variants)),
			zap.Int("want", n))
		return fill(variants, enrichedQuery, n), true
	}

	return variants, false
}

// generate 向 LLM 请求变体。
func (e *QueryExpander) generate(ctx context.Context, query string) (string, error) {
	var facets strings.Builder
	for i, facet := range expansionFacets {
		fmt.Fprintf(&facets, "%d. emphasize %s\n", i+1, facet)
	}

	prompt := fmt.Sprintf(`Generate %d alternative search queries for the following question.
Each alternative must preserve the domain terminology exactly and emphasize a different facet:
%s
Return only the queries, one per line.

Question: %s

Alternative queries:`, e.cfg.VariantCount, facets.String(), query)

	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// fill 用扩充后的查询补齐到 n 个变体。
func fill(variants []string, enrichedQuery string, n int) []string {
	for len(variants) < n {
		variants = append(variants, enrichedQuery)
	}
	return variants
}
