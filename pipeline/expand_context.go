package pipeline

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/llm/tokenizer"
)

// 层级上下文扩展。金集片段是精排选出的种子，扩展阶段沿文档层级
// 把种子前后的兄弟片段和父章节补进来，在 token 预算内拼出连贯的
// 上下文，并带上落在这些章节里的图表资产。

// ContextExpanderConfig 配置上下文扩展器。
type ContextExpanderConfig struct {
	// TokenBudget 扩展上下文的 token 上限
	TokenBudget int `json:"token_budget"`
}

// DefaultContextExpanderConfig 返回默认配置。
func DefaultContextExpanderConfig() ContextExpanderConfig {
	return ContextExpanderConfig{TokenBudget: 6000}
}

// ContextExpander 沿文档层级扩展金集。
type ContextExpander struct {
	cfg       ContextExpanderConfig
	hierarchy corpus.Hierarchy
	counter   *tokenizer.SafeCounter
	logger    *zap.Logger
}

// NewContextExpander 创建上下文扩展器。hierarchy 可以为 nil，
// 此时只返回种子片段本身。
func NewContextExpander(cfg ContextExpanderConfig, hierarchy corpus.Hierarchy, counter *tokenizer.SafeCounter, logger *zap.Logger) *ContextExpander {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 6000
	}
	return &ContextExpander{
		cfg:       cfg,
		hierarchy: hierarchy,
		counter:   counter,
		logger:    logger.With(zap.String("component", "context_expander")),
	}
}

// Expand 在 token 预算内扩展金集。种子片段无条件进入结果；
// 邻居按种子相关性从高到低补入，超出预算即停。层级查询失败只跳过
// 对应种子的邻居，不中断扩展。
func (e *ContextExpander) Expand(ctx context.Context, golden []RerankedCandidate, window int) *ExpandedContext {
	out := &ExpandedContext{}
	seen := make(map[string]struct{})

	// 种子先入场并计入预算
	for _, g := range golden {
		frag := g.Candidate.Fragment
		if _, ok := seen[frag.ID]; ok {
			continue
		}
		seen[frag.ID] = struct{}{}
		out.Fragments = append(out.Fragments, ExpandedFragment{
			Fragment:  frag,
			Seed:      true,
			Relevance: g.Relevance,
		})
		out.TokenCount += e.counter.Count(frag.Content)
	}

	if e.hierarchy == nil || window <= 0 {
		e.attachAssets(ctx, out)
		return out
	}

	// 相关性高的种子先扩，预算花在刀刃上
	ordered := make([]RerankedCandidate, len(golden))
	copy(ordered, golden)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Relevance > ordered[j].Relevance
	})

	for _, g := range ordered {
		if out.TokenCount >= e.cfg.TokenBudget {
			break
		}
		neighbors, err := e.hierarchy.SiblingsAndParent(ctx, g.Candidate.Fragment.ID, window)
		if err != nil {
			e.logger.Warn("hierarchy lookup failed, skipping expansion for seed",
				zap.String("fragment_id", g.Candidate.Fragment.ID),
				zap.Error(err))
			continue
		}
		for _, n := range neighbors {
			if _, ok := seen[n.ID]; ok {
				continue
			}
			cost := e.counter.Count(n.Content)
			if out.TokenCount+cost > e.cfg.TokenBudget {
				continue
			}
			seen[n.ID] = struct{}{}
			out.Fragments = append(out.Fragments, ExpandedFragment{
				Fragment:  n,
				Seed:      false,
				Relevance: g.Relevance,
			})
			out.TokenCount += cost
		}
	}

	e.attachAssets(ctx, out)

	e.logger.Debug("context expanded",
		zap.Int("fragments", len(out.Fragments)),
		zap.Int("assets", len(out.Assets)),
		zap.Int("tokens", out.TokenCount))

	return out
}

// attachAssets 按章节收集图表资产。资产只附引用，不计入 token 预算。
func (e *ContextExpander) attachAssets(ctx context.Context, out *ExpandedContext) {
	if e.hierarchy == nil {
		return
	}
	sections := make(map[string]struct{})
	for _, f := range out.Fragments {
		if path := f.Fragment.Position.SectionPath; path != "" {
			sections[path] = struct{}{}
		}
	}
	ordered := make([]string, 0, len(sections))
	for path := range sections {
		ordered = append(ordered, path)
	}
	sort.Strings(ordered)

	seen := make(map[string]struct{})
	for _, path := range ordered {
		assets, err := e.hierarchy.AttachedAssets(ctx, path)
		if err != nil {
			e.logger.Warn("asset lookup failed", zap.String("section", path), zap.Error(err))
			continue
		}
		for _, a := range assets {
			if _, ok := seen[a.ID]; ok {
				continue
			}
			seen[a.ID] = struct{}{}
			out.Assets = append(out.Assets, a)
		}
	}
}
