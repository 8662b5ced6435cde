package pipeline

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/types"
)

// 上下文一致性校验。检索到的金集（golden set）在喂给生成器之前要先过
// 三道检查：来源系统主导性、页码/时间跨度、章节离散度。主导性不足是
// 硬停止（返回澄清请求），跨度与离散度只产生软警告。

// ValidatorConfig 配置上下文校验器。
type ValidatorConfig struct {
	// GoldenSize 参与校验的头部候选数
	GoldenSize int `json:"golden_size"`
	// DominanceThreshold 单一来源系统需要达到的占比
	DominanceThreshold float64 `json:"dominance_threshold"`
	// SpanWidthThreshold 页码或时间戳跨度的警告阈值
	SpanWidthThreshold float64 `json:"span_width_threshold"`
	// SectionSpreadLimit 不同章节数的警告阈值
	SectionSpreadLimit int `json:"section_spread_limit"`
}

// DefaultValidatorConfig 返回默认配置。
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		GoldenSize:         10,
		DominanceThreshold: 0.7,
		SpanWidthThreshold: 50,
		SectionSpreadLimit: 8,
	}
}

// ContextValidator 校验金集的内部一致性。
type ContextValidator struct {
	cfg    ValidatorConfig
	logger *zap.Logger
}

// NewContextValidator 创建上下文校验器。
func NewContextValidator(cfg ValidatorConfig, logger *zap.Logger) *ContextValidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.GoldenSize <= 0 {
		cfg.GoldenSize = 10
	}
	if cfg.DominanceThreshold <= 0 {
		cfg.DominanceThreshold = 0.7
	}
	return &ContextValidator{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "context_validator")),
	}
}

// Validate 截取金集并检查一致性。clarification 非空表示硬停止；
// warnings 是附在最终回答上的软提示。返回的 golden 是截取后的金集。
func (v *ContextValidator) Validate(candidates []RerankedCandidate) (golden []RerankedCandidate, clarification *types.Clarification, warnings []string) {
	golden = candidates
	if len(golden) > v.cfg.GoldenSize {
		golden = golden[:v.cfg.GoldenSize]
	}
	if len(golden) == 0 {
		return golden, nil, nil
	}

	if c := v.checkDominance(golden); c != nil {
		return golden, c, nil
	}
	warnings = append(warnings, v.checkSpan(golden)...)
	warnings = append(warnings, v.checkSectionSpread(golden)...)
	return golden, nil, warnings
}

// checkDominance 要求单一来源系统占比达到阈值。混合来源的上下文
// 往往意味着问题横跨了不该混在一起回答的不同系统。
func (v *ContextValidator) checkDominance(golden []RerankedCandidate) *types.Clarification {
	counts := make(map[string]int)
	for _, c := range golden {
		counts[c.Candidate.Fragment.SourceSystem]++
	}

	dominant := false
	for _, n := range counts {
		if float64(n)/float64(len(golden)) >= v.cfg.DominanceThreshold {
			dominant = true
			break
		}
	}
	if dominant {
		return nil
	}

	systems := make([]string, 0, len(counts))
	for system := range counts {
		systems = append(systems, system)
	}
	sort.Strings(systems)

	v.logger.Info("golden set lacks a dominant source system",
		zap.Strings("systems", systems))

	suggestions := make([]string, 0, len(systems))
	for _, system := range systems {
		suggestions = append(suggestions, fmt.Sprintf("restrict the question to %q", system))
	}
	return &types.Clarification{
		Kind: types.ClarifyInconsistentContext,
		Issues: []types.ClarificationIssue{{
			Kind:     "mixed_source_systems",
			Severity: "high",
			Detail: fmt.Sprintf("retrieved context spans %d source systems with no dominant one: %v",
				len(systems), systems),
		}},
		Suggestions: suggestions,
	}
}

// checkSpan 检查页码与时间戳跨度。跨度过宽说明候选散落在文档各处,
// 拼出来的上下文可能前言不搭后语。
func (v *ContextValidator) checkSpan(golden []RerankedCandidate) []string {
	minPage, maxPage := 0, 0
	minTS, maxTS := 0.0, 0.0
	hasPage, hasTS := false, false

	for _, c := range golden {
		pos := c.Candidate.Fragment.Position
		if pos.Page > 0 {
			if !hasPage || pos.Page < minPage {
				minPage = pos.Page
			}
			if !hasPage || pos.Page > maxPage {
				maxPage = pos.Page
			}
			hasPage = true
		}
		if pos.Timestamp > 0 {
			if !hasTS || pos.Timestamp < minTS {
				minTS = pos.Timestamp
			}
			if !hasTS || pos.Timestamp > maxTS {
				maxTS = pos.Timestamp
			}
			hasTS = true
		}
	}

	var warnings []string
	if hasPage && float64(maxPage-minPage) > v.cfg.SpanWidthThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"retrieved context spans pages %d-%d; the answer may mix distant parts of the document",
			minPage, maxPage))
	}
	if hasTS && maxTS-minTS > v.cfg.SpanWidthThreshold {
		warnings = append(warnings, fmt.Sprintf(
			"retrieved context spans timestamps %.0fs-%.0fs; the answer may mix distant parts of the recording",
			minTS, maxTS))
	}
	return warnings
}

func (v *ContextValidator) checkSectionSpread(golden []RerankedCandidate) []string {
	sections := make(map[string]struct{})
	for _, c := range golden {
		if path := c.Candidate.Fragment.Position.SectionPath; path != "" {
			sections[path] = struct{}{}
		}
	}
	if len(sections) > v.cfg.SectionSpreadLimit {
		return []string{fmt.Sprintf(
			"retrieved context covers %d distinct sections; the answer may lack a single coherent source",
			len(sections))}
	}
	return nil
}
