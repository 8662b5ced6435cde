// Package pipeline 实现自适应多阶段检索与有据答案合成管线：
// 查询分析 → 自适应参数 → 查询扩展 → 并行混合检索 → 排名融合 →
// 重排序 → 上下文校验 → 层级扩展 → 答案生成 → 有据性验证。
package pipeline

import (
	"github.com/BaSui01/docqa/corpus"
	"github.com/BaSui01/docqa/types"
)

// Complexity 查询复杂度分类。
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// QueryType 查询类型。
type QueryType string

const (
	QueryTypeDefinition QueryType = "definition" // What is X
	QueryTypeProcedural QueryType = "procedural" // How to X
	QueryTypeComparison QueryType = "comparison" // X vs Y
	QueryTypeGeneral    QueryType = "general"
)

// Intent 查询意图。
type Intent string

const (
	IntentGreeting  Intent = "greeting"
	IntentTechnical Intent = "technical"
)

// Request 一次问答请求。
type Request struct {
	Question  string `json:"question"`
	Scope     string `json:"scope,omitempty"`      // 文档范围，空为全局
	SessionID string `json:"session_id,omitempty"` // 会话连续性标识
}

// AnalyzedQuery 分析后的查询。一经分类即不可变。
type AnalyzedQuery struct {
	Raw        string     `json:"raw"`
	Enriched   string     `json:"enriched"` // 会话上下文扩充后的查询
	Scope      string     `json:"scope,omitempty"`
	Intent     Intent     `json:"intent"`
	Complexity Complexity `json:"complexity"`
	QueryType  QueryType  `json:"query_type"`

	WordCount     int      `json:"word_count"`
	TechnicalTerm bool     `json:"technical_term"`
	Topics        []string `json:"topics,omitempty"`
	FollowUp      bool     `json:"follow_up"`

	Issues []types.ClarificationIssue `json:"issues,omitempty"`
}

// RetrievalParams 自适应检索参数。
type RetrievalParams struct {
	TopK          int  `json:"top_k"`
	ContextWindow int  `json:"context_window"`
	NeedsMultiHop bool `json:"needs_multi_hop"`
}

// FusedCandidate 跨变体去重后的候选，融合分数仅由排名位置决定。
type FusedCandidate struct {
	Candidate corpus.SearchCandidate `json:"candidate"`

	// FusionScore RRF 分数：sum(1 / (k + rank + 1))
	FusionScore float64 `json:"fusion_score"`
	// VariantCount 出现在多少个变体结果列表中
	VariantCount int `json:"variant_count"`
	// Ranks 在每个出现列表中的 0 基排名
	Ranks []int `json:"ranks"`
}

// RerankedCandidate 重排后的候选。
type RerankedCandidate struct {
	FusedCandidate

	// Relevance 重排服务给出的相关性分数；回退时复用融合分数
	Relevance float64 `json:"relevance"`
	// Reranked 是否经过了真实重排（false 表示融合分数回退）
	Reranked bool `json:"reranked"`
}

// ExpandedFragment 扩展上下文中的一个片段。
type ExpandedFragment struct {
	Fragment corpus.Fragment `json:"fragment"`
	// Seed 是否为直接检索命中（false 表示仅因扩展引入）
	Seed bool `json:"seed"`
	// Relevance 种子片段的相关性分数
	Relevance float64 `json:"relevance,omitempty"`
}

// ExpandedContext 组装完成的上下文。
type ExpandedContext struct {
	Fragments  []ExpandedFragment `json:"fragments"`
	Assets     []corpus.Asset     `json:"assets,omitempty"`
	TokenCount int                `json:"token_count"`
}

// Stats 检索/融合/重排统计，随响应返回用于可观测性。
type Stats struct {
	Strategy          string  `json:"strategy"` // "fusion" | "multi_hop" | "cache" | "greeting"
	VariantsRequested int     `json:"variants_requested,omitempty"`
	VariantsSucceeded int     `json:"variants_succeeded,omitempty"`
	ExpansionFallback bool    `json:"expansion_fallback,omitempty"`
	CandidatesFused   int     `json:"candidates_fused,omitempty"`
	RerankApplied     bool    `json:"rerank_applied,omitempty"`
	CacheHit          string  `json:"cache_hit,omitempty"` // "exact" | "semantic"
	TopScore          float64 `json:"top_score,omitempty"`
	AvgScore          float64 `json:"avg_score,omitempty"`
}

// Response 管线响应。Answer 与 Clarification 互斥。
type Response struct {
	RequestID string `json:"request_id"`
	SessionID string `json:"session_id,omitempty"`

	Answer        *types.Answer        `json:"answer,omitempty"`
	Clarification *types.Clarification `json:"clarification,omitempty"`

	// Warnings 上下文校验产生的软警告，不阻断回答
	Warnings []string `json:"warnings,omitempty"`
	Stats    Stats    `json:"stats"`
}

// requestState 贯穿所有阶段的显式累积状态。
// 后续阶段需要的早期输出都从这里取，不做任何按名查找。
type requestState struct {
	req      Request
	analyzed *AnalyzedQuery
	params   RetrievalParams

	variants []string
	golden   []RerankedCandidate
	expanded *ExpandedContext

	// embedding 扩充后问题的嵌入，整个请求最多生成一次
	embedding []float64
	embedded  bool

	warnings []string
	stats    Stats
}
