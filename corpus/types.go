// Package corpus 定义语料检索服务与文档层级协作方的接口，
// 并提供一个可用于测试和本地开发的内存参考实现。
// 管线对语料只读，摄取与索引由外部系统负责。
package corpus

import "context"

// Position 片段在源文档/视频中的位置。
type Position struct {
	// Page 文档页码（文档来源时有效）
	Page int `json:"page,omitempty"`
	// Timestamp 视频时间戳，单位秒（视频来源时有效）
	Timestamp float64 `json:"timestamp,omitempty"`
	// SectionPath 结构化章节路径，如 "3.2/3.2.1"
	SectionPath string `json:"section_path,omitempty"`
}

// Fragment 语料片段：一段已被索引的文档或视频内容。
type Fragment struct {
	ID           string    `json:"id"`
	SourceID     string    `json:"source_id"`     // 所属文档/视频
	SourceSystem string    `json:"source_system"` // 片段描述的系统/产品
	SourceType   string    `json:"source_type"`   // "document" | "video"
	Content      string    `json:"content"`
	Position     Position  `json:"position"`
	Topics       []string  `json:"topics,omitempty"`
	Embedding    []float64 `json:"embedding,omitempty"`
}

// SearchCandidate 一次混合检索命中的候选片段。
type SearchCandidate struct {
	Fragment Fragment `json:"fragment"`

	// SemanticScore 语义相似度分量
	SemanticScore float64 `json:"semantic_score"`
	// KeywordScore 关键词相关性分量
	KeywordScore float64 `json:"keyword_score"`
	// TopicBoost 主题加权乘数（1.0 表示未加权）
	TopicBoost float64 `json:"topic_boost"`
	// Score 综合分数
	Score float64 `json:"score"`
}

// Asset 附属于章节的图片或表格。
type Asset struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"` // "image" | "table"
	SectionPath string `json:"section_path"`
	Caption     string `json:"caption,omitempty"`
	Ref         string `json:"ref"` // 对象存储引用，管线不解引用
}

// HybridQuery 混合检索参数。
type HybridQuery struct {
	Text      string    `json:"text"`
	Embedding []float64 `json:"embedding,omitempty"`
	// Scope 限定检索的文档范围，空表示全局
	Scope string `json:"scope,omitempty"`
	// IncludeTopics 查询推断出的主题集合，用于渐进加权而非硬过滤
	IncludeTopics []string `json:"include_topics,omitempty"`
	// ExcludeTopics 显式排除的主题（唯一的硬排除途径）
	ExcludeTopics  []string `json:"exclude_topics,omitempty"`
	SemanticWeight float64  `json:"semantic_weight"`
	KeywordWeight  float64  `json:"keyword_weight"`
	TopK           int      `json:"top_k"`
}

// Searcher 语料检索服务接口。
// 实现必须支持渐进主题加权：匹配 2+ 主题的候选分数高于匹配 1 个主题的，
// 后者又高于不匹配的；除 ExcludeTopics 外不得按主题硬排除候选。
type Searcher interface {
	HybridSearch(ctx context.Context, q HybridQuery) ([]SearchCandidate, error)
}

// Hierarchy 文档层级查询接口。
type Hierarchy interface {
	// SiblingsAndParent 返回片段的前后兄弟片段（各最多 window 个）
	// 以及可选的父章节片段。
	SiblingsAndParent(ctx context.Context, fragmentID string, window int) ([]Fragment, error)

	// AttachedAssets 返回落在章节内的图片与表格。
	AttachedAssets(ctx context.Context, sectionPath string) ([]Asset, error)
}
