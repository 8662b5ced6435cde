// Package rerank 提供统一的重排序服务接口与实现。
package rerank

import "context"

// Request 表示一次重排序请求。
type Request struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n,omitempty"`
}

// Result 表示单个被重排的文档。
// Index 指向提交列表中的原始位置。
type Result struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"` // 0-1 normalized score
}

// Provider 定义统一的重排序提供者接口。
type Provider interface {
	// Rerank 根据与查询的相关性重新排序文档。
	Rerank(ctx context.Context, req *Request) ([]Result, error)

	// Name 返回提供者名称。
	Name() string

	// MaxDocuments 返回支持的最大文档数量。
	MaxDocuments() int
}
