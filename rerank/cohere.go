package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CohereConfig 配置 Cohere 兼容重排序客户端。
type CohereConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// CohereProvider 使用 Cohere 兼容 API 执行重排序。
type CohereProvider struct {
	cfg    CohereConfig
	client *http.Client
}

// NewCohereProvider 创建 Cohere 重排序提供者。
func NewCohereProvider(cfg CohereConfig) *CohereProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.cohere.ai"
	}
	if cfg.Model == "" {
		cfg.Model = "rerank-v3.5"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &CohereProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *CohereProvider) Name() string      { return "cohere-rerank" }
func (p *CohereProvider) MaxDocuments() int { return 1000 }

type cohereRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopN      int      `json:"top_n,omitempty"`
}

type cohereResponse struct {
	ID      string `json:"id"`
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank 根据与查询的相关性重新排序文档。
func (p *CohereProvider) Rerank(ctx context.Context, req *Request) ([]Result, error) {
	body := cohereRequest{
		Query:     req.Query,
		Documents: req.Documents,
		Model:     p.cfg.Model,
		TopN:      req.TopN,
	}

	payload, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(p.cfg.BaseURL, "/")+"/v2/rerank",
		bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("rerank error: status=%d body=%s", resp.StatusCode, string(respBody))
	}

	var cResp cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&cResp); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	results := make([]Result, len(cResp.Results))
	for i, r := range cResp.Results {
		results[i] = Result{Index: r.Index, RelevanceScore: r.RelevanceScore}
	}

	return results, nil
}
