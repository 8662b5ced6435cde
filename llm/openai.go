package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/docqa/types"
)

// OpenAIConfig 配置 OpenAI 兼容客户端。
type OpenAIConfig struct {
	BaseURL    string        `json:"base_url"`
	APIKey     string        `json:"api_key"`
	Model      string        `json:"model"`
	EmbedModel string        `json:"embed_model"`
	Timeout    time.Duration `json:"timeout"`
	// RateLimit 每秒请求数上限，0 表示不限制。
	RateLimit float64 `json:"rate_limit"`
}

// OpenAIProvider 通过 OpenAI 兼容 API 实现 Provider。
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容客户端。
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm_openai")),
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete 生成给定提示词的补全。
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var resp chatResponse
	if err := p.post(ctx, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, types.NewError(types.ErrLLMUnavailable, "completion returned no choices")
	}

	return &CompletionResponse{
		Text:  strings.TrimSpace(resp.Choices[0].Message.Content),
		Model: resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed 生成文本的嵌入向量。
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	body := embedRequest{Model: p.cfg.EmbedModel, Input: []string{text}}

	var resp embedResponse
	if err := p.post(ctx, "/embeddings", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, types.NewError(types.ErrLLMUnavailable, "embedding returned no data")
	}

	return resp.Data[0].Embedding, nil
}

// wait 等待速率限制窗口。
func (p *OpenAIProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

// post 发送 JSON 请求并解码响应。
func (p *OpenAIProvider) post(ctx context.Context, path string, body, dest any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST",
		strings.TrimRight(p.cfg.BaseURL, "/")+path,
		bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return types.NewError(types.ErrLLMUnavailable, "llm request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		p.logger.Warn("llm request error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return types.NewError(types.ErrLLMUnavailable,
			fmt.Sprintf("llm error: status=%d body=%s", resp.StatusCode, string(respBody))).
			WithRetryable(resp.StatusCode >= 500)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode llm response: %w", err)
	}

	return nil
}
