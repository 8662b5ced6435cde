package llm

import (
	"context"
	"time"
)

// Recorder 接收一次模型调用的指标。internal/metrics.Collector 满足该接口。
type Recorder interface {
	RecordLLMRequest(provider, status string, duration time.Duration, promptTokens, completionTokens int)
}

// InstrumentedProvider 在底层提供者外记录每次调用的耗时与用量。
type InstrumentedProvider struct {
	inner    Provider
	recorder Recorder
}

// NewInstrumentedProvider 包装 provider。recorder 为 nil 时原样返回 provider。
func NewInstrumentedProvider(provider Provider, recorder Recorder) Provider {
	if recorder == nil {
		return provider
	}
	return &InstrumentedProvider{inner: provider, recorder: recorder}
}

// Complete 透传补全请求并记录状态、耗时和 token 用量。
func (p *InstrumentedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()
	resp, err := p.inner.Complete(ctx, req)
	if err != nil {
		p.recorder.RecordLLMRequest(p.inner.Name(), "error", time.Since(start), 0, 0)
		return nil, err
	}
	p.recorder.RecordLLMRequest(p.inner.Name(), "ok", time.Since(start),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// Embed 透传嵌入请求。嵌入响应不带用量，只记状态与耗时。
func (p *InstrumentedProvider) Embed(ctx context.Context, text string) ([]float64, error) {
	start := time.Now()
	vec, err := p.inner.Embed(ctx, text)
	status := "ok"
	if err != nil {
		status = "error"
	}
	p.recorder.RecordLLMRequest(p.inner.Name(), status, time.Since(start), 0, 0)
	return vec, err
}

func (p *InstrumentedProvider) Name() string { return p.inner.Name() }
