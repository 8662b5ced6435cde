package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// 回答生成器。把扩展后的上下文编号成提示词块，低温生成带编号引用的
// 回答，并为每个种子片段生成一条结构化引用。

const excerptRunes = 200

// GeneratorConfig 配置回答生成器。
type GeneratorConfig struct {
	// Temperature 生成温度，事实问答要求低温
	Temperature float64 `json:"temperature"`
	// MaxTokens 回答 token 上限
	MaxTokens int `json:"max_tokens"`
}

// DefaultGeneratorConfig 返回默认配置。
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Temperature: 0.1,
		MaxTokens:   1024,
	}
}

// Generator 回答生成器。
type Generator struct {
	cfg      GeneratorConfig
	provider llm.Provider
	logger   *zap.Logger
}

// NewGenerator 创建回答生成器。
func NewGenerator(cfg GeneratorConfig, provider llm.Provider, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	return &Generator{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "generator")),
	}
}

// Generate 基于扩展上下文合成回答。history 是压缩后的会话摘要，
// 可以为空。引用与种子片段一一对应，按上下文编号排列。
func (g *Generator) Generate(ctx context.Context, question string, expanded *ExpandedContext, history string) (*types.Answer, error) {
	prompt := g.buildPrompt(question, expanded, history)

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		System:      generatorSystem,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return nil, types.NewError(types.ErrLLMUnavailable,
			"answer generation failed").WithCause(err).WithRetryable(true)
	}

	answer := &types.Answer{
		Text:      strings.TrimSpace(resp.Text),
		Citations: g.buildCitations(expanded),
		Usage: types.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}

	g.logger.Debug("answer generated",
		zap.Int("citations", len(answer.Citations)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))

	return answer, nil
}

const generatorSystem = `You are a technical documentation assistant. Answer only from the numbered context blocks.
Cite every factual statement with the block number in brackets, e.g. [2].
If the context does not contain the answer, say so explicitly instead of guessing.`

// buildPrompt 把上下文片段编号成 [n] 块。编号顺序与引用顺序一致，
// 生成的 [n] 标记才能反查到片段。
func (g *Generator) buildPrompt(question string, expanded *ExpandedContext, history string) string {
	var b strings.Builder

	if history != "" {
		fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", history)
	}

	b.WriteString("Context:\n")
	for i, f := range expanded.Fragments {
		fmt.Fprintf(&b, "[%d] (%s", i+1, f.Fragment.SourceID)
		if page := f.Fragment.Position.Page; page > 0 {
			fmt.Fprintf(&b, ", page %d", page)
		}
		if ts := f.Fragment.Position.Timestamp; ts > 0 {
			fmt.Fprintf(&b, ", %.0fs", ts)
		}
		fmt.Fprintf(&b, ")\n%s\n\n", f.Fragment.Content)
	}

	if len(expanded.Assets) > 0 {
		b.WriteString("Related figures and tables (reference only, do not describe their contents):\n")
		for _, a := range expanded.Assets {
			fmt.Fprintf(&b, "- %s %s: %s\n", a.Kind, a.ID, a.Caption)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", question)
	return b.String()
}

// buildCitations 只为种子片段生成引用。扩展进来的兄弟/父片段
// 提供连贯性，但不作为回答的出处。
func (g *Generator) buildCitations(expanded *ExpandedContext) []types.Citation {
	var citations []types.Citation
	for _, f := range expanded.Fragments {
		if !f.Seed {
			continue
		}
		citations = append(citations, types.Citation{
			FragmentID: f.Fragment.ID,
			SourceID:   f.Fragment.SourceID,
			SourceType: f.Fragment.SourceType,
			Page:       f.Fragment.Position.Page,
			Timestamp:  f.Fragment.Position.Timestamp,
			Section:    f.Fragment.Position.SectionPath,
			Excerpt:    truncateExcerpt(f.Fragment.Content),
			Relevance:  f.Relevance,
		})
	}
	return citations
}

func truncateExcerpt(content string) string {
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) <= excerptRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:excerptRunes]) + "…"
}
