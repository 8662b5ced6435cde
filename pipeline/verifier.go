package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// 事实性校验。回答生成后逐句比对上下文，算出 [0,1] 的置信度；
// 低于阈值不拦截回答，只附上免责声明。校验自身出错同样按低置信
// 处理——校验不了的回答不能假装校验过了。

// VerifierConfig 配置事实性校验器。
type VerifierConfig struct {
	// ConfidenceThreshold 低于该置信度附加免责声明
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	// UseLLM 启用 LLM 辅助校验（默认规则校验）
	UseLLM bool `json:"use_llm"`
	// Temperature LLM 校验温度
	Temperature float64 `json:"temperature"`
}

// DefaultVerifierConfig 返回默认配置。
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		ConfidenceThreshold: 0.85,
		Temperature:         0.0,
	}
}

// Verifier 事实性校验器。
type Verifier struct {
	cfg      VerifierConfig
	provider llm.Provider
	logger   *zap.Logger
}

// NewVerifier 创建事实性校验器。
func NewVerifier(cfg VerifierConfig, provider llm.Provider, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.85
	}
	return &Verifier{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "verifier")),
	}
}

const lowConfidenceDisclaimer = "Parts of this answer could not be fully verified against the source material. Please confirm details against the cited documentation."

// Verify 校验回答并就地写入 Confidence 与 Disclaimer。
func (v *Verifier) Verify(ctx context.Context, answer *types.Answer, expanded *ExpandedContext) {
	var confidence float64
	if v.cfg.UseLLM && v.provider != nil {
		score, err := v.verifyWithLLM(ctx, answer, expanded)
		if err != nil {
			v.logger.Warn("llm verification failed, using rule-based check", zap.Error(err))
			confidence = v.verifyWithRules(answer, expanded)
		} else {
			confidence = score
		}
	} else {
		confidence = v.verifyWithRules(answer, expanded)
	}

	answer.Confidence = confidence
	if confidence < v.cfg.ConfidenceThreshold {
		answer.Disclaimer = lowConfidenceDisclaimer
		v.logger.Info("answer below confidence threshold",
			zap.Float64("confidence", confidence),
			zap.Float64("threshold", v.cfg.ConfidenceThreshold))
	}
}

var sentencePattern = regexp.MustCompile(`[^.!?。！？]+[.!?。！？]?`)

// verifyWithRules 逐句检查回答与上下文的词汇重叠。
// 每个句子的实词（长度 >3 且非停用词）至少一半出现在上下文里才算有依据；
// 置信度是有依据句子的占比。
func (v *Verifier) verifyWithRules(answer *types.Answer, expanded *ExpandedContext) float64 {
	contextWords := make(map[string]struct{})
	for _, f := range expanded.Fragments {
		for _, w := range tokenizeWords(f.Fragment.Content) {
			contextWords[w] = struct{}{}
		}
	}
	if len(contextWords) == 0 {
		return 0
	}

	sentences := sentencePattern.FindAllString(answer.Text, -1)
	if len(sentences) == 0 {
		return 0
	}

	grounded := 0
	checked := 0
	for _, sentence := range sentences {
		words := tokenizeWords(sentence)
		if len(words) == 0 {
			continue
		}
		checked++
		found := 0
		for _, w := range words {
			if _, ok := contextWords[w]; ok {
				found++
			}
		}
		if float64(found)/float64(len(words)) >= 0.5 {
			grounded++
		}
	}
	if checked == 0 {
		return 0
	}
	return float64(grounded) / float64(checked)
}

var verifierStopwords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {},
	"will": {}, "must": {}, "should": {}, "which": {}, "there": {},
	"their": {}, "about": {}, "into": {}, "also": {}, "more": {},
	"when": {}, "then": {}, "than": {}, "been": {}, "does": {},
}

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenizeWords(text string) []string {
	var words []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(text), -1) {
		if len(w) <= 3 {
			continue
		}
		if _, stop := verifierStopwords[w]; stop {
			continue
		}
		words = append(words, w)
	}
	return words
}

// verifyWithLLM 请 LLM 给出 0-100 的有据程度评分。
func (v *Verifier) verifyWithLLM(ctx context.Context, answer *types.Answer, expanded *ExpandedContext) (float64, error) {
	var b strings.Builder
	b.WriteString("Context:\n")
	for i, f := range expanded.Fragments {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, f.Fragment.Content)
	}
	fmt.Fprintf(&b, `
Answer to verify:
%s

Rate from 0 to 100 how fully the answer is supported by the context above.
Reply with only the number.`, answer.Text)

	resp, err := v.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      b.String(),
		Temperature: v.cfg.Temperature,
		MaxTokens:   8,
	})
	if err != nil {
		return 0, err
	}

	raw := strings.TrimSpace(resp.Text)
	if m := regexp.MustCompile(`\d+`).FindString(raw); m != "" {
		raw = m
	}
	score, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable verification score %q: %w", resp.Text, err)
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score / 100, nil
}
