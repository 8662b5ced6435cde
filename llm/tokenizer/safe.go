package tokenizer

import "go.uber.org/zap"

// SafeCounter 包装一个 Tokenizer，底层出错时回退到字符估算并记录警告，
// 保证调用方永远能拿到一个可用的计数。
type SafeCounter struct {
	inner    Tokenizer
	fallback *EstimatorTokenizer
	logger   *zap.Logger
}

// NewSafeCounter 创建带回退的计数器。
func NewSafeCounter(inner Tokenizer, logger *zap.Logger) *SafeCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if inner == nil {
		inner = NewEstimatorTokenizer("fallback")
	}
	return &SafeCounter{
		inner:    inner,
		fallback: NewEstimatorTokenizer("fallback"),
		logger:   logger,
	}
}

// Count 返回文本的 token 数，不会失败。
func (s *SafeCounter) Count(text string) int {
	count, err := s.inner.CountTokens(text)
	if err != nil {
		s.logger.Warn("tokenizer failed, falling back to estimate", zap.Error(err))
		count, _ = s.fallback.CountTokens(text)
	}
	return count
}
