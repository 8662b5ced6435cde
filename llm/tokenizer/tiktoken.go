package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 基于 tiktoken 的精确计数器，适用于 OpenAI 系模型。
type TiktokenTokenizer struct {
	model    string
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// modelEncodings 将模型名称映射到 tiktoken 编码。
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
}

// NewTiktokenTokenizer 为给定模型创建 tiktoken 计数器。
// 未知模型回退到 cl100k_base。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	encoding, ok := modelEncodings[model]
	if !ok {
		// 尝试前缀匹配（如 "gpt-4o" 匹配 "gpt-4o-2024"）
		for prefix, e := range modelEncodings {
			if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
				encoding = e
				ok = true
				break
			}
		}
	}
	if !ok {
		encoding = "cl100k_base"
	}

	return &TiktokenTokenizer{model: model, encoding: encoding}
}

// init 惰性初始化 tiktoken 编码（首次使用时可能下载编码数据）。
func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
