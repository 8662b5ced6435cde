// Package conversation 实现会话记忆管理：滑动窗口 + 摘要压缩。
// 写入是异步的（最终一致）：刚写入的一轮对话对紧随其后的读取不保证可见。
package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// Config 会话记忆配置。
type Config struct {
	// WindowSize 逐字保留的最近消息数，超出部分被摘要替代
	WindowSize int `json:"window_size"`
	// SummaryMaxTokens 摘要生成的最大 token 数
	SummaryMaxTokens int `json:"summary_max_tokens"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() Config {
	return Config{
		WindowSize:       4,
		SummaryMaxTokens: 300,
	}
}

// State 会话状态。
type State struct {
	ID        string          `json:"id"`
	Messages  []types.Message `json:"messages"`
	Summary   string          `json:"summary,omitempty"`
	Entities  []string        `json:"entities,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// History 压缩后的历史视图：摘要（可为空）+ 最近的逐字消息。
type History struct {
	Summary  string          `json:"summary,omitempty"`
	Recent   []types.Message `json:"recent"`
	Entities []string        `json:"entities,omitempty"`
}

// appendOp 异步写入操作。
type appendOp struct {
	sessionID string
	message   types.Message
}

// Manager 会话记忆管理器。
type Manager struct {
	cfg      Config
	provider llm.Provider
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*State

	writes chan appendOp
	done   chan struct{}
	once   sync.Once
}

// NewManager 创建会话记忆管理器并启动异步写入循环。
func NewManager(cfg Config, provider llm.Provider, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 4
	}

	m := &Manager{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "conversation")),
		sessions: make(map[string]*State),
		writes:   make(chan appendOp, 256),
		done:     make(chan struct{}),
	}
	go m.writeLoop()
	return m
}

// Append 异步记录一轮消息。返回时写入可能尚未可见。
func (m *Manager) Append(sessionID string, msg types.Message) {
	op := appendOp{sessionID: sessionID, message: msg}

	// 关闭后写循环不再消费，同步落地避免丢消息
	select {
	case <-m.done:
		m.apply(op)
		return
	default:
	}

	select {
	case m.writes <- op:
	default:
		// 队列满时同步降级，避免丢消息
		m.apply(op)
	}
}

// writeLoop 消费异步写入队列。
func (m *Manager) writeLoop() {
	for {
		select {
		case op := <-m.writes:
			m.apply(op)
		case <-m.done:
			// 排空剩余写入
			for {
				select {
				case op := <-m.writes:
					m.apply(op)
				default:
					return
				}
			}
		}
	}
}

// apply 执行一次写入。
func (m *Manager) apply(op appendOp) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[op.sessionID]
	if !ok {
		state = &State{ID: op.sessionID}
		m.sessions[op.sessionID] = state
	}
	state.Messages = append(state.Messages, op.message)
	state.Entities = mergeEntities(state.Entities, extractEntities(op.message.Content))
	state.UpdatedAt = time.Now()
}

// Close 停止异步写入循环并排空队列。
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}

// Snapshot 返回会话状态副本，不存在时返回 nil。
func (m *Manager) Snapshot(sessionID string) *State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}

	cp := *state
	cp.Messages = append([]types.Message(nil), state.Messages...)
	cp.Entities = append([]string(nil), state.Entities...)
	return &cp
}

// Compress 返回压缩后的历史：窗口内原样透传，超过窗口时
// 保留最近 WindowSize 条消息，并对完整历史重新生成摘要。
// 摘要每次从全量历史重建，不做增量追加，避免漂移累积。
func (m *Manager) Compress(ctx context.Context, sessionID string) (*History, error) {
	state := m.Snapshot(sessionID)
	if state == nil || len(state.Messages) == 0 {
		return &History{}, nil
	}

	if len(state.Messages) <= m.cfg.WindowSize {
		return &History{
			Recent:   state.Messages,
			Entities: state.Entities,
		}, nil
	}

	recent := state.Messages[len(state.Messages)-m.cfg.WindowSize:]

	summary, err := m.summarize(ctx, state.Messages)
	if err != nil {
		m.logger.Warn("summary generation failed, using previous summary",
			zap.String("session_id", sessionID),
			zap.Error(err))
		summary = state.Summary
	} else {
		m.mu.Lock()
		if s, ok := m.sessions[sessionID]; ok {
			s.Summary = summary
		}
		m.mu.Unlock()
	}

	return &History{
		Summary:  summary,
		Recent:   recent,
		Entities: state.Entities,
	}, nil
}

// Enrich 用会话上下文扩充查询，供检索阶段使用。
// 无历史时原样返回。
func (m *Manager) Enrich(ctx context.Context, sessionID, query string) string {
	if sessionID == "" {
		return query
	}

	history, err := m.Compress(ctx, sessionID)
	if err != nil || (history.Summary == "" && len(history.Entities) == 0) {
		return query
	}

	var b strings.Builder
	b.WriteString(query)
	if history.Summary != "" {
		b.WriteString("\n(context: ")
		b.WriteString(history.Summary)
		b.WriteString(")")
	} else if len(history.Entities) > 0 {
		b.WriteString(" (regarding ")
		b.WriteString(strings.Join(history.Entities, ", "))
		b.WriteString(")")
	}
	return b.String()
}

// summarize 对完整历史生成摘要。
func (m *Manager) summarize(ctx context.Context, messages []types.Message) (string, error) {
	if m.provider == nil {
		return fallbackSummary(messages), nil
	}

	var transcript strings.Builder
	for _, msg := range messages {
		transcript.WriteString(string(msg.Role))
		transcript.WriteString(": ")
		transcript.WriteString(msg.Content)
		transcript.WriteString("\n")
	}

	prompt := fmt.Sprintf(`Summarize the following conversation in 2-3 sentences.
Capture: the user's overall intent, the established context (which system or domain is being discussed), and any unresolved threads.
Do not add information that is not in the conversation.

Conversation:
%s

Summary:`, transcript.String())

	resp, err := m.provider.Complete(ctx, llm.CompletionRequest{
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   m.cfg.SummaryMaxTokens,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(resp.Text), nil
}

// fallbackSummary 无 LLM 时的朴素摘要：拼接用户消息开头。
func fallbackSummary(messages []types.Message) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != types.RoleUser {
			continue
		}
		parts = append(parts, truncate(msg.Content, 60))
		if len(parts) >= 3 {
			break
		}
	}
	return strings.Join(parts, "; ")
}

var entityPattern = regexp.MustCompile(`[^\w]$`)

// extractEntities 基于大写开头的简单实体提取。
func extractEntities(text string) []string {
	words := strings.Fields(text)
	var entities []string

	for i, word := range words {
		// 跳过首词（通常因句首而大写）
		if i == 0 {
			continue
		}
		if len(word) > 1 && word[0] >= 'A' && word[0] <= 'Z' {
			word = entityPattern.ReplaceAllString(word, "")
			if len(word) > 1 {
				entities = append(entities, word)
			}
		}
	}

	return entities
}

// mergeEntities 合并去重实体列表。
func mergeEntities(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[strings.ToLower(e)] = true
	}
	for _, e := range incoming {
		if !seen[strings.ToLower(e)] {
			existing = append(existing, e)
			seen[strings.ToLower(e)] = true
		}
	}
	return existing
}

// truncate 截断文本到 maxLen。
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// RenderHistory 把压缩后的历史渲染成提示词文本。空历史返回空串。
func RenderHistory(h *History) string {
	if h == nil || (h.Summary == "" && len(h.Recent) == 0) {
		return ""
	}
	var b strings.Builder
	if h.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", h.Summary)
	}
	for _, msg := range h.Recent {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
