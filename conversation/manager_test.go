package conversation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docqa/llm"
	"github.com/BaSui01/docqa/types"
)

// summaryLLM 返回固定摘要文本的模拟提供者。
type summaryLLM struct {
	text string
	err  error
}

func (s *summaryLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Text: s.text}, nil
}

func (s *summaryLLM) Embed(_ context.Context, _ string) ([]float64, error) { return nil, nil }
func (s *summaryLLM) Name() string                                         { return "summary-mock" }

func userMsg(content string) types.Message {
	return types.Message{Role: types.RoleUser, Content: content}
}

func assistantMsg(content string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: content}
}

// seed 同步写入，绕过异步队列让测试可确定。
func seed(m *Manager, sessionID string, msgs ...types.Message) {
	for _, msg := range msgs {
		m.apply(appendOp{sessionID: sessionID, message: msg})
	}
}

func TestManager_WindowPassThrough(t *testing.T) {
	m := NewManager(DefaultConfig(), &summaryLLM{text: "unused"}, zap.NewNop())
	defer m.Close()

	seed(m, "s1",
		userMsg("what is the system database"),
		assistantMsg("it stores device addresses"),
		userMsg("how do I edit it"),
	)

	history, err := m.Compress(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if history.Summary != "" {
		t.Errorf("no summary expected inside the window, got %q", history.Summary)
	}
	if len(history.Recent) != 3 {
		t.Errorf("expected all 3 messages verbatim, got %d", len(history.Recent))
	}
}

func TestManager_CompressBeyondWindow(t *testing.T) {
	m := NewManager(DefaultConfig(), &summaryLLM{text: "User is configuring the system database."}, zap.NewNop())
	defer m.Close()

	for i := 0; i < 6; i++ {
		seed(m, "s1", userMsg(fmt.Sprintf("question %d", i)))
	}

	history, err := m.Compress(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if len(history.Recent) != 4 {
		t.Fatalf("expected window of 4, got %d", len(history.Recent))
	}
	if history.Recent[0].Content != "question 2" {
		t.Errorf("expected the oldest verbatim message to be question 2, got %q", history.Recent[0].Content)
	}
	if history.Summary != "User is configuring the system database." {
		t.Errorf("unexpected summary %q", history.Summary)
	}
}

func TestManager_SummaryFailureKeepsPrevious(t *testing.T) {
	provider := &summaryLLM{text: "first summary"}
	m := NewManager(DefaultConfig(), provider, zap.NewNop())
	defer m.Close()

	for i := 0; i < 6; i++ {
		seed(m, "s1", userMsg(fmt.Sprintf("question %d", i)))
	}
	if _, err := m.Compress(context.Background(), "s1"); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	// 摘要重建失败时沿用上一份摘要
	provider.err = errors.New("llm down")
	history, err := m.Compress(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if history.Summary != "first summary" {
		t.Errorf("expected the previous summary, got %q", history.Summary)
	}
}

func TestManager_FallbackSummaryWithoutProvider(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	defer m.Close()

	seed(m, "s1",
		userMsg("what is the system database"),
		assistantMsg("it stores addresses"),
		userMsg("how big can it get"),
		assistantMsg("up to 1000 devices"),
		userMsg("can I export it"),
		assistantMsg("yes, as CSV"),
	)

	history, err := m.Compress(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if history.Summary == "" {
		t.Fatal("expected a fallback summary")
	}
	if want := "what is the system database; how big can it get; can I export it"; history.Summary != want {
		t.Errorf("unexpected fallback summary %q", history.Summary)
	}
}

func TestManager_EnrichWithSummary(t *testing.T) {
	m := NewManager(DefaultConfig(), &summaryLLM{text: "Discussing panel wiring."}, zap.NewNop())
	defer m.Close()

	for i := 0; i < 6; i++ {
		seed(m, "s1", userMsg(fmt.Sprintf("question %d", i)))
	}

	enriched := m.Enrich(context.Background(), "s1", "what about the resistor")
	if enriched != "what about the resistor\n(context: Discussing panel wiring.)" {
		t.Errorf("unexpected enriched query %q", enriched)
	}
}

func TestManager_EnrichWithEntitiesOnly(t *testing.T) {
	m := NewManager(DefaultConfig(), &summaryLLM{text: "unused"}, zap.NewNop())
	defer m.Close()

	// 窗口内无摘要，只有实体可用
	seed(m, "s1", userMsg("tell me about the Modbus gateway"))

	enriched := m.Enrich(context.Background(), "s1", "what baud rate does it use")
	if enriched != "what baud rate does it use (regarding Modbus)" {
		t.Errorf("unexpected enriched query %q", enriched)
	}
}

func TestManager_EnrichNoSession(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	defer m.Close()

	if got := m.Enrich(context.Background(), "", "plain question"); got != "plain question" {
		t.Errorf("expected pass-through without a session, got %q", got)
	}
	if got := m.Enrich(context.Background(), "missing", "plain question"); got != "plain question" {
		t.Errorf("expected pass-through for unknown session, got %q", got)
	}
}

func TestManager_AppendEventuallyVisible(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	defer m.Close()

	m.Append("s1", userMsg("hello there"))

	deadline := time.After(2 * time.Second)
	for {
		if state := m.Snapshot("s1"); state != nil && len(state.Messages) == 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("append was not applied in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestManager_SnapshotMissingSession(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	defer m.Close()

	if state := m.Snapshot("nope"); state != nil {
		t.Errorf("expected nil snapshot, got %+v", state)
	}
}

func TestManager_CloseIdempotent(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	m.Close()
	m.Close()
}

func TestManager_AppendAfterCloseAppliesSynchronously(t *testing.T) {
	m := NewManager(DefaultConfig(), nil, zap.NewNop())
	m.Close()

	m.Append("s1", userMsg("late message"))

	state := m.Snapshot("s1")
	if state == nil || len(state.Messages) != 1 {
		t.Fatal("append after Close must land synchronously")
	}
	if state.Messages[0].Content != "late message" {
		t.Errorf("unexpected content %q", state.Messages[0].Content)
	}
}

func TestRenderHistory(t *testing.T) {
	if got := RenderHistory(nil); got != "" {
		t.Errorf("nil history must render empty, got %q", got)
	}
	if got := RenderHistory(&History{}); got != "" {
		t.Errorf("empty history must render empty, got %q", got)
	}

	h := &History{
		Summary: "Discussing wiring.",
		Recent: []types.Message{
			userMsg("what gauge wire"),
			assistantMsg("18 AWG"),
		},
	}
	want := "Summary: Discussing wiring.\nuser: what gauge wire\nassistant: 18 AWG"
	if got := RenderHistory(h); got != want {
		t.Errorf("unexpected render:\n%q\nwant\n%q", got, want)
	}
}
