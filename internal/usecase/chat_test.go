package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/user/rag-service/internal/entity"
)

type chatFixture struct {
	*ragFixture
	sessions *SessionManager
	chat     *ChatService
}

func newChatFixture() *chatFixture {
	f := newRAGFixture(acme)
	sessions := NewSessionManager(f.cache, time.Hour, nil)
	return &chatFixture{ragFixture: f, sessions: sessions, chat: NewChatService(sessions, f.rag, nil)}
}

func TestChatAskRecordsBothTurns(t *testing.T) {
	f := newChatFixture()
	f.store.addChunk(testTenant, "https://acme.test/pricing", "Pricing", "Plans start at 10 dollars.", []float32{1, 0, 0})
	f.llm.answer = "Plans start at 10 dollars."

	resp, err := f.chat.Ask(context.Background(), ChatRequest{TenantID: testTenant, Query: "How much are plans?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if resp.SessionID == "" {
		t.Fatalf("expected a generated session id")
	}
	if resp.ContextUsed {
		t.Fatalf("first question cannot use context")
	}
	history, _ := f.sessions.History(context.Background(), resp.SessionID)
	if len(history) != 2 || history[0].Role != entity.RoleUser || history[1].Content != f.llm.answer {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestChatSummaryShortcutSkipsRetrieval(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	long := "X is our flagship analytics product for retail teams. It ingests sales data every hour and builds forecasts. " +
		"Dashboards can be shared with the whole company. Pricing depends on the number of stores."
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleUser, "tell me about X")
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleAssistant, long)

	resp, err := f.chat.Ask(ctx, ChatRequest{TenantID: testTenant, SessionID: "s1", Query: "summarize that"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if f.store.vectorHits != 0 || f.store.textHits != 0 || f.llm.callCount() != 0 {
		t.Fatalf("expected no retrieval or completion, got vector=%d text=%d llm=%d",
			f.store.vectorHits, f.store.textHits, f.llm.callCount())
	}
	if !resp.ContextUsed || resp.Answer != ShortSummary(long) {
		t.Fatalf("unexpected response %+v", resp)
	}
	if history, _ := f.sessions.History(ctx, "s1"); len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
}

func TestChatFollowUpSendsConversationToModel(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	f.store.addChunk(testTenant, "https://acme.test/x", "X", "X supports exports.", []float32{1, 0, 0})
	f.llm.answer = "Yes, it supports exports."
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleUser, "tell me about X")
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleAssistant, "X is a product.")

	resp, err := f.chat.Ask(ctx, ChatRequest{TenantID: testTenant, SessionID: "s1", Query: "does it support exports?"})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !resp.ContextUsed {
		t.Fatalf("expected context to be used")
	}
	user := f.llm.messages[0][1].Content
	if !strings.Contains(user, "Previous conversation in this session:") || !strings.Contains(user, `Current question: "does it support exports?"`) {
		t.Fatalf("expected the conversation in the prompt, got %q", user)
	}
	if len(f.cache.keys("answer:")) != 0 {
		t.Fatalf("answers with conversation context must not be cached")
	}
}

func TestChatRotatesSession(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	_, _ = f.sessions.AppendTurn(ctx, "old", entity.RoleUser, "hi")

	if _, err := f.chat.Ask(ctx, ChatRequest{TenantID: testTenant, SessionID: "new", OldSessionID: "old", Query: "hello"}); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if h, _ := f.sessions.History(ctx, "old"); len(h) != 0 {
		t.Fatalf("expected old session cleared")
	}
}

func TestChatRejectsEmptyQuery(t *testing.T) {
	f := newChatFixture()
	if _, err := f.chat.Ask(context.Background(), ChatRequest{TenantID: testTenant, Query: " "}); !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if _, err := f.chat.AskStream(context.Background(), ChatRequest{Query: "hi"}); !errors.Is(err, ErrMissingTenant) {
		t.Fatalf("expected ErrMissingTenant, got %v", err)
	}
}

func TestChatAskStream(t *testing.T) {
	f := newChatFixture()
	f.store.addChunk(testTenant, "https://acme.test/", "Home", "We sell widgets.", []float32{1, 0, 0})
	f.llm.tokens = []string{"We ", "sell ", "widgets."}

	stream, err := f.chat.AskStream(context.Background(), ChatRequest{TenantID: testTenant, SessionID: "s9", Query: "what do you sell"})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	events := collect(t, stream.Events)
	done := events[len(events)-1]
	if done.Type != entity.EventDone || done.Done.SessionID != "s9" || done.Done.Answer != "We sell widgets." {
		t.Fatalf("unexpected done event %+v", done)
	}
	history, _ := f.sessions.History(context.Background(), "s9")
	if len(history) != 2 || history[1].Content != "We sell widgets." {
		t.Fatalf("expected the streamed answer stored, got %+v", history)
	}
}

func TestChatAskStreamSummaryShortcut(t *testing.T) {
	f := newChatFixture()
	ctx := context.Background()
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleUser, "tell me about X")
	_, _ = f.sessions.AppendTurn(ctx, "s1", entity.RoleAssistant, "X is a long explanation of many things that matter.")

	stream, err := f.chat.AskStream(ctx, ChatRequest{TenantID: testTenant, SessionID: "s1", Query: "in short please, summarize it"})
	if err != nil {
		t.Fatalf("AskStream: %v", err)
	}
	var text strings.Builder
	events := collect(t, stream.Events)
	for _, ev := range events[:len(events)-1] {
		text.WriteString(ev.Content)
	}
	if text.String() != "X is a long explanation of many things that matter." {
		t.Fatalf("unexpected streamed summary %q", text.String())
	}
	if f.llm.callCount() != 0 {
		t.Fatalf("expected no completion call")
	}
}
