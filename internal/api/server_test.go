package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmind/taskmind/internal/agent"
	"github.com/taskmind/taskmind/internal/auth"
	"github.com/taskmind/taskmind/internal/conversation"
	"github.com/taskmind/taskmind/internal/llm"
	"github.com/taskmind/taskmind/internal/tasks"
	"github.com/taskmind/taskmind/internal/tools"
)

// scriptedLLM returns queued responses in order.
type scriptedLLM struct {
	responses []*llm.ChatResponse
	calls     int
}

func (m *scriptedLLM) Chat(ctx context.Context, model string, messages []llm.Message, tools []map[string]any) (*llm.ChatResponse, error) {
	i := m.calls
	m.calls++
	if i >= len(m.responses) {
		return &llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "ok"}}, nil
	}
	return m.responses[i], nil
}

func (m *scriptedLLM) Ping(ctx context.Context) error { return nil }

type fixture struct {
	server  *Server
	handler http.Handler
	auth    *auth.Manager
	convs   *conversation.Store
	mock    *scriptedLLM
}

func newFixture(t *testing.T, responses ...*llm.ChatResponse) *fixture {
	t.Helper()

	dir := t.TempDir()
	taskStore, err := tasks.NewStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("task store: %v", err)
	}
	t.Cleanup(func() { taskStore.Close() })

	convStore, err := conversation.NewStore(filepath.Join(dir, "conv.db"))
	if err != nil {
		t.Fatalf("conversation store: %v", err)
	}
	t.Cleanup(func() { convStore.Close() })

	registry, err := tools.NewRegistry(taskStore)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	authMgr, err := auth.NewManager("test-secret", "taskmind-test", time.Hour)
	if err != nil {
		t.Fatalf("auth: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mock := &scriptedLLM{responses: responses}
	loop := agent.New(logger, mock, registry)
	srv := NewServer("127.0.0.1", 0, loop, convStore, authMgr, logger)

	return &fixture{
		server:  srv,
		handler: srv.Handler(),
		auth:    authMgr,
		convs:   convStore,
		mock:    mock,
	}
}

func (f *fixture) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) token(t *testing.T, user string) string {
	t.Helper()
	token, err := f.auth.Sign(user)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health: expected 200, got %d", rec.Code)
	}

	rec = f.request(t, "GET", "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("root: expected 200, got %d", rec.Code)
	}
	root := decode[map[string]string](t, rec)
	if root["name"] != "taskmind" {
		t.Errorf("unexpected root payload: %v", root)
	}

	rec = f.request(t, "GET", "/version", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("version: expected 200, got %d", rec.Code)
	}
}

func TestChatRequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/alice/chat", "", ChatRequest{Message: "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = f.request(t, "POST", "/alice/chat", "garbage", ChatRequest{Message: "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad token, got %d", rec.Code)
	}
}

func TestChatRejectsForeignToken(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "POST", "/alice/chat", f.token(t, "bob"), ChatRequest{Message: "hi"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestChatValidation(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "alice")

	rec := f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty message: expected 400, got %d", rec.Code)
	}

	rec = f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message: expected 400, got %d", rec.Code)
	}

	rec = f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: strings.Repeat("x", 2001)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("oversized message: expected 400, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/alice/chat", strings.NewReader("not json"))
	req.Header.Set("Authorization", "Bearer "+token)
	rec2 := httptest.NewRecorder()
	f.handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec2.Code)
	}
}

func TestChatCreatesConversationAndRecordsTurns(t *testing.T) {
	f := newFixture(t, &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", Content: "Hello Alice!"},
	})
	token := f.token(t, "alice")

	rec := f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: "hi there"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	resp := decode[ChatResponse](t, rec)
	if resp.ConversationID == 0 {
		t.Error("expected a conversation id")
	}
	if resp.Response != "Hello Alice!" {
		t.Errorf("unexpected response: %q", resp.Response)
	}
	if resp.ToolCalls == nil || len(resp.ToolCalls) != 0 {
		t.Errorf("expected empty tool_calls array, got %v", resp.ToolCalls)
	}

	// Both turns persisted.
	msgs, err := f.convs.Messages(resp.ConversationID, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Content != "hi there" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != "assistant" || msgs[1].Content != "Hello Alice!" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
}

func TestChatContinuesConversation(t *testing.T) {
	f := newFixture(t,
		&llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "first reply"}},
		&llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "second reply"}},
	)
	token := f.token(t, "alice")

	first := decode[ChatResponse](t, f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: "one"}))

	rec := f.request(t, "POST", "/alice/chat", token, ChatRequest{
		ConversationID: first.ConversationID,
		Message:        "two",
	})
	second := decode[ChatResponse](t, rec)
	if second.ConversationID != first.ConversationID {
		t.Errorf("expected same conversation, got %d and %d", first.ConversationID, second.ConversationID)
	}

	msgs, _ := f.convs.Messages(first.ConversationID, 50)
	if len(msgs) != 4 {
		t.Errorf("expected 4 messages, got %d", len(msgs))
	}
}

func TestChatStaleConversationIDStartsFresh(t *testing.T) {
	f := newFixture(t, &llm.ChatResponse{
		Message: llm.Message{Role: "assistant", Content: "fresh start"},
	})
	token := f.token(t, "alice")

	rec := f.request(t, "POST", "/alice/chat", token, ChatRequest{
		ConversationID: 9999,
		Message:        "hello",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[ChatResponse](t, rec)
	if resp.ConversationID == 9999 {
		t.Error("expected a new conversation for a stale id")
	}
}

func TestChatWithToolCalls(t *testing.T) {
	f := newFixture(t,
		&llm.ChatResponse{Message: llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				llm.NewToolCall("call_1", "add_task", map[string]any{"title": "Buy milk"}),
			},
		}},
		&llm.ChatResponse{Message: llm.Message{Role: "assistant", Content: "Added it!"}},
	)
	token := f.token(t, "alice")

	rec := f.request(t, "POST", "/alice/chat", token, ChatRequest{Message: "remind me to buy milk"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	resp := decode[ChatResponse](t, rec)
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Tool != "add_task" {
		t.Errorf("unexpected tool: %s", resp.ToolCalls[0].Tool)
	}
	if resp.ToolCalls[0].Result["status"] != "created" {
		t.Errorf("unexpected result: %v", resp.ToolCalls[0].Result)
	}
}

func TestListConversations(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "alice")

	f.convs.Create("alice")
	f.convs.Create("alice")
	f.convs.Create("bob")

	rec := f.request(t, "GET", "/alice/conversations", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decode[struct {
		Conversations []ConversationSummary `json:"conversations"`
		Count         int                   `json:"count"`
	}](t, rec)
	if resp.Count != 2 {
		t.Errorf("expected 2 conversations, got %d", resp.Count)
	}
}

func TestConversationMessages(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, "alice")

	conv, _ := f.convs.Create("alice")
	f.convs.AddUserMessage(conv.ID, "alice", "hello")
	f.convs.AddAssistantMessage(conv.ID, "alice", "hi!")

	rec := f.request(t, "GET", fmt.Sprintf("/alice/conversations/%d/messages", conv.ID), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	resp := decode[struct {
		Messages []MessageView `json:"messages"`
		Count    int           `json:"count"`
	}](t, rec)
	if resp.Count != 2 {
		t.Fatalf("expected 2 messages, got %d", resp.Count)
	}
	if resp.Messages[0].Role != "user" || resp.Messages[1].Role != "assistant" {
		t.Errorf("unexpected roles: %s, %s", resp.Messages[0].Role, resp.Messages[1].Role)
	}
}

func TestConversationMessagesNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "GET", "/alice/conversations/123/messages", f.token(t, "alice"), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestConversationMessagesForeignConversation(t *testing.T) {
	f := newFixture(t)

	conv, _ := f.convs.Create("bob")
	rec := f.request(t, "GET", fmt.Sprintf("/alice/conversations/%d/messages", conv.ID), f.token(t, "alice"), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for foreign conversation, got %d", rec.Code)
	}
}

func TestConversationMessagesInvalidID(t *testing.T) {
	f := newFixture(t)

	rec := f.request(t, "GET", "/alice/conversations/abc/messages", f.token(t, "alice"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
