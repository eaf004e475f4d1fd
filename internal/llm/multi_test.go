package llm

import (
	"context"
	"testing"
)

type stubClient struct {
	name    string
	lastReq string
}

func (s *stubClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	s.lastReq = model
	return &ChatResponse{Model: model, Message: Message{Role: "assistant", Content: s.name}}, nil
}

func (s *stubClient) Ping(ctx context.Context) error { return nil }

func TestMultiClientRouting(t *testing.T) {
	fallback := &stubClient{name: "fallback"}
	anthropic := &stubClient{name: "anthropic"}

	m := NewMultiClient(fallback)
	m.AddProvider("anthropic", anthropic)
	m.AddModel("claude-sonnet-4-20250514", "anthropic")

	resp, err := m.Chat(context.Background(), "claude-sonnet-4-20250514", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "anthropic" {
		t.Errorf("expected anthropic provider, got %s", resp.Message.Content)
	}

	resp, err = m.Chat(context.Background(), "some-other-model", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "fallback" {
		t.Errorf("expected fallback provider, got %s", resp.Message.Content)
	}
}

func TestMultiClientUnknownProviderFallsBack(t *testing.T) {
	fallback := &stubClient{name: "fallback"}
	m := NewMultiClient(fallback)
	// Model mapped to a provider that was never registered.
	m.AddModel("gpt-4o", "openai")

	resp, err := m.Chat(context.Background(), "gpt-4o", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "fallback" {
		t.Errorf("expected fallback, got %s", resp.Message.Content)
	}
}

func TestMultiClientNoFallback(t *testing.T) {
	m := NewMultiClient(nil)
	if _, err := m.Chat(context.Background(), "anything", nil, nil); err == nil {
		t.Fatal("expected error with no provider and no fallback")
	}
	if err := m.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error with no fallback")
	}
}

func TestMultiClientImplementsInterface(t *testing.T) {
	var _ Client = (*MultiClient)(nil)
}
