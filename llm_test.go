package archivist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

func newTestProvider(t *testing.T, srv *httptest.Server) *AnthropicProvider {
	t.Helper()
	return &AnthropicProvider{
		sdk: anthropic.NewClient(
			option.WithAPIKey("k"),
			option.WithBaseURL(srv.URL),
			option.WithHTTPClient(srv.Client()),
		),
	}
}

func TestChatReturnsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := anthropic.Message{
			ID:         "msg_1",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			StopReason: anthropic.StopReasonEndTurn,
			Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: "hello"}},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, srv)
	resp, err := p.Chat(context.Background(), "claude-haiku-4-5", []ChatMessage{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("expected text %q, got %q", "hello", resp.Text)
	}
	if len(resp.ToolCalls) != 0 {
		t.Fatalf("expected no tool calls, got %+v", resp.ToolCalls)
	}
}

func TestChatReturnsToolCalls(t *testing.T) {
	var reqBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		w.Header().Set("Content-Type", "application/json")
		resp := anthropic.Message{
			ID:         "msg_2",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			StopReason: anthropic.StopReasonToolUse,
			Content: []anthropic.ContentBlockUnion{
				{Type: "tool_use", ID: "call_1", Name: "autoApply", Input: json.RawMessage(`{"path":"memory/a.md"}`)},
			},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, srv)
	tools := []ToolSchema{{Name: "autoApply", Description: "apply a fix", Parameters: map[string]any{"type": "object"}}}
	resp, err := p.Chat(context.Background(), "claude-sonnet-4-5", []ChatMessage{{Role: "user", Content: "go"}}, tools)
	if err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "autoApply" {
		t.Fatalf("expected one autoApply tool call, got %+v", resp.ToolCalls)
	}
	if resp.ToolCalls[0].Arguments["path"] != "memory/a.md" {
		t.Fatalf("unexpected tool call arguments: %+v", resp.ToolCalls[0].Arguments)
	}

	toolsSent, ok := reqBody["tools"]
	if !ok || toolsSent == nil {
		t.Fatalf("expected tools in request body, got %#v", reqBody)
	}
}

func TestChatSendsSystemAndToolResultMessages(t *testing.T) {
	var reqBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		_ = json.NewDecoder(r.Body).Decode(&reqBody)
		w.Header().Set("Content-Type", "application/json")
		resp := anthropic.Message{
			ID:         "msg_3",
			Type:       constant.Message("message"),
			Role:       constant.Assistant("assistant"),
			StopReason: anthropic.StopReasonEndTurn,
			Content:    []anthropic.ContentBlockUnion{{Type: "text", Text: "done"}},
		}
		b, _ := json.Marshal(resp)
		_, _ = w.Write(b)
	}))
	t.Cleanup(srv.Close)

	p := newTestProvider(t, srv)
	messages := []ChatMessage{
		{Role: "system", Content: "You are a reflection agent."},
		{Role: "user", Content: "scan memory"},
		{Role: "assistant", Content: "calling autoApply"},
		{Role: "tool", ToolCallID: "call_1", ToolName: "autoApply", Content: "applied"},
	}
	if _, err := p.Chat(context.Background(), "claude-haiku-4-5", messages, nil); err != nil {
		t.Fatalf("Chat returned error: %v", err)
	}

	if reqBody["system"] == nil {
		t.Fatalf("expected system prompt in request, got %#v", reqBody)
	}
	msgs, ok := reqBody["messages"].([]any)
	if !ok || len(msgs) != 3 {
		t.Fatalf("expected 3 converted messages (system pulled out separately), got %#v", reqBody["messages"])
	}
}
