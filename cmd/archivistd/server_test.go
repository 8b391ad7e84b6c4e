package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	archivist "github.com/goblincore/archivist"
	"github.com/rs/zerolog"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (fakeEmbedder) Dimension() int { return 4 }

func newTestDeps(t *testing.T) *deps {
	t.Helper()
	store := archivist.NewMemoryObjectStore()
	index, err := archivist.NewIndexService(t.TempDir()+"/test.db", fakeEmbedder{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("new index service: %v", err)
	}
	t.Cleanup(func() { index.Close() })

	reminders := archivist.NewReminderScheduler(store)
	conversations := archivist.NewConversationIndexer(store, index)
	staging := archivist.NewStagingWriter(store, index)
	sandbox := archivist.NewSandbox(store)
	llm := archivist.NewAnthropicProvider("")
	reflection := archivist.NewReflectionController(store, index, staging, llm, nil, "primary", "fast", zerolog.Nop())

	return &deps{
		store:         store,
		index:         index,
		reminders:     reminders,
		conversations: conversations,
		staging:       staging,
		sandbox:       sandbox,
		reflection:    reflection,
	}
}

func TestHealthEndpointRequiresNoAuth(t *testing.T) {
	router := newRouter(newTestDeps(t), buildToolTable(), "secret", zerolog.Nop())
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMCPRejectsWithoutBearer(t *testing.T) {
	router := newRouter(newTestDeps(t), buildToolTable(), "secret", zerolog.Nop())
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMCPToolsListReturnsAllTools(t *testing.T) {
	router := newRouter(newTestDeps(t), buildToolTable(), "secret", zerolog.Nop())
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestMCPToolsCallWriteThenRead(t *testing.T) {
	router := newRouter(newTestDeps(t), buildToolTable(), "secret", zerolog.Nop())

	writeBody := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"write","arguments":{"path":"memory/a.md","content":"hello"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(writeBody))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("write: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	readBody := `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"read","arguments":{"path":"memory/a.md"}}}`
	req = httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(readBody))
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("read: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("hello")) {
		t.Fatalf("expected response to contain written content, got %s", rec.Body.String())
	}
}

func TestMCPUnknownMethodReturnsError(t *testing.T) {
	router := newRouter(newTestDeps(t), buildToolTable(), "secret", zerolog.Nop())
	body := `{"jsonrpc":"2.0","id":1,"method":"bogus"}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("expected method-not-found error, got %+v", resp.Error)
	}
}
