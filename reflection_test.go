package archivist

import (
	"context"
	"strings"
	"testing"
)

// scriptedLLM returns a fixed sequence of ChatResponses, one per call:
// the fast script for models whose name contains "haiku" or "fast",
// the primary script otherwise, regardless of the messages it's given.
// It mirrors the teacher's hand-rolled fakes rather than a mocking
// framework.
type scriptedLLM struct {
	fast     []ChatResponse
	primary  []ChatResponse
	fastCall int
	primCall int
}

func (s *scriptedLLM) Chat(ctx context.Context, model string, messages []ChatMessage, tools []ToolSchema) (ChatResponse, error) {
	if strings.Contains(model, "haiku") || strings.Contains(model, "fast") {
		if s.fastCall >= len(s.fast) {
			return ChatResponse{}, nil
		}
		r := s.fast[s.fastCall]
		s.fastCall++
		return r, nil
	}
	if s.primCall >= len(s.primary) {
		return ChatResponse{}, nil
	}
	r := s.primary[s.primCall]
	s.primCall++
	return r, nil
}

func TestReflectionEndToEnd(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	if _, err := store.Write(ctx, "memory/x.md", "this is a tset of the system"); err != nil {
		t.Fatalf("seed write: %v", err)
	}

	index := newTestIndexService(t)
	staging := NewStagingWriter(store, index)

	llm := &scriptedLLM{
		fast: []ChatResponse{
			{
				ToolCalls: []ToolCall{
					{ID: "c1", Name: "autoApply", Arguments: map[string]any{
						"path": "memory/x.md", "fixType": "typo",
						"oldText": "tset", "newText": "test", "reason": "tset->test",
					}},
				},
			},
			{ToolCalls: []ToolCall{{ID: "c2", Name: "finishQuickScan"}}},
		},
		primary: []ChatResponse{
			{
				ToolCalls: []ToolCall{
					{ID: "c3", Name: "proposeEdit", Arguments: map[string]any{
						"path": "memory/x.md", "action": "replace",
						"content": "merged content", "reason": "merge duplicates",
					}},
				},
			},
			{ToolCalls: []ToolCall{{ID: "c4", Name: "finishReflection", Arguments: map[string]any{"summary": "done"}}}},
		},
	}

	ctrl := NewReflectionController(store, index, staging, llm, nil, "claude-sonnet-4-5", "claude-haiku-4-5", testLogger())
	result := ctrl.Run(ctx)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if len(result.AutoAppliedFixes) != 1 {
		t.Fatalf("expected 1 auto-applied fix, got %d", len(result.AutoAppliedFixes))
	}
	if len(result.ProposedEdits) != 1 {
		t.Fatalf("expected 1 proposed edit, got %d", len(result.ProposedEdits))
	}

	file, err := store.Read(ctx, "memory/x.md")
	if err != nil {
		t.Fatalf("read fixed file: %v", err)
	}
	if strings.Contains(file.Content, "tset") || !strings.Contains(file.Content, "test") {
		t.Fatalf("expected typo fix applied, got %q", file.Content)
	}

	if result.StagedPath == "" {
		t.Fatal("expected a staged reflection path")
	}
	dates, err := staging.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(dates) != 1 {
		t.Fatalf("expected one pending reflection, got %v", dates)
	}

	marker, err := store.Read(ctx, lastReflectionPath)
	if err != nil {
		t.Fatalf("read last-reflection marker: %v", err)
	}
	if !strings.Contains(marker.Content, dates[0]) {
		t.Fatalf("expected marker to reference %s, got %q", dates[0], marker.Content)
	}
}

func TestReflectionNoActionableChangesSkipsStagingAndNotify(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObjectStore()
	index := newTestIndexService(t)
	staging := NewStagingWriter(store, index)

	llm := &scriptedLLM{
		fast:    []ChatResponse{{ToolCalls: []ToolCall{{ID: "c1", Name: "finishQuickScan"}}}},
		primary: []ChatResponse{{ToolCalls: []ToolCall{{ID: "c2", Name: "finishReflection", Arguments: map[string]any{"summary": "nothing to do"}}}}},
	}

	notifier := &recordingNotifier{}
	ctrl := NewReflectionController(store, index, staging, llm, notifier, "claude-sonnet-4-5", "claude-haiku-4-5", testLogger())
	result := ctrl.Run(ctx)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.StagedPath != "" {
		t.Fatalf("expected no staged path, got %q", result.StagedPath)
	}
	if notifier.called {
		t.Fatal("expected no notification when nothing actionable happened")
	}

	dates, err := staging.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(dates) != 0 {
		t.Fatalf("expected no pending reflections, got %v", dates)
	}
}

type recordingNotifier struct {
	called  bool
	message string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.called = true
	n.message = message
	return nil
}
