package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	archivist "github.com/goblincore/archivist"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// deps bundles every component the tool dispatcher routes calls into.
// Grounded on the teacher's cmd/engram-mcp/main.go handler-per-tool
// registration, generalized from one `*engram.Engram` receiver to
// archivist's several independently-testable components.
type deps struct {
	store         archivist.ObjectStore
	index         *archivist.IndexService
	reminders     *archivist.ReminderScheduler
	conversations *archivist.ConversationIndexer
	staging       *archivist.StagingWriter
	sandbox       *archivist.Sandbox
	reflection    *archivist.ReflectionController
}

// toolDef pairs a tool's identity (reused from mcp.Tool, per the
// teacher's registration idiom) with its JSON schema and handler.
type toolDef struct {
	tool        mcp.Tool
	inputSchema map[string]any
	handler     func(ctx context.Context, d *deps, args json.RawMessage) (any, error)
}

func buildToolTable() map[string]toolDef {
	tools := []toolDef{
		{tool: mcp.Tool{Name: "read", Description: "Read a memory file by path."}, inputSchema: schema("path"), handler: toolRead},
		{tool: mcp.Tool{Name: "write", Description: "Write a memory file, creating a new version."}, inputSchema: schema("path", "content"), handler: toolWrite},
		{tool: mcp.Tool{Name: "list", Description: "List memory files under a prefix."}, inputSchema: schema(), handler: toolList},
		{tool: mcp.Tool{Name: "search", Description: "Semantically search memory files."}, inputSchema: schema("query"), handler: toolSearch},
		{tool: mcp.Tool{Name: "history", Description: "List prior versions of a memory file."}, inputSchema: schema("path"), handler: toolHistory},
		{tool: mcp.Tool{Name: "rollback", Description: "Restore a memory file to a prior version."}, inputSchema: schema("path", "version_id"), handler: toolRollback},
		{tool: mcp.Tool{Name: "execute", Description: "Run a sandboxed script against the memory store."}, inputSchema: schema("script"), handler: toolExecute},
		{tool: mcp.Tool{Name: "search_conversations", Description: "Semantically search indexed conversation exchanges."}, inputSchema: schema("query"), handler: toolSearchConversations},
		{tool: mcp.Tool{Name: "index_conversations", Description: "Index a conversation session, incrementally."}, inputSchema: schema("session"), handler: toolIndexConversations},
		{tool: mcp.Tool{Name: "expand_conversation", Description: "Expand a conversation session or exchange window."}, inputSchema: schema("sessionId"), handler: toolExpandConversation},
		{tool: mcp.Tool{Name: "conversation_stats", Description: "Return conversation index statistics."}, inputSchema: schema(), handler: toolConversationStats},
		{tool: mcp.Tool{Name: "schedule_reminder", Description: "Create or update a reminder."}, inputSchema: schema("type", "expression"), handler: toolScheduleReminder},
		{tool: mcp.Tool{Name: "list_reminders", Description: "List all reminders."}, inputSchema: schema(), handler: toolListReminders},
		{tool: mcp.Tool{Name: "remove_reminder", Description: "Remove a reminder by id."}, inputSchema: schema("id"), handler: toolRemoveReminder},
		{tool: mcp.Tool{Name: "check_reminders", Description: "Poll for and fire due reminders."}, inputSchema: schema(), handler: toolCheckReminders},
		{tool: mcp.Tool{Name: "list_pending_reflections", Description: "List pending reflection dates."}, inputSchema: schema(), handler: toolListPendingReflections},
		{tool: mcp.Tool{Name: "apply_reflection_changes", Description: "Apply selected proposed edits from a pending reflection."}, inputSchema: schema("date", "indices"), handler: toolApplyReflectionChanges},
		{tool: mcp.Tool{Name: "archive_reflection", Description: "Move a pending reflection to the archive."}, inputSchema: schema("date"), handler: toolArchiveReflection},
	}

	table := make(map[string]toolDef, len(tools))
	for _, t := range tools {
		table[t.tool.Name] = t
	}
	return table
}

func schema(required ...string) map[string]any {
	return map[string]any{"type": "object", "required": required}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// --- Memory file tools ---

func toolRead(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	file, err := d.store.Read(ctx, in.Path)
	if err != nil {
		if errors.Is(err, archivist.ErrNotFound) {
			return map[string]any{"path": in.Path, "content": nil}, nil
		}
		return nil, err
	}
	return file, nil
}

func toolWrite(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	result, err := d.store.Write(ctx, in.Path, in.Content)
	if err != nil {
		return nil, err
	}
	if d.index != nil {
		if err := d.index.Update(ctx, in.Path, in.Content); err != nil {
			return nil, fmt.Errorf("write succeeded but indexing failed: %w", err)
		}
	}
	return result, nil
}

func toolList(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Prefix    string `json:"prefix"`
		Recursive bool   `json:"recursive"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	entries, err := d.store.List(ctx, in.Prefix, in.Recursive)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func toolSearch(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Query      string `json:"query"`
		K          int    `json:"k"`
		TimeWeight bool   `json:"timeWeight"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	if in.K <= 0 {
		in.K = 5
	}
	hits, err := d.index.Search(ctx, in.Query, in.K, in.TimeWeight)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func toolHistory(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Path  string `json:"path"`
		Limit int    `json:"limit"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	if in.Limit <= 0 {
		in.Limit = 10
	}
	versions, err := d.store.GetVersions(ctx, in.Path, in.Limit)
	if err != nil {
		return nil, err
	}
	return versions, nil
}

func toolRollback(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Path      string `json:"path"`
		VersionID string `json:"version_id"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	content, err := d.store.GetVersion(ctx, in.Path, in.VersionID)
	if err != nil {
		return nil, err
	}
	result, err := d.store.Write(ctx, in.Path, content)
	if err != nil {
		return nil, err
	}
	if d.index != nil {
		if err := d.index.Update(ctx, in.Path, content); err != nil {
			return nil, fmt.Errorf("rollback succeeded but indexing failed: %w", err)
		}
	}
	return result, nil
}

func toolExecute(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Script string `json:"script"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	return d.sandbox.Execute(ctx, in.Script), nil
}

// --- Conversation tools ---

func toolSearchConversations(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	if in.K <= 0 {
		in.K = 5
	}
	hits, err := d.index.Search(ctx, in.Query, in.K, false)
	if err != nil {
		return nil, err
	}
	return hits, nil
}

func toolIndexConversations(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Session archivist.Session `json:"session"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	counts, err := d.conversations.IndexSession(ctx, in.Session)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func toolExpandConversation(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		SessionID  string `json:"sessionId"`
		ExchangeID string `json:"exchangeId"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	exchanges, err := d.conversations.Expand(ctx, in.SessionID, in.ExchangeID)
	if err != nil {
		return nil, err
	}
	return exchanges, nil
}

func toolConversationStats(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	stats, err := d.conversations.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// --- Reminder tools ---

func toolScheduleReminder(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in archivist.Reminder
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	r, err := d.reminders.Schedule(ctx, in)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func toolListReminders(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	reminders, err := d.reminders.List(ctx)
	if err != nil {
		return nil, err
	}
	return reminders, nil
}

func toolRemoveReminder(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	if err := d.reminders.Remove(ctx, in.ID); err != nil {
		return nil, err
	}
	return map[string]any{"removed": in.ID}, nil
}

func toolCheckReminders(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	fired, err := d.reminders.Check(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return fired, nil
}

// --- Reflection tools ---

func toolListPendingReflections(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	dates, err := d.staging.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return dates, nil
}

func toolApplyReflectionChanges(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Date    string `json:"date"`
		Indices []int  `json:"indices"`
		Archive bool   `json:"archive"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	applied, err := d.staging.ApplyChanges(ctx, in.Date, in.Indices, in.Archive)
	if err != nil {
		return nil, err
	}
	return map[string]any{"applied": applied}, nil
}

func toolArchiveReflection(ctx context.Context, d *deps, raw json.RawMessage) (any, error) {
	var in struct {
		Date string `json:"date"`
	}
	if err := decodeArgs(raw, &in); err != nil {
		return nil, err
	}
	if err := d.staging.Archive(ctx, in.Date); err != nil {
		return nil, err
	}
	return map[string]any{"archived": in.Date}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func errorResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}, IsError: true}
}
