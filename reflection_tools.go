package archivist

import (
	"context"
	"fmt"
	"strings"
)

// quickScanTools returns the tool set available to the fast-model
// quick-scan phase: enumerate, inspect, auto-fix, flag, or finish.
func quickScanTools() []ToolSchema {
	return []ToolSchema{
		{
			Name:        "listFiles",
			Description: "List memory files under a prefix.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"prefix": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        "readFile",
			Description: "Read a memory file's content.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "autoApply",
			Description: "Apply a mechanically-safe fix (typo, whitespace, newline, duplicate, formatting) to a memory file.",
			Parameters:  autoApplySchema(),
		},
		{
			Name:        "flagForDeepAnalysis",
			Description: "Flag a file or issue that needs human-level judgment in the deep-analysis phase.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":  map[string]any{"type": "string"},
					"issue": map[string]any{"type": "string"},
				},
				"required": []string{"path", "issue"},
			},
		},
		{
			Name:        "finishQuickScan",
			Description: "Call when the quick scan is complete.",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}

// deepAnalysisTools returns the tool set available to the primary-model
// deep-analysis phase: investigate, stage edits, or finish.
func deepAnalysisTools() []ToolSchema {
	return []ToolSchema{
		{
			Name:        "searchMemory",
			Description: "Semantically search the memory store.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"k":     map[string]any{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "readFile",
			Description: "Read a memory file's content.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
				"required":   []string{"path"},
			},
		},
		{
			Name:        "listFiles",
			Description: "List memory files under a prefix.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"prefix": map[string]any{"type": "string"}},
			},
		},
		{
			Name:        "proposeEdit",
			Description: "Stage an edit for human review. Does not modify the file.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    map[string]any{"type": "string"},
					"action":  map[string]any{"type": "string", "enum": []string{"replace", "append", "delete", "create"}},
					"content": map[string]any{"type": "string"},
					"reason":  map[string]any{"type": "string"},
				},
				"required": []string{"path", "action", "reason"},
			},
		},
		{
			Name:        "autoApply",
			Description: "Apply a mechanically-safe fix directly, bypassing staged review.",
			Parameters:  autoApplySchema(),
		},
		{
			Name:        "finishReflection",
			Description: "Call when deep analysis is complete, with a short summary of what was found and done.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"summary": map[string]any{"type": "string"}},
				"required":   []string{"summary"},
			},
		},
	}
}

func autoApplySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":    map[string]any{"type": "string"},
			"fixType": map[string]any{"type": "string", "enum": []string{"typo", "whitespace", "newline", "duplicate", "formatting"}},
			"oldText": map[string]any{"type": "string"},
			"newText": map[string]any{"type": "string"},
			"reason":  map[string]any{"type": "string"},
		},
		"required": []string{"path", "fixType", "reason"},
	}
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func argInt(args map[string]any, key string, def int) int {
	if v, ok := args[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		}
	}
	return def
}

// dispatchQuickScanTool executes one tool call in the quick-scan phase
// and returns the tool-result text plus whether it was finishQuickScan.
func (r *ReflectionController) dispatchQuickScanTool(ctx context.Context, call ToolCall, state *reflectionState) (string, bool) {
	switch call.Name {
	case "listFiles":
		return r.toolListFiles(ctx, call.Arguments), false
	case "readFile":
		return r.toolReadFile(ctx, call.Arguments), false
	case "autoApply":
		return r.toolAutoApply(ctx, call.Arguments, state), false
	case "flagForDeepAnalysis":
		path := argString(call.Arguments, "path")
		issue := argString(call.Arguments, "issue")
		state.flagged = append(state.flagged, FlaggedIssue{Path: path, Issue: issue})
		return "flagged", false
	case "finishQuickScan":
		return "ok", true
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), false
	}
}

// dispatchDeepAnalysisTool executes one tool call in the deep-analysis
// phase, returning the tool-result text, the adopted summary (only set
// on finishReflection), and whether this was finishReflection.
func (r *ReflectionController) dispatchDeepAnalysisTool(ctx context.Context, call ToolCall, state *reflectionState) (string, string, bool) {
	switch call.Name {
	case "searchMemory":
		return r.toolSearchMemory(ctx, call.Arguments), "", false
	case "readFile":
		return r.toolReadFile(ctx, call.Arguments), "", false
	case "listFiles":
		return r.toolListFiles(ctx, call.Arguments), "", false
	case "proposeEdit":
		return r.toolProposeEdit(call.Arguments, state), "", false
	case "autoApply":
		return r.toolAutoApply(ctx, call.Arguments, state), "", false
	case "finishReflection":
		summary := argString(call.Arguments, "summary")
		if summary == "" {
			summary = "Deep analysis complete."
		}
		return "ok", summary, true
	default:
		return fmt.Sprintf("unknown tool %q", call.Name), "", false
	}
}

func (r *ReflectionController) toolListFiles(ctx context.Context, args map[string]any) string {
	prefix := argString(args, "prefix")
	entries, err := r.store.List(ctx, prefix, true)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\n", e.Path)
	}
	if b.Len() == 0 {
		return "(no files)"
	}
	return b.String()
}

func (r *ReflectionController) toolReadFile(ctx context.Context, args map[string]any) string {
	path := argString(args, "path")
	file, err := r.store.Read(ctx, path)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	return file.Content
}

func (r *ReflectionController) toolSearchMemory(ctx context.Context, args map[string]any) string {
	query := argString(args, "query")
	k := argInt(args, "k", 5)
	hits, err := r.index.Search(ctx, query, k, true)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if len(hits) == 0 {
		return "(no matches)"
	}
	var b strings.Builder
	for _, h := range hits {
		fmt.Fprintf(&b, "%s (score %.3f)\n", h.ID, h.Score)
	}
	return b.String()
}

// toolProposeEdit stages an edit for human review. It never touches the
// object store: proposeEdit is stage-only by contract.
func (r *ReflectionController) toolProposeEdit(args map[string]any, state *reflectionState) string {
	path := argString(args, "path")
	action := EditAction(argString(args, "action"))
	content := argString(args, "content")
	reason := argString(args, "reason")

	switch action {
	case ActionReplace, ActionAppend, ActionCreate:
		if content == "" {
			return fmt.Sprintf("error: action %q requires content", action)
		}
	case ActionDelete:
		// content not required
	default:
		return fmt.Sprintf("error: unknown action %q", action)
	}

	state.proposed = append(state.proposed, ProposedEdit{Path: path, Action: action, Content: content, Reason: reason})
	return "staged"
}

// toolAutoApply performs an immediate, mechanically-safe write.
// typo/whitespace/formatting require both oldText and newText; duplicate
// requires oldText only (newText may be empty); newline rewrites the
// file as rstrip(content) + "\n" and needs neither. Non-newline fixes
// are rejected if oldText isn't present in the current file. If the
// resulting content is unchanged, the write is skipped and the fix is
// not recorded.
func (r *ReflectionController) toolAutoApply(ctx context.Context, args map[string]any, state *reflectionState) string {
	path := argString(args, "path")
	fixType := AutoFixType(argString(args, "fixType"))
	oldText := argString(args, "oldText")
	newText := argString(args, "newText")
	reason := argString(args, "reason")

	file, err := r.store.Read(ctx, path)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	original := file.Content

	var updated string
	switch fixType {
	case FixTypo, FixWhitespace, FixFormatting:
		if oldText == "" || newText == "" {
			return fmt.Sprintf("error: fixType %q requires both oldText and newText", fixType)
		}
		if !strings.Contains(original, oldText) {
			return fmt.Sprintf("error: oldText not found in %s", path)
		}
		updated = strings.Replace(original, oldText, newText, 1)
	case FixDuplicate:
		if oldText == "" {
			return fmt.Sprintf("error: fixType %q requires oldText", fixType)
		}
		if !strings.Contains(original, oldText) {
			return fmt.Sprintf("error: oldText not found in %s", path)
		}
		updated = strings.Replace(original, oldText, newText, 1)
	case FixNewline:
		updated = strings.TrimRight(original, " \t\n\r\v\f") + "\n"
	default:
		return fmt.Sprintf("error: unknown fixType %q", fixType)
	}

	if updated == original {
		return "no-op: content unchanged, skipped write"
	}

	if _, err := r.store.Write(ctx, path, updated); err != nil {
		return fmt.Sprintf("error: %s", err)
	}
	if r.index != nil {
		if err := r.index.Update(ctx, path, updated); err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("reindex after auto-apply failed")
		}
	}

	state.autoApplied = append(state.autoApplied, AppliedFix{Path: path, FixType: fixType, Reason: reason})
	return "applied"
}
