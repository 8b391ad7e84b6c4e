package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	maxQuickScanTurns    = 5
	maxDeepAnalysisTurns = 10
	lastReflectionPath   = "memory/meta/last-reflection.json"
)

// ReflectionController is C9: a two-phase tool-calling LLM loop that
// auto-fixes mechanical issues (quick scan, fast model) and proposes
// deeper edits for human review (deep analysis, primary model).
// Generalizes the teacher's single-shot GeminiReflector.Reflect into a
// bounded multi-turn tool loop.
type ReflectionController struct {
	store    ObjectStore
	index    *IndexService
	staging  *StagingWriter
	llm      LLMProvider
	notifier WebhookNotifier
	primary  string
	fast     string
	log      zerolog.Logger
}

func NewReflectionController(store ObjectStore, index *IndexService, staging *StagingWriter, llm LLMProvider, notifier WebhookNotifier, primaryModel, fastModel string, log zerolog.Logger) *ReflectionController {
	return &ReflectionController{
		store: store, index: index, staging: staging, llm: llm, notifier: notifier,
		primary: primaryModel, fast: fastModel,
		log: log.With().Str("component", "reflect").Logger(),
	}
}

// reflectionState is the mutable accumulator threaded through both
// phases, so an error partway through still has something to return.
type reflectionState struct {
	autoApplied       []AppliedFix
	flagged           []FlaggedIssue
	proposed          []ProposedEdit
	quickScanTurns    int
	deepAnalysisTurns int
	finalSummary      string
}

// Run executes quick scan then deep analysis, stages any proposed
// edits, persists the last-reflection marker unconditionally, and
// notifies only when there's something actionable.
func (r *ReflectionController) Run(ctx context.Context) AgenticReflectionResult {
	state := &reflectionState{}

	err := r.runQuickScan(ctx, state)
	if err == nil {
		err = r.runDeepAnalysis(ctx, state)
	}

	result := AgenticReflectionResult{
		Success:                err == nil,
		Summary:                state.finalSummary,
		ProposedEdits:          state.proposed,
		AutoAppliedFixes:       state.autoApplied,
		FlaggedIssues:          state.flagged,
		QuickScanIterations:    state.quickScanTurns,
		DeepAnalysisIterations: state.deepAnalysisTurns,
	}
	if err != nil {
		result.Error = err.Error()
		r.log.Error().Err(err).Msg("reflection failed")
	}

	now := time.Now().UTC()
	date := now.Format("2006-01-02")
	marker := LastReflectionMarker{Timestamp: now, Date: date}
	if data, merr := json.Marshal(marker); merr == nil {
		if _, werr := r.store.Write(ctx, lastReflectionPath, string(data)); werr != nil {
			r.log.Warn().Err(werr).Msg("failed to persist last-reflection marker")
		}
	}

	if len(state.proposed) > 0 {
		refl := StagedReflection{
			Date:                   date,
			Summary:                result.Summary,
			ProposedEdits:          state.proposed,
			AutoAppliedFixes:       state.autoApplied,
			FlaggedIssues:          state.flagged,
			QuickScanIterations:    state.quickScanTurns,
			DeepAnalysisIterations: state.deepAnalysisTurns,
		}
		path, werr := r.staging.Write(ctx, refl)
		if werr != nil {
			r.log.Warn().Err(werr).Msg("failed to write staged reflection")
		} else {
			result.StagedPath = path
		}
	}

	if r.notifier != nil && (len(state.proposed) > 0 || len(state.autoApplied) > 0) {
		msg := fmt.Sprintf("Reflection %s: %d auto-applied, %d proposed", date, len(state.autoApplied), len(state.proposed))
		if nerr := r.notifier.Notify(ctx, msg); nerr != nil {
			r.log.Warn().Err(nerr).Msg("reflection notification failed")
		}
	}

	return result
}

func (r *ReflectionController) runQuickScan(ctx context.Context, state *reflectionState) error {
	tools := quickScanTools()
	messages := []ChatMessage{
		{Role: "system", Content: "You perform a quick scan of memory files for mechanical issues (typos, whitespace, duplicate lines, inconsistent newlines) and auto-apply safe fixes. Flag anything that needs deeper judgment for a later phase."},
		{Role: "user", Content: "Scan the memory store and auto-apply any mechanically-safe fixes you find. When done, call finishQuickScan."},
	}

	for state.quickScanTurns < maxQuickScanTurns {
		state.quickScanTurns++

		resp, err := r.llm.Chat(ctx, r.fast, messages, tools)
		if err != nil {
			return fmt.Errorf("quick scan turn %d: %w", state.quickScanTurns, err)
		}
		if resp.Text != "" {
			messages = append(messages, ChatMessage{Role: "assistant", Content: resp.Text})
		}
		if len(resp.ToolCalls) == 0 {
			return nil
		}

		finished := false
		for _, call := range resp.ToolCalls {
			result, isFinish := r.dispatchQuickScanTool(ctx, call, state)
			messages = append(messages, ChatMessage{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, Content: result})
			if isFinish {
				finished = true
			}
		}
		if finished {
			return nil
		}
	}
	return nil
}

func (r *ReflectionController) runDeepAnalysis(ctx context.Context, state *reflectionState) error {
	tools := deepAnalysisTools()

	var flaggedText strings.Builder
	if len(state.flagged) == 0 {
		flaggedText.WriteString("none")
	} else {
		for _, f := range state.flagged {
			fmt.Fprintf(&flaggedText, "- %s: %s\n", f.Path, f.Issue)
		}
	}

	initial := fmt.Sprintf(
		"Analyze the memory store for deeper issues (contradictions, stale content, structural problems) and propose edits for human review.\n\nIssues flagged during quick scan:\n%s\n\n%d auto-fix(es) already ran during quick scan.",
		flaggedText.String(), len(state.autoApplied),
	)

	messages := []ChatMessage{
		{Role: "system", Content: "You perform deep analysis of a memory store. Use searchMemory and readFile to investigate, proposeEdit to stage changes for human review, and autoApply only for mechanically-safe fixes. Call finishReflection when done."},
		{Role: "user", Content: initial},
	}

	summary := ""
	for state.deepAnalysisTurns < maxDeepAnalysisTurns {
		state.deepAnalysisTurns++

		resp, err := r.llm.Chat(ctx, r.primary, messages, tools)
		if err != nil {
			return fmt.Errorf("deep analysis turn %d: %w", state.deepAnalysisTurns, err)
		}
		if resp.Text != "" {
			messages = append(messages, ChatMessage{Role: "assistant", Content: resp.Text})
			summary = truncateConversationFieldN(resp.Text, 500)
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		finished := false
		for _, call := range resp.ToolCalls {
			result, finishSummary, isFinish := r.dispatchDeepAnalysisTool(ctx, call, state)
			messages = append(messages, ChatMessage{Role: "tool", ToolCallID: call.ID, ToolName: call.Name, Content: result})
			if isFinish {
				finished = true
				summary = finishSummary
			}
		}
		if finished {
			break
		}
	}

	if summary == "" {
		summary = fmt.Sprintf("Deep analysis reached its iteration limit after %d turns: %d auto-applied, %d proposed, %d flagged.",
			state.deepAnalysisTurns, len(state.autoApplied), len(state.proposed), len(state.flagged))
	}
	state.summary(summary)
	return nil
}

// summary stores the synthesized/adopted summary text in finalSummary,
// which Run copies into AgenticReflectionResult.Summary.
func (s *reflectionState) summary(text string) { s.finalSummary = text }

func truncateConversationFieldN(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
