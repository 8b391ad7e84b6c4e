package archivist

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	reflectionPendingDir = "memory/reflections/pending"
	reflectionArchiveDir = "memory/reflections/archive"
)

func pendingPath(date string) string { return fmt.Sprintf("%s/%s.md", reflectionPendingDir, date) }
func archivePath(date string) string { return fmt.Sprintf("%s/%s.md", reflectionArchiveDir, date) }

// StagingWriter is C8: builds deterministic reflection documents,
// writes/lists/archives them, and parses proposed edits back out for
// the apply action. Grounded on the teacher's buildReflectionPrompt
// strings.Builder assembly in reflect_gemini.go.
type StagingWriter struct {
	store ObjectStore
	index *IndexService
}

func NewStagingWriter(store ObjectStore, index *IndexService) *StagingWriter {
	return &StagingWriter{store: store, index: index}
}

// BuildDocument renders a StagedReflection into the fixed section order
// spec.md §4.8 requires.
func BuildDocument(r StagedReflection) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Reflection — %s\n\n", r.Date)
	fmt.Fprintf(&b, "## Summary\n\n%s\n\n", r.Summary)

	b.WriteString("## Statistics\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Quick-scan iterations | %d |\n", r.QuickScanIterations)
	fmt.Fprintf(&b, "| Deep-analysis iterations | %d |\n", r.DeepAnalysisIterations)
	fmt.Fprintf(&b, "| Auto-applied fixes | %d |\n", len(r.AutoAppliedFixes))
	fmt.Fprintf(&b, "| Proposed edits | %d |\n", len(r.ProposedEdits))
	fmt.Fprintf(&b, "| Flagged issues | %d |\n\n", len(r.FlaggedIssues))

	b.WriteString("## Auto-Applied Fixes\n\n")
	if len(r.AutoAppliedFixes) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		for i, f := range r.AutoAppliedFixes {
			fmt.Fprintf(&b, "%d. `%s` (%s) — %s\n", i+1, f.Path, f.FixType, f.Reason)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Proposed Changes\n\n")
	if len(r.ProposedEdits) == 0 {
		b.WriteString("_none_\n\n")
	} else {
		for i, e := range r.ProposedEdits {
			fmt.Fprintf(&b, "### %d. %s (%s)\n\n", i+1, e.Path, e.Action)
			fmt.Fprintf(&b, "**Reason:** %s\n\n", e.Reason)
			b.WriteString("**Content:**\n\n```\n")
			b.WriteString(e.Content)
			b.WriteString("\n```\n\n")
		}
	}

	addressed := make(map[string]bool, len(r.ProposedEdits))
	for _, e := range r.ProposedEdits {
		addressed[e.Path] = true
	}
	b.WriteString("## Unresolved Flagged Issues\n\n")
	unresolved := 0
	for _, f := range r.FlaggedIssues {
		if addressed[f.Path] {
			continue
		}
		unresolved++
		fmt.Fprintf(&b, "- `%s`: %s\n", f.Path, f.Issue)
	}
	if unresolved == 0 {
		b.WriteString("_none_\n")
	}
	b.WriteString("\n")

	b.WriteString("## After Review\n\n")
	fmt.Fprintf(&b, "To apply selected edits, call `apply_reflection_changes` with this file's date and the "+
		"1-indexed numbers of the proposed changes you want applied. Auto-applied fixes above have already "+
		"been written; no action is needed for them. This document is dated %s.\n", r.Date)

	return b.String()
}

// Write renders and persists a pending reflection document, returning
// its store path.
func (w *StagingWriter) Write(ctx context.Context, r StagedReflection) (string, error) {
	doc := BuildDocument(r)
	path := pendingPath(r.Date)
	if _, err := w.store.Write(ctx, path, doc); err != nil {
		return "", fmt.Errorf("archivist: write staged reflection: %w", err)
	}
	return path, nil
}

// ListPending returns pending reflection dates sorted descending.
func (w *StagingWriter) ListPending(ctx context.Context) ([]string, error) {
	entries, err := w.store.List(ctx, reflectionPendingDir+"/", false)
	if err != nil {
		return nil, fmt.Errorf("archivist: list pending reflections: %w", err)
	}
	var dates []string
	for _, e := range entries {
		if strings.HasSuffix(e.Path, "/") {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(e.Path, reflectionPendingDir+"/"), ".md")
		dates = append(dates, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	return dates, nil
}

// Archive copies a pending file to the archive directory and deletes
// the pending copy.
func (w *StagingWriter) Archive(ctx context.Context, date string) error {
	file, err := w.store.Read(ctx, pendingPath(date))
	if err != nil {
		return fmt.Errorf("archivist: archive reflection: %w", err)
	}
	if _, err := w.store.Write(ctx, archivePath(date), file.Content); err != nil {
		return fmt.Errorf("archivist: archive reflection: %w", err)
	}
	if err := w.store.Delete(ctx, pendingPath(date)); err != nil {
		return fmt.Errorf("archivist: archive reflection: %w", err)
	}
	return nil
}

// ApplyChanges parses the pending reflection for date, applies the
// edits at the given 1-indexed positions through the object store,
// re-indexes each changed path, and, when archiveOnSuccess is set,
// archives the pending document once every requested index was applied.
func (w *StagingWriter) ApplyChanges(ctx context.Context, date string, indices []int, archiveOnSuccess bool) ([]ProposedEdit, error) {
	file, err := w.store.Read(ctx, pendingPath(date))
	if err != nil {
		return nil, fmt.Errorf("archivist: apply reflection changes: %w", err)
	}
	edits, err := ParseProposedEdits(file.Content)
	if err != nil {
		return nil, fmt.Errorf("archivist: apply reflection changes: %w", err)
	}

	wanted := make(map[int]bool, len(indices))
	for _, i := range indices {
		wanted[i] = true
	}

	var applied []ProposedEdit
	for i, e := range edits {
		if !wanted[i+1] {
			continue
		}
		if err := w.applyOne(ctx, e); err != nil {
			return applied, fmt.Errorf("archivist: apply reflection changes: %w", err)
		}
		applied = append(applied, e)
	}

	if archiveOnSuccess && len(applied) == len(wanted) {
		if err := w.Archive(ctx, date); err != nil {
			return applied, fmt.Errorf("archivist: apply reflection changes: %w", err)
		}
	}
	return applied, nil
}

func (w *StagingWriter) applyOne(ctx context.Context, e ProposedEdit) error {
	switch e.Action {
	case ActionCreate, ActionReplace:
		if _, err := w.store.Write(ctx, e.Path, e.Content); err != nil {
			return err
		}
	case ActionAppend:
		existing := ""
		if f, err := w.store.Read(ctx, e.Path); err == nil {
			existing = f.Content
		}
		if _, err := w.store.Write(ctx, e.Path, existing+e.Content); err != nil {
			return err
		}
	case ActionDelete:
		if err := w.store.Delete(ctx, e.Path); err != nil {
			return err
		}
		if w.index != nil {
			return w.index.Delete(ctx, e.Path)
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", e.Action)
	}

	if w.index != nil {
		content := e.Content
		if e.Action == ActionAppend {
			if f, err := w.store.Read(ctx, e.Path); err == nil {
				content = f.Content
			}
		}
		return w.index.Update(ctx, e.Path, content)
	}
	return nil
}

var (
	proposedEditHeader = regexp.MustCompile(`(?m)^### (\d+)\. (.+) \((\w+)\)\s*$`)
	reasonLine         = regexp.MustCompile(`(?m)^\*\*Reason:\*\* (.*)$`)
)

// ParseProposedEdits recovers the ProposedEdit list from a rendered
// document, using the same section headers and "Reason"/"Content"
// blocks BuildDocument writes. Round-trips exactly for any document
// BuildDocument produced.
func ParseProposedEdits(doc string) ([]ProposedEdit, error) {
	proposedSection := sectionBetween(doc, "## Proposed Changes", "## Unresolved Flagged Issues")
	if strings.Contains(proposedSection, "_none_") {
		return nil, nil
	}

	headerMatches := proposedEditHeader.FindAllStringSubmatchIndex(proposedSection, -1)
	var edits []ProposedEdit

	for i, m := range headerMatches {
		start := m[0]
		end := len(proposedSection)
		if i+1 < len(headerMatches) {
			end = headerMatches[i+1][0]
		}
		block := proposedSection[start:end]

		headerText := proposedSection[m[4]:m[5]]
		actionText := proposedSection[m[6]:m[7]]

		reasonMatch := reasonLine.FindStringSubmatch(block)
		reason := ""
		if reasonMatch != nil {
			reason = reasonMatch[1]
		}

		content := extractFencedBlock(block)

		edits = append(edits, ProposedEdit{
			Path:    headerText,
			Action:  EditAction(actionText),
			Content: content,
			Reason:  reason,
		})
	}

	return edits, nil
}

func sectionBetween(doc, startHeader, endHeader string) string {
	startIdx := strings.Index(doc, startHeader)
	if startIdx < 0 {
		return ""
	}
	rest := doc[startIdx+len(startHeader):]
	if endIdx := strings.Index(rest, endHeader); endIdx >= 0 {
		return rest[:endIdx]
	}
	return rest
}

func extractFencedBlock(s string) string {
	start := strings.Index(s, "```\n")
	if start < 0 {
		return ""
	}
	rest := s[start+4:]
	end := strings.Index(rest, "\n```")
	if end < 0 {
		return rest
	}
	return rest[:end]
}
