// Package archivist implements a self-hosted remote memory service for
// AI coding assistants: semantic file search over an HNSW vector index,
// an agentic daily reflection pass, a reminder scheduler, and a
// conversation indexer, all exposed through an MCP tool surface.
package archivist

import "time"

// MemoryFile is a single stored text file. Path is an opaque
// slash-delimited key; the "memory/" prefix is conventional only.
type MemoryFile struct {
	Path      string    `json:"path"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
	Size      int       `json:"size"`
	VersionID string    `json:"version_id,omitempty"`
}

// EmbeddedRecord is the persisted row backing one HNSW node: an id, its
// unit-L2 vector, and when it was last written. Owned exclusively by
// the index service.
type EmbeddedRecord struct {
	ID        string    `json:"id"`
	Vector    []float32 `json:"vector"`
	UpdatedAt int64     `json:"updated_at"` // epoch-ms
}

// SearchHit is one scored match from a search call.
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// IndexStats summarizes the index service's current state.
type IndexStats struct {
	IndexedFiles int `json:"indexed_files"`
	IndexSize    int `json:"index_size"`
}

// ConversationExchange is one user-prompt/assistant-response pair
// extracted from a chat session.
type ConversationExchange struct {
	ID                string    `json:"id"` // "{sessionId}-{msgIndex}"
	SessionID         string    `json:"sessionId"`
	Project           string    `json:"project"`
	UserPrompt        string    `json:"userPrompt"`
	AssistantResponse string    `json:"assistantResponse"`
	Timestamp         time.Time `json:"timestamp"`
	MessageIndex      int       `json:"messageIndex"`
}

// ConversationIndex tracks every indexed exchange plus a content hash
// per session so re-ingestion can detect no-op payloads.
type ConversationIndex struct {
	Exchanges     []ConversationExchange `json:"exchanges"`
	SessionHashes map[string]uint32      `json:"sessionHashes"`
	LastUpdated   time.Time              `json:"lastUpdated"`
}

// ReminderType is the closed set of reminder kinds.
type ReminderType string

const (
	ReminderOnce ReminderType = "once"
	ReminderCron ReminderType = "cron"
)

// Reminder is a poll-fired one-shot or cron-style alert.
type Reminder struct {
	ID          string       `json:"id"`
	Type        ReminderType `json:"type"`
	Expression  string       `json:"expression"`
	Description string       `json:"description"`
	Payload     string       `json:"payload,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	LastFired   *time.Time   `json:"lastFired,omitempty"`
}

// EditAction is the closed set of proposed/applied edit kinds.
type EditAction string

const (
	ActionReplace EditAction = "replace"
	ActionAppend  EditAction = "append"
	ActionDelete  EditAction = "delete"
	ActionCreate  EditAction = "create"
)

// AutoFixType is the closed set of mechanically-safe auto-apply kinds.
type AutoFixType string

const (
	FixTypo       AutoFixType = "typo"
	FixWhitespace AutoFixType = "whitespace"
	FixNewline    AutoFixType = "newline"
	FixDuplicate  AutoFixType = "duplicate"
	FixFormatting AutoFixType = "formatting"
)

// ProposedEdit is a staged, not-yet-applied file change.
type ProposedEdit struct {
	Path    string     `json:"path"`
	Action  EditAction `json:"action"`
	Content string     `json:"content,omitempty"`
	Reason  string     `json:"reason"`
}

// AppliedFix is a record of an auto-apply that already ran.
type AppliedFix struct {
	Path    string      `json:"path"`
	FixType AutoFixType `json:"fixType"`
	Reason  string      `json:"reason"`
}

// FlaggedIssue is a problem surfaced in quick-scan for deep-analysis
// follow-up.
type FlaggedIssue struct {
	Path  string `json:"path"`
	Issue string `json:"issue"`
}

// StagedReflection is the input to the C8 markdown document builder.
type StagedReflection struct {
	Date                 string         `json:"date"`
	Summary              string         `json:"summary"`
	ProposedEdits        []ProposedEdit `json:"proposedEdits"`
	AutoAppliedFixes     []AppliedFix   `json:"autoAppliedFixes"`
	FlaggedIssues        []FlaggedIssue `json:"flaggedIssues"`
	QuickScanIterations  int            `json:"quickScanIterations"`
	DeepAnalysisIterations int          `json:"deepAnalysisIterations"`
}

// AgenticReflectionResult is what the two-phase controller returns.
type AgenticReflectionResult struct {
	Success                bool           `json:"success"`
	Summary                string         `json:"summary"`
	ProposedEdits          []ProposedEdit `json:"proposedEdits"`
	AutoAppliedFixes       []AppliedFix   `json:"autoAppliedFixes"`
	FlaggedIssues          []FlaggedIssue `json:"flaggedIssues"`
	QuickScanIterations    int            `json:"quickScanIterations"`
	DeepAnalysisIterations int            `json:"deepAnalysisIterations"`
	Error                  string         `json:"error,omitempty"`
	StagedPath             string         `json:"stagedPath,omitempty"`
}

// LastReflectionMarker is persisted at memory/meta/last-reflection.json.
type LastReflectionMarker struct {
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
}

// ObjectEntry is one row from a List call, including synthetic
// directory entries when listing non-recursively.
type ObjectEntry struct {
	Path      string    `json:"path"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ObjectVersion describes one historical version of a path.
type ObjectVersion struct {
	VersionID string    `json:"version_id"`
	Timestamp time.Time `json:"timestamp"`
	Size      int       `json:"size"`
}

// WriteResult is returned from a successful Write.
type WriteResult struct {
	VersionID string `json:"version_id,omitempty"`
}

// Config holds every environment-derived setting, mirroring the
// teacher's ApplyDefaults pattern: callers may leave fields zero-valued
// and call ApplyDefaults to fill them in.
type Config struct {
	AuthToken string

	EmbeddingDimension int
	EmbeddingModel     string

	LLMModelPrimary string
	LLMModelFast    string

	ChatWebhookURL     string
	ChatWebhookAuthKey string
	ChatWebhookSpaceID string

	UseAgenticReflection bool

	SQLitePath string

	S3Bucket   string
	S3Prefix   string
	S3Endpoint string
	S3Region   string

	HTTPAddr string
}

// ApplyDefaults fills zero-valued fields with the spec's defaults.
func (c *Config) ApplyDefaults() {
	if c.EmbeddingDimension == 0 {
		c.EmbeddingDimension = 1024
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
	if c.LLMModelPrimary == "" {
		c.LLMModelPrimary = "claude-sonnet-4-5"
	}
	if c.LLMModelFast == "" {
		c.LLMModelFast = "claude-haiku-4-5"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "archivist.db"
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	// UseAgenticReflection defaults to true; NewConfigFromEnv resolves this
	// from USE_AGENTIC_REFLECTION before ApplyDefaults ever runs,
	// since a bare bool can't distinguish "unset" from "explicitly false".
}
