package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const conversationIndexPath = "conversations/index.json"

func sessionPath(sessionID string) string {
	return fmt.Sprintf("conversations/sessions/%s.json", sessionID)
}

func exchangeTextPath(exchangeID string) string {
	return fmt.Sprintf("conversations/exchanges/%s.txt", exchangeID)
}

// SessionMessage is one turn in a raw chat session payload. Content may
// be a plain string (most user/assistant turns) or a JSON array of
// content blocks (assistant responses with tool use interleaved);
// RawContent carries whichever shape the source sent.
type SessionMessage struct {
	Role       string          `json:"role"`
	RawContent json.RawMessage `json:"content"`
	Timestamp  *time.Time      `json:"timestamp,omitempty"`
}

// contentBlock is one element of a structured assistant content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Session is the raw payload indexed per sessionId.
type Session struct {
	ID        string           `json:"id"`
	Project   string           `json:"project"`
	CreatedAt time.Time        `json:"createdAt"`
	Messages  []SessionMessage `json:"messages"`
}

// asString returns the message content as a plain string, or ("", false)
// if it's structured (a JSON array of blocks) rather than a bare string.
func (m SessionMessage) asString() (string, bool) {
	var s string
	if err := json.Unmarshal(m.RawContent, &s); err != nil {
		return "", false
	}
	return s, true
}

// firstTextBlock returns the first "text" block's text from a
// structured content array, or "" if there is none.
func (m SessionMessage) firstTextBlock() string {
	var blocks []contentBlock
	if err := json.Unmarshal(m.RawContent, &blocks); err != nil {
		return ""
	}
	for _, b := range blocks {
		if b.Type == "text" {
			return b.Text
		}
	}
	return ""
}

const maxConversationFieldChars = 2000

func truncateConversationField(s string) string {
	r := []rune(s)
	if len(r) <= maxConversationFieldChars {
		return s
	}
	return string(r[:maxConversationFieldChars])
}

// isToolResultContent reports whether a user message's string content
// is actually a tool result, which is not eligible as a user prompt.
func isToolResultContent(s string) bool {
	return strings.Contains(s, "<tool_result>") ||
		strings.Contains(s, "tool_use_id") ||
		strings.HasPrefix(s, `{"type":"tool_result"`)
}

// isSystemContextContent reports whether a user message's string
// content is injected system context rather than an actual prompt.
func isSystemContextContent(s string) bool {
	return strings.HasPrefix(s, "<current_time>") ||
		strings.HasPrefix(s, "<system-reminder>") ||
		strings.HasPrefix(s, "# Agent Context") ||
		strings.Contains(s, "<state_files>") ||
		strings.Contains(s, "<context_status>") ||
		len(s) < 5
}

const userMessageMarker = "\nUser message: "

// extractUserPrompt applies the "last marker wins" rule documented in
// spec.md §9: if the marker appears, use the text after its last
// occurrence; otherwise use the content verbatim. No attempt is made to
// disambiguate a marker that appears inside quoted text.
func extractUserPrompt(content string) string {
	if idx := strings.LastIndex(content, userMessageMarker); idx >= 0 {
		return content[idx+len(userMessageMarker):]
	}
	return content
}

// parseExchanges walks a session's messages in order and emits one
// exchange per eligible user message paired with the next assistant
// message's response text.
func parseExchanges(s Session) []ConversationExchange {
	var out []ConversationExchange

	for i, msg := range s.Messages {
		if msg.Role != "user" {
			continue
		}
		content, isString := msg.asString()
		if !isString || isToolResultContent(content) || isSystemContextContent(content) {
			continue
		}

		userPrompt := extractUserPrompt(content)

		assistantResponse := ""
		for j := i + 1; j < len(s.Messages); j++ {
			if s.Messages[j].Role != "assistant" {
				continue
			}
			if text, ok := s.Messages[j].asString(); ok {
				assistantResponse = text
			} else {
				assistantResponse = s.Messages[j].firstTextBlock()
			}
			break
		}

		timestamp := s.CreatedAt
		if msg.Timestamp != nil {
			timestamp = *msg.Timestamp
		} else if timestamp.IsZero() {
			timestamp = time.Now().UTC()
		}

		out = append(out, ConversationExchange{
			ID:                fmt.Sprintf("%s-%d", s.ID, i),
			SessionID:         s.ID,
			Project:           s.Project,
			UserPrompt:        truncateConversationField(userPrompt),
			AssistantResponse: truncateConversationField(assistantResponse),
			Timestamp:         timestamp,
			MessageIndex:      i,
		})
	}

	return out
}

// hashSessionPayload is a deterministic 32-bit FNV-1a hash over the
// session's canonical JSON encoding, used to detect unchanged payloads
// on re-ingestion without storing the whole prior blob for comparison.
func hashSessionPayload(s Session) (uint32, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	h := fnv.New32a()
	h.Write(data)
	return h.Sum32(), nil
}

// IndexCounts is the result of an incremental indexing pass.
type IndexCounts struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// ConversationIndexer is C6: session-to-exchange parsing, content-hash
// dedup, and push to C3. Mutations to the single conversation-index
// blob serialize on one lock; IndexSession also writes the exchange
// texts and the raw session blob while holding that lock.
type ConversationIndexer struct {
	mu    sync.Mutex
	store ObjectStore
	index *IndexService
}

func NewConversationIndexer(store ObjectStore, index *IndexService) *ConversationIndexer {
	return &ConversationIndexer{store: store, index: index}
}

func (c *ConversationIndexer) loadIndex(ctx context.Context) (ConversationIndex, error) {
	file, err := c.store.Read(ctx, conversationIndexPath)
	if err != nil {
		if err == ErrNotFound {
			return ConversationIndex{SessionHashes: make(map[string]uint32)}, nil
		}
		return ConversationIndex{}, fmt.Errorf("archivist: load conversation index: %w", err)
	}
	var idx ConversationIndex
	if err := json.Unmarshal([]byte(file.Content), &idx); err != nil {
		return ConversationIndex{}, fmt.Errorf("archivist: decode conversation index: %w", err)
	}
	if idx.SessionHashes == nil {
		idx.SessionHashes = make(map[string]uint32)
	}
	return idx, nil
}

func (c *ConversationIndexer) persistIndex(ctx context.Context, idx ConversationIndex) error {
	idx.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("archivist: encode conversation index: %w", err)
	}
	if _, err := c.store.Write(ctx, conversationIndexPath, string(data)); err != nil {
		return fmt.Errorf("archivist: persist conversation index: %w", err)
	}
	return nil
}

// IndexSession hashes the session payload; if unchanged since the last
// call for this sessionId, it's a no-op. Otherwise it removes existing
// exchanges for the session, re-parses, re-embeds each new exchange
// through C3, and persists the raw session for later Expand calls.
func (c *ConversationIndexer) IndexSession(ctx context.Context, s Session) (IndexCounts, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex(ctx)
	if err != nil {
		return IndexCounts{}, err
	}

	newHash, err := hashSessionPayload(s)
	if err != nil {
		return IndexCounts{}, fmt.Errorf("archivist: hash session: %w", err)
	}

	existingHash, hadSession := idx.SessionHashes[s.ID]
	if hadSession && existingHash == newHash {
		unchanged := 0
		for _, e := range idx.Exchanges {
			if e.SessionID == s.ID {
				unchanged++
			}
		}
		return IndexCounts{Unchanged: unchanged}, nil
	}

	var kept []ConversationExchange
	for _, e := range idx.Exchanges {
		if e.SessionID != s.ID {
			kept = append(kept, e)
		}
	}
	newExchanges := parseExchanges(s)
	idx.Exchanges = append(kept, newExchanges...)
	idx.SessionHashes[s.ID] = newHash

	ids := make([]string, len(newExchanges))
	texts := make([]string, len(newExchanges))
	for i, e := range newExchanges {
		text := fmt.Sprintf("[%s] %s\n\nResponse: %s", e.Project, e.UserPrompt, e.AssistantResponse)
		if _, err := c.store.Write(ctx, exchangeTextPath(e.ID), text); err != nil {
			return IndexCounts{}, fmt.Errorf("archivist: write exchange text: %w", err)
		}
		ids[i] = e.ID
		texts[i] = text
	}
	if err := c.index.UpdateMany(ctx, ids, texts); err != nil {
		return IndexCounts{}, fmt.Errorf("archivist: index exchanges: %w", err)
	}

	sessionData, err := json.Marshal(s)
	if err != nil {
		return IndexCounts{}, fmt.Errorf("archivist: encode session: %w", err)
	}
	if _, err := c.store.Write(ctx, sessionPath(s.ID), string(sessionData)); err != nil {
		return IndexCounts{}, fmt.Errorf("archivist: persist session: %w", err)
	}

	if err := c.persistIndex(ctx, idx); err != nil {
		return IndexCounts{}, err
	}

	counts := IndexCounts{}
	if hadSession {
		counts.Updated = 1
	} else {
		counts.Added = 1
	}
	return counts, nil
}

// Expand returns a window of exchanges for a session: ±2 around
// exchangeId if given, otherwise the whole session. Falls back to the
// indexed exchanges (rather than the raw session) if the raw payload
// was never persisted or has since been lost.
func (c *ConversationIndexer) Expand(ctx context.Context, sessionID string, exchangeID string) ([]ConversationExchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := c.store.Read(ctx, sessionPath(sessionID))
	if err == nil {
		var s Session
		if jerr := json.Unmarshal([]byte(file.Content), &s); jerr == nil {
			exchanges := parseExchanges(s)
			if exchangeID == "" {
				return exchanges, nil
			}
			return windowAround(exchanges, exchangeID), nil
		}
	}

	idx, err := c.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	var all []ConversationExchange
	for _, e := range idx.Exchanges {
		if e.SessionID == sessionID {
			all = append(all, e)
		}
	}
	if exchangeID == "" {
		return all, nil
	}
	return windowAround(all, exchangeID), nil
}

func windowAround(exchanges []ConversationExchange, exchangeID string) []ConversationExchange {
	center := -1
	for i, e := range exchanges {
		if e.ID == exchangeID {
			center = i
			break
		}
	}
	if center < 0 {
		return nil
	}
	lo := center - 2
	if lo < 0 {
		lo = 0
	}
	hi := center + 3
	if hi > len(exchanges) {
		hi = len(exchanges)
	}
	return exchanges[lo:hi]
}

// Stats reports the total indexed exchange count and distinct session
// count, for the conversation_stats tool.
func (c *ConversationIndexer) Stats(ctx context.Context) (map[string]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.loadIndex(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]int{
		"exchanges": len(idx.Exchanges),
		"sessions":  len(idx.SessionHashes),
	}, nil
}
