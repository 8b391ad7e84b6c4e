package archivist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ChatWebhookNotifier posts reflection summaries to a Google Chat
// incoming webhook. Request shape and client construction mirror
// reflect_gemini.go's GeminiReflector: a bare *http.Client with a
// fixed timeout, json.Marshal into a bytes.Buffer, Content-Type set
// by hand.
type ChatWebhookNotifier struct {
	url     string
	authKey string
	spaceID string
	client  *http.Client
}

// NewChatWebhookNotifier builds a notifier posting to url. authKey
// and spaceID are Google Chat's webhook query parameters; either may
// be empty if the webhook doesn't require them.
func NewChatWebhookNotifier(url, authKey, spaceID string) *ChatWebhookNotifier {
	return &ChatWebhookNotifier{
		url:     url,
		authKey: authKey,
		spaceID: spaceID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Notify posts message as a Chat card's plain text body. Failures are
// returned to the caller, who must treat them as best-effort per the
// WebhookNotifier contract.
func (n *ChatWebhookNotifier) Notify(ctx context.Context, message string) error {
	body, err := json.Marshal(map[string]any{"text": message})
	if err != nil {
		return fmt.Errorf("archivist: notify marshal: %w", err)
	}

	url := n.url
	if n.authKey != "" {
		url += "&key=" + n.authKey
	}
	if n.spaceID != "" {
		url += "&threadKey=" + n.spaceID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("archivist: notify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("archivist: notify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		limit := len(respBody)
		if limit > 300 {
			limit = 300
		}
		return fmt.Errorf("archivist: notify webhook %d: %s", resp.StatusCode, string(respBody[:limit]))
	}
	return nil
}
