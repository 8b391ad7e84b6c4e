package archivist

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens int64 = 4096

// AnthropicProvider is the concrete LLMProvider, grounded on
// intelligencedev-manifold/internal/llm/anthropic/client.go's client
// construction and message/tool adaptation, generalized from the
// teacher's single-shot GeminiReflector into the multi-turn tool-calling
// contract C9 needs.
type AnthropicProvider struct {
	sdk anthropic.Client
}

func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{sdk: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *AnthropicProvider) Chat(ctx context.Context, model string, messages []ChatMessage, tools []ToolSchema) (ChatResponse, error) {
	var system string
	var converted []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "user":
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		case "tool":
			converted = append(converted, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			))
		}
	}

	var toolDefs []anthropic.ToolUnionParam
	for _, t := range tools {
		schema, _ := json.Marshal(t.Parameters)
		var inputSchema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(schema, &inputSchema)
		toolDefs = append(toolDefs, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		})
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: defaultMaxTokens,
		Tools:     toolDefs,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.sdk.Messages.New(ctx, params)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("archivist: anthropic chat: %w", err)
	}

	var out ChatResponse
	var texts []string
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			texts = append(texts, b.Text)
		case anthropic.ToolUseBlock:
			var args map[string]any
			_ = json.Unmarshal(b.Input, &args)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}
