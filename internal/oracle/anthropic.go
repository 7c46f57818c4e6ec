package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicOracle implements Oracle against the Anthropic Messages API.
type AnthropicOracle struct {
	api   *anthropic.Client
	model anthropic.Model
}

// NewAnthropicOracle creates an oracle client with the given API key and model.
func NewAnthropicOracle(apiKey, model string) *AnthropicOracle {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicOracle{
		api:   &client,
		model: anthropic.Model(model),
	}
}

// Assess sends the prompt and returns the raw model text with any markdown
// fencing stripped. Callers own JSON decoding of the reply.
func (o *AnthropicOracle) Assess(ctx context.Context, system, prompt string) (string, error) {
	msg, err := o.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     o.model,
		MaxTokens: 1024,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	return StripFence(text), nil
}

// StripFence removes markdown code fencing around a model reply.
func StripFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	lines := strings.SplitN(text, "\n", 2)
	if len(lines) > 1 {
		text = lines[1]
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
