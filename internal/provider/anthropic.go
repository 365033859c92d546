package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"mr-agent/internal/config"
)

const anthropicMaxTokens = 4096

// reviewToolName is the forced tool that carries the structured result.
const reviewToolName = "report_review"

// anthropicFamily gets structured output through forced tool use; the
// fallback rung drops the tool and parses plain text.
type anthropicFamily struct {
	client anthropic.Client
	model  string
}

func newAnthropicFamily(cfg *config.Config) *anthropicFamily {
	return &anthropicFamily{
		client: anthropic.NewClient(
			option.WithAPIKey(cfg.AI.AnthropicAPIKey),
			option.WithRequestTimeout(cfg.AI.HTTPTimeout),
			option.WithMaxRetries(cfg.AI.HTTPRetries),
		),
		model: resolveModel(cfg.AI.Model, cfg.AI.AnthropicModel),
	}
}

func (f *anthropicFamily) ModelName() string { return f.model }

func (f *anthropicFamily) Modes() []schemaMode {
	return []schemaMode{modeSchema, modeFreeform}
}

func (f *anthropicFamily) Complete(ctx context.Context, system, user string, mode schemaMode) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(f.model),
		MaxTokens: anthropicMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	}

	if mode == modeSchema {
		tool := anthropic.ToolParam{
			Name:        reviewToolName,
			Description: anthropic.String("Report the structured code review result."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: reviewProperties()},
		}
		params.Tools = []anthropic.ToolUnionParam{{OfTool: &tool}}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: reviewToolName},
		}
	}

	msg, err := f.client.Messages.New(ctx, params)
	if err != nil {
		return "", wrapAnthropicError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.ToolUseBlock:
			raw, err := json.Marshal(variant.Input)
			if err != nil {
				return "", fmt.Errorf("encode tool input: %w", err)
			}
			return string(raw), nil
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		}
	}
	return text.String(), nil
}

func (f *anthropicFamily) Ping(ctx context.Context) error {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(f.model),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	}
	if _, err := f.client.Messages.New(ctx, params); err != nil {
		return fmt.Errorf("anthropic ping: %w", wrapAnthropicError(err))
	}
	return nil
}

func wrapAnthropicError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}
