package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"mr-agent/internal/config"
)

// openAIFamily serves both the first-party API and OpenAI-compatible
// gateways; only the base URL differs. Compatible gateways frequently reject
// json_schema, which the ladder absorbs.
type openAIFamily struct {
	client openai.Client
	model  string
}

func newOpenAIFamily(cfg *config.Config, cache *clientCache) *openAIFamily {
	return &openAIFamily{
		client: cache.get(cfg.AI.OpenAIAPIKey, cfg.AI.OpenAIBaseURL, cfg.AI.HTTPTimeout, cfg.AI.HTTPRetries),
		model:  resolveModel(cfg.AI.Model, cfg.AI.OpenAIModel),
	}
}

func (f *openAIFamily) ModelName() string { return f.model }

func (f *openAIFamily) Modes() []schemaMode {
	return []schemaMode{modeSchema, modeObject, modeFreeform}
}

func (f *openAIFamily) Complete(ctx context.Context, system, user string, mode schemaMode) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
	}

	switch mode {
	case modeSchema:
		schemaParam := shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   "review_result",
				Strict: openai.Bool(true),
				Schema: reviewJSONSchema(),
			},
		}
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &schemaParam,
		}
	case modeObject:
		objectParam := shared.NewResponseFormatJSONObjectParam()
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &objectParam,
		}
	}

	resp, err := f.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", wrapOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (f *openAIFamily) Ping(ctx context.Context) error {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(f.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
		MaxTokens: openai.Int(1),
	}
	if _, err := f.client.Chat.Completions.New(ctx, params); err != nil {
		return fmt.Errorf("openai ping: %w", wrapOpenAIError(err))
	}
	return nil
}

func wrapOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return err
}
