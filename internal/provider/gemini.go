package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"

	"mr-agent/internal/config"
)

// geminiFamily asks for JSON via a response schema; the middle rung keeps
// JSON output but drops the schema, the last is plain text.
type geminiFamily struct {
	client *genai.Client
	model  string
}

func newGeminiFamily(ctx context.Context, cfg *config.Config) (*geminiFamily, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.AI.GeminiAPIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.AI.HTTPTimeout},
	})
	if err != nil {
		return nil, err
	}
	return &geminiFamily{
		client: client,
		model:  resolveModel(cfg.AI.Model, cfg.AI.GeminiModel),
	}, nil
}

func (f *geminiFamily) ModelName() string { return f.model }

func (f *geminiFamily) Modes() []schemaMode {
	return []schemaMode{modeSchema, modeObject, modeFreeform}
}

func (f *geminiFamily) Complete(ctx context.Context, system, user string, mode schemaMode) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	}
	switch mode {
	case modeSchema:
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseSchema = reviewGenaiSchema()
	case modeObject:
		genCfg.ResponseMIMEType = "application/json"
	}

	resp, err := f.client.Models.GenerateContent(ctx, f.model, genai.Text(user), genCfg)
	if err != nil {
		return "", wrapGeminiError(err)
	}
	return resp.Text(), nil
}

func (f *geminiFamily) Ping(ctx context.Context) error {
	cfgGen := &genai.GenerateContentConfig{MaxOutputTokens: 1}
	if _, err := f.client.Models.GenerateContent(ctx, f.model, genai.Text("ping"), cfgGen); err != nil {
		return fmt.Errorf("gemini ping: %w", wrapGeminiError(err))
	}
	return nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &CallError{Status: apiErr.Code, Message: apiErr.Message}
	}
	return err
}
