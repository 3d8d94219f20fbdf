// Package llm wraps the generative engine used for speaker identification
// and minutes drafting. Requests are single-shot, non-streaming structured
// generations that must return strictly-typed JSON.
package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// DefaultModel is used when a request does not name a model.
const DefaultModel = "gemini-2.5-flash"

// GenerationParams tune one structured generation request. The pipeline
// favors determinism over creativity: moderate temperature with nucleus and
// top-k truncation, and a large output ceiling for long transcripts.
type GenerationParams struct {
	Model           string
	Temperature     float32
	TopP            float32
	TopK            int32
	MaxOutputTokens int32
	ResponseSchema  *genai.Schema
}

// Client is an abstraction over the generative engine.
type Client interface {
	// GenerateJSON runs a structured generation and returns the raw JSON text.
	GenerateJSON(ctx context.Context, prompt string, params GenerationParams) (string, error)
	// Close releases any resources held by the client.
	Close() error
}

// Factory builds a client for a given API key. Keys are per-owner (stored in
// templates), so clients are constructed per stage invocation.
type Factory func(ctx context.Context, apiKey string) (Client, error)

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
}

// NewGemini creates a Gemini-backed client.
func NewGemini(ctx context.Context, apiKey string) (Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client}, nil
}

// GenerateJSON runs a non-streaming structured generation request.
func (c *GeminiClient) GenerateJSON(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	modelName := params.Model
	if modelName == "" {
		modelName = DefaultModel
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(params.Temperature)
	if params.TopP > 0 {
		model.SetTopP(params.TopP)
	}
	if params.TopK > 0 {
		model.SetTopK(params.TopK)
	}
	if params.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(params.MaxOutputTokens)
	}
	model.ResponseMIMEType = "application/json"
	if params.ResponseSchema != nil {
		model.ResponseSchema = params.ResponseSchema
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return "", err
	}
	return CleanJSONBlock(text), nil
}

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from a Gemini API response.
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
