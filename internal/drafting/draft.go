// Package drafting turns a diarized transcript and participant list into the
// meeting-minutes document body plus the extracted agreements. This is the
// pipeline's terminal automatic stage.
package drafting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/llm"
	"github.com/jespere06/documette/internal/schemas"
)

// ErrEmptyDocument marks a content-validity failure: the engine answered with
// well-formed JSON whose document body carries no content. Distinct from
// transport errors so the user sees a specific explanation.
var ErrEmptyDocument = errors.New("the engine returned an empty document body")

// DefaultInstruction is used when the owner's template has no custom one.
const DefaultInstruction = `You are an expert meeting-minutes writer.
Analyze the transcript and the participant list to produce complete,
well-structured meeting minutes in Markdown, plus a list of the agreements
reached. Follow the requested JSON structure.`

// Result is the output of the drafting stage.
type Result struct {
	DocumentBody string   `json:"document_body"`
	Agreements   []string `json:"agreements"`
}

func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"markdown", "agreements"},
		Properties: map[string]*genai.Schema{
			"markdown": {
				Type:        genai.TypeString,
				Description: "The complete meeting minutes document in Markdown format.",
			},
			"agreements": {
				Type:        genai.TypeArray,
				Description: "The key agreements or action items extracted from the meeting.",
				Items:       &genai.Schema{Type: genai.TypeString},
			},
		},
	}
}

func buildPrompt(instruction, transcriptText string, speakers []db.Speaker) string {
	var list strings.Builder
	for _, sp := range speakers {
		list.WriteString(fmt.Sprintf("- %s (%s)\n", sp.Name, sp.Role))
	}

	var sb strings.Builder
	sb.WriteString("**Instruction:**\n")
	sb.WriteString(instruction)
	sb.WriteString("\n\n---\n**Data for this meeting:**\n\n")
	sb.WriteString("**Participants:**\n")
	sb.WriteString(list.String())
	sb.WriteString("\n**Meeting transcript:**\n```\n")
	sb.WriteString(transcriptText)
	sb.WriteString("\n```\n")
	return sb.String()
}

// Draft runs the minutes-drafting request. instruction falls back to
// DefaultInstruction when empty.
func Draft(ctx context.Context, client llm.Client, transcriptText string, speakers []db.Speaker, instruction string) (*Result, error) {
	if transcriptText == "" {
		return nil, fmt.Errorf("transcript is required")
	}
	if len(speakers) == 0 {
		return nil, fmt.Errorf("speakers are required")
	}
	if instruction == "" {
		instruction = DefaultInstruction
	}

	raw, err := client.GenerateJSON(ctx, buildPrompt(instruction, transcriptText, speakers), llm.GenerationParams{
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            30,
		MaxOutputTokens: 50192,
		ResponseSchema:  responseSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("minutes drafting failed: %w", err)
	}

	if err := schemas.ValidateJSONString(schemas.MeetingMinutes(), raw); err != nil {
		return nil, fmt.Errorf("engine returned unexpected minutes data: %w", err)
	}

	var parsed struct {
		Markdown   string   `json:"markdown"`
		Agreements []string `json:"agreements"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("engine did not return valid JSON: %w", err)
	}

	// The engine can answer with valid JSON whose body is still empty.
	if strings.TrimSpace(parsed.Markdown) == "" {
		return nil, ErrEmptyDocument
	}

	if parsed.Agreements == nil {
		parsed.Agreements = []string{}
	}
	return &Result{DocumentBody: parsed.Markdown, Agreements: parsed.Agreements}, nil
}
