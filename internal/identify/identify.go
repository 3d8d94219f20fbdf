// Package identify infers speaker names and roles from a speaker-tagged
// transcript with one structured generation request, then rewrites the tags
// into readable labels.
package identify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/llm"
	"github.com/jespere06/documette/internal/schemas"
	"github.com/jespere06/documette/internal/transcript"
)

// Result is the output of the speaker-identification stage.
type Result struct {
	DiarizedTranscript string       `json:"diarized_transcript"`
	Summary            string       `json:"summary"`
	Speakers           []db.Speaker `json:"speakers"`
}

// engineResponse mirrors the JSON the engine is instructed to return.
type engineResponse struct {
	Summary  string `json:"summary"`
	Speakers []struct {
		Index int    `json:"speaker_number_to_replace"`
		Name  string `json:"name"`
		Role  string `json:"role"`
	} `json:"speaker"`
}

// responseSchema constrains the engine to the expected shape.
func responseSchema() *genai.Schema {
	return &genai.Schema{
		Type:     genai.TypeObject,
		Required: []string{"summary", "speaker"},
		Properties: map[string]*genai.Schema{
			"summary": {
				Type:        genai.TypeString,
				Description: "A short overall summary of the topics discussed in the meeting.",
			},
			"speaker": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:     genai.TypeObject,
					Required: []string{"speaker_number_to_replace", "name", "role"},
					Properties: map[string]*genai.Schema{
						"speaker_number_to_replace": {Type: genai.TypeInteger},
						"name":                      {Type: genai.TypeString},
						"role":                      {Type: genai.TypeString},
					},
				},
			},
		},
	}
}

func buildPrompt(transcriptText, contextHints string) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following meeting transcript and extract:\n\n")
	sb.WriteString("1. **summary**: a short overall summary of the main topics discussed.\n")
	sb.WriteString("2. **speaker**: one entry per identified speaker, with:\n")
	sb.WriteString("   * **speaker_number_to_replace**: the integer from the [Speaker:<number>] tag.\n")
	sb.WriteString("   * **name**: the speaker's name inferred from the text, or \"" + transcript.UnknownName + "\" if it cannot be determined.\n")
	sb.WriteString("   * **role**: the speaker's role or function, or \"" + transcript.UnknownRole + "\" if it cannot be inferred.\n")
	if contextHints != "" {
		sb.WriteString("\nAdditional context about the participants:\n")
		sb.WriteString(contextHints)
		sb.WriteString("\n")
	}
	sb.WriteString("\nTranscript:\n```\n")
	sb.WriteString(transcriptText)
	sb.WriteString("\n```\n\n")
	sb.WriteString("Return only a JSON object matching the requested structure, with no additional text.")
	return sb.String()
}

// Identify runs the speaker-identification request and post-processes the
// transcript. contextHints is optional free text about known participants.
func Identify(ctx context.Context, client llm.Client, transcriptText, contextHints string) (*Result, error) {
	if transcriptText == "" {
		return nil, fmt.Errorf("transcript is required")
	}

	raw, err := client.GenerateJSON(ctx, buildPrompt(transcriptText, contextHints), llm.GenerationParams{
		Temperature:     0.7,
		TopP:            0.9,
		TopK:            30,
		MaxOutputTokens: 20192,
		ResponseSchema:  responseSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("speaker identification failed: %w", err)
	}

	if err := schemas.ValidateJSONString(schemas.SpeakerIdentification(), raw); err != nil {
		return nil, fmt.Errorf("engine returned unexpected speaker data: %w", err)
	}

	var parsed engineResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("engine did not return valid JSON: %w", err)
	}

	identified := make([]transcript.IdentifiedSpeaker, 0, len(parsed.Speakers))
	speakers := make([]db.Speaker, 0, len(parsed.Speakers))
	for _, sp := range parsed.Speakers {
		name := sp.Name
		if name == "" {
			name = transcript.UnknownName
		}
		role := sp.Role
		if role == "" {
			role = transcript.UnknownRole
		}
		identified = append(identified, transcript.IdentifiedSpeaker{Index: sp.Index, Name: name, Role: role})
		speakers = append(speakers, db.Speaker{Name: name, Role: role})
	}

	return &Result{
		DiarizedTranscript: transcript.ReplaceSpeakerTags(transcriptText, identified),
		Summary:            parsed.Summary,
		Speakers:           speakers,
	}, nil
}
