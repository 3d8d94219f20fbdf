// Package schemas validates engine JSON output against embedded JSON Schemas
// before the pipeline trusts it. A generative engine can return syntactically
// valid JSON that is missing required keys; validation turns that into a
// structured error instead of a zero-valued struct.
package schemas

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed speaker_identification.json
var speakerIdentificationSchema string

//go:embed meeting_minutes.json
var meetingMinutesSchema string

// SpeakerIdentification returns the schema for the speaker-identification
// engine response.
func SpeakerIdentification() string { return speakerIdentificationSchema }

// MeetingMinutes returns the schema for the minutes-drafting engine response.
func MeetingMinutes() string { return meetingMinutesSchema }

// ValidationError represents a schema validation failure with field paths.
type ValidationError struct {
	Errors []FieldError
}

// FieldError is a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("validation failed:")
	for _, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf(" %s: %s;", err.Field, err.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// ValidateJSONString validates JSON content against a schema document.
func ValidateJSONString(schemaContent, jsonContent string) error {
	schemaLoader := gojsonschema.NewStringLoader(schemaContent)
	documentLoader := gojsonschema.NewStringLoader(jsonContent)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation failed during load: %w", err)
	}

	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}
