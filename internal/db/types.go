package db

import (
	"time"

	"github.com/google/uuid"
)

// Status is the persisted pipeline stage of a job.
type Status string

// Job statuses in pipeline order. StatusError is terminal and reachable
// from any non-terminal status.
const (
	StatusUploaded     Status = "uploaded"
	StatusTranscribing Status = "transcribing"
	StatusTranscribed  Status = "transcribed"
	StatusDiarizing    Status = "diarizing"
	StatusDiarized     Status = "diarized"
	StatusGenerating   Status = "generating"
	StatusGenerated    Status = "generated"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

// statusOrder maps each non-terminal status to its position in the pipeline.
var statusOrder = map[Status]int{
	StatusUploaded:     0,
	StatusTranscribing: 1,
	StatusTranscribed:  2,
	StatusDiarizing:    3,
	StatusDiarized:     4,
	StatusGenerating:   5,
	StatusGenerated:    6,
	StatusComplete:     7,
}

// Terminal reports whether no further automatic transition can follow s.
func (s Status) Terminal() bool {
	return s == StatusError || s == StatusComplete
}

// CanTransition reports whether a job may move from s to next. Transitions
// are monotonic along the pipeline order; StatusError is reachable from any
// non-terminal status and nothing follows it.
func (s Status) CanTransition(next Status) bool {
	if s == StatusError {
		return false
	}
	if next == StatusError {
		return true
	}
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	return to > from
}

// Speaker is a participant inferred from the transcript.
type Speaker struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// Job is one audio-to-minutes conversion attempt. Accumulated fields are
// each written by exactly one pipeline stage and never erased by later ones.
type Job struct {
	ID                 uuid.UUID `json:"id"`
	OwnerID            uuid.UUID `json:"owner_id"`
	Title              string    `json:"title"`
	FileName           string    `json:"file_name,omitempty"`
	StoragePath        string    `json:"storage_path,omitempty"`
	Status             Status    `json:"status"`
	EngineRequestID    string    `json:"engine_request_id,omitempty"`
	Transcript         string    `json:"transcript,omitempty"`
	DiarizedTranscript string    `json:"diarized_transcript,omitempty"`
	Speakers           []Speaker `json:"speakers,omitempty"`
	Summary            string    `json:"summary,omitempty"`
	DocumentBody       string    `json:"document_body,omitempty"`
	Agreements         []string  `json:"agreements,omitempty"`
	ExportPath         string    `json:"export_path,omitempty"`
	FailureReason      string    `json:"failure_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Template holds per-owner processing settings: engine credentials, speaker
// context hints and the default drafting instruction.
type Template struct {
	ID                  uuid.UUID `json:"id"`
	OwnerID             uuid.UUID `json:"owner_id"`
	TranscriptionAPIKey string    `json:"-"`
	GenerativeAPIKey    string    `json:"-"`
	SpeakerContext      string    `json:"speaker_context,omitempty"`
	DefaultInstruction  string    `json:"default_instruction,omitempty"`
}
