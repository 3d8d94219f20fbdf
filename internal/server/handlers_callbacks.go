package server

import (
	"crypto/subtle"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/transcribe"
	"github.com/jespere06/documette/internal/transcript"
)

// checkCallbackSecret authenticates an inbound stage-completion notification
// via the ?secret= query parameter. Writes the 401 itself on mismatch.
func (s *Server) checkCallbackSecret(w http.ResponseWriter, r *http.Request) bool {
	secret := r.URL.Query().Get("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.cfg.CallbackSecret)) != 1 {
		s.writeError(w, &ErrUnauthorized{})
		return false
	}
	return true
}

// handleTranscribeCallback receives the transcription engine's completion
// notification, fetches the full result, persists the formatted transcript
// and triggers the speaker-identification stage.
func (s *Server) handleTranscribeCallback(w http.ResponseWriter, r *http.Request) {
	if !s.checkCallbackSecret(w, r) {
		return
	}

	var notification transcribe.Notification
	if err := decodeJSON(r, &notification); err != nil {
		s.writeError(w, err)
		return
	}

	jobID, err := notification.JobID()
	if err != nil {
		// Without a job tag there is nothing to mark failed.
		log.Printf("[callback] transcribe notification without job tag: %v", err)
		s.writeError(w, &ErrValidation{Message: "notification carries no job tag"})
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}
	if job.Status != db.StatusTranscribing {
		// Late, duplicate or replayed notification. Accepting it would move
		// the status backwards and re-run the downstream stages.
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	template, err := s.store.GetTemplateByOwner(r.Context(), job.OwnerID)
	if err != nil || template == nil {
		s.failJob(r.Context(), jobID, "owner template unavailable")
		s.writeError(w, &ErrNotFound{Resource: "template", ID: job.OwnerID.String()})
		return
	}

	requestID := notification.Metadata.RequestID
	if requestID == "" {
		requestID = job.EngineRequestID
	}

	result, err := s.transcriber.FetchResult(r.Context(), template.TranscriptionAPIKey, requestID)
	if err != nil {
		s.failJob(r.Context(), jobID, "failed to fetch transcription result: "+err.Error())
		s.writeError(w, &ErrUpstream{Message: err.Error()})
		return
	}

	text := transcript.FormatWords(result.Words())
	if text == "" {
		text = result.FallbackTranscript()
	}
	if text == "" {
		s.failJob(r.Context(), jobID, "transcription produced no text")
		s.writeError(w, &ErrUpstream{Message: "transcription produced no text"})
		return
	}

	status := db.StatusTranscribed
	if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		Status:     &status,
		Transcript: &text,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.triggerIdentify(jobID)
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIdentifyCallback persists a finished speaker-identification result
// and triggers the drafting stage.
func (s *Server) handleIdentifyCallback(w http.ResponseWriter, r *http.Request) {
	if !s.checkCallbackSecret(w, r) {
		return
	}

	var req struct {
		JobID              string       `json:"job_id"`
		DiarizedTranscript string       `json:"diarized_transcript"`
		Summary            string       `json:"summary"`
		Speakers           []db.Speaker `json:"speakers"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "job_id must be a valid UUID"})
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}
	if job.Status != db.StatusDiarizing {
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if req.DiarizedTranscript == "" {
		s.failJob(r.Context(), jobID, "speaker identification returned an empty transcript")
		s.writeError(w, &ErrValidation{Message: "diarized_transcript is required"})
		return
	}

	status := db.StatusDiarized
	if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		Status:             &status,
		DiarizedTranscript: &req.DiarizedTranscript,
		Summary:            &req.Summary,
		Speakers:           &req.Speakers,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.triggerDraft(jobID)
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMinutesCallback persists a finished draft. The job then waits at
// "generated" for the owner to review and export.
func (s *Server) handleMinutesCallback(w http.ResponseWriter, r *http.Request) {
	if !s.checkCallbackSecret(w, r) {
		return
	}

	var req struct {
		JobID      string   `json:"job_id"`
		Markdown   string   `json:"markdown"`
		Agreements []string `json:"agreements"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	jobID, err := uuid.Parse(req.JobID)
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "job_id must be a valid UUID"})
		return
	}

	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}
	if job.Status != db.StatusGenerating {
		s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if req.Markdown == "" {
		s.failJob(r.Context(), jobID, "drafting returned an empty document")
		s.writeError(w, &ErrValidation{Message: "markdown is required"})
		return
	}
	if req.Agreements == nil {
		req.Agreements = []string{}
	}

	status := db.StatusGenerated
	if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		Status:       &status,
		DocumentBody: &req.Markdown,
		Agreements:   &req.Agreements,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
