package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/drafting"
	"github.com/jespere06/documette/internal/export"
	"github.com/jespere06/documette/internal/identify"
	"github.com/jespere06/documette/internal/server/middleware"
	"github.com/jespere06/documette/internal/storage"
	"github.com/jespere06/documette/internal/transcribe"
)

// handleTranscribe submits a job's audio to the transcription engine. The
// engine reports back asynchronously on the transcribe callback endpoint;
// this handler only acknowledges the submission.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		JobID    string `json:"job_id"`
		AudioURL string `json:"audio_url"`
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

	if !s.allowEngineCall(w, ownerID) {
		return
	}

	job, err := s.store.GetOwnedJob(r.Context(), jobID, ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}

	template, err := s.store.GetTemplateByOwner(r.Context(), ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if template == nil {
		s.writeError(w, &ErrNotFound{Resource: "template", ID: ownerID.String()})
		return
	}

	audioURL := req.AudioURL
	if audioURL == "" {
		if job.StoragePath == "" {
			s.writeError(w, &ErrValidation{Message: "job has no uploaded audio"})
			return
		}
		audioURL, err = s.gateway.IssueFetchCredential(job.StoragePath)
		if err != nil {
			s.writeError(w, fmt.Errorf("failed to sign audio fetch: %w", err))
			return
		}
	}

	requestID, err := s.transcriber.Submit(r.Context(), template.TranscriptionAPIKey, audioURL, jobID)
	if err != nil {
		// A rejected submission fails the job immediately; there is no
		// pending engine work to wait for.
		var engineErr *transcribe.EngineError
		if errors.As(err, &engineErr) {
			s.failJob(r.Context(), jobID, engineErr.Message)
			s.writeError(w, &ErrUpstream{Message: engineErr.Message})
			return
		}
		s.failJob(r.Context(), jobID, err.Error())
		s.writeError(w, err)
		return
	}

	status := db.StatusTranscribing
	if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		Status:          &status,
		EngineRequestID: &requestID,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"status":            string(db.StatusTranscribing),
		"engine_request_id": requestID,
	})
}

// handleIdentifySpeakers runs the speaker-identification stage synchronously
// on a supplied transcript. The pipeline normally reaches this stage through
// the transcribe callback; this endpoint serves re-runs and diagnostics.
func (s *Server) handleIdentifySpeakers(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		Transcript   string `json:"transcript"`
		Context      string `json:"context"`
		EngineAPIKey string `json:"engine_api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Transcript == "" {
		s.writeError(w, &ErrValidation{Message: "transcript is required"})
		return
	}

	if !s.allowEngineCall(w, ownerID) {
		return
	}

	apiKey, contextHints, _, err := s.engineSettings(r, ownerID, req.EngineAPIKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Context != "" {
		contextHints = req.Context
	}

	client, err := s.newLLM(r.Context(), apiKey)
	if err != nil {
		s.writeError(w, &ErrUpstream{Message: err.Error()})
		return
	}
	defer client.Close()

	result, err := identify.Identify(r.Context(), client, req.Transcript, contextHints)
	if err != nil {
		s.writeError(w, &ErrUpstream{Message: err.Error()})
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

// handleGenerateMinutes runs the drafting stage synchronously on a supplied
// diarized transcript.
func (s *Server) handleGenerateMinutes(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		Transcript   string       `json:"transcript"`
		Speakers     []db.Speaker `json:"speakers"`
		Instruction  string       `json:"instruction"`
		EngineAPIKey string       `json:"engine_api_key"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Transcript == "" {
		s.writeError(w, &ErrValidation{Message: "transcript is required"})
		return
	}
	if len(req.Speakers) == 0 {
		s.writeError(w, &ErrValidation{Message: "speakers are required"})
		return
	}

	if !s.allowEngineCall(w, ownerID) {
		return
	}

	apiKey, _, instruction, err := s.engineSettings(r, ownerID, req.EngineAPIKey)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if req.Instruction != "" {
		instruction = req.Instruction
	}

	client, err := s.newLLM(r.Context(), apiKey)
	if err != nil {
		s.writeError(w, &ErrUpstream{Message: err.Error()})
		return
	}
	defer client.Close()

	result, err := drafting.Draft(r.Context(), client, req.Transcript, req.Speakers, instruction)
	if err != nil {
		s.writeError(w, &ErrUpstream{Message: err.Error()})
		return
	}

	s.jsonResponse(w, http.StatusOK, result)
}

// engineSettings resolves the generative API key and template defaults for
// an owner. An explicit key overrides the stored one.
func (s *Server) engineSettings(r *http.Request, ownerID uuid.UUID, explicitKey string) (apiKey, contextHints, instruction string, err error) {
	template, err := s.store.GetTemplateByOwner(r.Context(), ownerID)
	if err != nil {
		return "", "", "", err
	}
	if template != nil {
		apiKey = template.GenerativeAPIKey
		contextHints = template.SpeakerContext
		instruction = template.DefaultInstruction
	}
	if explicitKey != "" {
		apiKey = explicitKey
	}
	if apiKey == "" {
		return "", "", "", &ErrValidation{Message: "no generative engine API key configured"}
	}
	return apiKey, contextHints, instruction, nil
}

// handleExport renders the job's minutes to a DOCX document, marks the job
// complete and streams the file back. The uploaded audio is deleted on a
// best-effort basis once the document exists.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		JobID        string `json:"job_id"`
		DocumentBody string `json:"document_body"`
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

	job, err := s.store.GetOwnedJob(r.Context(), jobID, ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if job == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}

	body := job.DocumentBody
	if req.DocumentBody != "" {
		body = req.DocumentBody
	}
	if body == "" {
		s.writeError(w, &ErrValidation{Message: "job has no document body to export"})
		return
	}

	data, err := s.renderer.Render(job.Title, body)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to render document: %w", err))
		return
	}

	filename := export.Filename(job.Title)

	// Re-exports of an already complete job skip the bookkeeping.
	if job.Status.CanTransition(db.StatusComplete) {
		objectPath := storage.ExportObjectPath(ownerID, jobID)
		if err := s.gateway.Upload(r.Context(), objectPath, export.ContentType, data); err != nil {
			log.Printf("[export] archive upload failed for job %s: %v", jobID, err)
		}

		status := db.StatusComplete
		if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
			Status:     &status,
			ExportPath: &objectPath,
		}); err != nil {
			s.writeError(w, err)
			return
		}

		if job.StoragePath != "" {
			if err := s.gateway.Delete(r.Context(), job.StoragePath); err != nil {
				log.Printf("[export] audio cleanup failed for job %s: %v", jobID, err)
			}
		}
	}

	w.Header().Set("Content-Type", export.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Printf("[export] failed to stream document for job %s: %v", jobID, err)
	}
}
