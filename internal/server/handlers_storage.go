package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/server/middleware"
	"github.com/jespere06/documette/internal/storage"
)

// handleSignUpload issues a short-lived signed URL for uploading a job's
// audio file, and records the resulting object path on the job.
func (s *Server) handleSignUpload(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		JobID       string `json:"job_id"`
		FileName    string `json:"file_name"`
		ContentType string `json:"content_type"`
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
	if req.FileName == "" {
		s.writeError(w, &ErrValidation{Message: "file_name is required"})
		return
	}
	if req.ContentType == "" {
		s.writeError(w, &ErrValidation{Message: "content_type is required"})
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

	cred, err := s.gateway.IssueUploadCredential(ownerID, jobID, req.FileName, req.ContentType)
	if err != nil {
		s.writeError(w, fmt.Errorf("failed to sign upload: %w", err))
		return
	}

	if _, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		StoragePath: &cred.Path,
		FileName:    &req.FileName,
	}); err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, cred)
}

// handleDeleteAudio removes an uploaded audio object. Owners may only
// delete objects under their own audio prefix.
func (s *Server) handleDeleteAudio(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Path == "" {
		s.writeError(w, &ErrValidation{Message: "path is required"})
		return
	}

	prefix := storage.AudioPrefix(ownerID)
	if !strings.HasPrefix(req.Path, prefix) {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	if err := s.gateway.Delete(r.Context(), req.Path); err != nil {
		s.writeError(w, fmt.Errorf("failed to delete audio object: %w", err))
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "deleted"})
}
