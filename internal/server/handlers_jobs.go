package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/server/middleware"
)

// handleAuthToken issues a session token for an owner ID. Identity is
// asserted by the deployment's front door; this endpoint only mints the
// bearer token the rest of the API consumes.
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerID string `json:"owner_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "owner_id must be a valid UUID"})
		return
	}

	token, err := s.jwtService.GenerateToken(ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]string{"token": token})
}

// handleCreateJob registers a new job record. The client chooses the job ID
// so its first storage upload can already reference it.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	var req struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		FileName string `json:"file_name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	jobID, err := uuid.Parse(req.ID)
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "id must be a valid UUID"})
		return
	}
	if req.Title == "" {
		s.writeError(w, &ErrValidation{Message: "title is required"})
		return
	}

	job := &db.Job{
		ID:       jobID,
		OwnerID:  ownerID,
		Title:    req.Title,
		FileName: req.FileName,
		Status:   db.StatusUploaded,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, job)
}

// handleListJobs returns the owner's most recent jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	jobs, err := s.store.ListRecentJobs(r.Context(), ownerID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// handleGetJob returns a single job owned by the caller.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "job id must be a valid UUID"})
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

	s.jsonResponse(w, http.StatusOK, job)
}

// handlePatchJob applies user edits to a job. Edits never re-trigger
// pipeline stages; they only amend the stored record.
func (s *Server) handlePatchJob(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeError(w, &ErrValidation{Message: "job id must be a valid UUID"})
		return
	}

	var req struct {
		Title        *string   `json:"title"`
		DocumentBody *string   `json:"document_body"`
		Agreements   *[]string `json:"agreements"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Title == nil && req.DocumentBody == nil && req.Agreements == nil {
		s.writeError(w, &ErrValidation{Message: "no editable fields in request"})
		return
	}

	existing, err := s.store.GetOwnedJob(r.Context(), jobID, ownerID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if existing == nil {
		s.writeError(w, &ErrNotFound{Resource: "job", ID: jobID.String()})
		return
	}

	job, err := s.store.UpdateJob(r.Context(), jobID, db.JobPatch{
		Title:        req.Title,
		DocumentBody: req.DocumentBody,
		Agreements:   req.Agreements,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, job)
}

// handleJobEvents streams the owner's job mutations as Server-Sent Events.
// Clients reconnect on drop and re-fetch jobs to cover any gap.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ownerID, err := middleware.GetOwnerID(r)
	if err != nil {
		s.writeError(w, &ErrUnauthorized{})
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	events, cancel := s.broker.Subscribe(ownerID)
	defer cancel()

	if err := sse.WriteComment("connected"); err != nil {
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent("change", event); err != nil {
				return
			}
		case <-heartbeat.C:
			if err := sse.WriteComment("ping"); err != nil {
				return
			}
		}
	}
}
