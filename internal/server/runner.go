package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/drafting"
	"github.com/jespere06/documette/internal/identify"
)

// stageTimeout bounds one generative stage run, including the callback post.
const stageTimeout = 10 * time.Minute

// errJobSettled signals that a stage was triggered for a job whose status is
// already terminal. The trigger is dropped without touching the job.
var errJobSettled = errors.New("job already settled")

// failJob marks a job failed and logs when even that cannot be persisted.
func (s *Server) failJob(ctx context.Context, jobID uuid.UUID, reason string) {
	if err := s.store.MarkFailed(ctx, jobID, reason); err != nil {
		log.Printf("[runner] failed to mark job %s as failed: %v", jobID, err)
	}
}

// spawn runs a stage in a detached goroutine. The trigger is fire-and-forget:
// the caller's response does not wait for the stage, but a stage error always
// lands on the job record.
func (s *Server) spawn(stage string, jobID uuid.UUID, fn func(ctx context.Context) error) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), stageTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			if errors.Is(err, errJobSettled) {
				log.Printf("[runner] %s stage skipped for job %s: %v", stage, jobID, err)
				return
			}
			log.Printf("[runner] %s stage failed for job %s: %v", stage, jobID, err)
			s.failJob(ctx, jobID, err.Error())
			return
		}
		log.Printf("[runner] %s stage finished for job %s", stage, jobID)
	}()
}

// triggerIdentify starts the speaker-identification stage for a job whose
// transcript was just persisted.
func (s *Server) triggerIdentify(jobID uuid.UUID) {
	s.spawn("identify", jobID, func(ctx context.Context) error {
		job, template, err := s.loadStageInputs(ctx, jobID)
		if err != nil {
			return err
		}
		if job.Transcript == "" {
			return fmt.Errorf("job has no transcript")
		}

		status := db.StatusDiarizing
		if _, err := s.store.UpdateJob(ctx, jobID, db.JobPatch{Status: &status}); err != nil {
			return err
		}

		client, err := s.newLLM(ctx, template.GenerativeAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create generative client: %w", err)
		}
		defer client.Close()

		result, err := identify.Identify(ctx, client, job.Transcript, template.SpeakerContext)
		if err != nil {
			return err
		}

		return s.postCallback(ctx, "identify-speakers", map[string]any{
			"job_id":              jobID,
			"diarized_transcript": result.DiarizedTranscript,
			"summary":             result.Summary,
			"speakers":            result.Speakers,
		})
	})
}

// triggerDraft starts the minutes-drafting stage for a job whose diarized
// transcript was just persisted.
func (s *Server) triggerDraft(jobID uuid.UUID) {
	s.spawn("draft", jobID, func(ctx context.Context) error {
		job, template, err := s.loadStageInputs(ctx, jobID)
		if err != nil {
			return err
		}
		if job.DiarizedTranscript == "" {
			return fmt.Errorf("job has no diarized transcript")
		}

		status := db.StatusGenerating
		if _, err := s.store.UpdateJob(ctx, jobID, db.JobPatch{Status: &status}); err != nil {
			return err
		}

		client, err := s.newLLM(ctx, template.GenerativeAPIKey)
		if err != nil {
			return fmt.Errorf("failed to create generative client: %w", err)
		}
		defer client.Close()

		result, err := drafting.Draft(ctx, client, job.DiarizedTranscript, job.Speakers, template.DefaultInstruction)
		if err != nil {
			return err
		}

		return s.postCallback(ctx, "generate-minutes", map[string]any{
			"job_id":     jobID,
			"markdown":   result.DocumentBody,
			"agreements": result.Agreements,
		})
	})
}

// loadStageInputs fetches the job and its owner's template, failing when
// either is missing or the job already settled.
func (s *Server) loadStageInputs(ctx context.Context, jobID uuid.UUID) (*db.Job, *db.Template, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, fmt.Errorf("job %s not found", jobID)
	}
	if job.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w with status %q", errJobSettled, job.Status)
	}

	template, err := s.store.GetTemplateByOwner(ctx, job.OwnerID)
	if err != nil {
		return nil, nil, err
	}
	if template == nil {
		return nil, nil, fmt.Errorf("owner template unavailable")
	}

	return job, template, nil
}

// postCallback reports a stage result to this server's own callback endpoint,
// the same way the transcription engine reports in from outside.
func (s *Server) postCallback(ctx context.Context, stage string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode callback payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.callbackURL(stage), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.callbacks.Do(req)
	if err != nil {
		return fmt.Errorf("callback post failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback rejected with status %d", resp.StatusCode)
	}
	return nil
}
