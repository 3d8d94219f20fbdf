package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jespere06/documette/internal/db"
)

// defaultPollInterval paces the safety-net polling that covers change feed
// gaps and drops.
const defaultPollInterval = 5 * time.Second

// errSettled signals the watch goroutines that the job reached a decision
// point; it never escapes the controller.
var errSettled = errors.New("job settled")

// Controller drives one audio-to-minutes conversion against the API.
type Controller struct {
	api  *Client
	poll time.Duration
}

// New creates a controller on top of an API client.
func New(api *Client) *Controller {
	return &Controller{api: api, poll: defaultPollInterval}
}

// RunInput describes a new conversion.
type RunInput struct {
	Title       string
	FileName    string
	ContentType string
	Audio       io.Reader
}

// Document is an exported minutes file.
type Document struct {
	Data     []byte
	Filename string
}

// Run performs a full conversion: create the job, upload the audio, start
// transcription, follow the pipeline to the finished draft and export it.
func (c *Controller) Run(ctx context.Context, in RunInput) (*db.Job, *Document, error) {
	if in.Title == "" {
		return nil, nil, fmt.Errorf("title is required")
	}
	if in.FileName == "" || in.Audio == nil {
		return nil, nil, fmt.Errorf("an audio file is required")
	}
	if in.ContentType == "" {
		in.ContentType = "application/octet-stream"
	}

	jobID := uuid.New()
	job, err := c.api.CreateJob(ctx, jobID, in.Title, in.FileName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create job: %w", err)
	}

	cred, err := c.api.SignUpload(ctx, jobID, in.FileName, in.ContentType)
	if err != nil {
		return job, nil, fmt.Errorf("failed to sign upload: %w", err)
	}
	if err := c.api.UploadAudio(ctx, cred.SignedURL, in.ContentType, in.Audio); err != nil {
		return job, nil, err
	}

	if err := c.api.StartTranscription(ctx, jobID); err != nil {
		return job, nil, fmt.Errorf("failed to start transcription: %w", err)
	}

	return c.finish(ctx, jobID)
}

// Resume picks up the owner's most recent job. A job mid-pipeline is followed
// to the end; a settled job is returned as is. Returns nil without error when
// there is nothing to resume.
func (c *Controller) Resume(ctx context.Context) (*db.Job, *Document, error) {
	job, err := c.api.MostRecentJob(ctx)
	if err != nil {
		return nil, nil, err
	}
	if job == nil {
		return nil, nil, nil
	}

	switch {
	case job.Status == db.StatusError:
		return job, nil, fmt.Errorf("job failed: %s", job.FailureReason)
	case job.Status == db.StatusComplete:
		return job, nil, nil
	default:
		return c.finish(ctx, job.ID)
	}
}

// Reset abandons the current conversion, deleting its uploaded audio on a
// best-effort basis.
func (c *Controller) Reset(ctx context.Context, job *db.Job) {
	if job == nil || job.StoragePath == "" {
		return
	}
	if err := c.api.DeleteAudio(ctx, job.StoragePath); err != nil {
		log.Printf("[controller] audio cleanup failed for job %s: %v", job.ID, err)
	}
}

// finish waits for the draft, re-fetches the full record and exports it.
func (c *Controller) finish(ctx context.Context, jobID uuid.UUID) (*db.Job, *Document, error) {
	job, err := c.waitForStatus(ctx, jobID, db.StatusGenerated)
	if err != nil {
		return job, nil, err
	}

	// Change feed payloads may be stale by the time we act on them; export
	// always works from a fresh read.
	job, err = c.api.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	data, filename, err := c.api.Export(ctx, jobID)
	if err != nil {
		return job, nil, fmt.Errorf("failed to export minutes: %w", err)
	}

	job, err = c.api.GetJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	return job, &Document{Data: data, Filename: filename}, nil
}

// waitForStatus blocks until the job reaches (or passes) the target status.
// Progress arrives over the change feed, with periodic polling as a safety
// net; a failed job surfaces its failure reason as the error.
func (c *Controller) waitForStatus(ctx context.Context, jobID uuid.UUID, target db.Status) (*db.Job, error) {
	var (
		mu    sync.Mutex
		found *db.Job
	)

	// reached is true once the status is the target or already past it.
	reached := func(s db.Status) bool {
		return s == target || (s != db.StatusError && !s.CanTransition(target))
	}

	inspect := func(job *db.Job) error {
		if job == nil || job.ID != jobID {
			return nil
		}
		if job.Status == db.StatusError {
			reason := job.FailureReason
			if reason == "" {
				reason = "unknown failure"
			}
			return fmt.Errorf("job failed: %s", reason)
		}
		if reached(job.Status) {
			mu.Lock()
			found = job
			mu.Unlock()
			return errSettled
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events, err := c.api.Watch(gctx)
		if err != nil {
			// Polling still covers progress when the stream is
			// unavailable.
			log.Printf("[controller] change feed unavailable, falling back to polling: %v", err)
			return nil
		}
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case event, ok := <-events:
				if !ok {
					return nil
				}
				if err := inspect(event.Current); err != nil {
					return err
				}
			}
		}
	})

	g.Go(func() error {
		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			job, err := c.api.GetJob(gctx, jobID)
			if err == nil {
				if err := inspect(job); err != nil {
					return err
				}
			}
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, errSettled) {
		mu.Lock()
		defer mu.Unlock()
		return found, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stopped waiting for job %s", jobID)
}
