// Package controller drives the minutes pipeline from the client side: it
// uploads audio, starts transcription, follows the job's progress over the
// change feed and exports the finished document.
package controller

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/storage"
)

// Client is a thin HTTP client for the documette API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates an API client authenticated with the given bearer token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// apiError is a non-2xx response from the server.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// CreateJob registers a new job under a client-chosen ID.
func (c *Client) CreateJob(ctx context.Context, jobID uuid.UUID, title, fileName string) (*db.Job, error) {
	var job db.Job
	err := c.do(ctx, http.MethodPost, "/api/jobs", map[string]string{
		"id":        jobID.String(),
		"title":     title,
		"file_name": fileName,
	}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches the full job record.
func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*db.Job, error) {
	var job db.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+jobID.String(), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// MostRecentJob returns the newest job, or nil when the owner has none.
func (c *Client) MostRecentJob(ctx context.Context) (*db.Job, error) {
	var body struct {
		Jobs []db.Job `json:"jobs"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/jobs?limit=1", nil, &body); err != nil {
		return nil, err
	}
	if len(body.Jobs) == 0 {
		return nil, nil
	}
	return &body.Jobs[0], nil
}

// SignUpload obtains a signed URL for the job's audio upload.
func (c *Client) SignUpload(ctx context.Context, jobID uuid.UUID, fileName, contentType string) (*storage.UploadCredential, error) {
	var cred storage.UploadCredential
	err := c.do(ctx, http.MethodPost, "/api/uploads/sign", map[string]string{
		"job_id":       jobID.String(),
		"file_name":    fileName,
		"content_type": contentType,
	}, &cred)
	if err != nil {
		return nil, err
	}
	return &cred, nil
}

// UploadAudio PUTs the audio bytes to a signed storage URL.
func (c *Client) UploadAudio(ctx context.Context, signedURL, contentType string, audio io.Reader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, signedURL, audio)
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("audio upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("audio upload rejected with status %d", resp.StatusCode)
	}
	return nil
}

// StartTranscription kicks off the asynchronous pipeline for a job.
func (c *Client) StartTranscription(ctx context.Context, jobID uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/api/transcribe", map[string]string{
		"job_id": jobID.String(),
	}, nil)
}

// Export renders the job's minutes and returns the document bytes with the
// server-suggested filename.
func (c *Client) Export(ctx context.Context, jobID uuid.UUID) ([]byte, string, error) {
	payload, err := json.Marshal(map[string]string{"job_id": jobID.String()})
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/export", bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return nil, "", &apiError{StatusCode: resp.StatusCode, Message: payload.Error}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read document: %w", err)
	}

	filename := "minutes.docx"
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			filename = params["filename"]
		}
	}
	return data, filename, nil
}

// DeleteAudio removes an uploaded audio object, best effort on the caller's
// side.
func (c *Client) DeleteAudio(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/api/audio/delete", map[string]string{"path": path}, nil)
}

// Watch subscribes to the owner's job change feed. Events arrive on the
// returned channel until ctx is cancelled or the stream drops; the channel is
// closed either way, and callers re-fetch the job after a drop to cover gaps.
func (c *Client) Watch(ctx context.Context) (<-chan db.JobEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/jobs/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any request timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &apiError{StatusCode: resp.StatusCode, Message: "event stream rejected"}
	}

	events := make(chan db.JobEvent)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		inChange := false
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case line == "event: change":
				inChange = true
			case inChange && strings.HasPrefix(line, "data: "):
				var event db.JobEvent
				if err := json.Unmarshal([]byte(line[len("data: "):]), &event); err == nil {
					select {
					case events <- event:
					case <-ctx.Done():
						return
					}
				}
				inChange = false
			case line == "":
				// event separator
			default:
				inChange = false
			}
		}
	}()
	return events, nil
}
