// Package transcribe submits audio to the transcription engine and retrieves
// results once the engine pushes its completion notification. The engine is
// asynchronous: a submission is acknowledged with a request ID, and the full
// result is fetched out-of-band from the request endpoint when the callback
// arrives.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/jespere06/documette/internal/transcript"
)

// Initiator talks to a Deepgram-compatible transcription API.
type Initiator struct {
	baseURL     string
	callbackURL string
	language    string
	httpClient  *http.Client
}

// New creates an initiator. callbackURL is the fully-built notification
// endpoint of this server, shared secret included.
func New(baseURL, callbackURL, language string) *Initiator {
	return &Initiator{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		language:    language,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// EngineError is a non-success response from the transcription engine, kept
// verbatim so its text can be surfaced as the job failure reason.
type EngineError struct {
	StatusCode int
	Message    string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("transcription engine returned %d: %s", e.StatusCode, e.Message)
}

// Submit asks the engine to transcribe the audio at audioURL with speaker
// diarization. The job ID travels as the request tag so the callback can be
// correlated without a side lookup. Returns the engine-assigned request ID.
func (t *Initiator) Submit(ctx context.Context, apiKey, audioURL string, jobID uuid.UUID) (string, error) {
	endpoint, err := url.Parse(t.baseURL + "/v1/listen")
	if err != nil {
		return "", fmt.Errorf("invalid engine base URL: %w", err)
	}

	q := endpoint.Query()
	q.Set("model", "nova-2")
	q.Set("smart_format", "true")
	q.Set("punctuate", "true")
	q.Set("diarize", "true")
	q.Set("language", t.language)
	q.Set("callback", t.callbackURL)
	q.Set("callback_method", "post")
	q.Set("tag", jobID.String())
	endpoint.RawQuery = q.Encode()

	body, err := json.Marshal(map[string]string{"url": audioURL})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build submit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to reach transcription engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &EngineError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var ack struct {
		RequestID string `json:"request_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return "", fmt.Errorf("failed to decode engine acknowledgement: %w", err)
	}
	if ack.RequestID == "" {
		return "", fmt.Errorf("engine acknowledgement missing request_id")
	}
	return ack.RequestID, nil
}

// Notification is the completion ping the engine posts to the callback URL.
// It may carry only correlation metadata; full results are fetched separately.
type Notification struct {
	Metadata struct {
		RequestID string   `json:"request_id"`
		Tags      []string `json:"tags"`
	} `json:"metadata"`
}

// JobID extracts the correlating job identifier from the notification tag.
func (n *Notification) JobID() (uuid.UUID, error) {
	if len(n.Metadata.Tags) == 0 {
		return uuid.Nil, fmt.Errorf("notification carries no tags")
	}
	id, err := uuid.Parse(n.Metadata.Tags[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("notification tag is not a job id: %w", err)
	}
	return id, nil
}

// Result is the engine's transcription payload.
type Result struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
				Words      []struct {
					Word    string `json:"punctuated_word"`
					Plain   string `json:"word"`
					Speaker *int   `json:"speaker"`
				} `json:"words"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Words flattens the first alternative's word list. Smart-formatted words are
// preferred over the raw token when present.
func (r *Result) Words() []transcript.Word {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return nil
	}

	raw := r.Results.Channels[0].Alternatives[0].Words
	words := make([]transcript.Word, 0, len(raw))
	for _, w := range raw {
		text := w.Word
		if text == "" {
			text = w.Plain
		}
		words = append(words, transcript.Word{Word: text, Speaker: w.Speaker})
	}
	return words
}

// FallbackTranscript returns the plain transcript text used when no
// word-level output is available.
func (r *Result) FallbackTranscript() string {
	if len(r.Results.Channels) == 0 || len(r.Results.Channels[0].Alternatives) == 0 {
		return ""
	}
	return r.Results.Channels[0].Alternatives[0].Transcript
}

// FetchResult retrieves the full transcription for a previously submitted
// request. The push notification itself may be only a completion ping.
func (t *Initiator) FetchResult(ctx context.Context, apiKey, requestID string) (*Result, error) {
	endpoint := fmt.Sprintf("%s/v1/requests/%s", t.baseURL, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build result request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+apiKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach transcription engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EngineError{StatusCode: resp.StatusCode, Message: readErrorMessage(resp.Body)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode engine result: %w", err)
	}
	return &result, nil
}

// readErrorMessage pulls the engine's error text out of a non-success body.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 8<<10))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}

	var engineErr struct {
		ErrMsg  string `json:"err_msg"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &engineErr); err == nil {
		switch {
		case engineErr.ErrMsg != "":
			return engineErr.ErrMsg
		case engineErr.Message != "":
			return engineErr.Message
		case engineErr.Error != "":
			return engineErr.Error
		}
	}
	return string(raw)
}
