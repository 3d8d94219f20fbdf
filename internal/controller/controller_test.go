package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jespere06/documette/internal/db"
	"github.com/jespere06/documette/internal/storage"
)

// fakeAPI imitates the server side of the pipeline: it accepts the client's
// calls and walks the job through the asynchronous stages on its own.
type fakeAPI struct {
	mu       sync.Mutex
	ts       *httptest.Server
	owner    uuid.UUID
	job      *db.Job
	uploaded []byte
	deleted  []string

	withEvents bool
	events     chan db.Job
	failWith   string
	stageDelay time.Duration
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{
		owner:      uuid.New(),
		events:     make(chan db.Job, 32),
		stageDelay: 5 * time.Millisecond,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/jobs", api.handleCreate)
	mux.HandleFunc("GET /api/jobs", api.handleList)
	mux.HandleFunc("GET /api/jobs/events", api.handleEvents)
	mux.HandleFunc("GET /api/jobs/{id}", api.handleGet)
	mux.HandleFunc("POST /api/uploads/sign", api.handleSign)
	mux.HandleFunc("PUT /upload/{path...}", api.handleUpload)
	mux.HandleFunc("POST /api/transcribe", api.handleTranscribe)
	mux.HandleFunc("POST /api/export", api.handleExport)
	mux.HandleFunc("POST /api/audio/delete", api.handleDelete)

	api.ts = httptest.NewServer(mux)
	t.Cleanup(api.ts.Close)
	return api
}

func (a *fakeAPI) setJob(job db.Job) {
	a.mu.Lock()
	a.job = &job
	a.mu.Unlock()
	if a.withEvents {
		a.events <- job
	}
}

func (a *fakeAPI) currentJob() *db.Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.job == nil {
		return nil
	}
	copied := *a.job
	return &copied
}

func (a *fakeAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Title    string `json:"title"`
		FileName string `json:"file_name"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	id, _ := uuid.Parse(req.ID)
	a.setJob(db.Job{ID: id, OwnerID: a.owner, Title: req.Title, FileName: req.FileName, Status: db.StatusUploaded})
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a.currentJob())
}

func (a *fakeAPI) handleList(w http.ResponseWriter, _ *http.Request) {
	jobs := []db.Job{}
	if job := a.currentJob(); job != nil {
		jobs = append(jobs, *job)
	}
	json.NewEncoder(w).Encode(map[string]any{"jobs": jobs})
}

func (a *fakeAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	job := a.currentJob()
	if job == nil || job.ID.String() != r.PathValue("id") {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "job not found"})
		return
	}
	json.NewEncoder(w).Encode(job)
}

func (a *fakeAPI) handleSign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JobID    string `json:"job_id"`
		FileName string `json:"file_name"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	jobID, _ := uuid.Parse(req.JobID)
	path := storage.AudioObjectPath(a.owner, jobID, req.FileName)

	job := a.currentJob()
	job.StoragePath = path
	a.setJob(*job)

	json.NewEncoder(w).Encode(storage.UploadCredential{
		SignedURL: a.ts.URL + "/upload/" + path,
		PublicURL: "https://storage.example/" + path,
		Path:      path,
	})
}

func (a *fakeAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.uploaded = data
	a.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// handleTranscribe acknowledges the submission and then walks the job through
// the pipeline stages in the background.
func (a *fakeAPI) handleTranscribe(w http.ResponseWriter, _ *http.Request) {
	job := a.currentJob()
	job.Status = db.StatusTranscribing
	a.setJob(*job)
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "transcribing"})

	go func() {
		steps := []db.Status{db.StatusTranscribed, db.StatusDiarizing, db.StatusDiarized, db.StatusGenerating, db.StatusGenerated}
		for _, status := range steps {
			time.Sleep(a.stageDelay)
			job := a.currentJob()
			if a.failWith != "" && status == db.StatusTranscribed {
				job.Status = db.StatusError
				job.FailureReason = a.failWith
				a.setJob(*job)
				return
			}
			job.Status = status
			if status == db.StatusGenerated {
				job.DocumentBody = "# Acta\n\nContenido."
				job.Agreements = []string{"Acordado"}
			}
			a.setJob(*job)
		}
	}()
}

func (a *fakeAPI) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !a.withEvents {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case job := <-a.events:
			data, _ := json.Marshal(db.JobEvent{Type: db.EventUpdate, Current: &job})
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (a *fakeAPI) handleExport(w http.ResponseWriter, _ *http.Request) {
	job := a.currentJob()
	if job == nil || job.DocumentBody == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "job has no document body to export"})
		return
	}
	job.Status = db.StatusComplete
	a.setJob(*job)

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.wordprocessingml.document")
	w.Header().Set("Content-Disposition", `attachment; filename="acta.docx"`)
	w.Write([]byte("PK-fake-docx"))
}

func (a *fakeAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	a.mu.Lock()
	a.deleted = append(a.deleted, req.Path)
	a.mu.Unlock()
	json.NewEncoder(w).Encode(map[string]string{"status": "deleted"})
}

func newTestController(t *testing.T, api *fakeAPI) *Controller {
	t.Helper()
	c := New(NewClient(api.ts.URL, "test-token"))
	c.poll = 10 * time.Millisecond
	return c
}

func TestRunCompletesViaPollingFallback(t *testing.T) {
	api := newFakeAPI(t) // no change feed; the controller must poll
	c := newTestController(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, doc, err := c.Run(ctx, RunInput{
		Title:       "Reunión semanal",
		FileName:    "reunion.mp3",
		ContentType: "audio/mpeg",
		Audio:       strings.NewReader("fake-audio-bytes"),
	})
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NotNil(t, doc)

	assert.Equal(t, db.StatusComplete, job.Status)
	assert.Equal(t, "acta.docx", doc.Filename)
	assert.Equal(t, "PK-fake-docx", string(doc.Data))
	assert.Equal(t, "fake-audio-bytes", string(api.uploaded))
}

func TestRunCompletesViaChangeFeed(t *testing.T) {
	api := newFakeAPI(t)
	api.withEvents = true
	c := newTestController(t, api)
	c.poll = time.Minute // progress must arrive over the feed

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, doc, err := c.Run(ctx, RunInput{
		Title:    "Reunión",
		FileName: "reunion.mp3",
		Audio:    strings.NewReader("audio"),
	})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, db.StatusComplete, job.Status)
}

func TestRunSurfacesPipelineFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.failWith = "unsupported audio format"
	c := newTestController(t, api)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, doc, err := c.Run(ctx, RunInput{
		Title:    "Reunión",
		FileName: "reunion.mp3",
		Audio:    strings.NewReader("audio"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported audio format")
	assert.Nil(t, doc)
}

func TestRunValidatesInput(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)

	_, _, err := c.Run(context.Background(), RunInput{FileName: "x.mp3", Audio: strings.NewReader("a")})
	assert.Error(t, err, "title is required")

	_, _, err = c.Run(context.Background(), RunInput{Title: "Reunión"})
	assert.Error(t, err, "audio is required")
}

func TestResumeExportsGeneratedJob(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)
	api.setJob(db.Job{
		ID:           uuid.New(),
		OwnerID:      api.owner,
		Title:        "Pendiente",
		Status:       db.StatusGenerated,
		DocumentBody: "# Acta",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, doc, err := c.Resume(ctx)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, db.StatusComplete, job.Status)
}

func TestResumeWithNoJobs(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)

	job, doc, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.Nil(t, doc)
}

func TestResumeFailedJobReportsReason(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)
	api.setJob(db.Job{
		ID:            uuid.New(),
		OwnerID:       api.owner,
		Status:        db.StatusError,
		FailureReason: "transcription produced no text",
	})

	job, _, err := c.Resume(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transcription produced no text")
	require.NotNil(t, job)
	assert.Equal(t, db.StatusError, job.Status)
}

func TestResumeCompleteJobReturnsAsIs(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)
	api.setJob(db.Job{ID: uuid.New(), OwnerID: api.owner, Status: db.StatusComplete})

	job, doc, err := c.Resume(context.Background())
	require.NoError(t, err)
	assert.Nil(t, doc)
	assert.Equal(t, db.StatusComplete, job.Status)
}

func TestResetDeletesUploadedAudio(t *testing.T) {
	api := newFakeAPI(t)
	c := newTestController(t, api)
	job := &db.Job{ID: uuid.New(), StoragePath: "audios/owner/job.mp3"}

	c.Reset(context.Background(), job)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"audios/owner/job.mp3"}, api.deleted)
}

func TestWatchDeliversParsedEvents(t *testing.T) {
	api := newFakeAPI(t)
	api.withEvents = true
	client := NewClient(api.ts.URL, "test-token")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := client.Watch(ctx)
	require.NoError(t, err)

	want := db.Job{ID: uuid.New(), OwnerID: api.owner, Status: db.StatusTranscribing}
	api.events <- want

	select {
	case event := <-events:
		require.NotNil(t, event.Current)
		assert.Equal(t, want.ID, event.Current.ID)
		assert.Equal(t, db.StatusTranscribing, event.Current.Status)
	case <-ctx.Done():
		t.Fatal("no event arrived")
	}
}
