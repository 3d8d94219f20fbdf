package server

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jespere06/documette/internal/db"
)

const engineResult = `{
	"results": {"channels": [{"alternatives": [{
		"transcript": "Hola a todos. Buenos días.",
		"words": [
			{"punctuated_word": "Hola", "word": "hola", "speaker": 0},
			{"punctuated_word": "a", "word": "a", "speaker": 0},
			{"punctuated_word": "todos.", "word": "todos", "speaker": 0},
			{"punctuated_word": "Buenos", "word": "buenos", "speaker": 1},
			{"punctuated_word": "días.", "word": "dias", "speaker": 1}
		]
	}]}]}
}`

// callbackPath builds a callback URL carrying the test server's secret.
func (e *testEnv) callbackPath(stage string) string {
	return fmt.Sprintf("/api/callbacks/%s?secret=%s", stage, e.server.cfg.CallbackSecret)
}

func TestCallbacksRejectWrongSecret(t *testing.T) {
	env := newTestEnv(t, "")

	for _, stage := range []string{"transcribe", "identify-speakers", "generate-minutes"} {
		resp := env.request(http.MethodPost, "/api/callbacks/"+stage+"?secret=wrong", "", map[string]string{})
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "stage %s", stage)
	}
}

func TestTranscribeCallbackRunsPipelineToGenerated(t *testing.T) {
	engine := newFakeEngine(t)
	engine.result = engineResult
	env := newTestEnv(t, engine.ts.URL)
	env.seedTemplate("Ana dirige la reunión", "Redacta un acta formal")
	env.llm.responses = []string{identifyResponse, minutesResponse}

	job := env.seedJob(&db.Job{
		Title:           "Reunión semanal",
		Status:          db.StatusTranscribing,
		EngineRequestID: "req-1",
	})

	resp := env.request(http.MethodPost, env.callbackPath("transcribe"), "", map[string]any{
		"metadata": map[string]any{
			"request_id": "req-1",
			"tags":       []string{job.ID.String()},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The callback acknowledges before the later stages finish; wait for
	// the detached runners to drain.
	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusGenerated, stored.Status)
	assert.Contains(t, stored.Transcript, "[Speaker:0] Hola a todos.")
	assert.Contains(t, stored.DiarizedTranscript, "**Ana, Directora:**")
	assert.Equal(t, "Planificación de la semana.", stored.Summary)
	require.Len(t, stored.Speakers, 2)
	assert.Contains(t, stored.DocumentBody, "# Acta de reunión")
	assert.Equal(t, []string{"Enviar el informe el viernes"}, stored.Agreements)
	assert.Empty(t, stored.FailureReason)
}

func TestTranscribeCallbackStageFailureLandsOnJob(t *testing.T) {
	engine := newFakeEngine(t)
	engine.result = engineResult
	env := newTestEnv(t, engine.ts.URL)
	env.seedTemplate("", "")
	env.llm.err = fmt.Errorf("generative engine quota exhausted")

	job := env.seedJob(&db.Job{
		Title:           "Reunión",
		Status:          db.StatusTranscribing,
		EngineRequestID: "req-1",
	})

	resp := env.request(http.MethodPost, env.callbackPath("transcribe"), "", map[string]any{
		"metadata": map[string]any{"request_id": "req-1", "tags": []string{job.ID.String()}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "the transcript itself was fine")

	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, stored.Status)
	assert.Contains(t, stored.FailureReason, "quota exhausted")
	// The transcript survives the downstream failure.
	assert.NotEmpty(t, stored.Transcript)
}

func TestTranscribeCallbackIgnoresSettledJob(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{Title: "Reunión", Status: db.StatusError})

	resp := env.request(http.MethodPost, env.callbackPath("transcribe"), "", map[string]any{
		"metadata": map[string]any{"tags": []string{job.ID.String()}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ignored", body["status"])
}

func TestTranscribeCallbackReplayIsIgnored(t *testing.T) {
	engine := newFakeEngine(t)
	engine.result = engineResult
	env := newTestEnv(t, engine.ts.URL)
	env.seedTemplate("", "")

	// The job already moved past transcription; a retried engine
	// notification must not rewind it or re-run the later stages.
	job := env.seedJob(&db.Job{
		Title:              "Reunión",
		Status:             db.StatusDiarized,
		EngineRequestID:    "req-1",
		Transcript:         "[Speaker:0] Hola.",
		DiarizedTranscript: "**Ana, Directora:** Hola.",
	})

	resp := env.request(http.MethodPost, env.callbackPath("transcribe"), "", map[string]any{
		"metadata": map[string]any{"request_id": "req-1", "tags": []string{job.ID.String()}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ignored", body["status"])

	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusDiarized, stored.Status, "status never moves backwards")
	assert.Empty(t, env.llm.prompts, "no generative stage re-runs")
}

func TestIdentifyCallbackWrongStatusIsIgnored(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{
		Title:              "Reunión",
		Status:             db.StatusGenerated,
		DiarizedTranscript: "**Ana, Directora:** Hola.",
		DocumentBody:       "# Acta",
	})

	resp := env.request(http.MethodPost, env.callbackPath("identify-speakers"), "", map[string]any{
		"job_id":              job.ID.String(),
		"diarized_transcript": "**Luis, Ingeniero:** Hola.",
		"summary":             "Replay.",
		"speakers":            []db.Speaker{{Name: "Luis", Role: "Ingeniero"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ignored", body["status"])

	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusGenerated, stored.Status)
	assert.Equal(t, "**Ana, Directora:** Hola.", stored.DiarizedTranscript)
}

func TestMinutesCallbackWrongStatusIsIgnored(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{
		Title:        "Reunión",
		Status:       db.StatusComplete,
		DocumentBody: "# Acta original",
	})

	resp := env.request(http.MethodPost, env.callbackPath("generate-minutes"), "", map[string]any{
		"job_id":   job.ID.String(),
		"markdown": "# Acta tardía",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "ignored", body["status"])

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusComplete, stored.Status)
	assert.Equal(t, "# Acta original", stored.DocumentBody)
}

func TestStageTriggerLeavesSettledJobUntouched(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedTemplate("", "")
	job := env.seedJob(&db.Job{
		Title:      "Reunión",
		Status:     db.StatusComplete,
		Transcript: "[Speaker:0] Hola.",
	})

	env.server.triggerIdentify(job.ID)
	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusComplete, stored.Status, "a completed job is never flipped to error")
	assert.Empty(t, stored.FailureReason)
}

func TestTranscribeCallbackWithoutJobTag(t *testing.T) {
	env := newTestEnv(t, "")

	resp := env.request(http.MethodPost, env.callbackPath("transcribe"), "", map[string]any{
		"metadata": map[string]any{"request_id": "req-1"},
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdentifyCallbackPersistsAndTriggersDraft(t *testing.T) {
	env := newTestEnv(t, "")
	env.seedTemplate("", "")
	env.llm.responses = []string{minutesResponse}

	job := env.seedJob(&db.Job{
		Title:      "Reunión",
		Status:     db.StatusDiarizing,
		Transcript: "[Speaker:0] Hola.",
	})

	resp := env.request(http.MethodPost, env.callbackPath("identify-speakers"), "", map[string]any{
		"job_id":              job.ID.String(),
		"diarized_transcript": "**Ana, Directora:** Hola.",
		"summary":             "Saludo inicial.",
		"speakers":            []db.Speaker{{Name: "Ana", Role: "Directora"}},
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env.server.WaitBackground()

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusGenerated, stored.Status)
	assert.Equal(t, "**Ana, Directora:** Hola.", stored.DiarizedTranscript)
	assert.Contains(t, stored.DocumentBody, "# Acta de reunión")
}

func TestIdentifyCallbackEmptyTranscriptFailsJob(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{Title: "Reunión", Status: db.StatusDiarizing})

	resp := env.request(http.MethodPost, env.callbackPath("identify-speakers"), "", map[string]any{
		"job_id": job.ID.String(),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, stored.Status)
}

func TestMinutesCallbackPersistsGenerated(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{Title: "Reunión", Status: db.StatusGenerating})

	resp := env.request(http.MethodPost, env.callbackPath("generate-minutes"), "", map[string]any{
		"job_id":   job.ID.String(),
		"markdown": "# Acta\n\nContenido.",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusGenerated, stored.Status)
	assert.Equal(t, "# Acta\n\nContenido.", stored.DocumentBody)
	assert.NotNil(t, stored.Agreements)
}

func TestMinutesCallbackEmptyMarkdownFailsJob(t *testing.T) {
	env := newTestEnv(t, "")
	job := env.seedJob(&db.Job{Title: "Reunión", Status: db.StatusGenerating})

	resp := env.request(http.MethodPost, env.callbackPath("generate-minutes"), "", map[string]any{
		"job_id": job.ID.String(),
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stored, err := env.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusError, stored.Status)
}

func TestCallbackURLCarriesSecret(t *testing.T) {
	env := newTestEnv(t, "")
	u := env.server.callbackURL("transcribe")
	assert.Contains(t, u, env.ts.URL)
	assert.Contains(t, u, "secret=")

	// No job ID leaks into the static callback URL; correlation rides on
	// the engine's tag instead.
	assert.NotContains(t, u, uuid.Nil.String())
}
