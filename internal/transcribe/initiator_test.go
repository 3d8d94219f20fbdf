package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit_PassesCallbackAndTag(t *testing.T) {
	jobID := uuid.New()
	var gotQuery map[string][]string
	var gotAuth string
	var gotBody map[string]string

	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/listen", r.URL.Path)
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"request_id": "req-123"})
	}))
	defer engine.Close()

	initiator := New(engine.URL, "https://documette.test/api/callbacks/transcribe?secret=s3cret", "es")
	requestID, err := initiator.Submit(context.Background(), "dg-key", "https://bucket/audio.mp3", jobID)

	require.NoError(t, err)
	assert.Equal(t, "req-123", requestID)
	assert.Equal(t, "Token dg-key", gotAuth)
	assert.Equal(t, "https://bucket/audio.mp3", gotBody["url"])
	assert.Equal(t, []string{jobID.String()}, gotQuery["tag"])
	assert.Equal(t, []string{"true"}, gotQuery["diarize"])
	assert.Equal(t, []string{"https://documette.test/api/callbacks/transcribe?secret=s3cret"}, gotQuery["callback"])
}

func TestSubmit_EngineRejectionPreservesMessage(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"err_msg": "unsupported audio format"})
	}))
	defer engine.Close()

	initiator := New(engine.URL, "https://documette.test/cb", "es")
	_, err := initiator.Submit(context.Background(), "dg-key", "https://bucket/audio.xyz", uuid.New())

	require.Error(t, err)
	var engineErr *EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, http.StatusBadRequest, engineErr.StatusCode)
	assert.Contains(t, engineErr.Message, "unsupported audio format")
}

func TestFetchResult_DecodesWords(t *testing.T) {
	engine := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/requests/req-123", r.URL.Path)
		require.Equal(t, "Token dg-key", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{
			"results": {"channels": [{"alternatives": [{
				"transcript": "hola equipo",
				"words": [
					{"word": "hola", "punctuated_word": "Hola", "speaker": 0},
					{"word": "equipo", "punctuated_word": "equipo.", "speaker": 0}
				]
			}]}]}
		}`))
	}))
	defer engine.Close()

	initiator := New(engine.URL, "https://documette.test/cb", "es")
	result, err := initiator.FetchResult(context.Background(), "dg-key", "req-123")
	require.NoError(t, err)

	words := result.Words()
	require.Len(t, words, 2)
	assert.Equal(t, "Hola", words[0].Word)
	require.NotNil(t, words[0].Speaker)
	assert.Equal(t, 0, *words[0].Speaker)
	assert.Equal(t, "hola equipo", result.FallbackTranscript())
}

func TestNotification_JobID(t *testing.T) {
	jobID := uuid.New()

	var n Notification
	require.NoError(t, json.Unmarshal([]byte(`{"metadata": {"request_id": "req-1", "tags": ["`+jobID.String()+`"]}}`), &n))

	got, err := n.JobID()
	require.NoError(t, err)
	assert.Equal(t, jobID, got)

	var empty Notification
	_, err = empty.JobID()
	assert.Error(t, err)
}
