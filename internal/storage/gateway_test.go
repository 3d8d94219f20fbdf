package storage

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestAudioObjectPathUsesOriginalExtension(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()

	path := AudioObjectPath(owner, jobID, "reunion-semanal.mp3")
	assert.Equal(t, fmt.Sprintf("audios/%s/%s.mp3", owner, jobID), path)
}

func TestAudioObjectPathFallbackExtension(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()

	path := AudioObjectPath(owner, jobID, "recording-without-extension")
	assert.Equal(t, fmt.Sprintf("audios/%s/%s.audio", owner, jobID), path)
}

func TestAudioPrefixMatchesObjectPaths(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()

	path := AudioObjectPath(owner, jobID, "a.wav")
	prefix := AudioPrefix(owner)
	assert.Contains(t, path, prefix)

	// A different owner's prefix never matches.
	assert.NotContains(t, path, AudioPrefix(uuid.New()))
}

func TestExportObjectPath(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()

	path := ExportObjectPath(owner, jobID)
	assert.Equal(t, fmt.Sprintf("exports/%s/%s.docx", owner, jobID), path)
}
