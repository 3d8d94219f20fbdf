package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPatchSingleField(t *testing.T) {
	title := "Reunión semanal"
	clauses, args, err := buildPatch(JobPatch{Title: &title})
	require.NoError(t, err)

	assert.Equal(t, "title = $1", clauses)
	assert.Equal(t, []any{"Reunión semanal"}, args)
}

func TestBuildPatchNumbersArgsInOrder(t *testing.T) {
	status := StatusTranscribed
	transcript := "[Speaker:0] Hola."
	clauses, args, err := buildPatch(JobPatch{Status: &status, Transcript: &transcript})
	require.NoError(t, err)

	assert.Equal(t, "status = $1, transcript = $2", clauses)
	require.Len(t, args, 2)
	assert.Equal(t, StatusTranscribed, args[0])
	assert.Equal(t, transcript, args[1])
}

func TestBuildPatchMarshalsJSONBColumns(t *testing.T) {
	speakers := []Speaker{{Name: "Ana", Role: "Directora"}}
	agreements := []string{"Enviar informe"}
	clauses, args, err := buildPatch(JobPatch{Speakers: &speakers, Agreements: &agreements})
	require.NoError(t, err)

	assert.Contains(t, clauses, "speakers = $1")
	assert.Contains(t, clauses, "agreements = $2")

	require.Len(t, args, 2)
	assert.Contains(t, string(args[0].([]byte)), `"name":"Ana"`)
	assert.Contains(t, string(args[1].([]byte)), "Enviar informe")
}

func TestBuildPatchEmpty(t *testing.T) {
	clauses, args, err := buildPatch(JobPatch{})
	require.NoError(t, err)
	assert.Empty(t, clauses)
	assert.Empty(t, args)
}

func TestBuildPatchOmitsNilFields(t *testing.T) {
	reason := "engine timeout"
	status := StatusError
	clauses, _, err := buildPatch(JobPatch{Status: &status, FailureReason: &reason})
	require.NoError(t, err)

	assert.NotContains(t, clauses, "transcript")
	assert.NotContains(t, clauses, "title")
	assert.Equal(t, 2, strings.Count(clauses, "="))
}
