package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSONBlockStripsFences(t *testing.T) {
	raw := "```json\n{\"summary\": \"ok\"}\n```"
	assert.Equal(t, `{"summary": "ok"}`, CleanJSONBlock(raw))
}

func TestCleanJSONBlockStripsBareFences(t *testing.T) {
	raw := "```\n{\"summary\": \"ok\"}\n```"
	assert.Equal(t, `{"summary": "ok"}`, CleanJSONBlock(raw))
}

func TestCleanJSONBlockLeavesPlainJSONAlone(t *testing.T) {
	raw := `{"summary": "ok"}`
	assert.Equal(t, raw, CleanJSONBlock(raw))
}

func TestCleanJSONBlockTrimsWhitespace(t *testing.T) {
	raw := "  \n{\"a\": 1}\n  "
	assert.Equal(t, `{"a": 1}`, CleanJSONBlock(raw))
}
