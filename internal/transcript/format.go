// Package transcript reconstructs speaker-labeled transcripts from word-level
// engine output and rewrites speaker tags once participants are identified.
package transcript

import (
	"fmt"
	"strings"
)

// Word is a single transcribed word. Speaker is the engine's speaker index;
// nil when the engine could not attribute the word.
type Word struct {
	Word    string
	Speaker *int
}

// Tag renders the label that marks a speaker run in the formatted transcript.
func Tag(speaker int) string {
	return fmt.Sprintf("[Speaker:%d]", speaker)
}

// FormatWords groups consecutive words by speaker index into utterance
// blocks, one `[Speaker:N] ...` line per contiguous run. A word without a
// speaker index is appended to whichever block is currently open; the block
// only closes when the speaker index actually changes. Non-adjacent runs of
// the same speaker yield separate blocks.
func FormatWords(words []Word) string {
	var sb strings.Builder
	var currentSpeaker *int
	var block strings.Builder

	flush := func() {
		text := strings.TrimSpace(block.String())
		if text != "" && currentSpeaker != nil {
			sb.WriteString(Tag(*currentSpeaker))
			sb.WriteString(" ")
			sb.WriteString(text)
			sb.WriteString("\n")
		}
		block.Reset()
	}

	for _, w := range words {
		if w.Speaker == nil {
			block.WriteString(w.Word)
			block.WriteString(" ")
			continue
		}
		if currentSpeaker == nil {
			speaker := *w.Speaker
			currentSpeaker = &speaker
		}
		if *w.Speaker != *currentSpeaker {
			flush()
			speaker := *w.Speaker
			currentSpeaker = &speaker
		}
		block.WriteString(w.Word)
		block.WriteString(" ")
	}
	flush()

	return strings.TrimSpace(sb.String())
}

// IdentifiedSpeaker pairs a speaker index from the formatted transcript with
// the name and role inferred for it.
type IdentifiedSpeaker struct {
	Index int
	Name  string
	Role  string
}

// Placeholder values used when inference cannot determine a speaker.
const (
	UnknownName = "Unknown"
	UnknownRole = "Unknown Role"
)

// ReplaceSpeakerTags substitutes every `[Speaker:N]` occurrence covered by
// the speaker list with a bold "**Name, Role:**" label. The substitution is
// purely textual, so repeated tags for the same speaker are all replaced.
func ReplaceSpeakerTags(text string, speakers []IdentifiedSpeaker) string {
	for _, sp := range speakers {
		name := sp.Name
		if name == "" {
			name = UnknownName
		}
		role := sp.Role
		if role == "" {
			role = UnknownRole
		}
		replacement := fmt.Sprintf("\n\n**%s, %s:**", name, role)
		text = strings.ReplaceAll(text, Tag(sp.Index), replacement)
	}
	return text
}
