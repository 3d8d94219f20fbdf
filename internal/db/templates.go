package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetTemplateByOwner retrieves the processing template assigned to an owner.
// Returns nil when the owner has no template configured.
func (db *DB) GetTemplateByOwner(ctx context.Context, ownerID uuid.UUID) (*Template, error) {
	var t Template
	var speakerContext, defaultInstruction *string

	err := db.pool.QueryRow(ctx,
		`SELECT id, owner_id, transcription_api_key, generative_api_key,
		        speaker_context, default_instruction
		 FROM templates WHERE owner_id = $1`,
		ownerID,
	).Scan(&t.ID, &t.OwnerID, &t.TranscriptionAPIKey, &t.GenerativeAPIKey,
		&speakerContext, &defaultInstruction)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get template: %w", err)
	}

	if speakerContext != nil {
		t.SpeakerContext = *speakerContext
	}
	if defaultInstruction != nil {
		t.DefaultInstruction = *defaultInstruction
	}
	return &t, nil
}
