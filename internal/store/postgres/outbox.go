package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// InsertOutboxEntry stages an outbound webhook for the delivery worker.
func (s *Store) InsertOutboxEntry(ctx context.Context, tx store.DBTransaction, entry *store.OutboxEntry) error {
	if entry.Headers == nil {
		entry.Headers = json.RawMessage(`{}`)
	}
	if entry.Body == nil {
		entry.Body = json.RawMessage(`{}`)
	}

	executor := s.executor(tx)
	err := executor.QueryRowContext(ctx, `
		INSERT INTO outbox_entries (kind, destination, headers, body)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, entry.Kind, entry.Destination, entry.Headers, entry.Body).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert outbox entry: %w", err)
	}
	return nil
}
