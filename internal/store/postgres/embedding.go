package postgres

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpsertEmbedding stores or replaces the vector for a resource/model pair.
func (s *Store) UpsertEmbedding(ctx context.Context, resourceID, model string, vector json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (resource_id, model, vector)
		VALUES ($1, $2, $3)
		ON CONFLICT (resource_id, model)
		DO UPDATE SET vector = EXCLUDED.vector, updated_at = NOW()
	`, resourceID, model, vector)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", resourceID, err)
	}
	return nil
}
