package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// GetEndpointByAddress returns the endpoint holding address, or store.ErrNotFound.
func (s *Store) GetEndpointByAddress(ctx context.Context, tx store.DBTransaction, address string) (*store.Endpoint, error) {
	executor := s.executor(tx)

	var e store.Endpoint
	err := executor.QueryRowContext(ctx, `
		SELECT id, contact_id, kind, address, created_at
		FROM endpoints
		WHERE address = $1
	`, address).Scan(&e.ID, &e.ContactID, &e.Kind, &e.Address, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load endpoint for %s: %w", address, err)
	}
	return &e, nil
}

// CreateContact inserts a new contact row.
func (s *Store) CreateContact(ctx context.Context, tx store.DBTransaction, contact *store.Contact) error {
	executor := s.executor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO contacts (id, display_name)
		VALUES ($1, $2)
	`, contact.ID, contact.DisplayName)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// CreateEndpoint inserts a new endpoint row.
func (s *Store) CreateEndpoint(ctx context.Context, tx store.DBTransaction, endpoint *store.Endpoint) error {
	executor := s.executor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO endpoints (id, contact_id, kind, address)
		VALUES ($1, $2, $3, $4)
	`, endpoint.ID, endpoint.ContactID, endpoint.Kind, endpoint.Address)
	if err != nil {
		return fmt.Errorf("failed to create endpoint: %w", err)
	}
	return nil
}

// GetThreadByEndpoint returns the thread for an endpoint, or store.ErrNotFound.
func (s *Store) GetThreadByEndpoint(ctx context.Context, tx store.DBTransaction, endpointID uuid.UUID) (*store.Thread, error) {
	executor := s.executor(tx)

	var t store.Thread
	err := executor.QueryRowContext(ctx, `
		SELECT id, endpoint_id, created_at
		FROM threads
		WHERE endpoint_id = $1
		ORDER BY created_at ASC
		LIMIT 1
	`, endpointID).Scan(&t.ID, &t.EndpointID, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread for endpoint %s: %w", endpointID, err)
	}
	return &t, nil
}

// CreateThread inserts a new thread row.
func (s *Store) CreateThread(ctx context.Context, tx store.DBTransaction, thread *store.Thread) error {
	executor := s.executor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO threads (id, endpoint_id)
		VALUES ($1, $2)
	`, thread.ID, thread.EndpointID)
	if err != nil {
		return fmt.Errorf("failed to create thread: %w", err)
	}
	return nil
}

// CreateMessage inserts a new message row.
func (s *Store) CreateMessage(ctx context.Context, tx store.DBTransaction, msg *store.Message) error {
	executor := s.executor(tx)
	_, err := executor.ExecContext(ctx, `
		INSERT INTO messages (id, thread_id, direction, address, body, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ThreadID, msg.Direction, msg.Address, msg.Body, msg.Status)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// GetMessage returns a message by ID, or store.ErrNotFound.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	var m store.Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, direction, address, body, status,
			provider_ref, error_message, created_at, updated_at
		FROM messages
		WHERE id = $1
	`, id).Scan(&m.ID, &m.ThreadID, &m.Direction, &m.Address, &m.Body,
		&m.Status, &m.ProviderRef, &m.ErrorMessage, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message %s: %w", id, err)
	}
	return &m, nil
}

// SetMessageStatus transitions a message's delivery status.
func (s *Store) SetMessageStatus(ctx context.Context, id uuid.UUID, status store.MessageStatus, providerRef, errMsg string) error {
	var ref, msg sql.NullString
	if providerRef != "" {
		ref = sql.NullString{String: providerRef, Valid: true}
	}
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET status = $2,
			provider_ref = COALESCE($3, provider_ref),
			error_message = COALESCE($4, error_message),
			updated_at = NOW()
		WHERE id = $1
	`, id, status, ref, msg)
	if err != nil {
		return fmt.Errorf("failed to set message %s status: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return nil
}
