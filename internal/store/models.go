// Package store contains the database layer for the openclaw job engine.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job represents one unit of deferred work. Jobs are created by producers,
// claimed and completed by the processor, and never deleted by the engine.
type Job struct {
	ID             uuid.UUID
	Kind           string
	Payload        json.RawMessage
	RunAt          time.Time
	Attempts       int
	LastError      *string
	LockedAt       *time.Time
	LockedBy       *string
	CompletedAt    *time.Time
	IdempotencyKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Schedule represents a recurring job definition, including its own
// circuit-breaker state. Breaker state lives in the database so it survives
// restarts and is shared by all workers.
type Schedule struct {
	ID                  uuid.UUID
	SkillID             string
	Collection          *string
	CronExpression      string
	WebhookURL          string
	WebhookHeaders      json.RawMessage
	PayloadTemplate     json.RawMessage
	Enabled             bool
	MaxRetries          int
	ConsecutiveFailures int
	LastRunAt           *time.Time
	LastRunStatus       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Run status values recorded on a schedule after each firing.
const (
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// OutboxEntry is a staged outbound webhook. Entries are written by job
// handlers and drained by a separate delivery worker, so business logic is
// never re-run to retry a network send.
type OutboxEntry struct {
	ID          int64
	Kind        string
	Destination string
	Headers     json.RawMessage
	Body        json.RawMessage
	CreatedAt   time.Time
}

// Contact is the owner of one or more communication endpoints.
type Contact struct {
	ID          uuid.UUID
	DisplayName string
	CreatedAt   time.Time
}

// Endpoint is an address (currently phone numbers only) belonging to a contact.
type Endpoint struct {
	ID        uuid.UUID
	ContactID uuid.UUID
	Kind      string
	Address   string
	CreatedAt time.Time
}

// EndpointKindPhone is the only endpoint kind the send facade creates today.
const EndpointKindPhone = "phone"

// Thread groups messages exchanged with a single endpoint.
type Thread struct {
	ID         uuid.UUID
	EndpointID uuid.UUID
	CreatedAt  time.Time
}

// Message is one outbound (or inbound) message on a thread.
type Message struct {
	ID           uuid.UUID
	ThreadID     uuid.UUID
	Direction    string
	Address      string
	Body         string
	Status       MessageStatus
	ProviderRef  *string
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MessageStatus represents the delivery state of a message.
type MessageStatus string

const (
	MessageStatusPending MessageStatus = "pending"
	MessageStatusSent    MessageStatus = "sent"
	MessageStatusFailed  MessageStatus = "failed"
)

const (
	DirectionOutbound = "outbound"
	DirectionInbound  = "inbound"
)

// Embedding is a stored vector for an application resource (note, work item).
type Embedding struct {
	ResourceID string
	Model      string
	Vector     json.RawMessage
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
