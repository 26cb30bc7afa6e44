package messaging

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/jobs"
	"github.com/troykelly/openclaw-projects/internal/store"
)

// phonePattern matches E.164 addresses: a plus sign and 2-15 digits.
var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// SendOptions are optional parameters to EnqueueSend.
type SendOptions struct {
	// ThreadID targets an existing thread; when zero the thread is resolved
	// (or created) from the destination address.
	ThreadID uuid.UUID

	// IdempotencyKey dedupes repeat requests; when empty a key is derived
	// from the destination and body.
	IdempotencyKey string
}

// SendReceipt is the result of an accepted send request.
type SendReceipt struct {
	MessageID      uuid.UUID
	ThreadID       uuid.UUID
	Status         string
	IdempotencyKey string
}

// sendJobPayload is the payload of a send job.
type sendJobPayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// Sender is the producer-side facade for outbound messages. One call
// validates the request, resolves or creates the endpoint/contact/thread
// graph, creates the pending message, and enqueues the send job — all in a
// single transaction keyed by the idempotency key, so duplicate triggers
// never duplicate sends.
type Sender struct {
	db   *sql.DB
	msgs store.MessagingStore
	jobs store.JobStore
	log  *slog.Logger
}

// NewSender wires the send facade.
func NewSender(db *sql.DB, msgs store.MessagingStore, jobStore store.JobStore, log *slog.Logger) *Sender {
	return &Sender{db: db, msgs: msgs, jobs: jobStore, log: log}
}

// DeriveIdempotencyKey derives a stable key for a send request, so retried
// identical requests coalesce even when the caller supplies no key.
func DeriveIdempotencyKey(to, body string) string {
	sum := sha256.Sum256([]byte("send:" + to + "\x00" + body))
	return hex.EncodeToString(sum[:])
}

// EnqueueSend validates and stages one outbound message. Re-invocation with
// the same idempotency key returns the same message ID and writes nothing.
func (s *Sender) EnqueueSend(ctx context.Context, to, body string, opts SendOptions) (*SendReceipt, error) {
	if !phonePattern.MatchString(to) {
		return nil, fmt.Errorf("invalid destination address %q: must be E.164, e.g. +15551234567", to)
	}
	if body == "" {
		return nil, fmt.Errorf("message body must not be empty")
	}

	key := opts.IdempotencyKey
	if key == "" {
		key = DeriveIdempotencyKey(to, body)
	}

	// Fast path: this request was already enqueued.
	if existing, err := s.jobs.GetJobByIdempotencyKey(ctx, nil, key); err == nil {
		return s.receiptForJob(ctx, existing, key)
	} else if !isNotFound(err) {
		return nil, fmt.Errorf("idempotency lookup failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin send transaction: %w", err)
	}
	defer tx.Rollback()

	messageID := uuid.New()
	payload, err := json.Marshal(sendJobPayload{MessageID: messageID})
	if err != nil {
		return nil, err
	}

	// Enqueue first: on an idempotency conflict the store returns the
	// winning job, and we bail out before creating any message rows.
	job, err := s.jobs.EnqueueJob(ctx, tx, jobs.KindSend, payload, time.Now(), key)
	if err != nil {
		return nil, fmt.Errorf("enqueue send job: %w", err)
	}

	var winner sendJobPayload
	if err := json.Unmarshal(job.Payload, &winner); err != nil {
		return nil, fmt.Errorf("decode send job payload: %w", err)
	}
	if winner.MessageID != messageID {
		// A concurrent identical request won the key. Nothing we staged
		// commits; hand back the winner's receipt.
		return s.receiptForJob(ctx, job, key)
	}

	thread, err := s.resolveThread(ctx, tx, to, opts.ThreadID)
	if err != nil {
		return nil, err
	}

	msg := &store.Message{
		ID:        messageID,
		ThreadID:  thread.ID,
		Direction: store.DirectionOutbound,
		Address:   to,
		Body:      body,
		Status:    store.MessageStatusPending,
	}
	if err := s.msgs.CreateMessage(ctx, tx, msg); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit send transaction: %w", err)
	}

	s.log.Info("outbound message enqueued",
		"message_id", messageID, "thread_id", thread.ID)

	return &SendReceipt{
		MessageID:      messageID,
		ThreadID:       thread.ID,
		Status:         "queued",
		IdempotencyKey: key,
	}, nil
}

// receiptForJob rebuilds the receipt of a previously enqueued send.
func (s *Sender) receiptForJob(ctx context.Context, job *store.Job, key string) (*SendReceipt, error) {
	var p sendJobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		return nil, fmt.Errorf("decode send job payload: %w", err)
	}

	msg, err := s.msgs.GetMessage(ctx, p.MessageID)
	if err != nil {
		return nil, fmt.Errorf("load message for existing send: %w", err)
	}

	return &SendReceipt{
		MessageID:      msg.ID,
		ThreadID:       msg.ThreadID,
		Status:         "queued",
		IdempotencyKey: key,
	}, nil
}

// resolveThread finds or creates the minimal graph needed to send:
// endpoint, owning contact, and thread.
func (s *Sender) resolveThread(ctx context.Context, tx store.DBTransaction, address string, threadID uuid.UUID) (*store.Thread, error) {
	if threadID != uuid.Nil {
		return &store.Thread{ID: threadID}, nil
	}

	endpoint, err := s.msgs.GetEndpointByAddress(ctx, tx, address)
	if isNotFound(err) {
		contact := &store.Contact{ID: uuid.New(), DisplayName: address}
		if err := s.msgs.CreateContact(ctx, tx, contact); err != nil {
			return nil, err
		}
		endpoint = &store.Endpoint{
			ID:        uuid.New(),
			ContactID: contact.ID,
			Kind:      store.EndpointKindPhone,
			Address:   address,
		}
		if err := s.msgs.CreateEndpoint(ctx, tx, endpoint); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	thread, err := s.msgs.GetThreadByEndpoint(ctx, tx, endpoint.ID)
	if isNotFound(err) {
		thread = &store.Thread{ID: uuid.New(), EndpointID: endpoint.ID}
		if err := s.msgs.CreateThread(ctx, tx, thread); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	return thread, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
