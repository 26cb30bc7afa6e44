package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// mockMessagingStore implements store.MessagingStore for testing.
type mockMessagingStore struct {
	endpoints map[string]*store.Endpoint
	threads   map[uuid.UUID]*store.Thread
	messages  map[uuid.UUID]*store.Message

	ContactsCreated  []store.Contact
	EndpointsCreated []store.Endpoint
	ThreadsCreated   []store.Thread
	StatusCalls      []statusCall
}

type statusCall struct {
	ID          uuid.UUID
	Status      store.MessageStatus
	ProviderRef string
	ErrMsg      string
}

func newMockMessagingStore() *mockMessagingStore {
	return &mockMessagingStore{
		endpoints: make(map[string]*store.Endpoint),
		threads:   make(map[uuid.UUID]*store.Thread),
		messages:  make(map[uuid.UUID]*store.Message),
	}
}

func (m *mockMessagingStore) GetEndpointByAddress(ctx context.Context, tx store.DBTransaction, address string) (*store.Endpoint, error) {
	if e, ok := m.endpoints[address]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockMessagingStore) CreateContact(ctx context.Context, tx store.DBTransaction, contact *store.Contact) error {
	m.ContactsCreated = append(m.ContactsCreated, *contact)
	return nil
}

func (m *mockMessagingStore) CreateEndpoint(ctx context.Context, tx store.DBTransaction, endpoint *store.Endpoint) error {
	m.EndpointsCreated = append(m.EndpointsCreated, *endpoint)
	m.endpoints[endpoint.Address] = endpoint
	return nil
}

func (m *mockMessagingStore) GetThreadByEndpoint(ctx context.Context, tx store.DBTransaction, endpointID uuid.UUID) (*store.Thread, error) {
	if t, ok := m.threads[endpointID]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockMessagingStore) CreateThread(ctx context.Context, tx store.DBTransaction, thread *store.Thread) error {
	m.ThreadsCreated = append(m.ThreadsCreated, *thread)
	m.threads[thread.EndpointID] = thread
	return nil
}

func (m *mockMessagingStore) CreateMessage(ctx context.Context, tx store.DBTransaction, msg *store.Message) error {
	m.messages[msg.ID] = msg
	return nil
}

func (m *mockMessagingStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	if msg, ok := m.messages[id]; ok {
		return msg, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockMessagingStore) SetMessageStatus(ctx context.Context, id uuid.UUID, status store.MessageStatus, providerRef, errMsg string) error {
	m.StatusCalls = append(m.StatusCalls, statusCall{ID: id, Status: status, ProviderRef: providerRef, ErrMsg: errMsg})
	if msg, ok := m.messages[id]; ok {
		msg.Status = status
	}
	return nil
}

// mockJobStore implements store.JobStore for testing the send facade.
type mockJobStore struct {
	byKey map[string]*store.Job

	EnqueueJobFunc func(ctx context.Context, tx store.DBTransaction, kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*store.Job, error)

	EnqueuedKinds []string
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{byKey: make(map[string]*store.Job)}
}

func (m *mockJobStore) EnqueueJob(ctx context.Context, tx store.DBTransaction, kind string, payload json.RawMessage, runAt time.Time, idempotencyKey string) (*store.Job, error) {
	m.EnqueuedKinds = append(m.EnqueuedKinds, kind)
	if m.EnqueueJobFunc != nil {
		return m.EnqueueJobFunc(ctx, tx, kind, payload, runAt, idempotencyKey)
	}
	if existing, ok := m.byKey[idempotencyKey]; ok {
		return existing, nil
	}
	job := &store.Job{ID: uuid.New(), Kind: kind, Payload: payload, RunAt: runAt}
	if idempotencyKey != "" {
		key := idempotencyKey
		job.IdempotencyKey = &key
		m.byKey[idempotencyKey] = job
	}
	return job, nil
}

func (m *mockJobStore) ClaimBatch(ctx context.Context, workerID string, limit int) ([]store.Job, error) {
	return nil, nil
}

func (m *mockJobStore) MarkJobCompleted(ctx context.Context, id uuid.UUID, lastError string) error {
	return nil
}

func (m *mockJobStore) ReleaseJobForRetry(ctx context.Context, id uuid.UUID, errMsg string, nextRunAt time.Time) error {
	return nil
}

func (m *mockJobStore) FinalizeJobFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	return nil
}

func (m *mockJobStore) GetJobByIdempotencyKey(ctx context.Context, tx store.DBTransaction, key string) (*store.Job, error) {
	if job, ok := m.byKey[key]; ok {
		return job, nil
	}
	return nil, store.ErrNotFound
}

// mockProvider implements Provider for testing.
type mockProvider struct {
	SendFunc func(ctx context.Context, to, body string) (string, error)

	Sends []string
}

func (m *mockProvider) Send(ctx context.Context, to, body string) (string, error) {
	m.Sends = append(m.Sends, to)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, to, body)
	}
	return "SM123", nil
}
