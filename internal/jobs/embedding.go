package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/troykelly/openclaw-projects/internal/store"
)

// EmbeddingPayload is the payload of a generate_embedding job.
type EmbeddingPayload struct {
	ResourceID string `json:"resource_id"`
	Text       string `json:"text"`
	Model      string `json:"model,omitempty"`
}

// Embedder produces a vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, model, text string) (json.RawMessage, error)
}

// EmbedRejectedError reports that the embedder rejected the input itself
// (too long, unsupported model). Retrying the same input cannot succeed.
type EmbedRejectedError struct {
	StatusCode int
	Message    string
}

func (e *EmbedRejectedError) Error() string {
	return fmt.Sprintf("embedder rejected input (status %d): %s", e.StatusCode, e.Message)
}

// EmbeddingHandler generates a vector for a resource and stores it.
type EmbeddingHandler struct {
	embedder     Embedder
	embeddings   store.EmbeddingStore
	defaultModel string
}

// NewEmbeddingHandler wires the generate_embedding handler.
func NewEmbeddingHandler(embedder Embedder, embeddings store.EmbeddingStore, defaultModel string) *EmbeddingHandler {
	return &EmbeddingHandler{
		embedder:     embedder,
		embeddings:   embeddings,
		defaultModel: defaultModel,
	}
}

// Execute implements HandlerFunc for the generate_embedding kind. Input the
// embedder rejects is a terminal domain failure; an unreachable embedder is
// an infrastructure failure and the job retries.
func (h *EmbeddingHandler) Execute(ctx context.Context, payload json.RawMessage) (Result, error) {
	var p EmbeddingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return Result{}, fmt.Errorf("invalid generate_embedding payload: %w", err)
	}
	if p.ResourceID == "" || p.Text == "" {
		return Result{Success: false, Error: "payload requires resource_id and text"}, nil
	}

	model := p.Model
	if model == "" {
		model = h.defaultModel
	}

	vector, err := h.embedder.Embed(ctx, model, p.Text)
	if err != nil {
		var rejected *EmbedRejectedError
		if errors.As(err, &rejected) {
			return Result{Success: false, Error: rejected.Error()}, nil
		}
		return Result{}, fmt.Errorf("embed %s: %w", p.ResourceID, err)
	}

	if err := h.embeddings.UpsertEmbedding(ctx, p.ResourceID, model, vector); err != nil {
		return Result{}, fmt.Errorf("store embedding for %s: %w", p.ResourceID, err)
	}

	return Result{Success: true}, nil
}

// HTTPEmbedder calls an embedding service over HTTP.
type HTTPEmbedder struct {
	baseURL string
	client  *http.Client
}

// NewHTTPEmbedder creates a client for the embedding service at baseURL.
func NewHTTPEmbedder(baseURL string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type embedResponse struct {
	Vector json.RawMessage `json:"vector"`
	Error  string          `json:"error"`
}

// Embed requests a vector from the embedding service.
func (e *HTTPEmbedder) Embed(ctx context.Context, model, text string) (json.RawMessage, error) {
	body, err := json.Marshal(embedRequest{Model: model, Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedder request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("embedder response read failed: %w", err)
	}

	var decoded embedResponse
	if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("embedder response decode failed: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return decoded.Vector, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &EmbedRejectedError{StatusCode: resp.StatusCode, Message: decoded.Error}
	default:
		return nil, fmt.Errorf("embedder returned status %d", resp.StatusCode)
	}
}
