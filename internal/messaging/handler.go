package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/troykelly/openclaw-projects/internal/jobs"
	"github.com/troykelly/openclaw-projects/internal/store"
)

// SendHandler executes send jobs: it calls the delivery provider once for
// the referenced pending message and records the outcome on the message row.
type SendHandler struct {
	msgs     store.MessagingStore
	provider Provider
	log      *slog.Logger
}

// NewSendHandler wires the send handler.
func NewSendHandler(msgs store.MessagingStore, provider Provider, log *slog.Logger) *SendHandler {
	return &SendHandler{msgs: msgs, provider: provider, log: log}
}

// Execute implements jobs.HandlerFunc for the send kind.
//
// Provider rejection is a handled domain failure: the message is marked
// failed and the job is terminal. Any other provider error is an
// infrastructure failure and the job retries, but the message is still
// marked failed so observers are never left watching a pending row.
func (h *SendHandler) Execute(ctx context.Context, payload json.RawMessage) (jobs.Result, error) {
	var p sendJobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return jobs.Result{}, fmt.Errorf("invalid send payload: %w", err)
	}

	msg, err := h.msgs.GetMessage(ctx, p.MessageID)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("load message: %w", err)
	}

	// At-least-once delivery means a job can run again after a success was
	// already recorded. Never send twice.
	if msg.Status == store.MessageStatusSent {
		return jobs.Result{Success: true}, nil
	}

	ref, err := h.provider.Send(ctx, msg.Address, msg.Body)
	if err != nil {
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			if serr := h.msgs.SetMessageStatus(ctx, msg.ID, store.MessageStatusFailed, "", rejected.Message); serr != nil {
				h.log.Error("failed to mark message failed", "message_id", msg.ID, "error", serr)
			}
			return jobs.Result{Success: false, Error: rejected.Error()}, nil
		}

		if serr := h.msgs.SetMessageStatus(ctx, msg.ID, store.MessageStatusFailed, "", err.Error()); serr != nil {
			h.log.Error("failed to mark message failed", "message_id", msg.ID, "error", serr)
		}
		return jobs.Result{}, fmt.Errorf("deliver message %s: %w", msg.ID, err)
	}

	if err := h.msgs.SetMessageStatus(ctx, msg.ID, store.MessageStatusSent, ref, ""); err != nil {
		// Sent but not recorded. A retry can re-send here; that is the
		// at-least-once window, and the provider ref in the log is the
		// audit trail for it.
		h.log.Error("message sent but status update failed",
			"message_id", msg.ID, "provider_ref", ref, "error", err)
		return jobs.Result{}, fmt.Errorf("record delivery of %s: %w", msg.ID, err)
	}

	return jobs.Result{Success: true}, nil
}
