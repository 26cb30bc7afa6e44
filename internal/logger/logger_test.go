package logger

import (
	"context"
	"testing"
)

func TestJobIDRoundTrip(t *testing.T) {
	ctx := WithJobID(context.Background(), "job-123")

	if got := JobIDFromContext(ctx); got != "job-123" {
		t.Errorf("got %q, want job-123", got)
	}
	if got := JobIDFromContext(context.Background()); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestFromContext(t *testing.T) {
	base := New()

	if got := FromContext(context.Background(), base); got != base {
		t.Error("context without job ID must return the base logger")
	}

	ctx := WithJobID(context.Background(), "job-123")
	if got := FromContext(ctx, base); got == base {
		t.Error("context with job ID must return an enriched logger")
	}
}
