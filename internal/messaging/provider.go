// Package messaging implements the outbound-message send facade, the send
// job handler, and the delivery provider client.
package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Provider delivers one outbound message and returns the provider's
// reference for it.
type Provider interface {
	Send(ctx context.Context, to, body string) (providerRef string, err error)
}

// RejectedError reports that the provider accepted the request but rejected
// the message itself (invalid destination, blocked content). Retrying the
// same message cannot succeed, so handlers treat this as a terminal domain
// failure rather than an infrastructure one.
type RejectedError struct {
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("provider rejected message (code %d): %s", e.Code, e.Message)
}

// ErrProviderNotConfigured is returned when credentials are missing. The
// processor treats it as retryable, so messages queue up until the provider
// is configured rather than failing terminally.
var ErrProviderNotConfigured = errors.New("delivery provider is not configured")

// HTTPProviderConfig holds credentials for the REST delivery provider.
type HTTPProviderConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string

	// Requests per second against the provider API; 0 means 10.
	RateLimit float64
}

// HTTPProvider sends messages through a Twilio-compatible REST API. All
// calls pass through a client-side rate limiter so a burst of queued sends
// cannot trip the provider's own limits.
type HTTPProvider struct {
	config  HTTPProviderConfig
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPProvider creates a provider client from config.
func NewHTTPProvider(config HTTPProviderConfig) *HTTPProvider {
	rps := config.RateLimit
	if rps <= 0 {
		rps = 10
	}
	return &HTTPProvider{
		config:  config,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

type providerResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send delivers one message. A 2xx response yields the provider reference;
// a 4xx response yields a *RejectedError; anything else is an
// infrastructure error.
func (p *HTTPProvider) Send(ctx context.Context, to, body string) (string, error) {
	if p.config.AccountSID == "" || p.config.AuthToken == "" || p.config.From == "" {
		return "", ErrProviderNotConfigured
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", p.config.From)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(p.config.BaseURL, "/"), p.config.AccountSID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.config.AccountSID, p.config.AuthToken)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("provider response read failed: %w", err)
	}

	var decoded providerResponse
	if err := json.Unmarshal(raw, &decoded); err != nil && resp.StatusCode < 300 {
		return "", fmt.Errorf("provider response decode failed: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decoded.SID, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", &RejectedError{Code: decoded.Code, Message: decoded.Message}
	default:
		return "", fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
}
