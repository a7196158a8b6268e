package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/djlord-it/cronhook/internal/errors"
)

// Headers set on every outbound call.
const (
	HeaderJobID       = "X-Cronhook-Job-ID"
	HeaderFiringID    = "X-Cronhook-Firing-ID"
	HeaderScheduledAt = "X-Cronhook-Scheduled-At"
	HeaderSignature   = "X-Cronhook-Signature"
)

// DefaultTimeout bounds a single outbound call when none is configured.
const DefaultTimeout = 10 * time.Second

// maxDrain caps how much of a response body is read to let the connection be
// reused.
const maxDrain = 64 << 10

type HTTPWebhookSender struct {
	client *http.Client
}

func NewHTTPWebhookSender() *HTTPWebhookSender {
	return &HTTPWebhookSender{
		client: &http.Client{},
	}
}

// NewHTTPWebhookSenderWithClient uses client for every call. The per-request
// timeout still applies.
func NewHTTPWebhookSenderWithClient(client *http.Client) *HTTPWebhookSender {
	return &HTTPWebhookSender{client: client}
}

// Send posts req.Body to req.URL once. The body is sent verbatim; an empty
// body sends no Content-Type. When req.Secret is set the body is signed with
// HMAC-SHA256.
func (s *HTTPWebhookSender) Send(ctx context.Context, req WebhookRequest) WebhookResult {
	start := time.Now()

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return WebhookResult{Error: errors.Wrap(err, "create request"), Duration: time.Since(start)}
	}

	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("User-Agent", "cronhook")
	httpReq.Header.Set(HeaderJobID, req.JobID)
	httpReq.Header.Set(HeaderFiringID, req.FiringID)
	if !req.ScheduledAt.IsZero() {
		httpReq.Header.Set(HeaderScheduledAt, req.ScheduledAt.UTC().Format(time.RFC3339))
	}
	if req.Secret != "" {
		httpReq.Header.Set(HeaderSignature, computeSignature(req.Secret, req.Body))
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return WebhookResult{Error: errors.Wrap(err, "send"), Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	return WebhookResult{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received body against its X-Cronhook-Signature.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
