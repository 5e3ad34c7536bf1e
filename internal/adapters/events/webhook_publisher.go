package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

const defaultWebhookTimeout = 10 * time.Second

// WebhookPublisher POSTs outbox events to an HTTP endpoint, signed with HMAC-SHA256.
// Any non-2xx response is an error, so the dispatcher retries it.
type WebhookPublisher struct {
	url    string
	secret []byte
	client *http.Client
}

func NewWebhookPublisher(url, secret string, timeout time.Duration) *WebhookPublisher {
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &WebhookPublisher{
		url:    url,
		secret: []byte(secret),
		client: &http.Client{Timeout: timeout},
	}
}

// Publish sends the event with these headers:
//
//	X-Qbank-Topic:        <topic>
//	X-Qbank-Event-Id:     <event.EventID>
//	X-Qbank-Event-Type:   <event.EventType>
//	X-Qbank-Collection:   <event.Collection>
//	X-Qbank-Question:     <event.QuestionName>
//	X-Hub-Signature-256:  sha256=<hex HMAC-SHA256 of the body>
func (p *WebhookPublisher) Publish(ctx context.Context, topic string, event domain.EventEnvelope) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	sig := Sign(p.secret, payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Qbank-Topic", topic)
	req.Header.Set("X-Qbank-Event-Id", event.EventID)
	req.Header.Set("X-Qbank-Event-Type", event.EventType)
	req.Header.Set("X-Qbank-Collection", event.Collection)
	req.Header.Set("X-Qbank-Question", event.QuestionName)
	req.Header.Set("X-Hub-Signature-256", "sha256="+sig)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload.
func Sign(secret, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether header is a valid X-Hub-Signature-256 value for payload.
func Verify(secret, payload []byte, header string) bool {
	want := "sha256=" + Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(header))
}
