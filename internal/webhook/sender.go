package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/wudi/contractmap/internal/config"
)

// deliverWithRetry attempts delivery with exponential backoff. Client errors
// (4xx) are permanent; retrying a rejected payload will not change the
// verdict.
func (d *Dispatcher) deliverWithRetry(ep config.WebhookEndpoint, event *Event) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.retryCfg.Backoff
	bo.MaxInterval = d.retryCfg.MaxBackoff
	bo.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		if attempts > 0 {
			d.metrics.TotalRetries.Add(1)
		}
		attempts++
		return d.deliver(ep, event)
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.retryCfg.MaxRetries)), d.ctx))
	if err != nil {
		d.metrics.TotalFailed.Add(1)
		return
	}
	d.metrics.TotalDelivered.Add(1)
}

// deliver sends a single webhook HTTP request to the endpoint.
func (d *Dispatcher) deliver(ep config.WebhookEndpoint, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("create request: %w", err))
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(event.Type))
	req.Header.Set("X-Webhook-Timestamp", timestamp)

	// HMAC-SHA256 signature when a secret is configured.
	if ep.Secret != "" {
		sig := signPayload(ep.Secret, payload)
		req.Header.Set("X-Webhook-Signature", "sha256="+sig)
	}

	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	return backoff.Permanent(fmt.Errorf("client error: status %d", resp.StatusCode))
}

// signPayload computes HMAC-SHA256 of the payload using the given secret.
func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
