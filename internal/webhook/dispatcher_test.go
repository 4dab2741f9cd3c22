package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/wudi/contractmap/internal/config"
)

type receiver struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
	status   int
}

func newReceiver(status int) (*receiver, *httptest.Server) {
	r := &receiver{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, req.Clone(req.Context()))
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(r.status)
	}))
	return r, srv
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func newDispatcher(eps ...config.WebhookEndpoint) *Dispatcher {
	return NewDispatcher(config.WebhooksConfig{
		Enabled:   true,
		Endpoints: eps,
		Workers:   1,
		QueueSize: 16,
		Timeout:   time.Second,
		Retry: config.WebhookRetryConfig{
			MaxRetries: 1,
			Backoff:    10 * time.Millisecond,
			MaxBackoff: 20 * time.Millisecond,
		},
	})
}

func TestDeliveryAndSignature(t *testing.T) {
	rcv, srv := newReceiver(http.StatusOK)
	defer srv.Close()

	d := newDispatcher(config.WebhookEndpoint{
		URL:    srv.URL,
		Secret: "topsecret",
		Events: []string{"contract.*"},
	})
	defer d.Close()

	d.Emit(NewEvent(VersionAppended, "billing", map[string]interface{}{"endpoints": 3}))
	waitFor(t, func() bool { return rcv.count() == 1 })

	rcv.mu.Lock()
	req, body := rcv.requests[0], rcv.bodies[0]
	rcv.mu.Unlock()

	if req.Header.Get("X-Webhook-Event") != string(VersionAppended) {
		t.Errorf("event header = %q", req.Header.Get("X-Webhook-Event"))
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(body)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if got := req.Header.Get("X-Webhook-Signature"); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		t.Fatalf("payload not json: %v", err)
	}
	if event.Repo != "billing" || event.Type != VersionAppended {
		t.Errorf("payload = %+v", event)
	}

	stats := d.Stats()
	if stats.Metrics.TotalDelivered != 1 {
		t.Errorf("delivered = %d", stats.Metrics.TotalDelivered)
	}
}

func TestEventTypeFilter(t *testing.T) {
	rcv, srv := newReceiver(http.StatusOK)
	defer srv.Close()

	d := newDispatcher(config.WebhookEndpoint{
		URL:    srv.URL,
		Events: []string{"contract.breaking_detected"},
	})
	defer d.Close()

	d.Emit(NewEvent(EdgeAdded, "billing", nil))
	d.Emit(NewEvent(BreakingDetected, "billing", nil))
	waitFor(t, func() bool { return rcv.count() == 1 })

	rcv.mu.Lock()
	got := rcv.requests[0].Header.Get("X-Webhook-Event")
	rcv.mu.Unlock()
	if got != string(BreakingDetected) {
		t.Errorf("wrong event delivered: %q", got)
	}
}

func TestFilterExpression(t *testing.T) {
	rcv, srv := newReceiver(http.StatusOK)
	defer srv.Close()

	d := newDispatcher(config.WebhookEndpoint{
		URL:    srv.URL,
		Events: []string{"*"},
		Filter: `repo == "billing"`,
	})
	defer d.Close()

	d.Emit(NewEvent(VersionAppended, "identity", nil))
	d.Emit(NewEvent(VersionAppended, "billing", nil))
	waitFor(t, func() bool { return rcv.count() == 1 })

	// Give the filtered event time to have been (wrongly) delivered.
	time.Sleep(50 * time.Millisecond)
	if rcv.count() != 1 {
		t.Fatalf("filtered event delivered, count = %d", rcv.count())
	}
	if d.Stats().Metrics.TotalFiltered != 1 {
		t.Errorf("filtered counter = %d", d.Stats().Metrics.TotalFiltered)
	}
}

func TestServerErrorRetries(t *testing.T) {
	rcv, srv := newReceiver(http.StatusInternalServerError)
	defer srv.Close()

	d := newDispatcher(config.WebhookEndpoint{URL: srv.URL, Events: []string{"*"}})
	defer d.Close()

	d.Emit(NewEvent(VersionAppended, "billing", nil))
	waitFor(t, func() bool { return rcv.count() == 2 }) // initial + one retry

	waitFor(t, func() bool { return d.Stats().Metrics.TotalFailed == 1 })
	if d.Stats().Metrics.TotalRetries != 1 {
		t.Errorf("retries = %d", d.Stats().Metrics.TotalRetries)
	}
}

func TestClientErrorIsNotRetried(t *testing.T) {
	rcv, srv := newReceiver(http.StatusBadRequest)
	defer srv.Close()

	d := newDispatcher(config.WebhookEndpoint{URL: srv.URL, Events: []string{"*"}})
	defer d.Close()

	d.Emit(NewEvent(VersionAppended, "billing", nil))
	waitFor(t, func() bool { return d.Stats().Metrics.TotalFailed == 1 })
	if rcv.count() != 1 {
		t.Errorf("client error retried, count = %d", rcv.count())
	}
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		event   EventType
		pattern string
		want    bool
	}{
		{VersionAppended, "*", true},
		{VersionAppended, "contract.*", true},
		{VersionAppended, "contract.version_appended", true},
		{VersionAppended, "consumer.*", false},
		{EdgeAdded, "contract.*", false},
	}
	for _, tc := range cases {
		if got := matchesPattern(tc.event, tc.pattern); got != tc.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tc.event, tc.pattern, got, tc.want)
		}
	}
}
