// Package webhook delivers analysis events (new contract versions, breaking
// changes, consumer edge updates) to configured HTTP receivers.
package webhook

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.uber.org/zap"

	"github.com/wudi/contractmap/internal/config"
	"github.com/wudi/contractmap/internal/logging"
)

// endpoint is a configured receiver with its filter program compiled.
type endpoint struct {
	cfg    config.WebhookEndpoint
	filter *vm.Program
}

// Dispatcher manages webhook event delivery to configured endpoints.
type Dispatcher struct {
	queue     chan *Event
	client    *http.Client
	retryCfg  config.WebhookRetryConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	metrics   *Metrics
	mu        sync.RWMutex
	endpoints []endpoint
	history   []Event
	queueSize int
}

// NewDispatcher creates a new webhook dispatcher and starts worker
// goroutines. Endpoints with a filter expression that does not compile are
// kept without a filter and the error logged; delivery should not silently
// vanish over a typo.
func NewDispatcher(cfg config.WebhooksConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	retryCfg := cfg.Retry
	if retryCfg.MaxRetries <= 0 {
		retryCfg.MaxRetries = 3
	}
	if retryCfg.Backoff <= 0 {
		retryCfg.Backoff = 1 * time.Second
	}
	if retryCfg.MaxBackoff <= 0 {
		retryCfg.MaxBackoff = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		queue:     make(chan *Event, queueSize),
		client:    &http.Client{Timeout: timeout},
		retryCfg:  retryCfg,
		ctx:       ctx,
		cancel:    cancel,
		metrics:   &Metrics{},
		endpoints: compileEndpoints(cfg.Endpoints),
		queueSize: queueSize,
	}

	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}

	return d
}

func compileEndpoints(cfgs []config.WebhookEndpoint) []endpoint {
	out := make([]endpoint, 0, len(cfgs))
	for _, cfg := range cfgs {
		ep := endpoint{cfg: cfg}
		if cfg.Filter != "" {
			prog, err := expr.Compile(cfg.Filter, expr.AsBool(), expr.Env(filterEnv(&Event{})))
			if err != nil {
				logging.Warn("webhook filter failed to compile, endpoint will receive all matching events",
					zap.String("url", cfg.URL), zap.Error(err))
			} else {
				ep.filter = prog
			}
		}
		out = append(out, ep)
	}
	return out
}

// filterEnv is the variable set a filter expression sees.
func filterEnv(event *Event) map[string]interface{} {
	return map[string]interface{}{
		"type": string(event.Type),
		"repo": event.Repo,
		"data": event.Data,
	}
}

// Emit sends an event to the dispatch queue. Non-blocking: if the queue is
// full, the event is dropped and the dropped counter incremented.
func (d *Dispatcher) Emit(event *Event) {
	d.metrics.TotalEmitted.Add(1)
	select {
	case d.queue <- event:
	default:
		d.metrics.TotalDropped.Add(1)
	}
}

// UpdateEndpoints replaces the endpoint list at runtime, e.g. on config
// reload.
func (d *Dispatcher) UpdateEndpoints(eps []config.WebhookEndpoint) {
	compiled := compileEndpoints(eps)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = compiled
}

// Close cancels the dispatcher context and waits for all workers to drain.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Stats returns a snapshot of dispatcher state and metrics.
func (d *Dispatcher) Stats() DispatcherStats {
	d.mu.RLock()
	endpoints := len(d.endpoints)
	historyCopy := make([]Event, len(d.history))
	copy(historyCopy, d.history)
	d.mu.RUnlock()

	return DispatcherStats{
		Enabled:      true,
		Endpoints:    endpoints,
		QueueSize:    d.queueSize,
		QueueUsed:    len(d.queue),
		Metrics:      d.metrics.Snapshot(),
		RecentEvents: historyCopy,
	}
}

// worker processes events from the queue.
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.queue:
			if !ok {
				return
			}
			d.dispatch(event)
		}
	}
}

// dispatch delivers an event to all matching endpoints.
func (d *Dispatcher) dispatch(event *Event) {
	d.mu.Lock()
	d.history = append(d.history, *event)
	if len(d.history) > 100 {
		d.history = d.history[len(d.history)-100:]
	}
	d.mu.Unlock()

	d.mu.RLock()
	endpoints := make([]endpoint, len(d.endpoints))
	copy(endpoints, d.endpoints)
	d.mu.RUnlock()

	for _, ep := range endpoints {
		if !d.eventMatchesEndpoint(event, ep) {
			continue
		}
		d.deliverWithRetry(ep.cfg, event)
	}
}

// eventMatchesEndpoint checks the endpoint's event type patterns and, when
// present, its compiled filter expression.
func (d *Dispatcher) eventMatchesEndpoint(event *Event, ep endpoint) bool {
	matched := len(ep.cfg.Events) == 0
	for _, pattern := range ep.cfg.Events {
		if matchesPattern(event.Type, pattern) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	if ep.filter != nil {
		out, err := expr.Run(ep.filter, filterEnv(event))
		if err != nil {
			logging.Warn("webhook filter evaluation failed",
				zap.String("url", ep.cfg.URL), zap.Error(err))
			return false
		}
		pass, _ := out.(bool)
		if !pass {
			d.metrics.TotalFiltered.Add(1)
			return false
		}
	}
	return true
}
