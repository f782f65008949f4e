// Package metrics is the minimal instrumentation facade for the tracker.
//
// Core code depends only on this package; concrete backends (Datadog) live
// in subpackages and are installed at startup via SetBackend. The default
// backend is a no-op, so library code can record unconditionally.
package metrics

import (
	"strconv"
	"sync"
)

// Labels are metric dimensions. Backends may drop labels they do not model.
type Labels map[string]string

// Backend receives counter increments and histogram samples.
//
// Implementations must be safe for concurrent use: bulk jobs record from
// their own goroutines.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer and submit on demand.
type Flusher interface {
	Flush() error
}

type noop struct{}

func (noop) IncCounter(string, float64, Labels)       {}
func (noop) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = noop{}
)

// SetBackend installs the process-wide backend. Call once at startup.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Flush forces a submission if the installed backend buffers. No-op backends
// return nil.
func Flush() error {
	mu.RLock()
	b := backend
	mu.RUnlock()
	if f, ok := b.(Flusher); ok {
		return f.Flush()
	}
	return nil
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// RecordCheck counts one completed extraction attempt by outcome
// (success/blocked/error).
func RecordCheck(outcome string) {
	current().IncCounter("buybox_checks_total", 1, Labels{"outcome": outcome})
}

// RecordHTTPStatus counts one upstream response by status code.
func RecordHTTPStatus(code int) {
	current().IncCounter("buybox_http_requests_total", 1, Labels{"status": strconv.Itoa(code)})
}

// RecordOfferFallback counts one secondary-source fallback invocation.
func RecordOfferFallback() {
	current().IncCounter("buybox_offer_fallback_total", 1, nil)
}

// ObserveCheckSeconds records the wall time of one full check (including
// retries) by final outcome.
func ObserveCheckSeconds(outcome string, seconds float64) {
	current().ObserveHistogram("buybox_check_duration_seconds", seconds, Labels{"outcome": outcome})
}

// RecordAlert counts one dispatched alert by channel and delivery result.
func RecordAlert(channel string, ok bool) {
	status := "sent"
	if !ok {
		status = "failed"
	}
	current().IncCounter("buybox_alerts_total", 1, Labels{"channel": channel, "status": status})
}
