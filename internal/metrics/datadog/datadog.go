// Package datadog implements a Datadog backend for internal/metrics.
//
// The tracker runs both as a long-lived server and as short one-shot CLI
// checks, so the backend buffers in-memory, flushes on a ticker (default
// once per minute), and flushes one final time on Close. That yields a time
// series while a job runs and a tail flush at shutdown.
//
// Concurrency model: recording goroutines write buffers under a mutex;
// Flush snapshots+resets under the mutex and submits out-of-lock.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"buybox/internal/metrics"
)

// Options controls backend configuration.
type Options struct {
	// Service becomes tag "service:<name>" on every metric. Defaults to
	// "buybox-tracker".
	Service string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// FlushEvery controls submission cadence. Defaults to 60s.
	FlushEvery time.Duration

	// Unexported test seams. Production never sets these; unit tests use
	// them to avoid real submission and nondeterministic tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter submitter
}

// submitter is the minimal slice of the Datadog SDK the backend needs.
// Depending on the interface instead of *datadogV2.MetricsApi keeps unit
// tests free of real HTTP.
type submitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api        submitter
	ctx        context.Context
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	// Counters keyed by the one label dimension each metric carries.
	checkCounts    map[string]float64 // outcome -> count
	httpCounts     map[string]float64 // status -> count
	alertCounts    map[string]float64 // "channel\x00status" -> count
	offerFallbacks float64

	checkDurations map[string][]float64 // outcome -> seconds samples
}

// NewBackend constructs the backend and starts its flush loop.
//
// Credentials come from the standard DD_API_KEY/DD_APP_KEY environment
// handled by the official client. Network errors surface from Flush, not
// from construction.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = "buybox-tracker"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "service:"+service)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	sub := opts.submitter
	if sub == nil {
		cfg := dd.NewConfiguration()
		sub = datadogV2.NewMetricsApi(dd.NewAPIClient(cfg))
	}

	b := &Backend{
		api:        sub,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,

		checkCounts:    make(map[string]float64),
		httpCounts:     make(map[string]float64),
		alertCounts:    make(map[string]float64),
		checkDurations: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Call once at
// process shutdown.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend. Unknown metric names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "buybox_checks_total":
		b.checkCounts[labelOr(labels, "outcome", "unknown")] += delta
	case "buybox_http_requests_total":
		b.httpCounts[labelOr(labels, "status", "unknown")] += delta
	case "buybox_offer_fallback_total":
		b.offerFallbacks += delta
	case "buybox_alerts_total":
		k := labelOr(labels, "channel", "unknown") + "\x00" + labelOr(labels, "status", "unknown")
		b.alertCounts[k] += delta
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "buybox_check_duration_seconds" {
		outcome := labelOr(labels, "outcome", "unknown")
		b.checkDurations[outcome] = append(b.checkDurations[outcome], value)
	}
}

type snapshot struct {
	checkCounts    map[string]float64
	httpCounts     map[string]float64
	alertCounts    map[string]float64
	offerFallbacks float64
	checkDurations map[string][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.checkCounts) == 0 &&
		len(s.httpCounts) == 0 &&
		len(s.alertCounts) == 0 &&
		s.offerFallbacks == 0 &&
		len(s.checkDurations) == 0
}

// snapshotAndReset detaches the buffered state so submission happens
// out-of-lock.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		checkCounts:    b.checkCounts,
		httpCounts:     b.httpCounts,
		alertCounts:    b.alertCounts,
		offerFallbacks: b.offerFallbacks,
		checkDurations: b.checkDurations,
	}
	b.checkCounts = make(map[string]float64)
	b.httpCounts = make(map[string]float64)
	b.alertCounts = make(map[string]float64)
	b.offerFallbacks = 0
	b.checkDurations = make(map[string][]float64)
	return s
}

// Flush submits buffered metrics and resets the buffers. Buffers reset even
// when submission fails, to keep the hot path non-blocking.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries is pure (no locks, clocks, or network), which keeps the
// naming/tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.checkCounts)+len(s.httpCounts)+16)

	for outcome, v := range s.checkCounts {
		series = append(series, countSeries("buybox.checks.total", v,
			withTags(b.baseTags, "outcome:"+outcome), nowUnix))
	}
	for status, v := range s.httpCounts {
		series = append(series, countSeries("buybox.http.requests.total", v,
			withTags(b.baseTags, "status:"+status), nowUnix))
	}
	if s.offerFallbacks != 0 {
		series = append(series, countSeries("buybox.offer_fallback.total", s.offerFallbacks, b.baseTags, nowUnix))
	}
	for k, v := range s.alertCounts {
		channel, status := splitKey(k)
		series = append(series, countSeries("buybox.alerts.total", v,
			withTags(b.baseTags, "channel:"+channel, "status:"+status), nowUnix))
	}

	for outcome, samples := range s.checkDurations {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		tags := withTags(b.baseTags, "outcome:"+outcome)
		series = append(series,
			gaugeSeries("buybox.check.duration_seconds.p50", percentile(cp, 0.50), tags, nowUnix),
			gaugeSeries("buybox.check.duration_seconds.p95", percentile(cp, 0.95), tags, nowUnix),
			gaugeSeries("buybox.check.duration_seconds.max", cp[len(cp)-1], tags, nowUnix),
			gaugeSeries("buybox.check.duration_seconds.samples", float64(len(cp)), tags, nowUnix),
		)
	}

	return series
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func labelOr(labels metrics.Labels, key, fallback string) string {
	if v := labels[key]; v != "" {
		return v
	}
	return fallback
}

func splitKey(k string) (string, string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

// percentile is nearest-rank on a sorted sample set.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:retail".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
