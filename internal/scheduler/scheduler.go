// Package scheduler re-checks every tracked product on a fixed interval.
//
// The interval and on/off switch are persisted through the storage layer, so
// a setting changed at runtime survives restarts. The loop wakes early when
// settings change instead of finishing the old interval first.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"buybox/internal/storage"
)

// RunFunc performs one refresh pass over the given identifiers and returns
// how many were processed. The scheduler does not care how: the server wires
// this to the tracker's bulk loop with persistence and alerting attached.
type RunFunc func(ctx context.Context, asins []string) int

// Status is a snapshot of scheduler state for the API.
type Status struct {
	Enabled         bool      `json:"enabled"`
	IntervalMinutes int       `json:"interval_minutes"`
	Running         bool      `json:"running"`
	LastRunAt       time.Time `json:"last_run_at,omitzero"`
	LastRunCount    int       `json:"last_run_count"`
	NextRunAt       time.Time `json:"next_run_at,omitzero"`
}

type Scheduler struct {
	repo storage.Repository
	run  RunFunc

	mu       sync.Mutex
	interval time.Duration
	enabled  bool
	running  bool
	lastRun  time.Time
	lastN    int
	anchor   time.Time // start of the current interval countdown

	wake chan struct{}
	done chan struct{}

	now func() time.Time
}

// New builds a scheduler with the configured defaults. Persisted settings,
// when present, take precedence at Start.
func New(repo storage.Repository, run RunFunc, intervalMinutes int, enabled bool) *Scheduler {
	return &Scheduler{
		repo:     repo,
		run:      run,
		interval: time.Duration(intervalMinutes) * time.Minute,
		enabled:  enabled,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Start loads persisted settings and launches the loop. The loop exits when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	saved, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load scheduler settings: %w", err)
	}
	s.mu.Lock()
	if saved != nil {
		s.interval = time.Duration(saved.IntervalMinutes) * time.Minute
		s.enabled = saved.Enabled
	}
	s.anchor = s.now()
	s.mu.Unlock()

	go s.loop(ctx)
	return nil
}

// Wait blocks until the loop has exited.
func (s *Scheduler) Wait() { <-s.done }

// Update changes the interval and switch, persists them, and wakes the loop.
func (s *Scheduler) Update(ctx context.Context, intervalMinutes int, enabled bool) error {
	if intervalMinutes < 1 {
		return fmt.Errorf("interval must be >= 1 minute, got %d", intervalMinutes)
	}
	if err := s.repo.SaveSettings(ctx, storage.Settings{
		IntervalMinutes: intervalMinutes,
		Enabled:         enabled,
		UpdatedAt:       s.now().UTC(),
	}); err != nil {
		return fmt.Errorf("save scheduler settings: %w", err)
	}
	s.apply(time.Duration(intervalMinutes)*time.Minute, enabled)
	return nil
}

func (s *Scheduler) apply(interval time.Duration, enabled bool) {
	s.mu.Lock()
	s.interval = interval
	s.enabled = enabled
	s.anchor = s.now()
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Status reports current state. NextRunAt is zero while disabled.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:         s.enabled,
		IntervalMinutes: int(s.interval / time.Minute),
		Running:         s.running,
		LastRunAt:       s.lastRun,
		LastRunCount:    s.lastN,
	}
	if s.enabled && !s.running {
		st.NextRunAt = s.anchor.Add(s.interval)
	}
	return st
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		enabled := s.enabled
		wait := s.interval - s.now().Sub(s.anchor)
		s.mu.Unlock()

		if !enabled {
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			s.runOnce(ctx)
		case <-s.wake:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		slog.Error("scheduled refresh aborted", "err", err)
		s.finishRun(0)
		return
	}
	asins := make([]string, 0, len(products))
	for _, p := range products {
		asins = append(asins, p.ASIN)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	n := 0
	if len(asins) > 0 {
		slog.Info("scheduled refresh started", "products", len(asins))
		n = s.run(ctx, asins)
	}
	s.finishRun(n)
	slog.Info("scheduled refresh finished", "processed", n)
}

func (s *Scheduler) finishRun(n int) {
	s.mu.Lock()
	s.running = false
	s.lastRun = s.now()
	s.lastN = n
	s.anchor = s.lastRun
	s.mu.Unlock()
}
