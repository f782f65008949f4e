package tracker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"sync"
	"time"

	"buybox/internal/buybox"
)

// JobStatus is the lifecycle of a bulk job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
)

// Failure is one identifier the bulk loop could not complete.
type Failure struct {
	ASIN  string `json:"asin"`
	Error string `json:"error"`
}

// Job is the pollable progress state of one bulk run.
//
// Progress is updated after each identifier completes, not batched at the
// end, so a concurrent status poller always sees partial progress.
type Job struct {
	ID          string           `json:"id"`
	Status      JobStatus        `json:"status"`
	Done        int              `json:"done"`
	Total       int              `json:"total"`
	Results     []*buybox.Result `json:"results"`
	Failed      []Failure        `json:"failed"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt time.Time        `json:"completed_at,omitzero"`
}

// Registry owns the process-wide job map. All access goes through its lock;
// jobs are written only by the owning run loop and read by status queries.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// create registers a queued job and returns its id.
func (r *Registry) create(total int, now time.Time) string {
	id := newJobID()
	r.mu.Lock()
	r.jobs[id] = &Job{
		ID:        id,
		Status:    JobQueued,
		Total:     total,
		Results:   []*buybox.Result{},
		Failed:    []Failure{},
		StartedAt: now,
	}
	r.mu.Unlock()
	return id
}

func (r *Registry) update(id string, fn func(j *Job)) {
	r.mu.Lock()
	if j, ok := r.jobs[id]; ok {
		fn(j)
	}
	r.mu.Unlock()
}

// Get returns a snapshot copy of the job, safe to serialize while the run
// loop keeps appending.
func (r *Registry) Get(id string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return Job{}, false
	}
	snap := *j
	snap.Results = append([]*buybox.Result(nil), j.Results...)
	snap.Failed = append([]Failure(nil), j.Failed...)
	return snap, true
}

// Handler consumes each completed extraction (persistence + alerting). A
// returned error records the identifier in the failed list without aborting
// the remaining identifiers.
type Handler func(ctx context.Context, res *buybox.Result) error

// RunBulk processes identifiers in the order supplied with a single
// sequential worker, pacing between identifiers per delays. It returns the
// completed results and the per-identifier failures.
//
// No failure aborts the loop: a handler error is recorded and the loop
// continues. Cancellation is cooperative, checked between identifiers; on
// cancel the partial results so far are returned.
func (t *Tracker) RunBulk(ctx context.Context, asins []string, marketplace string, handle Handler, delays DelayPolicy) ([]*buybox.Result, []Failure) {
	results, failed := []*buybox.Result{}, []Failure{}
	t.runBulk(ctx, asins, marketplace, handle, delays, func(res *buybox.Result, f *Failure) {
		if f != nil {
			failed = append(failed, *f)
			return
		}
		results = append(results, res)
	})
	return results, failed
}

// StartBulk is the asynchronous variant: it registers a job, runs the same
// loop in a background goroutine, and returns the job id for polling via the
// registry.
func (t *Tracker) StartBulk(ctx context.Context, reg *Registry, asins []string, marketplace string, handle Handler, delays DelayPolicy) string {
	id := reg.create(len(asins), t.now().UTC())

	go func() {
		reg.update(id, func(j *Job) { j.Status = JobRunning })

		t.runBulk(ctx, asins, marketplace, handle, delays, func(res *buybox.Result, f *Failure) {
			reg.update(id, func(j *Job) {
				if f != nil {
					j.Failed = append(j.Failed, *f)
				} else {
					j.Results = append(j.Results, res)
				}
				j.Done++
			})
		})

		reg.update(id, func(j *Job) {
			j.Status = JobDone
			j.CompletedAt = t.now().UTC()
		})
		slog.Info("bulk job finished", "job", id, "total", len(asins))
	}()

	return id
}

// runBulk is the shared sequential loop. record is called exactly once per
// identifier, with either a result or a failure.
func (t *Tracker) runBulk(ctx context.Context, asins []string, marketplace string, handle Handler, delays DelayPolicy, record func(*buybox.Result, *Failure)) {
	if delays == nil {
		// Each job gets its own rng: jobs run as independent workers and
		// must not share unsynchronized state.
		delays = DefaultDelays(mrand.New(mrand.NewSource(t.now().UnixNano())))
	}

	for i, asin := range asins {
		if ctx.Err() != nil {
			slog.Warn("bulk run cancelled", "done", i, "total", len(asins))
			return
		}

		res := t.Check(ctx, asin, marketplace)

		var handleErr error
		if handle != nil {
			handleErr = handle(ctx, res)
		}
		if handleErr != nil {
			slog.Error("handler failed", "asin", asin, "err", handleErr)
			record(nil, &Failure{ASIN: asin, Error: handleErr.Error()})
		} else {
			record(res, nil)
		}

		// Pacing is mandatory between identifiers whether or not the
		// handler succeeded; only the final identifier skips it.
		if i < len(asins)-1 {
			t.sleep(delays(i))
		}
	}
}

func newJobID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("job-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b[:])
}
