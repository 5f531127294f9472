// Package scheduler runs periodic background jobs.
//
// The prober and the SLA evaluation cycle depend on the Scheduler interface so that
// tests can fire jobs directly instead of sleeping, and so each loop can be stopped
// on its own during shutdown.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc is the body of a periodic job.
type JobFunc func(ctx context.Context)

// Job is a handle to a scheduled job.
type Job interface {
	// Stop stops future runs. A run already in progress is not interrupted.
	Stop()
}

// Scheduler runs a function on a fixed interval until the job is stopped or ctx ends.
type Scheduler interface {
	Every(ctx context.Context, name string, interval time.Duration, fn JobFunc) (Job, error)
}

// -----------------------------------------------------------------------------
// Ticker
// -----------------------------------------------------------------------------

// Ticker schedules each job on its own time.Ticker goroutine.
type Ticker struct{}

// NewTicker creates a ticker-backed scheduler.
func NewTicker() *Ticker { return &Ticker{} }

type tickerJob struct {
	stop chan struct{}
	once sync.Once
}

func (j *tickerJob) Stop() {
	j.once.Do(func() { close(j.stop) })
}

// Every starts fn on a ticker. The first run happens after one interval.
func (t *Ticker) Every(ctx context.Context, name string, interval time.Duration, fn JobFunc) (Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("job %s: interval must be positive", name)
	}

	job := &tickerJob{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-job.stop:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	slog.Debug("Scheduled job", "job", name, "interval", interval)
	return job, nil
}

// -----------------------------------------------------------------------------
// Cron
// -----------------------------------------------------------------------------

// Cron schedules jobs on a shared robfig/cron instance using "@every" specs.
// Overlapping runs of the same job are skipped.
type Cron struct {
	cron *cron.Cron
}

// NewCron creates and starts a cron-backed scheduler.
func NewCron() *Cron {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Start()
	return &Cron{cron: c}
}

type cronJob struct {
	cron *cron.Cron
	id   cron.EntryID
}

func (j *cronJob) Stop() {
	j.cron.Remove(j.id)
}

// Every registers fn under "@every <interval>".
func (c *Cron) Every(ctx context.Context, name string, interval time.Duration, fn JobFunc) (Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("job %s: interval must be positive", name)
	}

	id, err := c.cron.AddFunc("@every "+interval.String(), func() {
		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	slog.Debug("Scheduled cron job", "job", name, "interval", interval)
	return &cronJob{cron: c.cron, id: id}, nil
}

// Close stops the cron runner and waits for running jobs to finish.
func (c *Cron) Close() {
	<-c.cron.Stop().Done()
}

// -----------------------------------------------------------------------------
// Manual
// -----------------------------------------------------------------------------

// Manual records jobs and runs them only when Fire is called. Used in tests.
type Manual struct {
	mu   sync.Mutex
	jobs map[string]*manualJob
}

// NewManual creates an empty manual scheduler.
func NewManual() *Manual {
	return &Manual{jobs: make(map[string]*manualJob)}
}

type manualJob struct {
	ctx      context.Context
	fn       JobFunc
	interval time.Duration
	stopped  bool
}

type manualHandle struct {
	m    *Manual
	name string
}

func (h manualHandle) Stop() {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if j, ok := h.m.jobs[h.name]; ok {
		j.stopped = true
	}
}

// Every records the job.
func (m *Manual) Every(ctx context.Context, name string, interval time.Duration, fn JobFunc) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[name]; ok {
		return nil, fmt.Errorf("job %s already scheduled", name)
	}
	m.jobs[name] = &manualJob{ctx: ctx, fn: fn, interval: interval}
	return manualHandle{m: m, name: name}, nil
}

// Fire runs the named job once, synchronously. It returns false when the job is
// unknown or stopped.
func (m *Manual) Fire(name string) bool {
	m.mu.Lock()
	j, ok := m.jobs[name]
	runnable := ok && !j.stopped
	m.mu.Unlock()
	if !runnable {
		return false
	}
	j.fn(j.ctx)
	return true
}

// Interval returns the interval a job was registered with.
func (m *Manual) Interval(name string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[name]; ok {
		return j.interval
	}
	return 0
}
