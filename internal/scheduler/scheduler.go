// Package scheduler runs named, interval-driven background jobs without
// overlap. Each job owns a ticker goroutine; execution happens on a separate
// goroutine guarded by a per-job gate so a slow invocation causes the next
// trigger to be skipped, never queued.
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"customs-tracker/internal/events"

	"github.com/rs/zerolog"
)

// Sentinel errors callers can test with errors.Is to tell a missing job
// apart from an overlap rejection or the action's own failure.
var (
	ErrUnknownJob = errors.New("unknown job")
	ErrJobRunning = errors.New("job is already running")
)

// JobFunc is the action a job executes. Actions must not assume which
// goroutine they run on and report outcomes through the notification bus;
// the scheduler only looks at the returned error.
type JobFunc func() error

// Job is the interface for self-describing jobs, for callers that prefer
// registering a type over a closure.
type Job interface {
	Run() error
	Name() string
}

// job is the scheduler-owned state for one registered job.
type job struct {
	id       string
	action   JobFunc
	interval time.Duration
	paused   bool          // guarded by Scheduler.mu
	stopLoop chan struct{} // closes to end the ticker goroutine
	running  int32         // atomic gate enforcing single-instance execution
}

// JobStatus is the read-only view of a registered job.
type JobStatus struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	Paused   bool          `json:"paused"`
	Running  bool          `json:"running"`
}

// Scheduler manages background jobs.
type Scheduler struct {
	jobs    map[string]*job
	started bool
	mu      sync.Mutex

	loops    sync.WaitGroup // ticker goroutines
	inFlight sync.WaitGroup // executing job invocations

	manager *events.Manager
	log     zerolog.Logger
}

// New creates a new scheduler. Jobs publish their lifecycle on the bus
// behind the given event manager.
func New(manager *events.Manager, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		jobs:    make(map[string]*job),
		manager: manager,
		log:     log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins triggering registered jobs. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.log.Warn().Msg("Scheduler already started, ignoring")
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.startLoop(j)
	}

	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop halts all future triggers. When wait is true, Stop blocks until every
// in-flight job invocation has finished. Jobs stay registered; Start brings
// them back. Stopping a stopped scheduler is a no-op.
func (s *Scheduler) Stop(wait bool) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false

	for _, j := range s.jobs {
		if j.stopLoop != nil {
			close(j.stopLoop)
			j.stopLoop = nil
		}
	}
	s.mu.Unlock()

	s.loops.Wait()
	if wait {
		s.inFlight.Wait()
	}

	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job, replacing any existing job with the same id. The
// first scheduled trigger fires one interval from now. When runImmediately
// is set, the action also runs synchronously on the calling goroutine and
// its error is returned (and logged) so the caller sees startup failures.
func (s *Scheduler) AddJob(id string, action JobFunc, interval time.Duration, runImmediately bool) error {
	if id == "" {
		return fmt.Errorf("job id is required")
	}
	if action == nil {
		return fmt.Errorf("job %s: action is required", id)
	}
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", id, interval)
	}

	j := &job{
		id:       id,
		action:   action,
		interval: interval,
	}

	s.mu.Lock()
	if prev, ok := s.jobs[id]; ok && prev.stopLoop != nil {
		close(prev.stopLoop)
		prev.stopLoop = nil
	}
	s.jobs[id] = j
	if s.started {
		s.startLoop(j)
	}
	s.mu.Unlock()

	s.log.Info().
		Str("job", id).
		Dur("interval", interval).
		Bool("run_immediately", runImmediately).
		Msg("Job registered")

	if runImmediately {
		return s.RunJobNow(id)
	}
	return nil
}

// RegisterJob is a convenience for Job implementations.
func (s *Scheduler) RegisterJob(j Job, interval time.Duration, runImmediately bool) error {
	return s.AddJob(j.Name(), j.Run, interval, runImmediately)
}

// RemoveJob cancels future triggers for a job. A currently running
// invocation is not interrupted. Removing an unknown id is a no-op.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		if j.stopLoop != nil {
			close(j.stopLoop)
			j.stopLoop = nil
		}
		delete(s.jobs, id)
	}
	s.mu.Unlock()

	if ok {
		s.log.Info().Str("job", id).Msg("Job removed")
	}
}

// PauseJob suspends future triggers without losing the registration.
func (s *Scheduler) PauseJob(id string) error {
	return s.setPaused(id, true)
}

// ResumeJob re-enables triggers for a paused job.
func (s *Scheduler) ResumeJob(id string) error {
	return s.setPaused(id, false)
}

func (s *Scheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	j.paused = paused

	s.log.Info().Str("job", id).Bool("paused", paused).Msg("Job pause state changed")
	return nil
}

// RunJobNow executes a job's action immediately on the calling goroutine,
// bypassing its schedule. The single-instance invariant still holds: if the
// job is currently executing, RunJobNow returns an error instead of
// overlapping it.
func (s *Scheduler) RunJobNow(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		return fmt.Errorf("job %s: %w", id, ErrJobRunning)
	}

	s.inFlight.Add(1)
	defer s.inFlight.Done()
	defer atomic.StoreInt32(&j.running, 0)

	s.log.Info().Str("job", id).Msg("Running job immediately")
	return s.execute(j)
}

// UpdateJobInterval reschedules a job without losing its identity or action.
func (s *Scheduler) UpdateJobInterval(id string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", id, interval)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	j.interval = interval
	if j.stopLoop != nil {
		close(j.stopLoop)
		j.stopLoop = nil
		s.startLoop(j)
	}

	s.log.Info().Str("job", id).Dur("interval", interval).Msg("Job rescheduled")
	return nil
}

// IsRunning reports whether the scheduler has been started.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// JobIDs returns the ids of all registered jobs, sorted.
func (s *Scheduler) JobIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Jobs returns the status of every registered job, sorted by id.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		statuses = append(statuses, JobStatus{
			ID:       j.id,
			Interval: j.interval,
			Paused:   j.paused,
			Running:  atomic.LoadInt32(&j.running) == 1,
		})
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].ID < statuses[k].ID })
	return statuses
}

// startLoop launches the ticker goroutine for a job. Caller holds s.mu.
func (s *Scheduler) startLoop(j *job) {
	stop := make(chan struct{})
	j.stopLoop = stop
	interval := j.interval

	s.loops.Add(1)
	go func() {
		defer s.loops.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.triggerScheduled(j)
			}
		}
	}()
}

// triggerScheduled fires one scheduled invocation, honoring pause state and
// the single-instance gate. Execution happens on its own goroutine so the
// ticker loop never blocks behind a slow action.
func (s *Scheduler) triggerScheduled(j *job) {
	s.mu.Lock()
	paused := j.paused
	s.mu.Unlock()

	if paused {
		s.log.Debug().Str("job", j.id).Msg("Job paused, skipping trigger")
		return
	}

	if !atomic.CompareAndSwapInt32(&j.running, 0, 1) {
		s.log.Warn().Str("job", j.id).Msg("Previous invocation still running, skipping trigger")
		return
	}

	s.inFlight.Add(1)
	go func() {
		defer s.inFlight.Done()
		defer atomic.StoreInt32(&j.running, 0)

		// Failures are logged and published inside execute; the job stays
		// scheduled and fires again at its next interval.
		_ = s.execute(j)
	}()
}

// execute runs the action behind the gate, publishing lifecycle events and
// converting panics into errors so one broken action cannot take the
// scheduler down.
func (s *Scheduler) execute(j *job) (err error) {
	start := time.Now()

	s.manager.EmitTyped("scheduler", &events.WorkflowStartedData{
		WorkflowID: j.id,
		Name:       j.id,
	})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", j.id, r)
		}

		duration := time.Since(start)
		if err != nil {
			s.log.Error().Err(err).Str("job", j.id).Msg("Job failed")
			s.manager.EmitError("scheduler", j.id, err, nil)
			return
		}

		s.log.Debug().Str("job", j.id).Dur("duration_ms", duration).Msg("Job completed")
		s.manager.EmitTyped("scheduler", &events.WorkflowCompletedData{
			WorkflowID: j.id,
			DurationMS: float64(duration.Milliseconds()),
		})
	}()

	return j.action()
}
