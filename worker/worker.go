// Package worker implements the Worker Supervisor (C2): the top-level
// component that owns the Registry Client, the Resource Pool, and the
// table of currently running jobs, and makes the availability/assignment/
// termination/drain/shutdown decisions described by the runtime.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/jobcontext"
	jcIface "github.com/beluga-voice/agentrt/jobcontext/iface"
	"github.com/beluga-voice/agentrt/o11y"
	"github.com/beluga-voice/agentrt/registry"
	"github.com/beluga-voice/agentrt/resourcepool"
)

// Error codes for worker operations.
const (
	ErrCodeEntrypointMissing core.ErrorCode = "entrypoint_missing"
	ErrCodeDrainTimeout      core.ErrorCode = "drain_timeout"
)

// JobState is a Running Job's lifecycle state.
type JobState string

const (
	JobLaunching JobState = "launching"
	JobRunning   JobState = "running"
	JobError     JobState = "error"
	JobDone      JobState = "done"
)

// RunningJob is the Supervisor's bookkeeping entry for one active job.
type RunningJob struct {
	JobID   string
	State   JobState
	Context *jobcontext.Context
	cancel  context.CancelFunc
}

// Entrypoint builds and runs the session for an assigned job inside the
// given Job Context. It should block for the lifetime of the job (typically
// by calling jobContext.RunUntilShutdown).
type Entrypoint func(ctx context.Context, assignment registry.JobAssignment, jc *jobcontext.Context) error

// Options configures a Supervisor.
type Options struct {
	AgentName          string
	Namespace          string
	Version            string
	Capabilities       []string
	LoadThreshold      float64
	MaxProcesses       int
	Token              string
	RegistryURL        string
	InitializeTimeout  time.Duration
	CloseTimeout       time.Duration
	PingInterval       time.Duration
	MaxRetry           int
	MaxBackoff         time.Duration
	WaitForParticipant bool
	DrainDeadline      time.Duration
}

// Supervisor is the Worker Supervisor (C2).
type Supervisor struct {
	opts       Options
	entrypoint Entrypoint
	roomFactory jcIface.RoomFactory
	pool       *resourcepool.Pool
	reg        *registry.Client
	logger     *o11y.Logger

	mu       sync.RWMutex
	jobs     map[string]*RunningJob
	draining bool
}

// New constructs a Supervisor. The entrypoint and room factory must be
// supplied; they are the only two things specific to the hosted agent.
func New(opts Options, entrypoint Entrypoint, roomFactory jcIface.RoomFactory, pool *resourcepool.Pool, logger *o11y.Logger) *Supervisor {
	if logger == nil {
		logger = o11y.NewLogger()
	}
	s := &Supervisor{
		opts:        opts,
		entrypoint:  entrypoint,
		roomFactory: roomFactory,
		pool:        pool,
		logger:      logger,
		jobs:        make(map[string]*RunningJob),
	}
	s.reg = registry.New(registry.Options{
		URL:               opts.RegistryURL,
		AgentName:         opts.AgentName,
		Namespace:         opts.Namespace,
		Version:           opts.Version,
		Capabilities:      opts.Capabilities,
		LoadThreshold:     opts.LoadThreshold,
		MaxProcesses:      opts.MaxProcesses,
		Token:             opts.Token,
		InitializeTimeout: opts.InitializeTimeout,
		MaxRetry:          opts.MaxRetry,
		MaxBackoff:        opts.MaxBackoff,
		PingInterval:      opts.PingInterval,
	}, logger)

	s.reg.OnAvailabilityRequest(s.handleAvailabilityRequest)
	s.reg.OnJobAssignment(s.handleJobAssignment)
	s.reg.OnJobTermination(s.handleJobTermination)

	return s
}

// Start connects the Registry Client.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.entrypoint == nil {
		return core.NewError("worker.start", ErrCodeEntrypointMissing, "no entrypoint configured", nil)
	}
	return s.reg.Connect(ctx)
}

// Load computes min(current_jobs/max_processes, 1.0).
func (s *Supervisor) Load() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadLocked()
}

func (s *Supervisor) loadLocked() float64 {
	if s.opts.MaxProcesses <= 0 {
		return 1.0
	}
	load := float64(len(s.jobs)) / float64(s.opts.MaxProcesses)
	if load > 1.0 {
		load = 1.0
	}
	return load
}

func (s *Supervisor) isDraining() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draining
}

func (s *Supervisor) jobCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// handleAvailabilityRequest implements the availability decision: accept
// iff not draining, load is under threshold, and current_jobs is under
// max_processes. The decision is advisory.
func (s *Supervisor) handleAvailabilityRequest(req registry.AvailabilityRequest) registry.AvailabilityResponse {
	s.mu.RLock()
	available := !s.draining &&
		s.loadLocked() < s.opts.LoadThreshold &&
		len(s.jobs) < s.opts.MaxProcesses
	s.mu.RUnlock()

	return registry.AvailabilityResponse{JobID: req.JobID, Available: available}
}

// handleJobAssignment implements assignment handling per spec 4.2.
func (s *Supervisor) handleJobAssignment(assignment registry.JobAssignment) {
	jc := jobcontext.New(
		jobcontext.WithRoomFactory(s.roomFactory),
		jobcontext.WithRoomOptions(jcIface.RoomOptions{RoomID: assignment.RoomID}),
		jobcontext.WithLogger(s.logger),
	)

	ctx, cancel := context.WithCancel(core.WithRequestID(context.Background(), assignment.JobID))
	job := &RunningJob{JobID: assignment.JobID, State: JobLaunching, Context: jc, cancel: cancel}

	s.mu.Lock()
	s.jobs[assignment.JobID] = job
	s.mu.Unlock()
	s.reportStatus(false)

	jc.AddShutdownCallback(func(ctx context.Context) error {
		s.mu.Lock()
		delete(s.jobs, assignment.JobID)
		s.mu.Unlock()
		s.reg.SendJobUpdate(registry.JobUpdateMsg{JobID: assignment.JobID, Status: registry.JobCompleted})
		s.reportStatus(true)
		return nil
	})

	job.State = JobRunning
	s.reg.SendJobUpdate(registry.JobUpdateMsg{JobID: assignment.JobID, Status: registry.JobRunning})

	go func() {
		err := s.runEntrypoint(ctx, assignment, jc)
		if err != nil {
			s.mu.Lock()
			if j, ok := s.jobs[assignment.JobID]; ok {
				j.State = JobError
			}
			s.mu.Unlock()
			errMsg := err.Error()
			s.reg.SendJobUpdate(registry.JobUpdateMsg{
				JobID: assignment.JobID, Status: registry.JobError, Error: &errMsg,
			})
			return
		}
	}()
}

// runEntrypoint dispatches the entrypoint through the Resource Pool (C3)
// when one is configured, so a job's isolated executor is occupied for the
// entrypoint's entire lifetime, matching the registry->C1->C2->C3->entrypoint
// dispatch chain. A nil pool falls back to running the entrypoint directly
// on its own goroutine, the degraded single-process mode used by tests that
// exercise the Supervisor in isolation.
func (s *Supervisor) runEntrypoint(ctx context.Context, assignment registry.JobAssignment, jc *jobcontext.Context) error {
	if s.pool == nil {
		return s.entrypoint(ctx, assignment, jc)
	}
	_, err := s.pool.Execute(ctx, resourcepool.TaskConfig{}, assignment, func(ctx context.Context) (any, error) {
		return nil, s.entrypoint(ctx, assignment, jc)
	})
	return err
}

// handleJobTermination implements termination handling per spec 4.2.
func (s *Supervisor) handleJobTermination(term registry.JobTermination) {
	s.mu.Lock()
	job, ok := s.jobs[term.JobID]
	s.mu.Unlock()
	if !ok {
		return
	}

	_ = job.Context.Shutdown(context.Background())
	if job.cancel != nil {
		job.cancel()
	}

	s.mu.Lock()
	delete(s.jobs, term.JobID)
	s.mu.Unlock()

	reason := "terminated"
	s.reg.SendJobUpdate(registry.JobUpdateMsg{JobID: term.JobID, Status: registry.JobCompleted, Error: &reason})
	s.reportStatus(true)
}

func (s *Supervisor) reportStatus(immediate bool) {
	status := registry.StatusAvailable
	if s.isDraining() {
		status = registry.StatusDraining
	}
	s.reg.UpdateStatus(status, s.Load(), s.jobCount(), immediate)
}

// Drain sets draining=true, reports status, and blocks until current_jobs
// is empty or deadline elapses.
func (s *Supervisor) Drain(ctx context.Context) error {
	s.mu.Lock()
	s.draining = true
	empty := len(s.jobs) == 0
	s.mu.Unlock()
	s.reportStatus(true)

	if empty {
		return nil
	}

	deadline := s.opts.DrainDeadline
	var timeoutCh <-chan time.Time
	if deadline > 0 {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeoutCh:
			return core.NewError("worker.drain", ErrCodeDrainTimeout, "drain deadline exceeded", nil)
		case <-ticker.C:
			if s.jobCount() == 0 {
				return nil
			}
		}
	}
}

// Shutdown invokes shutdown on every running job, emits per-job completion,
// sends a final status, tears down the Resource Pool, and closes the
// Registry Client.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	jobs := make([]*RunningJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	for _, j := range jobs {
		_ = j.Context.Shutdown(ctx)
		if j.cancel != nil {
			j.cancel()
		}
		s.reg.SendJobUpdate(registry.JobUpdateMsg{JobID: j.JobID, Status: registry.JobCompleted})
	}

	s.mu.Lock()
	s.jobs = make(map[string]*RunningJob)
	s.mu.Unlock()

	s.reg.UpdateStatus(registry.StatusOffline, 0, 0, true)

	if s.opts.CloseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CloseTimeout)
		defer cancel()
	}

	var errs []error
	if s.pool != nil {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.reg.Disconnect(ctx); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("worker: shutdown errors: %v", errs)
	}
	return nil
}

// Options returns the Supervisor's configuration, so an Entrypoint can read
// shared settings such as WaitForParticipant.
func (s *Supervisor) Options() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opts
}

// Jobs returns a snapshot of the currently running jobs.
func (s *Supervisor) Jobs() []*RunningJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RunningJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}
