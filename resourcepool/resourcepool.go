// Package resourcepool implements the pool of homogeneous, process- or
// thread-like isolated executors that job entrypoints run inside of, plus
// an optional dedicated inference executor that serves all model-bearing
// tasks. Concurrency is modeled with goroutines: a "process" executor and
// a "thread" executor differ only in the ExecutorKind recorded against
// them, not in how the runtime schedules them.
package resourcepool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/o11y"
	"github.com/beluga-voice/agentrt/resilience"
)

// ExecutorKind names the isolation model an Executor emulates.
type ExecutorKind string

const (
	ExecutorProcess ExecutorKind = "process"
	ExecutorThread  ExecutorKind = "thread"
)

// ExecutorStatus is a point in the executor lifecycle:
// initializing -> idle -> busy -> idle -> ... -> shutting_down.
type ExecutorStatus string

const (
	StatusInitializing ExecutorStatus = "initializing"
	StatusIdle         ExecutorStatus = "idle"
	StatusBusy         ExecutorStatus = "busy"
	StatusUnhealthy    ExecutorStatus = "unhealthy"
	StatusShuttingDown ExecutorStatus = "shutting_down"
)

// Error codes for resourcepool operations.
const (
	ErrCodeNoExecutor   core.ErrorCode = "no_executor_available"
	ErrCodeTaskFailed   core.ErrorCode = "task_failed"
	ErrCodePoolShutdown core.ErrorCode = "pool_shutdown"
)

// TaskStatus is the terminal outcome of an Execute call.
type TaskStatus string

const (
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// TaskKind classifies a task for dispatch routing. Tasks of kind
// TaskKindInference are routed to the dedicated inference executor, if one
// is configured.
type TaskKind string

const TaskKindInference TaskKind = "inference"

// TaskConfig describes one unit of work submitted to Execute.
type TaskConfig struct {
	Kind       TaskKind
	RetryCount int
}

// TaskResult reports the outcome of an Execute call.
type TaskResult struct {
	Status        TaskStatus
	Result        any
	Error         error
	ExecutionTime time.Duration
}

// Entrypoint is the function a task runs inside an executor.
type Entrypoint func(ctx context.Context) (any, error)

// Executor is one isolated worker in the pool.
type Executor struct {
	mu            sync.Mutex
	id            string
	kind          ExecutorKind
	dedicated     bool
	status        ExecutorStatus
	lastHeartbeat time.Time
	tasksRun      int
	tasksFailed   int
}

// ID returns the executor's identifier.
func (e *Executor) ID() string { return e.id }

// Status returns the executor's current lifecycle status.
func (e *Executor) Status() ExecutorStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Executor) setStatus(s ExecutorStatus) {
	e.mu.Lock()
	e.status = s
	e.mu.Unlock()
}

// HealthCheck implements o11y.HealthChecker. It simulates the ping/pong
// liveness probe against the underlying executor: a goroutine-hosted
// executor is live as long as it has not been torn down.
func (e *Executor) HealthCheck(ctx context.Context) o11y.HealthResult {
	e.mu.Lock()
	status := e.status
	last := e.lastHeartbeat
	e.mu.Unlock()

	now := time.Now()
	res := o11y.HealthResult{Component: e.id, Timestamp: now}
	switch status {
	case StatusShuttingDown:
		res.Status = o11y.Unhealthy
		res.Message = "executor is shutting down"
	case StatusUnhealthy:
		res.Status = o11y.Unhealthy
		res.Message = "executor failed its last liveness probe"
	default:
		if !last.IsZero() && now.Sub(last) > 2*heartbeatInterval {
			res.Status = o11y.Degraded
			res.Message = "heartbeat stale"
		} else {
			res.Status = o11y.Healthy
		}
	}
	return res
}

const heartbeatInterval = 10 * time.Second

// Option configures a Pool.
type Option = core.Option

type poolConfig struct {
	executorKind      ExecutorKind
	maxResources      int
	numIdleResources  int
	dedicatedInferece bool
	healthInterval    time.Duration
	rateLimits        resilience.ProviderLimits
}

func asPoolConfig(target any) *poolConfig { return target.(*poolConfig) }

// WithExecutorKind sets whether executors emulate processes or threads.
func WithExecutorKind(kind ExecutorKind) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).executorKind = kind })
}

// WithMaxResources bounds the total number of executors the pool may run.
func WithMaxResources(n int) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).maxResources = n })
}

// WithNumIdleResources sets the pool's idle-executor target.
func WithNumIdleResources(n int) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).numIdleResources = n })
}

// WithDedicatedInferenceExecutor reserves one executor exclusively for
// TaskKindInference tasks.
func WithDedicatedInferenceExecutor(on bool) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).dedicatedInferece = on })
}

// WithHealthCheckInterval overrides the default health-check cadence.
func WithHealthCheckInterval(d time.Duration) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).healthInterval = d })
}

// WithRateLimits bounds the rate at which the pool admits tasks. The zero
// value leaves admission unlimited.
func WithRateLimits(limits resilience.ProviderLimits) Option {
	return core.OptionFunc(func(target any) { asPoolConfig(target).rateLimits = limits })
}

// Pool manages a set of Executors and dispatches tasks onto them.
type Pool struct {
	cfg poolConfig

	mu        sync.Mutex
	executors []*Executor
	inference *Executor
	nextID    int
	shutdown  bool

	sem *semaphore.Weighted

	// infSem is a one-slot gate over the dedicated inference executor, so
	// concurrent inference tasks queue on it rather than co-scheduling.
	infSem *semaphore.Weighted

	health  *o11y.HealthRegistry
	limiter *resilience.RateLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New constructs a Pool and brings it to its initial idle target.
func New(opts ...Option) *Pool {
	cfg := poolConfig{
		executorKind:     ExecutorThread,
		maxResources:     4,
		numIdleResources: 2,
		healthInterval:   heartbeatInterval,
	}
	core.ApplyOptions(&cfg, opts...)
	if cfg.maxResources < 1 {
		cfg.maxResources = 1
	}
	if cfg.numIdleResources > cfg.maxResources {
		cfg.numIdleResources = cfg.maxResources
	}

	p := &Pool{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.maxResources)),
		infSem: semaphore.NewWeighted(1),
		health: o11y.NewHealthRegistry(),
		stopCh: make(chan struct{}),
	}
	if cfg.rateLimits != (resilience.ProviderLimits{}) {
		p.limiter = resilience.NewRateLimiter(cfg.rateLimits)
	}

	if cfg.dedicatedInferece {
		p.inference = p.spawnLocked(true)
	}
	for len(p.executors) < p.cfg.numIdleResources {
		p.spawnLocked(false)
	}

	go p.healthLoop()
	return p
}

func (p *Pool) spawnLocked(dedicated bool) *Executor {
	p.nextID++
	e := &Executor{
		id:            fmt.Sprintf("executor-%d", p.nextID),
		kind:          p.cfg.executorKind,
		dedicated:     dedicated,
		status:        StatusInitializing,
		lastHeartbeat: time.Now(),
	}
	e.setStatus(StatusIdle)
	if !dedicated {
		p.executors = append(p.executors, e)
	}
	p.health.Register(e.id, e)
	return e
}

func (p *Pool) healthLoop() {
	ticker := time.NewTicker(p.cfg.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.replaceUnhealthy()
		}
	}
}

func (p *Pool) replaceUnhealthy() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	p.mu.Lock()
	candidates := append([]*Executor{}, p.executors...)
	if p.inference != nil {
		candidates = append(candidates, p.inference)
	}
	p.mu.Unlock()

	for _, e := range candidates {
		res := e.HealthCheck(ctx)
		e.mu.Lock()
		e.lastHeartbeat = time.Now()
		e.mu.Unlock()
		if res.Status == o11y.Unhealthy {
			p.retire(e)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	for len(p.executors) < p.cfg.numIdleResources {
		p.spawnLocked(false)
	}
	if p.cfg.dedicatedInferece && p.inference == nil {
		p.inference = p.spawnLocked(true)
	}
}

func (p *Pool) retire(e *Executor) {
	e.setStatus(StatusShuttingDown)
	p.health.Unregister(e.id)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inference == e {
		p.inference = nil
		return
	}
	for i, ex := range p.executors {
		if ex == e {
			p.executors = append(p.executors[:i], p.executors[i+1:]...)
			return
		}
	}
}

// Execute dispatches a task onto an idle executor (the dedicated inference
// executor for TaskKindInference tasks, if configured; otherwise the first
// available idle executor) and retries up to task.RetryCount times with a
// linear backoff of attempt*1s.
func (p *Pool) Execute(ctx context.Context, task TaskConfig, args any, fn Entrypoint) (TaskResult, error) {
	attempts := task.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var last TaskResult
	for attempt := 1; attempt <= attempts; attempt++ {
		if p.isShutdown() {
			err := core.NewError("resourcepool.execute", ErrCodePoolShutdown, "pool is shutting down", nil)
			return TaskResult{Status: TaskFailed, Error: err}, err
		}

		if p.limiter != nil {
			if attempt > 1 {
				if err := p.limiter.Wait(ctx); err != nil {
					return TaskResult{Status: TaskFailed, Error: err}, err
				}
			}
			if err := p.limiter.Allow(ctx); err != nil {
				return TaskResult{Status: TaskFailed, Error: err}, err
			}
		}

		e, err := p.acquire(ctx, task.Kind)
		if err != nil {
			if p.limiter != nil {
				p.limiter.Release()
			}
			return TaskResult{Status: TaskFailed, Error: err}, err
		}

		start := time.Now()
		result, runErr := p.run(ctx, e, fn)
		elapsed := time.Since(start)
		p.release(e)
		if p.limiter != nil {
			p.limiter.Release()
		}

		if runErr == nil {
			return TaskResult{Status: TaskCompleted, Result: result, ExecutionTime: elapsed}, nil
		}

		last = TaskResult{Status: TaskFailed, Error: runErr, ExecutionTime: elapsed}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			last.Error = ctx.Err()
			return last, last.Error
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	return last, last.Error
}

func (p *Pool) acquire(ctx context.Context, kind TaskKind) (*Executor, error) {
	if kind == TaskKindInference {
		e, ok, err := p.acquireInference(ctx)
		if ok {
			return e, err
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, e := range p.executors {
		if e.Status() == StatusIdle {
			e.setStatus(StatusBusy)
			return e, nil
		}
	}
	if len(p.executors) < p.cfg.maxResources {
		e := p.spawnLocked(false)
		e.setStatus(StatusBusy)
		return e, nil
	}
	p.sem.Release(1)
	return nil, core.NewError("resourcepool.acquire", ErrCodeNoExecutor, "no idle executor available", nil)
}

// acquireInference takes the one-slot gate over the dedicated inference
// executor, blocking until any in-flight inference task releases it. It
// reports ok=false when no dedicated executor is configured (or it was
// retired while waiting), in which case the caller falls back to the
// general pool.
func (p *Pool) acquireInference(ctx context.Context) (*Executor, bool, error) {
	p.mu.Lock()
	inf := p.inference
	p.mu.Unlock()
	if inf == nil {
		return nil, false, nil
	}

	if err := p.infSem.Acquire(ctx, 1); err != nil {
		return nil, true, err
	}

	p.mu.Lock()
	e := p.inference
	p.mu.Unlock()
	if e == nil {
		p.infSem.Release(1)
		return nil, false, nil
	}
	e.setStatus(StatusBusy)
	return e, true, nil
}

func (p *Pool) release(e *Executor) {
	e.setStatus(StatusIdle)
	if e.dedicated {
		p.infSem.Release(1)
		return
	}
	p.sem.Release(1)
}

func (p *Pool) run(ctx context.Context, e *Executor, fn Entrypoint) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.mu.Lock()
			e.tasksFailed++
			e.mu.Unlock()
			err = core.NewError("resourcepool.run", ErrCodeTaskFailed, fmt.Sprintf("executor panic: %v", r), nil)
		}
	}()
	result, err = fn(ctx)
	e.mu.Lock()
	e.tasksRun++
	if err != nil {
		e.tasksFailed++
	}
	e.mu.Unlock()
	return result, err
}

func (p *Pool) isShutdown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shutdown
}

// Snapshot returns the current executor set, for diagnostics and tests.
func (p *Pool) Snapshot() []*Executor {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Executor, len(p.executors))
	copy(out, p.executors)
	if p.inference != nil {
		out = append(out, p.inference)
	}
	return out
}

// Shutdown tears down every executor concurrently and stops the health
// loop. It is safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil
	}
	p.shutdown = true
	all := append([]*Executor{}, p.executors...)
	if p.inference != nil {
		all = append(all, p.inference)
	}
	p.executors = nil
	p.inference = nil
	p.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, e := range all {
		e := e
		g.Go(func() error {
			e.setStatus(StatusShuttingDown)
			return nil
		})
	}
	return g.Wait()
}
