// Package jobcontext implements the Job Context: the per-job handle that
// owns a Room and a Session, runs an ordered, failure-isolated chain of
// shutdown callbacks, and guarantees pipeline cleanup, then room leave,
// then agent cleanup happen in that order exactly once.
package jobcontext

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/jobcontext/iface"
	"github.com/beluga-voice/agentrt/o11y"
	provideriface "github.com/beluga-voice/agentrt/provider/iface"
)

// Error codes for jobcontext operations.
const (
	ErrCodeRoomBuild     core.ErrorCode = "room_build_failed"
	ErrCodeWaitTimeout   core.ErrorCode = "wait_for_participant_timeout"
	ErrCodeSessionStart  core.ErrorCode = "session_start_failed"
	ErrCodeRoomLeave     core.ErrorCode = "room_leave_failed"
	ErrCodeCallbackPanic core.ErrorCode = "shutdown_callback_panic"
)

// ShutdownCallback is one entry in the ordered shutdown chain. It is always
// invoked, even if an earlier callback failed or panicked.
type ShutdownCallback func(ctx context.Context) error

// Context is the per-job handle described by Job Context. The zero value
// is not usable; construct with New.
type Context struct {
	roomFactory iface.RoomFactory
	roomOpts    iface.RoomOptions
	logger      *o11y.Logger

	autoEnd        bool
	sessionTimeout time.Duration

	mu           sync.Mutex
	room         provideriface.Room
	callbacks    []ShutdownCallback
	shutdown     bool
	participants int
	endTimer     *time.Timer
	done         chan struct{}
	doneOnce     sync.Once
}

// Option configures a Context.
type Option = core.Option

type config struct {
	roomFactory    iface.RoomFactory
	roomOpts       iface.RoomOptions
	logger         *o11y.Logger
	autoEnd        bool
	sessionTimeout time.Duration
}

func asConfig(target any) *config { return target.(*config) }

// WithRoomFactory sets the factory used to materialize the job's Room.
func WithRoomFactory(f iface.RoomFactory) Option {
	return core.OptionFunc(func(target any) { asConfig(target).roomFactory = f })
}

// WithRoomOptions sets the room_id/console/wait-for-participant options.
func WithRoomOptions(opts iface.RoomOptions) Option {
	return core.OptionFunc(func(target any) { asConfig(target).roomOpts = opts })
}

// WithLogger overrides the Context's logger.
func WithLogger(l *o11y.Logger) Option {
	return core.OptionFunc(func(target any) { asConfig(target).logger = l })
}

// WithAutoEndSession ends the session after timeout once the last non-agent
// participant has left the room. A timeout of zero ends it immediately. Any
// participant joining before the deadline cancels the scheduled end.
func WithAutoEndSession(timeout time.Duration) Option {
	return core.OptionFunc(func(target any) {
		cfg := asConfig(target)
		cfg.autoEnd = true
		cfg.sessionTimeout = timeout
	})
}

// New constructs a Job Context. Connect must be called before RunUntilShutdown.
func New(opts ...Option) *Context {
	cfg := config{logger: o11y.NewLogger()}
	core.ApplyOptions(&cfg, opts...)

	return &Context{
		roomFactory:    cfg.roomFactory,
		roomOpts:       cfg.roomOpts,
		logger:         cfg.logger,
		autoEnd:        cfg.autoEnd,
		sessionTimeout: cfg.sessionTimeout,
		done:           make(chan struct{}),
	}
}

// Connect builds the Room via the configured RoomFactory. In console mode
// the factory is expected to return a local audio I/O shim instead of a
// networked room; Connect does not distinguish the two cases, it simply
// passes RoomOptions through.
func (c *Context) Connect(ctx context.Context) error {
	if c.roomFactory == nil {
		return core.NewError("jobcontext.connect", ErrCodeRoomBuild, "no room factory configured", nil)
	}
	room, err := c.roomFactory.Build(ctx, c.roomOpts)
	if err != nil {
		return core.NewError("jobcontext.connect", ErrCodeRoomBuild, "failed to build room", err)
	}
	c.mu.Lock()
	c.room = room
	c.mu.Unlock()
	room.OnEvent(c.handleRoomEvent)
	return nil
}

// handleRoomEvent tracks non-agent participant presence and drives the
// auto-end schedule: when the last non-agent participant leaves, the
// session end is scheduled after the configured timeout; a join before
// the deadline cancels it. A meeting_left event ends the session at once.
func (c *Context) handleRoomEvent(ev provideriface.RoomEvent) {
	switch ev.Type {
	case provideriface.RoomEventLeft:
		c.signalEnd()
	case provideriface.RoomEventParticipantJoined:
		if ev.Participant != nil && ev.Participant.IsAgent {
			return
		}
		c.mu.Lock()
		c.participants++
		if c.endTimer != nil {
			c.endTimer.Stop()
			c.endTimer = nil
		}
		c.mu.Unlock()
	case provideriface.RoomEventParticipantLeft:
		if ev.Participant != nil && ev.Participant.IsAgent {
			return
		}
		c.mu.Lock()
		if c.participants > 0 {
			c.participants--
		}
		if !c.autoEnd || c.participants > 0 || c.shutdown {
			c.mu.Unlock()
			return
		}
		if c.sessionTimeout <= 0 {
			c.mu.Unlock()
			c.signalEnd()
			return
		}
		if c.endTimer != nil {
			c.endTimer.Stop()
		}
		c.endTimer = time.AfterFunc(c.sessionTimeout, c.signalEnd)
		c.mu.Unlock()
	}
}

func (c *Context) signalEnd() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Room returns the connected Room, or nil if Connect has not been called.
func (c *Context) Room() provideriface.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// AddShutdownCallback appends fn to the ordered shutdown chain. Callbacks
// run in registration order on Shutdown, each isolated from the others'
// panics and errors.
func (c *Context) AddShutdownCallback(fn ShutdownCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, fn)
}

// RunUntilShutdown is the canonical Job Context lifecycle: connect the
// room, install a session-end callback that signals local completion,
// optionally wait for one participant to join, start the session, then
// block until the session ends or ctx is cancelled. On any exit path it
// closes the session and then the context, in that order.
func (c *Context) RunUntilShutdown(ctx context.Context, session iface.Session, waitForParticipant bool) error {
	if err := c.Connect(ctx); err != nil {
		_ = session.Close(ctx)
		_ = c.Shutdown(ctx)
		return err
	}

	session.OnSessionEnd(c.signalEnd)

	if waitForParticipant {
		room := c.Room()
		if room != nil {
			if _, err := room.WaitForParticipant(ctx, c.roomOpts.WaitForParticipantID); err != nil {
				_ = session.Close(ctx)
				_ = c.Shutdown(ctx)
				return core.NewError("jobcontext.run_until_shutdown", ErrCodeWaitTimeout,
					"timed out waiting for participant", err)
			}
		}
	}

	if err := session.Start(ctx); err != nil {
		_ = session.Close(ctx)
		_ = c.Shutdown(ctx)
		return core.NewError("jobcontext.run_until_shutdown", ErrCodeSessionStart, "session failed to start", err)
	}

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case <-c.done:
	}

	closeErr := session.Close(ctx)
	shutdownErr := c.Shutdown(ctx)

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return closeErr
	}
	return shutdownErr
}

// Shutdown leaves the room, then runs every registered callback in order,
// isolating each from the others' panics and errors. Together with the
// session close that RunUntilShutdown performs first, teardown is
// pipeline cleanup, then room leave, then agent cleanup. It is
// idempotent: calling it more than once after the first call returns nil
// immediately.
func (c *Context) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	callbacks := append([]ShutdownCallback{}, c.callbacks...)
	room := c.room
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
	c.mu.Unlock()

	c.signalEnd()

	var errs []error
	if room != nil {
		if err := room.Leave(ctx); err != nil {
			errs = append(errs, core.NewError("jobcontext.shutdown", ErrCodeRoomLeave, "failed to leave room", err))
		}
	}

	for i, cb := range callbacks {
		if err := c.runIsolated(ctx, cb); err != nil {
			c.logger.Error(ctx, fmt.Sprintf("shutdown callback %d failed", i), "error", err)
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// runIsolated invokes cb, converting any panic into an error so that one
// misbehaving callback never prevents the rest of the chain from running.
func (c *Context) runIsolated(ctx context.Context, cb ShutdownCallback) (err error) {
	if cb == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = core.NewError("jobcontext.shutdown_callback", ErrCodeCallbackPanic,
				fmt.Sprintf("shutdown callback panicked: %v", r), nil)
		}
	}()
	return cb(ctx)
}

// IsShuttingDown reports whether Shutdown has been invoked.
func (c *Context) IsShuttingDown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shutdown
}
