// Package realtime implements the Realtime Pipeline (C6): a bidirectional
// audio bridge to a single integrated STT+LLM+TTS provider session, with
// tool-call relay and barge-in.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/metrics"
	"github.com/beluga-voice/agentrt/o11y"
	iface "github.com/beluga-voice/agentrt/provider/iface"
)

// Error codes for realtime pipeline operations.
const (
	ErrCodeNoModel      core.ErrorCode = "no_realtime_model_configured"
	ErrCodeNoRoom       core.ErrorCode = "no_room_configured"
	ErrCodeToolNotFound core.ErrorCode = "tool_not_found"
)

// ToolExecutor invokes a tool by name against the caller's tool set.
type ToolExecutor func(ctx context.Context, name, arguments string) (string, error)

const defaultFinalizationDebounce = time.Second

// Option configures a Session.
type Option = core.Option

type config struct {
	model iface.RealtimeModel
	room  iface.Room

	toolExecutor ToolExecutor

	collector            *metrics.Collector
	logger               *o11y.Logger
	finalizationDebounce time.Duration
}

func asConfig(target any) *config { return target.(*config) }

// WithModel sets the integrated realtime provider session.
func WithModel(m iface.RealtimeModel) Option {
	return core.OptionFunc(func(t any) { asConfig(t).model = m })
}

// WithRoom sets the Room the pipeline bridges audio through.
func WithRoom(r iface.Room) Option { return core.OptionFunc(func(t any) { asConfig(t).room = r }) }

// WithToolExecutor installs the executor invoked when the provider requests
// a tool call.
func WithToolExecutor(exec ToolExecutor) Option {
	return core.OptionFunc(func(t any) { asConfig(t).toolExecutor = exec })
}

// WithCollector installs the Metrics & Trace Collector driving this
// session's span tree and analytics emission.
func WithCollector(c *metrics.Collector) Option {
	return core.OptionFunc(func(t any) { asConfig(t).collector = c })
}

// WithLogger overrides the Session's logger.
func WithLogger(l *o11y.Logger) Option {
	return core.OptionFunc(func(t any) { asConfig(t).logger = l })
}

// WithFinalizationDebounce overrides the window an agent-speech-end can be
// extended within before the turn is finalized (default 1s).
func WithFinalizationDebounce(d time.Duration) Option {
	return core.OptionFunc(func(t any) { asConfig(t).finalizationDebounce = d })
}

// Session bridges a Room's audio to a single RealtimeModel session,
// relaying speech events and tool calls, and tracking RealtimeTurns.
type Session struct {
	model iface.RealtimeModel
	room  iface.Room

	toolExecutor ToolExecutor
	logger       *o11y.Logger
	collector    *metrics.Collector

	finalizationDebounce time.Duration

	mu             sync.Mutex
	turnsCtx       context.Context
	currentTurn    *metrics.RealtimeTurn
	finalizeTimer  *time.Timer
	agentSpeaking  bool
	sessionEndOnce sync.Once
	sessionEndCb   func()
	done           chan struct{}
}

// New constructs a realtime pipeline Session. Model is required. Room is
// optional: without one, Start connects the model but bridges no room audio.
func New(opts ...Option) (*Session, error) {
	cfg := config{
		logger:               o11y.NewLogger(),
		finalizationDebounce: defaultFinalizationDebounce,
	}
	core.ApplyOptions(&cfg, opts...)

	if cfg.model == nil {
		return nil, core.NewError("realtime.new", ErrCodeNoModel, "no realtime model configured", nil)
	}
	if cfg.collector == nil {
		cfg.collector = metrics.NewCollector(cfg.logger, nil)
	}

	return &Session{
		model: cfg.model, room: cfg.room,
		toolExecutor:         cfg.toolExecutor,
		logger:               cfg.logger,
		collector:            cfg.collector,
		finalizationDebounce: cfg.finalizationDebounce,
		done:                 make(chan struct{}),
	}, nil
}

// OnSessionEnd registers the callback invoked when the session ends on its
// own. Satisfies jobcontext/iface.Session.
func (s *Session) OnSessionEnd(cb func()) {
	s.mu.Lock()
	s.sessionEndCb = cb
	s.mu.Unlock()
}

// Start connects the realtime model, wires its event callback, and begins
// the audio bridge. Satisfies jobcontext/iface.Session.
func (s *Session) Start(ctx context.Context) error {
	turnsCtx := ctx
	if s.collector != nil {
		turnsCtx = s.collector.StartSession(ctx, "realtime", "", nil)
	}
	s.turnsCtx = turnsCtx

	if err := s.model.Connect(ctx); err != nil {
		return err
	}
	s.model.OnEvent(func(ev iface.RealtimeEvent) { s.handleEvent(ctx, ev) })

	if s.room == nil {
		return nil
	}
	go s.runIngress(ctx)
	return nil
}

// Close releases the realtime model session. Satisfies jobcontext/iface.Session.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
	}
	if s.collector != nil {
		s.collector.Shutdown()
	}
	s.mu.Unlock()

	s.signalEnd()
	return s.model.Close(ctx)
}

func (s *Session) signalEnd() {
	s.sessionEndOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		cb := s.sessionEndCb
		s.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (s *Session) runIngress(ctx context.Context) {
	p, err := s.room.WaitForParticipant(ctx, "")
	if err != nil {
		s.logger.Error(ctx, "failed waiting for participant", "error", err)
		return
	}
	ingress, err := s.room.AudioIngress(p)
	if err != nil {
		s.logger.Error(ctx, "failed to open room audio ingress", "error", err)
		return
	}

	for {
		frame, ok, err := ingress.Next(ctx)
		if err != nil {
			s.logger.Error(ctx, "audio ingress error", "error", err)
			return
		}
		if !ok {
			return
		}
		if err := s.model.HandleAudioInput(ctx, frame.PCM); err != nil {
			s.logger.Error(ctx, "realtime model rejected audio frame", "error", err)
		}
	}
}

// handleEvent implements the bidirectional audio bridge's event relay:
// speech-start/-end bookkeeping, barge-in, transcript timeline events,
// and tool-call execution.
func (s *Session) handleEvent(ctx context.Context, ev iface.RealtimeEvent) {
	switch ev.Type {
	case iface.RealtimeUserSpeechStarted:
		s.onUserSpeechStarted(ctx)
	case iface.RealtimeUserSpeechEnded:
		s.onUserSpeechEnded()
	case iface.RealtimeAgentSpeechStarted:
		s.onAgentSpeechStarted()
	case iface.RealtimeAgentSpeechEnded:
		s.onAgentSpeechEnded(ev.Text)
	case iface.RealtimeTranscript:
		s.onTranscript(ctx, ev)
	case iface.RealtimeToolCallEvent:
		if ev.ToolCall != nil {
			go s.handleToolCall(ctx, *ev.ToolCall)
		}
	}
}

func (s *Session) onUserSpeechStarted(ctx context.Context) {
	s.mu.Lock()
	if s.agentSpeaking {
		s.mu.Unlock()
		s.bargeIn(ctx)
		return
	}
	alreadyOpen := s.currentTurn != nil
	s.mu.Unlock()
	if alreadyOpen {
		return
	}

	_, turn := s.collector.StartRealtimeTurn(s.turnsCtx, time.Now())

	s.mu.Lock()
	s.currentTurn = turn
	s.mu.Unlock()
}

func (s *Session) onUserSpeechEnded() {
	s.mu.Lock()
	if s.currentTurn != nil {
		s.currentTurn.UserSpeechEnd = time.Now()
	}
	s.mu.Unlock()
}

func (s *Session) onAgentSpeechStarted() {
	s.mu.Lock()
	s.agentSpeaking = true
	if s.currentTurn != nil && s.currentTurn.AgentSpeechStart.IsZero() {
		s.currentTurn.AgentSpeechStart = time.Now()
		if !s.currentTurn.UserSpeechStart.IsZero() {
			s.currentTurn.TTFB = s.currentTurn.AgentSpeechStart.Sub(s.currentTurn.UserSpeechStart)
		}
	}
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
		s.finalizeTimer = nil
	}
	s.mu.Unlock()
}

// onAgentSpeechEnded marks the provisional end of agent speech and arms a
// debounce timer: a further AgentSpeechStarted before it fires extends the
// turn instead of finalizing it.
func (s *Session) onAgentSpeechEnded(text string) {
	s.mu.Lock()
	s.agentSpeaking = false
	turn := s.currentTurn
	if turn != nil {
		turn.AgentSpeechEnd = time.Now()
		if text != "" {
			ms := 0.0
			turn.AddTimelineEvent(metrics.TimelineEvent{
				Kind: metrics.TimelineAgentSpeech, Start: turn.AgentSpeechStart, End: &turn.AgentSpeechEnd,
				DurationMs: &ms, Text: text,
			})
		}
	}
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
	}
	s.finalizeTimer = time.AfterFunc(s.finalizationDebounce, s.finalizeTurn)
	s.mu.Unlock()
}

func (s *Session) finalizeTurn() {
	s.mu.Lock()
	turn := s.currentTurn
	s.currentTurn = nil
	s.finalizeTimer = nil
	s.mu.Unlock()

	if turn == nil {
		return
	}
	s.collector.FinishRealtimeTurn(turn)
}

func (s *Session) onTranscript(ctx context.Context, ev iface.RealtimeEvent) {
	s.mu.Lock()
	turn := s.currentTurn
	s.mu.Unlock()
	if turn == nil || ev.Text == "" {
		return
	}
	end := time.Now()
	ms := 0.0
	turn.AddTimelineEvent(metrics.TimelineEvent{
		Kind: metrics.TimelineUserSpeech, Start: end, End: &end, DurationMs: &ms, Text: ev.Text,
	})
}

// bargeIn interrupts the agent's audio track and asks the provider to
// cancel, on a user_speech_started event received while the agent is
// speaking.
func (s *Session) bargeIn(ctx context.Context) {
	if s.room != nil {
		s.room.AudioEgress().Interrupt()
	}
	if err := s.model.Interrupt(ctx); err != nil {
		s.logger.Error(ctx, "realtime model interrupt failed", "error", err)
	}

	s.mu.Lock()
	s.agentSpeaking = false
	if s.currentTurn != nil {
		s.currentTurn.Interrupted = true
	}
	s.mu.Unlock()
}

func (s *Session) handleToolCall(ctx context.Context, call iface.RealtimeToolCall) {
	if s.toolExecutor == nil {
		s.logger.Error(ctx, "tool call received with no executor configured", "tool", call.Name)
		return
	}

	s.mu.Lock()
	turn := s.currentTurn
	s.mu.Unlock()

	start := time.Now()
	result, err := s.toolExecutor(ctx, call.Name, call.Arguments)
	if err != nil {
		result = err.Error()
	}
	if turn != nil {
		turn.RecordTool(metrics.ToolCallRecord{
			Name: call.Name, Args: call.Arguments, Result: result, IsError: err != nil,
			Start: start, End: time.Now(),
		})
	}

	if respErr := s.model.RespondToolCall(ctx, call.ID, result); respErr != nil {
		s.logger.Error(ctx, "failed to respond to tool call", "error", respErr, "tool", call.Name)
	}
}
