// Package cascading implements the Cascading Pipeline & Conversation Flow
// (C5): the turn state machine that coordinates independent STT, VAD, EOU,
// LLM, and TTS provider engines into a single spoken conversation, with
// barge-in and tool-calling support.
package cascading

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/chatctx"
	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/metrics"
	"github.com/beluga-voice/agentrt/o11y"
	iface "github.com/beluga-voice/agentrt/provider/iface"
	"github.com/beluga-voice/agentrt/resilience"
	"github.com/beluga-voice/agentrt/schema"
)

// Error codes for cascading pipeline operations.
const (
	ErrCodeNoSTT          core.ErrorCode = "no_stt_configured"
	ErrCodeNoLLM          core.ErrorCode = "no_llm_configured"
	ErrCodeNoTTS          core.ErrorCode = "no_tts_configured"
	ErrCodeNoRoom         core.ErrorCode = "no_room_configured"
	ErrCodeIngressAudio   core.ErrorCode = "audio_ingress_failed"
	ErrCodeToolNotFound   core.ErrorCode = "tool_not_found"
	ErrCodeEmptyComponent core.ErrorCode = "component_kind_unsupported"
)

// state is the user-speech turn state machine's current phase.
type state int

const (
	stateIdle state = iota
	stateWaiting
	stateResponding
)

const (
	defaultWaitTimeout        = 800 * time.Millisecond
	defaultTTSChannelCapacity = 50
	defaultBargeInGraceDeadline = 500 * time.Millisecond
)

// ToolExecutor invokes a tool by name against the caller's tool set.
type ToolExecutor func(ctx context.Context, name, arguments string) (string, error)

// ComponentKind identifies a hot-swappable engine.
type ComponentKind string

const (
	ComponentSTT ComponentKind = "stt"
	ComponentLLM ComponentKind = "llm"
	ComponentTTS ComponentKind = "tts"
)

// Option configures a Session.
type Option = core.Option

type config struct {
	stt     iface.STT
	llm     iface.LLM
	tts     iface.TTS
	vad     iface.VAD
	eou     iface.EOU
	denoise func(pcm []byte) []byte

	room iface.Room
	voice string

	backgroundAudio BackgroundAudioConfig

	tools        []iface.ToolDefinition
	toolExecutor ToolExecutor

	chatCtx *chatctx.Context

	collector *metrics.Collector
	logger    *o11y.Logger

	waitTimeout        time.Duration
	ttsChannelCapacity int
	bargeInGraceWindow time.Duration
}

func asConfig(target any) *config { return target.(*config) }

func WithSTT(s iface.STT) Option { return core.OptionFunc(func(t any) { asConfig(t).stt = s }) }
func WithLLM(l iface.LLM) Option { return core.OptionFunc(func(t any) { asConfig(t).llm = l }) }
func WithTTS(s iface.TTS) Option { return core.OptionFunc(func(t any) { asConfig(t).tts = s }) }
func WithVAD(v iface.VAD) Option { return core.OptionFunc(func(t any) { asConfig(t).vad = v }) }
func WithEOU(e iface.EOU) Option { return core.OptionFunc(func(t any) { asConfig(t).eou = e }) }

// WithDenoise installs a synchronous denoising transform applied to every
// ingress audio frame before it reaches STT/VAD.
func WithDenoise(fn func(pcm []byte) []byte) Option {
	return core.OptionFunc(func(t any) { asConfig(t).denoise = fn })
}

// WithRoom sets the Room the pipeline publishes/subscribes audio through.
func WithRoom(r iface.Room) Option { return core.OptionFunc(func(t any) { asConfig(t).room = r }) }

// WithVoice sets the TTS voice identifier passed to Synthesize.
func WithVoice(voice string) Option {
	return core.OptionFunc(func(t any) { asConfig(t).voice = voice })
}

// WithBackgroundAudio installs a looping filler clip played while the agent
// composes a reply, stopped automatically at the first TTS audio byte or
// on barge-in.
func WithBackgroundAudio(cfg BackgroundAudioConfig) Option {
	return core.OptionFunc(func(t any) { asConfig(t).backgroundAudio = cfg })
}

// WithTools registers the tool set the LLM may call and the executor that
// runs them by name.
func WithTools(defs []iface.ToolDefinition, exec ToolExecutor) Option {
	return core.OptionFunc(func(t any) {
		asConfig(t).tools = defs
		asConfig(t).toolExecutor = exec
	})
}

// WithChatContext installs the agent's Chat Context. If unset, a fresh
// context with no system prompt is created.
func WithChatContext(cc *chatctx.Context) Option {
	return core.OptionFunc(func(t any) { asConfig(t).chatCtx = cc })
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

// WithWaitTimeout overrides the EOU-pending wait timer (default 800ms).
func WithWaitTimeout(d time.Duration) Option {
	return core.OptionFunc(func(t any) { asConfig(t).waitTimeout = d })
}

// WithTTSChannelCapacity overrides the LLM-to-TTS bridge channel capacity
// (default 50 chunks).
func WithTTSChannelCapacity(n int) Option {
	return core.OptionFunc(func(t any) { asConfig(t).ttsChannelCapacity = n })
}

// WithBargeInGraceWindow overrides the soft deadline given to the
// collector/TTS-consumer tasks to wind down after an interruption
// (default 500ms).
func WithBargeInGraceWindow(d time.Duration) Option {
	return core.OptionFunc(func(t any) { asConfig(t).bargeInGraceWindow = d })
}

// Session is the Conversation Flow runtime: it owns the Chat Context and
// the current Turn, and drives the user-speech state machine described by
// the cascading pipeline's design.
type Session struct {
	stt iface.STT
	llm iface.LLM
	tts iface.TTS
	vad iface.VAD
	eou iface.EOU

	denoise func(pcm []byte) []byte
	room    iface.Room
	voice   string
	bgAudio *backgroundAudio

	tools        []iface.ToolDefinition
	toolExecutor ToolExecutor

	logger    *o11y.Logger
	collector *metrics.Collector

	llmBreaker *resilience.CircuitBreaker

	waitTimeout        time.Duration
	ttsChannelCapacity int
	bargeInGraceWindow time.Duration

	mu sync.Mutex

	sttLock sync.Mutex
	llmLock sync.Mutex
	ttsLock sync.Mutex

	chatCtx           *chatctx.Context
	st                state
	accumulated       strings.Builder
	turnUserSpeechAt  time.Time
	sttStartedAt      time.Time
	sttSpan           o11y.Span
	eouStartedAt      time.Time
	eouEndedAt        time.Time
	waitTimer         *time.Timer
	replyInProgress   bool
	currentTurn       *metrics.Turn
	interrupted       bool
	respondCancel     context.CancelFunc
	turnsCtx          context.Context
	ingestSuppressed bool

	sessionEndOnce sync.Once
	sessionEndCb   func()
	done           chan struct{}
}

// New constructs a cascading pipeline Session. STT, LLM, and TTS are
// required; VAD, EOU, and denoise are optional.
func New(opts ...Option) (*Session, error) {
	cfg := config{
		logger:             o11y.NewLogger(),
		waitTimeout:        defaultWaitTimeout,
		ttsChannelCapacity: defaultTTSChannelCapacity,
		bargeInGraceWindow: defaultBargeInGraceDeadline,
	}
	core.ApplyOptions(&cfg, opts...)

	if cfg.stt == nil {
		return nil, core.NewError("cascading.new", ErrCodeNoSTT, "no STT engine configured", nil)
	}
	if cfg.llm == nil {
		return nil, core.NewError("cascading.new", ErrCodeNoLLM, "no LLM engine configured", nil)
	}
	if cfg.tts == nil {
		return nil, core.NewError("cascading.new", ErrCodeNoTTS, "no TTS engine configured", nil)
	}
	if cfg.chatCtx == nil {
		cfg.chatCtx = chatctx.New("")
	}
	if cfg.collector == nil {
		cfg.collector = metrics.NewCollector(cfg.logger, nil)
	}

	s := &Session{
		stt: cfg.stt, llm: cfg.llm, tts: cfg.tts, vad: cfg.vad, eou: cfg.eou,
		denoise: cfg.denoise, room: cfg.room, voice: cfg.voice,
		tools: cfg.tools, toolExecutor: cfg.toolExecutor,
		logger: cfg.logger, collector: cfg.collector,
		waitTimeout: cfg.waitTimeout, ttsChannelCapacity: cfg.ttsChannelCapacity,
		bargeInGraceWindow: cfg.bargeInGraceWindow,
		llmBreaker:         resilience.NewCircuitBreaker(0, 0),
		chatCtx:            cfg.chatCtx,
		st:                 stateIdle,
		done:               make(chan struct{}),
	}
	if len(cfg.backgroundAudio.PCM) > 0 {
		s.bgAudio = newBackgroundAudio(cfg.backgroundAudio)
	}
	return s, nil
}

// OnSessionEnd registers the callback invoked when the session ends on its
// own. Satisfies jobcontext/iface.Session.
func (s *Session) OnSessionEnd(cb func()) {
	s.mu.Lock()
	s.sessionEndCb = cb
	s.mu.Unlock()
}

// Start wires transcript and VAD callbacks and begins the audio ingress
// loop. Satisfies jobcontext/iface.Session.
func (s *Session) Start(ctx context.Context) error {
	turnsCtx := ctx
	if s.collector != nil {
		turnsCtx = s.collector.StartSession(ctx, "cascading", "", nil)
	}
	s.turnsCtx = turnsCtx

	s.stt.OnTranscript(s.handleTranscriptEvent)
	if s.vad != nil {
		s.vad.OnEvent(s.handleVADEvent)
	}

	if s.room == nil {
		return nil
	}

	go s.runIngress(ctx)
	return nil
}

// Close releases provider resources. Satisfies jobcontext/iface.Session.
func (s *Session) Close(ctx context.Context) error {
	s.dropSTTSpan()

	s.mu.Lock()
	if s.waitTimer != nil {
		s.waitTimer.Stop()
	}
	if s.collector != nil {
		s.collector.Shutdown()
	}
	s.mu.Unlock()

	s.signalEnd()
	return s.stt.Close(ctx)
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

// runIngress pulls audio frames off the room and feeds STT/VAD, off the
// room's own receive path so a slow provider never backs up media.
func (s *Session) runIngress(ctx context.Context) {
	ingress, err := s.roomIngress(ctx)
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
		s.ingestFrame(ctx, frame.PCM)
	}
}

// roomIngress resolves the single-participant ingress stream used by a
// one-on-one voice session; multi-participant mixing is out of scope.
func (s *Session) roomIngress(ctx context.Context) (iface.AudioIngress, error) {
	p, err := s.room.WaitForParticipant(ctx, "")
	if err != nil {
		return nil, err
	}
	return s.room.AudioIngress(p)
}

func (s *Session) ingestFrame(ctx context.Context, pcm []byte) {
	s.mu.Lock()
	suppressed := s.ingestSuppressed
	s.mu.Unlock()
	if suppressed {
		return
	}

	if s.denoise != nil {
		pcm = s.denoise(pcm)
	}

	s.sttLock.Lock()
	err := s.stt.ProcessAudio(ctx, pcm)
	s.sttLock.Unlock()
	if err != nil {
		s.recordError(ctx, "STT", err)
	}

	if s.vad != nil {
		if err := s.vad.ProcessAudio(ctx, pcm); err != nil {
			s.recordError(ctx, "VAD", err)
		}
	}
}

func (s *Session) recordError(ctx context.Context, source string, err error) {
	s.mu.Lock()
	turn := s.currentTurn
	s.mu.Unlock()
	if turn != nil {
		turn.RecordError(source, err)
	}
	s.logger.Error(ctx, fmt.Sprintf("%s provider error", source), "error", err)
}

// handleVADEvent implements the barge-in trigger and user-speech-start
// bookkeeping.
func (s *Session) handleVADEvent(ev iface.VADEvent) {
	ctx := context.Background()
	switch ev.Event {
	case iface.VADSpeechStart:
		s.mu.Lock()
		switch s.st {
		case stateIdle:
			s.turnUserSpeechAt = time.Now()
		case stateWaiting:
			if s.waitTimer != nil {
				s.waitTimer.Stop()
			}
		case stateResponding:
			s.mu.Unlock()
			s.bargeIn(ctx)
			return
		}
		s.mu.Unlock()
	case iface.VADSpeechEnd:
		// Finalization stays transcript/EOU driven; speech-end only marks
		// where STT recognition of the utterance begins.
		s.mu.Lock()
		if s.sttStartedAt.IsZero() {
			s.sttStartedAt = time.Now()
			_, s.sttSpan = o11y.StartSpan(s.turnsCtx, "STT", nil)
		}
		s.mu.Unlock()
	}
}

// recordSTT closes the open STT span, if any, and stamps the STT leg onto
// turn. The span opens at VAD speech-end and closes when the accumulated
// transcript is finalized.
func (s *Session) recordSTT(turn *metrics.Turn) {
	s.mu.Lock()
	start := s.sttStartedAt
	span := s.sttSpan
	s.sttStartedAt = time.Time{}
	s.sttSpan = nil
	s.mu.Unlock()

	if start.IsZero() {
		return
	}
	if span != nil {
		span.SetStatus(o11y.StatusOK, "")
		span.End()
	}
	turn.RecordSTT(start, time.Now())
}

// recordEOU stamps the buffered EOU leg onto turn. Several EOU queries in
// one accumulation window collapse to first-start/last-end.
func (s *Session) recordEOU(turn *metrics.Turn) {
	s.mu.Lock()
	start, end := s.eouStartedAt, s.eouEndedAt
	s.eouStartedAt, s.eouEndedAt = time.Time{}, time.Time{}
	s.mu.Unlock()

	if start.IsZero() {
		return
	}
	turn.RecordEOU(start, end)
}

// dropSTTSpan abandons an open STT span without recording it, for paths
// where the utterance never finalizes (barge-in mid-wait, session close).
func (s *Session) dropSTTSpan() {
	s.mu.Lock()
	span := s.sttSpan
	s.sttStartedAt = time.Time{}
	s.sttSpan = nil
	s.eouStartedAt = time.Time{}
	s.eouEndedAt = time.Time{}
	s.mu.Unlock()
	if span != nil {
		span.End()
	}
}

// handleTranscriptEvent implements the accumulated-transcript and
// EOU-debounce rule.
func (s *Session) handleTranscriptEvent(ev iface.STTEvent) {
	if ev.Type != iface.STTEventFinal {
		return
	}
	ctx := context.Background()

	s.mu.Lock()
	if s.turnUserSpeechAt.IsZero() {
		s.turnUserSpeechAt = time.Now()
	}
	if s.accumulated.Len() > 0 {
		s.accumulated.WriteString(" ")
	}
	s.accumulated.WriteString(ev.Text)
	accumulated := s.accumulated.String()
	s.st = stateWaiting
	s.mu.Unlock()

	if s.eou == nil {
		s.finalizeAndRespond(ctx, accumulated)
		return
	}

	messages := append(s.chatCtx.ToMessages(), schema.NewHumanMessage(accumulated))

	start := time.Now()
	spanCtx, span := o11y.StartSpan(s.turnsCtx, "EOU", nil)
	done, eouErr := s.eou.DetectEndOfUtterance(spanCtx, messages, nil)
	end := time.Now()
	if eouErr != nil {
		span.RecordError(eouErr)
		span.SetStatus(o11y.StatusError, eouErr.Error())
	} else {
		span.SetStatus(o11y.StatusOK, "")
	}
	span.End()

	// The Turn does not exist until finalization; buffer the EOU leg the
	// same way the open STT span is buffered, and stamp it in recordEOU.
	s.mu.Lock()
	if s.eouStartedAt.IsZero() {
		s.eouStartedAt = start
	}
	s.eouEndedAt = end
	s.mu.Unlock()

	if eouErr != nil {
		s.recordError(ctx, "TURN-D", eouErr)
		s.armWaitTimer(ctx, accumulated)
		return
	}
	if done {
		s.finalizeAndRespond(ctx, accumulated)
		return
	}
	s.armWaitTimer(ctx, accumulated)
}

func (s *Session) armWaitTimer(ctx context.Context, accumulated string) {
	s.mu.Lock()
	if s.waitTimer != nil {
		s.waitTimer.Stop()
	}
	s.waitTimer = time.AfterFunc(s.waitTimeout, func() {
		s.finalizeAndRespond(ctx, accumulated)
	})
	s.mu.Unlock()
}

// finalizeAndRespond implements `_finalize_transcript_and_respond`: it
// resets the accumulator, appends the transcript as a User message, and
// spawns the (at most one concurrent) response task.
func (s *Session) finalizeAndRespond(ctx context.Context, text string) {
	trimmed := strings.TrimSpace(text)

	s.mu.Lock()
	if trimmed == "" {
		s.accumulated.Reset()
		s.st = stateIdle
		s.mu.Unlock()
		return
	}
	if s.replyInProgress {
		s.mu.Unlock()
		return
	}
	if s.waitTimer != nil {
		s.waitTimer.Stop()
		s.waitTimer = nil
	}
	s.accumulated.Reset()
	s.st = stateResponding
	s.replyInProgress = true
	s.interrupted = false
	userSpeechStart := s.turnUserSpeechAt
	s.turnUserSpeechAt = time.Time{}
	s.mu.Unlock()

	s.chatCtx.AppendUser(trimmed)

	var turn *metrics.Turn
	turnCtx := ctx
	if s.collector != nil {
		turnCtx, turn = s.collector.StartTurn(s.turnsCtx, userSpeechStart)
	} else {
		turn = metrics.NewTurn(1, userSpeechStart)
	}
	turn.UserSpeechEnd = time.Now()
	s.recordSTT(turn)
	s.recordEOU(turn)

	if s.collector != nil {
		s.collector.RecordUserSpeech(turnCtx, turn, userSpeechStart, turn.UserSpeechEnd, trimmed)
	}

	s.mu.Lock()
	s.currentTurn = turn
	respondCtx, cancel := context.WithCancel(turnCtx)
	s.respondCancel = cancel
	s.mu.Unlock()

	go s.respond(respondCtx, turn)
}

// respond drives response generation: it opens an LLM stream, bridges
// tokens to TTS through a bounded channel, executes any tool calls
// mid-stream, and finalizes the Turn on completion or interruption.
func (s *Session) respond(ctx context.Context, turn *metrics.Turn) {
	defer s.endResponse(turn)

	var fullText strings.Builder
	messages := s.chatCtx.ToMessages()
	agentSpeechStart := time.Now()

	s.bgAudio.start(s.roomSink())

	for {
		chunks := make(chan string, s.ttsChannelCapacity)
		var ttsWG sync.WaitGroup
		ttsWG.Add(1)
		go s.consumeTTS(ctx, turn, chunks, &ttsWG)

		toolCall, err := s.streamLLM(ctx, turn, messages, &fullText, chunks)
		close(chunks)
		ttsWG.Wait()

		if err != nil {
			// streamLLM already attached the error to the turn via the
			// LLM engine span; just log it here.
			s.logger.Error(ctx, "LLM provider error", "error", err)
			return
		}
		if toolCall == nil {
			break
		}

		s.chatCtx.AppendFunctionCall(toolCall.Name, toolCall.Arguments, toolCall.ID)
		result, toolErr := s.runTool(ctx, turn, *toolCall)
		isError := toolErr != nil
		if isError {
			result = toolErr.Error()
		}
		_ = s.chatCtx.AppendFunctionCallOutput(toolCall.Name, toolCall.ID, result, isError)
		messages = s.chatCtx.ToMessages()
	}

	s.mu.Lock()
	interrupted := s.interrupted
	s.mu.Unlock()

	if !interrupted && fullText.Len() > 0 {
		s.chatCtx.AppendAssistant(fullText.String())
		if s.collector != nil {
			s.collector.RecordAgentSpeech(ctx, turn, agentSpeechStart, time.Now(), fullText.String())
		}
	}
	turn.Interrupted = interrupted
}

// streamLLM consumes one LLM.Chat stream, forwarding text deltas to
// chunks and accumulating fullText, and returns the first tool call it
// observes (if any) without waiting for the stream to end.
func (s *Session) streamLLM(ctx context.Context, turn *metrics.Turn, messages []schema.Message, fullText *strings.Builder, chunks chan<- string) (*schema.ToolCall, error) {
	var toolCall *schema.ToolCall
	seg := newSegmenter()

	spanErr := s.collector.EngineSpan(ctx, turn, "LLM", "LLM", turn.RecordLLM, func(ctx context.Context) error {
		s.llmLock.Lock()
		streamAny, err := s.llmBreaker.Execute(ctx, func(ctx context.Context) (any, error) {
			return s.llm.Chat(ctx, messages, s.tools)
		})
		s.llmLock.Unlock()
		if err != nil {
			return err
		}
		stream := streamAny.(iface.Stream[schema.StreamChunk])

		var streamErr error
		stream(func(chunk schema.StreamChunk, err error) bool {
			if err != nil {
				streamErr = err
				return false
			}
			if len(chunk.ToolCalls) > 0 {
				tc := chunk.ToolCalls[0]
				toolCall = &tc
				return false
			}
			if chunk.Delta != "" {
				fullText.WriteString(chunk.Delta)
				for _, piece := range seg.Feed(chunk.Delta) {
					select {
					case chunks <- piece:
					case <-ctx.Done():
						return false
					}
				}
			}
			return true
		})

		for _, piece := range seg.Flush() {
			select {
			case chunks <- piece:
			case <-ctx.Done():
			}
		}
		return streamErr
	})

	return toolCall, spanErr
}

// consumeTTS reads segmented text off chunks and feeds it to TTS.Synthesize
// as a re-yielded text stream, recording TTFB and overall TTS timing.
func (s *Session) consumeTTS(ctx context.Context, turn *metrics.Turn, chunks <-chan string, wg *sync.WaitGroup) {
	defer wg.Done()

	start := time.Now()
	s.tts.ResetFirstAudioTracking()
	s.tts.OnFirstAudioByte(func() {
		s.bgAudio.stop()
		turn.RecordTTFB(time.Since(start))
	})

	textStream := func(yield func(string, error) bool) {
		for piece := range chunks {
			if !yield(piece, nil) {
				return
			}
		}
	}

	_ = s.collector.EngineSpan(ctx, turn, "TTS", "TTS", turn.RecordTTS, func(ctx context.Context) error {
		s.ttsLock.Lock()
		defer s.ttsLock.Unlock()
		return s.tts.Synthesize(ctx, textStream, s.voice, s.roomSink())
	})
}

func (s *Session) roomSink() iface.AudioSink {
	if s.room == nil {
		return noopSink{}
	}
	return s.room.AudioEgress()
}

type noopSink struct{}

func (noopSink) AddBytes(pcm []byte) error { return nil }

func (s *Session) runTool(ctx context.Context, turn *metrics.Turn, call schema.ToolCall) (string, error) {
	if s.toolExecutor == nil {
		return "", core.NewError("cascading.run_tool", ErrCodeToolNotFound, fmt.Sprintf("no tool executor configured for %q", call.Name), nil)
	}
	if s.collector != nil {
		return s.collector.ToolSpan(ctx, turn, call.Name, func(ctx context.Context) (string, error) {
			return s.toolExecutor(ctx, call.Name, call.Arguments)
		})
	}
	result, err := s.toolExecutor(ctx, call.Name, call.Arguments)
	turn.RecordTool(metrics.ToolCallRecord{Name: call.Name, Args: call.Arguments, Result: result, IsError: err != nil})
	return result, err
}

func (s *Session) endResponse(turn *metrics.Turn) {
	s.bgAudio.stop()

	s.mu.Lock()
	s.replyInProgress = false
	s.st = stateIdle
	s.currentTurn = nil
	s.respondCancel = nil
	s.mu.Unlock()

	if s.collector != nil {
		s.collector.FinishTurn(turn)
	}
}

// bargeIn implements the interruption sequence: stop background audio,
// mark the turn interrupted, cancel the wait timer, interrupt the TTS
// track and cancel the LLM stream, then grant the in-flight collector and
// TTS-consumer tasks a soft deadline to wind down.
func (s *Session) bargeIn(ctx context.Context) {
	s.bgAudio.stop()
	s.dropSTTSpan()

	if s.room != nil {
		s.room.AudioEgress().Interrupt()
	}

	s.mu.Lock()
	s.interrupted = true
	if s.waitTimer != nil {
		s.waitTimer.Stop()
	}
	cancel := s.respondCancel
	turn := s.currentTurn
	s.mu.Unlock()

	s.tts.Interrupt()
	s.llm.CancelCurrent()

	if turn != nil {
		turn.Interrupted = true
	}

	if cancel != nil {
		go func() {
			time.Sleep(s.bargeInGraceWindow)
			cancel()
		}()
	}

	s.mu.Lock()
	s.st = stateIdle
	s.mu.Unlock()
}

// Reply implements reply-with-context (`session.reply(instructions)`): it
// appends instructions as a User message and runs response generation
// once, outside the mic-driven flow. If waitForPlayback is true, VAD/STT
// ingestion is suppressed until the reply finishes so it cannot be
// interrupted.
func (s *Session) Reply(ctx context.Context, instructions string, waitForPlayback bool) error {
	s.mu.Lock()
	if s.replyInProgress {
		s.mu.Unlock()
		return nil
	}
	if waitForPlayback {
		s.ingestSuppressed = true
	}
	s.mu.Unlock()

	s.finalizeAndRespond(ctx, instructions)

	if !waitForPlayback {
		return nil
	}

	for {
		s.mu.Lock()
		done := !s.replyInProgress
		s.mu.Unlock()
		if done {
			break
		}
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.ingestSuppressed = false
			s.mu.Unlock()
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.mu.Lock()
	s.ingestSuppressed = false
	s.mu.Unlock()
	return nil
}

// ChangeComponent hot-swaps the STT, LLM, or TTS engine at runtime, under
// the component's dedicated lock, and re-registers the STT transcript
// callback when applicable.
func (s *Session) ChangeComponent(ctx context.Context, kind ComponentKind, newEngine any) error {
	switch kind {
	case ComponentSTT:
		engine, ok := newEngine.(iface.STT)
		if !ok {
			return core.NewError("cascading.change_component", ErrCodeEmptyComponent, "engine does not implement STT", nil)
		}
		s.sttLock.Lock()
		defer s.sttLock.Unlock()
		_ = s.stt.Close(ctx)
		s.stt = engine
		s.stt.OnTranscript(s.handleTranscriptEvent)
		return nil
	case ComponentLLM:
		engine, ok := newEngine.(iface.LLM)
		if !ok {
			return core.NewError("cascading.change_component", ErrCodeEmptyComponent, "engine does not implement LLM", nil)
		}
		s.llmLock.Lock()
		defer s.llmLock.Unlock()
		s.llm = engine
		s.llmBreaker.Reset()
		return nil
	case ComponentTTS:
		engine, ok := newEngine.(iface.TTS)
		if !ok {
			return core.NewError("cascading.change_component", ErrCodeEmptyComponent, "engine does not implement TTS", nil)
		}
		s.ttsLock.Lock()
		defer s.ttsLock.Unlock()
		s.tts = engine
		return nil
	default:
		return core.NewError("cascading.change_component", ErrCodeEmptyComponent, fmt.Sprintf("unsupported component kind %q", kind), nil)
	}
}
