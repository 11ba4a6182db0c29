package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/o11y"
	"github.com/google/uuid"
)

// Sink receives a flat, camelCase-keyed analytics payload for one
// completed Turn.
type Sink func(payload map[string]any)

// Collector builds the span tree rooted at "Agent Session" and emits
// per-turn analytics payloads. A Collector instance serves one session and
// is shared by the cascading or realtime pipeline driving it; the Turn
// data it produces is single-writer, so the Collector itself does no
// internal locking beyond the turn counter.
type Collector struct {
	logger *o11y.Logger
	sink   Sink

	sessionID string
	provider  string
	system    string

	sessionSpan o11y.Span
	turnsSpan   o11y.Span

	mu                     sync.Mutex
	nextTurnNumber         int
	pendingUserSpeechStart *time.Time
}

// NewCollector constructs a Collector. sink may be nil to discard
// analytics payloads (span export still happens via the o11y tracer).
func NewCollector(logger *o11y.Logger, sink Sink) *Collector {
	if logger == nil {
		logger = o11y.NewLogger()
	}
	return &Collector{logger: logger, sink: sink}
}

// StartSession opens the "Agent Session" -> "Session Configuration" ->
// "Session Started" -> "User & Agent Turns" span chain and returns the
// context to use for every subsequent StartTurn call.
func (c *Collector) StartSession(ctx context.Context, provider, system string, config o11y.Attrs) context.Context {
	c.sessionID = uuid.New().String()
	c.provider, c.system = provider, system

	ctx = core.WithSessionID(ctx, c.sessionID)
	ctx, session := o11y.StartSpan(ctx, "Agent Session", nil)
	c.sessionSpan = session

	cfgCtx, cfgSpan := o11y.StartSpan(ctx, "Session Configuration", config)
	cfgSpan.End()

	startedCtx, startedSpan := o11y.StartSpan(cfgCtx, "Session Started", nil)
	startedSpan.End()

	turnsCtx, turnsSpan := o11y.StartSpan(startedCtx, "User & Agent Turns", nil)
	c.turnsSpan = turnsSpan

	return turnsCtx
}

// Shutdown closes the session-level spans. Call once, after the last turn
// has been finished.
func (c *Collector) Shutdown() {
	if c.turnsSpan != nil {
		c.turnsSpan.End()
	}
	if c.sessionSpan != nil {
		c.sessionSpan.End()
	}
}

// StartTurn opens a new "Turn #N" span under the session's turns span. If
// an earlier turn was discarded, its remembered user-speech-start is
// transplanted onto this turn instead of the current time.
func (c *Collector) StartTurn(ctx context.Context, userSpeechStart time.Time) (context.Context, *Turn) {
	c.mu.Lock()
	c.nextTurnNumber++
	n := c.nextTurnNumber
	if c.pendingUserSpeechStart != nil {
		userSpeechStart = *c.pendingUserSpeechStart
		c.pendingUserSpeechStart = nil
	}
	c.mu.Unlock()

	turn := NewTurn(n, userSpeechStart)
	turn.SessionID = c.sessionID
	turnCtx, span := o11y.StartSpan(ctx, fmt.Sprintf("Turn #%d", n), nil)
	turn.span = span
	return turnCtx, turn
}

// FinishTurn closes the turn's span and, unless the turn must be
// discarded, emits its analytics payload through the Collector's sink. A
// discarded turn's user-speech-start is remembered so the next turn
// inherits it.
func (c *Collector) FinishTurn(turn *Turn) {
	if turn.span != nil {
		turn.span.End()
	}

	if turn.Discard() {
		c.mu.Lock()
		if c.pendingUserSpeechStart == nil {
			start := turn.UserSpeechStart
			c.pendingUserSpeechStart = &start
		}
		c.mu.Unlock()
		return
	}

	if c.sink != nil {
		c.sink(c.buildPayload(turn))
	}
}

// StartRealtimeTurn opens a new "Turn #N" span for the realtime pipeline,
// sharing the same turn counter and carried-over user-speech-start
// bookkeeping as StartTurn.
func (c *Collector) StartRealtimeTurn(ctx context.Context, userSpeechStart time.Time) (context.Context, *RealtimeTurn) {
	c.mu.Lock()
	c.nextTurnNumber++
	n := c.nextTurnNumber
	if c.pendingUserSpeechStart != nil {
		userSpeechStart = *c.pendingUserSpeechStart
		c.pendingUserSpeechStart = nil
	}
	c.mu.Unlock()

	turn := NewRealtimeTurn(n, userSpeechStart)
	turn.SessionID = c.sessionID
	turnCtx, span := o11y.StartSpan(ctx, fmt.Sprintf("Turn #%d", n), nil)
	turn.span = span
	return turnCtx, turn
}

// FinishRealtimeTurn closes the turn's span and, unless the turn must be
// discarded, emits its analytics payload.
func (c *Collector) FinishRealtimeTurn(turn *RealtimeTurn) {
	if turn.span != nil {
		turn.span.End()
	}

	if turn.Discard() {
		c.mu.Lock()
		if c.pendingUserSpeechStart == nil {
			start := turn.UserSpeechStart
			c.pendingUserSpeechStart = &start
		}
		c.mu.Unlock()
		return
	}

	if c.sink != nil {
		c.sink(c.buildRealtimePayload(turn))
	}
}

// buildRealtimePayload mirrors buildPayload for the realtime Turn shape.
func (c *Collector) buildRealtimePayload(turn *RealtimeTurn) map[string]any {
	payload := map[string]any{
		"sessionId":    turn.SessionID,
		"turnNumber":   turn.Number,
		"e2eLatencyMs": turn.E2ELatencyMs(),
		"interrupted":  turn.Interrupted,
	}
	if turn.TTFB > 0 {
		payload["ttfbMs"] = roundMs(turn.TTFB)
	}
	if turn.ThinkingDelay > 0 {
		payload["thinkingDelayMs"] = roundMs(turn.ThinkingDelay)
	}
	if len(turn.ToolsCalled) > 0 {
		names := make([]string, len(turn.ToolsCalled))
		for i, tc := range turn.ToolsCalled {
			names[i] = tc.Name
		}
		payload["toolsCalled"] = names
	}
	if turn.Number == 1 {
		if c.provider != "" {
			payload["provider"] = c.provider
		}
		if c.system != "" {
			payload["system"] = c.system
		}
	}
	return payload
}

// EngineSpan runs fn under a named child span of turnCtx, records its
// start/end via recorder, and attaches any returned error to the turn
// under source.
func (c *Collector) EngineSpan(ctx context.Context, turn *Turn, name, source string, recorder func(start, end time.Time), fn func(ctx context.Context) error) error {
	start := time.Now()
	spanCtx, span := o11y.StartSpan(ctx, name, nil)
	err := fn(spanCtx)
	end := time.Now()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(o11y.StatusError, err.Error())
		turn.RecordError(source, err)
	} else {
		span.SetStatus(o11y.StatusOK, "")
	}
	span.End()

	recorder(start, end)
	return err
}

// ToolSpan runs fn under a "tool:<name>" child span (nested under the LLM
// span by construction, since tool calls happen mid-stream), and records
// the resulting ToolCallRecord on the turn.
func (c *Collector) ToolSpan(ctx context.Context, turn *Turn, name string, fn func(ctx context.Context) (string, error)) (string, error) {
	start := time.Now()
	spanCtx, span := o11y.StartSpan(ctx, "tool:"+name, o11y.Attrs{o11y.AttrToolName: name})
	result, err := fn(spanCtx)
	end := time.Now()

	rec := ToolCallRecord{Name: name, Result: result, Start: start, End: end}
	if err != nil {
		rec.IsError = true
		rec.Result = err.Error()
		span.RecordError(err)
		span.SetStatus(o11y.StatusError, err.Error())
		turn.RecordError("LLM", err)
	} else {
		span.SetStatus(o11y.StatusOK, "")
	}
	span.End()
	turn.RecordTool(rec)
	return result, err
}

// RecordUserSpeech opens and immediately closes a leaf "user_speech" span
// carrying the transcript text, and appends the corresponding timeline
// event to the turn.
func (c *Collector) RecordUserSpeech(ctx context.Context, turn *Turn, start, end time.Time, text string) {
	_, span := o11y.StartSpan(ctx, "user_speech", o11y.Attrs{"text": text})
	span.End()
	ms := roundMs(end.Sub(start))
	turn.AddTimelineEvent(TimelineEvent{Kind: TimelineUserSpeech, Start: start, End: &end, DurationMs: &ms, Text: text})
}

// RecordAgentSpeech opens and immediately closes a leaf "agent_speech"
// span carrying the response text, and appends the corresponding timeline
// event to the turn.
func (c *Collector) RecordAgentSpeech(ctx context.Context, turn *Turn, start, end time.Time, text string) {
	_, span := o11y.StartSpan(ctx, "agent_speech", o11y.Attrs{"text": text})
	span.End()
	ms := roundMs(end.Sub(start))
	turn.AddTimelineEvent(TimelineEvent{Kind: TimelineAgentSpeech, Start: start, End: &end, DurationMs: &ms, Text: text})
}

// buildPayload constructs the flat, camelCase analytics payload for a
// completed turn, omitting errors, raw timestamps, and per-tool
// timestamps. Provider/system fields are included only on Turn #1.
func (c *Collector) buildPayload(turn *Turn) map[string]any {
	payload := map[string]any{
		"sessionId":    turn.SessionID,
		"turnNumber":   turn.Number,
		"e2eLatencyMs": turn.E2ELatencyMs(),
		"interrupted":  turn.Interrupted,
	}
	if turn.sttLatency != nil {
		payload["sttLatencyMs"] = roundMs(*turn.sttLatency)
	}
	if turn.eouLatency != nil {
		payload["eouLatencyMs"] = roundMs(*turn.eouLatency)
	}
	if turn.llmLatency != nil {
		payload["llmLatencyMs"] = roundMs(*turn.llmLatency)
	}
	if turn.ttsLatency != nil {
		payload["ttsLatencyMs"] = roundMs(*turn.ttsLatency)
	}
	if turn.TTFB > 0 {
		payload["ttfbMs"] = roundMs(turn.TTFB)
	}
	if len(turn.ToolsCalled) > 0 {
		names := make([]string, len(turn.ToolsCalled))
		for i, tc := range turn.ToolsCalled {
			names[i] = tc.Name
		}
		payload["toolsCalled"] = names
	}
	if turn.Number == 1 {
		if c.provider != "" {
			payload["provider"] = c.provider
		}
		if c.system != "" {
			payload["system"] = c.system
		}
	}
	return payload
}
