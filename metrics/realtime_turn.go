package metrics

import "time"

// RealtimeTurn is the per-exchange record for the realtime pipeline (C6).
// Unlike [Turn], finalization is debounced: AgentSpeechEnd is provisional
// and may be extended within a configurable window before emission.
type RealtimeTurn struct {
	Number    int
	SessionID string

	UserSpeechStart  time.Time
	UserSpeechEnd    time.Time
	AgentSpeechStart time.Time
	AgentSpeechEnd   time.Time
	TTFB             time.Duration
	ThinkingDelay    time.Duration

	Interrupted bool
	ToolsCalled []ToolCallRecord
	Timeline    []TimelineEvent
	Errors      []TurnError

	span interface{ End() }
}

// NewRealtimeTurn constructs a RealtimeTurn with the given ordinal and
// user-speech-start.
func NewRealtimeTurn(number int, userSpeechStart time.Time) *RealtimeTurn {
	return &RealtimeTurn{Number: number, UserSpeechStart: userSpeechStart}
}

// E2ELatencyMs is the elapsed time from user-speech-start to
// agent-speech-start, in milliseconds rounded to 4 decimals.
func (t *RealtimeTurn) E2ELatencyMs() float64 {
	if t.AgentSpeechStart.IsZero() || t.UserSpeechStart.IsZero() {
		return 0
	}
	return roundMs(t.AgentSpeechStart.Sub(t.UserSpeechStart))
}

// RecordTool appends a completed tool invocation.
func (t *RealtimeTurn) RecordTool(rec ToolCallRecord) { t.ToolsCalled = append(t.ToolsCalled, rec) }

// RecordError attaches a provider error to the turn, keyed by source.
func (t *RealtimeTurn) RecordError(source string, err error) {
	t.Errors = append(t.Errors, TurnError{Source: source, Err: err, At: time.Now()})
}

// AddTimelineEvent appends a user/agent speech interval.
func (t *RealtimeTurn) AddTimelineEvent(ev TimelineEvent) { t.Timeline = append(t.Timeline, ev) }

// Discard reports whether the turn never saw agent speech, in which case
// it must never be exported.
func (t *RealtimeTurn) Discard() bool {
	return t.AgentSpeechStart.IsZero()
}
