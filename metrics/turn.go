// Package metrics implements the Metrics & Trace Collector (C7): the span
// tree shared by the cascading and realtime pipelines, the Turn/Timeline
// Event data model, and per-turn analytics payload emission.
package metrics

import (
	"math"
	"time"
)

// TimelineKind tags a TimelineEvent.
type TimelineKind string

const (
	TimelineUserSpeech  TimelineKind = "user_speech"
	TimelineAgentSpeech TimelineKind = "agent_speech"
)

// TimelineEvent is one user- or agent-speech interval within a Turn,
// ordered by Start. At most one open event (End == nil) per kind.
type TimelineEvent struct {
	Kind       TimelineKind
	Start      time.Time
	End        *time.Time
	DurationMs *float64
	Text       string
}

// TurnError is a provider error attached to a Turn, keyed by the engine
// that produced it.
type TurnError struct {
	Source string // STT|LLM|TTS|VAD|TURN-D
	Err    error
	At     time.Time
}

// ToolCallRecord is one tool invocation recorded against a Turn.
type ToolCallRecord struct {
	Name    string
	Args    string
	Result  string
	IsError bool
	Start   time.Time
	End     time.Time
}

// Turn is the per user-to-agent exchange record for the cascading
// pipeline (C5). It is created on the first user-speech-start of a new
// turn and closed on full response completion or interruption.
type Turn struct {
	Number    int
	SessionID string

	UserSpeechStart time.Time
	UserSpeechEnd   time.Time
	TTFB            time.Duration

	Interrupted bool
	ToolsCalled []ToolCallRecord
	Timeline    []TimelineEvent
	Errors      []TurnError

	sttStart, sttEnd   time.Time
	eouStart, eouEnd   time.Time
	llmStart, llmEnd   time.Time
	ttsStart, ttsEnd   time.Time
	sttLatency         *time.Duration
	eouLatency         *time.Duration
	llmLatency         *time.Duration
	ttsLatency         *time.Duration

	span interface{ End() }
}

// NewTurn constructs a Turn with the given ordinal and earliest
// user-speech-start.
func NewTurn(number int, userSpeechStart time.Time) *Turn {
	return &Turn{Number: number, UserSpeechStart: userSpeechStart}
}

// RecordSTT records the STT engine span's start/end.
func (t *Turn) RecordSTT(start, end time.Time) {
	t.sttStart, t.sttEnd = start, end
	d := end.Sub(start)
	t.sttLatency = &d
}

// RecordEOU records the EOU engine span's start/end.
func (t *Turn) RecordEOU(start, end time.Time) {
	t.eouStart, t.eouEnd = start, end
	d := end.Sub(start)
	t.eouLatency = &d
}

// RecordLLM records the LLM engine span's start/end.
func (t *Turn) RecordLLM(start, end time.Time) {
	t.llmStart, t.llmEnd = start, end
	d := end.Sub(start)
	t.llmLatency = &d
}

// RecordTTS records the TTS engine span's start/end.
func (t *Turn) RecordTTS(start, end time.Time) {
	t.ttsStart, t.ttsEnd = start, end
	d := end.Sub(start)
	t.ttsLatency = &d
}

// RecordTTFB records the time-to-first-byte under the TTS span.
func (t *Turn) RecordTTFB(d time.Duration) { t.TTFB = d }

// RecordTool appends a completed tool invocation.
func (t *Turn) RecordTool(rec ToolCallRecord) { t.ToolsCalled = append(t.ToolsCalled, rec) }

// RecordError attaches a provider error to the turn, keyed by source.
func (t *Turn) RecordError(source string, err error) {
	t.Errors = append(t.Errors, TurnError{Source: source, Err: err, At: time.Now()})
}

// AddTimelineEvent appends a user/agent speech interval.
func (t *Turn) AddTimelineEvent(ev TimelineEvent) { t.Timeline = append(t.Timeline, ev) }

// E2ELatencyMs sums the stt+eou+llm+tts latencies present on the turn, in
// milliseconds rounded to 4 decimals.
func (t *Turn) E2ELatencyMs() float64 {
	var total time.Duration
	for _, d := range []*time.Duration{t.sttLatency, t.eouLatency, t.llmLatency, t.ttsLatency} {
		if d != nil {
			total += *d
		}
	}
	return roundMs(total)
}

// Discard reports whether none of stt/tts/llm/eou latency is present, in
// which case the turn must never be exported.
func (t *Turn) Discard() bool {
	return t.sttLatency == nil && t.llmLatency == nil && t.ttsLatency == nil && t.eouLatency == nil
}

func roundMs(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return math.Round(ms*10000) / 10000
}
