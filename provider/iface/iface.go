// Package iface defines the provider-facing contracts the pipelines drive:
// STT, LLM, TTS, VAD, EOU, an integrated RealtimeModel, and the Room the
// pipelines publish/subscribe audio through. Concrete provider plug-ins
// (OpenAI, Google, LMNT, etc.) are out of scope for this runtime; only the
// shapes they must implement live here.
package iface

import (
	"context"

	"github.com/beluga-voice/agentrt/schema"
)

// STTEventType tags the kind of STTEvent delivered by an STT transcript
// callback.
type STTEventType string

const (
	STTEventStart   STTEventType = "start"
	STTEventInterim STTEventType = "interim"
	STTEventFinal   STTEventType = "final"
	STTEventEnd     STTEventType = "end"
)

// STTEvent is one transcript update from an STT provider.
type STTEvent struct {
	Type       STTEventType
	Text       string
	Confidence float64
	Language   string
	Start      float64 // seconds, relative to stream start
	End        float64
}

// STTCallback receives STTEvents as they are produced.
type STTCallback func(STTEvent)

// STT is the speech-to-text provider contract.
type STT interface {
	// ProcessAudio pushes one frame of PCM16 audio into the recognizer.
	ProcessAudio(ctx context.Context, pcm []byte) error

	// OnTranscript registers the callback invoked for every STTEvent.
	// Registering a new callback replaces the previous one.
	OnTranscript(cb STTCallback)

	// Close releases the provider session.
	Close(ctx context.Context) error
}

// LLM is the language-model provider contract. Chat opens a streaming
// response over the given Chat Context messages and tool definitions.
type LLM interface {
	Chat(ctx context.Context, messages []schema.Message, tools []ToolDefinition) (Stream[schema.StreamChunk], error)

	// CancelCurrent aborts the most recently opened stream, if any.
	CancelCurrent()
}

// ToolDefinition describes a callable tool the LLM may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Stream is a finite, non-restartable lazy sequence, mirroring core.Stream
// for provider-facing token/event streams.
type Stream[T any] func(yield func(T, error) bool)

// TTS is the text-to-speech provider contract. Synthesize consumes a text
// stream (a single string is just a one-element stream) and emits PCM16
// frames to the caller-supplied sink in fixed-size frames.
type TTS interface {
	Synthesize(ctx context.Context, text Stream[string], voice string, sink AudioSink) error

	// Interrupt drops any buffered output immediately.
	Interrupt()

	// OnFirstAudioByte registers a callback fired at most once per
	// Synthesize call, the moment the first output byte is produced.
	OnFirstAudioByte(cb func())

	// ResetFirstAudioTracking re-arms the first-byte callback for the next
	// Synthesize call.
	ResetFirstAudioTracking()
}

// AudioSink receives PCM16 frames produced by a TTS provider.
type AudioSink interface {
	AddBytes(pcm []byte) error
}

// VADEventType tags the kind of VADEvent.
type VADEventType string

const (
	VADSpeechStart VADEventType = "speech_start"
	VADSpeechEnd   VADEventType = "speech_end"
)

// VADEvent is one voice-activity transition.
type VADEvent struct {
	Event      VADEventType
	Confidence float64
	Timestamp  float64
}

// VADCallback receives VADEvents as they are produced.
type VADCallback func(VADEvent)

// VAD is the voice-activity-detection provider contract.
type VAD interface {
	ProcessAudio(ctx context.Context, pcm []byte) error
	OnEvent(cb VADCallback)
}

// EOU is the end-of-utterance classifier contract.
type EOU interface {
	// DetectEndOfUtterance reports whether the accumulated chat context
	// looks complete, given an optional confidence threshold override.
	DetectEndOfUtterance(ctx context.Context, chatContext []schema.Message, threshold *float64) (bool, error)

	// GetEOUProbability returns the raw [0,1] end-of-utterance probability.
	GetEOUProbability(ctx context.Context, chatContext []schema.Message) (float64, error)
}

// RealtimeToolCall is a tool invocation requested by an integrated realtime
// provider mid-session.
type RealtimeToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// RealtimeEventType tags the kind of event delivered by RealtimeModel's
// event callback.
type RealtimeEventType string

const (
	RealtimeUserSpeechStarted  RealtimeEventType = "user_speech_started"
	RealtimeUserSpeechEnded    RealtimeEventType = "user_speech_ended"
	RealtimeAgentSpeechStarted RealtimeEventType = "agent_speech_started"
	RealtimeAgentSpeechEnded   RealtimeEventType = "agent_speech_ended"
	RealtimeTranscript         RealtimeEventType = "transcript"
	RealtimeToolCallEvent      RealtimeEventType = "tool_call"
)

// RealtimeEvent is one notification from an integrated realtime session.
type RealtimeEvent struct {
	Type      RealtimeEventType
	Text      string
	ToolCall  *RealtimeToolCall
	Timestamp float64
}

// RealtimeModel is the integrated STT+LLM+TTS provider contract used by the
// realtime pipeline (C6) in place of the cascading STT/LLM/TTS trio.
type RealtimeModel interface {
	Connect(ctx context.Context) error

	// HandleAudioInput forwards one PCM16 frame from the room to the
	// session.
	HandleAudioInput(ctx context.Context, pcm []byte) error

	// HandleVideoInput optionally forwards a video frame; providers without
	// vision support may treat this as a no-op.
	HandleVideoInput(ctx context.Context, frame []byte) error

	SendMessage(ctx context.Context, text string) error
	SendTextMessage(ctx context.Context, text string) error

	// OnEvent registers the callback invoked for every RealtimeEvent.
	OnEvent(cb func(RealtimeEvent))

	// RespondToolCall delivers a tool's result back to the session.
	RespondToolCall(ctx context.Context, id string, result string) error

	Interrupt(ctx context.Context) error
	Close(ctx context.Context) error
}

// ProviderCapabilities describes what a wired provider supports, so the
// pipeline can warn on mismatch at change_component time rather than fail
// silently.
type ProviderCapabilities struct {
	SupportedSampleRates []int
	MinLatencyMs         int
	SupportsStreaming    bool
	SupportsTools        bool
}

// CapabilityAware is optionally implemented by providers that can report
// their ProviderCapabilities.
type CapabilityAware interface {
	Capabilities() ProviderCapabilities
}
