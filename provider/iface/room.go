package iface

import "context"

// Participant identifies a room member.
type Participant struct {
	ID       string
	Identity string
	IsAgent  bool
}

// RoomEventType tags the kind of RoomEvent.
type RoomEventType string

const (
	RoomEventJoined            RoomEventType = "meeting_joined"
	RoomEventLeft              RoomEventType = "meeting_left"
	RoomEventParticipantJoined RoomEventType = "participant_joined"
	RoomEventParticipantLeft   RoomEventType = "participant_left"
	RoomEventError             RoomEventType = "error"
	RoomEventStreamEnabled     RoomEventType = "stream_enabled"
	RoomEventStreamDisabled    RoomEventType = "stream_disabled"
)

// RoomEvent is one room-lifecycle notification.
type RoomEvent struct {
	Type        RoomEventType
	Participant *Participant
	Stream      string
	Err         error
}

// AudioFrame is a fixed time-slice of PCM16 mono audio, nominally 10-20ms.
type AudioFrame struct {
	PCM        []byte
	SampleRate int
}

// AudioIngress is a read-only stream of AudioFrames from one participant.
type AudioIngress interface {
	// Next blocks until the next frame is available, the stream ends
	// (ok=false), or ctx is done.
	Next(ctx context.Context) (frame AudioFrame, ok bool, err error)
}

// AudioEgress is the agent's writable audio track published into the room.
type AudioEgress interface {
	AudioSink

	// Interrupt drops any buffered, not-yet-played audio.
	Interrupt()
}

// Room is the abstract media-room contract the pipelines are driven
// through. Room/SFU transport mechanics (track negotiation, pubsub
// delivery, recording) are the concern of a concrete implementation,
// never of the pipelines.
type Room interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error

	// WaitForParticipant blocks until a participant (matching id, if
	// non-empty) joins and returns its id.
	WaitForParticipant(ctx context.Context, id string) (string, error)

	Subscribe(topic string, cb func(msg []byte)) error
	Publish(ctx context.Context, topic string, msg []byte) error

	// OnEvent registers the callback invoked for every RoomEvent.
	OnEvent(cb func(RoomEvent))

	// AudioEgress returns the agent's writable audio track.
	AudioEgress() AudioEgress

	// AudioIngress returns the read-only audio stream for a participant.
	AudioIngress(participantID string) (AudioIngress, error)
}
