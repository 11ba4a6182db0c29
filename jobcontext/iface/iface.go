// Package iface defines the contracts Job Context drives: the running
// Session it owns and the Room factory it uses to materialize media
// transport for a job.
package iface

import (
	"context"

	provideriface "github.com/beluga-voice/agentrt/provider/iface"
)

// Session is the long-running unit (a cascading or realtime pipeline bound
// to an agent) that a Job Context connects, starts, and tears down.
type Session interface {
	// OnSessionEnd registers the callback invoked when the session ends on
	// its own (e.g. the last participant leaves, or a fatal provider error).
	// Registering a new callback replaces the previous one.
	OnSessionEnd(cb func())

	Start(ctx context.Context) error
	Close(ctx context.Context) error
}

// RoomOptions parameterizes how a Job Context materializes its Room.
type RoomOptions struct {
	// RoomID, if non-empty, joins an existing room instead of creating one.
	RoomID string

	// Console, when true, replaces the Room with a local audio I/O shim
	// (microphone/speaker) instead of a networked room.
	Console bool

	// WaitForParticipantID, if non-empty, restricts WaitForParticipant to
	// that specific participant.
	WaitForParticipantID string
}

// RoomFactory builds the Room a Job Context connects the session to. A
// concrete implementation negotiates with the room/SFU service (or, in
// console mode, constructs the local shim) and wires in an avatar
// collaborator's tracks, if configured.
type RoomFactory interface {
	Build(ctx context.Context, opts RoomOptions) (provideriface.Room, error)
}

// RoomFactoryFunc adapts a plain function to a RoomFactory.
type RoomFactoryFunc func(ctx context.Context, opts RoomOptions) (provideriface.Room, error)

func (f RoomFactoryFunc) Build(ctx context.Context, opts RoomOptions) (provideriface.Room, error) {
	return f(ctx, opts)
}
