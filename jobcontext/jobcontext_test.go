package jobcontext

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/beluga-voice/agentrt/jobcontext/iface"
	provideriface "github.com/beluga-voice/agentrt/provider/iface"
)

type fakeRoom struct {
	left        bool
	participant string
	eventCB     func(provideriface.RoomEvent)
}

func (r *fakeRoom) Join(ctx context.Context) error { return nil }
func (r *fakeRoom) Leave(ctx context.Context) error { r.left = true; return nil }
func (r *fakeRoom) WaitForParticipant(ctx context.Context, id string) (string, error) {
	return r.participant, nil
}
func (r *fakeRoom) Subscribe(topic string, cb func(msg []byte)) error          { return nil }
func (r *fakeRoom) Publish(ctx context.Context, topic string, msg []byte) error { return nil }
func (r *fakeRoom) OnEvent(cb func(provideriface.RoomEvent))                  { r.eventCB = cb }
func (r *fakeRoom) AudioEgress() provideriface.AudioEgress                    { return nil }
func (r *fakeRoom) AudioIngress(participantID string) (provideriface.AudioIngress, error) {
	return nil, nil
}

type fakeSession struct {
	onEnd     func()
	startErr  error
	closeErr  error
	started   bool
	closed    bool
}

func (s *fakeSession) OnSessionEnd(cb func()) { s.onEnd = cb }
func (s *fakeSession) Start(ctx context.Context) error {
	s.started = true
	return s.startErr
}
func (s *fakeSession) Close(ctx context.Context) error {
	s.closed = true
	return s.closeErr
}

func newTestContext(room *fakeRoom) *Context {
	return New(WithRoomFactory(iface.RoomFactoryFunc(func(ctx context.Context, opts iface.RoomOptions) (provideriface.Room, error) {
		return room, nil
	})))
}

func TestJobContext_RunUntilShutdown_EndsOnSessionSignal(t *testing.T) {
	room := &fakeRoom{participant: "p1"}
	jc := newTestContext(room)
	sess := &fakeSession{}

	done := make(chan error, 1)
	go func() {
		done <- jc.RunUntilShutdown(context.Background(), sess, true)
	}()

	time.Sleep(20 * time.Millisecond)
	if !sess.started {
		t.Fatal("expected session to have started")
	}
	sess.onEnd()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RunUntilShutdown did not return after session end signal")
	}

	if !sess.closed {
		t.Fatal("expected session to be closed")
	}
	if !room.left {
		t.Fatal("expected room to be left")
	}
}

func TestJobContext_RunUntilShutdown_SessionStartFailure(t *testing.T) {
	room := &fakeRoom{}
	jc := newTestContext(room)
	sess := &fakeSession{startErr: errors.New("boom")}

	err := jc.RunUntilShutdown(context.Background(), sess, false)
	if err == nil {
		t.Fatal("expected error from failed session start")
	}
	if !room.left {
		t.Fatal("expected room to be left even on start failure")
	}
}

func TestJobContext_ShutdownCallbacks_RunInOrderAndIsolateFailures(t *testing.T) {
	jc := newTestContext(&fakeRoom{})

	var order []int
	jc.AddShutdownCallback(func(ctx context.Context) error {
		order = append(order, 1)
		panic("callback 1 blew up")
	})
	jc.AddShutdownCallback(func(ctx context.Context) error {
		order = append(order, 2)
		return errors.New("callback 2 failed")
	})
	jc.AddShutdownCallback(func(ctx context.Context) error {
		order = append(order, 3)
		return nil
	})

	_ = jc.Connect(context.Background())
	_ = jc.Shutdown(context.Background())

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected all 3 callbacks to run in order despite failures, got %v", order)
	}
}

func TestJobContext_ShutdownIsIdempotent(t *testing.T) {
	jc := newTestContext(&fakeRoom{})
	calls := 0
	jc.AddShutdownCallback(func(ctx context.Context) error {
		calls++
		return nil
	})
	_ = jc.Connect(context.Background())

	if err := jc.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := jc.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op, got: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected callbacks to run exactly once, got %d", calls)
	}
}

func TestJobContext_AutoEnd_FiresAfterLastParticipantLeaves(t *testing.T) {
	room := &fakeRoom{participant: "p1"}
	jc := New(
		WithRoomFactory(iface.RoomFactoryFunc(func(ctx context.Context, opts iface.RoomOptions) (provideriface.Room, error) {
			return room, nil
		})),
		WithAutoEndSession(50*time.Millisecond),
	)
	sess := &fakeSession{}

	done := make(chan error, 1)
	go func() {
		done <- jc.RunUntilShutdown(context.Background(), sess, false)
	}()

	time.Sleep(20 * time.Millisecond)
	p := &provideriface.Participant{ID: "p1"}
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantJoined, Participant: p})
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantLeft, Participant: p})

	select {
	case <-done:
		t.Fatal("session ended before the auto-end timeout elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("auto-end never fired after the last participant left")
	}
	if !sess.closed {
		t.Fatal("expected session to be closed")
	}
	if !room.left {
		t.Fatal("expected room to be left")
	}
}

func TestJobContext_AutoEnd_JoinCancelsScheduledEnd(t *testing.T) {
	room := &fakeRoom{}
	jc := New(
		WithRoomFactory(iface.RoomFactoryFunc(func(ctx context.Context, opts iface.RoomOptions) (provideriface.Room, error) {
			return room, nil
		})),
		WithAutoEndSession(50*time.Millisecond),
	)
	sess := &fakeSession{}

	done := make(chan error, 1)
	go func() {
		done <- jc.RunUntilShutdown(context.Background(), sess, false)
	}()

	time.Sleep(20 * time.Millisecond)
	p := &provideriface.Participant{ID: "p1"}
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantJoined, Participant: p})
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantLeft, Participant: p})
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantJoined, Participant: p})

	select {
	case <-done:
		t.Fatal("rejoin before the deadline should have cancelled the scheduled end")
	case <-time.After(120 * time.Millisecond):
	}

	sess.onEnd()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunUntilShutdown did not return after explicit session end")
	}
}

func TestJobContext_AutoEnd_ZeroTimeoutEndsImmediately(t *testing.T) {
	room := &fakeRoom{}
	jc := New(
		WithRoomFactory(iface.RoomFactoryFunc(func(ctx context.Context, opts iface.RoomOptions) (provideriface.Room, error) {
			return room, nil
		})),
		WithAutoEndSession(0),
	)
	sess := &fakeSession{}

	done := make(chan error, 1)
	go func() {
		done <- jc.RunUntilShutdown(context.Background(), sess, false)
	}()

	time.Sleep(20 * time.Millisecond)
	p := &provideriface.Participant{ID: "p1"}
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantJoined, Participant: p})
	room.eventCB(provideriface.RoomEvent{Type: provideriface.RoomEventParticipantLeft, Participant: p})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("zero-timeout auto-end did not end the session immediately")
	}
}

func TestJobContext_IsShuttingDown(t *testing.T) {
	jc := newTestContext(&fakeRoom{})
	if jc.IsShuttingDown() {
		t.Fatal("expected not shutting down initially")
	}
	_ = jc.Connect(context.Background())
	_ = jc.Shutdown(context.Background())
	if !jc.IsShuttingDown() {
		t.Fatal("expected shutting down after Shutdown")
	}
}
