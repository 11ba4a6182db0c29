package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/beluga-voice/agentrt/jobcontext"
	jcIface "github.com/beluga-voice/agentrt/jobcontext/iface"
	provideriface "github.com/beluga-voice/agentrt/provider/iface"
	"github.com/beluga-voice/agentrt/registry"
	"github.com/beluga-voice/agentrt/resourcepool"
)

var testUpgrader = websocket.Upgrader{}

func newFakeRegistryServer(t *testing.T) (*httptest.Server, chan map[string]any, *websocket.Conn) {
	t.Helper()
	received := make(chan map[string]any, 16)
	connCh := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		var reg map[string]any
		if err := conn.ReadJSON(&reg); err != nil {
			return
		}
		conn.WriteJSON(map[string]any{"type": "register", "success": true, "worker_id": "w1"})
		connCh <- conn

		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	}))
	return srv, received, <-connCh
}

func wsURL(httpURL string) string { return "ws" + strings.TrimPrefix(httpURL, "http") }

type fakeRoom struct{}

func (r *fakeRoom) Join(ctx context.Context) error { return nil }
func (r *fakeRoom) Leave(ctx context.Context) error { return nil }
func (r *fakeRoom) WaitForParticipant(ctx context.Context, id string) (string, error) {
	return "p1", nil
}
func (r *fakeRoom) Subscribe(topic string, cb func(msg []byte)) error           { return nil }
func (r *fakeRoom) Publish(ctx context.Context, topic string, msg []byte) error { return nil }
func (r *fakeRoom) OnEvent(cb func(provideriface.RoomEvent))                   {}
func (r *fakeRoom) AudioEgress() provideriface.AudioEgress                     { return nil }
func (r *fakeRoom) AudioIngress(participantID string) (provideriface.AudioIngress, error) {
	return nil, nil
}

func testRoomFactory() jcIface.RoomFactory {
	return jcIface.RoomFactoryFunc(func(ctx context.Context, opts jcIface.RoomOptions) (provideriface.Room, error) {
		return &fakeRoom{}, nil
	})
}

func drainUntil(t *testing.T, ch chan map[string]any, typ string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case m := <-ch:
			if m["type"] == typ {
				return m
			}
		case <-deadline:
			t.Fatalf("timed out waiting for message type %q", typ)
		}
	}
}

func TestSupervisor_AvailabilityDecision(t *testing.T) {
	srv, _, _ := newFakeRegistryServer(t)
	defer srv.Close()

	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		<-ctx.Done()
		return nil
	}

	s := New(Options{
		AgentName: "agent", RegistryURL: wsURL(srv.URL),
		LoadThreshold: 0.8, MaxProcesses: 2,
	}, entry, testRoomFactory(), nil, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	resp := s.handleAvailabilityRequest(registry.AvailabilityRequest{JobID: "j1"})
	if !resp.Available {
		t.Fatal("expected available with no jobs running")
	}
}

func TestSupervisor_AssignmentTracksRunningJob(t *testing.T) {
	srv, received, _ := newFakeRegistryServer(t)
	defer srv.Close()

	started := make(chan struct{})
	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	s := New(Options{AgentName: "agent", RegistryURL: wsURL(srv.URL), MaxProcesses: 2}, entry, testRoomFactory(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	s.handleJobAssignment(registry.JobAssignment{JobID: "job-1", RoomID: "room-1"})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("entrypoint did not start")
	}

	if s.jobCount() != 1 {
		t.Fatalf("expected 1 running job, got %d", s.jobCount())
	}

	drainUntil(t, received, "job_update", time.Second)
}

func TestSupervisor_TerminationRemovesJob(t *testing.T) {
	srv, received, _ := newFakeRegistryServer(t)
	defer srv.Close()

	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		<-ctx.Done()
		return nil
	}

	s := New(Options{AgentName: "agent", RegistryURL: wsURL(srv.URL), MaxProcesses: 2}, entry, testRoomFactory(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	s.handleJobAssignment(registry.JobAssignment{JobID: "job-1"})
	time.Sleep(20 * time.Millisecond)

	s.handleJobTermination(registry.JobTermination{JobID: "job-1"})

	if s.jobCount() != 0 {
		t.Fatalf("expected 0 jobs after termination, got %d", s.jobCount())
	}

	drainUntil(t, received, "job_update", time.Second)
}

func TestSupervisor_DrainWaitsForJobsToEmpty(t *testing.T) {
	srv, _, _ := newFakeRegistryServer(t)
	defer srv.Close()

	jobCtx, cancelJob := context.WithCancel(context.Background())
	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		<-jobCtx.Done()
		return nil
	}

	s := New(Options{AgentName: "agent", RegistryURL: wsURL(srv.URL), MaxProcesses: 2, DrainDeadline: 2 * time.Second}, entry, testRoomFactory(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	s.handleJobAssignment(registry.JobAssignment{JobID: "job-1"})
	time.Sleep(20 * time.Millisecond)

	drainDone := make(chan error, 1)
	go func() { drainDone <- s.Drain(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	s.handleJobTermination(registry.JobTermination{JobID: "job-1"})
	cancelJob()

	select {
	case err := <-drainDone:
		if err != nil {
			t.Fatalf("unexpected drain error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("drain did not complete after jobs emptied")
	}
}

func TestSupervisor_LoadComputation(t *testing.T) {
	srv, _, _ := newFakeRegistryServer(t)
	defer srv.Close()

	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		<-ctx.Done()
		return nil
	}
	s := New(Options{AgentName: "agent", RegistryURL: wsURL(srv.URL), MaxProcesses: 4}, entry, testRoomFactory(), nil, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	s.handleJobAssignment(registry.JobAssignment{JobID: "a"})
	s.handleJobAssignment(registry.JobAssignment{JobID: "b"})
	time.Sleep(20 * time.Millisecond)

	if got := s.Load(); got != 0.5 {
		t.Fatalf("expected load 0.5 with 2/4 jobs, got %v", got)
	}
}

func TestSupervisor_AssignmentDispatchesThroughResourcePool(t *testing.T) {
	srv, received, _ := newFakeRegistryServer(t)
	defer srv.Close()

	pool := resourcepool.New(resourcepool.WithMaxResources(2), resourcepool.WithNumIdleResources(1))
	defer pool.Shutdown(context.Background())

	started := make(chan struct{})
	entry := func(ctx context.Context, a registry.JobAssignment, jc *jobcontext.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	}

	s := New(Options{AgentName: "agent", RegistryURL: wsURL(srv.URL), MaxProcesses: 2}, entry, testRoomFactory(), pool, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Shutdown(context.Background())

	s.handleJobAssignment(registry.JobAssignment{JobID: "job-1", RoomID: "room-1"})

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("entrypoint did not start through the resource pool")
	}

	if len(pool.Snapshot()) == 0 {
		t.Fatal("expected the resource pool to have spawned at least one executor")
	}

	drainUntil(t, received, "job_update", time.Second)
}
