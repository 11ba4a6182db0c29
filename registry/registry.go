// Package registry implements the Registry Client: a single duplex
// connection to the job registry that handles registration, the inbound
// availability/assignment/termination protocol, and a debounced outbound
// status_update loop.
package registry

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/beluga-voice/agentrt/core"
	"github.com/beluga-voice/agentrt/internal/httpclient"
	"github.com/beluga-voice/agentrt/o11y"
	"github.com/beluga-voice/agentrt/resilience"
)

// Error codes for registry operations.
const (
	ErrCodeAuth          core.ErrorCode = "registry_auth_failed"
	ErrCodeAckTimeout    core.ErrorCode = "registry_ack_timeout"
	ErrCodeReconnectGone core.ErrorCode = "registry_reconnect_exhausted"
)

var sanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// sanitizeAgentID normalizes an agent name into the key used by the
// process-local worker-id store.
func sanitizeAgentID(agentName string) string {
	return strings.ToLower(sanitizePattern.ReplaceAllString(agentName, "-"))
}

// workerIDStore persists the assigned worker_id per sanitized agent-id for
// the lifetime of the host process, so reconnects reuse the same identity.
var (
	workerIDStoreMu sync.Mutex
	workerIDStore   = map[string]string{}
)

func loadWorkerID(agentName string) string {
	workerIDStoreMu.Lock()
	defer workerIDStoreMu.Unlock()
	return workerIDStore[sanitizeAgentID(agentName)]
}

func saveWorkerID(agentName, workerID string) {
	workerIDStoreMu.Lock()
	defer workerIDStoreMu.Unlock()
	workerIDStore[sanitizeAgentID(agentName)] = workerID
}

// Options configures a Client.
type Options struct {
	URL               string
	AgentName         string
	Namespace         string
	Version           string
	Capabilities      []string
	LoadThreshold     float64
	MaxProcesses      int
	Token             string
	InitializeTimeout time.Duration
	MaxRetry          int
	MaxBackoff        time.Duration
	StatusDebounce    time.Duration
	PingInterval      time.Duration
}

func (o *Options) normalize() {
	if o.InitializeTimeout <= 0 {
		o.InitializeTimeout = 10 * time.Second
	}
	if o.MaxRetry <= 0 {
		o.MaxRetry = 10
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.StatusDebounce <= 0 {
		o.StatusDebounce = 2 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
}

// Client is the Registry Client (C1).
type Client struct {
	opts   Options
	logger *o11y.Logger

	onAvailability func(AvailabilityRequest) AvailabilityResponse
	onAssignment   func(JobAssignment)
	onTermination  func(JobTermination)
	onFatal        func(error)

	mu         sync.Mutex
	conn       *httpclient.WSConn
	workerID   string
	connected  bool
	closed     bool
	pending    *StatusUpdateMsg
	dirty      bool
	lastSentAt time.Time

	// writeMu serializes every socket write: gorilla/websocket permits
	// only one concurrent writer per connection, and the register and
	// offline frames would otherwise race the send loop.
	writeMu sync.Mutex

	outbound chan any
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs a Client. Call Connect to establish the session.
func New(opts Options, logger *o11y.Logger) *Client {
	opts.normalize()
	if logger == nil {
		logger = o11y.NewLogger()
	}
	return &Client{
		opts:     opts,
		logger:   logger,
		outbound: make(chan any, 256),
		workerID: loadWorkerID(opts.AgentName),
	}
}

// OnAvailabilityRequest registers the handler invoked for inbound
// availability_request messages; its return value is sent back as the
// availability_response.
func (c *Client) OnAvailabilityRequest(cb func(AvailabilityRequest) AvailabilityResponse) {
	c.onAvailability = cb
}

// OnJobAssignment registers the handler invoked for inbound job_assignment.
func (c *Client) OnJobAssignment(cb func(JobAssignment)) { c.onAssignment = cb }

// OnJobTermination registers the handler invoked for inbound job_termination.
func (c *Client) OnJobTermination(cb func(JobTermination)) { c.onTermination = cb }

// OnFatal registers the handler invoked when the client gives up after
// exhausting max_retry reconnect attempts, or the registry rejects
// authentication. The worker supervisor should treat this as fatal.
func (c *Client) OnFatal(cb func(error)) { c.onFatal = cb }

// Connect opens the transport, registers, and starts the background send,
// receive, debounce, and ping loops. It blocks until register_ack arrives
// or InitializeTimeout elapses.
func (c *Client) Connect(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.dialAndRegister(ctx); err != nil {
		cancel()
		return err
	}

	c.wg.Add(3)
	go c.sendLoop(runCtx)
	go c.receiveLoop(runCtx)
	go c.debounceLoop(runCtx)

	return nil
}

func (c *Client) dialAndRegister(ctx context.Context) error {
	policy := resilience.RetryPolicy{
		MaxAttempts:    c.opts.MaxRetry,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     c.opts.MaxBackoff,
		BackoffFactor:  2.0,
		Jitter:         true,
	}

	conn, err := resilience.Retry(ctx, policy, func(ctx context.Context) (*httpclient.WSConn, error) {
		conn, dialErr := httpclient.DialWS(ctx, c.opts.URL, nil)
		if dialErr != nil {
			return nil, core.NewError("registry.connect", core.ErrProviderDown, "dial failed", dialErr)
		}
		return conn, nil
	})
	if err != nil {
		reconnErr := core.NewError("registry.connect", ErrCodeReconnectGone,
			"exhausted reconnect attempts", err)
		if c.onFatal != nil {
			c.onFatal(reconnErr)
		}
		return reconnErr
	}

	var workerIDPtr *string
	if id := c.WorkerID(); id != "" {
		workerIDPtr = &id
	}
	req := RegisterRequest{
		Type:          MsgRegister,
		WorkerID:      workerIDPtr,
		AgentName:     c.opts.AgentName,
		Namespace:     c.opts.Namespace,
		Version:       c.opts.Version,
		Capabilities:  c.opts.Capabilities,
		LoadThreshold: c.opts.LoadThreshold,
		MaxProcesses:  c.opts.MaxProcesses,
		Token:         c.opts.Token,
	}
	if err := c.writeConn(ctx, conn, req); err != nil {
		return core.NewError("registry.connect", core.ErrProviderDown, "failed to send register", err)
	}

	// The handshake happens on the local conn; c.conn is only swapped once
	// register_ack arrives, so the send loop never writes to a connection
	// the registry has not acknowledged yet.
	ackCtx, ackCancel := context.WithTimeout(ctx, c.opts.InitializeTimeout)
	defer ackCancel()

	var ack RegisterAck
	if err := conn.ReadJSON(ackCtx, &ack); err != nil {
		return core.NewError("registry.connect", ErrCodeAckTimeout, "timed out awaiting register_ack", err)
	}
	if !ack.Success {
		authErr := core.NewError("registry.connect", ErrCodeAuth, "registration rejected", nil)
		if c.onFatal != nil {
			c.onFatal(authErr)
		}
		return authErr
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.workerID = ack.WorkerID
	c.connected = true
	c.mu.Unlock()
	saveWorkerID(c.opts.AgentName, ack.WorkerID)

	if old != nil {
		c.writeMu.Lock()
		_ = old.Close()
		c.writeMu.Unlock()
	}

	return nil
}

// writeConn is the single choke point for socket writes; the send loop,
// the registration handshake, and the best-effort offline frame all pass
// through it.
func (c *Client) writeConn(ctx context.Context, conn *httpclient.WSConn, msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(ctx, msg)
}

// WorkerID returns the currently assigned worker_id.
func (c *Client) WorkerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workerID
}

func (c *Client) sendLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.outbound:
			if !ok {
				return
			}
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				continue
			}
			if err := c.writeConn(ctx, conn, msg); err != nil {
				c.logger.Error(ctx, "registry: failed to send message", "error", err)
			}
		}
	}
}

func (c *Client) receiveLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var raw map[string]any
		if err := conn.ReadJSON(ctx, &raw); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error(ctx, "registry: connection lost, reconnecting", "error", err)
			if rerr := c.dialAndRegister(ctx); rerr != nil {
				return
			}
			continue
		}
		c.dispatch(ctx, raw)
	}
}

func (c *Client) dispatch(ctx context.Context, raw map[string]any) {
	t, _ := raw["type"].(string)
	switch MessageType(t) {
	case MsgAvailabilityRequest:
		req := decodeInto[AvailabilityRequest](raw)
		if c.onAvailability != nil {
			resp := c.onAvailability(req)
			resp.Type = MsgAvailabilityResponse
			c.Enqueue(resp)
		}
	case MsgJobAssignment:
		assignment := decodeInto[JobAssignment](raw)
		if c.onAssignment != nil {
			c.onAssignment(assignment)
		}
	case MsgJobTermination:
		term := decodeInto[JobTermination](raw)
		if c.onTermination != nil {
			c.onTermination(term)
		}
	case MsgPong:
		// liveness only; nothing to do.
	default:
		c.logger.Debug(ctx, "registry: ignoring unknown message type", "type", t)
	}
}

func decodeInto[T any](raw map[string]any) T {
	var out T
	data, err := json.Marshal(raw)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// Enqueue sends msg over the outbound queue. The queue is a single
// goroutine send loop, so concurrent callers are serialized into a
// consistent wire order without needing their own locking.
func (c *Client) Enqueue(msg any) {
	select {
	case c.outbound <- msg:
	default:
		c.logger.Error(context.Background(), "registry: outbound queue full, dropping message")
	}
}

// SendAvailabilityResponse is a typed convenience wrapper over Enqueue.
func (c *Client) SendAvailabilityResponse(resp AvailabilityResponse) {
	resp.Type = MsgAvailabilityResponse
	c.Enqueue(resp)
}

// SendJobUpdate is a typed convenience wrapper over Enqueue.
func (c *Client) SendJobUpdate(update JobUpdateMsg) {
	update.Type = MsgJobUpdate
	c.Enqueue(update)
}

// UpdateStatus sets the worker's current status/load/job_count. Updates are
// debounced to at most once per StatusDebounce interval unless immediate
// is set (used for job-count changes, which must be reported promptly).
func (c *Client) UpdateStatus(status WorkerStatus, load float64, jobCount int, immediate bool) {
	c.mu.Lock()
	c.pending = &StatusUpdateMsg{
		Type:      MsgStatusUpdate,
		WorkerID:  c.workerID,
		AgentName: c.opts.AgentName,
		Status:    status,
		Load:      load,
		JobCount:  jobCount,
	}
	c.dirty = true
	sinceLast := time.Since(c.lastSentAt)
	c.mu.Unlock()

	if immediate || sinceLast >= c.opts.StatusDebounce {
		c.flushStatus()
	}
}

func (c *Client) flushStatus() {
	c.mu.Lock()
	if !c.dirty || c.pending == nil {
		c.mu.Unlock()
		return
	}
	msg := *c.pending
	c.dirty = false
	c.lastSentAt = time.Now()
	c.mu.Unlock()

	c.Enqueue(msg)
}

func (c *Client) debounceLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.StatusDebounce)
	defer ticker.Stop()
	pingTicker := time.NewTicker(c.opts.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.flushStatus()
		case <-pingTicker.C:
			c.Enqueue(PingMsg{Type: MsgPing, Timestamp: nowSeconds()})
		}
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// Disconnect sends a best-effort offline status_update, closes the
// transport, and cancels background loops.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		offline := StatusUpdateMsg{
			Type:      MsgStatusUpdate,
			WorkerID:  c.WorkerID(),
			AgentName: c.opts.AgentName,
			Status:    StatusOffline,
			Load:      0,
			JobCount:  0,
		}
		_ = c.writeConn(ctx, conn, offline)
	}

	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
