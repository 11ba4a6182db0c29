package registry

import "encoding/json"

// MessageType discriminates the registry wire protocol's JSON envelopes.
type MessageType string

const (
	MsgRegister             MessageType = "register"
	MsgStatusUpdate         MessageType = "status_update"
	MsgAvailabilityRequest  MessageType = "availability_request"
	MsgAvailabilityResponse MessageType = "availability_response"
	MsgJobAssignment        MessageType = "job_assignment"
	MsgJobTermination       MessageType = "job_termination"
	MsgJobUpdate            MessageType = "job_update"
	MsgPing                 MessageType = "ping"
	MsgPong                 MessageType = "pong"
)

// WorkerStatus is the status field carried on a StatusUpdate.
type WorkerStatus string

const (
	StatusAvailable WorkerStatus = "available"
	StatusDraining  WorkerStatus = "draining"
	StatusOffline   WorkerStatus = "offline"
)

// JobStatus is the status field carried on a JobUpdate.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobError     JobStatus = "error"
)

// envelope is used to peek at an inbound message's type before decoding its
// specific fields.
type envelope struct {
	Type MessageType `json:"type"`
}

// RegisterRequest is sent worker->registry to establish identity.
type RegisterRequest struct {
	Type          MessageType `json:"type"`
	WorkerID      *string     `json:"worker_id,omitempty"`
	AgentName     string      `json:"agent_name"`
	Namespace     string      `json:"namespace"`
	Version       string      `json:"version"`
	Capabilities  []string    `json:"capabilities,omitempty"`
	LoadThreshold float64     `json:"load_threshold"`
	MaxProcesses  int         `json:"max_processes"`
	Token         string      `json:"token"`
}

// RegisterAck is the registry->worker reply to RegisterRequest.
type RegisterAck struct {
	Type     MessageType `json:"type"`
	Success  bool        `json:"success"`
	WorkerID string      `json:"worker_id,omitempty"`
	Message  *string     `json:"message,omitempty"`
}

// StatusUpdateMsg is sent worker->registry to report load.
type StatusUpdateMsg struct {
	Type      MessageType  `json:"type"`
	WorkerID  string       `json:"worker_id"`
	AgentName string       `json:"agent_name"`
	Status    WorkerStatus `json:"status"`
	Load      float64      `json:"load"`
	JobCount  int          `json:"job_count"`
}

// AvailabilityRequest is sent registry->worker to ask whether the worker
// can accept a job.
type AvailabilityRequest struct {
	Type      MessageType     `json:"type"`
	JobID     string          `json:"job_id"`
	JobType   string          `json:"job_type,omitempty"`
	RoomID    string          `json:"room_id,omitempty"`
	RoomName  string          `json:"room_name,omitempty"`
	AgentName string          `json:"agent_name,omitempty"`
	Namespace string          `json:"namespace,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// AvailabilityResponse is sent worker->registry in reply to an
// AvailabilityRequest. The decision is advisory.
type AvailabilityResponse struct {
	Type      MessageType `json:"type"`
	JobID     string      `json:"job_id"`
	Available bool        `json:"available"`
	Token     *string     `json:"token,omitempty"`
	Error     *string     `json:"error,omitempty"`
}

// JobAssignment is sent registry->worker to hand off a job.
type JobAssignment struct {
	Type        MessageType     `json:"type"`
	JobID       string          `json:"job_id"`
	RoomID      string          `json:"room_id"`
	RoomName    string          `json:"room_name,omitempty"`
	URL         string          `json:"url"`
	Token       string          `json:"token"`
	RoomOptions json.RawMessage `json:"room_options,omitempty"`
}

// JobTermination is sent registry->worker to force-end a job.
type JobTermination struct {
	Type   MessageType `json:"type"`
	JobID  string      `json:"job_id"`
	Reason *string     `json:"reason,omitempty"`
}

// JobUpdateMsg is sent worker->registry to report a job's lifecycle state.
type JobUpdateMsg struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"job_id"`
	Status JobStatus  `json:"status"`
	Error  *string    `json:"error,omitempty"`
}

// PingMsg/PongMsg are the liveness heartbeat pair.
type PingMsg struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}

type PongMsg struct {
	Type      MessageType `json:"type"`
	Timestamp float64     `json:"timestamp"`
}
