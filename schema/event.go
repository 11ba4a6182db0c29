package schema

import "time"

// AgentEvent is a generic notification emitted by a running agent
// (tool calls, intermediate thoughts, handoffs) for observers that do not
// need the full Turn/timeline structure from the metrics collector.
type AgentEvent struct {
	Type      string
	AgentID   string
	Payload   any
	Timestamp time.Time
}
