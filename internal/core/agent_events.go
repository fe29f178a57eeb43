package core

import "time"

// EventKind enumerates the typed events the Event Parser (4.A) extracts
// from an agent's NDJSON stream.
type EventKind string

const (
	EventSystemInit   EventKind = "system_init"
	EventAssistantTxt EventKind = "assistant_text"
	EventToolCall     EventKind = "tool_call"
	EventToolResult   EventKind = "tool_result"
	EventCostDelta    EventKind = "cost_delta"
	EventCommit       EventKind = "commit"
	EventError        EventKind = "error"
	EventResult       EventKind = "result"
	EventStall        EventKind = "stall"
	EventMalformed    EventKind = "malformed_line"
	EventOther        EventKind = "other"
)

// AgentEvent is one parsed line from an agent's output stream, immutable
// once recorded. Seq is a monotonic sequence number scoped to the owning
// AgentRun.
type AgentEvent struct {
	Seq        int64          `json:"seq"`
	AgentRunID AgentRunID     `json:"agent_run_id"`
	Kind       EventKind      `json:"kind"`
	ToolName   string         `json:"tool_name,omitempty"`
	Summary    string         `json:"summary"`
	Raw        map[string]any `json:"raw,omitempty"`
	CostDelta  float64        `json:"cost_delta,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// NewAgentEvent creates an AgentEvent stamped with the current time; Seq is
// assigned by the caller (the Supervisor's reader owns the counter for its
// AgentRun).
func NewAgentEvent(runID AgentRunID, kind EventKind, summary string) AgentEvent {
	return AgentEvent{
		AgentRunID: runID,
		Kind:       kind,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// WithRaw attaches the raw decoded payload.
func (e AgentEvent) WithRaw(raw map[string]any) AgentEvent {
	e.Raw = raw
	return e
}

// WithTool attaches a tool name, for tool_call/tool_result events.
func (e AgentEvent) WithTool(name string) AgentEvent {
	e.ToolName = name
	return e
}

// WithCostDelta attaches a cost delta, for cost_delta and result events.
func (e AgentEvent) WithCostDelta(usd float64) AgentEvent {
	e.CostDelta = usd
	return e
}

// AgentEventRepository persists the append-only AgentEvent log.
type AgentEventRepository interface {
	Append(e AgentEvent) error
	ListByRun(runID AgentRunID, sinceSeq int64) ([]AgentEvent, error)
}
