package agentcli

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/hugo-lorenzo-mato/quorum-ai/internal/core"
)

// wireEvent mirrors the agent's documented NDJSON schema (spec §6): one
// JSON object per line, `type` tags the kind, fields beyond that vary.
type wireEvent struct {
	Type      string          `json:"type"`
	Subtype   string          `json:"subtype"`
	SessionID string          `json:"session_id"`
	Model     string          `json:"model"`
	Content   json.RawMessage `json:"content"`
	Result    string          `json:"result"`
	Error     string          `json:"error"`
	TotalCost float64         `json:"total_cost_usd"`
	Usage     *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Branch  string `json:"branch"`
	Message string `json:"message"`
}

// contentPart is one element of an `assistant` event's content array, when
// content is structured rather than a bare string.
type contentPart struct {
	Type  string          `json:"type"`
	Text  string          `json:"text"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// Parser is the Event Parser (spec §4.A): it consumes an agent's NDJSON
// stdout line by line and emits a strictly ordered stream of AgentEvents.
// It never buffers across lines and never aborts the stream on a
// malformed line — it emits a synthetic malformed_line event instead.
type Parser struct {
	runID core.AgentRunID
	seq   int64
}

// NewParser creates a Parser scoped to one AgentRun's own sequence
// counter (spec §3: Seq is per-run).
func NewParser(runID core.AgentRunID) *Parser {
	return &Parser{runID: runID}
}

// next stamps and increments the parser's sequence counter.
func (p *Parser) next(kind core.EventKind, summary string) core.AgentEvent {
	p.seq++
	ev := core.NewAgentEvent(p.runID, kind, summary)
	ev.Seq = p.seq
	return ev
}

// ParseLine parses a single line of NDJSON output and returns zero or more
// events (most lines yield exactly one; a line that fails to parse yields
// exactly one malformed_line event carrying the original bytes).
func (p *Parser) ParseLine(line string) []core.AgentEvent {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return []core.AgentEvent{p.malformed(trimmed)}
	}

	var ev wireEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return []core.AgentEvent{p.malformed(trimmed)}
	}

	switch ev.Type {
	case "system":
		if ev.Subtype != "init" {
			return []core.AgentEvent{p.other(trimmed)}
		}
		return []core.AgentEvent{
			p.next(core.EventSystemInit, "session initialized").
				WithRaw(map[string]any{"session_id": ev.SessionID, "model": ev.Model}),
		}

	case "assistant":
		return p.parseAssistant(ev)

	case "user":
		return p.parseToolResult(ev)

	case "commit":
		return []core.AgentEvent{
			p.next(core.EventCommit, "commit "+ev.Branch).
				WithRaw(map[string]any{"branch": ev.Branch, "message": ev.Message}),
		}

	case "error":
		return []core.AgentEvent{p.next(core.EventError, ev.Error)}

	case "result":
		return p.parseResult(ev)

	default:
		return []core.AgentEvent{p.other(trimmed)}
	}
}

func (p *Parser) malformed(raw string) core.AgentEvent {
	return p.next(core.EventMalformed, "unparsable line").
		WithRaw(map[string]any{"raw": raw})
}

func (p *Parser) other(raw string) core.AgentEvent {
	return p.next(core.EventOther, "unrecognized event").
		WithRaw(map[string]any{"raw": raw})
}

// parseAssistant handles `assistant` events, whose content is either a
// bare string (assistant_text) or an array of parts (text / tool_use).
func (p *Parser) parseAssistant(ev wireEvent) []core.AgentEvent {
	var text string
	if err := json.Unmarshal(ev.Content, &text); err == nil {
		if text == "" {
			return nil
		}
		return []core.AgentEvent{p.next(core.EventAssistantTxt, text)}
	}

	var parts []contentPart
	if err := json.Unmarshal(ev.Content, &parts); err != nil {
		return []core.AgentEvent{p.malformed(string(ev.Content))}
	}

	var events []core.AgentEvent
	for _, part := range parts {
		switch part.Type {
		case "text":
			if part.Text != "" {
				events = append(events, p.next(core.EventAssistantTxt, part.Text))
			}
		case "tool_use":
			events = append(events, p.next(core.EventToolCall, "tool call: "+part.Name).
				WithTool(part.Name).
				WithRaw(map[string]any{"input": string(part.Input)}))
		}
	}
	return events
}

// parseToolResult handles `user` events, recognized only for their
// tool_result subtype per spec §6.
func (p *Parser) parseToolResult(ev wireEvent) []core.AgentEvent {
	var parts []contentPart
	if err := json.Unmarshal(ev.Content, &parts); err != nil {
		return nil
	}
	var events []core.AgentEvent
	for _, part := range parts {
		if part.Type == "tool_result" {
			events = append(events, p.next(core.EventToolResult, "tool result").
				WithRaw(map[string]any{"content": string(part.Input)}))
		}
	}
	return events
}

// parseResult handles the terminal `result` event: success yields a
// result event (and, if usage was reported, a preceding cost_delta);
// error_* yields an error event before the result.
func (p *Parser) parseResult(ev wireEvent) []core.AgentEvent {
	var events []core.AgentEvent
	if ev.Usage != nil {
		events = append(events, p.next(core.EventCostDelta, "cost update").
			WithCostDelta(ev.TotalCost).
			WithRaw(map[string]any{
				"input_tokens":  ev.Usage.InputTokens,
				"output_tokens": ev.Usage.OutputTokens,
			}))
	}
	if strings.HasPrefix(ev.Subtype, "error") {
		events = append(events, p.next(core.EventError, ev.Error))
	}
	events = append(events, p.next(core.EventResult, ev.Result).
		WithCostDelta(ev.TotalCost).
		WithRaw(map[string]any{"subtype": ev.Subtype}))
	return events
}

// Stream reads r line by line until EOF, invoking emit for every event
// produced. A line exceeding the scanner's buffer is still delivered as a
// single malformed_line event rather than aborting the stream. A trailing
// partial final line (no newline before EOF) is parsed like any other
// line, per spec §4.A.
func (p *Parser) Stream(r io.Reader, emit func(core.AgentEvent)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		for _, ev := range p.ParseLine(scanner.Text()) {
			emit(ev)
		}
	}
	if err := scanner.Err(); err != nil {
		emit(p.malformed("<stream error: " + err.Error() + ">"))
		return err
	}
	return nil
}
