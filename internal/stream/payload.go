package stream

import (
	"time"

	"github.com/samsaffron/aye/internal/llm"
)

// EventType tags a Payload.
type EventType string

const (
	EventStart     EventType = "Start"
	EventChunk     EventType = "Chunk"
	EventToolCall  EventType = "ToolCall"
	EventReasoning EventType = "Reasoning"
	EventEnd       EventType = "End"
	EventError     EventType = "Error"
)

// Terminal reports whether no event can follow one of this type.
func (t EventType) Terminal() bool {
	return t == EventEnd || t == EventError
}

// Payload is what listeners receive for every stream event.
type Payload struct {
	EventType EventType      `json:"event_type"`
	StreamID  string         `json:"stream_id"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}

// ToolCallData is the listener-facing shape of a tool call. Arguments are
// decoded (and repaired if truncated) rather than left as raw JSON text.
type ToolCallData struct {
	CallID    string `json:"call_id"`
	FnName    string `json:"fn_name"`
	Arguments any    `json:"fn_arguments"`
}

func toolCallData(call llm.ToolCall) ToolCallData {
	return ToolCallData{
		CallID:    call.ID,
		FnName:    call.Name,
		Arguments: llm.ParseToolArguments(call.Arguments),
	}
}

// MessageInput is one message of a stream request. Unknown roles are sent
// as user messages.
type MessageInput struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request asks for a new streaming session.
type Request struct {
	Model    string         `json:"model"`
	Messages []MessageInput `json:"messages"`
	Options  llm.Options    `json:"options"`
	Tools    []llm.ToolSpec `json:"tools,omitempty"`
}

func (r Request) chatRequest() llm.ChatRequest {
	msgs := make([]llm.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, llm.Message{Role: llm.ParseRole(m.Role), Content: m.Content})
	}
	return llm.ChatRequest{
		Model:    r.Model,
		Messages: msgs,
		Options:  r.Options,
		Tools:    r.Tools,
	}
}
