package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Provider streams model output events for a request.
type Provider interface {
	Name() string
	Credential() string // Returns credential type for debugging (e.g., "api_key", "none")
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelLister is implemented by providers whose API can enumerate models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	ToolCalls bool
	Reasoning bool
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	Messages        []Message
	Tools           []ToolSpec
	MaxOutputTokens int
	Temperature     *float64
	TopP            *float64
}

// Role identifies a message role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole maps a wire role onto a Role. Anything unrecognized is a user turn.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleSystem, RoleAssistant:
		return Role(s)
	default:
		return RoleUser
	}
}

// Message holds a role with its text content.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SystemText creates a system message.
func SystemText(text string) Message {
	return Message{Role: RoleSystem, Content: text}
}

// UserText creates a user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Content: text}
}

// AssistantText creates an assistant message.
func AssistantText(text string) Message {
	return Message{Role: RoleAssistant, Content: text}
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string          `json:"call_id"`
	Name      string          `json:"fn_name"`
	Arguments json.RawMessage `json:"fn_arguments,omitempty"`
}

// EventType describes streaming events.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventReasoningDelta EventType = "reasoning_delta"
	EventToolCall       EventType = "tool_call"
	EventUsage          EventType = "usage"
	EventDone           EventType = "done"
	EventError          EventType = "error"
	EventRetry          EventType = "retry" // Emitted when retrying after rate limit
)

// Event represents a streamed output update.
type Event struct {
	Type EventType
	Text string
	Tool *ToolCall
	Use  *Usage
	Err  error
	// Retry fields (for EventRetry)
	RetryAttempt     int
	RetryMaxAttempts int
	RetryWaitSecs    float64
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Options are the per-call knobs a caller may set.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
}

// WithDefaults fills every field o leaves unset from d.
func (o Options) WithDefaults(d Options) Options {
	if o.Temperature == nil {
		o.Temperature = d.Temperature
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = d.MaxTokens
	}
	if o.TopP == nil {
		o.TopP = d.TopP
	}
	return o
}

// ChatResponse is the result of a non-streaming chat call.
type ChatResponse struct {
	Content   string           `json:"content"`
	Model     string           `json:"model"`
	Provider  string           `json:"provider"`
	ToolCalls []ToolCall       `json:"tool_calls,omitempty"`
	Usage     *Usage           `json:"usage,omitempty"`
	Metadata  ResponseMetadata `json:"metadata"`
}

// ResponseMetadata records when and how a response was produced.
type ResponseMetadata struct {
	Timestamp      time.Time `json:"timestamp"`
	ResponseTimeMS int64     `json:"response_time_ms"`
	Streamed       bool      `json:"streamed"`
}

// ModelInfo represents a model available from a provider.
type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Created     int64  `json:"created,omitempty"`
}
