package remedy

import (
	"context"
	"fmt"
	"log/slog"
)

// LLMClient creates sessions against one model backend.
type LLMClient interface {
	// NewSession creates a stateful conversation. The session keeps the
	// provider-native message history; the engine keeps the transcript.
	NewSession(ctx context.Context, options ...SessionOption) (Session, error)
}

// Session is a stateful conversation with a model. GenerateContent sends the
// given inputs and returns the model's next step.
//
// When the model emitted tool-call syntax that cannot be parsed, the session
// returns an error matching ErrMalformedToolCall. The engine treats that as a
// recoverable condition, not a transport failure.
type Session interface {
	GenerateContent(ctx context.Context, input ...Input) (*Response, error)
}

// SessionOption configures a new session.
type SessionOption func(*SessionConfig)

// SessionConfig carries the settings a backend needs to open a session.
type SessionConfig struct {
	systemPrompt string
	tools        []*ToolSpec
}

// NewSessionConfig applies options and returns the resulting config.
func NewSessionConfig(options ...SessionOption) SessionConfig {
	var cfg SessionConfig
	for _, opt := range options {
		opt(&cfg)
	}
	return cfg
}

func (c *SessionConfig) SystemPrompt() string { return c.systemPrompt }
func (c *SessionConfig) Tools() []*ToolSpec   { return c.tools }

// WithSessionSystemPrompt sets the system prompt for the session.
func WithSessionSystemPrompt(prompt string) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.systemPrompt = prompt
	}
}

// WithSessionTools advertises the tool catalog to the model.
func WithSessionTools(tools ...*ToolSpec) SessionOption {
	return func(cfg *SessionConfig) {
		cfg.tools = append(cfg.tools, tools...)
	}
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its observation. Backends that do not
	// assign IDs get one synthesized by the adapter.
	ID string

	// Name is the requested tool name.
	Name string

	// Arguments is the decoded argument object.
	Arguments map[string]any

	// Raw preserves the textual form the call was parsed from, for
	// diagnostics when arguments are rejected.
	Raw string
}

// LogValue renders the call for structured logs.
func (c ToolCall) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", c.ID),
		slog.String("name", c.Name),
		slog.Any("arguments", c.Arguments),
	)
}

// Response is the model's next step: free text, tool calls, or both.
type Response struct {
	Texts     []string
	ToolCalls []*ToolCall

	// Token accounting as reported by the backend, zero when unavailable.
	InputToken  int
	OutputToken int
}

// HasToolCalls reports whether the model requested any tool.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Input is the interface for data sent to the session. Only types in this
// package implement it.
type Input interface {
	isInput()
}

// Text is a plain text input to the model.
type Text string

func (t Text) isInput() {}

// ToolResponse feeds a tool observation back to the model. Exactly one
// ToolResponse is sent per dispatched ToolCall.
type ToolResponse struct {
	// ID must match the originating ToolCall.ID.
	ID string

	// Name is the tool name.
	Name string

	// Data is the successful result payload.
	Data map[string]any

	// Error is set instead of Data when the tool failed, was declined, or
	// was rejected by validation. Backends render it so the model can react.
	Error error
}

func (r ToolResponse) isInput() {}

func (r ToolResponse) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s (%s): error: %v", r.Name, r.ID, r.Error)
	}
	return fmt.Sprintf("%s (%s): %v", r.Name, r.ID, r.Data)
}

// LogValue renders the response for structured logs.
func (r ToolResponse) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", r.ID),
		slog.String("name", r.Name),
	}
	if r.Error != nil {
		attrs = append(attrs, slog.String("error", r.Error.Error()))
	} else {
		attrs = append(attrs, slog.Any("data", r.Data))
	}
	return slog.GroupValue(attrs...)
}
