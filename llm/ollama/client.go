package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	ollama "github.com/ollama/ollama/api"
)

const (
	DefaultModel = "qwen2.5:14b"
	DefaultHost  = "http://localhost:11434"
)

var (
	// promptScope gates prompt dump logging for the Ollama backend.
	promptScope = ctxlog.NewScope("ollama_prompt", ctxlog.EnabledBy("REMEDY_LOGGING_OLLAMA_PROMPT"))

	// responseScope gates response dump logging.
	responseScope = ctxlog.NewScope("ollama_response", ctxlog.EnabledBy("REMEDY_LOGGING_OLLAMA_RESPONSE"))
)

// Client is a remedy.LLMClient for a local Ollama inference server.
//
// Local models are unreliable function callers: many emit the tool call as
// JSON in the message text instead of a structured field. The session
// therefore advertises the catalog through the system prompt and recovers
// tool calls from plain text with a balanced-brace extractor. Output that
// looks like a call attempt but cannot be decoded surfaces as
// remedy.ErrMalformedToolCall so the engine can ask for a retry.
type Client struct {
	client *ollama.Client

	// defaultModel is the model to use for chat.
	defaultModel string

	host        string
	temperature float64
	timeout     time.Duration
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithModel sets the model to use for chat.
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithHost sets the Ollama server address. Default is DefaultHost.
func WithHost(host string) Option {
	return func(c *Client) {
		c.host = host
	}
}

// WithTemperature sets the temperature parameter for generation.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.temperature = temp
	}
}

// WithTimeout bounds a single chat request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a new client for an Ollama server.
func New(ctx context.Context, options ...Option) (*Client, error) {
	client := &Client{
		defaultModel: DefaultModel,
		host:         DefaultHost,
		temperature:  0.1,
		timeout:      120 * time.Second,
	}

	for _, option := range options {
		option(client)
	}

	u, err := url.Parse(client.host)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid ollama host", goerr.V("host", client.host))
	}
	client.client = ollama.NewClient(u, &http.Client{Timeout: client.timeout})

	return client, nil
}

// Session is a stateful conversation against an Ollama server.
type Session struct {
	apiClient   apiClient
	model       string
	temperature float64
	messages    []ollama.Message
	toolNames   map[string]bool
}

// NewSession creates a new session. The tool catalog is rendered into the
// system prompt because structured tool support varies by model.
func (c *Client) NewSession(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
	cfg := remedy.NewSessionConfig(options...)

	toolNames := make(map[string]bool, len(cfg.Tools()))
	for _, spec := range cfg.Tools() {
		toolNames[spec.Name] = true
	}

	system := cfg.SystemPrompt()
	if len(cfg.Tools()) > 0 {
		system = strings.TrimSpace(system + "\n\n" + catalogPrompt(cfg.Tools()))
	}

	var messages []ollama.Message
	if system != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: system})
	}

	return &Session{
		apiClient:   &realAPIClient{client: c.client},
		model:       c.defaultModel,
		temperature: c.temperature,
		messages:    messages,
		toolNames:   toolNames,
	}, nil
}

// catalogPrompt renders the tool catalog and calling convention for models
// without native function calling.
func catalogPrompt(tools []*remedy.ToolSpec) string {
	var sb strings.Builder
	sb.WriteString("You can call the following tools. To call one, reply with a single JSON object\n")
	sb.WriteString(`of the form {"name": "<tool>", "arguments": {...}} and nothing else.` + "\n\nTools:\n")

	for _, spec := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", spec.Name, spec.Description)

		names := make([]string, 0, len(spec.Parameters))
		for name := range spec.Parameters {
			names = append(names, name)
		}
		sort.Strings(names)
		required := make(map[string]bool, len(spec.Required))
		for _, r := range spec.Required {
			required[r] = true
		}
		for _, name := range names {
			param := spec.Parameters[name]
			marker := "optional"
			if required[name] {
				marker = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s\n", name, param.Type, marker, param.Description)
		}
	}
	return sb.String()
}

// convertInputs converts remedy inputs to Ollama chat messages.
func convertInputs(input ...remedy.Input) ([]ollama.Message, error) {
	messages := make([]ollama.Message, 0, len(input))

	for _, in := range input {
		switch v := in.(type) {
		case remedy.Text:
			messages = append(messages, ollama.Message{Role: "user", Content: string(v)})

		case remedy.ToolResponse:
			content := v.String()
			if v.Error == nil {
				raw, err := json.Marshal(v.Data)
				if err != nil {
					return nil, goerr.Wrap(err, "failed to marshal tool response")
				}
				content = fmt.Sprintf("Result of %s: %s", v.Name, raw)
			}
			messages = append(messages, ollama.Message{Role: "tool", Content: content})

		default:
			return nil, goerr.New("unsupported input type", goerr.V("input", in))
		}
	}

	return messages, nil
}

// GenerateContent sends the inputs and returns the model's next step.
func (s *Session) GenerateContent(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
	newMessages, err := convertInputs(input...)
	if err != nil {
		return nil, err
	}
	s.messages = append(s.messages, newMessages...)

	stream := false
	req := &ollama.ChatRequest{
		Model:    s.model,
		Messages: s.messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": s.temperature,
		},
	}

	s.logPrompt(ctx)

	resp, err := s.apiClient.Chat(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to chat with ollama")
	}

	s.messages = append(s.messages, resp.Message)
	s.logResponse(ctx, resp)

	response := &remedy.Response{
		InputToken:  resp.PromptEvalCount,
		OutputToken: resp.EvalCount,
	}

	// Native tool calls, when the model and server support them.
	for _, tc := range resp.Message.ToolCalls {
		args := map[string]any(tc.Function.Arguments)
		raw, _ := json.Marshal(args)
		response.ToolCalls = append(response.ToolCalls, &remedy.ToolCall{
			ID:        syntheticCallID(),
			Name:      tc.Function.Name,
			Arguments: args,
			Raw:       string(raw),
		})
	}

	text := resp.Message.Content
	if len(response.ToolCalls) == 0 && text != "" {
		calls, err := parseToolCalls(text, s.toolNames)
		if err != nil {
			return nil, err
		}
		if len(calls) > 0 {
			response.ToolCalls = calls
		} else {
			response.Texts = append(response.Texts, text)
		}
		return response, nil
	}

	if text != "" {
		response.Texts = append(response.Texts, text)
	}
	return response, nil
}

func (s *Session) logPrompt(ctx context.Context) {
	logger := ctxlog.From(ctx, promptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var messages []map[string]string
	for _, msg := range s.messages {
		messages = append(messages, map[string]string{"role": msg.Role, "content": msg.Content})
	}
	logger.Info("Ollama prompt", "model", s.model, "messages", messages)
}

func (s *Session) logResponse(ctx context.Context, resp *ollama.ChatResponse) {
	logger := ctxlog.From(ctx, responseScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}
	logger.Info("Ollama response",
		"model", resp.Model,
		"done_reason", resp.DoneReason,
		"content", resp.Message.Content,
		"tool_calls", len(resp.Message.ToolCalls),
	)
}
