package claude

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
)

var (
	// promptScope gates prompt dump logging for the Claude backend.
	promptScope = ctxlog.NewScope("claude_prompt", ctxlog.EnabledBy("REMEDY_LOGGING_CLAUDE_PROMPT"))

	// responseScope gates response dump logging.
	responseScope = ctxlog.NewScope("claude_response", ctxlog.EnabledBy("REMEDY_LOGGING_CLAUDE_RESPONSE"))
)

// generationParameters represents the parameters for text generation.
type generationParameters struct {
	// Temperature controls randomness in the output.
	Temperature float64

	// TopP controls diversity via nucleus sampling.
	TopP float64

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int64
}

// Client is a remedy.LLMClient for Anthropic's Claude models.
type Client struct {
	client *anthropic.Client

	// defaultModel is the model to use for chat completions.
	defaultModel string

	params generationParameters
}

// Option is a function that configures a Client.
type Option func(*Client)

// WithModel sets the model to use for chat completions.
func WithModel(modelName string) Option {
	return func(c *Client) {
		c.defaultModel = modelName
	}
}

// WithTemperature sets the temperature parameter for text generation.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the top_p parameter for text generation.
func WithTopP(topP float64) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int64) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// New creates a new client for the Claude API.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("api key is required")
	}

	client := &Client{
		defaultModel: string(anthropic.ModelClaudeSonnet4_0),
		params: generationParameters{
			Temperature: 0.1,
			TopP:        1.0,
			MaxTokens:   4096,
		},
	}

	for _, option := range options {
		option(client)
	}

	newClient := anthropic.NewClient(option.WithAPIKey(apiKey))
	client.client = &newClient

	return client, nil
}

// Session is a stateful conversation against the Claude API.
type Session struct {
	client       *anthropic.Client
	defaultModel string
	system       []anthropic.TextBlockParam
	tools        []anthropic.ToolUnionParam
	messages     []anthropic.MessageParam
	params       generationParameters
}

// NewSession creates a new session. The tool catalog from the session
// config is converted to Claude tool definitions.
func (c *Client) NewSession(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
	cfg := remedy.NewSessionConfig(options...)

	tools := make([]anthropic.ToolUnionParam, len(cfg.Tools()))
	for i, spec := range cfg.Tools() {
		tools[i] = convertTool(spec)
	}

	var system []anthropic.TextBlockParam
	if cfg.SystemPrompt() != "" {
		system = []anthropic.TextBlockParam{{Text: cfg.SystemPrompt()}}
	}

	return &Session{
		client:       c.client,
		defaultModel: c.defaultModel,
		system:       system,
		tools:        tools,
		params:       c.params,
	}, nil
}

// convertInputs converts remedy inputs to Claude message params. Tool
// results are grouped into a single user message as the API requires.
func convertInputs(input ...remedy.Input) ([]anthropic.MessageParam, error) {
	var messages []anthropic.MessageParam
	var toolResults []anthropic.ContentBlockParamUnion

	for _, in := range input {
		switch v := in.(type) {
		case remedy.Text:
			messages = append(messages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(string(v)),
			))

		case remedy.ToolResponse:
			content := v.String()
			if v.Error == nil {
				raw, err := json.Marshal(v.Data)
				if err != nil {
					return nil, goerr.Wrap(err, "failed to marshal tool response")
				}
				content = string(raw)
			}
			toolResults = append(toolResults, anthropic.NewToolResultBlock(v.ID, content, v.Error != nil))

		default:
			return nil, goerr.New("unsupported input type", goerr.V("input", in))
		}
	}

	if len(toolResults) > 0 {
		messages = append(messages, anthropic.NewUserMessage(toolResults...))
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

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.defaultModel),
		MaxTokens:   s.params.MaxTokens,
		Temperature: anthropic.Float(s.params.Temperature),
		TopP:        anthropic.Float(s.params.TopP),
		System:      s.system,
		Tools:       s.tools,
		Messages:    s.messages,
	}

	s.logPrompt(ctx)

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create message")
	}

	s.messages = append(s.messages, resp.ToParam())
	s.logResponse(ctx, resp)

	return processResponse(resp)
}

// processResponse converts a Claude message into a remedy.Response.
func processResponse(resp *anthropic.Message) (*remedy.Response, error) {
	response := &remedy.Response{
		InputToken:  int(resp.Usage.InputTokens),
		OutputToken: int(resp.Usage.OutputTokens),
	}

	for _, content := range resp.Content {
		switch block := content.AsAny().(type) {
		case anthropic.TextBlock:
			response.Texts = append(response.Texts, block.Text)

		case anthropic.ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal([]byte(block.Input), &args); err != nil {
				return nil, goerr.Wrap(remedy.ErrMalformedToolCall, "tool input is not valid JSON",
					goerr.V("tool_name", block.Name),
					goerr.V("raw", string(block.Input)))
			}
			response.ToolCalls = append(response.ToolCalls, &remedy.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
				Raw:       string(block.Input),
			})
		}
	}

	return response, nil
}

func (s *Session) logPrompt(ctx context.Context) {
	logger := ctxlog.From(ctx, promptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	system := ""
	if len(s.system) > 0 {
		system = s.system[0].Text
	}
	logger.Info("Claude prompt",
		"model", s.defaultModel,
		"system_prompt", system,
		"messages", len(s.messages),
	)
}

func (s *Session) logResponse(ctx context.Context, resp *anthropic.Message) {
	logger := ctxlog.From(ctx, responseScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var content []map[string]any
	for _, cb := range resp.Content {
		switch block := cb.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, map[string]any{"type": "text", "text": block.Text})
		case anthropic.ToolUseBlock:
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    block.ID,
				"name":  block.Name,
				"input": string(block.Input),
			})
		}
	}
	logger.Info("Claude response",
		"model", resp.Model,
		"stop_reason", resp.StopReason,
		"usage", map[string]any{
			"input_tokens":  resp.Usage.InputTokens,
			"output_tokens": resp.Usage.OutputTokens,
		},
		"content", content,
	)
}
