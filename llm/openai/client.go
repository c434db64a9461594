package openai

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"github.com/sashabaranov/go-openai"
)

var (
	// promptScope gates prompt dump logging for OpenAI-compatible backends.
	promptScope = ctxlog.NewScope("openai_prompt", ctxlog.EnabledBy("REMEDY_LOGGING_OPENAI_PROMPT"))

	// responseScope gates response dump logging.
	responseScope = ctxlog.NewScope("openai_response", ctxlog.EnabledBy("REMEDY_LOGGING_OPENAI_RESPONSE"))
)

const DefaultModel = "gpt-4o"

// generationParameters represents the parameters for text generation.
type generationParameters struct {
	// Temperature controls randomness in the output. The default of 0.1
	// keeps diagnosis runs close to deterministic.
	Temperature float32

	// TopP controls diversity via nucleus sampling.
	TopP float32

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int
}

// Client is a remedy.LLMClient for the OpenAI API and for any
// OpenAI-compatible endpoint selected with WithBaseURL.
type Client struct {
	client *openai.Client

	// defaultModel is the model to use for chat completions.
	defaultModel string

	// baseURL overrides the default OpenAI endpoint. This is how
	// Moonshot/Kimi and other compatible providers are reached.
	baseURL string

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
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the top_p parameter for text generation.
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// WithBaseURL sets a custom base URL, enabling OpenAI-compatible endpoints,
// proxies and self-hosted gateways.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// New creates a new client for the OpenAI API.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, goerr.New("api key is required")
	}

	client := &Client{
		defaultModel: DefaultModel,
		params: generationParameters{
			Temperature: 0.1,
		},
	}

	for _, option := range options {
		option(client)
	}

	config := openai.DefaultConfig(apiKey)
	if client.baseURL != "" {
		config.BaseURL = client.baseURL
	}
	client.client = openai.NewClientWithConfig(config)

	return client, nil
}

// Session is a stateful conversation against an OpenAI-compatible backend.
type Session struct {
	apiClient    apiClient
	defaultModel string
	tools        []openai.Tool
	messages     []openai.ChatCompletionMessage
	params       generationParameters
}

// NewSession creates a new session. The tool catalog from the session
// config is converted to OpenAI function definitions.
func (c *Client) NewSession(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
	cfg := remedy.NewSessionConfig(options...)

	tools := make([]openai.Tool, len(cfg.Tools()))
	for i, spec := range cfg.Tools() {
		tools[i] = convertTool(spec)
	}

	var messages []openai.ChatCompletionMessage
	if cfg.SystemPrompt() != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: cfg.SystemPrompt(),
		})
	}

	return &Session{
		apiClient:    &realAPIClient{client: c.client},
		defaultModel: c.defaultModel,
		tools:        tools,
		messages:     messages,
		params:       c.params,
	}, nil
}

// convertInputs converts remedy inputs into OpenAI chat messages.
func convertInputs(input ...remedy.Input) ([]openai.ChatCompletionMessage, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(input))

	for _, in := range input {
		switch v := in.(type) {
		case remedy.Text:
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: string(v),
			})

		case remedy.ToolResponse:
			content := v.String()
			if v.Error == nil {
				raw, err := json.Marshal(v.Data)
				if err != nil {
					return nil, goerr.Wrap(err, "failed to marshal tool response")
				}
				content = string(raw)
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    content,
				ToolCallID: v.ID,
			})

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

	req := openai.ChatCompletionRequest{
		Model:       s.defaultModel,
		Messages:    s.messages,
		Tools:       s.tools,
		Temperature: s.params.Temperature,
		TopP:        s.params.TopP,
		MaxTokens:   s.params.MaxTokens,
	}

	s.logPrompt(ctx)

	resp, err := s.apiClient.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create chat completion")
	}
	if len(resp.Choices) == 0 {
		return &remedy.Response{}, nil
	}

	message := resp.Choices[0].Message
	response := &remedy.Response{
		InputToken:  resp.Usage.PromptTokens,
		OutputToken: resp.Usage.CompletionTokens,
	}
	if response.InputToken == 0 {
		// Compatible endpoints do not always report usage; estimate the
		// prompt side locally so budget accounting keeps working.
		if estimated, countErr := s.CountToken(ctx); countErr == nil {
			response.InputToken = estimated
		}
	}
	if message.Content != "" {
		response.Texts = append(response.Texts, message.Content)
	}

	for _, tc := range message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, goerr.Wrap(remedy.ErrMalformedToolCall, "tool arguments are not valid JSON",
				goerr.V("tool_name", tc.Function.Name),
				goerr.V("raw", tc.Function.Arguments))
		}
		response.ToolCalls = append(response.ToolCalls, &remedy.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
			Raw:       tc.Function.Arguments,
		})
	}

	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:      openai.ChatMessageRoleAssistant,
		Content:   message.Content,
		ToolCalls: message.ToolCalls,
	})

	s.logResponse(ctx, resp)

	return response, nil
}

// logPrompt dumps the conversation when REMEDY_LOGGING_OPENAI_PROMPT is set.
func (s *Session) logPrompt(ctx context.Context) {
	logger := ctxlog.From(ctx, promptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var messages []map[string]string
	for _, msg := range s.messages {
		messages = append(messages, map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		})
	}
	logger.Info("OpenAI prompt", "model", s.defaultModel, "messages", messages)
}

// logResponse dumps the raw reply when REMEDY_LOGGING_OPENAI_RESPONSE is set.
func (s *Session) logResponse(ctx context.Context, resp openai.ChatCompletionResponse) {
	logger := ctxlog.From(ctx, responseScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	message := resp.Choices[0].Message
	var content []map[string]any
	if message.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": message.Content})
	}
	for _, tc := range message.ToolCalls {
		content = append(content, map[string]any{
			"type":      "tool_use",
			"id":        tc.ID,
			"name":      tc.Function.Name,
			"arguments": tc.Function.Arguments,
		})
	}
	logger.Info("OpenAI response",
		"model", resp.Model,
		"finish_reason", resp.Choices[0].FinishReason,
		"usage", map[string]any{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
		},
		"content", content,
	)
}
