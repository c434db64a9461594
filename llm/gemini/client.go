package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.5-flash"

var (
	// promptScope gates prompt dump logging for the Gemini backend.
	promptScope = ctxlog.NewScope("gemini_prompt", ctxlog.EnabledBy("REMEDY_LOGGING_GEMINI_PROMPT"))

	// responseScope gates response dump logging.
	responseScope = ctxlog.NewScope("gemini_response", ctxlog.EnabledBy("REMEDY_LOGGING_GEMINI_RESPONSE"))
)

// Client is a remedy.LLMClient for Google's Gemini models via the Vertex AI
// backend.
type Client struct {
	projectID string
	location  string

	client *genai.Client

	// defaultModel is the model to use for chat completions.
	defaultModel string

	// generationConfig contains the default generation parameters
	generationConfig *genai.GenerateContentConfig
}

// Option is a configuration option for the Gemini client.
type Option func(*Client)

// WithModel sets the model to use for text generation.
func WithModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithTemperature sets the temperature parameter for text generation.
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.generationConfig.Temperature = &temp
	}
}

// WithTopP sets the top_p parameter for text generation.
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.generationConfig.TopP = &topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int32) Option {
	return func(c *Client) {
		c.generationConfig.MaxOutputTokens = maxTokens
	}
}

// New creates a new client for the Gemini API on Vertex AI.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	if projectID == "" {
		return nil, goerr.New("projectID is required")
	}
	if location == "" {
		return nil, goerr.New("location is required")
	}

	temp := float32(0.1)
	client := &Client{
		projectID:    projectID,
		location:     location,
		defaultModel: DefaultModel,
		generationConfig: &genai.GenerateContentConfig{
			Temperature: &temp,
		},
	}

	for _, option := range options {
		option(client)
	}

	newClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Gemini client")
	}
	client.client = newClient

	return client, nil
}

// Session is a stateful conversation against the Gemini API.
type Session struct {
	apiClient apiClient
	model     string
	config    *genai.GenerateContentConfig
	contents  []*genai.Content
}

// NewSession creates a new session. The tool catalog from the session
// config becomes a single genai.Tool with one function declaration per
// tool.
func (c *Client) NewSession(ctx context.Context, options ...remedy.SessionOption) (remedy.Session, error) {
	cfg := remedy.NewSessionConfig(options...)

	config := &genai.GenerateContentConfig{
		Temperature:     c.generationConfig.Temperature,
		TopP:            c.generationConfig.TopP,
		MaxOutputTokens: c.generationConfig.MaxOutputTokens,
	}

	if cfg.SystemPrompt() != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemPrompt()}},
		}
	}

	if len(cfg.Tools()) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(cfg.Tools()))
		for i, spec := range cfg.Tools() {
			declarations[i] = convertTool(spec)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return &Session{
		apiClient: &realAPIClient{client: c.client},
		model:     c.defaultModel,
		config:    config,
	}, nil
}

// convertInputs converts remedy inputs to Gemini parts.
func convertInputs(input ...remedy.Input) ([]*genai.Part, error) {
	parts := make([]*genai.Part, 0, len(input))

	for _, in := range input {
		switch v := in.(type) {
		case remedy.Text:
			parts = append(parts, &genai.Part{Text: string(v)})

		case remedy.ToolResponse:
			response := v.Data
			if v.Error != nil {
				response = map[string]any{"error_message": fmt.Sprintf("%+v", v.Error)}
			}
			parts = append(parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       v.ID,
					Name:     v.Name,
					Response: response,
				},
			})

		default:
			return nil, goerr.New("unsupported input type", goerr.V("input", in))
		}
	}

	return parts, nil
}

// GenerateContent sends the inputs and returns the model's next step.
func (s *Session) GenerateContent(ctx context.Context, input ...remedy.Input) (*remedy.Response, error) {
	parts, err := convertInputs(input...)
	if err != nil {
		return nil, err
	}
	if len(parts) > 0 {
		s.contents = append(s.contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}

	s.logPrompt(ctx)

	result, err := s.apiClient.GenerateContent(ctx, s.model, s.contents, s.config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate content")
	}

	response, modelContent, err := processResponse(result)
	if err != nil {
		return nil, err
	}
	if modelContent != nil {
		s.contents = append(s.contents, modelContent)
	}

	s.logResponse(ctx, response)

	return response, nil
}

// processResponse converts a Gemini result into a remedy.Response and the
// model content to keep in the history. Gemini does not always assign
// function call IDs, so missing ones are synthesized for observation
// correlation.
func processResponse(result *genai.GenerateContentResponse) (*remedy.Response, *genai.Content, error) {
	response := &remedy.Response{}
	if result.UsageMetadata != nil {
		response.InputToken = int(result.UsageMetadata.PromptTokenCount)
		response.OutputToken = int(result.UsageMetadata.CandidatesTokenCount)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil {
		return response, nil, nil
	}

	content := result.Candidates[0].Content
	for _, part := range content.Parts {
		if part.Text != "" {
			response.Texts = append(response.Texts, part.Text)
		}
		if part.FunctionCall != nil {
			fc := part.FunctionCall
			id := fc.ID
			if id == "" {
				id = uuid.New().String()
				fc.ID = id
			}
			raw, err := json.Marshal(fc.Args)
			if err != nil {
				return nil, nil, goerr.Wrap(remedy.ErrMalformedToolCall, "function call arguments are not encodable",
					goerr.V("tool_name", fc.Name))
			}
			response.ToolCalls = append(response.ToolCalls, &remedy.ToolCall{
				ID:        id,
				Name:      fc.Name,
				Arguments: fc.Args,
				Raw:       string(raw),
			})
		}
	}

	return response, content, nil
}

func (s *Session) logPrompt(ctx context.Context) {
	logger := ctxlog.From(ctx, promptScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var messages []map[string]any
	for _, content := range s.contents {
		for _, part := range content.Parts {
			if part.Text != "" {
				messages = append(messages, map[string]any{
					"role": content.Role, "type": "text", "content": part.Text,
				})
			}
			if part.FunctionResponse != nil {
				messages = append(messages, map[string]any{
					"role": content.Role, "type": "function_response",
					"name": part.FunctionResponse.Name, "response": part.FunctionResponse.Response,
				})
			}
		}
	}
	logger.Info("Gemini prompt", "model", s.model, "messages", messages)
}

func (s *Session) logResponse(ctx context.Context, response *remedy.Response) {
	logger := ctxlog.From(ctx, responseScope)
	if !logger.Enabled(ctx, slog.LevelInfo) {
		return
	}

	var content []map[string]any
	for _, text := range response.Texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	for _, call := range response.ToolCalls {
		content = append(content, map[string]any{
			"type": "function_call", "id": call.ID, "name": call.Name, "arguments": call.Arguments,
		})
	}
	logger.Info("Gemini response",
		"model", s.model,
		"usage", map[string]any{
			"input_tokens":  response.InputToken,
			"output_tokens": response.OutputToken,
		},
		"content", content,
	)
}
