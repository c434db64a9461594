package openai

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/sashabaranov/go-openai"

	"github.com/m-mizutani/remedy"
)

// stubAPIClient replays one canned completion and records requests.
type stubAPIClient struct {
	resp openai.ChatCompletionResponse
	err  error
	reqs []openai.ChatCompletionRequest
}

func (s *stubAPIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

func stubSession(api apiClient) *Session {
	return &Session{apiClient: api, defaultModel: DefaultModel}
}

func TestGenerateContentToolCalls(t *testing.T) {
	api := &stubAPIClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				Content: "checking the pod",
				ToolCalls: []openai.ToolCall{{
					ID:   "call-1",
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      "describe_pod",
						Arguments: `{"pod":"web-1","namespace":"default"}`,
					},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 12, CompletionTokens: 4},
	}}
	session := stubSession(api)

	resp, err := session.GenerateContent(context.Background(), remedy.Text("what is wrong?"))
	gt.NoError(t, err)

	gt.A(t, resp.Texts).Length(1)
	gt.Equal(t, resp.Texts[0], "checking the pod")
	gt.A(t, resp.ToolCalls).Length(1)

	call := resp.ToolCalls[0]
	gt.Equal(t, call.ID, "call-1")
	gt.Equal(t, call.Name, "describe_pod")
	gt.Equal(t, call.Arguments["pod"], "web-1")
	gt.S(t, call.Raw).Contains("web-1")

	gt.Equal(t, resp.InputToken, 12)
	gt.Equal(t, resp.OutputToken, 4)

	// History keeps the user turn and the assistant reply.
	gt.A(t, session.messages).Length(2)
	gt.Equal(t, session.messages[0].Role, openai.ChatMessageRoleUser)
	gt.Equal(t, session.messages[1].Role, openai.ChatMessageRoleAssistant)
}

func TestGenerateContentMalformedArguments(t *testing.T) {
	api := &stubAPIClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{
				ToolCalls: []openai.ToolCall{{
					ID:       "call-1",
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: "describe_pod", Arguments: `{"pod":`},
				}},
			},
		}},
		Usage: openai.Usage{PromptTokens: 7},
	}}
	session := stubSession(api)

	_, err := session.GenerateContent(context.Background(), remedy.Text("go"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrMalformedToolCall))
}

func TestGenerateContentEmptyChoices(t *testing.T) {
	session := stubSession(&stubAPIClient{})

	resp, err := session.GenerateContent(context.Background(), remedy.Text("go"))
	gt.NoError(t, err)
	gt.A(t, resp.Texts).Length(0)
	gt.A(t, resp.ToolCalls).Length(0)
}

func TestConvertInputs(t *testing.T) {
	messages, err := convertInputs(
		remedy.Text("diagnose web-1"),
		remedy.ToolResponse{ID: "c1", Name: "describe_pod", Data: map[string]any{"phase": "Running"}},
		remedy.ToolResponse{ID: "c2", Name: "get_pod_logs", Error: errors.New("boom")},
	)
	gt.NoError(t, err)
	gt.A(t, messages).Length(3)

	gt.Equal(t, messages[0].Role, openai.ChatMessageRoleUser)
	gt.Equal(t, messages[0].Content, "diagnose web-1")

	gt.Equal(t, messages[1].Role, openai.ChatMessageRoleTool)
	gt.Equal(t, messages[1].ToolCallID, "c1")
	gt.S(t, messages[1].Content).Contains(`"phase":"Running"`)

	gt.Equal(t, messages[2].Role, openai.ChatMessageRoleTool)
	gt.Equal(t, messages[2].ToolCallID, "c2")
	gt.S(t, messages[2].Content).Contains("boom")
}

func TestUsageFallbackEstimatesTokens(t *testing.T) {
	if _, ok := os.LookupEnv("TEST_TIKTOKEN"); !ok {
		t.Skip("TEST_TIKTOKEN is not set; tiktoken fetches encodings on first use")
	}

	// Compatible endpoints that omit usage still get a local estimate.
	api := &stubAPIClient{resp: openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{
			Message: openai.ChatCompletionMessage{Content: "ok"},
		}},
	}}
	session := stubSession(api)

	resp, err := session.GenerateContent(context.Background(), remedy.Text("hello there"))
	gt.NoError(t, err)
	gt.N(t, resp.InputToken).Greater(0)
}
