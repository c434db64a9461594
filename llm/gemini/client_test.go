package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"google.golang.org/genai"

	"github.com/m-mizutani/remedy"
)

// stubAPIClient replays one canned generation and records the contents it
// was asked to complete.
type stubAPIClient struct {
	resp     *genai.GenerateContentResponse
	err      error
	contents [][]*genai.Content
}

func (s *stubAPIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	s.contents = append(s.contents, contents)
	return s.resp, s.err
}

func stubSession(api apiClient) *Session {
	return &Session{
		apiClient: api,
		model:     DefaultModel,
		config:    &genai.GenerateContentConfig{},
	}
}

func functionCallResponse(name string, args map[string]any) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role: genai.RoleModel,
				Parts: []*genai.Part{
					{Text: "inspecting"},
					{FunctionCall: &genai.FunctionCall{Name: name, Args: args}},
				},
			},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     21,
			CandidatesTokenCount: 6,
		},
	}
}

func TestGenerateContentFunctionCall(t *testing.T) {
	api := &stubAPIClient{resp: functionCallResponse("describe_pod",
		map[string]any{"pod": "web-1", "namespace": "default"})}
	session := stubSession(api)

	resp, err := session.GenerateContent(context.Background(), remedy.Text("what is wrong?"))
	gt.NoError(t, err)

	gt.A(t, resp.Texts).Length(1)
	gt.Equal(t, resp.Texts[0], "inspecting")
	gt.Equal(t, resp.InputToken, 21)
	gt.Equal(t, resp.OutputToken, 6)

	gt.A(t, resp.ToolCalls).Length(1)
	call := resp.ToolCalls[0]
	gt.Equal(t, call.Name, "describe_pod")
	gt.Equal(t, call.Arguments["pod"], "web-1")
	gt.S(t, call.Raw).Contains("web-1")

	// Gemini left the call ID empty, so one is synthesized for
	// observation correlation.
	gt.NotEqual(t, call.ID, "")

	// The model turn joins the session history after the user turn.
	gt.A(t, session.contents).Length(2)
	gt.Equal(t, session.contents[1].Role, genai.RoleModel)
}

func TestGenerateContentKeepsAssignedID(t *testing.T) {
	resp := functionCallResponse("describe_pod", map[string]any{"pod": "web-1"})
	resp.Candidates[0].Content.Parts[1].FunctionCall.ID = "fc-7"
	session := stubSession(&stubAPIClient{resp: resp})

	out, err := session.GenerateContent(context.Background(), remedy.Text("go"))
	gt.NoError(t, err)
	gt.Equal(t, out.ToolCalls[0].ID, "fc-7")
}

func TestGenerateContentMalformedArguments(t *testing.T) {
	// Arguments that cannot round-trip through JSON are a parse failure,
	// not a transport error.
	api := &stubAPIClient{resp: functionCallResponse("describe_pod",
		map[string]any{"bad": make(chan int)})}
	session := stubSession(api)

	_, err := session.GenerateContent(context.Background(), remedy.Text("go"))
	gt.Error(t, err)
	gt.True(t, errors.Is(err, remedy.ErrMalformedToolCall))
}

func TestGenerateContentEmptyCandidates(t *testing.T) {
	session := stubSession(&stubAPIClient{resp: &genai.GenerateContentResponse{}})

	resp, err := session.GenerateContent(context.Background(), remedy.Text("go"))
	gt.NoError(t, err)
	gt.A(t, resp.Texts).Length(0)
	gt.A(t, resp.ToolCalls).Length(0)
}

func TestConvertInputs(t *testing.T) {
	parts, err := convertInputs(
		remedy.Text("diagnose web-1"),
		remedy.ToolResponse{ID: "c1", Name: "describe_pod", Data: map[string]any{"phase": "Running"}},
		remedy.ToolResponse{ID: "c2", Name: "get_pod_logs", Error: errors.New("boom")},
	)
	gt.NoError(t, err)
	gt.A(t, parts).Length(3)

	gt.Equal(t, parts[0].Text, "diagnose web-1")

	gt.NotNil(t, parts[1].FunctionResponse)
	gt.Equal(t, parts[1].FunctionResponse.ID, "c1")
	gt.Equal(t, parts[1].FunctionResponse.Name, "describe_pod")
	gt.Equal(t, parts[1].FunctionResponse.Response["phase"], "Running")

	// Failures are delivered as an error_message payload the model can
	// react to.
	gt.NotNil(t, parts[2].FunctionResponse)
	msg := gt.Cast[string](t, parts[2].FunctionResponse.Response["error_message"])
	gt.S(t, msg).Contains("boom")
}
