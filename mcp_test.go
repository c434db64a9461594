package remedy

import (
	"context"
	"errors"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/mark3labs/mcp-go/mcp"
)

// fakeToolSet is a ToolSet backed by canned specs, standing in for a
// remote MCP server.
type fakeToolSet struct {
	specs []*ToolSpec
	calls []string
	args  map[string]any
}

func (f *fakeToolSet) Specs(ctx context.Context) ([]*ToolSpec, error) {
	return f.specs, nil
}

func (f *fakeToolSet) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, name)
	f.args = args
	return map[string]any{"result": "ok"}, nil
}

func TestToolsFromSet(t *testing.T) {
	set := &fakeToolSet{specs: []*ToolSpec{
		{Name: "lookup_runbook", Description: "find a runbook", Capability: CapabilityAct},
		{Name: "page_oncall", Description: "page the on-call engineer", Capability: CapabilityAct},
	}}

	tools, err := ToolsFromSet(context.Background(), set)
	gt.NoError(t, err)
	gt.A(t, tools).Length(2)
	gt.Equal(t, tools[0].Spec().Name, "lookup_runbook")
	gt.Equal(t, tools[1].Spec().Name, "page_oncall")

	// Run dispatches through the set with the tool's own name.
	out, err := tools[1].Run(context.Background(), map[string]any{"severity": "high"})
	gt.NoError(t, err)
	gt.Equal(t, out["result"], "ok")
	gt.A(t, set.calls).Length(1)
	gt.Equal(t, set.calls[0], "page_oncall")
	gt.Equal(t, set.args["severity"], "high")
}

func TestToolsFromSetRegisters(t *testing.T) {
	set := &fakeToolSet{specs: []*ToolSpec{
		{Name: "lookup_runbook", Description: "find a runbook", Capability: CapabilityAct},
	}}

	tools, err := ToolsFromSet(context.Background(), set)
	gt.NoError(t, err)

	registry, err := NewRegistry(tools...)
	gt.NoError(t, err)
	gt.Equal(t, registry.Len(), 1)
}

func TestInputSchemaToParameters(t *testing.T) {
	schema := mcp.ToolInputSchema{
		Type: "object",
		Properties: map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "search text",
			},
			"filters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"level": map[string]any{"type": "string"},
				},
			},
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"mode": map[string]any{
				"type": "string",
				"enum": []any{"fast", "full"},
			},
		},
		Required: []string{"query"},
	}

	params, err := inputSchemaToParameters(schema)
	gt.NoError(t, err)
	gt.Equal(t, len(params), 4)

	gt.Equal(t, params["query"].Type, TypeString)
	gt.Equal(t, params["query"].Description, "search text")

	gt.Equal(t, params["filters"].Type, TypeObject)
	gt.Equal(t, params["filters"].Properties["level"].Type, TypeString)

	gt.Equal(t, params["tags"].Type, TypeArray)
	gt.Equal(t, params["tags"].Items.Type, TypeString)

	gt.Equal(t, params["mode"].Enum, []string{"fast", "full"})
}

func TestInputSchemaToParametersInvalid(t *testing.T) {
	t.Run("property is not an object", func(t *testing.T) {
		_, err := inputSchemaToParameters(mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"broken": "just a string"},
		})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, ErrInvalidInputSchema))
	})

	t.Run("array without items", func(t *testing.T) {
		_, err := inputSchemaToParameters(mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{"tags": map[string]any{"type": "array"}},
		})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, ErrInvalidInputSchema))
	})
}

func TestMCPContentToMap(t *testing.T) {
	t.Run("json object passes through", func(t *testing.T) {
		out := mcpContentToMap([]mcp.Content{
			mcp.TextContent{Type: "text", Text: `{"status": "resolved"}`},
		})
		gt.Equal(t, out["status"], "resolved")
	})

	t.Run("json scalar is wrapped", func(t *testing.T) {
		out := mcpContentToMap([]mcp.Content{
			mcp.TextContent{Type: "text", Text: `42`},
		})
		gt.Equal[any](t, out["result"], float64(42))
	})

	t.Run("plain text is wrapped", func(t *testing.T) {
		out := mcpContentToMap([]mcp.Content{
			mcp.TextContent{Type: "text", Text: "no structured output"},
		})
		gt.Equal(t, out["result"], "no structured output")
	})

	t.Run("empty content", func(t *testing.T) {
		out := mcpContentToMap(nil)
		gt.Equal(t, len(out), 0)
	})
}
