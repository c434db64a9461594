package remedy

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPClient attaches an external MCP tool server to the engine. Discovered
// tools are classified CapabilityAct: the engine cannot know whether a
// remote tool mutates anything, so the safety gate stays in front of it.
type MCPClient struct {
	// For a local MCP server executable.
	path    string
	args    []string
	envVars []string

	// For a remote MCP server.
	baseURL string
	headers map[string]string

	client     *client.Client
	initResult *mcp.InitializeResult

	initMutex sync.Mutex
}

// MCPStdioOption configures a stdio MCP client.
type MCPStdioOption func(*MCPClient)

// WithEnvVars appends environment variables for the server process.
func WithEnvVars(envVars []string) MCPStdioOption {
	return func(m *MCPClient) {
		m.envVars = append(m.envVars, envVars...)
	}
}

// MCPSSEOption configures an SSE MCP client.
type MCPSSEOption func(*MCPClient)

// WithHeaders replaces the HTTP headers sent to the server.
func WithHeaders(headers map[string]string) MCPSSEOption {
	return func(m *MCPClient) {
		m.headers = headers
	}
}

// NewMCPStdio creates an MCP client for a local server executable.
func NewMCPStdio(path string, args []string, options ...MCPStdioOption) *MCPClient {
	c := &MCPClient{path: path, args: args}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// NewMCPSSE creates an MCP client for a remote server via HTTP SSE.
func NewMCPSSE(baseURL string, options ...MCPSSEOption) *MCPClient {
	c := &MCPClient{baseURL: baseURL}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *MCPClient) start(ctx context.Context) error {
	c.initMutex.Lock()
	defer c.initMutex.Unlock()

	if c.initResult != nil {
		return nil
	}

	var tp transport.Interface
	if c.path != "" {
		tp = transport.NewStdio(c.path, c.envVars, c.args...)
	}
	if c.baseURL != "" {
		sse, err := transport.NewSSE(c.baseURL, transport.WithHeaders(c.headers))
		if err != nil {
			return goerr.Wrap(err, "failed to create SSE transport")
		}
		tp = sse
	}
	if tp == nil {
		return goerr.New("no transport")
	}

	c.client = client.NewClient(tp)

	if err := c.client.Start(ctx); err != nil {
		return goerr.Wrap(err, "failed to start MCP client")
	}

	var initRequest mcp.InitializeRequest
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "remedy",
		Version: "0.0.1",
	}

	resp, err := c.client.Initialize(ctx, initRequest)
	if err != nil {
		return goerr.Wrap(err, "failed to initialize MCP client")
	}
	c.initResult = resp

	return nil
}

// Specs implements ToolSet. It connects on first use.
func (c *MCPClient) Specs(ctx context.Context) ([]*ToolSpec, error) {
	if err := c.start(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list tools")
	}

	specs := make([]*ToolSpec, 0, len(resp.Tools))
	for _, tool := range resp.Tools {
		parameters, err := inputSchemaToParameters(tool.InputSchema)
		if err != nil {
			return nil, err
		}
		specs = append(specs, &ToolSpec{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  parameters,
			Required:    tool.InputSchema.Required,
			Capability:  CapabilityAct,
		})
	}
	return specs, nil
}

// Run implements ToolSet.
func (c *MCPClient) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	if err := c.start(ctx); err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	resp, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool", goerr.V("tool_name", name))
	}

	return mcpContentToMap(resp.Content), nil
}

// Close shuts down the underlying client.
func (c *MCPClient) Close() error {
	if c.client == nil {
		return nil
	}
	if err := c.client.Close(); err != nil {
		return goerr.Wrap(err, "failed to close MCP client")
	}
	return nil
}

// ToolsFromSet explodes a tool set into individual engine tools.
func ToolsFromSet(ctx context.Context, set ToolSet) ([]Tool, error) {
	specs, err := set.Specs(ctx)
	if err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, &setTool{spec: spec, set: set})
	}
	return tools, nil
}

type setTool struct {
	spec *ToolSpec
	set  ToolSet
}

func (t *setTool) Spec() *ToolSpec {
	return t.spec
}

func (t *setTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	return t.set.Run(ctx, t.spec.Name, args)
}

func valueOrEmpty[T any](v any) T {
	var empty T
	if v == nil {
		return empty
	}
	if v, ok := v.(T); ok {
		return v
	}
	return empty
}

func inputSchemaToParameters(inputSchema mcp.ToolInputSchema) (map[string]*Parameter, error) {
	parameters := map[string]*Parameter{}

	for name, property := range inputSchema.Properties {
		prop, ok := property.(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidInputSchema, "invalid property", goerr.V("property", property))
		}

		parameter, err := propertyToParameter(name, prop)
		if err != nil {
			return nil, err
		}
		parameters[name] = parameter
	}

	return parameters, nil
}

func propertyToParameter(name string, prop map[string]any) (*Parameter, error) {
	var properties map[string]*Parameter
	var items *Parameter
	propType := valueOrEmpty[string](prop["type"])

	if propType == "object" {
		properties = map[string]*Parameter{}
		nestedProperty := valueOrEmpty[map[string]any](prop["properties"])

		for k, v := range nestedProperty {
			nested, ok := v.(map[string]any)
			if !ok {
				return nil, goerr.Wrap(ErrInvalidInputSchema, "invalid nested property", goerr.V("property", v))
			}
			objParam, err := propertyToParameter(k, nested)
			if err != nil {
				return nil, err
			}
			properties[k] = objParam
		}
	}

	if propType == "array" {
		itemsProp, ok := prop["items"].(map[string]any)
		if !ok {
			return nil, goerr.Wrap(ErrInvalidInputSchema, "array property without items", goerr.V("property", name))
		}
		v, err := propertyToParameter(name, itemsProp)
		if err != nil {
			return nil, err
		}
		items = v
	}

	var enum []string
	for _, v := range valueOrEmpty[[]any](prop["enum"]) {
		if s, ok := v.(string); ok {
			enum = append(enum, s)
		}
	}

	return &Parameter{
		Type:        ParameterType(propType),
		Title:       valueOrEmpty[string](prop["title"]),
		Description: valueOrEmpty[string](prop["description"]),
		Enum:        enum,
		Properties:  properties,
		Items:       items,
	}, nil
}

func mcpContentToMap(contents []mcp.Content) map[string]any {
	for _, c := range contents {
		if txt, ok := c.(mcp.TextContent); ok {
			var v any
			if err := json.Unmarshal([]byte(txt.Text), &v); err == nil {
				if mapData, ok := v.(map[string]any); ok {
					return mapData
				}
				return map[string]any{"result": v}
			}
			return map[string]any{"result": txt.Text}
		}
	}

	return map[string]any{}
}
