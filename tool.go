package remedy

import (
	"context"
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

//go:generate go tool moq -pkg mock -out mock/mock.go . Tool LLMClient Session

// Capability classifies what a tool is allowed to do to the cluster.
// The safety gate only ever intercepts CapabilityAct calls.
type Capability string

const (
	// CapabilityObserve marks a read-only tool. It runs without
	// authorization in every gate mode.
	CapabilityObserve Capability = "observe"

	// CapabilityAct marks a tool with side effects on the cluster. It is
	// subject to the safety gate.
	CapabilityAct Capability = "act"

	// CapabilityTerminate marks the tool that concludes a run. It is never
	// gated and stops the loop immediately.
	CapabilityTerminate Capability = "terminate"
)

// ToolSpec is the specification of a tool: the name, description and
// argument schema advertised to the model, plus the capability class the
// engine uses for gating.
type ToolSpec struct {
	// Name is the unique identifier for the tool.
	Name string

	// Description tells the model what the tool does and when to use it.
	Description string

	// Parameters defines the input parameters the tool accepts.
	Parameters map[string]*Parameter

	// Required lists the parameter names that must be provided.
	Required []string

	// Capability is the class used for safety gating. Empty defaults to
	// CapabilityObserve.
	Capability Capability
}

// Class returns the capability class, defaulting to observe.
func (s *ToolSpec) Class() Capability {
	if s.Capability == "" {
		return CapabilityObserve
	}
	return s.Capability
}

// Validate validates the tool specification.
func (s *ToolSpec) Validate() error {
	eb := goerr.NewBuilder(goerr.V("tool", s.Name))
	if s.Name == "" {
		return eb.Wrap(ErrInvalidTool, "name is required")
	}

	switch s.Class() {
	case CapabilityObserve, CapabilityAct, CapabilityTerminate:
	default:
		return eb.Wrap(ErrInvalidTool, "unknown capability class", goerr.V("capability", s.Capability))
	}

	for _, req := range s.Required {
		if _, ok := s.Parameters[req]; !ok {
			return eb.Wrap(ErrInvalidTool, "required parameter not declared", goerr.V("parameter", req))
		}
	}

	for _, param := range s.Parameters {
		if err := param.Validate(); err != nil {
			return eb.Wrap(ErrInvalidTool, "invalid parameter")
		}
	}

	return nil
}

// jsonSchema renders the parameter set as a JSON Schema document. The
// registry compiles it for argument validation and the OpenAI-style
// adapters send it as the function parameter schema.
func (s *ToolSpec) jsonSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	for name, param := range s.Parameters {
		properties[name] = param.jsonSchema()
	}

	required := s.Required
	if required == nil {
		required = []string{}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// ParameterType is the JSON type of a parameter.
type ParameterType string

const (
	TypeString  ParameterType = "string"
	TypeNumber  ParameterType = "number"
	TypeInteger ParameterType = "integer"
	TypeBoolean ParameterType = "boolean"
	TypeArray   ParameterType = "array"
	TypeObject  ParameterType = "object"
)

// Parameter is a single input parameter of a tool.
type Parameter struct {
	// Title is an optional user-friendly name.
	Title string

	// Type is the JSON type of the parameter.
	Type ParameterType

	// Description explains the purpose and expected format.
	Description string

	// Required lists required field names when Type is object.
	Required []string

	// Enum restricts the value to the listed strings.
	Enum []string

	// Properties defines the structure of object parameters.
	Properties map[string]*Parameter

	// Items defines the element type of array parameters.
	Items *Parameter

	// Number constraints.
	Minimum *float64
	Maximum *float64

	// String constraints.
	MinLength *int
	MaxLength *int
	Pattern   string

	// Array constraints.
	MinItems *int
	MaxItems *int

	// Default is used when the parameter is omitted.
	Default any
}

// Validate validates the parameter.
func (p *Parameter) Validate() error {
	eb := goerr.NewBuilder(goerr.V("parameter", p))

	if p.Type == "" {
		return eb.Wrap(ErrInvalidParameter, "type is required")
	}

	if p.Type == TypeObject {
		if p.Properties == nil {
			return eb.Wrap(ErrInvalidParameter, "properties is required for object type")
		}
		for _, prop := range p.Properties {
			if err := prop.Validate(); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid property")
			}
		}
		for _, req := range p.Required {
			if _, ok := p.Properties[req]; !ok {
				return eb.Wrap(ErrInvalidParameter, "required field not found in properties", goerr.V("field", req))
			}
		}
	}

	if p.Type == TypeArray {
		if p.Items == nil {
			return eb.Wrap(ErrInvalidParameter, "items is required for array type")
		}
		if err := p.Items.Validate(); err != nil {
			return eb.Wrap(ErrInvalidParameter, "invalid items")
		}
		if p.MinItems != nil && p.MaxItems != nil && *p.MinItems > *p.MaxItems {
			return eb.Wrap(ErrInvalidParameter, "minItems must be less than or equal to maxItems")
		}
	}

	if p.Type == TypeNumber || p.Type == TypeInteger {
		if p.Minimum != nil && p.Maximum != nil && *p.Minimum > *p.Maximum {
			return eb.Wrap(ErrInvalidParameter, "minimum must be less than or equal to maximum")
		}
	}

	if p.Type == TypeString {
		if p.MinLength != nil && p.MaxLength != nil && *p.MinLength > *p.MaxLength {
			return eb.Wrap(ErrInvalidParameter, "minLength must be less than or equal to maxLength")
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				return eb.Wrap(ErrInvalidParameter, "invalid pattern", goerr.V("pattern", p.Pattern))
			}
		}
	}

	return nil
}

func (p *Parameter) jsonSchema() map[string]any {
	schema := map[string]any{
		"type": string(p.Type),
	}
	if p.Description != "" {
		schema["description"] = p.Description
	}
	if p.Title != "" {
		schema["title"] = p.Title
	}
	if len(p.Enum) > 0 {
		values := make([]any, len(p.Enum))
		for i, v := range p.Enum {
			values[i] = v
		}
		schema["enum"] = values
	}
	if p.Properties != nil {
		properties := make(map[string]any, len(p.Properties))
		for name, prop := range p.Properties {
			properties[name] = prop.jsonSchema()
		}
		schema["properties"] = properties
		required := p.Required
		if required == nil {
			required = []string{}
		}
		schema["required"] = required
	}
	if p.Items != nil {
		schema["items"] = p.Items.jsonSchema()
	}
	if p.Minimum != nil {
		schema["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		schema["maximum"] = *p.Maximum
	}
	if p.MinLength != nil {
		schema["minLength"] = *p.MinLength
	}
	if p.MaxLength != nil {
		schema["maxLength"] = *p.MaxLength
	}
	if p.Pattern != "" {
		schema["pattern"] = p.Pattern
	}
	if p.MinItems != nil {
		schema["minItems"] = *p.MinItems
	}
	if p.MaxItems != nil {
		schema["maxItems"] = *p.MaxItems
	}
	if p.Default != nil {
		schema["default"] = p.Default
	}
	return schema
}

// Tool is the specification and execution of an action the model can call.
type Tool interface {
	// Spec returns the specification of the tool. It is called when the
	// session is created to register the tool with the model.
	Spec() *ToolSpec

	// Run executes the tool. A returned error does not abort the run; it is
	// classified and fed back to the model as a failure observation.
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

// ToolSet groups related tools behind a single dispatcher. MCP toolsets
// implement this to expose a remote server's tools.
type ToolSet interface {
	// Specs returns the specifications of all tools in the set.
	Specs(ctx context.Context) ([]*ToolSpec, error)

	// Run executes the named tool in the set.
	Run(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}
