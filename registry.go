package remedy

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is the static tool catalog of the engine: name, description,
// argument schema and capability class per tool. It is built once at
// construction and never mutated afterwards, so reads need no locking.
type Registry struct {
	order   []string
	specs   map[string]*ToolSpec
	schemas map[string]*jsonschema.Schema
}

// NewRegistry builds the catalog from the given tools. Duplicate names and
// broken specifications are construction errors.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]*ToolSpec, len(tools)),
		schemas: make(map[string]*jsonschema.Schema, len(tools)),
	}

	for _, tool := range tools {
		spec := tool.Spec()
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.specs[spec.Name]; ok {
			return nil, goerr.Wrap(ErrToolNameConflict, "tool name is duplicated", goerr.V("tool_name", spec.Name))
		}

		schema, err := compileArgSchema(spec)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to compile argument schema", goerr.V("tool_name", spec.Name))
		}

		r.order = append(r.order, spec.Name)
		r.specs[spec.Name] = spec
		r.schemas[spec.Name] = schema
	}

	return r, nil
}

func compileArgSchema(spec *ToolSpec) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(spec.jsonSchema())
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode schema")
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to decode schema")
	}

	loc := fmt.Sprintf("%s.json", spec.Name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(loc, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to register schema")
	}

	schema, err := compiler.Compile(loc)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to compile schema")
	}
	return schema, nil
}

// List returns the tool specifications in registration order. The order is
// stable so prompt assembly stays deterministic.
func (r *Registry) List() []*ToolSpec {
	out := make([]*ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.specs[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.order)
}

// Resolve returns the specification for name. Unknown names return an
// ErrUnknownTool wrapped error tagged not_found.
func (r *Registry) Resolve(name string) (*ToolSpec, error) {
	spec, ok := r.specs[name]
	if !ok {
		return nil, goerr.Wrap(ErrUnknownTool, "tool is not in the catalog",
			goerr.V("tool_name", name), goerr.Tag(TagNotFound))
	}
	return spec, nil
}

// Validate checks the call arguments against the tool's compiled JSON
// schema. Unknown tools and schema violations both return an error; the
// engine turns either into a failure observation and continues the run.
func (r *Registry) Validate(call ToolCall) error {
	schema, ok := r.schemas[call.Name]
	if !ok {
		return goerr.Wrap(ErrUnknownTool, "tool is not in the catalog",
			goerr.V("tool_name", call.Name), goerr.Tag(TagNotFound))
	}

	instance, err := normalizeArgs(call.Arguments)
	if err != nil {
		return goerr.Wrap(err, "arguments are not JSON-encodable", goerr.V("tool_name", call.Name))
	}

	if err := schema.Validate(instance); err != nil {
		return goerr.Wrap(err, "invalid tool arguments",
			goerr.V("tool_name", call.Name), goerr.V("arguments", call.Arguments))
	}
	return nil
}

// normalizeArgs round-trips the argument map through JSON so that values
// synthesized in Go code validate the same way as values decoded from a
// model response.
func normalizeArgs(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(bytes.NewReader(raw))
}
