package claude

import (
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/m-mizutani/remedy"
)

func convertTool(spec *remedy.ToolSpec) anthropic.ToolUnionParam {
	schema := convertParametersToJSONSchema(spec.Parameters)

	tool := anthropic.ToolUnionParamOfTool(
		anthropic.ToolInputSchemaParam{
			Properties: schema.Properties,
			Required:   spec.Required,
		},
		spec.Name,
	)
	if spec.Description != "" {
		tool.OfTool.Description = anthropic.String(spec.Description)
	}
	return tool
}

type jsonSchema struct {
	Type        string                `json:"type"`
	Properties  map[string]jsonSchema `json:"properties,omitempty"`
	Required    []string              `json:"required,omitempty"`
	Items       *jsonSchema           `json:"items,omitempty"`
	Minimum     *float64              `json:"minimum,omitempty"`
	Maximum     *float64              `json:"maximum,omitempty"`
	MinLength   *int                  `json:"minLength,omitempty"`
	MaxLength   *int                  `json:"maxLength,omitempty"`
	Pattern     string                `json:"pattern,omitempty"`
	MinItems    *int                  `json:"minItems,omitempty"`
	MaxItems    *int                  `json:"maxItems,omitempty"`
	Default     any                   `json:"default,omitempty"`
	Enum        []any                 `json:"enum,omitempty"`
	Description string                `json:"description,omitempty"`
	Title       string                `json:"title,omitempty"`
}

func convertParametersToJSONSchema(params map[string]*remedy.Parameter) jsonSchema {
	properties := make(map[string]jsonSchema)

	for name, param := range params {
		properties[name] = convertParameterToSchema(param)
	}

	return jsonSchema{
		Type:       "object",
		Properties: properties,
	}
}

// convertParameterToSchema converts a remedy.Parameter to a Claude schema
func convertParameterToSchema(param *remedy.Parameter) jsonSchema {
	schema := jsonSchema{
		Type:        getClaudeType(param.Type),
		Description: param.Description,
		Title:       param.Title,
	}

	if len(param.Enum) > 0 {
		enum := make([]any, len(param.Enum))
		for i, v := range param.Enum {
			enum[i] = v
		}
		schema.Enum = enum
	}

	if param.Properties != nil {
		properties := make(map[string]jsonSchema)
		for name, prop := range param.Properties {
			properties[name] = convertParameterToSchema(prop)
		}
		schema.Properties = properties
		if len(param.Required) > 0 {
			schema.Required = param.Required
		}
	}

	if param.Items != nil {
		items := convertParameterToSchema(param.Items)
		schema.Items = &items
	}

	if param.Type == remedy.TypeNumber || param.Type == remedy.TypeInteger {
		schema.Minimum = param.Minimum
		schema.Maximum = param.Maximum
	}

	if param.Type == remedy.TypeString {
		schema.MinLength = param.MinLength
		schema.MaxLength = param.MaxLength
		schema.Pattern = param.Pattern
	}

	if param.Type == remedy.TypeArray {
		schema.MinItems = param.MinItems
		schema.MaxItems = param.MaxItems
	}

	if param.Default != nil {
		schema.Default = param.Default
	}

	return schema
}

func getClaudeType(paramType remedy.ParameterType) string {
	switch paramType {
	case remedy.TypeString:
		return "string"
	case remedy.TypeNumber:
		return "number"
	case remedy.TypeInteger:
		return "integer"
	case remedy.TypeBoolean:
		return "boolean"
	case remedy.TypeArray:
		return "array"
	case remedy.TypeObject:
		return "object"
	default:
		return "string"
	}
}
