package openai

import (
	"github.com/m-mizutani/remedy"
	"github.com/sashabaranov/go-openai"
)

// convertTool converts a remedy.ToolSpec to an OpenAI function definition.
func convertTool(spec *remedy.ToolSpec) openai.Tool {
	properties := make(map[string]any, len(spec.Parameters))
	for name, param := range spec.Parameters {
		properties[name] = convertParameterToSchema(param)
	}

	parameters := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(spec.Required) > 0 {
		parameters["required"] = spec.Required
	}

	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  parameters,
		},
	}
}

// convertParameterToSchema converts a remedy.Parameter to an OpenAI schema
func convertParameterToSchema(param *remedy.Parameter) map[string]any {
	schema := map[string]any{
		"type": getOpenAIType(param.Type),
	}
	if param.Description != "" {
		schema["description"] = param.Description
	}
	if param.Title != "" {
		schema["title"] = param.Title
	}

	if len(param.Enum) > 0 {
		schema["enum"] = param.Enum
	}

	if param.Properties != nil {
		properties := make(map[string]any)
		for name, prop := range param.Properties {
			properties[name] = convertParameterToSchema(prop)
		}
		schema["properties"] = properties
		if len(param.Required) > 0 {
			schema["required"] = param.Required
		}
	}

	if param.Items != nil {
		schema["items"] = convertParameterToSchema(param.Items)
	}

	if param.Type == remedy.TypeNumber || param.Type == remedy.TypeInteger {
		if param.Minimum != nil {
			schema["minimum"] = *param.Minimum
		}
		if param.Maximum != nil {
			schema["maximum"] = *param.Maximum
		}
	}

	if param.Type == remedy.TypeString {
		if param.MinLength != nil {
			schema["minLength"] = *param.MinLength
		}
		if param.MaxLength != nil {
			schema["maxLength"] = *param.MaxLength
		}
		if param.Pattern != "" {
			schema["pattern"] = param.Pattern
		}
	}

	if param.Type == remedy.TypeArray {
		if param.MinItems != nil {
			schema["minItems"] = *param.MinItems
		}
		if param.MaxItems != nil {
			schema["maxItems"] = *param.MaxItems
		}
	}

	if param.Default != nil {
		schema["default"] = param.Default
	}

	return schema
}

func getOpenAIType(paramType remedy.ParameterType) string {
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
