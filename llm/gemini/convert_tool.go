package gemini

import (
	"github.com/m-mizutani/remedy"
	"google.golang.org/genai"
)

// convertTool converts a remedy.ToolSpec to a Gemini function declaration.
func convertTool(spec *remedy.ToolSpec) *genai.FunctionDeclaration {
	// Gemini requires an empty slice, not nil.
	required := spec.Required
	if required == nil {
		required = []string{}
	}

	parameters := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema),
		Required:   required,
	}

	for name, param := range spec.Parameters {
		parameters.Properties[name] = convertParameterToSchema(param)
	}

	return &genai.FunctionDeclaration{
		Name:        spec.Name,
		Description: spec.Description,
		Parameters:  parameters,
	}
}

// convertParameterToSchema converts a remedy.Parameter to a Gemini schema
func convertParameterToSchema(param *remedy.Parameter) *genai.Schema {
	schema := &genai.Schema{
		Type:        getGeminiType(param.Type),
		Description: param.Description,
		Title:       param.Title,
	}

	if len(param.Enum) > 0 {
		schema.Enum = param.Enum
	}

	if param.Properties != nil {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range param.Properties {
			schema.Properties[name] = convertParameterToSchema(prop)
		}
		if len(param.Required) > 0 {
			schema.Required = param.Required
		} else {
			schema.Required = []string{}
		}
	}

	if param.Items != nil {
		schema.Items = convertParameterToSchema(param.Items)
	}

	if param.Type == remedy.TypeNumber || param.Type == remedy.TypeInteger {
		schema.Minimum = param.Minimum
		schema.Maximum = param.Maximum
	}

	if param.Type == remedy.TypeString {
		if param.MinLength != nil {
			v := int64(*param.MinLength)
			schema.MinLength = &v
		}
		if param.MaxLength != nil {
			v := int64(*param.MaxLength)
			schema.MaxLength = &v
		}
		schema.Pattern = param.Pattern
	}

	if param.Type == remedy.TypeArray {
		if param.MinItems != nil {
			v := int64(*param.MinItems)
			schema.MinItems = &v
		}
		if param.MaxItems != nil {
			v := int64(*param.MaxItems)
			schema.MaxItems = &v
		}
	}

	if param.Default != nil {
		schema.Default = param.Default
	}

	return schema
}

func getGeminiType(paramType remedy.ParameterType) genai.Type {
	switch paramType {
	case remedy.TypeString:
		return genai.TypeString
	case remedy.TypeNumber:
		return genai.TypeNumber
	case remedy.TypeInteger:
		return genai.TypeInteger
	case remedy.TypeBoolean:
		return genai.TypeBoolean
	case remedy.TypeArray:
		return genai.TypeArray
	case remedy.TypeObject:
		return genai.TypeObject
	default:
		return genai.TypeString
	}
}
