package toolbridge

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ParamType is a closed set of parameter types mapped from JSON-schema
// primitive type tags.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
	TypeObject  ParamType = "object"
)

// typeMap is the closed tagged mapping from schema type tags to parameter
// types. Unrecognized tags fall back to string.
var typeMap = map[string]ParamType{
	"string":  TypeString,
	"integer": TypeInteger,
	"number":  TypeNumber,
	"boolean": TypeBoolean,
	"array":   TypeArray,
	"object":  TypeObject,
}

// Parameter describes one declared tool parameter
type Parameter struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
}

// ParametersFromSchema converts a JSON-schema object declaration
// ({"properties": {...}, "required": [...]}) into the closed parameter
// list. Union-with-null declarations (anyOf) resolve to the first non-null
// branch's mapped type.
func ParametersFromSchema(schema map[string]interface{}) []Parameter {
	properties, _ := schema["properties"].(map[string]interface{})
	if len(properties) == 0 {
		return nil
	}

	required := map[string]bool{}
	if reqList, ok := schema["required"].([]interface{}); ok {
		for _, name := range reqList {
			if s, ok := name.(string); ok {
				required[s] = true
			}
		}
	}

	params := make([]Parameter, 0, len(properties))
	for name, raw := range properties {
		prop, _ := raw.(map[string]interface{})
		params = append(params, Parameter{
			Name:        name,
			Type:        resolveType(prop),
			Description: stringField(prop, "description"),
			Required:    required[name],
		})
	}

	return params
}

// resolveType maps one property declaration to a parameter type
func resolveType(prop map[string]interface{}) ParamType {
	if prop == nil {
		return TypeString
	}

	// anyOf: first non-null branch wins
	if branches, ok := prop["anyOf"].([]interface{}); ok {
		for _, raw := range branches {
			branch, _ := raw.(map[string]interface{})
			tag := stringField(branch, "type")
			if tag != "null" && tag != "" {
				if t, ok := typeMap[tag]; ok {
					return t
				}
				return TypeString
			}
		}
		return TypeString
	}

	if t, ok := typeMap[stringField(prop, "type")]; ok {
		return t
	}
	return TypeString
}

func stringField(prop map[string]interface{}, key string) string {
	if prop == nil {
		return ""
	}
	if s, ok := prop[key].(string); ok {
		return s
	}
	return ""
}

// compileSchema builds a validation schema from the declared parameters
func compileSchema(params []Parameter) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, param := range params {
		properties[param.Name] = map[string]interface{}{
			"type":        string(param.Type),
			"description": param.Description,
		}
		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, fmt.Errorf("failed to compile parameter schema: %w", err)
	}
	return schema, nil
}

// validateArgs validates normalized arguments against the compiled schema
func validateArgs(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
