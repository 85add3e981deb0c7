package agent

import (
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
)

// Schema names a structured-output contract for ExecuteStructured.
type Schema struct {
	Name        string
	Description string
	Definition  any
}

// GenerateSchema reflects a JSON schema for T with strict settings: no
// additional properties, no $ref indirection.
func GenerateSchema[T any](name, description string) Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return Schema{
		Name:        name,
		Description: description,
		Definition:  r.Reflect(v),
	}
}

// responseFormat converts a Schema into the OpenAI structured-outputs
// response format.
func (s Schema) responseFormat() openai.ChatCompletionNewParamsResponseFormatUnion {
	p := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        s.Name,
		Description: openai.String(s.Description),
		Schema:      s.Definition,
		Strict:      openai.Bool(true),
	}
	return openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{JSONSchema: p},
	}
}
