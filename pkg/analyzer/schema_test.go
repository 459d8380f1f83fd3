package analyzer

import (
	"testing"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/gt"
	"google.golang.org/genai"
)

func TestSchemaToGenai(t *testing.T) {
	schema := &jsonschema.Schema{
		Type:     "object",
		Required: []string{"tags"},
		Properties: map[string]*jsonschema.Schema{
			"tags":  {Type: "array", Items: &jsonschema.Schema{Type: "string", Enum: []any{"a", "b"}}},
			"count": {Type: "integer", Description: "how many"},
			"note":  {Types: []string{"null", "string"}},
		},
	}

	out, err := schemaToGenai(schema)
	gt.NoError(t, err)
	gt.Equal(t, out.Type, genai.TypeObject)
	gt.Equal(t, out.Required, []string{"tags"})
	gt.Equal(t, out.Properties["tags"].Type, genai.TypeArray)
	gt.Equal(t, out.Properties["tags"].Items.Enum, []string{"a", "b"})
	gt.Equal(t, out.Properties["count"].Type, genai.TypeInteger)
	gt.Equal(t, out.Properties["count"].Description, "how many")
	gt.Equal(t, out.Properties["note"].Type, genai.TypeString)
	gt.True(t, *out.Properties["note"].Nullable)

	_, err = schemaToGenai(&jsonschema.Schema{Type: "tuple"})
	gt.Error(t, err)
}

func TestResponseSchema(t *testing.T) {
	out, err := responseSchema[classifyResponse]()
	gt.NoError(t, err)
	gt.Equal(t, out.Type, genai.TypeObject)
	gt.Equal(t, out.Properties["label"].Type, genai.TypeString)
	gt.Equal(t, out.Properties["probability"].Type, genai.TypeNumber)
}
