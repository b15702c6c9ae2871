package ordproc

import (
	"bytes"
	_ "embed"
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks a decoded ORD document against the ORD JSON Schema.
// SchemaValidator compiles the schema bytes it is given at construction
// time; the module embeds a default schema as DefaultSchemaJSON.
type Validator interface {
	Validate(doc map[string]any) error
}

// DefaultSchemaJSON is the ORD document schema shipped with the binary,
// used unless an operator points schemaPath at a replacement (e.g. a
// newer ORD spec version). Embedded the same way the teacher embeds its
// ingest prompt template.
//
//go:embed ord_document.schema.json
var DefaultSchemaJSON []byte

// SchemaValidator compiles a JSON Schema document once and validates
// decoded documents against it, grounded on the teacher's
// agent.compileSchema (AddResource + Compile against an in-memory
// resource name, generalized from per-tool parameter schemas to the
// whole-document ORD schema).
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schemaJSON (the raw ORD JSON Schema bytes)
// into a reusable Validator.
func NewSchemaValidator(schemaJSON []byte) (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("ord-document.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	s, err := c.Compile("ord-document.json")
	if err != nil {
		return nil, err
	}
	return &SchemaValidator{schema: s}, nil
}

func (v *SchemaValidator) Validate(doc map[string]any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	return v.schema.Validate(generic)
}

// NoopValidator accepts every document; Processor uses it when
// constructed with a nil Validator (e.g. in tests). The server binary
// always builds a SchemaValidator.
type NoopValidator struct{}

func (NoopValidator) Validate(map[string]any) error { return nil }
