package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrInvalidEnvelope wraps every inbound frame that fails decoding or schema validation.
var ErrInvalidEnvelope = errors.New("transport: invalid envelope")

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

const envelopeSchemaURL = "dragonbot://envelope.schema.json"

const envelopeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_.:-]*$", "maxLength": 64},
    "payload": {"type": "object"}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "navigation_result"}}},
      "then": {
        "required": ["payload"],
        "properties": {"payload": {"required": ["request_id", "success"],
          "properties": {"request_id": {"type": "string", "minLength": 1}, "success": {"type": "boolean"}}}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "chat"}}},
      "then": {
        "required": ["payload"],
        "properties": {"payload": {"required": ["message"], "properties": {"message": {"type": "string"}}}}
      }
    },
    {
      "if": {"properties": {"type": {"const": "entity_spawned"}}},
      "then": {
        "required": ["payload"],
        "properties": {"payload": {"required": ["id", "type"]}}
      }
    }
  ]
}`

// Codec validates inbound frames against the envelope schema.
type Codec struct {
	schema *jsonschema.Schema
}

// NewCodec compiles the embedded envelope schema.
//
// Postcondition: Returns a ready Codec or the compilation error.
func NewCodec() (*Codec, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchema)); err != nil {
		return nil, fmt.Errorf("adding envelope schema: %w", err)
	}
	s, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling envelope schema: %w", err)
	}
	return &Codec{schema: s}, nil
}

// Decode parses and validates one inbound frame.
//
// Postcondition: Any failure wraps ErrInvalidEnvelope.
func (c *Codec) Decode(raw []byte) (Envelope, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.Payload == nil {
		env.Payload = map[string]any{}
	}
	return env, nil
}

// Encode serializes an outbound frame.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
