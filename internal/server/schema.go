package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const analyzeRequestSchema = `{
  "type": "object",
  "required": ["api_spec", "user_intent"],
  "properties": {
    "api_spec": {"type": "string"},
    "user_intent": {"type": "string"},
    "example_payloads": {"type": "array", "items": {"type": "object"}},
    "constructed_input": {"type": "object"}
  }
}`

const verdictSchema = `{
  "type": "object",
  "required": ["urgency", "threat", "sensitive_request"],
  "properties": {
    "urgency": {"type": "boolean"},
    "threat": {"type": "boolean"},
    "sensitive_request": {"type": "boolean"},
    "explanation": {"type": "string"}
  }
}`

// schemas holds the compiled request body schemas.
type schemas struct {
	analyze *jsonschema.Schema
	verdict *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	analyze, err := compileSchema("analyze-request", analyzeRequestSchema)
	if err != nil {
		return nil, err
	}
	verdict, err := compileSchema("verdict", verdictSchema)
	if err != nil {
		return nil, err
	}
	return &schemas{analyze: analyze, verdict: verdict}, nil
}

func compileSchema(name, schema string) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://apiguard.schemas.local/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %s compile failed: %w", name, err)
	}
	return compiled, nil
}

var errEmptyBody = errors.New("request body is empty")

// decodeValidated reads body, checks it against schema and decodes it into dst.
func decodeValidated(body io.Reader, schema *jsonschema.Schema, dst any) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return errEmptyBody
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("body does not match schema: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}
