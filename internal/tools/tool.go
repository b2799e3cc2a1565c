// Package tools provides the tool registry with schema-validated,
// middleware-wrapped execution.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Spec describes a tool to the LLM planner. Immutable after registration.
type Spec struct {
	// Name is unique and namespaced, e.g. "evm.get_balance".
	Name string `json:"name"`
	// Description is planning context for the model.
	Description string `json:"description"`
	// InputSchema is a JSON Schema for the tool arguments.
	InputSchema json.RawMessage `json:"input_schema"`
	Version     string          `json:"version,omitempty"`
}

// HandlerFunc executes a tool against validated arguments. Returned errors
// are converted to execution faults at the registry boundary; handlers
// never abort the caller.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// Tool pairs a Spec with its handler and compiled input validator.
type Tool struct {
	spec    Spec
	handler HandlerFunc
	schema  *jsonschema.Schema
}

// New builds a Tool, compiling the spec's input schema. A nil or empty
// schema means arguments are accepted unvalidated.
func New(spec Spec, handler HandlerFunc) (*Tool, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("tool spec requires a name")
	}
	if handler == nil {
		return nil, fmt.Errorf("tool %s requires a handler", spec.Name)
	}

	var schema *jsonschema.Schema
	if len(spec.InputSchema) > 0 {
		compiled, err := compileSchema(spec.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %s: %w", spec.Name, err)
		}
		schema = compiled
	}

	return &Tool{spec: spec, handler: handler, schema: schema}, nil
}

// MustNew is like New but panics on error. For static tool definitions.
func MustNew(spec Spec, handler HandlerFunc) *Tool {
	tool, err := New(spec, handler)
	if err != nil {
		panic(err)
	}
	return tool
}

// Spec returns the tool's specification.
func (t *Tool) Spec() Spec { return t.spec }

// Name returns the tool's registered name.
func (t *Tool) Name() string { return t.spec.Name }

// ValidateArgs checks raw arguments against the tool's input schema,
// returning field-level detail on failure.
func (t *Tool) ValidateArgs(raw json.RawMessage) (detail map[string]any, err error) {
	if t.schema == nil {
		return nil, nil
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]any{"parse": err.Error()}, fmt.Errorf("arguments are not valid JSON: %w", err)
	}

	if err := t.schema.Validate(decoded); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return validationDetail(ve), err
		}
		return nil, err
	}
	return nil, nil
}

func validationDetail(ve *jsonschema.ValidationError) map[string]any {
	fields := make(map[string]any)
	for _, cause := range ve.BasicOutput().Errors {
		if cause.Error == "" {
			continue
		}
		loc := cause.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		fields[loc] = cause.Error
	}
	return fields
}

var schemaCache sync.Map

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
