package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/atlasagent/atlas/pkg/models"
)

const echoSchema = `{
	"type": "object",
	"properties": {
		"value": {"type": "string"}
	},
	"required": ["value"],
	"additionalProperties": false
}`

func echoTool(t *testing.T, name, reply string) *Tool {
	t.Helper()
	tool, err := New(Spec{
		Name:        name,
		Description: "echoes its input",
		InputSchema: json.RawMessage(echoSchema),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(fmt.Sprintf("%q", reply)), nil
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tool
}

func call(name, args string) Invocation {
	return Invocation{
		Call:      models.ToolCall{ID: "call_1", Name: name, Args: json.RawMessage(args)},
		SessionID: "sess-1",
		UserID:    "user-1",
	}
}

func TestRegistry_DuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool(t, "test.echo", "first")); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	err := reg.Register(echoTool(t, "test.echo", "second"))
	var dup *DuplicateToolError
	if !errors.As(err, &dup) {
		t.Fatalf("second Register error = %v, want DuplicateToolError", err)
	}
	if dup.Name != "test.echo" {
		t.Errorf("DuplicateToolError.Name = %q", dup.Name)
	}

	// first registration wins
	result := reg.Call(context.Background(), call("test.echo", `{"value":"hi"}`))
	if !result.Success || string(result.Data) != `"first"` {
		t.Errorf("Call after duplicate = %+v, want first tool's reply", result)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := NewRegistry()
	result := reg.Call(context.Background(), call("nonexistent", `{}`))

	if result.Success {
		t.Fatal("Call on unknown tool succeeded")
	}
	if result.Error == nil || result.Error.Kind != models.FaultUnknownTool {
		t.Errorf("Error = %+v, want unknown_tool fault", result.Error)
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q", result.ToolCallID)
	}
}

func TestRegistry_ValidationFailure(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool(t, "test.echo", "ok")); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		args string
	}{
		{"missing required field", `{}`},
		{"wrong type", `{"value": 7}`},
		{"extra field", `{"value":"hi","bogus":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := reg.Call(context.Background(), call("test.echo", tt.args))
			if result.Success {
				t.Fatal("invalid args accepted")
			}
			if result.Error.Kind != models.FaultValidation {
				t.Errorf("fault kind = %q, want validation", result.Error.Kind)
			}
			if len(result.Error.Detail) == 0 {
				t.Error("validation fault missing field-level detail")
			}
		})
	}
}

func TestRegistry_HandlerError(t *testing.T) {
	reg := NewRegistry()
	tool := MustNew(Spec{Name: "test.fail"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("backend unreachable")
	})
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}

	result := reg.Call(context.Background(), call("test.fail", `{}`))
	if result.Success {
		t.Fatal("failing handler reported success")
	}
	if result.Error.Kind != models.FaultExecution {
		t.Errorf("fault kind = %q, want execution", result.Error.Kind)
	}
}

func TestRegistry_HandlerPanic(t *testing.T) {
	reg := NewRegistry()
	tool := MustNew(Spec{Name: "test.panic"}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		panic("boom")
	})
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}

	result := reg.Call(context.Background(), call("test.panic", `{}`))
	if result.Success {
		t.Fatal("panicking handler reported success")
	}
	if result.Error.Kind != models.FaultExecution {
		t.Errorf("fault kind = %q, want execution", result.Error.Kind)
	}
}

func TestRegistry_FreezeRejectsRegister(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(echoTool(t, "test.one", "1")); err != nil {
		t.Fatal(err)
	}
	reg.Freeze()

	if err := reg.Register(echoTool(t, "test.two", "2")); !errors.Is(err, ErrRegistryFrozen) {
		t.Errorf("Register after Freeze = %v, want ErrRegistryFrozen", err)
	}
	// existing tools still callable
	if result := reg.Call(context.Background(), call("test.one", `{"value":"x"}`)); !result.Success {
		t.Errorf("Call after Freeze failed: %+v", result.Error)
	}
}

func TestRegistry_SpecsRegistrationOrder(t *testing.T) {
	reg := NewRegistry()
	names := []string{"c.tool", "a.tool", "b.tool"}
	for _, name := range names {
		if err := reg.Register(echoTool(t, name, name)); err != nil {
			t.Fatal(err)
		}
	}

	specs := reg.Specs()
	if len(specs) != len(names) {
		t.Fatalf("Specs() returned %d entries", len(specs))
	}
	for i, spec := range specs {
		if spec.Name != names[i] {
			t.Errorf("Specs()[%d] = %q, want %q", i, spec.Name, names[i])
		}
	}
}

func TestRegistry_EmptyArgsValidateAsObject(t *testing.T) {
	reg := NewRegistry()
	tool := MustNew(Spec{
		Name:        "test.noargs",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}, func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"done"`), nil
	})
	if err := reg.Register(tool); err != nil {
		t.Fatal(err)
	}

	inv := Invocation{Call: models.ToolCall{ID: "call_1", Name: "test.noargs"}}
	if result := reg.Call(context.Background(), inv); !result.Success {
		t.Errorf("empty args rejected: %+v", result.Error)
	}
}
