package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/atlasagent/atlas/pkg/models"
)

// Tool input limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolArgsSize is the maximum size of tool argument JSON (10MB).
	MaxToolArgsSize = 10 << 20
)

// Registry maps tool names to tools. It is populated by integration
// loaders at startup, then frozen; during conversation processing it is
// read-only. Call never returns an error for tool-level failures; every
// failure is materialized as a ToolResult.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]*Tool
	order       []string
	middlewares []Middleware
	frozen      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Use appends middlewares applied around every handler. The first
// middleware added is outermost. Use panics after Freeze.
func (r *Registry) Use(middlewares ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("tools: Use after Freeze")
	}
	r.middlewares = append(r.middlewares, middlewares...)
}

// Register adds a tool. It returns DuplicateToolError if the name is
// taken (the first registration wins) and ErrRegistryFrozen after Freeze.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register a nil tool")
	}
	name := tool.Name()
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Freeze marks the end of the startup registration phase. Subsequent
// Register calls fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Specs returns all tool specs in registration order, for presentation to
// the provider.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Call executes one tool call through schema validation and the middleware
// chain. Unknown tools, invalid arguments, handler errors, and handler
// panics all come back as failed ToolResults, never as errors or panics.
func (r *Registry) Call(ctx context.Context, inv Invocation) models.ToolResult {
	name := inv.Call.Name
	if len(name) > MaxToolNameLength {
		return models.Fault(inv.Call.ID, models.FaultValidation,
			fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength))
	}
	if len(inv.Call.Args) > MaxToolArgsSize {
		return models.Fault(inv.Call.ID, models.FaultValidation,
			fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgsSize))
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	middlewares := r.middlewares
	r.mu.RUnlock()

	if !ok {
		return models.Fault(inv.Call.ID, models.FaultUnknownTool, "tool not found: "+name)
	}

	inv.Call.Args = rawArgs(inv.Call.Args)
	if detail, err := tool.ValidateArgs(inv.Call.Args); err != nil {
		result := models.Fault(inv.Call.ID, models.FaultValidation, "invalid arguments for "+name)
		result.Error.Detail = detail
		return result
	}

	handler := Chain(execute(tool), middlewares...)
	return handler(ctx, inv)
}

// execute adapts a tool's handler into the middleware Handler shape,
// recovering panics and converting errors to execution faults.
func execute(tool *Tool) Handler {
	return func(ctx context.Context, inv Invocation) (result models.ToolResult) {
		defer func() {
			if rec := recover(); rec != nil {
				result = models.Fault(inv.Call.ID, models.FaultExecution,
					fmt.Sprintf("tool %s panicked: %v", tool.Name(), rec))
			}
		}()

		data, err := tool.handler(ctx, inv.Call.Args)
		if err != nil {
			if ctx.Err() != nil {
				return models.Fault(inv.Call.ID, models.FaultTimeout, "tool call aborted: "+ctx.Err().Error())
			}
			return models.Fault(inv.Call.ID, models.FaultExecution, err.Error())
		}
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		return models.ToolResult{ToolCallID: inv.Call.ID, Success: true, Data: data}
	}
}
