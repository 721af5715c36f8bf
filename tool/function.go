package tool

import (
	"context"

	"github.com/lexmesh/lexmesh/internal/util"
)

// HandlerFunc is the signature of a FunctionTool implementation.
type HandlerFunc func(ctx context.Context, tenantID string, args map[string]any) (any, error)

// FunctionTool is a generic adapter that exposes a plain Go function as a Tool.
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use by multiple goroutines. Argument validation happens in the
// Registry before Invoke is called.
type FunctionTool struct {
	def Definition
	fn  HandlerFunc
}

// NewFunctionTool constructs a FunctionTool from an explicit definition.
//
// Example:
//
//	lookup := NewFunctionTool(Definition{
//	  Name:        "lookup_matter",
//	  Description: "Look up a matter by id",
//	  Schema: map[string]any{
//	    "type":       "object",
//	    "properties": map[string]any{"matter_id": map[string]any{"type": "string"}},
//	    "required":   []any{"matter_id"},
//	  },
//	}, func(ctx context.Context, tenantID string, args map[string]any) (any, error) {
//	  return backoffice.Get(ctx, tenantID, "matter", args["matter_id"].(string))
//	})
func NewFunctionTool(def Definition, fn HandlerFunc) *FunctionTool {
	if def.Schema == nil {
		def.Schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	return &FunctionTool{def: def, fn: fn}
}

// NewFunctionToolFromStruct derives the argument schema from a struct using
// reflection (json tags name the fields, description tags document them).
func NewFunctionToolFromStruct(def Definition, structType any, fn HandlerFunc) *FunctionTool {
	def.Schema = util.CreateSchema(structType)
	return NewFunctionTool(def, fn)
}

// Describe implements Tool.
func (t *FunctionTool) Describe() Definition { return t.def }

// Invoke implements Tool. Plain errors are wrapped as EXECUTION_ERROR;
// a *ToolError returned by the handler is forwarded unchanged.
func (t *FunctionTool) Invoke(ctx context.Context, tenantID string, args map[string]any) (any, error) {
	result, err := t.fn(ctx, tenantID, args)
	if err != nil {
		if toolErr, ok := err.(*ToolError); ok {
			return nil, toolErr
		}

		return nil, &ToolError{Tool: t.def.Name, Message: err.Error(), Code: CodeExecution}
	}

	return result, nil
}
