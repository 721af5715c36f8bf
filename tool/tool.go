// Package tool implements the capability catalogue that lets agents invoke
// structured, side-effecting operations with schema-validated arguments,
// consistent soft-failure handling and skill-based visibility.
package tool

import (
	"context"
	"fmt"
)

// Error codes carried by ToolError.
const (
	CodeValidation  = "VALIDATION_ERROR"
	CodeExecution   = "EXECUTION_ERROR"
	CodeUnknownTool = "UNKNOWN_TOOL"
	CodePanic       = "PANIC"
)

// Definition is the static description of a tool.
type Definition struct {
	// Name is the unique identifier exposed to the model (snake_case).
	Name string `json:"name"`
	// Description tells the model when and how to use the tool.
	Description string `json:"description"`
	// Schema is the JSON Schema of the tool's arguments.
	Schema map[string]any `json:"schema"`
	// RequiresApproval forces every invocation through human approval.
	RequiresApproval bool `json:"requires_approval,omitempty"`
	// Skill is the owning skill key. Tools without a skill are always visible.
	Skill string `json:"skill,omitempty"`
}

// Tool is a callable capability.
//
// Invoke receives the caller's tenant id and arguments already parsed and
// validated against Describe().Schema. Every business write must be scoped to
// tenantID. Implementations must be safe for concurrent use.
type Tool interface {
	Describe() Definition
	Invoke(ctx context.Context, tenantID string, args map[string]any) (any, error)
}

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}

	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
