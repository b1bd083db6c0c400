// Package tool implements the function calling subsystem: schema validated
// callable capabilities, a registry with capability restriction for subagent
// scoping, and the order-preserving batch dispatcher the runner hands each
// assistant turn's tool calls to.
package tool

import (
	"context"
	"fmt"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/internal/util"
	"github.com/convoloop/convoloop/model"
)

// Tool defines a callable capability exposed to the model.
//
// Tool implementations should:
//   - Provide clear, descriptive names and descriptions
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully
//   - Be safe for concurrent use (the dispatcher may run a batch in parallel)
type Tool interface {
	// Name returns the unique identifier for this tool (snake_case
	// recommended).
	Name() string

	// Description returns a human-readable description of what this tool
	// does. It is provided to the model to guide tool selection.
	Description() string

	// Parameters returns a JSON schema describing the expected arguments.
	Parameters() map[string]any

	// Call executes the tool with already parsed arguments. A Result with
	// the completion metadata flag set terminates the conversation with
	// Result.Content as the final answer.
	Call(ctx context.Context, args map[string]any) (*Result, error)
}

// Result is what a tool hands back on success. Metadata travels into the
// core.ToolResult unchanged; the completion flag lives there.
type Result struct {
	Content  string
	Metadata map[string]any
}

// NewResult creates a plain successful result.
func NewResult(content string) *Result {
	return &Result{Content: content}
}

// NewCompletionResult creates a result carrying the completion signal, which
// ends the conversation with content as the final answer regardless of which
// tool produced it.
func NewCompletionResult(content string) *Result {
	return &Result{
		Content:  content,
		Metadata: map[string]any{core.MetadataCompletion: true},
	}
}

// ValidationError represents parameter validation errors with detailed
// information.
type ValidationError = util.ValidationError

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

// Definition converts a Tool into the wire schema shape sent to the model.
func Definition(t Tool) model.ToolDefinition {
	return model.ToolDefinition{
		Type: "function",
		Function: model.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}
