package testutil

import (
	"context"
	"fmt"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/tool"
)

// TextResponse builds a plain assistant response.
func TextResponse(content string) model.Response {
	return model.Response{Content: content}
}

// ToolCallResponse builds an assistant response that requests tool calls.
func ToolCallResponse(content string, calls ...core.ToolCall) model.Response {
	return model.Response{Content: content, ToolCalls: calls}
}

// Call builds a tool call with explicit id, name and raw JSON arguments.
func Call(id, name, args string) core.ToolCall {
	return core.ToolCall{ID: id, Name: name, Arguments: args}
}

// EchoTool returns a tool that echoes its "text" argument.
func EchoTool(name string) tool.Tool {
	return tool.NewFunctionTool(
		name,
		"Echo the given text back.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
		},
		func(_ context.Context, args map[string]any) (*tool.Result, error) {
			text, _ := args["text"].(string)
			return tool.NewResult("echo: " + text), nil
		},
	)
}

// FailingTool returns a tool whose calls always fail with message.
func FailingTool(name, message string) tool.Tool {
	return tool.NewFunctionTool(
		name,
		"Always fails.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*tool.Result, error) {
			return nil, fmt.Errorf("%s", message)
		},
	)
}

// CompletionTool returns a tool that finishes the conversation with its
// "content" argument as the final answer.
func CompletionTool(name string) tool.Tool {
	return tool.NewFunctionTool(
		name,
		"Submit the final result.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"content": map[string]any{"type": "string"},
			},
		},
		func(_ context.Context, args map[string]any) (*tool.Result, error) {
			content, _ := args["content"].(string)
			return tool.NewCompletionResult(content), nil
		},
	)
}

// PanickingTool returns a tool that panics when called.
func PanickingTool(name string) tool.Tool {
	return tool.NewFunctionTool(
		name,
		"Panics on call.",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*tool.Result, error) {
			panic("tool blew up")
		},
	)
}
