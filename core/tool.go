package core

import "time"

// MetadataCompletion is the metadata key any tool result may set to true to
// terminate the conversation with that result as the final answer. Completion
// is signalled through metadata rather than a tool name so the runner never
// special-cases individual tools.
const MetadataCompletion = "isCompletion"

// ToolRequest is one entry of a dispatch batch: a tool name plus its already
// parsed arguments. ID carries the originating ToolCall.ID for correlation.
type ToolRequest struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult is the outcome of executing one ToolRequest. The dispatcher
// guarantees result[i] corresponds to request[i] of the batch.
type ToolResult struct {
	Name     string         `json:"name"`
	Success  bool           `json:"success"`
	Content  string         `json:"content,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// IsCompletion reports whether the result carries the completion signal. A
// failed result never completes, whatever its metadata says.
func (r ToolResult) IsCompletion() bool {
	if !r.Success {
		return false
	}
	v, ok := r.Metadata[MetadataCompletion].(bool)
	return ok && v
}

// Clone returns a deep copy of the result (metadata map included).
func (r ToolResult) Clone() ToolResult {
	c := r
	if r.Metadata != nil {
		c.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}
