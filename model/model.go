package model

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/convoloop/convoloop/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"` // "function"
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function (tool) exposed to the
// model. Parameters is a JSON Schema object (draft agnostic, minimal subset
// expected).
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by the runner: the
// full conversation (system prompt included) plus the tool schemas for the
// current capability set.
type Request struct {
	Messages []core.Message   `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one complete assistant turn. Content may be empty when the
// model answers with tool calls only.
type Response struct {
	Content   string          `json:"content"`
	ToolCalls []core.ToolCall `json:"tool_calls,omitempty"`
	Usage     *TokenUsage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation. MaxInputTokens bounds
// the context window the budget manager works against.
type Info struct {
	Name           string `json:"name"`
	Provider       string `json:"provider"` // "openai", "anthropic", "mock", ...
	MaxInputTokens int    `json:"max_input_tokens"`
	SupportsTools  bool   `json:"supports_tools"`
}

// Client is the minimal interface the runner needs to drive generation.
// Send must honor ctx cancellation: a request in flight when ctx is done
// returns ctx.Err() (or an error wrapping it).
type Client interface {
	Send(ctx context.Context, req Request) (*Response, error)

	// Info returns static metadata about the backing model.
	Info() Info

	// CountTokens estimates the token footprint of text for the backing
	// model. Implementations may call out to a vendor endpoint; they must
	// honor ctx.
	CountTokens(ctx context.Context, text string) (int, error)
}

// scriptStep is one queued MockClient turn.
type scriptStep struct {
	resp *Response
	err  error
}

// MockClient is a scripted in-memory Client for tests and examples. Turns
// are consumed in order; when the script is exhausted the last response is
// repeated so iteration-cap tests can run the model "forever".
type MockClient struct {
	info     Info
	script   []scriptStep
	pos      int
	requests []Request

	// SendHook, when set, runs before each scripted turn. Tests use it to
	// cancel contexts mid-request or to introduce latency.
	SendHook func(ctx context.Context, req Request) error
}

// NewMockClient constructs a MockClient with tool support and a generous
// default context window.
func NewMockClient() *MockClient {
	return &MockClient{
		info: Info{
			Name:           "mock-1",
			Provider:       "mock",
			MaxInputTokens: 128000,
			SupportsTools:  true,
		},
	}
}

// WithWindow overrides the advertised input window, so budget behavior can
// be exercised without megabytes of scripted history.
func (m *MockClient) WithWindow(tokens int) *MockClient {
	m.info.MaxInputTokens = tokens
	return m
}

// EnqueueResponse appends a scripted successful turn.
func (m *MockClient) EnqueueResponse(resp Response) *MockClient {
	m.script = append(m.script, scriptStep{resp: &resp})
	return m
}

// EnqueueError appends a scripted failing turn.
func (m *MockClient) EnqueueError(err error) *MockClient {
	m.script = append(m.script, scriptStep{err: err})
	return m
}

// Requests returns the requests observed so far, in order.
func (m *MockClient) Requests() []Request { return m.requests }

// RequestCount returns how many Send calls were made.
func (m *MockClient) RequestCount() int { return len(m.requests) }

// Send implements Client.
func (m *MockClient) Send(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)

	if m.SendHook != nil {
		if err := m.SendHook(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(m.script) == 0 {
		return nil, fmt.Errorf("mock client: no scripted responses")
	}
	step := m.script[m.pos]
	if m.pos < len(m.script)-1 {
		m.pos++
	}
	if step.err != nil {
		return nil, step.err
	}
	resp := *step.resp
	return &resp, nil
}

// Info implements Client.
func (m *MockClient) Info() Info { return m.info }

// CountTokens implements Client with a chars/4 estimate.
func (m *MockClient) CountTokens(_ context.Context, text string) (int, error) {
	return utf8.RuneCountInString(text) / 4, nil
}
