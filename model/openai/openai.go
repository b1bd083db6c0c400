// Package openai implements model.Client over the OpenAI Chat Completions
// API (including function/tool calling). It adapts convoloop's normalized
// request/response structures into the SDK's message format and back, and
// classifies vendor errors into the typed taxonomy at this boundary.
package openai

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/model"
)

// Options configure the OpenAI client adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	MaxInputTokens      int
	APIKey              string
}

// Client wraps the OpenAI Chat Completions API behind model.Client.
type Client struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI client using the official SDK. Environment
// credentials apply when no APIKey option is set.
func New(optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)
	return &Client{client: &client, opts: opts}
}

// NewFromClient creates an adapter from an existing SDK client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Client {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Client{client: client, opts: opts}
}

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		MaxInputTokens:      128000,
	}
}

// Send implements model.Client.
func (c *Client) Send(ctx context.Context, req model.Request) (*model.Response, error) {
	params := c.buildParams(req)

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices returned")
	}

	choice := resp.Choices[0]
	out := &model.Response{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	out.Usage = &model.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}
	return out, nil
}

// Info implements model.Client.
func (c *Client) Info() model.Info {
	return model.Info{
		Name:           c.opts.Model,
		Provider:       "openai",
		MaxInputTokens: c.opts.MaxInputTokens,
		SupportsTools:  true,
	}
}

// CountTokens implements model.Client with a runes/4 estimate; the Chat
// Completions API has no standalone counting endpoint.
func (c *Client) CountTokens(_ context.Context, text string) (int, error) {
	return utf8.RuneCountInString(text) / 4, nil
}

// buildParams assembles the Chat Completion parameters including tool
// definitions and the per-role message conversion.
func (c *Client) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               c.opts.Model,
		Temperature:         openai.Float(c.opts.Temperature),
		MaxCompletionTokens: openai.Int(c.opts.MaxCompletionTokens),
	}
	if len(req.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Function.Name,
				Description: openai.String(tdef.Function.Description),
				Parameters:  tdef.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	return params
}

// buildMessages converts the normalized history into SDK message params.
// The history already satisfies role/tool-call pairing, so the conversion is
// positional.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case core.RoleAssistant:
			if !m.HasToolCalls() {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{
				Role:      "assistant",
				ToolCalls: calls,
			}
			// Text the model produced alongside its tool calls must replay
			// too, or the history drifts from what it actually said.
			if m.Content != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return out
}

// classify maps SDK errors onto the typed taxonomy so the runner never
// inspects raw vendor payloads.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apierr *openai.Error
	if !errors.As(err, &apierr) {
		return fmt.Errorf("openai api error: %w", err)
	}
	switch {
	case apierr.StatusCode == 401 || apierr.StatusCode == 403:
		return model.NewFatalError(model.CodeAuth, apierr.Error())
	case apierr.StatusCode == 404 || apierr.Code == "model_not_found":
		return model.NewFatalError(model.CodeModelNotSupported, apierr.Error())
	case apierr.StatusCode == 400:
		return model.NewFatalError(model.CodeInvalidRequest, apierr.Error())
	case apierr.StatusCode == 429 || apierr.StatusCode >= 500:
		return &model.UnavailableError{Provider: "openai", Message: apierr.Error()}
	default:
		return fmt.Errorf("openai api error: %w", err)
	}
}
