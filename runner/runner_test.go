package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoloop/convoloop/conversation"
	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/internal/testutil"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/tool"
)

func newTestRunner(client *model.MockClient, cfg Config, tools ...tool.Tool) *Runner {
	registry := tool.NewRegistry(tools...)
	dispatcher := tool.NewDispatcher(registry)
	return New(client, dispatcher, cfg)
}

func TestRun_ToolCallThenAnswer(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{"text":"hi"}`))).
		EnqueueResponse(testutil.TextResponse("done: hi"))

	r := newTestRunner(client, Config{MaxIterations: 5}, testutil.EchoTool("echo"))
	store := conversation.NewStore()
	store.AddUser("say hi")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "done: hi", result)
	assert.Equal(t, 2, client.RequestCount())
	assert.Equal(t, 2, r.Iterations())
	assert.False(t, r.HitMaxIterations())
	assert.False(t, r.WasCancelled())

	// History: user, assistant(tool call), tool, assistant(answer).
	msgs := store.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, core.RoleTool, msgs[2].Role)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "echo: hi", msgs[2].Content)
}

func TestRun_SystemPromptPrependedNotStored(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse("ok"))

	r := newTestRunner(client, Config{SystemPrompt: "be brief", MaxIterations: 3})
	store := conversation.NewStore()
	store.AddUser("hi")

	_, err := r.Run(context.Background(), store)
	require.NoError(t, err)

	req := client.Requests()[0]
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, core.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "be brief", req.Messages[0].Content)
	for _, m := range store.Messages() {
		assert.NotEqual(t, core.RoleSystem, m.Role)
	}
}

func TestRun_CompletionViaToolMetadata(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("",
			testutil.Call("c1", "finish", `{"content":"the final answer"}`)))

	r := newTestRunner(client, Config{MaxIterations: 5, RequireExplicitCompletion: true},
		testutil.CompletionTool("finish"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "the final answer", result)
	assert.Equal(t, 1, client.RequestCount())

	// The tool message lands in history before the run returns.
	last, ok := store.Last()
	require.True(t, ok)
	assert.Equal(t, core.RoleTool, last.Role)
}

func TestRun_CompletionByMetadataNotName(t *testing.T) {
	// A tool named like a completion tool but returning a plain result must
	// not end the run.
	notReally := tool.NewFunctionTool("submit_review", "looks final, is not",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*tool.Result, error) {
			return tool.NewResult("just a result"), nil
		},
	)
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "submit_review", `{}`))).
		EnqueueResponse(testutil.TextResponse("prose after"))

	r := newTestRunner(client, Config{MaxIterations: 5}, notReally)
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "prose after", result)
	assert.Equal(t, 2, client.RequestCount())
}

func TestRun_MaxIterationsExhausted(t *testing.T) {
	// The model asks for tools forever; the script repeats its last step.
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{"text":"x"}`)))

	r := newTestRunner(client, Config{MaxIterations: 3}, testutil.EchoTool("echo"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, MaxIterationsResult, result)
	assert.True(t, r.HitMaxIterations())
	assert.Equal(t, 3, client.RequestCount())
}

func TestRun_NudgeThenCompletion(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse("I think we are done here.")).
		EnqueueResponse(testutil.ToolCallResponse("",
			testutil.Call("c1", "finish", `{"content":"proper ending"}`)))

	r := newTestRunner(client, Config{MaxIterations: 10, RequireExplicitCompletion: true},
		testutil.CompletionTool("finish"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "proper ending", result)
	assert.Equal(t, 2, client.RequestCount())

	// The nudge is a user message in history.
	var nudges int
	for _, m := range store.Messages() {
		if m.Role == core.RoleUser && strings.Contains(m.Content, "completion tool") {
			nudges++
		}
	}
	assert.Equal(t, 1, nudges)
}

func TestRun_NudgeCounterResetByToolCall(t *testing.T) {
	// prose, prose, tool call (counter back to 0), prose, prose, completion:
	// the two nudge pairs are each within the limit only because the tool
	// call reset the counter.
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse("first prose")).
		EnqueueResponse(testutil.TextResponse("second prose")).
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{"text":"w"}`))).
		EnqueueResponse(testutil.TextResponse("third prose")).
		EnqueueResponse(testutil.TextResponse("fourth prose")).
		EnqueueResponse(testutil.ToolCallResponse("",
			testutil.Call("c2", "finish", `{"content":"finally"}`)))

	r := newTestRunner(client, Config{MaxIterations: 10, RequireExplicitCompletion: true},
		testutil.EchoTool("echo"), testutil.CompletionTool("finish"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "finally", result)
	assert.Equal(t, 6, client.RequestCount())
}

func TestRun_NudgesExhaustedFallsBackToProse(t *testing.T) {
	prose := "Here is my final take, in plain text instead of the required tool call."
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse(prose))

	r := newTestRunner(client, Config{MaxIterations: 10, RequireExplicitCompletion: true},
		testutil.CompletionTool("finish"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	// Two nudges, then the third prose answer is accepted raw.
	assert.Equal(t, prose, result)
	assert.Equal(t, 3, client.RequestCount())
}

func TestRun_NudgesExhaustedSalvagesEmbeddedJSON(t *testing.T) {
	payload := strings.Repeat("every finding counts and this one is spelled out at length. ", 3)
	prose := "I could not call the tool, but here is the result:\n```json\n{\"review_content\": \"" + payload + "\"}\n```"
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse(prose))

	r := newTestRunner(client, Config{MaxIterations: 10, RequireExplicitCompletion: true},
		testutil.CompletionTool("finish"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, payload, result)
}

func TestRun_FailedToolStaysVisible(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "broken", `{}`))).
		EnqueueResponse(testutil.TextResponse("recovered"))

	r := newTestRunner(client, Config{MaxIterations: 5},
		testutil.FailingTool("broken", "disk on fire"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)

	msgs := store.Messages()
	require.GreaterOrEqual(t, len(msgs), 3)
	toolMsg := msgs[2]
	assert.Equal(t, core.RoleTool, toolMsg.Role)
	assert.True(t, strings.HasPrefix(toolMsg.Content, "Error: "), "got %q", toolMsg.Content)
	assert.Contains(t, toolMsg.Content, "disk on fire")
}

func TestRun_UnknownToolReportedToModel(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "no_such_tool", `{}`))).
		EnqueueResponse(testutil.TextResponse("ok then"))

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "ok then", result)

	msgs := store.Messages()
	toolMsg := msgs[2]
	assert.Equal(t, core.RoleTool, toolMsg.Role)
	assert.True(t, strings.HasPrefix(toolMsg.Content, "Error: "))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse("never seen"))

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := r.Run(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "", result)
	assert.True(t, r.WasCancelled())
	assert.Equal(t, 0, client.RequestCount())
}

func TestRun_CancelledDuringModelRequest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := model.NewMockClient().
		EnqueueResponse(testutil.TextResponse("arrived too late"))
	client.SendHook = func(hctx context.Context, _ model.Request) error {
		cancel()
		return hctx.Err()
	}

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "", result)
	assert.True(t, r.WasCancelled())
}

func TestRun_CancelledDuringToolExecutionOverridesCompletion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	finish := tool.NewFunctionTool("finish", "completes, but too late",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(context.Context, map[string]any) (*tool.Result, error) {
			cancel()
			return tool.NewCompletionResult("a completion nobody wants"), nil
		},
	)
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "finish", `{}`)))

	r := newTestRunner(client, Config{MaxIterations: 5, RequireExplicitCompletion: true}, finish)
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "", result)
	assert.True(t, r.WasCancelled())
}

func TestRun_CancellationMasksOtherErrors(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := model.NewMockClient()
	client.SendHook = func(context.Context, model.Request) error {
		cancel()
		return fmt.Errorf(`{"error":{"type":"authentication_error","message":"bad key"}}`)
	}

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "", result)
	assert.True(t, r.WasCancelled())
}

func TestRun_FatalErrorAbortsTyped(t *testing.T) {
	client := model.NewMockClient().
		EnqueueError(fmt.Errorf(`400 {"error":{"type":"invalid_request_error","message":"tools: schema invalid"}}`))

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	_, err := r.Run(context.Background(), store)
	require.Error(t, err)
	var fatal *model.FatalError
	require.True(t, errors.As(err, &fatal))
	assert.Equal(t, model.CodeInvalidRequest, fatal.Code)
	assert.Equal(t, 1, client.RequestCount())
}

func TestRun_UnavailableRethrownUnchanged(t *testing.T) {
	upstream := &model.UnavailableError{Provider: "anthropic", Message: "overloaded"}
	client := model.NewMockClient().EnqueueError(upstream)

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	_, err := r.Run(context.Background(), store)
	require.Error(t, err)
	assert.Same(t, error(upstream), err)
}

func TestRun_TransientErrorInjectedAndRetried(t *testing.T) {
	client := model.NewMockClient().
		EnqueueError(errors.New("connection reset by peer")).
		EnqueueResponse(testutil.TextResponse("second try worked"))

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "second try worked", result)
	assert.Equal(t, 2, client.RequestCount())

	var injected bool
	for _, m := range store.Messages() {
		if m.Role == core.RoleAssistant && strings.Contains(m.Content, "transient error") {
			injected = true
		}
	}
	assert.True(t, injected, "transient failure should be visible in history")
}

func TestRun_TransientErrorOnLastIteration(t *testing.T) {
	client := model.NewMockClient().
		EnqueueError(errors.New("connection reset by peer"))

	r := newTestRunner(client, Config{MaxIterations: 1})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Contains(t, result, MaxIterationsResult)
	assert.Contains(t, result, "connection reset")
	assert.True(t, r.HitMaxIterations())
}

func TestRun_EmptyResponseWithoutExplicitCompletion(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(model.Response{})

	r := newTestRunner(client, Config{MaxIterations: 5})
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, NoContentResult, result)
}

func TestRunner_ResetAndReuse(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{"text":"x"}`)))

	r := newTestRunner(client, Config{MaxIterations: 2}, testutil.EchoTool("echo"))
	store := conversation.NewStore()
	store.AddUser("task")

	_, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, r.HitMaxIterations())

	r.Reset()
	assert.False(t, r.HitMaxIterations())
	assert.False(t, r.WasCancelled())
	assert.Equal(t, 0, r.Iterations())

	// Reset is idempotent.
	r.Reset()
	assert.False(t, r.HitMaxIterations())
}

func TestRun_UnparseableArgumentsStillDispatch(t *testing.T) {
	// Arguments that fail to parse degrade to an empty map; the tool still
	// runs rather than the call being dropped.
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{invalid`))).
		EnqueueResponse(testutil.TextResponse("done"))

	r := newTestRunner(client, Config{MaxIterations: 5}, testutil.EchoTool("echo"))
	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, "echo: ", store.Messages()[2].Content)
}

type staticSuffixObserver struct {
	NoopObserver
	suffix string
}

func (o staticSuffixObserver) ContextStatusSuffix() string { return o.suffix }

func TestRun_ContextStatusSuffixOnToolMessages(t *testing.T) {
	client := model.NewMockClient().
		EnqueueResponse(testutil.ToolCallResponse("", testutil.Call("c1", "echo", `{"text":"hi"}`))).
		EnqueueResponse(testutil.ToolCallResponse("",
			testutil.Call("c2", "finish", `{"content":"all findings reported"}`)))

	registry := tool.NewRegistry(testutil.EchoTool("echo"), testutil.CompletionTool("finish"))
	r := New(client, tool.NewDispatcher(registry),
		Config{MaxIterations: 5, RequireExplicitCompletion: true},
		func(o *Options) {
			o.Observer = staticSuffixObserver{suffix: "[context: 42% of the token budget used]"}
		})

	store := conversation.NewStore()
	store.AddUser("task")

	result, err := r.Run(context.Background(), store)
	require.NoError(t, err)

	// Every tool message carries the hint; the final answer never does.
	assert.Equal(t, "all findings reported", result)
	toolMessages := 0
	for _, m := range store.Messages() {
		if m.Role != core.RoleTool {
			continue
		}
		toolMessages++
		assert.True(t, strings.HasSuffix(m.Content, "\n\n[context: 42% of the token budget used]"), m.Content)
	}
	assert.Equal(t, 2, toolMessages)
}

func TestWithStatusSuffix(t *testing.T) {
	obs := WithStatusSuffix(NoopObserver{}, func() string { return "[context: 9% of the token budget used]" })
	assert.Equal(t, "[context: 9% of the token budget used]", obs.ContextStatusSuffix())

	// An observer with its own suffix wins over the fallback.
	obs = WithStatusSuffix(staticSuffixObserver{suffix: "mine"}, func() string { return "fallback" })
	assert.Equal(t, "mine", obs.ContextStatusSuffix())
}
