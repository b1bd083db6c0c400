package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convoloop/convoloop/budget"
	"github.com/convoloop/convoloop/conversation"
	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/tool"
)

// maxCompletionNudges is how many synthetic reminders the runner sends before
// accepting a prose-only answer from a conversation that requires explicit
// completion. Any tool call resets the count: cooperation is evidence of
// progress.
const maxCompletionNudges = 2

// Sentinel results for non-throwing terminal states.
const (
	// NoContentResult is returned when a run finished without producing
	// any content.
	NoContentResult = "The conversation completed without producing content."
	// MaxIterationsResult is returned when the iteration cap was exhausted
	// before a final answer.
	MaxIterationsResult = "Reached the maximum number of iterations before completing the task."
)

// finalAnswerPrompt is appended when the budget manager asks for a wrap-up.
const finalAnswerPrompt = "The context window is nearly full. Provide your final answer now using only the findings gathered so far. Do not request more tool calls."

// completionNudgePrompt pushes the model toward the completion tool instead
// of silently finishing with prose.
const completionNudgePrompt = "You have not completed the task yet. Call the completion tool with your final result instead of replying with plain text."

// Config is the immutable per-run configuration.
type Config struct {
	// SystemPrompt is prepended to every model request; it never lives in
	// the message store and is never truncated.
	SystemPrompt string
	// MaxIterations bounds model requests per run (1-indexed).
	MaxIterations int
	// Label names the run for logging ("review", "investigation", ...).
	Label string
	// RequireExplicitCompletion makes prose-only answers insufficient: the
	// model must finish through a tool result carrying the completion
	// signal, and gets nudged when it does not.
	RequireExplicitCompletion bool
}

// Options holds dependency overrides passed to New().
type Options struct {
	// Budget enables context-window management; nil disables it.
	Budget *budget.Manager
	// Classifier maps unclassified model errors onto the typed taxonomy.
	Classifier *model.Classifier
	Logger     logging.Logger
	Observer   Observer
}

// runState lives only across one Run invocation and is reset on Reset() and
// at the start of each Run.
type runState struct {
	iteration        int
	completionNudges int
	hitMaxIterations bool
	wasCancelled     bool
}

// Runner is the conversation orchestrator. It is not safe for concurrent Run
// calls on the same instance; construct one Runner per concurrent
// conversation.
type Runner struct {
	client     model.Client
	dispatcher *tool.Dispatcher
	cfg        Config
	budget     *budget.Manager
	classifier *model.Classifier
	logger     logging.Logger
	observer   Observer

	state runState
}

// New constructs a Runner bound to a model client, a tool dispatcher and an
// immutable config.
func New(client model.Client, dispatcher *tool.Dispatcher, cfg Config, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Classifier: model.NewClassifier(),
		Logger:     logging.NoOpLogger{},
		Observer:   NoopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 25
	}
	return &Runner{
		client:     client,
		dispatcher: dispatcher,
		cfg:        cfg,
		budget:     opts.Budget,
		classifier: opts.Classifier,
		logger:     opts.Logger,
		observer:   opts.Observer,
	}
}

// Reset clears the outcome flags so the Runner can be reused. Safe to call
// with no prior run.
func (r *Runner) Reset() { r.state = runState{} }

// HitMaxIterations reports whether the last run exhausted its iteration cap.
func (r *Runner) HitMaxIterations() bool { return r.state.hitMaxIterations }

// WasCancelled reports whether the last run ended through cancellation.
func (r *Runner) WasCancelled() bool { return r.state.wasCancelled }

// Iterations returns how many iterations the last run started.
func (r *Runner) Iterations() int { return r.state.iteration }

// Run drives the conversation in store to a terminal state and returns the
// final textual result.
//
// Terminal states:
//   - completion via tool result carrying the completion signal
//   - completion via plain response (when explicit completion is not required)
//   - iteration cap exhausted (sentinel result, HitMaxIterations()=true)
//   - cancellation ("" result, WasCancelled()=true, nil error)
//   - fatal model error (*model.FatalError returned)
//   - unavailable upstream (original error returned unchanged for the
//     caller's retry policy)
//
// Cancellation has absolute priority: a response or tool result that arrives
// concurrently with ctx being done is discarded.
func (r *Runner) Run(ctx context.Context, store *conversation.Store) (string, error) {
	r.state = runState{}
	runID := core.NewID()
	start := time.Now()

	log := r.logger
	log.Info("runner.run.start",
		"run_id", runID,
		"label", r.cfg.Label,
		"max_iterations", r.cfg.MaxIterations,
		"tools", r.dispatcher.Registry().Len(),
	)

	for r.state.iteration = 1; r.state.iteration <= r.cfg.MaxIterations; r.state.iteration++ {
		// Cancellation check before any work, including a pending budget
		// evaluation or request.
		if ctx.Err() != nil {
			return r.finishCancelled(log, runID, start), nil
		}

		r.observer.OnIterationStart(r.state.iteration, r.cfg.MaxIterations)
		log.Debug("runner.iteration.start",
			"run_id", runID,
			"iteration", r.state.iteration,
		)

		if err := r.applyBudget(ctx, store); err != nil {
			// Budget evaluation failing is never worth aborting a run;
			// cancellation during the counting call is caught above on the
			// next check.
			log.Warn("runner.budget.check_failed", "run_id", runID, "error", err.Error())
		}
		if ctx.Err() != nil {
			return r.finishCancelled(log, runID, start), nil
		}

		resp, err := r.send(ctx, store)
		if err != nil {
			final, done, runErr := r.classifyIterationError(ctx, store, err, log, runID)
			if done {
				if runErr == nil && r.state.wasCancelled {
					return r.finishCancelled(log, runID, start), nil
				}
				return final, runErr
			}
			continue
		}

		// A well-formed response that raced with cancellation is discarded.
		if ctx.Err() != nil {
			return r.finishCancelled(log, runID, start), nil
		}

		store.AddAssistant(resp.Content, resp.ToolCalls...)

		if len(resp.ToolCalls) > 0 {
			r.state.completionNudges = 0

			final, completed := r.dispatchToolCalls(ctx, store, resp.ToolCalls)

			// Cancellation during tool execution overrides even a
			// just-obtained completion result.
			if ctx.Err() != nil {
				return r.finishCancelled(log, runID, start), nil
			}
			if completed {
				log.Info("runner.run.completed_via_tool",
					"run_id", runID,
					"iterations", r.state.iteration,
					"duration_ms", time.Since(start).Milliseconds(),
				)
				return final, nil
			}
			continue
		}

		if !r.cfg.RequireExplicitCompletion {
			log.Info("runner.run.completed_via_response",
				"run_id", runID,
				"iterations", r.state.iteration,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			if resp.Content == "" {
				return NoContentResult, nil
			}
			return resp.Content, nil
		}

		// Explicit completion required but the model answered with prose.
		r.state.completionNudges++
		if r.state.completionNudges > maxCompletionNudges {
			log.Warn("runner.completion.nudges_exhausted",
				"run_id", runID,
				"nudges", r.state.completionNudges-1,
			)
			if salvaged, ok := salvageCompletion(resp.Content); ok {
				log.Info("runner.completion.salvaged", "run_id", runID)
				return salvaged, nil
			}
			if resp.Content == "" {
				return NoContentResult, nil
			}
			return resp.Content, nil
		}

		log.Debug("runner.completion.nudge",
			"run_id", runID,
			"nudge", r.state.completionNudges,
		)
		store.AddUser(completionNudgePrompt)
	}

	r.state.hitMaxIterations = true
	log.Warn("runner.run.max_iterations",
		"run_id", runID,
		"iterations", r.cfg.MaxIterations,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return MaxIterationsResult, nil
}

// finishCancelled marks the run cancelled and returns the empty result.
func (r *Runner) finishCancelled(log logging.Logger, runID string, start time.Time) string {
	r.state.wasCancelled = true
	log.Info("runner.run.cancelled",
		"run_id", runID,
		"iteration", r.state.iteration,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ""
}

// applyBudget evaluates the current history and applies the decided action.
func (r *Runner) applyBudget(ctx context.Context, store *conversation.Store) error {
	if r.budget == nil {
		return nil
	}

	action, err := r.budget.Evaluate(ctx, store.Messages(), r.cfg.SystemPrompt)
	if err != nil {
		return err
	}

	switch action {
	case budget.ActionRequestFinalAnswer:
		store.AddUser(finalAnswerPrompt)
	case budget.ActionRemoveOldContext:
		result, err := r.budget.Cleanup(ctx, store.Messages(), r.cfg.SystemPrompt)
		if err != nil {
			return err
		}
		// Clear-then-replay: the store re-validates role and tool-call-ID
		// pairing while rebuilding from the cleaned list.
		store.Rebuild(result.Messages)
	}
	return nil
}

// send composes the full request (system prompt + history + tool schemas)
// and awaits the model under ctx.
func (r *Runner) send(ctx context.Context, store *conversation.Store) (*model.Response, error) {
	history := store.Messages()
	messages := make([]core.Message, 0, len(history)+1)
	if r.cfg.SystemPrompt != "" {
		messages = append(messages, core.NewSystemMessage(r.cfg.SystemPrompt))
	}
	messages = append(messages, history...)

	start := time.Now()
	resp, err := r.client.Send(ctx, model.Request{
		Messages: messages,
		Tools:    r.dispatcher.Registry().Definitions(),
	})
	if err != nil {
		r.logger.Debug("runner.model.request_failed",
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err.Error(),
		)
		return nil, err
	}
	return resp, nil
}

// dispatchToolCalls parses, dispatches and folds back one assistant turn's
// tool calls. It returns the completion content and true when any result
// carried the completion signal; the corresponding tool messages are always
// appended first so the final step stays traceable in history.
func (r *Runner) dispatchToolCalls(ctx context.Context, store *conversation.Store, calls []core.ToolCall) (string, bool) {
	requests := make([]core.ToolRequest, len(calls))
	for i, tc := range calls {
		args, ok := tc.ParseArguments()
		if !ok {
			r.logger.Warn("runner.tool.args_unparseable",
				"tool", tc.Name,
				"tool_call_id", tc.ID,
			)
		}
		requests[i] = core.ToolRequest{ID: tc.ID, Name: tc.Name, Args: args}
		r.observer.OnToolCallStart(i, len(calls), tc.Name, args)
	}

	results := r.dispatcher.Execute(ctx, requests)

	suffix := r.observer.ContextStatusSuffix()
	var finalAnswer string
	completed := false
	for i, res := range results {
		content := res.Content
		if !res.Success {
			// A failed call must stay visible to the model so it can
			// recover; it is never silently dropped.
			content = "Error: " + res.Error
		}
		if suffix != "" {
			content += "\n\n" + suffix
		}
		store.AddTool(calls[i].ID, content)

		if res.IsCompletion() && !completed {
			completed = true
			finalAnswer = res.Content
		}
		r.observer.OnToolCallComplete(calls[i].ID, res.Name, requests[i].Args, res)
	}
	return finalAnswer, completed
}

// classifyIterationError applies the error ladder of the iteration catch
// path. The first match wins:
//
//  1. cancellation-typed error           -> cancelled
//  2. ctx already done, any other error  -> cancelled (log the cause)
//  3. fatal model error (typed or sniffed) -> rethrow typed
//  4. unavailable upstream               -> rethrow unchanged
//  5. transient                          -> inject into history, continue,
//     unless this was the last allowed iteration
func (r *Runner) classifyIterationError(
	ctx context.Context,
	store *conversation.Store,
	err error,
	log logging.Logger,
	runID string,
) (final string, done bool, runErr error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.state.wasCancelled = true
		return "", true, nil
	}

	if ctx.Err() != nil {
		// The error raced with cancellation; the caller no longer wants
		// output, so report cancelled and keep the cause for diagnosis.
		log.Debug("runner.error.masked_by_cancellation",
			"run_id", runID,
			"error", err.Error(),
		)
		r.state.wasCancelled = true
		return "", true, nil
	}

	classified := r.classifier.Classify(err)
	var fatal *model.FatalError
	if errors.As(classified, &fatal) {
		log.Error("runner.error.fatal",
			"run_id", runID,
			"code", fatal.Code,
			"error", fatal.Message,
		)
		return "", true, fatal
	}

	if model.LooksUnavailable(err) {
		log.Warn("runner.error.unavailable", "run_id", runID, "error", err.Error())
		return "", true, err
	}

	if r.state.iteration >= r.cfg.MaxIterations {
		// No further retries are possible regardless, which is exactly the
		// max-iterations outcome.
		r.state.hitMaxIterations = true
		log.Warn("runner.error.transient_on_last_iteration",
			"run_id", runID,
			"error", err.Error(),
		)
		return fmt.Sprintf("%s Last error: %v", MaxIterationsResult, err), true, nil
	}

	log.Warn("runner.error.transient",
		"run_id", runID,
		"iteration", r.state.iteration,
		"error", err.Error(),
	)
	store.AddAssistant(fmt.Sprintf("The previous model request failed with a transient error: %v. Continuing with the task.", err))
	return "", false, nil
}
