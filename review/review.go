// Package review assembles the shipped artifact: a code review conversation
// over a supplied diff that must end through the submit_review completion
// tool. It wires a runner with explicit completion, a budget manager and an
// optional investigation spawner into one Review call.
package review

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoloop/convoloop/budget"
	"github.com/convoloop/convoloop/conversation"
	"github.com/convoloop/convoloop/internal/util"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/runner"
	"github.com/convoloop/convoloop/subagent"
	"github.com/convoloop/convoloop/tool"
)

// SubmitToolName is the completion tool a reviewer must call to finish.
const SubmitToolName = "submit_review"

// systemPromptTemplate is expanded with the configured guidelines. The
// reviewer is told to finish through the submit tool so prose endings get
// nudged by the runner.
const systemPromptTemplate = `You are a careful code reviewer. Analyze the diff the user provides.

Review guidelines:
{{.Guidelines}}

Use the available tools to gather any context you need. When your review is
complete, call the ` + SubmitToolName + ` tool exactly once with your full
review. Do not end with a plain text reply.`

// defaultGuidelines apply when the caller configures none.
const defaultGuidelines = `- Point out correctness bugs, not style preferences.
- Flag error paths that swallow or mask failures.
- Note missing tests only for behavior the diff changes.
- Keep each finding short and actionable.`

// Options configures a Reviewer.
type Options struct {
	// Guidelines replaces the default review guidelines in the system
	// prompt.
	Guidelines string
	// MaxIterations bounds each review run.
	MaxIterations int
	// Tools are extra capabilities offered to the reviewer alongside the
	// submit tool.
	Tools []tool.Tool
	// MaxParallelTools is passed through to the dispatcher.
	MaxParallelTools int
	// EnableSubagents exposes spawn_investigation to the reviewer.
	EnableSubagents bool
	// EnableBudget attaches a context budget manager to review runs.
	EnableBudget bool
	// Budget tunes the budget manager thresholds; zero values keep the
	// manager defaults.
	Budget budget.Settings
	// Classifier overrides the default model error classifier.
	Classifier *model.Classifier
	Logger     logging.Logger
	Observer   runner.Observer
}

// Reviewer runs code review conversations against one model client. Safe to
// reuse across reviews; each Review call builds its own store and runner.
type Reviewer struct {
	client model.Client
	opts   Options
	prompt string
}

// NewReviewer constructs a Reviewer.
func NewReviewer(client model.Client, optFns ...func(o *Options)) (*Reviewer, error) {
	opts := Options{
		Guidelines:       defaultGuidelines,
		MaxIterations:    25,
		MaxParallelTools: 1,
		EnableBudget:     true,
		Classifier:       model.NewClassifier(),
		Logger:           logging.NoOpLogger{},
		Observer:         runner.NoopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	prompt, err := util.RenderTemplate(systemPromptTemplate, map[string]any{
		"Guidelines": opts.Guidelines,
	})
	if err != nil {
		return nil, fmt.Errorf("render review prompt: %w", err)
	}

	return &Reviewer{client: client, opts: opts, prompt: prompt}, nil
}

// Review runs one review conversation over diff and returns the submitted
// review text. The run ends only through the submit tool, cancellation, the
// iteration cap or a model error.
func (r *Reviewer) Review(ctx context.Context, diff string) (string, error) {
	if strings.TrimSpace(diff) == "" {
		return "", fmt.Errorf("empty diff")
	}

	registry := tool.NewRegistry(r.opts.Tools...)
	registry.Add(SubmitTool())
	if r.opts.EnableSubagents {
		spawner := subagent.NewSpawner(r.client, registry, func(o *subagent.SpawnerOptions) {
			o.Logger = r.opts.Logger
			o.EnableBudget = r.opts.EnableBudget
			o.MaxParallelTools = r.opts.MaxParallelTools
		})
		registry.Add(spawner.Tool())
	}

	dispatcher := tool.NewDispatcher(registry, func(o *tool.DispatcherOptions) {
		o.MaxParallel = r.opts.MaxParallelTools
		o.Logger = r.opts.Logger
	})

	store := conversation.NewStore(func(o *conversation.StoreOptions) {
		o.Logger = r.opts.Logger
	})
	store.AddUser("Review the following diff:\n\n```diff\n" + diff + "\n```")

	var mgr *budget.Manager
	if r.opts.EnableBudget {
		mgr = budget.NewManager(r.client, func(bo *budget.ManagerOptions) {
			bo.Logger = r.opts.Logger
			r.opts.Budget.Apply(bo)
		})
	}

	observer := r.opts.Observer
	if observer == nil {
		observer = runner.NoopObserver{}
	}
	if mgr != nil {
		// Tool messages carry a remaining-budget hint unless the caller's
		// observer supplies its own suffix.
		observer = runner.WithStatusSuffix(observer, func() string {
			return mgr.RemainingStatus(ctx, store.Messages(), r.prompt)
		})
	}

	run := runner.New(r.client, dispatcher, runner.Config{
		SystemPrompt:              r.prompt,
		MaxIterations:             r.opts.MaxIterations,
		Label:                     "review",
		RequireExplicitCompletion: true,
	}, func(o *runner.Options) {
		o.Classifier = r.opts.Classifier
		o.Logger = r.opts.Logger
		o.Observer = observer
		o.Budget = mgr
	})

	return run.Run(ctx, store)
}

// SubmitTool builds the submit_review completion tool. Calling it ends the
// conversation with the review text as the final result.
func SubmitTool() tool.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"review": map[string]any{
				"type":        "string",
				"description": "The complete review text, including every finding.",
			},
			"verdict": map[string]any{
				"type":        "string",
				"description": "One of: approve, request_changes.",
			},
		},
		"required": []string{"review"},
	}
	return tool.NewFunctionTool(
		SubmitToolName,
		"Submit the finished review. This ends the conversation.",
		schema,
		func(_ context.Context, args map[string]any) (*tool.Result, error) {
			review, _ := args["review"].(string)
			if strings.TrimSpace(review) == "" {
				return nil, fmt.Errorf("review must not be empty")
			}
			if verdict, _ := args["verdict"].(string); verdict != "" {
				review = "Verdict: " + verdict + "\n\n" + review
			}
			return tool.NewCompletionResult(review), nil
		},
	)
}
