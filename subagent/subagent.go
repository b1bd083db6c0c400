// Package subagent spawns isolated, capability-restricted nested
// conversations ("investigations") on top of the same runner state machine.
// A spawner is a consumer of the runner, not a second loop implementation:
// it builds a fresh message store, a restricted tool registry and a bounded
// runner per investigation, shares the parent's context so cancellation
// always propagates downward, and converts failures into structured results
// instead of letting one failed investigation crash the parent conversation.
package subagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/convoloop/convoloop/budget"
	"github.com/convoloop/convoloop/conversation"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/runner"
	"github.com/convoloop/convoloop/tool"
)

// ToolName is the name under which a spawner exposes itself to a parent
// conversation. It is always excluded from child capability sets, bounding
// recursion depth to one level.
const ToolName = "spawn_investigation"

// defaultSystemPrompt drives an investigation run. The delimited sections
// give the parent a structure to parse; a model that ignores them degrades
// to the raw answer.
const defaultSystemPrompt = `You are a focused investigator working on one bounded sub-task of a larger analysis.
Use the available tools to gather evidence, then reply with your conclusions in this exact format:

<findings>
The concrete evidence you gathered, one item per line.
</findings>
<summary>
A short summary of what the evidence means.
</summary>
<answer>
The direct answer to the task you were given.
</answer>`

// Result is the structured outcome of one investigation. On failure, Error
// describes what went wrong and the other fields are empty; the parent loop
// treats it as one disappointing finding among possibly several results.
type Result struct {
	Success  bool   `json:"success"`
	Findings string `json:"findings,omitempty"`
	Summary  string `json:"summary,omitempty"`
	Answer   string `json:"answer,omitempty"`
	Raw      string `json:"raw,omitempty"`
	Error    string `json:"error,omitempty"`
}

// SpawnerOptions configures a Spawner.
type SpawnerOptions struct {
	// MaxIterations bounds each investigation run.
	MaxIterations int
	// SystemPrompt overrides the default investigation prompt.
	SystemPrompt string
	// Disallow lists additional tool names stripped from child registries
	// (the spawn tool itself is always stripped).
	Disallow []string
	// MaxParallelTools is passed through to the child dispatcher.
	MaxParallelTools int
	// EnableBudget attaches a context budget manager to child runs.
	EnableBudget bool
	// Budget tunes the child budget manager thresholds; zero values keep
	// the manager defaults.
	Budget budget.Settings
	Logger logging.Logger
}

// Spawner builds nested investigation runs from a parent capability set.
type Spawner struct {
	client           model.Client
	registry         *tool.Registry
	maxIterations    int
	systemPrompt     string
	disallow         []string
	maxParallelTools int
	enableBudget     bool
	budgetSettings   budget.Settings
	logger           logging.Logger
}

// NewSpawner constructs a Spawner over the parent's model client and tool
// registry.
func NewSpawner(client model.Client, registry *tool.Registry, optFns ...func(o *SpawnerOptions)) *Spawner {
	opts := SpawnerOptions{
		MaxIterations:    10,
		SystemPrompt:     defaultSystemPrompt,
		MaxParallelTools: 1,
		EnableBudget:     true,
		Logger:           logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Spawner{
		client:           client,
		registry:         registry,
		maxIterations:    opts.MaxIterations,
		systemPrompt:     opts.SystemPrompt,
		disallow:         opts.Disallow,
		maxParallelTools: opts.MaxParallelTools,
		enableBudget:     opts.EnableBudget,
		budgetSettings:   opts.Budget,
		logger:           opts.Logger,
	}
}

// Investigate runs one isolated investigation for the task description under
// the caller's ctx. Errors never propagate: every outcome is a Result.
func (s *Spawner) Investigate(ctx context.Context, task string) Result {
	if strings.TrimSpace(task) == "" {
		return Result{Success: false, Error: "empty investigation task"}
	}

	restricted := s.registry.Without(append([]string{ToolName}, s.disallow...)...)
	dispatcher := tool.NewDispatcher(restricted, func(o *tool.DispatcherOptions) {
		o.MaxParallel = s.maxParallelTools
		o.Logger = s.logger
	})

	store := conversation.NewStore(func(o *conversation.StoreOptions) {
		o.Logger = s.logger
	})
	store.AddUser(task)

	run := runner.New(s.client, dispatcher, runner.Config{
		SystemPrompt:  s.systemPrompt,
		MaxIterations: s.maxIterations,
		Label:         "investigation",
	}, func(o *runner.Options) {
		o.Logger = s.logger
		if s.enableBudget {
			o.Budget = budget.NewManager(s.client, func(bo *budget.ManagerOptions) {
				bo.Logger = s.logger
				s.budgetSettings.Apply(bo)
			})
		}
	})

	raw, err := run.Run(ctx, store)
	if err != nil {
		s.logger.Warn("subagent.investigation.failed", "error", err.Error())
		return Result{Success: false, Error: err.Error()}
	}
	if run.WasCancelled() {
		return Result{Success: false, Error: "investigation cancelled"}
	}

	result := parseResult(raw)
	result.Success = true
	if run.HitMaxIterations() {
		s.logger.Warn("subagent.investigation.hit_max_iterations", "task", task)
	}
	return result
}

// Tool exposes the spawner as a callable tool for the parent conversation.
func (s *Spawner) Tool() tool.Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "A self-contained description of what to investigate and what question to answer.",
			},
		},
		"required": []string{"task"},
	}
	return tool.NewFunctionTool(
		ToolName,
		"Spawn an isolated sub-investigation with a restricted tool set and report its findings.",
		schema,
		func(ctx context.Context, args map[string]any) (*tool.Result, error) {
			task, _ := args["task"].(string)
			result := s.Investigate(ctx, task)
			return tool.NewResult(formatResult(result)), nil
		},
	)
}

// parseResult extracts the delimited sections, degrading to the raw response
// when a section is missing.
func parseResult(raw string) Result {
	return Result{
		Findings: section(raw, "findings"),
		Summary:  section(raw, "summary"),
		Answer:   section(raw, "answer"),
		Raw:      raw,
	}
}

// section returns the trimmed body of <tag>...</tag>, or "" when absent.
func section(raw, tag string) string {
	open := "<" + tag + ">"
	closing := "</" + tag + ">"
	start := strings.Index(raw, open)
	if start < 0 {
		return ""
	}
	start += len(open)
	end := strings.Index(raw[start:], closing)
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(raw[start : start+end])
}

// formatResult renders a Result as tool message content for the parent
// model. A failed investigation is stated plainly rather than raised as an
// error so the parent can weigh it against other findings.
func formatResult(r Result) string {
	if !r.Success {
		return fmt.Sprintf("Investigation failed: %s", r.Error)
	}
	var b strings.Builder
	if r.Answer != "" {
		b.WriteString("Answer: " + r.Answer + "\n")
	}
	if r.Summary != "" {
		b.WriteString("Summary: " + r.Summary + "\n")
	}
	if r.Findings != "" {
		b.WriteString("Findings:\n" + r.Findings + "\n")
	}
	if b.Len() == 0 {
		return r.Raw
	}
	return strings.TrimSpace(b.String())
}
