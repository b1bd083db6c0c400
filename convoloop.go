// Package convoloop provides a high-level façade over the conversation
// runner and its services (tools, budget, subagents, review, archiving).
// Most applications interact with this package by:
//  1. Creating a Convoloop via New() with a model client and tools
//  2. Running conversations (Run), reviews (Review) or investigations
//     (Investigate)
//  3. Optionally archiving finished transcripts through an Archiver
//
// The façade delegates orchestration to runner.Runner while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a structured logger
// and a durable archive.
package convoloop

import (
	"context"

	"github.com/convoloop/convoloop/budget"
	"github.com/convoloop/convoloop/conversation"
	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
	"github.com/convoloop/convoloop/review"
	"github.com/convoloop/convoloop/runner"
	"github.com/convoloop/convoloop/subagent"
	"github.com/convoloop/convoloop/tool"
)

// Archiver persists finished transcripts. conversation/sqlite.Archive
// implements it; nil disables archiving.
type Archiver interface {
	Save(ctx context.Context, id, label, finalResult string, messages []core.Message) error
}

// Options configures a Convoloop instance.
type Options struct {
	// Tools are the capabilities offered to every conversation.
	Tools []tool.Tool
	// MaxIterations bounds model requests per run.
	MaxIterations int
	// MaxParallelTools bounds concurrent tool execution within one batch.
	MaxParallelTools int
	// EnableBudget attaches context-window management to runs.
	EnableBudget bool
	// Budget tunes the budget manager thresholds (ratios, preserved
	// iterations); zero values keep the manager defaults.
	Budget budget.Settings
	// EnableSubagents exposes spawn_investigation to conversations.
	EnableSubagents bool
	// Classifier maps unclassified model errors onto the typed taxonomy.
	Classifier *model.Classifier
	// Archive receives finished transcripts; nil disables archiving.
	Archive Archiver
	Logger  logging.Logger
	// Observer receives progress callbacks during runs.
	Observer runner.Observer
}

// Convoloop is the high-level façade aggregating a model client, a tool
// registry and run configuration.
type Convoloop struct {
	client   model.Client
	registry *tool.Registry
	opts     Options
}

// New creates a Convoloop over a model client with optional overrides.
func New(client model.Client, optFns ...func(o *Options)) *Convoloop {
	opts := Options{
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

	registry := tool.NewRegistry(opts.Tools...)
	if opts.EnableSubagents {
		spawner := subagent.NewSpawner(client, registry, func(o *subagent.SpawnerOptions) {
			o.Logger = opts.Logger
			o.EnableBudget = opts.EnableBudget
			o.Budget = opts.Budget
			o.MaxParallelTools = opts.MaxParallelTools
		})
		registry.Add(spawner.Tool())
	}

	return &Convoloop{client: client, registry: registry, opts: opts}
}

// Registry exposes the tool registry for late registration.
func (c *Convoloop) Registry() *tool.Registry { return c.registry }

// Run drives one conversation from userMessage to a terminal state and
// returns the final result. The transcript is archived when an Archiver is
// configured; archive failures are logged, not returned, since the result
// already exists.
func (c *Convoloop) Run(ctx context.Context, systemPrompt, userMessage string) (string, error) {
	store := conversation.NewStore(func(o *conversation.StoreOptions) {
		o.Logger = c.opts.Logger
	})
	store.AddUser(userMessage)

	run := c.newRunner(ctx, store, runner.Config{
		SystemPrompt:  systemPrompt,
		MaxIterations: c.opts.MaxIterations,
		Label:         "conversation",
	})

	result, err := run.Run(ctx, store)
	if err != nil {
		return "", err
	}
	c.archive(ctx, "conversation", result, store.Messages())
	return result, nil
}

// Review runs a code review over diff that must finish through the
// submit_review tool.
func (c *Convoloop) Review(ctx context.Context, diff string, optFns ...func(o *review.Options)) (string, error) {
	reviewer, err := review.NewReviewer(c.client, func(o *review.Options) {
		o.Tools = c.registryTools()
		o.MaxIterations = c.opts.MaxIterations
		o.MaxParallelTools = c.opts.MaxParallelTools
		o.EnableSubagents = c.opts.EnableSubagents
		o.EnableBudget = c.opts.EnableBudget
		o.Budget = c.opts.Budget
		o.Classifier = c.opts.Classifier
		o.Logger = c.opts.Logger
		o.Observer = c.opts.Observer
		for _, fn := range optFns {
			fn(o)
		}
	})
	if err != nil {
		return "", err
	}

	result, err := reviewer.Review(ctx, diff)
	if err != nil {
		return "", err
	}
	// The reviewer owns its transcript; only the submitted review is kept.
	c.archive(ctx, "review", result, nil)
	return result, nil
}

// Investigate spawns one isolated investigation with the registered tools.
func (c *Convoloop) Investigate(ctx context.Context, task string) subagent.Result {
	spawner := subagent.NewSpawner(c.client, c.registry, func(o *subagent.SpawnerOptions) {
		o.Logger = c.opts.Logger
		o.EnableBudget = c.opts.EnableBudget
		o.Budget = c.opts.Budget
		o.MaxParallelTools = c.opts.MaxParallelTools
	})
	return spawner.Investigate(ctx, task)
}

func (c *Convoloop) newRunner(ctx context.Context, store *conversation.Store, cfg runner.Config) *runner.Runner {
	dispatcher := tool.NewDispatcher(c.registry, func(o *tool.DispatcherOptions) {
		o.MaxParallel = c.opts.MaxParallelTools
		o.Logger = c.opts.Logger
	})

	var mgr *budget.Manager
	if c.opts.EnableBudget {
		mgr = budget.NewManager(c.client, func(bo *budget.ManagerOptions) {
			bo.Logger = c.opts.Logger
			c.opts.Budget.Apply(bo)
		})
	}

	observer := c.opts.Observer
	if mgr != nil {
		observer = runner.WithStatusSuffix(observer, func() string {
			return mgr.RemainingStatus(ctx, store.Messages(), cfg.SystemPrompt)
		})
	}

	return runner.New(c.client, dispatcher, cfg, func(o *runner.Options) {
		o.Classifier = c.opts.Classifier
		o.Logger = c.opts.Logger
		o.Observer = observer
		o.Budget = mgr
	})
}

func (c *Convoloop) registryTools() []tool.Tool {
	var tools []tool.Tool
	for _, name := range c.registry.Names() {
		if name == subagent.ToolName {
			continue
		}
		if t, ok := c.registry.Get(name); ok {
			tools = append(tools, t)
		}
	}
	return tools
}

func (c *Convoloop) archive(ctx context.Context, label, result string, messages []core.Message) {
	if c.opts.Archive == nil {
		return
	}
	id := core.NewID()
	if err := c.opts.Archive.Save(ctx, id, label, result, messages); err != nil {
		c.opts.Logger.Warn("archive.save.failed", "conversation_id", id, "error", err.Error())
	}
}
