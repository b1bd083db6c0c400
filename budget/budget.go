// Package budget decides when a running conversation is about to outgrow the
// model's context window and what to do about it: nothing, ask the model to
// wrap up with current findings, or remove old tool activity from history.
// Token counting itself is the model client's capability; this package only
// makes the decision and performs the truncation.
package budget

import (
	"context"
	"fmt"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
	"github.com/convoloop/convoloop/model"
)

// Action is the budget decision for the current history.
type Action int

const (
	// ActionNone means the history fits comfortably.
	ActionNone Action = iota
	// ActionRequestFinalAnswer means the window is filling up: the runner
	// should append a synthetic user message asking for a final answer
	// based on findings so far.
	ActionRequestFinalAnswer
	// ActionRemoveOldContext means the window is nearly exhausted: old tool
	// activity must be removed before the next request.
	ActionRemoveOldContext
)

// String returns a human readable action name.
func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionRequestFinalAnswer:
		return "request_final_answer"
	case ActionRemoveOldContext:
		return "remove_old_context"
	default:
		return "unknown"
	}
}

// ContextFullNotice is the user-visible marker inserted where old tool
// activity was removed, so the model knows part of its history is gone.
const ContextFullNotice = "[Note: earlier tool activity was removed because the context window filled up. Work from the findings summarized so far.]"

// CleanupResult reports what a cleanup pass did.
type CleanupResult struct {
	Messages                 []core.Message
	ToolResultsRemoved       int
	AssistantMessagesRemoved int
	NoticeAdded              bool
}

// Settings carries the user-tunable thresholds so higher-level option
// structs can thread them through to NewManager. Zero values leave the
// manager defaults untouched.
type Settings struct {
	FinalAnswerRatio   float64
	RemoveRatio        float64
	PreserveIterations int
}

// Apply copies the non-zero settings onto o.
func (s Settings) Apply(o *ManagerOptions) {
	if s.FinalAnswerRatio > 0 {
		o.FinalAnswerRatio = s.FinalAnswerRatio
	}
	if s.RemoveRatio > 0 {
		o.RemoveRatio = s.RemoveRatio
	}
	if s.PreserveIterations > 0 {
		o.PreserveIterations = s.PreserveIterations
	}
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// FinalAnswerRatio of the model input window at which the manager asks
	// for a final answer.
	FinalAnswerRatio float64
	// RemoveRatio of the window at which old context gets removed.
	RemoveRatio float64
	// PreserveIterations is how many of the most recent tool-calling
	// iterations survive a cleanup untouched.
	PreserveIterations int
	Logger             logging.Logger
}

// Manager evaluates a conversation against the model's input window and
// performs context cleanup when asked to.
type Manager struct {
	client             model.Client
	finalAnswerRatio   float64
	removeRatio        float64
	preserveIterations int
	logger             logging.Logger
}

// NewManager constructs a Manager bound to the client whose window it guards.
func NewManager(client model.Client, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{
		FinalAnswerRatio:   0.75,
		RemoveRatio:        0.90,
		PreserveIterations: 2,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		client:             client,
		finalAnswerRatio:   opts.FinalAnswerRatio,
		removeRatio:        opts.RemoveRatio,
		preserveIterations: opts.PreserveIterations,
		logger:             opts.Logger,
	}
}

// Evaluate returns the budget action for the given history. messages
// excludes the system prompt, which is passed separately so its cost is
// always accounted for but never truncated.
func (m *Manager) Evaluate(ctx context.Context, messages []core.Message, systemPrompt string) (Action, error) {
	limit := m.client.Info().MaxInputTokens
	if limit <= 0 {
		return ActionNone, nil
	}

	used, err := m.countTokens(ctx, messages, systemPrompt)
	if err != nil {
		return ActionNone, fmt.Errorf("token count: %w", err)
	}

	usage := float64(used) / float64(limit)
	switch {
	case usage >= m.removeRatio:
		m.logger.Warn("budget.remove_old_context", "used", used, "limit", limit)
		return ActionRemoveOldContext, nil
	case usage >= m.finalAnswerRatio:
		m.logger.Info("budget.request_final_answer", "used", used, "limit", limit)
		return ActionRequestFinalAnswer, nil
	default:
		return ActionNone, nil
	}
}

// RemainingStatus renders a short remaining-budget hint suitable as a tool
// message suffix, or "" when the window is unbounded or counting fails.
func (m *Manager) RemainingStatus(ctx context.Context, messages []core.Message, systemPrompt string) string {
	limit := m.client.Info().MaxInputTokens
	if limit <= 0 {
		return ""
	}
	used, err := m.countTokens(ctx, messages, systemPrompt)
	if err != nil {
		return ""
	}
	pct := 100 * used / limit
	if pct > 100 {
		pct = 100
	}
	return fmt.Sprintf("[context: %d%% of the token budget used]", pct)
}

// Cleanup removes tool-calling iterations older than the preserved window:
// assistant messages that carried tool calls plus their tool results. Plain
// prose (system, user, tool-free assistant messages) always survives. A
// single notice is inserted where the first removal happened.
func (m *Manager) Cleanup(_ context.Context, messages []core.Message, _ string) (*CleanupResult, error) {
	preserveFrom := m.preserveBoundary(messages)

	removable := make(map[int]bool)
	var toolRemoved, assistantRemoved int
	for i := 0; i < preserveFrom; i++ {
		msg := messages[i]
		switch {
		case msg.Role == core.RoleAssistant && msg.HasToolCalls():
			removable[i] = true
			assistantRemoved++
		case msg.Role == core.RoleTool:
			removable[i] = true
			toolRemoved++
		}
	}

	if len(removable) == 0 {
		return &CleanupResult{Messages: core.CloneMessages(messages)}, nil
	}

	cleaned := make([]core.Message, 0, len(messages)-len(removable)+1)
	noticeAdded := false
	for i, msg := range messages {
		if removable[i] {
			if !noticeAdded {
				cleaned = append(cleaned, core.NewUserMessage(ContextFullNotice))
				noticeAdded = true
			}
			continue
		}
		cleaned = append(cleaned, msg.Clone())
	}

	m.logger.Info("budget.cleanup",
		"tool_results_removed", toolRemoved,
		"assistant_messages_removed", assistantRemoved,
		"messages_before", len(messages),
		"messages_after", len(cleaned),
	)

	return &CleanupResult{
		Messages:                 cleaned,
		ToolResultsRemoved:       toolRemoved,
		AssistantMessagesRemoved: assistantRemoved,
		NoticeAdded:              noticeAdded,
	}, nil
}

// preserveBoundary walks backwards to the start of the last N tool-calling
// iterations. An iteration is one assistant message with tool calls followed
// by its tool results.
func (m *Manager) preserveBoundary(messages []core.Message) int {
	iterations := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleAssistant && messages[i].HasToolCalls() {
			iterations++
			if iterations >= m.preserveIterations {
				return i
			}
		}
	}
	return 0
}

func (m *Manager) countTokens(ctx context.Context, messages []core.Message, systemPrompt string) (int, error) {
	total := 0
	if systemPrompt != "" {
		n, err := m.client.CountTokens(ctx, systemPrompt)
		if err != nil {
			return 0, err
		}
		total += n
	}
	for _, msg := range messages {
		text := msg.Content
		for _, tc := range msg.ToolCalls {
			text += tc.Name + tc.Arguments
		}
		if text == "" {
			continue
		}
		n, err := m.client.CountTokens(ctx, text)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
