package runner

import "github.com/convoloop/convoloop/core"

// Observer receives lifecycle notifications from a run. It exists for UI and
// telemetry consumers and is never required for correctness; every Runner
// works with the NoopObserver default.
//
// Callbacks are invoked synchronously from the run loop, so implementations
// should return quickly.
type Observer interface {
	// OnIterationStart fires at the top of each iteration (1-indexed).
	OnIterationStart(iteration, maxIterations int)

	// OnToolCallStart fires once per tool call before the batch is
	// dispatched, with the call's position in the batch and its parsed
	// arguments.
	OnToolCallStart(index, total int, name string, args map[string]any)

	// OnToolCallComplete fires once per tool call after the batch returns.
	// The result carries success, error, duration and metadata.
	OnToolCallComplete(id, name string, args map[string]any, result core.ToolResult)

	// ContextStatusSuffix returns an optional hint (e.g. remaining budget)
	// appended to each tool message, or "" for none.
	ContextStatusSuffix() string
}

// WithStatusSuffix decorates obs so ContextStatusSuffix falls back to
// status() when obs has nothing to report. Callers use it to attach a
// remaining-budget hint computed from live run state.
func WithStatusSuffix(obs Observer, status func() string) Observer {
	return &statusSuffixObserver{Observer: obs, status: status}
}

type statusSuffixObserver struct {
	Observer
	status func() string
}

func (s *statusSuffixObserver) ContextStatusSuffix() string {
	if v := s.Observer.ContextStatusSuffix(); v != "" {
		return v
	}
	return s.status()
}

// NoopObserver ignores all notifications.
type NoopObserver struct{}

// OnIterationStart implements Observer.
func (NoopObserver) OnIterationStart(int, int) {}

// OnToolCallStart implements Observer.
func (NoopObserver) OnToolCallStart(int, int, string, map[string]any) {}

// OnToolCallComplete implements Observer.
func (NoopObserver) OnToolCallComplete(string, string, map[string]any, core.ToolResult) {}

// ContextStatusSuffix implements Observer.
func (NoopObserver) ContextStatusSuffix() string { return "" }
