// Package runner implements the conversation orchestrator: the bounded
// iteration state machine that sends the composed history to a model client,
// dispatches requested tool calls and folds their results back into the
// store, manages the shrinking context-token budget, enforces the explicit
// completion protocol through nudges, classifies errors into cancelled /
// fatal / retryable / transient, and exposes outcome flags after the run.
//
// One Runner drives exactly one outstanding model request or tool batch at a
// time. Parallelism exists only across independently constructed runners
// (e.g. several subagent investigations), which share nothing but the
// caller's context.
package runner
