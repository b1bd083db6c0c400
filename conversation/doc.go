// Package conversation implements the append-only message store backing a
// single runner instance. Reads return deep copies so no consumer can mutate
// history out-of-band; Rebuild supports the budget manager's clear-then-replay
// cleanup while re-validating role invariants.
package conversation
