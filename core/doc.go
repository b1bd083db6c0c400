// Package core defines the shared value types exchanged between the
// conversation runner, the message store, the tool dispatcher and the model
// client: role-tagged messages, tool calls and tool execution requests /
// results. All types have value semantics; Clone helpers produce deep copies
// so history can be handed to observers without aliasing internal state.
package core
