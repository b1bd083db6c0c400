package conversation

import (
	"sync"

	"github.com/convoloop/convoloop/core"
	"github.com/convoloop/convoloop/logging"
)

// Store is an append-only, role-tagged conversation history. It is safe for
// concurrent access, although during a run it is exclusively owned by one
// runner; the lock exists for cross-run readers (logging, UI) which always
// receive clones.
//
// Contract:
//   - Messages are appended once and never mutated in place
//   - Messages / Last return defensive copies
//   - Rebuild replays a cleaned message list through the role-specific
//     append paths so role/tool-call-ID pairing is re-validated
type Store struct {
	mu       sync.RWMutex
	messages []core.Message
	logger   logging.Logger
}

// StoreOptions configures a Store.
type StoreOptions struct {
	// Logger records dropped-message diagnostics during Rebuild.
	Logger logging.Logger
}

// NewStore constructs an empty message store.
func NewStore(optFns ...func(o *StoreOptions)) *Store {
	opts := StoreOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Store{logger: opts.Logger}
}

// AddSystem appends a system prompt message.
func (s *Store) AddSystem(content string) {
	s.append(core.NewSystemMessage(content))
}

// AddUser appends a user message.
func (s *Store) AddUser(content string) {
	s.append(core.NewUserMessage(content))
}

// AddAssistant appends an assistant message with optional tool calls.
func (s *Store) AddAssistant(content string, toolCalls ...core.ToolCall) {
	s.append(core.NewAssistantMessage(content, toolCalls...))
}

// AddTool appends a tool result message referencing the call that produced it.
func (s *Store) AddTool(toolCallID, content string) {
	s.append(core.NewToolMessage(toolCallID, content))
}

func (s *Store) append(m core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m.Clone())
}

// Messages returns a deep copy of the full history in append order.
func (s *Store) Messages() []core.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return core.CloneMessages(s.messages)
}

// Last returns a copy of the most recent message, or false when empty.
func (s *Store) Last() (core.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.messages) == 0 {
		return core.Message{}, false
	}
	return s.messages[len(s.messages)-1].Clone(), true
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear removes all messages. Used by Rebuild and by callers reusing a store
// across independent runs.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Rebuild replaces the history with the cleaned message list produced by a
// context cleanup. Each message is replayed through its role-specific
// constructor; a tool message whose ToolCallID no longer references a
// surviving assistant tool call is dropped with a log line instead of failing
// the run.
func (s *Store) Rebuild(cleaned []core.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	liveCalls := make(map[string]struct{})
	rebuilt := make([]core.Message, 0, len(cleaned))
	for _, m := range cleaned {
		switch m.Role {
		case core.RoleSystem:
			rebuilt = append(rebuilt, core.NewSystemMessage(m.Content))
		case core.RoleUser:
			rebuilt = append(rebuilt, core.NewUserMessage(m.Content))
		case core.RoleAssistant:
			msg := core.NewAssistantMessage(m.Content, m.ToolCalls...)
			for _, tc := range m.ToolCalls {
				liveCalls[tc.ID] = struct{}{}
			}
			rebuilt = append(rebuilt, msg.Clone())
		case core.RoleTool:
			if _, ok := liveCalls[m.ToolCallID]; !ok {
				s.logger.Warn("conversation.rebuild.orphaned_tool_message",
					"tool_call_id", m.ToolCallID,
				)
				continue
			}
			rebuilt = append(rebuilt, core.NewToolMessage(m.ToolCallID, m.Content))
		default:
			s.logger.Warn("conversation.rebuild.unknown_role", "role", string(m.Role))
		}
	}
	s.messages = rebuilt
}
