package domain

import (
	"encoding/json"
	"fmt"
)

const (
	// StartNode is the virtual node every thread leaves from.
	StartNode = "__start__"
	// EndNode is the virtual terminal node.
	EndNode = "__end__"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is a single entry of the conversation history.
type Message struct {
	Role    Role   `json:"role" mapstructure:"role"`
	Content string `json:"content" mapstructure:"content"`
}

// State holds the value of every channel of a thread.
// Values are kept in their JSON form (map[string]any, []any, string, float64, bool, nil)
// so the in-memory state always equals what a checkpoint saver persists.
type State map[string]any

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopy(v)
	}
	return out
}

// String returns the string value of a channel, or "" when absent or not a string.
func (s State) String(channel string) string {
	v, _ := s[channel].(string)
	return v
}

// Normalize converts the state to its JSON form.
func (s State) Normalize() (State, error) {
	if s == nil {
		return State{}, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	out := State{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return out, nil
}

// NormalizeValue converts an arbitrary value to its JSON form.
func NormalizeValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = deepCopy(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = deepCopy(inner)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case []Message:
		return append([]Message(nil), t...)
	default:
		return v
	}
}
