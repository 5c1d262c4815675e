// Package api defines the message and tool types produced and consumed by
// the chat-message parser.
package api

import (
	"encoding/json"
	"strings"
)

// Message is a single message in a chat sequence. The parser always emits
// messages with the assistant role.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

func (m *Message) UnmarshalJSON(b []byte) error {
	type Alias Message
	var a Alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}

	*m = Message(a)
	m.Role = strings.ToLower(m.Role)
	return nil
}

type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the called function and carries its arguments as
// JSON text. When the parse was partial the arguments may be a healed,
// truncated prefix of the final JSON document rather than a complete value.
type ToolCallFunction struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func (t ToolCall) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}

type Tools []Tool

func (t Tools) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}

// Tool describes a function the model may call. Parameters holds the
// JSON-Schema text for the function's arguments; the parser consults its
// top-level "properties" object when coercing XML parameter values.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  string `json:"parameters,omitempty"`
}

func (t Tool) String() string {
	bts, _ := json.Marshal(t)
	return string(bts)
}
