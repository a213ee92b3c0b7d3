package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

const ToolCallTypeFunction = "function"

var ErrInvalidTranscript = errors.New("conversation: invalid transcript")

// Message is one transcript entry, serialised in the chat-completions wire
// shape.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the model's serialised JSON arguments verbatim; they
// are decoded at dispatch time.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

func AssistantToolCalls(calls []ToolCall) Message {
	return Message{Role: RoleAssistant, ToolCalls: cloneToolCalls(calls)}
}

func ToolResult(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// Clone deep-copies a transcript. A nil input yields an empty, non-nil slice.
func Clone(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, message := range messages {
		out[i] = message
		out[i].ToolCalls = cloneToolCalls(message.ToolCalls)
	}
	return out
}

func cloneToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	copy(out, calls)
	return out
}

// Validate checks roles and that every tool message answers a call emitted
// by the closest preceding assistant message, at most once.
func Validate(messages []Message) error {
	var pending map[string]bool
	for i, message := range messages {
		switch message.Role {
		case RoleSystem, RoleUser:
			pending = nil
		case RoleAssistant:
			pending = nil
			if len(message.ToolCalls) == 0 {
				continue
			}
			pending = make(map[string]bool, len(message.ToolCalls))
			for _, call := range message.ToolCalls {
				if call.ID == "" {
					return fmt.Errorf("%w: message %d has a tool call without id", ErrInvalidTranscript, i)
				}
				if call.Function.Name == "" {
					return fmt.Errorf("%w: message %d tool call %q has no function name", ErrInvalidTranscript, i, call.ID)
				}
				pending[call.ID] = true
			}
		case RoleTool:
			if !pending[message.ToolCallID] {
				return fmt.Errorf("%w: message %d answers unknown tool call %q", ErrInvalidTranscript, i, message.ToolCallID)
			}
			delete(pending, message.ToolCallID)
		default:
			return fmt.Errorf("%w: message %d has unknown role %q", ErrInvalidTranscript, i, message.Role)
		}
	}
	return nil
}

// Encode serialises a transcript as a JSON array.
func Encode(messages []Message) ([]byte, error) {
	if messages == nil {
		messages = []Message{}
	}
	payload, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("encode transcript: %w", err)
	}
	return payload, nil
}

// Decode parses and validates a stored transcript. Empty input is an empty
// transcript.
func Decode(payload []byte) ([]Message, error) {
	messages := []Message{}
	if len(payload) == 0 {
		return messages, nil
	}
	if err := json.Unmarshal(payload, &messages); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if messages == nil {
		messages = []Message{}
	}
	if err := Validate(messages); err != nil {
		return nil, err
	}
	return messages, nil
}
