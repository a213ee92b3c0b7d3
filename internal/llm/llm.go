package llm

import (
	"context"

	"github.com/duckmesh/sqlagent/internal/conversation"
)

// Tool is a function the model may call. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

type Request struct {
	Messages   []conversation.Message
	Tools      []Tool
	ToolChoice ToolChoice
}

// Reply is the first choice of a completion. Content is empty when the model
// only asked for tool calls.
type Reply struct {
	Content   string
	ToolCalls []conversation.ToolCall
}

type Client interface {
	Complete(ctx context.Context, req Request) (Reply, error)
}
