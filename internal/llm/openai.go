package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/duckmesh/sqlagent/internal/conversation"
)

const (
	defaultModel      = "gpt-4.1-mini"
	defaultTimeout    = 60 * time.Second
	defaultMaxRetries = 2
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature *float64
	Timeout     time.Duration
	MaxRetries  int
}

type chatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient talks to any OpenAI-compatible chat-completions endpoint.
type OpenAIClient struct {
	completions chatCompletions
	model       string
	temperature *float64
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = defaultMaxRetries
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(retries),
	}
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return newOpenAIClient(&client.Chat.Completions, cfg.Model, cfg.Temperature), nil
}

func newOpenAIClient(completions chatCompletions, model string, temperature *float64) *OpenAIClient {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &OpenAIClient{completions: completions, model: model, temperature: temperature}
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Reply, error) {
	params := c.buildParams(req)
	completion, err := c.completions.New(ctx, params)
	if err != nil {
		return Reply{}, fmt.Errorf("request chat completion: %w", err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return Reply{}, fmt.Errorf("empty chat completion choices")
	}

	message := completion.Choices[0].Message
	reply := Reply{Content: message.Content}
	for _, call := range message.ToolCalls {
		reply.ToolCalls = append(reply.ToolCalls, conversation.ToolCall{
			ID:   call.ID,
			Type: conversation.ToolCallTypeFunction,
			Function: conversation.FunctionCall{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return reply, nil
}

func (c *OpenAIClient) buildParams(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(c.model),
		Messages: convertMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(choice))}
	}
	if c.temperature != nil {
		params.Temperature = openai.Float(*c.temperature)
	}
	return params
}

func convertMessages(messages []conversation.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case conversation.RoleSystem:
			out = append(out, openai.SystemMessage(message.Content))
		case conversation.RoleAssistant:
			out = append(out, assistantMessage(message))
		case conversation.RoleTool:
			out = append(out, openai.ToolMessage(message.Content, message.ToolCallID))
		default:
			out = append(out, openai.UserMessage(message.Content))
		}
	}
	return out
}

func assistantMessage(message conversation.Message) openai.ChatCompletionMessageParamUnion {
	param := openai.ChatCompletionAssistantMessageParam{}
	if message.Content != "" {
		param.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
			OfString: openai.String(message.Content),
		}
	}
	for _, call := range message.ToolCalls {
		param.ToolCalls = append(param.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: call.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &param}
}

func convertTools(tools []Tool) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, tool := range tools {
		param := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       tool.Name,
				Parameters: shared.FunctionParameters(tool.Parameters),
			},
		}
		if tool.Description != "" {
			param.Function.Description = openai.String(tool.Description)
		}
		out = append(out, param)
	}
	return out
}
