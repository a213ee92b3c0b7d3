package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/duckmesh/sqlagent/internal/conversation"
	"github.com/duckmesh/sqlagent/internal/llm"
	"github.com/duckmesh/sqlagent/internal/observability"
	"github.com/duckmesh/sqlagent/internal/sqldb"
)

const (
	DefaultMaxIterations = 10

	faultPrefix       = "I encountered an error while processing your query: "
	exhaustionMessage = "I've reached the maximum number of steps while processing your query. Please try rephrasing your question or breaking it into smaller parts."
)

type Outcome string

const (
	OutcomeAnswered  Outcome = "answered"
	OutcomeFailed    Outcome = "failed"
	OutcomeExhausted Outcome = "exhausted"
)

// Database is the set of operations the tools dispatch to.
type Database interface {
	Dialect() sqldb.Dialect
	ListTables(ctx context.Context) sqldb.Result
	Schema(ctx context.Context, tables string) sqldb.Result
	CheckQuery(ctx context.Context, query string) sqldb.Result
	Query(ctx context.Context, query string) sqldb.Result
}

type Config struct {
	// MaxIterations bounds tool-call turns when Run is given no budget.
	MaxIterations int
	// MaxEmptyReplies is how many replies with neither content nor tool calls
	// are retried per run without consuming an iteration. Further empty
	// replies each consume one.
	MaxEmptyReplies int
	// TopK is the default row limit suggested to the model.
	TopK   int
	Logger *slog.Logger
}

type Response struct {
	Text       string
	History    []conversation.Message
	Outcome    Outcome
	Iterations int
}

type Agent struct {
	db              Database
	store           conversation.Store
	model           llm.Client
	systemPrompt    string
	tools           []llm.Tool
	maxIterations   int
	maxEmptyReplies int
	logger          *slog.Logger
	tracer          trace.Tracer
	locks           *threadLocks
}

func New(db Database, store conversation.Store, model llm.Client, cfg Config) (*Agent, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if model == nil {
		return nil, fmt.Errorf("model client is required")
	}
	prompt, err := renderSystemPrompt(db.Dialect(), cfg.TopK)
	if err != nil {
		return nil, err
	}
	maxIterations := cfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	maxEmpty := cfg.MaxEmptyReplies
	if maxEmpty < 0 {
		maxEmpty = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Agent{
		db:              db,
		store:           store,
		model:           model,
		systemPrompt:    prompt,
		tools:           Tools(),
		maxIterations:   maxIterations,
		maxEmptyReplies: maxEmpty,
		logger:          logger,
		tracer:          otel.Tracer("github.com/duckmesh/sqlagent/internal/agent"),
		locks:           newThreadLocks(),
	}, nil
}

func (a *Agent) SystemPrompt() string {
	return a.systemPrompt
}

// History returns the stored transcript for a thread, creating it if needed.
func (a *Agent) History(ctx context.Context, threadID string) ([]conversation.Message, error) {
	if strings.TrimSpace(threadID) == "" {
		return nil, conversation.ErrThreadIDRequired
	}
	unlock := a.locks.lock(threadID)
	defer unlock()
	return a.store.GetOrCreate(ctx, threadID)
}

// Run answers one user query on a thread. It never returns an error: faults
// become the final assistant message and the transcript is persisted, except
// when the stored thread could not be loaded: writing then would overwrite it.
// A maxIterations of zero or less uses the configured default.
func (a *Agent) Run(ctx context.Context, threadID, query string, maxIterations int) Response {
	if maxIterations <= 0 {
		maxIterations = a.maxIterations
	}
	started := time.Now()
	ctx, span := a.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("thread.id", threadID),
		attribute.Int("agent.max_iterations", maxIterations),
	))
	defer span.End()

	unlock := a.locks.lock(threadID)
	defer unlock()

	resp, loaded := a.run(ctx, threadID, query, maxIterations)

	// The transcript is saved even when the caller has gone away.
	if loaded {
		if err := a.store.Replace(context.WithoutCancel(ctx), threadID, resp.History); err != nil {
			span.RecordError(err)
			a.logger.ErrorContext(ctx, "transcript_persist_failed",
				slog.String("thread_id", threadID),
				slog.String("error", err.Error()),
			)
		}
	}

	elapsed := time.Since(started)
	observability.ObserveRun(string(resp.Outcome), resp.Iterations, elapsed)
	span.SetAttributes(
		attribute.String("agent.outcome", string(resp.Outcome)),
		attribute.Int("agent.iterations", resp.Iterations),
	)
	if resp.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, resp.Text)
	}
	a.logger.InfoContext(ctx, "agent_run_finished",
		slog.String("thread_id", threadID),
		slog.String("outcome", string(resp.Outcome)),
		slog.Int("iterations", resp.Iterations),
		slog.Int("messages", len(resp.History)),
		slog.Duration("elapsed", elapsed),
	)
	return resp
}

// run drives the loop. loaded is false when the stored thread could not be
// read, in which case the response must not be written back.
func (a *Agent) run(ctx context.Context, threadID, query string, maxIterations int) (resp Response, loaded bool) {
	history, err := a.store.GetOrCreate(ctx, threadID)
	if err != nil {
		a.logger.ErrorContext(ctx, "transcript_load_failed",
			slog.String("thread_id", threadID),
			slog.String("error", err.Error()),
		)
		return a.fail(a.seed(nil, query), 0, fmt.Errorf("load conversation: %w", err)), false
	}
	history = a.seed(history, query)

	iteration := 0
	emptyReplies := 0
	for iteration < maxIterations {
		reply, err := a.callModel(ctx, history, iteration)
		if err != nil {
			return a.fail(history, iteration, err), true
		}

		if len(reply.ToolCalls) == 0 {
			if reply.Content != "" {
				history = append(history, conversation.AssistantMessage(reply.Content))
				return Response{Text: reply.Content, History: history, Outcome: OutcomeAnswered, Iterations: iteration}, true
			}
			observability.IncrementEmptyReply()
			if emptyReplies < a.maxEmptyReplies {
				emptyReplies++
				a.logger.WarnContext(ctx, "empty_model_reply_retried",
					slog.String("thread_id", threadID),
					slog.Int("retry", emptyReplies),
				)
				continue
			}
			iteration++
			continue
		}

		turn, err := a.toolTurn(ctx, reply.ToolCalls)
		if err != nil {
			return a.fail(history, iteration, err), true
		}
		history = append(history, turn...)
		iteration++
	}

	history = append(history, conversation.AssistantMessage(exhaustionMessage))
	return Response{Text: exhaustionMessage, History: history, Outcome: OutcomeExhausted, Iterations: iteration}, true
}

// seed prepends the system prompt to a fresh thread and appends the query.
func (a *Agent) seed(history []conversation.Message, query string) []conversation.Message {
	if len(history) == 0 {
		history = append(history, conversation.SystemMessage(a.systemPrompt))
	}
	return append(history, conversation.UserMessage(query))
}

func (a *Agent) fail(history []conversation.Message, iterations int, fault error) Response {
	text := faultPrefix + fault.Error()
	history = append(history, conversation.AssistantMessage(text))
	return Response{Text: text, History: history, Outcome: OutcomeFailed, Iterations: iterations}
}

func (a *Agent) callModel(ctx context.Context, history []conversation.Message, iteration int) (llm.Reply, error) {
	ctx, span := a.tracer.Start(ctx, "agent.model_call", trace.WithAttributes(
		attribute.Int("agent.iteration", iteration),
		attribute.Int("agent.messages", len(history)),
	))
	defer span.End()

	started := time.Now()
	reply, err := a.model.Complete(ctx, llm.Request{
		Messages:   conversation.Clone(history),
		Tools:      a.tools,
		ToolChoice: llm.ToolChoiceAuto,
	})
	observability.ObserveModelCall(time.Since(started), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return llm.Reply{}, err
	}
	span.SetAttributes(attribute.Int("agent.tool_calls", len(reply.ToolCalls)))
	return reply, nil
}

// toolTurn decodes every call up front, dispatches them in order and returns
// the assistant message followed by one tool message per call. Nothing is
// returned on a fault so the transcript never holds a partial turn.
func (a *Agent) toolTurn(ctx context.Context, calls []conversation.ToolCall) ([]conversation.Message, error) {
	args := make([]map[string]string, len(calls))
	for i, call := range calls {
		decoded, err := decodeArguments(call.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("invalid arguments for %s: %w", call.Function.Name, err)
		}
		args[i] = decoded
	}

	requested := make([]conversation.ToolCall, len(calls))
	for i, call := range calls {
		requested[i] = call
		if requested[i].Type == "" {
			requested[i].Type = conversation.ToolCallTypeFunction
		}
	}

	turn := make([]conversation.Message, 0, len(calls)+1)
	turn = append(turn, conversation.AssistantToolCalls(requested))
	for i, call := range requested {
		text, err := a.dispatch(ctx, call, args[i])
		if err != nil {
			return nil, err
		}
		turn = append(turn, conversation.ToolResult(call.ID, text))
	}
	return turn, nil
}

func (a *Agent) dispatch(ctx context.Context, call conversation.ToolCall, args map[string]string) (text string, err error) {
	name := call.Function.Name
	ctx, span := a.tracer.Start(ctx, "agent.tool_call", trace.WithAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s failed: %v", name, recovered)
			observability.ObserveToolCall(name, "panic")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	var result sqldb.Result
	switch name {
	case ToolListTables:
		result = a.db.ListTables(ctx)
	case ToolSchema:
		result = a.db.Schema(ctx, args["tables"])
	case ToolQueryChecker:
		result = a.db.CheckQuery(ctx, args["query"])
	case ToolQuery:
		result = a.db.Query(ctx, args["query"])
	default:
		observability.ObserveToolCall(name, "unknown")
		span.SetAttributes(attribute.String("tool.result", "unknown"))
		return "Unknown function: " + name, nil
	}

	observability.ObserveToolCall(name, string(result.Kind))
	span.SetAttributes(attribute.String("tool.result", string(result.Kind)))
	return result.Text, nil
}

var errArgumentsNotObject = errors.New("arguments must be a JSON object")

// decodeArguments parses a call's JSON arguments. A blank string means no
// arguments; non-string values are rendered with fmt.
func decodeArguments(raw string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(raw) == "" {
		return out, nil
	}
	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, err
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return nil, errArgumentsNotObject
	}
	for key, value := range object {
		switch typed := value.(type) {
		case nil:
			out[key] = ""
		case string:
			out[key] = typed
		default:
			out[key] = fmt.Sprint(typed)
		}
	}
	return out, nil
}
