// Package agent drives the bounded tool-calling dialogue between the model
// and the connected tool servers.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hamzilla/mcp/pkg/correlate"
	"github.com/hamzilla/mcp/pkg/dialogue"
	"github.com/hamzilla/mcp/pkg/llm"
	"github.com/hamzilla/mcp/pkg/store"
	"github.com/hamzilla/mcp/pkg/tools/session"
)

// Status classifies how a run terminated.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusTimeout       Status = "timeout"
	StatusError         Status = "error"
	StatusMaxIterations Status = "max_iterations_reached"
)

// Result is the structured outcome of one query. Partial marks terminal
// outcomes reached before natural completion.
type Result struct {
	Content    string
	Status     Status
	Iterations int
	Partial    bool
}

// Invoker executes one tool call, capturing every failure in the result.
// Satisfied by *bridge.Bridge.
type Invoker interface {
	Invoke(ctx context.Context, call dialogue.ToolCall) dialogue.ToolResult
}

// Options bounds the loop.
type Options struct {
	// MaxIterations limits model invocations per query. Defaults to 20.
	MaxIterations int
	// ModelTimeout bounds each model call. Defaults to 60s.
	ModelTimeout time.Duration
}

// QueryOptions select per-query behavior.
type QueryOptions struct {
	// SessionID keys persisted history. Empty disables persistence for the run.
	SessionID string
	// UseHistory seeds the dialogue from the store before the new query.
	UseHistory bool
}

const (
	timeoutApology       = "Sorry, the request timed out. Please try again with a simpler question."
	maxIterationsApology = "Sorry, I couldn't complete the task within the iteration limit."
)

// Runner executes queries to a terminal result. Safe for concurrent use: each
// run owns its dialogue state, and the shared completer, invoker, and tool
// set are read-only.
type Runner struct {
	completer llm.Completer
	invoker   Invoker
	tools     []session.Tool
	store     store.Store // nil disables persistence
	log       *slog.Logger
	opts      Options
}

// NewRunner creates a Runner. A nil store disables persistence; a nil logger
// discards.
func NewRunner(completer llm.Completer, invoker Invoker, tools []session.Tool, st store.Store, log *slog.Logger, opts Options) *Runner {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = 20
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 60 * time.Second
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Runner{
		completer: completer,
		invoker:   invoker,
		tools:     tools,
		store:     st,
		log:       log,
		opts:      opts,
	}
}

// Run processes one user query to a terminal result. It never panics and
// never returns an error: every outcome, including model failures and budget
// exhaustion, is a Result with an explicit status.
func (r *Runner) Run(ctx context.Context, query string, qo QueryOptions) Result {
	corr := correlate.New()
	log := r.log.With("correlation_id", corr.Query)
	log.Info("processing query", "session_id", qo.SessionID)

	tr := dialogue.NewTranscript(r.seed(ctx, qo, log)...)

	user := dialogue.User(query)
	tr.Append(user)
	r.persist(ctx, qo.SessionID, user, log)

	callSeq := 0
	for i := 1; i <= r.opts.MaxIterations; i++ {
		log.Debug("invoking model", "iteration", i, "max_iterations", r.opts.MaxIterations)

		modelCtx, cancel := context.WithTimeout(ctx, r.opts.ModelTimeout)
		reply, err := r.completer.Complete(modelCtx, tr.Messages(), r.tools)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				log.Error("model call timed out", "iteration", i)
				return Result{Content: timeoutApology, Status: StatusTimeout, Iterations: i, Partial: true}
			}
			log.Error("model call failed", "iteration", i, "error", err)
			return Result{
				Content:    "Error communicating with the model: " + err.Error(),
				Status:     StatusError,
				Iterations: i,
				Partial:    true,
			}
		}

		tr.Append(reply)
		r.persist(ctx, qo.SessionID, reply, log)

		if !reply.HasToolCalls() {
			log.Info("query complete", "iterations", i)
			return Result{Content: reply.Content, Status: StatusSuccess, Iterations: i}
		}

		// Tool calls run sequentially in emission order. Concurrency within a
		// turn would break result ordering and error attribution when tools
		// mutate shared external state.
		for _, call := range reply.ToolCalls {
			callLog := log.With("tool_call_id", corr.Child(callSeq), "tool", call.Name)
			callSeq++

			callLog.Info("calling tool")
			result := r.invoker.Invoke(ctx, call)
			if result.IsError {
				callLog.Warn("tool call returned error", "elapsed", result.Elapsed)
			} else {
				callLog.Debug("tool call finished", "elapsed", result.Elapsed)
			}

			msg := result.Message()
			tr.Append(msg)
			r.persist(ctx, qo.SessionID, msg, log)
		}
	}

	log.Warn("iteration budget exhausted", "max_iterations", r.opts.MaxIterations)

	content := tr.LastAssistantText()
	if content == "" {
		content = maxIterationsApology
	}
	return Result{
		Content:    content,
		Status:     StatusMaxIterations,
		Iterations: r.opts.MaxIterations,
		Partial:    true,
	}
}

// seed loads prior history when requested. A load failure degrades to an
// empty history: a broken store should not fail the query.
func (r *Runner) seed(ctx context.Context, qo QueryOptions, log *slog.Logger) []dialogue.Message {
	if r.store == nil || qo.SessionID == "" || !qo.UseHistory {
		return nil
	}

	history, err := r.store.Load(ctx, qo.SessionID)
	if err != nil {
		log.Warn("loading history failed, starting fresh", "session_id", qo.SessionID, "error", err)
		return nil
	}

	log.Debug("seeded history", "session_id", qo.SessionID, "messages", len(history))
	return history
}

func (r *Runner) persist(ctx context.Context, sessionID string, msg dialogue.Message, log *slog.Logger) {
	if r.store == nil || sessionID == "" {
		return
	}
	if err := r.store.Append(ctx, sessionID, msg); err != nil {
		log.Warn("persisting message failed", "session_id", sessionID, "error", err)
	}
}
