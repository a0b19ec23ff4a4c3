// Package assistant drives conversations through the OpenAI Assistants
// API: one thread per user/tenant pair, one run at a time per thread, with
// polling until the run settles and tool calls answered along the way.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Canned user-facing replies. The router sends these verbatim.
const (
	// BusyReply is sent when a message arrives while the user's previous
	// run is still in flight.
	BusyReply = "Por favor espera a que termine la respuesta anterior."
	// FailureReply is sent when a run fails or exhausts the poll budget.
	FailureReply = "Hubo un error procesando tu mensaje. Intenta de nuevo."
	// BadShapeReply is sent when a completed run produced no usable
	// assistant message.
	BadShapeReply = "Lo siento, hubo un error procesando tu solicitud. ¿Podrías intentarlo de nuevo?"
)

// ErrRunActive is returned when a thread already has a run in flight.
var ErrRunActive = errors.New("a run is already active on this thread")

// Default polling budget: 2s between polls, 150 polls, 5 minutes total.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 150
)

// Opts holds engine configuration options.
type Opts struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	Dispatcher      *Dispatcher
}

// Option defines an engine configuration option.
type Option func(*Opts)

// WithPollInterval sets the delay between run status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.PollInterval = d
	}
}

// WithMaxPollAttempts sets the poll budget per run.
func WithMaxPollAttempts(n int) Option {
	return func(o *Opts) {
		o.MaxPollAttempts = n
	}
}

// WithDispatcher sets the tool call dispatcher.
func WithDispatcher(d *Dispatcher) Option {
	return func(o *Opts) {
		o.Dispatcher = d
	}
}

// Engine is the completion engine. Thread handles and run states live in
// memory; a restart starts fresh threads.
type Engine struct {
	api          API
	dispatcher   *Dispatcher
	pollInterval time.Duration
	maxAttempts  int

	mu      sync.Mutex
	threads map[string]string // userID_tenantCode -> thread id
	runs    map[string]string // thread id -> last run status
}

// NewEngine creates an engine over the given assistant backend.
func NewEngine(api API, opts ...Option) *Engine {
	cfg := Opts{
		PollInterval:    DefaultPollInterval,
		MaxPollAttempts: DefaultMaxPollAttempts,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Dispatcher == nil {
		cfg.Dispatcher = NewDispatcher()
	}
	return &Engine{
		api:          api,
		dispatcher:   cfg.Dispatcher,
		pollInterval: cfg.PollInterval,
		maxAttempts:  cfg.MaxPollAttempts,
		threads:      make(map[string]string),
		runs:         make(map[string]string),
	}
}

// ProcessMessage sends one user message through the tenant's assistant and
// returns the reply text. It returns ErrRunActive when the user's previous
// run has not settled; any other failure after the run starts resolves to
// an apology reply rather than an error so the user always hears back.
func (e *Engine) ProcessMessage(ctx context.Context, userID, message, assistantID, tenantCode string) (string, error) {
	threadID, err := e.ensureThread(ctx, userID, tenantCode)
	if err != nil {
		return "", err
	}

	// Reserve the thread before any further API call so a concurrent
	// message for the same user is rejected instead of racing the run.
	e.mu.Lock()
	if status, ok := e.runs[threadID]; ok && status != StatusCompleted && status != StatusFailed {
		e.mu.Unlock()
		slog.Debug("Engine.ProcessMessage: run already active", "threadID", threadID, "status", status)
		return "", ErrRunActive
	}
	e.runs[threadID] = StatusInProgress
	e.mu.Unlock()

	reply, err := e.runConversation(ctx, threadID, message, assistantID)
	if err != nil {
		e.setRunStatus(threadID, StatusFailed)
		return "", err
	}
	return reply, nil
}

func (e *Engine) runConversation(ctx context.Context, threadID, message, assistantID string) (string, error) {
	if err := e.api.AddUserMessage(ctx, threadID, message); err != nil {
		return "", err
	}

	runID, err := e.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return "", err
	}

	run, err := e.waitForRun(ctx, threadID, runID)
	if err != nil {
		return "", err
	}

	if run.Status != StatusCompleted {
		slog.Error("Engine.runConversation: run did not complete", "threadID", threadID, "runID", runID, "status", run.Status, "last_error", run.LastError)
		return FailureReply, nil
	}

	msg, err := e.api.LatestMessage(ctx, threadID)
	if err != nil {
		return "", err
	}
	if msg.Role != "assistant" || msg.Text == "" {
		slog.Error("Engine.runConversation: completed run produced no assistant message", "threadID", threadID, "runID", runID)
		return BadShapeReply, nil
	}
	return msg.Text, nil
}

// waitForRun polls until the run completes, fails, or the poll budget runs
// out. Budget exhaustion marks the run failed so the thread is not left
// permanently busy.
func (e *Engine) waitForRun(ctx context.Context, threadID, runID string) (Run, error) {
	var run Run
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Run{}, ctx.Err()
		case <-time.After(e.pollInterval):
		}

		var err error
		run, err = e.api.GetRun(ctx, threadID, runID)
		if err != nil {
			return Run{}, err
		}
		e.setRunStatus(threadID, run.Status)
		slog.Debug("Engine.waitForRun: polled", "threadID", threadID, "runID", runID, "status", run.Status, "attempt", attempt, "max", e.maxAttempts)

		switch run.Status {
		case StatusCompleted, StatusFailed:
			return run, nil
		case StatusRequiresAction:
			outputs := e.dispatcher.Dispatch(run.ToolCalls)
			if err := e.api.SubmitToolOutputs(ctx, threadID, runID, outputs); err != nil {
				return Run{}, err
			}
		}
	}

	slog.Error("Engine.waitForRun: poll budget exhausted", "threadID", threadID, "runID", runID, "attempts", e.maxAttempts, "waited", time.Duration(e.maxAttempts)*e.pollInterval)
	run.Status = StatusFailed
	e.setRunStatus(threadID, StatusFailed)
	return run, nil
}

// ensureThread returns the thread for a user/tenant pair, creating one on
// first contact.
func (e *Engine) ensureThread(ctx context.Context, userID, tenantCode string) (string, error) {
	key := threadKey(userID, tenantCode)

	e.mu.Lock()
	threadID, ok := e.threads[key]
	e.mu.Unlock()
	if ok {
		return threadID, nil
	}

	threadID, err := e.api.CreateThread(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create thread for %s: %w", key, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// A concurrent first message may have won the race; keep its thread.
	if existing, ok := e.threads[key]; ok {
		return existing, nil
	}
	e.threads[key] = threadID
	slog.Info("Engine.ensureThread: new thread", "key", key, "threadID", threadID)
	return threadID, nil
}

func (e *Engine) setRunStatus(threadID, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs[threadID] = status
}

// HasActiveRun reports whether a thread has an unsettled run.
func (e *Engine) HasActiveRun(threadID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	status, ok := e.runs[threadID]
	return ok && status != StatusCompleted && status != StatusFailed
}

// ResetThreads drops every thread handle and run state and returns how
// many threads were cleared. Users start fresh conversations afterwards.
func (e *Engine) ResetThreads() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.threads)
	e.threads = make(map[string]string)
	e.runs = make(map[string]string)
	slog.Info("Engine.ResetThreads: threads cleared", "count", n)
	return n
}

// ThreadCount returns the number of live thread handles.
func (e *Engine) ThreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.threads)
}

func threadKey(userID, tenantCode string) string {
	return userID + "_" + tenantCode
}
