// Package assistant: OpenAI Assistants API adapter.
//
// This file is the only place that touches the openai SDK. The rest of the
// package talks to the narrow API interface so the engine can be tested
// with a fake.
package assistant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Run statuses the engine cares about. Anything else counts as in flight.
const (
	StatusQueued         = "queued"
	StatusInProgress     = "in_progress"
	StatusRequiresAction = "requires_action"
	StatusCompleted      = "completed"
	StatusFailed         = "failed"
)

// Run is the engine's view of one assistant run.
type Run struct {
	ID        string
	Status    string
	ToolCalls []ToolCall // populated when Status is requires_action
	LastError string
}

// ToolCall is one function invocation requested by the assistant.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolOutput is the result returned for one tool call.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Message is one thread message.
type Message struct {
	Role string
	Text string
}

// API is the assistant backend surface the engine depends on.
type API interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (string, error)
	GetRun(ctx context.Context, threadID, runID string) (Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error
	LatestMessage(ctx context.Context, threadID string) (Message, error)
}

// openaiAPI implements API against the OpenAI Assistants (beta) endpoints.
type openaiAPI struct {
	client openai.Client
}

// NewOpenAIAPI creates an API backed by the OpenAI service.
func NewOpenAIAPI(apiKey string) API {
	return &openaiAPI{client: openai.NewClient(option.WithAPIKey(apiKey))}
}

func (a *openaiAPI) CreateThread(ctx context.Context) (string, error) {
	thread, err := a.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	slog.Debug("OpenAI thread created", "threadID", thread.ID)
	return thread.ID, nil
}

func (a *openaiAPI) AddUserMessage(ctx context.Context, threadID, content string) error {
	msg, err := a.client.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{
		Role:    openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(content)},
	})
	if err != nil {
		return fmt.Errorf("failed to add message to thread %s: %w", threadID, err)
	}
	slog.Debug("OpenAI message added", "threadID", threadID, "messageID", msg.ID)
	return nil
}

func (a *openaiAPI) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	run, err := a.client.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{
		AssistantID: assistantID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create run on thread %s: %w", threadID, err)
	}
	slog.Debug("OpenAI run created", "threadID", threadID, "runID", run.ID, "assistantID", assistantID)
	return run.ID, nil
}

func (a *openaiAPI) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	run, err := a.client.Beta.Threads.Runs.Get(ctx, threadID, runID)
	if err != nil {
		return Run{}, fmt.Errorf("failed to retrieve run %s: %w", runID, err)
	}

	out := Run{ID: run.ID, Status: string(run.Status)}
	if run.LastError.Message != "" {
		out.LastError = fmt.Sprintf("%s: %s", run.LastError.Code, run.LastError.Message)
	}
	if run.Status == openai.RunStatusRequiresAction {
		for _, tc := range run.RequiredAction.SubmitToolOutputs.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
		}
	}
	return out, nil
}

func (a *openaiAPI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	params := openai.BetaThreadRunSubmitToolOutputsParams{}
	for _, o := range outputs {
		params.ToolOutputs = append(params.ToolOutputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(o.ToolCallID),
			Output:     openai.String(o.Output),
		})
	}
	if _, err := a.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, threadID, runID, params); err != nil {
		return fmt.Errorf("failed to submit tool outputs for run %s: %w", runID, err)
	}
	return nil
}

func (a *openaiAPI) LatestMessage(ctx context.Context, threadID string) (Message, error) {
	page, err := a.client.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{
		Order: openai.BetaThreadMessageListParamsOrderDesc,
		Limit: openai.Int(1),
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to list messages on thread %s: %w", threadID, err)
	}
	if len(page.Data) == 0 {
		return Message{}, nil
	}
	msg := page.Data[0]
	out := Message{Role: string(msg.Role)}
	if len(msg.Content) > 0 {
		out.Text = msg.Content[0].Text.Value
	}
	return out, nil
}
