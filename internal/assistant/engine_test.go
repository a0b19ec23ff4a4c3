package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeAPI is a scriptable assistant backend. GetRun walks runScript and
// sticks on the last entry.
type fakeAPI struct {
	mu          sync.Mutex
	threadSeq   int
	messages    []string
	runScript   []Run
	getRunCalls int
	submitted   [][]ToolOutput
	latest      Message
	msgStarted  chan struct{}
	msgRelease  chan struct{}
}

func (f *fakeAPI) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadSeq++
	return fmt.Sprintf("thread_%d", f.threadSeq), nil
}

func (f *fakeAPI) AddUserMessage(ctx context.Context, threadID, content string) error {
	f.mu.Lock()
	started := f.msgStarted
	release := f.msgRelease
	// Only the first message blocks.
	f.msgStarted = nil
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, content)
	return nil
}

func (f *fakeAPI) CreateRun(ctx context.Context, threadID, assistantID string) (string, error) {
	return "run_1", nil
}

func (f *fakeAPI) GetRun(ctx context.Context, threadID, runID string) (Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.getRunCalls
	if idx >= len(f.runScript) {
		idx = len(f.runScript) - 1
	}
	f.getRunCalls++
	return f.runScript[idx], nil
}

func (f *fakeAPI) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, outputs)
	return nil
}

func (f *fakeAPI) LatestMessage(ctx context.Context, threadID string) (Message, error) {
	return f.latest, nil
}

func newTestEngine(api API) *Engine {
	return NewEngine(api,
		WithPollInterval(time.Millisecond),
		WithMaxPollAttempts(10),
	)
}

func TestProcessMessageHappyPath(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusCompleted}},
		latest:    Message{Role: "assistant", Text: "Su cita quedó agendada para el martes."},
	}
	engine := newTestEngine(api)

	reply, err := engine.ProcessMessage(context.Background(), "user1", "quiero una cita", "asst_1", "CLINICA01")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if reply != "Su cita quedó agendada para el martes." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(api.messages) != 1 || api.messages[0] != "quiero una cita" {
		t.Errorf("unexpected messages sent: %v", api.messages)
	}
	if engine.ThreadCount() != 1 {
		t.Errorf("expected 1 thread, got %d", engine.ThreadCount())
	}

	// Second message for the same user/tenant reuses the thread.
	if _, err := engine.ProcessMessage(context.Background(), "user1", "gracias por todo, una duda más", "asst_1", "CLINICA01"); err != nil {
		t.Fatalf("second ProcessMessage failed: %v", err)
	}
	if api.threadSeq != 1 {
		t.Errorf("expected thread reuse, created %d threads", api.threadSeq)
	}

	// Same user under another tenant gets its own thread.
	if _, err := engine.ProcessMessage(context.Background(), "user1", "hola", "asst_2", "CLINICA02"); err != nil {
		t.Fatalf("cross-tenant ProcessMessage failed: %v", err)
	}
	if api.threadSeq != 2 {
		t.Errorf("expected separate thread per tenant, created %d threads", api.threadSeq)
	}
}

func TestProcessMessageRejectsConcurrentRun(t *testing.T) {
	api := &fakeAPI{
		runScript:  []Run{{ID: "run_1", Status: StatusCompleted}},
		latest:     Message{Role: "assistant", Text: "listo"},
		msgStarted: make(chan struct{}),
		msgRelease: make(chan struct{}),
	}
	engine := newTestEngine(api)
	started, release := api.msgStarted, api.msgRelease

	done := make(chan error, 1)
	go func() {
		_, err := engine.ProcessMessage(context.Background(), "user1", "primer mensaje", "asst_1", "CLINICA01")
		done <- err
	}()

	// Wait until the first message holds the thread reservation.
	<-started

	_, err := engine.ProcessMessage(context.Background(), "user1", "segundo mensaje", "asst_1", "CLINICA01")
	if !errors.Is(err, ErrRunActive) {
		t.Errorf("expected ErrRunActive, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first message failed: %v", err)
	}

	// After the run settles the thread accepts messages again.
	if _, err := engine.ProcessMessage(context.Background(), "user1", "tercer mensaje", "asst_1", "CLINICA01"); err != nil {
		t.Errorf("thread still busy after completion: %v", err)
	}
}

func TestProcessMessageAnswersToolCalls(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{
			{ID: "run_1", Status: StatusRequiresAction, ToolCalls: []ToolCall{
				{ID: "call_1", Name: "agendar_cita", Arguments: `{"fecha":"2026-09-02"}`},
			}},
			{ID: "run_1", Status: StatusCompleted},
		},
		latest: Message{Role: "assistant", Text: "No puedo agendar directamente todavía."},
	}
	engine := newTestEngine(api)

	reply, err := engine.ProcessMessage(context.Background(), "user1", "agenda mi cita", "asst_1", "CLINICA01")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if reply != "No puedo agendar directamente todavía." {
		t.Errorf("unexpected reply: %q", reply)
	}
	if len(api.submitted) != 1 || len(api.submitted[0]) != 1 {
		t.Fatalf("expected one tool output submission, got %v", api.submitted)
	}
	out := api.submitted[0][0]
	if out.ToolCallID != "call_1" {
		t.Errorf("wrong tool call id: %s", out.ToolCallID)
	}
	if !strings.Contains(out.Output, "Función agendar_cita no implementada.") {
		t.Errorf("unexpected tool output: %s", out.Output)
	}
}

func TestProcessMessageRegisteredTool(t *testing.T) {
	dispatcher := NewDispatcher()
	dispatcher.Register("consultar_horario", func(arguments string) (string, error) {
		return `{"horario":"9:00-18:00"}`, nil
	})
	api := &fakeAPI{
		runScript: []Run{
			{ID: "run_1", Status: StatusRequiresAction, ToolCalls: []ToolCall{
				{ID: "call_1", Name: "consultar_horario", Arguments: `{}`},
			}},
			{ID: "run_1", Status: StatusCompleted},
		},
		latest: Message{Role: "assistant", Text: "Atendemos de 9 a 18."},
	}
	engine := NewEngine(api,
		WithPollInterval(time.Millisecond),
		WithMaxPollAttempts(10),
		WithDispatcher(dispatcher),
	)

	if _, err := engine.ProcessMessage(context.Background(), "user1", "horario?", "asst_1", "CLINICA01"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if api.submitted[0][0].Output != `{"horario":"9:00-18:00"}` {
		t.Errorf("registered tool output not used: %s", api.submitted[0][0].Output)
	}
}

func TestProcessMessageRunFailure(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusFailed, LastError: "rate_limit_exceeded: too many requests"}},
	}
	engine := newTestEngine(api)

	reply, err := engine.ProcessMessage(context.Background(), "user1", "hola", "asst_1", "CLINICA01")
	if err != nil {
		t.Fatalf("run failure must resolve to an apology, got error: %v", err)
	}
	if reply != FailureReply {
		t.Errorf("expected failure reply, got %q", reply)
	}
}

func TestProcessMessagePollBudgetExhausted(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusInProgress}},
	}
	engine := newTestEngine(api)

	reply, err := engine.ProcessMessage(context.Background(), "user1", "hola", "asst_1", "CLINICA01")
	if err != nil {
		t.Fatalf("budget exhaustion must resolve to an apology, got error: %v", err)
	}
	if reply != FailureReply {
		t.Errorf("expected failure reply, got %q", reply)
	}

	// The thread must not stay busy forever after exhaustion.
	if _, err := engine.ProcessMessage(context.Background(), "user1", "sigues ahí?", "asst_1", "CLINICA01"); errors.Is(err, ErrRunActive) {
		t.Error("thread stuck busy after poll budget exhaustion")
	}
}

func TestProcessMessageBadShapeReply(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusCompleted}},
		latest:    Message{Role: "user", Text: "eco"},
	}
	engine := newTestEngine(api)

	reply, err := engine.ProcessMessage(context.Background(), "user1", "hola", "asst_1", "CLINICA01")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if reply != BadShapeReply {
		t.Errorf("expected bad-shape reply, got %q", reply)
	}
}

func TestResetThreads(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusCompleted}},
		latest:    Message{Role: "assistant", Text: "hola"},
	}
	engine := newTestEngine(api)

	if _, err := engine.ProcessMessage(context.Background(), "user1", "hola", "asst_1", "CLINICA01"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}
	if cleared := engine.ResetThreads(); cleared != 1 {
		t.Errorf("expected 1 cleared thread, got %d", cleared)
	}
	if engine.ThreadCount() != 0 {
		t.Errorf("expected 0 threads after reset, got %d", engine.ThreadCount())
	}

	// Next message opens a fresh thread.
	if _, err := engine.ProcessMessage(context.Background(), "user1", "hola de nuevo", "asst_1", "CLINICA01"); err != nil {
		t.Fatalf("ProcessMessage after reset failed: %v", err)
	}
	if api.threadSeq != 2 {
		t.Errorf("expected new thread after reset, created %d", api.threadSeq)
	}
}

func TestProcessMessageContextCancelled(t *testing.T) {
	api := &fakeAPI{
		runScript: []Run{{ID: "run_1", Status: StatusInProgress}},
	}
	engine := NewEngine(api,
		WithPollInterval(50*time.Millisecond),
		WithMaxPollAttempts(100),
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := engine.ProcessMessage(ctx, "user1", "hola", "asst_1", "CLINICA01"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
