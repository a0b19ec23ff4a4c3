package router

import (
	"context"
	"strings"
	"testing"

	"github.com/citabot/citabot/internal/assistant"
	"github.com/citabot/citabot/internal/commands"
	"github.com/citabot/citabot/internal/dedup"
	"github.com/citabot/citabot/internal/messaging"
	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/store"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/internal/usercontext"
)

const (
	adminPhone     = "5215550001111"
	assistantPhone = "5215550002222"
	userPhone      = "5215550009999"
)

// recordingService captures outbound sends.
type recordingService struct {
	sent []sentMessage
}

type sentMessage struct {
	To   string
	Body string
}

func (s *recordingService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return recipient, nil
}
func (s *recordingService) SendMessage(ctx context.Context, to, body string) error {
	s.sent = append(s.sent, sentMessage{To: to, Body: body})
	return nil
}
func (s *recordingService) Start(ctx context.Context) error       { return nil }
func (s *recordingService) Stop() error                           { return nil }
func (s *recordingService) Receipts() <-chan models.Receipt       { return nil }
func (s *recordingService) Inbound() <-chan models.InboundMessage { return nil }

// scriptedEngine returns canned replies and records calls.
type scriptedEngine struct {
	reply string
	err   error
	calls []string
}

func (e *scriptedEngine) ProcessMessage(ctx context.Context, userID, message, assistantID, tenantCode string) (string, error) {
	e.calls = append(e.calls, message)
	if e.err != nil {
		return "", e.err
	}
	return e.reply, nil
}

type fixture struct {
	router   *Router
	engine   *scriptedEngine
	outbound *recordingService
	contexts *usercontext.Store
	dir      *tenants.Directory
	tenant   *models.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir, err := tenants.NewDirectory(store.NewInMemoryRepo())
	if err != nil {
		t.Fatalf("NewDirectory failed: %v", err)
	}
	tenant, err := dir.Create(models.Tenant{
		Code:           "CLINICA01",
		Name:           "Clinica Dental Sonrisa",
		AdminPhone:     adminPhone,
		AssistantPhone: assistantPhone,
		AssistantID:    "asst_abc123",
		BotEnabled:     true,
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	outbound := &recordingService{}
	engine := &scriptedEngine{reply: "Claro, ¿para qué día quiere su cita?"}
	contexts := usercontext.NewStore()
	r := New(
		dedup.NewSet(),
		contexts,
		dir,
		commands.NewInterpreter(dir),
		engine,
		messaging.NewRegistry(outbound),
	)
	return &fixture{router: r, engine: engine, outbound: outbound, contexts: contexts, dir: dir, tenant: tenant}
}

func inbound(id, body string) models.InboundMessage {
	return models.InboundMessage{
		ID:   id,
		From: userPhone + "@c.us",
		To:   assistantPhone,
		Body: body,
		Type: "chat",
	}
}

func TestHandleInboundInvalidFormat(t *testing.T) {
	f := newFixture(t)
	res := f.router.HandleInbound(context.Background(), models.InboundMessage{Body: "hola"})
	if res.Processed || res.Reason != ReasonInvalidFormat {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandleInboundDeduplicates(t *testing.T) {
	f := newFixture(t)
	first := f.router.HandleInbound(context.Background(), inbound("m1", "hola"))
	if !first.Processed {
		t.Fatalf("first delivery not processed: %+v", first)
	}
	second := f.router.HandleInbound(context.Background(), inbound("m1", "hola"))
	if second.Processed || second.Reason != ReasonAlreadyProcessed {
		t.Errorf("duplicate not rejected: %+v", second)
	}
	if len(f.engine.calls) != 1 {
		t.Errorf("engine called %d times, want 1", len(f.engine.calls))
	}
}

func TestHandleInboundNonText(t *testing.T) {
	f := newFixture(t)
	msg := inbound("m1", "")
	msg.Type = "image"
	res := f.router.HandleInbound(context.Background(), msg)
	if res.Processed || res.Reason != ReasonNotText {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestHandleInboundGroupIgnored(t *testing.T) {
	f := newFixture(t)
	msg := inbound("m1", "hola a todos")
	msg.IsGroup = true
	res := f.router.HandleInbound(context.Background(), msg)
	if !res.Processed || res.Reason != ReasonGroupIgnored {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(f.engine.calls) != 0 || len(f.outbound.sent) != 0 {
		t.Error("group messages must not reach the engine or the transport")
	}
}

func TestHandleInboundCommand(t *testing.T) {
	f := newFixture(t)
	msg := inbound("m1", "#CLINICA01 /off")
	msg.From = adminPhone + "@c.us"
	res := f.router.HandleInbound(context.Background(), msg)
	if !res.Processed {
		t.Fatalf("command not processed: %+v", res)
	}
	if len(f.engine.calls) != 0 {
		t.Error("commands must not reach the engine")
	}
	if len(f.outbound.sent) != 1 {
		t.Fatalf("expected 1 outbound send, got %d", len(f.outbound.sent))
	}
	got, _ := f.dir.GetByID(f.tenant.ID)
	if got.BotEnabled {
		t.Error("bot still enabled after /off")
	}
}

func TestHandleInboundCommandBeatsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.contexts.MarkAgendaSent(adminPhone)

	msg := inbound("m1", "#CLINICA01 /status")
	msg.From = adminPhone + "@c.us"
	res := f.router.HandleInbound(context.Background(), msg)
	if res.Response == "" || res.Response == "¡Perfecto! Me alegra saber que todo está bien. Si necesitas algo más, no dudes en preguntarme. 😊" {
		t.Errorf("command answered as confirmation: %q", res.Response)
	}
}

func TestHandleInboundConfirmationWhileAwaiting(t *testing.T) {
	f := newFixture(t)
	f.contexts.MarkAgendaSent(userPhone)

	res := f.router.HandleInbound(context.Background(), inbound("m1", "ok gracias"))
	if !res.Processed {
		t.Fatalf("confirmation not processed: %+v", res)
	}
	if len(f.engine.calls) != 0 {
		t.Error("confirmation must not reach the engine while awaiting")
	}
	if len(f.outbound.sent) != 1 {
		t.Fatalf("expected canned reply send, got %d", len(f.outbound.sent))
	}
	if f.contexts.IsAwaitingConfirmation(userPhone) {
		t.Error("awaiting flag must clear after confirmation")
	}
}

func TestHandleInboundConfirmationWithoutAwaitingGoesToEngine(t *testing.T) {
	f := newFixture(t)
	res := f.router.HandleInbound(context.Background(), inbound("m1", "gracias"))
	if !res.Processed {
		t.Fatalf("message not processed: %+v", res)
	}
	if len(f.engine.calls) != 1 {
		t.Errorf("engine calls = %d, want 1", len(f.engine.calls))
	}
	ctx := f.contexts.Get(userPhone)
	if ctx.ConfirmationCount != 1 {
		t.Errorf("confirmation count = %d, want 1", ctx.ConfirmationCount)
	}
}

func TestHandleInboundUnknownTenantRepliesViaFallback(t *testing.T) {
	f := newFixture(t)
	msg := inbound("m1", "hola")
	msg.To = "5215557777777"
	res := f.router.HandleInbound(context.Background(), msg)
	if !res.Processed || res.Reason != ReasonUnknownTenant {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Response != UnknownTenantReply {
		t.Errorf("unexpected response: %q", res.Response)
	}
	if len(f.engine.calls) != 0 {
		t.Error("unknown tenant must not reach the engine")
	}
	if len(f.outbound.sent) != 1 || f.outbound.sent[0].Body != UnknownTenantReply {
		t.Fatalf("user not told the clinic is unknown: %+v", f.outbound.sent)
	}
	if f.outbound.sent[0].To != userPhone {
		t.Errorf("reply sent to %s, want %s", f.outbound.sent[0].To, userPhone)
	}
}

func TestHandleInboundBotDisabledRepliesWithEnableHint(t *testing.T) {
	f := newFixture(t)
	f.dir.SetBotEnabled(f.tenant.ID, false)

	res := f.router.HandleInbound(context.Background(), inbound("m1", "hola"))
	if !res.Processed || res.Reason != ReasonBotDisabled {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(f.engine.calls) != 0 {
		t.Error("disabled bot must not reach the engine")
	}
	if len(f.outbound.sent) != 1 {
		t.Fatalf("user not told the bot is off: %+v", f.outbound.sent)
	}
	if !strings.Contains(f.outbound.sent[0].Body, "#CLINICA01 /on") {
		t.Errorf("reply must name the enable command: %q", f.outbound.sent[0].Body)
	}
}

func TestHandleInboundBusy(t *testing.T) {
	f := newFixture(t)
	f.engine.err = assistant.ErrRunActive

	res := f.router.HandleInbound(context.Background(), inbound("m1", "hola"))
	if res.Processed || res.Reason != ReasonRunActive {
		t.Errorf("unexpected result: %+v", res)
	}
	if res.Response != assistant.BusyReply {
		t.Errorf("unexpected busy response: %q", res.Response)
	}
	if len(f.outbound.sent) != 0 {
		t.Error("busy must not send a WhatsApp message")
	}
}

func TestHandleInboundEngineErrorSendsApology(t *testing.T) {
	f := newFixture(t)
	f.engine.err = context.DeadlineExceeded

	res := f.router.HandleInbound(context.Background(), inbound("m1", "hola"))
	if !res.Processed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Response != assistant.FailureReply {
		t.Errorf("unexpected response: %q", res.Response)
	}
	if len(f.outbound.sent) != 1 || f.outbound.sent[0].Body != assistant.FailureReply {
		t.Errorf("apology not sent: %+v", f.outbound.sent)
	}
}

func TestHandleInboundHappyPath(t *testing.T) {
	f := newFixture(t)
	res := f.router.HandleInbound(context.Background(), inbound("m1", "quiero una cita"))
	if !res.Processed {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.UserID != userPhone {
		t.Errorf("unexpected user id: %s", res.UserID)
	}
	if len(f.outbound.sent) != 1 {
		t.Fatalf("expected 1 send, got %d", len(f.outbound.sent))
	}
	if f.outbound.sent[0].To != userPhone || f.outbound.sent[0].Body != "Claro, ¿para qué día quiere su cita?" {
		t.Errorf("unexpected outbound message: %+v", f.outbound.sent[0])
	}
}
