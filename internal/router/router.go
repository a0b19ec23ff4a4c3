// Package router implements the inbound message pipeline: dedup, filters,
// admin commands, confirmation short-circuit, tenant resolution, assistant
// completion, and outbound delivery.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/citabot/citabot/internal/assistant"
	"github.com/citabot/citabot/internal/commands"
	"github.com/citabot/citabot/internal/confirm"
	"github.com/citabot/citabot/internal/dedup"
	"github.com/citabot/citabot/internal/messaging"
	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/internal/usercontext"
)

// UnknownTenantReply is sent when no clinic is registered for the phone
// number that received the message.
const UnknownTenantReply = "❌ No podemos identificar la clínica de este número.\nPor favor contacta al administrador."

// BotDisabledReplyFormat is sent when the clinic's bot is switched off.
// The verb takes the tenant code, so the admin sees the exact command.
const BotDisabledReplyFormat = "🤖 El bot está apagado en este momento.\nEl administrador puede encenderlo con #%s /on."

// Rejection reasons reported in Result.Reason.
const (
	ReasonInvalidFormat    = "invalid_message_format"
	ReasonAlreadyProcessed = "already_processed"
	ReasonNotText          = "not_text_message"
	ReasonGroupIgnored     = "group_message_ignored"
	ReasonUnknownTenant    = "unknown_tenant"
	ReasonBotDisabled      = "bot_disabled"
	ReasonRunActive        = "run_active"
)

// CompletionEngine is the assistant surface the router depends on.
type CompletionEngine interface {
	ProcessMessage(ctx context.Context, userID, message, assistantID, tenantCode string) (string, error)
}

// Transports resolves the outbound service per tenant.
type Transports interface {
	ServiceFor(tenantID string) messaging.Service
	Fallback() messaging.Service
}

// Result describes how one inbound message was handled.
type Result struct {
	Processed bool   `json:"processed"`
	Response  string `json:"response,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Router owns the inbound pipeline. Messages from any provider arrive here
// already normalized to models.InboundMessage.
type Router struct {
	dedup      *dedup.Set
	contexts   *usercontext.Store
	directory  *tenants.Directory
	interp     *commands.Interpreter
	engine     CompletionEngine
	transports Transports
}

// New creates a router over the given collaborators.
func New(set *dedup.Set, contexts *usercontext.Store, directory *tenants.Directory, interp *commands.Interpreter, engine CompletionEngine, transports Transports) *Router {
	return &Router{
		dedup:      set,
		contexts:   contexts,
		directory:  directory,
		interp:     interp,
		engine:     engine,
		transports: transports,
	}
}

// HandleInbound runs one message through the pipeline. The message is
// marked processed before any work so a provider retry of the same id is
// never handled twice, even if this attempt fails midway.
func (r *Router) HandleInbound(ctx context.Context, msg models.InboundMessage) Result {
	if msg.ID == "" || msg.From == "" {
		slog.Warn("Router.HandleInbound: malformed message", "id", msg.ID, "from", msg.From)
		return Result{Reason: ReasonInvalidFormat}
	}

	if !r.dedup.MarkProcessed(msg.ID) {
		slog.Debug("Router.HandleInbound: duplicate message ignored", "id", msg.ID)
		return Result{Reason: ReasonAlreadyProcessed}
	}

	if !msg.IsText() {
		slog.Debug("Router.HandleInbound: non-text message ignored", "id", msg.ID, "type", msg.Type)
		return Result{Reason: ReasonNotText}
	}

	userID := msg.SenderPhone()

	if msg.IsGroup {
		slog.Info("Router.HandleInbound: group message ignored", "id", msg.ID, "from", msg.From)
		return Result{Processed: true, UserID: userID, Reason: ReasonGroupIgnored}
	}

	// Admin commands win over everything, including confirmation detection:
	// "#CLINICA01 /on" must never be answered with a pleasantry.
	if cmdResult := r.interp.Process(msg.Body, msg.From); cmdResult.IsCommand {
		r.send(ctx, r.serviceForInbound(msg), userID, cmdResult.Response)
		return Result{Processed: true, Response: cmdResult.Response, UserID: userID}
	}

	// Confirmations short-circuit the assistant only while one is owed;
	// otherwise they are recorded and flow through normally.
	if confirm.IsConfirmation(msg.Body) {
		if r.contexts.IsAwaitingConfirmation(userID) {
			r.contexts.Update(userID, models.MessageKindConfirmation, msg.Body)
			r.send(ctx, r.serviceForInbound(msg), userID, confirm.Reply)
			slog.Info("Router.HandleInbound: confirmation answered", "userID", userID)
			return Result{Processed: true, Response: confirm.Reply, UserID: userID}
		}
		r.contexts.Update(userID, models.MessageKindConfirmation, msg.Body)
	} else {
		r.contexts.Update(userID, models.MessageKindNormal, msg.Body)
	}

	tenant, err := r.directory.GetByAssistantPhone(msg.To)
	if err != nil {
		slog.Warn("Router.HandleInbound: no tenant for receiving phone", "to", msg.To, "id", msg.ID)
		r.send(ctx, r.transports.Fallback(), userID, UnknownTenantReply)
		return Result{Processed: true, Response: UnknownTenantReply, UserID: userID, Reason: ReasonUnknownTenant}
	}

	if !tenant.BotEnabled {
		slog.Info("Router.HandleInbound: bot disabled for tenant", "tenant", tenant.ID, "id", msg.ID)
		reply := fmt.Sprintf(BotDisabledReplyFormat, tenant.Code)
		r.send(ctx, r.transports.ServiceFor(tenant.ID), userID, reply)
		return Result{Processed: true, Response: reply, UserID: userID, Reason: ReasonBotDisabled}
	}

	reply, err := r.engine.ProcessMessage(ctx, userID, msg.Body, tenant.AssistantID, tenant.Code)
	if errors.Is(err, assistant.ErrRunActive) {
		return Result{UserID: userID, Reason: ReasonRunActive, Response: assistant.BusyReply}
	}
	if err != nil {
		slog.Error("Router.HandleInbound: engine failed", "error", err, "userID", userID, "tenant", tenant.ID)
		reply = assistant.FailureReply
	}

	r.send(ctx, r.transports.ServiceFor(tenant.ID), userID, reply)
	return Result{Processed: true, Response: reply, UserID: userID}
}

// serviceForInbound picks the transport for replies sent before (or
// without) tenant resolution: the receiving phone's tenant service when it
// resolves, the fallback otherwise.
func (r *Router) serviceForInbound(msg models.InboundMessage) messaging.Service {
	if tenant, err := r.directory.GetByAssistantPhone(msg.To); err == nil {
		return r.transports.ServiceFor(tenant.ID)
	}
	return r.transports.Fallback()
}

func (r *Router) send(ctx context.Context, svc messaging.Service, to, body string) {
	if body == "" {
		return
	}
	if err := svc.SendMessage(ctx, to, body); err != nil {
		slog.Error("Router.send: outbound delivery failed", "error", err, "to", to)
	}
}
