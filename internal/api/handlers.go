// Package api: webhook, thread, user-context, health and receipt handlers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/router"
)

// webhookHandler serves both webhook verification (GET) and inbound
// message delivery (POST).
func (s *Server) webhookHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.verifyWebhook(w, r)
	case http.MethodPost:
		s.receiveWebhook(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// verifyWebhook answers the two verification handshakes: the Meta
// hub.challenge exchange and the UltraMsg plain token check.
func (s *Server) verifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if mode := q.Get("hub.mode"); mode != "" {
		if mode == "subscribe" && s.metaVerifyToken != "" && q.Get("hub.verify_token") == s.metaVerifyToken {
			slog.Info("Server.verifyWebhook: Meta handshake verified")
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(q.Get("hub.challenge")))
			return
		}
		slog.Warn("Server.verifyWebhook: Meta handshake rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if token := q.Get("token"); token != "" && s.isKnownWebhookToken(token) {
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Webhook verified", nil))
		return
	}
	slog.Warn("Server.verifyWebhook: token rejected")
	w.WriteHeader(http.StatusForbidden)
}

// isKnownWebhookToken accepts the server-wide token or any active tenant's
// webhook token.
func (s *Server) isKnownWebhookToken(token string) bool {
	if s.webhookToken != "" && token == s.webhookToken {
		return true
	}
	for _, t := range s.directory.ListActive() {
		if t.UltraMsgWebhookToken != "" && t.UltraMsgWebhookToken == token {
			return true
		}
	}
	return false
}

// receiveWebhook normalizes the provider payload and runs it through the
// router. Only an undecodable body is a client error; payloads that carry
// no message (status changes, unknown events) are acknowledged with 200 so
// the provider does not retry them.
func (s *Server) receiveWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		slog.Warn("Server.receiveWebhook: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg, ok := normalizeWebhook(raw)
	if !ok {
		slog.Debug("Server.receiveWebhook: payload carries no message")
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("No message to process", nil))
		return
	}

	result := s.rt.HandleInbound(r.Context(), msg)
	if result.Reason == router.ReasonRunActive {
		writeJSONResponse(w, http.StatusTooManyRequests, models.Error(result.Response))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// normalizeWebhook maps a raw payload into the canonical inbound event,
// trying the Meta Graph shape first and the UltraMsg shape second.
func normalizeWebhook(raw json.RawMessage) (models.InboundMessage, bool) {
	var meta models.MetaWebhook
	if err := json.Unmarshal(raw, &meta); err == nil && meta.Object == "whatsapp_business_account" {
		return meta.Normalize()
	}

	var ultra models.UltraMsgWebhook
	if err := json.Unmarshal(raw, &ultra); err != nil {
		return models.InboundMessage{}, false
	}
	return ultra.Normalize()
}

// resetThreadsHandler handles POST /reset_threads.
func (s *Server) resetThreadsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	cleared := s.engine.ResetThreads()
	slog.Info("Server.resetThreadsHandler: threads reset", "cleared", cleared)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(
		"Todos los threads de usuario han sido reseteados.",
		map[string]int{"cleared": cleared},
	))
}

// markAgendaSentHandler handles POST /mark-agenda-sent.
func (s *Server) markAgendaSentHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.markAgendaSentHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if req.UserID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: userId"))
		return
	}

	s.contexts.MarkAgendaSent(req.UserID)
	slog.Info("Server.markAgendaSentHandler: user awaiting confirmation", "userID", req.UserID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Agenda marcada como enviada.", s.contexts.Get(req.UserID)))
}

// userContextHandler handles GET /user-context/{userId}.
func (s *Server) userContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/user-context/")
	if userID == "" || strings.Contains(userID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown endpoint"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.contexts.Get(userID)))
}

// clearUserContextHandler handles POST /clear-user-context/{userId}.
func (s *Server) clearUserContextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/clear-user-context/")
	if userID == "" || strings.Contains(userID, "/") {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown endpoint"))
		return
	}
	s.contexts.Clear(userID)
	slog.Info("Server.clearUserContextHandler: context cleared", "userID", userID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Contexto de usuario eliminado.", nil))
}

// healthHandler provides a health check endpoint for monitoring.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	stats := s.directory.Stats()
	healthData := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"active_clients": stats.Total,
		"active_threads": s.engine.ThreadCount(),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// receiptsHandler handles GET /receipts.
func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	receipts, err := s.repo.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to fetch receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
