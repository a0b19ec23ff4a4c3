// Package api: tenant (client) management and bot control handlers.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/citabot/citabot/internal/models"
)

// clientsHandler handles the /clients collection: GET lists active
// tenants, POST registers a new one.
func (s *Server) clientsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSONResponse(w, http.StatusOK, models.Success(s.directory.ListActive()))
	case http.MethodPost:
		s.createClientHandler(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

// clientSubHandler dispatches /clients/ sub-routes: reload, status,
// stats/overview, and per-tenant operations on /clients/{id}.
func (s *Server) clientSubHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/clients/")
	segments := strings.Split(path, "/")

	switch {
	case len(segments) == 1 && segments[0] == "reload":
		s.reloadClientsHandler(w, r)
	case len(segments) == 1 && segments[0] == "status":
		s.clientsStatusHandler(w, r)
	case len(segments) == 2 && segments[0] == "stats" && segments[1] == "overview":
		s.clientsStatsHandler(w, r)
	case len(segments) == 1 && segments[0] != "":
		s.clientByIDHandler(w, r, segments[0])
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown endpoint"))
	}
}

// createClientHandler handles POST /clients.
func (s *Server) createClientHandler(w http.ResponseWriter, r *http.Request) {
	if r.Body != nil {
		defer r.Body.Close()
	}
	var t models.Tenant
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		slog.Warn("Server.createClientHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	created, err := s.directory.Create(t)
	if err != nil {
		slog.Warn("Server.createClientHandler: create failed", "error", err, "code", t.Code)
		writeJSONResponse(w, tenantErrorStatus(err), models.Error(err.Error()))
		return
	}
	s.registry.Rebuild(s.directory.ListActive())

	slog.Info("Server.createClientHandler: client registered", "id", created.ID, "code", created.Code)
	writeJSONResponse(w, http.StatusCreated, models.SuccessWithMessage("Cliente registrado exitosamente.", created))
}

// clientByIDHandler handles GET/PUT/DELETE /clients/{id}.
func (s *Server) clientByIDHandler(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		tenant, err := s.directory.GetByID(id)
		if err != nil {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Cliente no encontrado."))
			return
		}
		writeJSONResponse(w, http.StatusOK, models.Success(tenant))

	case http.MethodPut:
		if r.Body != nil {
			defer r.Body.Close()
		}
		var t models.Tenant
		if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
			slog.Warn("Server.clientByIDHandler: failed to decode JSON", "error", err)
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
			return
		}
		t.ID = id
		updated, err := s.directory.Update(t)
		if err != nil {
			slog.Warn("Server.clientByIDHandler: update failed", "error", err, "id", id)
			writeJSONResponse(w, tenantErrorStatus(err), models.Error(err.Error()))
			return
		}
		s.registry.Rebuild(s.directory.ListActive())
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cliente actualizado exitosamente.", updated))

	case http.MethodDelete:
		if err := s.directory.SoftDelete(id); err != nil {
			slog.Warn("Server.clientByIDHandler: delete failed", "error", err, "id", id)
			writeJSONResponse(w, tenantErrorStatus(err), models.Error(err.Error()))
			return
		}
		s.registry.Rebuild(s.directory.ListActive())
		slog.Info("Server.clientByIDHandler: client deleted", "id", id)
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Cliente eliminado exitosamente.", nil))

	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

// reloadClientsHandler handles POST /clients/reload: refresh the directory
// cache from the registry backend and resync per-tenant transports.
func (s *Server) reloadClientsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	added, removed, err := s.directory.Reload()
	if err != nil {
		slog.Error("Server.reloadClientsHandler: reload failed, serving last-known clients", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reload clients"))
		return
	}
	s.registry.Rebuild(s.directory.ListActive())

	slog.Info("Server.reloadClientsHandler: clients reloaded", "added", len(added), "removed", len(removed))
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Clientes recargados exitosamente.", map[string][]string{
		"added":   added,
		"removed": removed,
	}))
}

// clientsStatusHandler handles GET /clients/status: per-tenant bot state.
func (s *Server) clientsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	active := s.directory.ListActive()
	statuses := make([]map[string]interface{}, 0, len(active))
	for _, t := range active {
		statuses = append(statuses, map[string]interface{}{
			"id":          t.ID,
			"code":        t.Code,
			"name":        t.Name,
			"bot_enabled": t.BotEnabled,
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(statuses))
}

// clientsStatsHandler handles GET /clients/stats/overview.
func (s *Server) clientsStatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.directory.Stats()))
}

// botsStatusHandler handles GET /bots/status: bot flags plus transport
// connection status per tenant.
func (s *Server) botsStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	active := s.directory.ListActive()
	bots := make([]map[string]interface{}, 0, len(active))
	for _, t := range active {
		bots = append(bots, map[string]interface{}{
			"code":        t.Code,
			"name":        t.Name,
			"bot_enabled": t.BotEnabled,
		})
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"bots":       bots,
		"transports": s.registry.Statuses(r.Context()),
	}))
}

// botsCommandHandler handles POST /bots/command: run an admin command on
// behalf of a phone number, same semantics as sending it over WhatsApp.
func (s *Server) botsCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		Command string `json:"command"`
		From    string `json:"from"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.botsCommandHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	result := s.interp.Process(req.Command, req.From)
	if !result.IsCommand {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("No es un comando válido."))
		return
	}
	slog.Info("Server.botsCommandHandler: command executed", "tenant_code", result.TenantCode, "command", result.Command)
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

// tenantErrorStatus maps directory errors onto HTTP status codes.
func tenantErrorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrDuplicateTenantCode),
		errors.Is(err, models.ErrDuplicateAssistantPhone):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyTenantCode),
		errors.Is(err, models.ErrInvalidTenantCode),
		errors.Is(err, models.ErrEmptyTenantName),
		errors.Is(err, models.ErrTenantNameTooLong),
		errors.Is(err, models.ErrEmptyAdminPhone),
		errors.Is(err, models.ErrEmptyAssistantPhone),
		errors.Is(err, models.ErrEmptyAssistantID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
