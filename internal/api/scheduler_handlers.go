// Package api: scheduler control handlers.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/scheduler"
)

// schedulerHandler dispatches /scheduler/ sub-routes: status, run/{task},
// stop, restart.
func (s *Server) schedulerHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/scheduler/")
	segments := strings.Split(path, "/")

	switch {
	case len(segments) == 1 && segments[0] == "status":
		s.schedulerStatusHandler(w, r)
	case len(segments) == 2 && segments[0] == "run" && segments[1] != "":
		s.schedulerRunHandler(w, r, segments[1])
	case len(segments) == 1 && segments[0] == "stop":
		s.schedulerStopHandler(w, r)
	case len(segments) == 1 && segments[0] == "restart":
		s.schedulerRestartHandler(w, r)
	default:
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown scheduler endpoint"))
	}
}

// schedulerStatusHandler handles GET /scheduler/status.
func (s *Server) schedulerStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.sched.Status()))
}

// schedulerRunHandler handles POST /scheduler/run/{taskName}.
func (s *Server) schedulerRunHandler(w http.ResponseWriter, r *http.Request, taskName string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.sched.RunTask(r.Context(), taskName); err != nil {
		slog.Warn("Server.schedulerRunHandler: task failed", "task", taskName, "error", err)
		if errors.Is(err, scheduler.ErrUnknownTask) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("Tarea no encontrada: "+taskName))
			return
		}
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Error ejecutando tarea: "+err.Error()))
		return
	}
	slog.Info("Server.schedulerRunHandler: task executed", "task", taskName)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(fmt.Sprintf("Tarea %s ejecutada manualmente.", taskName), nil))
}

// schedulerStopHandler handles POST /scheduler/stop.
func (s *Server) schedulerStopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	s.sched.Stop()
	slog.Info("Server.schedulerStopHandler: scheduler stopped")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Todas las tareas han sido detenidas.", nil))
}

// schedulerRestartHandler handles POST /scheduler/restart.
func (s *Server) schedulerRestartHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.sched.Restart(); err != nil {
		slog.Error("Server.schedulerRestartHandler: restart failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Error reiniciando tareas"))
		return
	}
	slog.Info("Server.schedulerRestartHandler: scheduler restarted")
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Tareas reiniciadas exitosamente.", nil))
}
