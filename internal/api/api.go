// Package api exposes the HTTP surface of CitaBot: the inbound WhatsApp
// webhook, thread and user-context administration, tenant (client) CRUD,
// bot status and command endpoints, and scheduler control.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/citabot/citabot/internal/commands"
	"github.com/citabot/citabot/internal/messaging"
	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/router"
	"github.com/citabot/citabot/internal/scheduler"
	"github.com/citabot/citabot/internal/store"
	"github.com/citabot/citabot/internal/tenants"
	"github.com/citabot/citabot/internal/usercontext"
)

// Default server settings.
const (
	DefaultAddr              = ":3000"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
)

// ThreadAdmin is the assistant surface the admin endpoints use.
// assistant.Engine satisfies it.
type ThreadAdmin interface {
	ResetThreads() int
	ThreadCount() int
}

// SchedulerControl is the scheduler surface the /scheduler endpoints use.
type SchedulerControl interface {
	Status() map[string]scheduler.TaskStatus
	RunTask(ctx context.Context, name string) error
	Stop()
	Restart() error
}

// Opts holds configuration options for the API server.
type Opts struct {
	// Addr is the listen address. Defaults to DefaultAddr.
	Addr string
	// WebhookToken authenticates UltraMsg-style GET /webhook checks.
	WebhookToken string
	// MetaVerifyToken authenticates the Meta hub.challenge handshake.
	MetaVerifyToken string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithWebhookToken sets the UltraMsg webhook verification token.
func WithWebhookToken(token string) Option {
	return func(o *Opts) { o.WebhookToken = token }
}

// WithMetaVerifyToken sets the Meta webhook verification token.
func WithMetaVerifyToken(token string) Option {
	return func(o *Opts) { o.MetaVerifyToken = token }
}

// Server wires the HTTP handlers to the application collaborators.
type Server struct {
	addr            string
	webhookToken    string
	metaVerifyToken string

	rt        *router.Router
	engine    ThreadAdmin
	contexts  *usercontext.Store
	directory *tenants.Directory
	registry  *messaging.Registry
	sched     SchedulerControl
	repo      store.Repo
	interp    *commands.Interpreter

	httpServer *http.Server
}

// NewServer creates the API server over the given collaborators.
func NewServer(rt *router.Router, engine ThreadAdmin, contexts *usercontext.Store, directory *tenants.Directory, registry *messaging.Registry, sched SchedulerControl, repo store.Repo, interp *commands.Interpreter, opts ...Option) *Server {
	options := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&options)
	}
	return &Server{
		addr:            options.Addr,
		webhookToken:    options.WebhookToken,
		metaVerifyToken: options.MetaVerifyToken,
		rt:              rt,
		engine:          engine,
		contexts:        contexts,
		directory:       directory,
		registry:        registry,
		sched:           sched,
		repo:            repo,
		interp:          interp,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/reset_threads", s.resetThreadsHandler)
	mux.HandleFunc("/mark-agenda-sent", s.markAgendaSentHandler)
	mux.HandleFunc("/user-context/", s.userContextHandler)
	mux.HandleFunc("/clear-user-context/", s.clearUserContextHandler)
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/receipts", s.receiptsHandler)
	mux.HandleFunc("/clients", s.clientsHandler)
	mux.HandleFunc("/clients/", s.clientSubHandler)
	mux.HandleFunc("/bots/status", s.botsStatusHandler)
	mux.HandleFunc("/bots/command", s.botsCommandHandler)
	mux.HandleFunc("/scheduler/", s.schedulerHandler)
	return mux
}

// Run starts the HTTP server and blocks until it stops. The receipt
// collector drains transport receipts into the store for GET /receipts.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	go s.collectReceipts(ctx, s.registry.Fallback().Receipts())

	slog.Info("API server listening", "addr", s.addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// collectReceipts stores delivery receipts emitted by the fallback
// transport until the channel closes or the context is cancelled.
func (s *Server) collectReceipts(ctx context.Context, receipts <-chan models.Receipt) {
	if receipts == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-receipts:
			if !ok {
				return
			}
			if err := s.repo.AddReceipt(r); err != nil {
				slog.Warn("Server.collectReceipts: failed to store receipt", "error", err, "to", r.To)
			}
		}
	}
}
