// Package scheduler runs the recurring background tasks: the daily agenda
// send at 10:00, the weekly context cleanup on Sunday night, and an hourly
// transport status probe. Tasks can also be triggered manually through the
// HTTP API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/citabot/citabot/internal/usercontext"
)

// Task names accepted by RunTask and reported by Status.
const (
	TaskDailyAgenda   = "dailyAgenda"
	TaskWeeklyCleanup = "weeklyCleanup"
	TaskStatusCheck   = "statusCheck"
)

// Defaults for scheduler options.
const (
	DefaultTimezone      = "America/Mexico_City"
	DefaultSendDelay     = 1 * time.Second
	DefaultContextMaxAge = 7 * 24 * time.Hour
)

// ErrUnknownTask is returned by RunTask for an unrecognized task name.
var ErrUnknownTask = errors.New("unknown task")

// taskSpecs maps each task to its 5-field cron expression.
var taskSpecs = map[string]string{
	TaskDailyAgenda:   "0 10 * * *",
	TaskWeeklyCleanup: "0 2 * * 0",
	TaskStatusCheck:   "0 * * * *",
}

// taskOrder fixes registration and Status iteration order.
var taskOrder = []string{TaskDailyAgenda, TaskWeeklyCleanup, TaskStatusCheck}

// Appointment is one calendar entry for today's agenda.
type Appointment struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Time    string `json:"time"`
	Service string `json:"service"`
}

// AgendaSource supplies today's appointments for the daily agenda task.
type AgendaSource interface {
	TodaysAppointments(ctx context.Context) ([]Appointment, error)
}

// Sender delivers agenda messages. messaging.Service satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// StatusProber reports the connection status of every transport.
// messaging.Registry satisfies it.
type StatusProber interface {
	Statuses(ctx context.Context) map[string]string
}

// TaskStatus describes one scheduled task.
type TaskStatus struct {
	Running  bool      `json:"running"`
	Schedule string    `json:"schedule"`
	NextRun  time.Time `json:"nextRun,omitempty"`
}

// Opts holds configuration options for the scheduler.
type Opts struct {
	// Timezone for cron evaluation. Defaults to DefaultTimezone.
	Timezone string
	// SendDelay is the pause between agenda sends, to stay under gateway
	// rate limits. Defaults to DefaultSendDelay.
	SendDelay time.Duration
	// ContextMaxAge is the age past which the weekly cleanup drops user
	// contexts. Defaults to DefaultContextMaxAge.
	ContextMaxAge time.Duration
	// Agenda supplies today's appointments. Defaults to SampleAgendaSource.
	Agenda AgendaSource
}

// Option configures the scheduler.
type Option func(*Opts)

// WithTimezone sets the cron evaluation timezone.
func WithTimezone(tz string) Option {
	return func(o *Opts) { o.Timezone = tz }
}

// WithSendDelay sets the pause between agenda sends.
func WithSendDelay(d time.Duration) Option {
	return func(o *Opts) { o.SendDelay = d }
}

// WithContextMaxAge sets the weekly-cleanup context age cutoff.
func WithContextMaxAge(age time.Duration) Option {
	return func(o *Opts) { o.ContextMaxAge = age }
}

// WithAgendaSource replaces the appointment source.
func WithAgendaSource(src AgendaSource) Option {
	return func(o *Opts) { o.Agenda = src }
}

// Scheduler owns the cron runner and the task implementations.
type Scheduler struct {
	sender   Sender
	contexts *usercontext.Store
	prober   StatusProber
	agenda   AgendaSource

	location      *time.Location
	sendDelay     time.Duration
	contextMaxAge time.Duration

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	running bool
}

// NewScheduler creates a scheduler over the given collaborators. The cron
// runner is not started; call Start.
func NewScheduler(sender Sender, contexts *usercontext.Store, prober StatusProber, opts ...Option) (*Scheduler, error) {
	options := Opts{
		Timezone:      DefaultTimezone,
		SendDelay:     DefaultSendDelay,
		ContextMaxAge: DefaultContextMaxAge,
	}
	for _, opt := range opts {
		opt(&options)
	}

	loc, err := time.LoadLocation(options.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %q: %w", options.Timezone, err)
	}

	agenda := options.Agenda
	if agenda == nil {
		agenda = SampleAgendaSource{}
	}

	return &Scheduler{
		sender:        sender,
		contexts:      contexts,
		prober:        prober,
		agenda:        agenda,
		location:      loc,
		sendDelay:     options.SendDelay,
		contextMaxAge: options.ContextMaxAge,
		entries:       make(map[string]cron.EntryID),
	}, nil
}

// Start registers all tasks and starts the cron runner. Starting an
// already-running scheduler is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	s.cron = cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)), cron.WithLocation(s.location))
	s.entries = make(map[string]cron.EntryID)

	for _, name := range taskOrder {
		name := name
		id, err := s.cron.AddFunc(taskSpecs[name], func() {
			if err := s.RunTask(context.Background(), name); err != nil {
				slog.Error("Scheduler task failed", "task", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("failed to schedule task %s: %w", name, err)
		}
		s.entries[name] = id
		slog.Info("Scheduler task registered", "task", name, "schedule", taskSpecs[name], "timezone", s.location.String())
	}

	s.cron.Start()
	s.running = true
	slog.Info("Scheduler started", "tasks", len(s.entries))
	return nil
}

// Stop halts the cron runner and waits for any running job to finish.
// Stopping an already-stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	slog.Info("Scheduler stopped")
}

// Restart stops the scheduler and starts it again with fresh entries.
func (s *Scheduler) Restart() error {
	s.Stop()
	return s.Start()
}

// RunTask executes a task immediately, outside its cron schedule.
func (s *Scheduler) RunTask(ctx context.Context, name string) error {
	slog.Info("Scheduler.RunTask: executing", "task", name)
	switch name {
	case TaskDailyAgenda:
		return s.sendDailyAgenda(ctx)
	case TaskWeeklyCleanup:
		return s.weeklyCleanup()
	case TaskStatusCheck:
		return s.checkTransportStatus(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
}

// Status reports every task with its schedule and, while the scheduler is
// running, its next fire time.
func (s *Scheduler) Status() map[string]TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]TaskStatus, len(taskOrder))
	for _, name := range taskOrder {
		status := TaskStatus{Running: s.running, Schedule: taskSpecs[name]}
		if s.running {
			if id, ok := s.entries[name]; ok {
				status.NextRun = s.cron.Entry(id).Next
			}
		}
		out[name] = status
	}
	return out
}

// sendDailyAgenda delivers a confirmation request to every user with an
// appointment today and marks each one as awaiting confirmation.
func (s *Scheduler) sendDailyAgenda(ctx context.Context) error {
	appointments, err := s.agenda.TodaysAppointments(ctx)
	if err != nil {
		return fmt.Errorf("failed to load today's appointments: %w", err)
	}
	if len(appointments) == 0 {
		slog.Info("Scheduler.sendDailyAgenda: no appointments today")
		return nil
	}

	today := time.Now().In(s.location)
	slog.Info("Scheduler.sendDailyAgenda: sending agenda", "appointments", len(appointments))

	for i, appt := range appointments {
		if i > 0 && s.sendDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.sendDelay):
			}
		}

		if err := s.sender.SendMessage(ctx, appt.Phone, agendaMessage(appt, today)); err != nil {
			slog.Error("Scheduler.sendDailyAgenda: send failed", "name", appt.Name, "phone", appt.Phone, "error", err)
			continue
		}
		s.contexts.MarkAgendaSent(appt.Phone)
		slog.Info("Scheduler.sendDailyAgenda: agenda sent", "name", appt.Name, "phone", appt.Phone)
	}
	return nil
}

// weeklyCleanup drops user contexts that have been idle past the cutoff.
func (s *Scheduler) weeklyCleanup() error {
	removed := s.contexts.PruneOlderThan(s.contextMaxAge)
	slog.Info("Scheduler.weeklyCleanup: done", "contexts_removed", removed)
	return nil
}

// checkTransportStatus probes every transport and warns about any that is
// not connected.
func (s *Scheduler) checkTransportStatus(ctx context.Context) error {
	for name, status := range s.prober.Statuses(ctx) {
		switch status {
		case "connected", "authenticated":
			slog.Debug("Scheduler.checkTransportStatus: transport healthy", "transport", name, "status", status)
		default:
			slog.Warn("Scheduler.checkTransportStatus: transport not connected", "transport", name, "status", status)
		}
	}
	return nil
}

func agendaMessage(a Appointment, today time.Time) string {
	return fmt.Sprintf(`¡Hola %s! 👋

📅 Tienes una cita programada para hoy (%s) a las %s.

🏥 Servicio: %s

Por favor confirma que asistirás respondiendo con "ok", "confirmado" o similar.

¡Te esperamos! 😊`, a.Name, today.Format("2/1/2006"), a.Time, a.Service)
}

// SampleAgendaSource returns placeholder weekday appointments.
//
// TODO: replace with a Google Calendar-backed source.
type SampleAgendaSource struct {
	// Now overrides the clock in tests. Defaults to time.Now.
	Now func() time.Time
}

// TodaysAppointments returns the sample agenda: two appointments on
// weekdays, none on weekends.
func (s SampleAgendaSource) TodaysAppointments(ctx context.Context) ([]Appointment, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return nil, nil
	}
	return []Appointment{
		{Name: "Juan Pérez", Phone: "34612345678", Time: "10:00", Service: "Consulta médica"},
		{Name: "María García", Phone: "34687654321", Time: "14:30", Service: "Revisión"},
	}, nil
}
