package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/citabot/citabot/internal/usercontext"
)

type fakeSender struct {
	sent    []sentMessage
	failFor string
}

type sentMessage struct {
	To   string
	Body string
}

func (f *fakeSender) SendMessage(ctx context.Context, to, body string) error {
	if f.failFor != "" && to == f.failFor {
		return errors.New("gateway unavailable")
	}
	f.sent = append(f.sent, sentMessage{To: to, Body: body})
	return nil
}

type fakeProber struct {
	statuses map[string]string
	calls    int
}

func (f *fakeProber) Statuses(ctx context.Context) map[string]string {
	f.calls++
	return f.statuses
}

type fakeAgenda struct {
	appointments []Appointment
	err          error
}

func (f *fakeAgenda) TodaysAppointments(ctx context.Context) ([]Appointment, error) {
	return f.appointments, f.err
}

func newTestScheduler(t *testing.T, sender *fakeSender, prober *fakeProber, opts ...Option) (*Scheduler, *usercontext.Store) {
	t.Helper()
	contexts := usercontext.NewStore()
	opts = append([]Option{WithSendDelay(0)}, opts...)
	s, err := NewScheduler(sender, contexts, prober, opts...)
	if err != nil {
		t.Fatalf("NewScheduler failed: %v", err)
	}
	return s, contexts
}

func TestNewSchedulerRejectsBadTimezone(t *testing.T) {
	_, err := NewScheduler(&fakeSender{}, usercontext.NewStore(), &fakeProber{}, WithTimezone("Mars/Olympus"))
	if err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestRunTaskUnknown(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSender{}, &fakeProber{})
	if err := s.RunTask(context.Background(), "defrag"); err == nil {
		t.Error("expected error for unknown task")
	}
}

func TestDailyAgendaSendsAndMarksAwaiting(t *testing.T) {
	sender := &fakeSender{}
	agenda := &fakeAgenda{appointments: []Appointment{
		{Name: "Juan Pérez", Phone: "34612345678", Time: "10:00", Service: "Consulta médica"},
		{Name: "María García", Phone: "34687654321", Time: "14:30", Service: "Revisión"},
	}}
	s, contexts := newTestScheduler(t, sender, &fakeProber{}, WithAgendaSource(agenda))

	if err := s.RunTask(context.Background(), TaskDailyAgenda); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sender.sent))
	}
	if !strings.Contains(sender.sent[0].Body, "¡Hola Juan Pérez!") {
		t.Errorf("greeting missing from message: %q", sender.sent[0].Body)
	}
	if !strings.Contains(sender.sent[0].Body, "a las 10:00") {
		t.Errorf("appointment time missing: %q", sender.sent[0].Body)
	}
	if !strings.Contains(sender.sent[1].Body, "Servicio: Revisión") {
		t.Errorf("service missing: %q", sender.sent[1].Body)
	}
	for _, phone := range []string{"34612345678", "34687654321"} {
		if !contexts.IsAwaitingConfirmation(phone) {
			t.Errorf("user %s not awaiting confirmation after agenda send", phone)
		}
	}
}

func TestDailyAgendaSendFailureSkipsUser(t *testing.T) {
	sender := &fakeSender{failFor: "34612345678"}
	agenda := &fakeAgenda{appointments: []Appointment{
		{Name: "Juan Pérez", Phone: "34612345678", Time: "10:00", Service: "Consulta médica"},
		{Name: "María García", Phone: "34687654321", Time: "14:30", Service: "Revisión"},
	}}
	s, contexts := newTestScheduler(t, sender, &fakeProber{}, WithAgendaSource(agenda))

	if err := s.RunTask(context.Background(), TaskDailyAgenda); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].To != "34687654321" {
		t.Errorf("unexpected sends: %+v", sender.sent)
	}
	if contexts.IsAwaitingConfirmation("34612345678") {
		t.Error("failed send must not mark the user as awaiting confirmation")
	}
	if !contexts.IsAwaitingConfirmation("34687654321") {
		t.Error("successful send must mark the user as awaiting confirmation")
	}
}

func TestDailyAgendaEmptyIsNoOp(t *testing.T) {
	sender := &fakeSender{}
	s, _ := newTestScheduler(t, sender, &fakeProber{}, WithAgendaSource(&fakeAgenda{}))
	if err := s.RunTask(context.Background(), TaskDailyAgenda); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Errorf("no messages expected, got %d", len(sender.sent))
	}
}

func TestDailyAgendaSourceError(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSender{}, &fakeProber{}, WithAgendaSource(&fakeAgenda{err: errors.New("calendar down")}))
	if err := s.RunTask(context.Background(), TaskDailyAgenda); err == nil {
		t.Error("expected error when the agenda source fails")
	}
}

func TestWeeklyCleanupPrunesStaleContexts(t *testing.T) {
	s, contexts := newTestScheduler(t, &fakeSender{}, &fakeProber{}, WithContextMaxAge(time.Millisecond))
	contexts.MarkAgendaSent("34612345678")
	time.Sleep(5 * time.Millisecond)

	if err := s.RunTask(context.Background(), TaskWeeklyCleanup); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if contexts.IsAwaitingConfirmation("34612345678") {
		t.Error("stale context survived the cleanup")
	}
}

func TestStatusCheckProbesTransports(t *testing.T) {
	prober := &fakeProber{statuses: map[string]string{"default": "connected", "t1": "disconnected"}}
	s, _ := newTestScheduler(t, &fakeSender{}, prober)

	if err := s.RunTask(context.Background(), TaskStatusCheck); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if prober.calls != 1 {
		t.Errorf("prober called %d times, want 1", prober.calls)
	}
}

func TestStartStatusStopRestart(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeSender{}, &fakeProber{}, WithTimezone("UTC"))

	status := s.Status()
	if len(status) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(status))
	}
	if status[TaskDailyAgenda].Running {
		t.Error("tasks must not report running before Start")
	}
	if status[TaskDailyAgenda].Schedule != "0 10 * * *" {
		t.Errorf("unexpected schedule: %s", status[TaskDailyAgenda].Schedule)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	status = s.Status()
	for name, ts := range status {
		if !ts.Running {
			t.Errorf("task %s not running after Start", name)
		}
		if ts.NextRun.IsZero() {
			t.Errorf("task %s has no next run time", name)
		}
	}

	// Start twice is a no-op.
	if err := s.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}

	s.Stop()
	if s.Status()[TaskStatusCheck].Running {
		t.Error("tasks still report running after Stop")
	}
	s.Stop() // idempotent

	if err := s.Restart(); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if !s.Status()[TaskStatusCheck].Running {
		t.Error("tasks not running after Restart")
	}
}

func TestSampleAgendaSourceWeekdaysOnly(t *testing.T) {
	monday := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	saturday := time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC)

	src := SampleAgendaSource{Now: func() time.Time { return monday }}
	appts, err := src.TodaysAppointments(context.Background())
	if err != nil {
		t.Fatalf("TodaysAppointments failed: %v", err)
	}
	if len(appts) != 2 {
		t.Errorf("expected 2 weekday appointments, got %d", len(appts))
	}

	src.Now = func() time.Time { return saturday }
	appts, err = src.TodaysAppointments(context.Background())
	if err != nil {
		t.Fatalf("TodaysAppointments failed: %v", err)
	}
	if len(appts) != 0 {
		t.Errorf("expected no weekend appointments, got %d", len(appts))
	}
}
