package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AlexanderSalvatierra/citasalud/libs/auth"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
)

type fakeStore struct {
	appts map[string]model.Appointment

	transitioned struct {
		id     string
		from   []model.Status
		to     model.Status
		events []outbox.Event
	}
	rescheduled struct {
		id    string
		date  string
		time  string
		from  []model.Status
		count int
	}
	transitionErr error
}

func (f *fakeStore) Get(_ context.Context, id string) (model.Appointment, error) {
	appt, ok := f.appts[id]
	if !ok {
		return model.Appointment{}, faults.ErrNotFound
	}
	return appt, nil
}

func (f *fakeStore) Transition(_ context.Context, id string, from []model.Status, to model.Status, events []outbox.Event) (model.Appointment, error) {
	if f.transitionErr != nil {
		return model.Appointment{}, f.transitionErr
	}
	f.transitioned.id = id
	f.transitioned.from = from
	f.transitioned.to = to
	f.transitioned.events = events
	appt := f.appts[id]
	appt.Status = to
	return appt, nil
}

func (f *fakeStore) Reschedule(_ context.Context, id, newDate, newTime string, from []model.Status, _ []outbox.Event) (model.Appointment, error) {
	f.rescheduled.id = id
	f.rescheduled.date = newDate
	f.rescheduled.time = newTime
	f.rescheduled.from = from
	f.rescheduled.count++
	appt := f.appts[id]
	appt.Date = newDate
	appt.Time = newTime
	return appt, nil
}

type fakeAvail struct {
	taken     map[string]struct{}
	excludeID string
}

func (f *fakeAvail) TakenSlotsExcluding(_ context.Context, _, _, excludeID string) (map[string]struct{}, error) {
	f.excludeID = excludeID
	return f.taken, nil
}

var (
	specialist = model.Actor{ID: "spec-1", Role: auth.RoleSpecialist}
	patient    = model.Actor{ID: "patient-1", Role: auth.RolePatient}
	stranger   = model.Actor{ID: "spec-2", Role: auth.RoleSpecialist}
)

func appointment(status model.Status) model.Appointment {
	return model.Appointment{
		ID:           "appt-1",
		SpecialistID: "spec-1",
		PatientID:    "patient-1",
		PatientEmail: "ana@example.com",
		Date:         "2026-03-02",
		Time:         "16:00",
		Status:       status,
	}
}

func newTestService(store *fakeStore, avail *fakeAvail, now time.Time) *Service {
	s := NewService(store, avail, slog.New(slog.NewTextHandler(io.Discard, nil)), time.UTC)
	s.now = func() time.Time { return now }
	return s
}

func storeWith(appt model.Appointment) *fakeStore {
	return &fakeStore{appts: map[string]model.Appointment{appt.ID: appt}}
}

func TestConfirmHappyPath(t *testing.T) {
	appt := appointment(model.StatusPending)
	store := storeWith(appt)
	s := newTestService(store, &fakeAvail{}, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	got, err := s.Confirm(context.Background(), specialist, appt.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("status = %q, want confirmed", got.Status)
	}
	if len(store.transitioned.events) != 1 || store.transitioned.events[0].EventType != outbox.EventAppointmentConfirmed {
		t.Fatalf("expected a confirmed event, got %+v", store.transitioned.events)
	}
}

func TestConfirmRoleGating(t *testing.T) {
	appt := appointment(model.StatusPending)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

	for _, actor := range []model.Actor{patient, stranger} {
		if _, err := s.Confirm(context.Background(), actor, appt.ID); !errors.Is(err, faults.ErrForbidden) {
			t.Fatalf("actor %s/%s: err = %v, want ErrForbidden", actor.Role, actor.ID, err)
		}
	}
}

func TestRejectOnlyFromPending(t *testing.T) {
	appt := appointment(model.StatusConfirmed)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

	_, err := s.Reject(context.Background(), specialist, appt.ID)
	if !faults.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	for _, status := range []model.Status{model.StatusRejected, model.StatusCancelled, model.StatusCompleted, model.StatusNoShow} {
		appt := appointment(status)
		s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

		if _, err := s.Confirm(context.Background(), specialist, appt.ID); !faults.IsValidation(err) {
			t.Fatalf("Confirm from %s: err = %v, want validation error", status, err)
		}
		if _, err := s.Cancel(context.Background(), patient, appt.ID); !faults.IsValidation(err) {
			t.Fatalf("Cancel from %s: err = %v, want validation error", status, err)
		}
	}
}

func TestCancelByEitherParticipant(t *testing.T) {
	for _, actor := range []model.Actor{patient, specialist} {
		appt := appointment(model.StatusConfirmed)
		store := storeWith(appt)
		s := newTestService(store, &fakeAvail{}, time.Now())

		got, err := s.Cancel(context.Background(), actor, appt.ID)
		if err != nil {
			t.Fatalf("Cancel as %s: %v", actor.Role, err)
		}
		if got.Status != model.StatusCancelled {
			t.Fatalf("status = %q, want cancelled", got.Status)
		}
		if len(store.transitioned.events) != 1 || store.transitioned.events[0].EventType != outbox.EventAppointmentCancelled {
			t.Fatalf("expected a cancelled event, got %+v", store.transitioned.events)
		}
	}
}

func TestCancelByStrangerForbidden(t *testing.T) {
	appt := appointment(model.StatusPending)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

	otherPatient := model.Actor{ID: "patient-9", Role: auth.RolePatient}
	if _, err := s.Cancel(context.Background(), otherPatient, appt.ID); !errors.Is(err, faults.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestCompleteGraceWindow(t *testing.T) {
	appt := appointment(model.StatusConfirmed)
	appt.Time = "16:00"

	cases := []struct {
		name string
		now  time.Time
		ok   bool
	}{
		{"too early", time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC), false},
		{"inside grace window", time.Date(2026, 3, 2, 15, 31, 0, 0, time.UTC), true},
		{"at grace boundary", time.Date(2026, 3, 2, 15, 30, 0, 0, time.UTC), true},
		{"after start", time.Date(2026, 3, 2, 16, 10, 0, 0, time.UTC), true},
		{"wrong day", time.Date(2026, 3, 3, 16, 10, 0, 0, time.UTC), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(storeWith(appt), &fakeAvail{}, tc.now)
			_, err := s.Complete(context.Background(), specialist, appt.ID)
			if tc.ok && err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if !tc.ok && !faults.IsValidation(err) {
				t.Fatalf("err = %v, want validation error", err)
			}
		})
	}
}

func TestCompleteRequiresConfirmed(t *testing.T) {
	appt := appointment(model.StatusPending)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC))

	if _, err := s.Complete(context.Background(), specialist, appt.ID); !faults.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestMarkNoShowRequiresConfirmation(t *testing.T) {
	appt := appointment(model.StatusConfirmed)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

	_, err := s.MarkNoShow(context.Background(), specialist, appt.ID, false)
	var ve *faults.ValidationError
	if !errors.As(err, &ve) || ve.Field != "confirm" {
		t.Fatalf("err = %v, want confirm validation error", err)
	}

	got, err := s.MarkNoShow(context.Background(), specialist, appt.ID, true)
	if err != nil {
		t.Fatalf("MarkNoShow: %v", err)
	}
	if got.Status != model.StatusNoShow {
		t.Fatalf("status = %q, want no_show", got.Status)
	}
}

func TestMarkNoShowPatientForbidden(t *testing.T) {
	appt := appointment(model.StatusConfirmed)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Now())

	if _, err := s.MarkNoShow(context.Background(), patient, appt.ID, true); !errors.Is(err, faults.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestRescheduleHappyPath(t *testing.T) {
	appt := appointment(model.StatusConfirmed)
	store := storeWith(appt)
	avail := &fakeAvail{}
	s := newTestService(store, avail, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	got, err := s.Reschedule(context.Background(), patient, appt.ID, "2026-03-05", "10:30")
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if got.Date != "2026-03-05" || got.Time != "10:30" {
		t.Fatalf("moved to %s %s", got.Date, got.Time)
	}
	if got.Status != model.StatusConfirmed {
		t.Fatalf("status = %q, want unchanged confirmed", got.Status)
	}
	if avail.excludeID != appt.ID {
		t.Fatalf("availability excluded %q, want the appointment itself", avail.excludeID)
	}
}

func TestRescheduleToTakenSlot(t *testing.T) {
	appt := appointment(model.StatusPending)
	avail := &fakeAvail{taken: map[string]struct{}{"10:30": {}}}
	s := newTestService(storeWith(appt), avail, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	_, err := s.Reschedule(context.Background(), patient, appt.ID, "2026-03-05", "10:30")
	if !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestRescheduleValidatesNewSlot(t *testing.T) {
	appt := appointment(model.StatusPending)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		date  string
		slot  string
		field string
	}{
		{"malformed date", "05-03-2026", "10:30", "date"},
		{"past date", "2026-02-20", "10:30", "date"},
		{"off-grid time", "2026-03-05", "10:45", "time"},
		{"outside blocks", "2026-03-05", "17:00", "time"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(storeWith(appt), &fakeAvail{}, now)
			_, err := s.Reschedule(context.Background(), patient, appt.ID, tc.date, tc.slot)
			var ve *faults.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want validation error", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("field = %q, want %q", ve.Field, tc.field)
			}
		})
	}
}

func TestRescheduleTerminalAbsorbs(t *testing.T) {
	appt := appointment(model.StatusCompleted)
	s := newTestService(storeWith(appt), &fakeAvail{}, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	if _, err := s.Reschedule(context.Background(), patient, appt.ID, "2026-03-05", "10:30"); !faults.IsValidation(err) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestGetNotFoundPropagates(t *testing.T) {
	s := newTestService(&fakeStore{appts: map[string]model.Appointment{}}, &fakeAvail{}, time.Now())

	if _, err := s.Confirm(context.Background(), specialist, "missing"); !errors.Is(err, faults.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
