package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
)

type fakeStore struct {
	specialists map[string]model.Specialist
	createErr   error
	created     *model.Appointment
	events      []outbox.Event
}

func (f *fakeStore) Create(_ context.Context, appt *model.Appointment, events []outbox.Event) (model.Appointment, error) {
	if f.createErr != nil {
		return model.Appointment{}, f.createErr
	}
	f.created = appt
	f.events = events
	return *appt, nil
}

func (f *fakeStore) GetSpecialist(_ context.Context, id string) (model.Specialist, error) {
	sp, ok := f.specialists[id]
	if !ok {
		return model.Specialist{}, faults.ErrNotFound
	}
	return sp, nil
}

type fakeAvail struct {
	taken map[string]struct{}
	err   error
}

func (f *fakeAvail) TakenSlots(context.Context, string, string) (map[string]struct{}, error) {
	return f.taken, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(store *fakeStore, avail *fakeAvail, now time.Time) *Service {
	s := NewService(store, avail, testLogger(), time.UTC, []time.Duration{24 * time.Hour, time.Hour})
	s.now = func() time.Time { return now }
	return s
}

func validRequest() Request {
	return Request{
		PatientID:       "patient-1",
		PatientEmail:    "ana@example.com",
		Specialty:       "cardiology",
		SpecialistID:    "spec-1",
		Date:            "2026-03-02",
		Time:            "09:00",
		Reason:          "chest pain follow-up",
		ConsentRef:      "consents/abc",
		PaymentProofRef: "receipts/def",
	}
}

func defaultStore() *fakeStore {
	return &fakeStore{specialists: map[string]model.Specialist{
		"spec-1": {ID: "spec-1", Name: "Dr. Rivera", Specialty: "cardiology"},
	}}
}

var testNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestBookSuccess(t *testing.T) {
	store := defaultStore()
	s := newTestService(store, &fakeAvail{}, testNow)

	appt, err := s.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if appt.Status != model.StatusPending {
		t.Fatalf("status = %q, want pending", appt.Status)
	}
	if appt.ID == "" {
		t.Fatal("expected generated appointment id")
	}
	if appt.Type != model.VisitFirst {
		t.Fatalf("type = %q, want default first_visit", appt.Type)
	}
	if len(store.events) != 3 {
		t.Fatalf("got %d events, want requested + 2 reminders", len(store.events))
	}
	if store.events[0].EventType != outbox.EventAppointmentRequested {
		t.Fatalf("first event = %q", store.events[0].EventType)
	}
	for _, ev := range store.events[1:] {
		if ev.EventType != outbox.EventReminderRequested {
			t.Fatalf("unexpected event type %q", ev.EventType)
		}
	}
}

func TestBookSkipsElapsedReminderOffsets(t *testing.T) {
	store := defaultStore()
	// Booking day-of leaves only the 1h reminder in the future.
	s := newTestService(store, &fakeAvail{}, time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC))

	req := validRequest()
	req.Time = "09:00"
	if _, err := s.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if len(store.events) != 2 {
		t.Fatalf("got %d events, want requested + 1 reminder", len(store.events))
	}
}

func TestBookNoEmailNoReminders(t *testing.T) {
	store := defaultStore()
	s := newTestService(store, &fakeAvail{}, testNow)

	req := validRequest()
	req.PatientEmail = ""
	if _, err := s.Book(context.Background(), req); err != nil {
		t.Fatalf("Book: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("got %d events, want requested only", len(store.events))
	}
}

func TestBookValidationOrder(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
		field  string
	}{
		{"missing specialty", func(r *Request) { r.Specialty = "" }, "specialty"},
		{"missing specialist", func(r *Request) { r.SpecialistID = "" }, "specialist_id"},
		{"unknown specialist", func(r *Request) { r.SpecialistID = "nope" }, "specialist_id"},
		{"specialty mismatch", func(r *Request) { r.Specialty = "dermatology" }, "specialist_id"},
		{"missing date", func(r *Request) { r.Date = "" }, "date"},
		{"malformed date", func(r *Request) { r.Date = "02/03/2026" }, "date"},
		{"past date", func(r *Request) { r.Date = "2026-02-28" }, "date"},
		{"off-grid time", func(r *Request) { r.Time = "09:15" }, "time"},
		{"outside blocks", func(r *Request) { r.Time = "14:00" }, "time"},
		{"missing reason", func(r *Request) { r.Reason = "   " }, "reason"},
		{"missing consent", func(r *Request) { r.ConsentRef = "" }, "consent_ref"},
		{"missing payment proof", func(r *Request) { r.PaymentProofRef = "" }, "payment_proof_ref"},
		{"unknown visit type", func(r *Request) { r.Type = "walk_in" }, "type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestService(defaultStore(), &fakeAvail{}, testNow)
			req := validRequest()
			tc.mutate(&req)
			_, err := s.Book(context.Background(), req)
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

func TestBookSameDayPastSlot(t *testing.T) {
	s := newTestService(defaultStore(), &fakeAvail{}, time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC))

	req := validRequest()
	req.Date = "2026-03-02"
	req.Time = "09:00"
	_, err := s.Book(context.Background(), req)
	var ve *faults.ValidationError
	if !errors.As(err, &ve) || ve.Field != "time" {
		t.Fatalf("err = %v, want time validation error", err)
	}
}

func TestBookTakenSlot(t *testing.T) {
	avail := &fakeAvail{taken: map[string]struct{}{"09:00": {}}}
	s := newTestService(defaultStore(), avail, testNow)

	_, err := s.Book(context.Background(), validRequest())
	if !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestBookRaceSurfacesStoreConflict(t *testing.T) {
	// The availability check sees a free slot, but the insert loses the
	// race and trips the unique constraint.
	store := defaultStore()
	store.createErr = faults.ErrConflict
	s := newTestService(store, &fakeAvail{}, testNow)

	_, err := s.Book(context.Background(), validRequest())
	if !errors.Is(err, faults.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestBookAvailabilityErrorSurfaces(t *testing.T) {
	avail := &fakeAvail{err: faults.Transient("taken_times", errors.New("connection reset"))}
	s := newTestService(defaultStore(), avail, testNow)

	_, err := s.Book(context.Background(), validRequest())
	if !faults.IsTransient(err) {
		t.Fatalf("err = %v, want transient", err)
	}
}
