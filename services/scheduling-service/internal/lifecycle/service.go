package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/AlexanderSalvatierra/citasalud/libs/auth"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/slots"
)

// GraceWindow is how early a specialist may close out a confirmed
// appointment before its scheduled time.
const GraceWindow = 30 * time.Minute

type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Transition(ctx context.Context, id string, from []model.Status, to model.Status, events []outbox.Event) (model.Appointment, error)
	Reschedule(ctx context.Context, id, newDate, newTime string, from []model.Status, events []outbox.Event) (model.Appointment, error)
}

type Availability interface {
	TakenSlotsExcluding(ctx context.Context, specialistID, date, excludeID string) (map[string]struct{}, error)
}

// Service is the single authoritative transition function for the
// appointment state machine. Every caller (patient views, specialist
// dashboard) goes through it; displayed state only advances after the
// store confirms the write.
type Service struct {
	store  Store
	avail  Availability
	logger *slog.Logger
	loc    *time.Location
	now    func() time.Time
}

func NewService(store Store, avail Availability, logger *slog.Logger, loc *time.Location) *Service {
	return &Service{
		store:  store,
		avail:  avail,
		logger: logger,
		loc:    loc,
		now:    time.Now,
	}
}

// Confirm moves a pending appointment to confirmed. Specialist only.
func (s *Service) Confirm(ctx context.Context, actor model.Actor, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireOwningSpecialist(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := requireStatus(appt, model.StatusPending, "only pending appointments can be confirmed"); err != nil {
		return model.Appointment{}, err
	}
	events := s.statusEvents(appt, outbox.EventAppointmentConfirmed)
	return s.store.Transition(ctx, id, []model.Status{model.StatusPending}, model.StatusConfirmed, events)
}

// Reject moves a pending appointment to rejected, freeing its slot.
// Specialist only.
func (s *Service) Reject(ctx context.Context, actor model.Actor, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireOwningSpecialist(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := requireStatus(appt, model.StatusPending, "only pending appointments can be rejected"); err != nil {
		return model.Appointment{}, err
	}
	events := s.statusEvents(appt, outbox.EventAppointmentRejected)
	return s.store.Transition(ctx, id, []model.Status{model.StatusPending}, model.StatusRejected, events)
}

// Cancel moves a pending or confirmed appointment to cancelled, freeing its
// slot. Patient or specialist, each on their own appointments.
func (s *Service) Cancel(ctx context.Context, actor model.Actor, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireParticipant(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, faults.Validation("status", "appointment is already closed")
	}
	events := s.statusEvents(appt, outbox.EventAppointmentCancelled)
	return s.store.Transition(ctx, id,
		[]model.Status{model.StatusPending, model.StatusConfirmed}, model.StatusCancelled, events)
}

// Reschedule overwrites date/time in place with the same two-phase
// availability check as initial booking, against the new slot, excluding
// the appointment being moved. Status and identity are unchanged.
func (s *Service) Reschedule(ctx context.Context, actor model.Actor, id, newDate, newTime string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireParticipant(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if appt.Status.Terminal() {
		return model.Appointment{}, faults.Validation("status", "appointment is already closed")
	}

	if _, err := model.ParseDate(newDate); err != nil {
		return model.Appointment{}, faults.Validation("date", "invalid date")
	}
	now := s.now().In(s.loc)
	if newDate < now.Format(model.DateLayout) {
		return model.Appointment{}, faults.Validation("date", "date must not be in the past")
	}
	if !slots.IsLabel(newTime) {
		return model.Appointment{}, faults.Validation("time", "not a bookable time slot")
	}
	start, err := model.StartTime(newDate, newTime, s.loc)
	if err != nil {
		return model.Appointment{}, faults.Validation("time", "invalid time")
	}
	if start.Before(now) {
		return model.Appointment{}, faults.Validation("time", "time slot is already in the past")
	}

	taken, err := s.avail.TakenSlotsExcluding(ctx, appt.SpecialistID, newDate, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, ok := taken[newTime]; ok {
		return model.Appointment{}, faults.ErrConflict
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"specialist_id":  appt.SpecialistID,
		"patient_id":     appt.PatientID,
		"patient_email":  appt.PatientEmail,
		"old_date":       appt.Date,
		"old_time":       appt.Time,
		"date":           newDate,
		"time":           newTime,
	})
	if err != nil {
		return model.Appointment{}, err
	}
	events := []outbox.Event{{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentRescheduled,
		Payload:       payload,
	}}
	return s.store.Reschedule(ctx, id, newDate, newTime,
		[]model.Status{model.StatusPending, model.StatusConfirmed}, events)
}

// Complete closes out a confirmed appointment. Specialist only, on the
// scheduled day, no earlier than GraceWindow before the scheduled time.
func (s *Service) Complete(ctx context.Context, actor model.Actor, id string) (model.Appointment, error) {
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireOwningSpecialist(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := requireStatus(appt, model.StatusConfirmed, "only confirmed appointments can be completed"); err != nil {
		return model.Appointment{}, err
	}

	now := s.now().In(s.loc)
	if appt.Date != now.Format(model.DateLayout) {
		return model.Appointment{}, faults.Validation("date", "appointment can only be completed on its scheduled day")
	}
	start, err := model.StartTime(appt.Date, appt.Time, s.loc)
	if err != nil {
		return model.Appointment{}, faults.Validation("time", "invalid scheduled time")
	}
	if now.Before(start.Add(-GraceWindow)) {
		return model.Appointment{}, faults.Validation("time", "appointment cannot be completed before its grace window opens")
	}
	return s.store.Transition(ctx, id, []model.Status{model.StatusConfirmed}, model.StatusCompleted, nil)
}

// MarkNoShow records that the patient did not attend. Specialist only,
// and the caller must have accepted an explicit confirmation prompt.
func (s *Service) MarkNoShow(ctx context.Context, actor model.Actor, id string, confirmed bool) (model.Appointment, error) {
	if !confirmed {
		return model.Appointment{}, faults.Validation("confirm", "marking a no-show requires explicit confirmation")
	}
	appt, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := requireOwningSpecialist(actor, appt); err != nil {
		return model.Appointment{}, err
	}
	if err := requireStatus(appt, model.StatusConfirmed, "only confirmed appointments can be marked as no-show"); err != nil {
		return model.Appointment{}, err
	}
	return s.store.Transition(ctx, id, []model.Status{model.StatusConfirmed}, model.StatusNoShow, nil)
}

func (s *Service) statusEvents(appt model.Appointment, eventType string) []outbox.Event {
	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"specialist_id":  appt.SpecialistID,
		"patient_id":     appt.PatientID,
		"patient_email":  appt.PatientEmail,
		"date":           appt.Date,
		"time":           appt.Time,
	})
	if err != nil {
		s.logger.Error("failed to build status event payload", "err", err, "event_type", eventType)
		return nil
	}
	return []outbox.Event{{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     eventType,
		Payload:       payload,
	}}
}

func requireOwningSpecialist(actor model.Actor, appt model.Appointment) error {
	if actor.Role != auth.RoleSpecialist || actor.ID != appt.SpecialistID {
		return faults.ErrForbidden
	}
	return nil
}

func requireParticipant(actor model.Actor, appt model.Appointment) error {
	switch actor.Role {
	case auth.RolePatient:
		if actor.ID == appt.PatientID {
			return nil
		}
	case auth.RoleSpecialist:
		if actor.ID == appt.SpecialistID {
			return nil
		}
	}
	return faults.ErrForbidden
}

func requireStatus(appt model.Appointment, want model.Status, reason string) error {
	if appt.Status.Terminal() {
		return faults.Validation("status", "appointment is in a terminal state")
	}
	if appt.Status != want {
		return faults.Validation("status", reason)
	}
	return nil
}
