package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/slots"
)

// Store is the slice of the appointment store the workflow needs.
type Store interface {
	Create(ctx context.Context, appt *model.Appointment, events []outbox.Event) (model.Appointment, error)
	GetSpecialist(ctx context.Context, id string) (model.Specialist, error)
}

// Availability performs the hard taken-slot check just before the insert.
type Availability interface {
	TakenSlots(ctx context.Context, specialistID, date string) (map[string]struct{}, error)
}

// Service drives the booking funnel to a single atomic appointment
// creation. Confirmation email and reminders ride the outbox so their
// delivery can never alter the booking outcome.
type Service struct {
	store   Store
	avail   Availability
	logger  *slog.Logger
	loc     *time.Location
	offsets []time.Duration
	now     func() time.Time
}

func NewService(store Store, avail Availability, logger *slog.Logger, loc *time.Location, reminderOffsets []time.Duration) *Service {
	return &Service{
		store:   store,
		avail:   avail,
		logger:  logger,
		loc:     loc,
		offsets: reminderOffsets,
		now:     time.Now,
	}
}

type Request struct {
	PatientID       string
	PatientEmail    string
	Specialty       string
	SpecialistID    string
	Date            string // model.DateLayout
	Time            string // slot label
	Type            model.VisitType
	Reason          string
	ConsentRef      string
	PaymentProofRef string
}

// Book validates the funnel inputs in order and creates the appointment as
// pending. The first failing precondition is reported; on a slot conflict
// the caller refreshes availability and re-picks, keeping its form state.
func (s *Service) Book(ctx context.Context, req Request) (model.Appointment, error) {
	req.Specialty = strings.TrimSpace(req.Specialty)
	req.SpecialistID = strings.TrimSpace(req.SpecialistID)
	req.Reason = strings.TrimSpace(req.Reason)

	if req.Specialty == "" {
		return model.Appointment{}, faults.Validation("specialty", "specialty is required")
	}
	if req.SpecialistID == "" {
		return model.Appointment{}, faults.Validation("specialist_id", "specialist is required")
	}
	sp, err := s.store.GetSpecialist(ctx, req.SpecialistID)
	if err != nil {
		if errors.Is(err, faults.ErrNotFound) {
			return model.Appointment{}, faults.Validation("specialist_id", "unknown specialist")
		}
		return model.Appointment{}, err
	}
	if sp.Specialty != req.Specialty {
		return model.Appointment{}, faults.Validation("specialist_id", "specialist does not belong to the selected specialty")
	}

	if req.Date == "" {
		return model.Appointment{}, faults.Validation("date", "date is required")
	}
	if _, err := model.ParseDate(req.Date); err != nil {
		return model.Appointment{}, faults.Validation("date", "invalid date")
	}
	now := s.now().In(s.loc)
	if req.Date < now.Format(model.DateLayout) {
		return model.Appointment{}, faults.Validation("date", "date must not be in the past")
	}

	if !slots.IsLabel(req.Time) {
		return model.Appointment{}, faults.Validation("time", "not a bookable time slot")
	}
	start, err := model.StartTime(req.Date, req.Time, s.loc)
	if err != nil {
		return model.Appointment{}, faults.Validation("time", "invalid time")
	}
	if start.Before(now) {
		return model.Appointment{}, faults.Validation("time", "time slot is already in the past")
	}

	// Hard availability check. The storage unique index remains the
	// authoritative guard if two of these race.
	taken, err := s.avail.TakenSlots(ctx, req.SpecialistID, req.Date)
	if err != nil {
		return model.Appointment{}, err
	}
	if _, ok := taken[req.Time]; ok {
		return model.Appointment{}, faults.ErrConflict
	}

	if req.Reason == "" {
		return model.Appointment{}, faults.Validation("reason", "reason is required")
	}
	if strings.TrimSpace(req.ConsentRef) == "" {
		return model.Appointment{}, faults.Validation("consent_ref", "consent document is required")
	}
	if strings.TrimSpace(req.PaymentProofRef) == "" {
		return model.Appointment{}, faults.Validation("payment_proof_ref", "payment receipt is required")
	}
	if req.Type == "" {
		req.Type = model.VisitFirst
	}
	if !model.ValidVisitType(req.Type) {
		return model.Appointment{}, faults.Validation("type", "unknown consultation type")
	}

	appt := &model.Appointment{
		ID:              uuid.NewString(),
		SpecialistID:    req.SpecialistID,
		PatientID:       req.PatientID,
		PatientEmail:    strings.TrimSpace(req.PatientEmail),
		Date:            req.Date,
		Time:            req.Time,
		Type:            req.Type,
		Reason:          req.Reason,
		Status:          model.StatusPending,
		ConsentRef:      strings.TrimSpace(req.ConsentRef),
		PaymentProofRef: strings.TrimSpace(req.PaymentProofRef),
	}

	events, err := s.buildEvents(appt, sp, start, now)
	if err != nil {
		return model.Appointment{}, err
	}
	return s.store.Create(ctx, appt, events)
}

func (s *Service) buildEvents(appt *model.Appointment, sp model.Specialist, start, now time.Time) ([]outbox.Event, error) {
	requested, err := json.Marshal(map[string]any{
		"appointment_id":  appt.ID,
		"specialist_id":   appt.SpecialistID,
		"specialist_name": sp.Name,
		"patient_id":      appt.PatientID,
		"patient_email":   appt.PatientEmail,
		"date":            appt.Date,
		"time":            appt.Time,
		"visit_type":      string(appt.Type),
	})
	if err != nil {
		return nil, err
	}
	events := []outbox.Event{{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     outbox.EventAppointmentRequested,
		Payload:       requested,
	}}

	if appt.PatientEmail == "" {
		return events, nil
	}
	for _, offset := range s.offsets {
		remindAt := start.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"recipient":      appt.PatientEmail,
			"remind_at":      remindAt.UTC().Format(time.RFC3339),
			"template_data": map[string]any{
				"specialist_name": sp.Name,
				"date":            appt.Date,
				"time":            appt.Time,
			},
		})
		if err != nil {
			s.logger.Error("failed to build reminder payload", "err", err)
			continue
		}
		events = append(events, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     outbox.EventReminderRequested,
			Payload:       payload,
		})
	}
	return events, nil
}
