package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/AlexanderSalvatierra/citasalud/libs/auth"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/artifacts"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/availability"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/booking"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/faults"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/lifecycle"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/slots"
)

// Directory is the read side used by list endpoints.
type Directory interface {
	ListSpecialists(ctx context.Context, specialty string) ([]model.Specialist, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
	ListBySpecialist(ctx context.Context, specialistID string, limit int) ([]model.Appointment, error)
}

type SchedulingHandler struct {
	booking   *booking.Service
	lifecycle *lifecycle.Service
	checker   *availability.Checker
	directory Directory
	artifacts *artifacts.Resolver
	logger    *slog.Logger
}

func NewSchedulingHandler(bookingSvc *booking.Service, lifecycleSvc *lifecycle.Service, checker *availability.Checker, directory Directory, resolver *artifacts.Resolver, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{
		booking:   bookingSvc,
		lifecycle: lifecycleSvc,
		checker:   checker,
		directory: directory,
		artifacts: resolver,
		logger:    logger,
	}
}

type slotItem struct {
	Time  string `json:"time"`
	Taken bool   `json:"taken"`
}

type slotsResponse struct {
	SpecialistID      string     `json:"specialist_id"`
	Date              string     `json:"date"`
	Slots             []slotItem `json:"slots"`
	AvailabilityStale bool       `json:"availability_stale,omitempty"`
}

// Slots renders the day calendar with the soft availability check. A store
// failure here is not fatal: the calendar is still offered, flagged stale,
// and the hard check before the insert remains authoritative.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	specialistID := strings.TrimSpace(r.URL.Query().Get("specialist_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if specialistID == "" || date == "" {
		writeError(w, faults.Validation("date", "specialist_id and date are required"))
		return
	}
	if _, err := model.ParseDate(date); err != nil {
		writeError(w, faults.Validation("date", "invalid date"))
		return
	}

	resp := slotsResponse{SpecialistID: specialistID, Date: date}
	taken, err := h.checker.TakenSlots(r.Context(), specialistID, date)
	if err != nil {
		h.logger.Warn("soft availability check failed", "err", err, "specialist_id", specialistID, "date", date)
		resp.AvailabilityStale = true
		taken = nil
	}
	for _, label := range slots.Labels() {
		_, isTaken := taken[label]
		resp.Slots = append(resp.Slots, slotItem{Time: label, Taken: isTaken})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SchedulingHandler) Specialists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	specialty := strings.TrimSpace(r.URL.Query().Get("specialty"))
	sps, err := h.directory.ListSpecialists(r.Context(), specialty)
	if err != nil {
		writeError(w, err)
		return
	}
	type item struct {
		SpecialistID string `json:"specialist_id"`
		Name         string `json:"name"`
		Specialty    string `json:"specialty"`
	}
	items := make([]item, 0, len(sps))
	for _, sp := range sps {
		items = append(items, item{SpecialistID: sp.ID, Name: sp.Name, Specialty: sp.Specialty})
	}
	writeJSON(w, http.StatusOK, items)
}

type bookRequest struct {
	Specialty       string `json:"specialty"`
	SpecialistID    string `json:"specialist_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	Type            string `json:"type"`
	Reason          string `json:"reason"`
	ConsentRef      string `json:"consent_ref"`
	PaymentProofRef string `json:"payment_proof_ref"`
	PatientEmail    string `json:"patient_email"`
}

func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "actor not authenticated", http.StatusUnauthorized)
		return
	}
	if actor.Role != auth.RolePatient {
		writeError(w, faults.ErrForbidden)
		return
	}

	var req bookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}

	appt, err := h.booking.Book(r.Context(), booking.Request{
		PatientID:       actor.ID,
		PatientEmail:    req.PatientEmail,
		Specialty:       req.Specialty,
		SpecialistID:    req.SpecialistID,
		Date:            req.Date,
		Time:            req.Time,
		Type:            model.VisitType(req.Type),
		Reason:          req.Reason,
		ConsentRef:      req.ConsentRef,
		PaymentProofRef: req.PaymentProofRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentItemFrom(appt))
}

func (h *SchedulingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "actor not authenticated", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		appts []model.Appointment
		err   error
	)
	switch actor.Role {
	case auth.RolePatient:
		appts, err = h.directory.ListByPatient(r.Context(), actor.ID, limit)
	case auth.RoleSpecialist:
		appts, err = h.directory.ListBySpecialist(r.Context(), actor.ID, limit)
	default:
		writeError(w, faults.ErrForbidden)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		items = append(items, appointmentItemFrom(appt))
	}
	writeJSON(w, http.StatusOK, items)
}

type transitionRequest struct {
	AppointmentID string `json:"appointment_id"`
	Date          string `json:"date,omitempty"`    // reschedule only
	Time          string `json:"time,omitempty"`    // reschedule only
	Confirm       bool   `json:"confirm,omitempty"` // no-show only
}

func (h *SchedulingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.Confirm(ctx, actor, req.AppointmentID)
	})
}

func (h *SchedulingHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.Reject(ctx, actor, req.AppointmentID)
	})
}

func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.Cancel(ctx, actor, req.AppointmentID)
	})
}

func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.Reschedule(ctx, actor, req.AppointmentID, req.Date, req.Time)
	})
}

func (h *SchedulingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.Complete(ctx, actor, req.AppointmentID)
	})
}

func (h *SchedulingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor model.Actor, req transitionRequest) (model.Appointment, error) {
		return h.lifecycle.MarkNoShow(ctx, actor, req.AppointmentID, req.Confirm)
	})
}

func (h *SchedulingHandler) transition(w http.ResponseWriter, r *http.Request, apply func(context.Context, model.Actor, transitionRequest) (model.Appointment, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		http.Error(w, "actor not authenticated", http.StatusUnauthorized)
		return
	}
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, faults.Validation("appointment_id", "appointment_id is required"))
		return
	}
	appt, err := apply(r.Context(), actor, req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentItemFrom(appt))
}

func (h *SchedulingHandler) ArtifactURL(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, err := h.artifacts.PublicURL(r.URL.Query().Get("ref"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": u})
}

type appointmentItem struct {
	AppointmentID   string `json:"appointment_id"`
	SpecialistID    string `json:"specialist_id"`
	PatientID       string `json:"patient_id"`
	Date            string `json:"date"`
	Time            string `json:"time"`
	Type            string `json:"type"`
	Reason          string `json:"reason"`
	Status          string `json:"status"`
	ConsentRef      string `json:"consent_ref"`
	PaymentProofRef string `json:"payment_proof_ref"`
	CreatedAt       string `json:"created_at"`
}

func appointmentItemFrom(appt model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:   appt.ID,
		SpecialistID:    appt.SpecialistID,
		PatientID:       appt.PatientID,
		Date:            appt.Date,
		Time:            appt.Time,
		Type:            string(appt.Type),
		Reason:          appt.Reason,
		Status:          string(appt.Status),
		ConsentRef:      appt.ConsentRef,
		PaymentProofRef: appt.PaymentProofRef,
		CreatedAt:       appt.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError maps the scheduling error taxonomy onto HTTP statuses.
// Validation and conflict responses carry actionable text for the end user.
func writeError(w http.ResponseWriter, err error) {
	var ve *faults.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error": ve.Reason,
			"field": ve.Field,
		})
		return
	}
	switch {
	case errors.Is(err, faults.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "time slot no longer available"})
	case errors.Is(err, faults.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "appointment not found"})
	case errors.Is(err, faults.ErrForbidden):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "operation not permitted"})
	case faults.IsTransient(err):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporary backend failure, please retry"})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
