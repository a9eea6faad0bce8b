package model

import "time"

// DateLayout is the wire and storage format for calendar dates. Dates and
// slot times are naive (no timezone) and interpreted clinic-local.
const DateLayout = "2006-01-02"

// TimeLayout is the wire format for slot times ("HH:MM", 24h clock).
const TimeLayout = "15:04"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
	StatusNoShow    Status = "no_show"
)

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted, StatusNoShow:
		return true
	}
	return false
}

// Blocking reports whether an appointment in this status occupies its slot.
// Cancelled and rejected appointments free the slot for others.
func (s Status) Blocking() bool {
	return s != StatusCancelled && s != StatusRejected
}

type VisitType string

const (
	VisitFirst     VisitType = "first_visit"
	VisitFollowUp  VisitType = "follow_up"
	VisitScreening VisitType = "screening"
	VisitReview    VisitType = "review"
)

func ValidVisitType(v VisitType) bool {
	switch v {
	case VisitFirst, VisitFollowUp, VisitScreening, VisitReview:
		return true
	}
	return false
}

type Appointment struct {
	ID              string
	SpecialistID    string
	PatientID       string
	PatientEmail    string
	Date            string // DateLayout
	Time            string // TimeLayout, 30-minute slot label
	Type            VisitType
	Reason          string
	Status          Status
	ConsentRef      string
	PaymentProofRef string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Specialist is an externally owned reference entity; the scheduling core
// only reads it to validate specialty membership and to render lists.
type Specialist struct {
	ID        string
	Name      string
	Specialty string
}

// Actor is the authenticated principal driving a lifecycle transition.
type Actor struct {
	ID   string
	Role string // auth.RolePatient or auth.RoleSpecialist
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// StartTime resolves date + slot label to an instant in the clinic timezone.
func StartTime(date, slot string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+TimeLayout, date+" "+slot, loc)
}
