package outbox

// Event is the domain event envelope written to the outbox table inside the
// same transaction as the state change it announces. The Kafka topic name
// equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Event types emitted by the scheduling core.
const (
	EventAppointmentRequested   = "scheduling.appointment.requested.v1"
	EventAppointmentConfirmed   = "scheduling.appointment.confirmed.v1"
	EventAppointmentRejected    = "scheduling.appointment.rejected.v1"
	EventAppointmentCancelled   = "scheduling.appointment.cancelled.v1"
	EventAppointmentRescheduled = "scheduling.appointment.rescheduled.v1"
	EventReminderRequested      = "scheduling.reminder.requested.v1"
)
