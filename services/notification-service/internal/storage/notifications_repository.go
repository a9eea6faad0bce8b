package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/AlexanderSalvatierra/citasalud/libs/db"
)

const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Notification is the delivery record kept for every attempted patient
// email. It is an audit trail, not a queue.
type Notification struct {
	AppointmentID string
	EventType     string
	Recipient     string
	Payload       map[string]any
	Status        string
	ErrorReason   string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (id, appointment_id, event_type, recipient, payload, status, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), n.AppointmentID, n.EventType, n.Recipient, payload, n.Status, n.ErrorReason)
	return err
}
