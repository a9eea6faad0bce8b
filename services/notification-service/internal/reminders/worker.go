package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AlexanderSalvatierra/citasalud/libs/db"
	otelx "github.com/AlexanderSalvatierra/citasalud/libs/otel"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/email"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/storage"
)

// Worker fires due reminder jobs: it sends the reminder email and records
// the delivery outcome. Send failures are retried with a fixed backoff up
// to max_attempts; nothing ever propagates back to the scheduling flow.
type Worker struct {
	pool          *db.Pool
	repo          *Repository
	notifications *storage.Repository
	sender        email.Sender
	logger        *slog.Logger
	interval      time.Duration
	batchSize     int
	backoff       time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, notifications *storage.Repository, sender email.Sender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 1 * time.Minute
	}
	return &Worker{
		pool:          pool,
		repo:          repo,
		notifications: notifications,
		sender:        sender,
		logger:        logger,
		interval:      cfg.Interval,
		batchSize:     cfg.BatchSize,
		backoff:       cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("reminder batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return tx.Commit(ctx)
	}

	var sent []int64
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		subject, body := reminderMessage(job)
		if err := w.sender.Send(job.Recipient, subject, body); err != nil {
			w.logger.Warn("reminder send failed", "err", err, "appointment_id", job.AppointmentID, "attempt", job.Attempts+1)
			attempts := job.Attempts + 1
			nextRunAt := time.Now().UTC().Add(w.backoff)
			if err := w.repo.MarkFailed(ctx, tx, job.ID, attempts, job.MaxAttempts, nextRunAt, err.Error()); err != nil {
				return err
			}
			if attempts >= job.MaxAttempts {
				w.record(jobCtx, job, storage.StatusFailed, err.Error())
			}
			continue
		}
		sent = append(sent, job.ID)
		w.record(jobCtx, job, storage.StatusSent, "")
	}

	if err := w.repo.MarkProcessed(ctx, tx, sent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *Worker) record(ctx context.Context, job Job, status, reason string) {
	err := w.notifications.Insert(ctx, storage.Notification{
		AppointmentID: job.AppointmentID,
		EventType:     "reminder",
		Recipient:     job.Recipient,
		Payload:       job.TemplateData,
		Status:        status,
		ErrorReason:   reason,
	})
	if err != nil {
		w.logger.Error("failed to record reminder outcome", "err", err, "appointment_id", job.AppointmentID)
	}
}

func reminderMessage(job Job) (string, string) {
	date, _ := job.TemplateData["date"].(string)
	slot, _ := job.TemplateData["time"].(string)
	specialist, _ := job.TemplateData["specialist_name"].(string)
	subject := "Appointment reminder"
	body := fmt.Sprintf(
		"This is a reminder of your upcoming consultation with %s on %s at %s.\r\nIf you can no longer attend, please cancel or reschedule in advance.",
		specialist, date, slot,
	)
	return subject, body
}
