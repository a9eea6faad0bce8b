package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AlexanderSalvatierra/citasalud/libs/config"
	"github.com/AlexanderSalvatierra/citasalud/libs/db"
	"github.com/AlexanderSalvatierra/citasalud/libs/httpx"
	"github.com/AlexanderSalvatierra/citasalud/libs/kafkax"
	otelx "github.com/AlexanderSalvatierra/citasalud/libs/otel"
	"github.com/AlexanderSalvatierra/citasalud/libs/runtime"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/consumer"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/email"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/inbox"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/reminders"
	"github.com/AlexanderSalvatierra/citasalud/services/notification-service/internal/storage"
)

// Scheduling topics this service subscribes to. Topic names equal event
// types (one topic per event).
const (
	topicRequested   = "scheduling.appointment.requested.v1"
	topicConfirmed   = "scheduling.appointment.confirmed.v1"
	topicCancelled   = "scheduling.appointment.cancelled.v1"
	topicRescheduled = "scheduling.appointment.rescheduled.v1"
	topicReminder    = "scheduling.reminder.requested.v1"
)

type appointmentPayload struct {
	AppointmentID  string `json:"appointment_id"`
	SpecialistID   string `json:"specialist_id"`
	SpecialistName string `json:"specialist_name"`
	PatientID      string `json:"patient_id"`
	PatientEmail   string `json:"patient_email"`
	Date           string `json:"date"`
	Time           string `json:"time"`
	OldDate        string `json:"old_date"`
	OldTime        string `json:"old_time"`
}

type reminderPayload struct {
	AppointmentID string         `json:"appointment_id"`
	Recipient     string         `json:"recipient"`
	RemindAt      string         `json:"remind_at"`
	TemplateData  map[string]any `json:"template_data"`
}

func appointmentMessage(eventType string, p appointmentPayload) (string, string) {
	when := fmt.Sprintf("%s at %s", p.Date, p.Time)
	switch eventType {
	case topicRequested:
		return "Appointment request received",
			fmt.Sprintf("Your consultation request for %s has been received and is pending confirmation by the specialist.", when)
	case topicConfirmed:
		return "Appointment confirmed",
			fmt.Sprintf("Your consultation on %s has been confirmed. Please arrive a few minutes early.", when)
	case topicCancelled:
		return "Appointment cancelled",
			fmt.Sprintf("Your consultation on %s has been cancelled.", when)
	case topicRescheduled:
		return "Appointment rescheduled",
			fmt.Sprintf("Your consultation has been moved from %s at %s to %s.", p.OldDate, p.OldTime, when)
	}
	return "", ""
}

func appointmentHandler(logger *slog.Logger, sender email.Sender, notifications *storage.Repository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var p appointmentPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		subject, body := appointmentMessage(msg.Topic, p)
		if subject == "" {
			logger.Warn("unhandled event type", "topic", msg.Topic)
			return nil
		}

		record := storage.Notification{
			AppointmentID: p.AppointmentID,
			EventType:     msg.Topic,
			Recipient:     p.PatientEmail,
			Payload:       map[string]any{"date": p.Date, "time": p.Time},
		}
		if strings.TrimSpace(p.PatientEmail) == "" {
			record.Status = storage.StatusSkipped
			record.ErrorReason = "no recipient email"
		} else if err := sender.Send(p.PatientEmail, subject, body); err != nil {
			// Best-effort channel: log and record, never propagate.
			logger.Warn("notification send failed", "err", err, "appointment_id", p.AppointmentID)
			record.Status = storage.StatusFailed
			record.ErrorReason = err.Error()
		} else {
			record.Status = storage.StatusSent
		}
		if err := notifications.Insert(ctx, record); err != nil {
			logger.Error("failed to record notification", "err", err, "appointment_id", p.AppointmentID)
		}
		return nil
	}
}

func reminderHandler(logger *slog.Logger, repo *reminders.Repository) consumer.Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var p reminderPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			logger.Error("invalid reminder payload", "err", err)
			return nil
		}
		if p.AppointmentID == "" || strings.TrimSpace(p.Recipient) == "" {
			logger.Error("missing required reminder fields")
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, p.RemindAt)
		if err != nil {
			logger.Error("invalid remind_at", "err", err, "value", p.RemindAt)
			return nil
		}

		meta := kafkax.ExtractEventMeta(msg)
		return repo.Insert(ctx, reminders.Job{
			IdempotencyKey: meta.EventID,
			AppointmentID:  p.AppointmentID,
			Recipient:      strings.TrimSpace(p.Recipient),
			RemindAt:       remindAt,
			TemplateData:   p.TemplateData,
		})
	}
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	sender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", ""),
	)

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	remindersRepo := reminders.NewRepository(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	apptHandler := appointmentHandler(logger, sender, notificationsRepo)
	for _, topic := range []string{topicRequested, topicConfirmed, topicCancelled, topicRescheduled} {
		c := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, apptHandler)
		go c.Run(ctx)
	}
	reminderConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: brokers,
		GroupID: groupID,
		Topic:   topicReminder,
	}, reminderHandler(logger, remindersRepo))
	go reminderConsumer.Run(ctx)

	worker := reminders.NewWorker(pool, remindersRepo, notificationsRepo, sender, logger, reminders.WorkerConfig{
		Interval:  5 * time.Second,
		BatchSize: 50,
		Backoff:   time.Duration(config.Int("REMINDER_RETRY_BACKOFF_SECONDS", 60)) * time.Second,
	})
	go worker.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
