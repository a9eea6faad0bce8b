package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AlexanderSalvatierra/citasalud/libs/config"
	"github.com/AlexanderSalvatierra/citasalud/libs/db"
	"github.com/AlexanderSalvatierra/citasalud/libs/httpx"
	"github.com/AlexanderSalvatierra/citasalud/libs/kafkax"
	otelx "github.com/AlexanderSalvatierra/citasalud/libs/otel"
	"github.com/AlexanderSalvatierra/citasalud/libs/runtime"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/artifacts"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/availability"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/booking"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/handlers"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/lifecycle"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/outbox"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "scheduling-service")
	port, err := config.Port("PORT", "8080")
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

	authSecret, err := config.RequiredString("AUTH_HS256_SECRET")
	if err != nil {
		panic(err)
	}

	// Dates and slot times are naive; this is the timezone they are read in.
	clinicTZ := config.String("CLINIC_TIMEZONE", "America/Mexico_City")
	loc, err := time.LoadLocation(clinicTZ)
	if err != nil {
		logger.Error("invalid CLINIC_TIMEZONE; falling back to UTC", "value", clinicTZ, "err", err)
		loc = time.UTC
	}

	repo := storage.NewAppointmentRepository(pool)
	checker := availability.NewChecker(repo)
	offsets := config.MinuteOffsets("REMINDER_OFFSETS_MINUTES", "1440,60")
	bookingSvc := booking.NewService(repo, checker, logger, loc, offsets)
	lifecycleSvc := lifecycle.NewService(repo, checker, logger, loc)
	resolver := artifacts.NewResolver(config.String("ARTIFACT_BASE_URL", "http://localhost:9000/artifacts"))

	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	handler := handlers.NewSchedulingHandler(bookingSvc, lifecycleSvc, checker, repo, resolver, logger)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/v1/slots", handler.Slots)
	apiMux.HandleFunc("/api/v1/specialists", handler.Specialists)
	apiMux.HandleFunc("/api/v1/appointments", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			handler.Book(w, r)
			return
		}
		handler.List(w, r)
	})
	apiMux.HandleFunc("/api/v1/appointments/confirm", handler.Confirm)
	apiMux.HandleFunc("/api/v1/appointments/reject", handler.Reject)
	apiMux.HandleFunc("/api/v1/appointments/cancel", handler.Cancel)
	apiMux.HandleFunc("/api/v1/appointments/reschedule", handler.Reschedule)
	apiMux.HandleFunc("/api/v1/appointments/complete", handler.Complete)
	apiMux.HandleFunc("/api/v1/appointments/no-show", handler.NoShow)
	apiMux.HandleFunc("/api/v1/artifacts/url", handler.ArtifactURL)

	rateLimit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	var limiter httpx.Middleware
	var readyChecks []runtime.ReadyCheck
	readyChecks = append(readyChecks,
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(config.String("KAFKA_BROKERS", ""))},
	)
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter = httpx.NewRedisRateLimiter(rdb, rateLimit, time.Minute, service).Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		limiter = httpx.NewRateLimiter(rateLimit, time.Minute).Middleware()
	}

	api := httpx.Chain(apiMux,
		limiter,
		handlers.RequireActor(authSecret),
	)

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.Handle("/api/v1/", api)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.Strings("CORS_ALLOWED_ORIGINS"),
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", httpx.RequestIDHeader},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
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
