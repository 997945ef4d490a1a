package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/NICOWEB-KOZUE/qtime-pet/internal/clock"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/config"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/httpapi"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/hub"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/metrics"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/notify"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/queue"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store/postgres"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/store/sqlite"
	"github.com/NICOWEB-KOZUE/qtime-pet/internal/telemetry"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	shutdownTelemetry := telemetry.Setup(ctx, "qtime-pet", cfg.OTLPEndpoint)

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer closeStore()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Fatalf("timezone %q: %v", cfg.Timezone, err)
	}
	clinicClock := clock.New(loc, clock.Options{
		ClosedWeekdays: clock.ParseClosedRules(cfg.ClosedWeekdays),
		Holidays:       splitList(cfg.Holidays),
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mailer := notify.NewMailer(notify.MailerConfig{
		Provider:     cfg.MailProvider,
		From:         cfg.MailFrom,
		SMTPHost:     cfg.SMTPHost,
		SMTPPort:     cfg.SMTPPort,
		SMTPUser:     cfg.SMTPUser,
		SMTPPass:     cfg.SMTPPass,
		SMTPStartTLS: cfg.SMTPStartTLS,
		Timeout:      cfg.NotifyTimeout,
		WebhookURL:   cfg.WebhookURL,
		WebhookToken: cfg.WebhookToken,
	})
	trigger := notify.NewTrigger(st, mailer, m, notify.Options{
		LeadDistance: cfg.LeadDistance,
		Timeout:      cfg.NotifyTimeout,
		Composer: notify.Composer{
			Clinic:    cfg.ClinicName,
			Tel:       cfg.ClinicTel,
			StatusURL: cfg.StatusURL,
			Lang:      cfg.MailLang,
		},
	})

	displayHub := hub.New()
	queueService := queue.NewService(st, clinicClock, trigger, displayHub, m)

	handler := httpapi.NewHandler(queueService, st, displayHub, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL,
		StaffUser:      cfg.StaffUser,
		StaffPassHash:  cfg.StaffPassHash,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:   cfg.RateLimitPerMinute,
		IPBurst:       cfg.RateLimitBurst,
		CardPerMinute: cfg.RateLimitPerMinute,
		CardBurst:     cfg.RateLimitBurst,
	})

	root := otelhttp.NewHandler(
		httpapi.LoggingMiddleware(m, limiter.Middleware(handler.Routes())),
		"qtime-pet",
	)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("qtime-pet listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}

// openStore picks Postgres when DB_DSN is set and falls back to the
// bundled SQLite database otherwise.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		st := postgres.NewStore(pool)
		if err := st.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		log.Printf("store backend=postgres")
		return st, pool.Close, nil
	}

	st, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	log.Printf("store backend=sqlite path=%s", cfg.SQLitePath)
	return st, func() { _ = st.Close() }, nil
}

func splitList(raw string) []string {
	var values []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			values = append(values, entry)
		}
	}
	return values
}
