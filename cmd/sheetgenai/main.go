package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/clock"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/googleauth"
	sghttp "github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/http"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/memkv"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/natskv"
	sgotel "github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/otel"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/pgkv"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/ristretto"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/sheets"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/tiered"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/vertex"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/ws"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/flight"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/logger"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/middleware"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/cache"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/kvstore"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/resilience"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/service"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/taskqueue"
)

func main() {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(bootstrap)

	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	holder := config.NewHolder(cfg, cfgPath)

	log, logClose := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logClose.Close()

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"kv_backend", cfg.KV.Backend,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	shutdownTracer := sgotel.InitTracer(cfg.Logging.Service)
	defer func() { _ = shutdownTracer(context.Background()) }()

	// --- Durable store ---

	// answersL2 stays nil unless the NATS backend is selected; the answer
	// cache then runs on the in-process tier alone.
	var (
		store     kvstore.Store
		answersL2 cache.Cache
	)
	switch cfg.KV.Backend {
	case "nats":
		conn, err := natskv.Connect(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = conn.Close() }()

		tasks, err := conn.Bucket(ctx, cfg.KV.Bucket, 0)
		if err != nil {
			return fmt.Errorf("task bucket: %w", err)
		}
		store = tasks

		answers, err := conn.Bucket(ctx, cfg.Cache.L2Bucket, cfg.Cache.AnswerTTL)
		if err != nil {
			return fmt.Errorf("answer bucket: %w", err)
		}
		answersL2 = natskv.NewCache(answers)
		slog.Info("nats connected", "url", cfg.NATS.URL)
	case "postgres":
		pool, err := pgkv.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		slog.Info("postgres connected")

		if err := pgkv.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("migrations applied")

		store = pgkv.New(pool)
	case "memory":
		store = memkv.New()
		slog.Warn("memory backend selected, tasks will not survive a restart")
	default:
		return fmt.Errorf("unknown kv backend: %q", cfg.KV.Backend)
	}

	// --- Answer cache ---
	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("answer cache: %w", err)
	}
	var answers cache.Cache = l1
	if answersL2 != nil {
		answers = tiered.New(l1, answersL2, cfg.Cache.BackfillTTL)
	}

	// --- Collaborators ---
	tokens := googleauth.New(cfg.Auth.TokenURL)
	sheet := sheets.New(cfg.Sheets, tokens)
	timers := clock.NewDeferred()
	hub := ws.NewHub()

	llm := vertex.New(cfg.Vertex, tokens)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm.SetBreaker(breaker)

	metrics, err := sgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	llm.SetRetryNotify(func() { metrics.RemoteRetries.Add(context.Background(), 1) })

	// --- Services ---
	queue := taskqueue.New(store)

	schedSvc := service.NewSchedulerService(store, queue, sheet, tokens, timers, cfg.Scheduler)
	schedSvc.SetHub(hub)
	schedSvc.SetMetrics(metrics)

	evalSvc := service.NewEvaluateService(queue, schedSvc, flight.NewLock(cfg.Scheduler.LockWait), llm, cfg.Vertex)
	evalSvc.SetAnswerCache(answers, cfg.Cache.AnswerTTL)
	evalSvc.SetHub(hub)
	evalSvc.SetMetrics(metrics)

	if err := metrics.RegisterPendingGauge(schedSvc.Pending); err != nil {
		return fmt.Errorf("pending gauge: %w", err)
	}

	// The running flag outlives the process, the deferred trigger does not.
	// Resume the drain chain if a restart interrupted it.
	if running, err := schedSvc.IsRunning(ctx); err == nil && running {
		slog.Info("running flag found, resuming scheduler")
		if err := schedSvc.Start(ctx); err != nil {
			slog.Warn("scheduler resume failed", "error", err)
		}
	}

	// --- HTTP ---
	handlers := &sghttp.Handlers{
		Evaluate:  evalSvc,
		Scheduler: schedSvc,
		Tasks:     queue,
	}

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(time.Minute, 10*time.Minute)
	defer stopCleanup()

	r := chi.NewRouter()

	// Middleware. The limiter sits before RealIP so its buckets key on the
	// socket address rather than spoofable proxy headers.
	r.Use(sghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(sgotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(sghttp.Logger)
	r.Use(limiter.Handler)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.APIKey(func() string { return holder.Get().Auth.APIKeyHash }))

	// Health endpoint with service status
	r.Get("/health", healthHandler(holder, breaker, hub))

	// WebSocket endpoint, outside the timeout group: connections are
	// long-lived by design.
	r.Get("/ws", hub.HandleWS)

	// API routes. The timeout is sized for one evaluate riding out a few
	// rate-limit retries against Vertex.
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))
		sghttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP reloads config from disk. Only settings read through the
	// holder pick up the change; the API key hash is the one that matters
	// for rotation.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload failed", "error", err)
				continue
			}
			slog.Info("config reloaded", "path", cfgPath)
		}
	}()

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(holder *config.Holder, breaker *resilience.Breaker, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		KVBackend     string `json:"kv_backend"`
		Model         string `json:"model"`
		Region        string `json:"region"`
		Breaker       string `json:"breaker"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		cfg := holder.Get()
		status := healthStatus{
			Status:        "ok",
			KVBackend:     cfg.KV.Backend,
			Model:         cfg.Vertex.Model,
			Region:        cfg.Vertex.Region,
			Breaker:       breaker.State(),
			WSConnections: hub.ConnectionCount(),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
