// Command backend is the entrypoint for the streamcast chat and session API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Opens the optional Redis broadcaster-lookup cache.
//   - Starts the session janitor that reaps orphaned open sessions.
//   - Exposes the HTTP API: chat, stream lifecycle, provider webhook,
//     /healthz, /readyz, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/onnwee/streamcast/backend/config"
	"github.com/onnwee/streamcast/backend/db"
	"github.com/onnwee/streamcast/backend/livecache"
	"github.com/onnwee/streamcast/backend/server"
	"github.com/onnwee/streamcast/backend/stream"
	"github.com/onnwee/streamcast/backend/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.ProviderAPIKey == "" {
		slog.Info("PROVIDER_API_KEY not set; stream provisioning disabled")
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamcast", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations using dual-system approach:
	// 1. Primary: versioned migrations (golang-migrate) from db/migrations/
	// 2. Fallback: embedded SQL (db.Migrate) for deployments predating the
	//    schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional Redis broadcaster-lookup cache. A nil cache is a pure pass-through,
	// so the request path is identical either way.
	var cache *livecache.Cache
	if cfg.RedisAddr != "" {
		cache, err = livecache.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 0)
		if err != nil {
			slog.Warn("redis unavailable, broadcaster cache disabled", slog.Any("err", err))
			cache = nil
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					slog.Error("failed to close redis", slog.Any("err", err))
				}
			}()
			slog.Info("broadcaster cache enabled", slog.String("addr", cfg.RedisAddr))
		}
	}

	// Session janitor: closes open sessions whose broadcaster is no longer live
	// (missed idle webhooks, crashed go-offline calls).
	go stream.StartSessionJanitor(ctx, database, cfg.JanitorInterval)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server
	go func() {
		if err := server.Start(ctx, database, cache, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
