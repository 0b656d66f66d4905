// Command streamactions is the main entrypoint for the chat bot and its
// HTTP admin surface. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the IRC bot with the moderation engine and permission system.
//   - Starts background jobs: warning-state sweeping, message-counter
//     pruning, and the OAuth token refresher for the Twitch user token.
//   - Exposes an HTTP server with /healthz, /status, /metrics, the OAuth
//     authorize flow, and the /admin API.
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
	"github.com/redis/go-redis/v9"
	"github.com/streamactions/streamactions/bot"
	"github.com/streamactions/streamactions/config"
	"github.com/streamactions/streamactions/db"
	"github.com/streamactions/streamactions/moderation"
	"github.com/streamactions/streamactions/oauth"
	"github.com/streamactions/streamactions/permissions"
	"github.com/streamactions/streamactions/server"
	"github.com/streamactions/streamactions/telemetry"
	"github.com/streamactions/streamactions/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

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
		// unknown level -> keep info but note once using temporary logger
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

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streamactions", "1.0.0")
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

	// Migrations: versioned files first, embedded SQL as a fallback for
	// deployments that predate the schema_migrations table.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Permission system
	store := permissions.NewStore(database)
	manager := permissions.NewManager(permissions.Default(), store)
	bot.RegisterBuiltinPermissions(manager.Registry)
	resolver := permissions.NewResolver(store)

	// Moderation engine
	policies, err := moderation.NewPolicyStore(database)
	if err != nil {
		slog.Error("policy store init failed", slog.Any("err", err))
		os.Exit(1)
	}
	warnings := moderation.NewWarningTracker()
	moderation.StartWarningSweepJob(ctx, warnings, time.Minute, time.Hour)

	var counter moderation.MessageCounter
	if cfg.RedisAddr != "" {
		counter = moderation.NewRedisCounter(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), 10*time.Minute)
		slog.Info("using redis message counter", slog.String("addr", cfg.RedisAddr))
	} else {
		mem := moderation.NewMemCounter(10 * time.Minute)
		moderation.StartCounterPruneJob(ctx, mem, time.Minute)
		counter = mem
	}

	engine := moderation.NewEngine(policies, resolver, warnings, counter)

	// Helix client over the stored user token. Moderation actions need the
	// bot's user token, not an app token.
	tokens := &twitchapi.UserTokenSource{
		DB:           database,
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	helix := &twitchapi.HelixClient{Tokens: tokens, ClientID: cfg.TwitchClientID}

	botUserID := cfg.TwitchBotUserID
	if botUserID == "" && cfg.TwitchBotUsername != "" {
		lookupCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
		if id, err := helix.GetUserID(lookupCtx, cfg.TwitchBotUsername); err != nil {
			slog.Warn("bot user id lookup failed, punishments disabled until restart", slog.Any("err", err))
		} else {
			botUserID = id
		}
		cancel()
	}

	// Chat bot
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Warn("chat bot disabled", slog.Any("err", err))
	} else {
		executor := &bot.HelixExecutor{Helix: helix, BotUserID: botUserID}
		b := bot.New(cfg, database, engine, executor, store, manager)
		go func() {
			if err := b.Run(ctx); err != nil {
				slog.Error("bot exited with error", slog.Any("err", err))
			}
		}()
	}

	// Centralized OAuth token refresher for the stored Twitch user token
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

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

	// HTTP server (health/status/metrics/oauth/admin)
	handlers := server.NewHandlers(ctx, database, cfg, manager, policies)
	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
