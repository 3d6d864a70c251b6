package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"queuewatch/internal/ami"
	"queuewatch/internal/auth"
	"queuewatch/internal/config"
	"queuewatch/internal/db"
	"queuewatch/internal/monitor"
	"queuewatch/internal/stats"
	"queuewatch/internal/ws"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	path := os.Getenv("QUEUEWATCH_CONFIG")
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("failed to load configuration")
	}

	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	logger := log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("http", cfg.HTTP.Addr).
		Str("ami", cfg.AMIAddr()).
		Strs("allowed_origins", cfg.HTTP.AllowedOrigins).
		Msg("starting queuewatch")

	// =======================
	// HYDRATION
	// =======================
	dir := loadDirectory(ctx, cfg, logger)

	loc, _ := time.LoadLocation(cfg.Stats.Timezone)
	store, err := stats.Open(ctx, stats.Config{
		Path:          cfg.Stats.Path,
		RetentionDays: cfg.Stats.RetentionDays,
		Location:      loc,
		Logger:        logger.With().Str("component", "stats").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Stats.Path).Msg("failed to open counter store")
	}
	defer store.Close()

	seed, err := store.ReadToday(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read today's counters, starting from zero")
	}

	table := monitor.NewTable(nil)
	table.Hydrate(dir, seed)
	logger.Info().
		Int("queues", len(table.QueueIDs())).
		Int("seeded_extensions", len(seed)).
		Msg("queue table hydrated")

	// =======================
	// PIPELINE
	// =======================
	writer := stats.NewWriter(store, 1024, logger.With().Str("component", "stats").Logger())
	go writer.Run(ctx)

	hub := ws.NewHub(table, ws.Config{
		WriteWait:  cfg.WS.WriteWait,
		PongWait:   cfg.WS.PongWait,
		SendBuffer: cfg.WS.SendBuffer,
	}, logger)
	go hub.Run(ctx)

	rawLog, closeRaw := openEventLog(cfg.AMI.EventLog, logger)
	defer closeRaw()

	src := ami.NewSource(ami.SourceConfig{
		Addr:           cfg.AMIAddr(),
		Username:       cfg.AMI.Username,
		Password:       cfg.AMI.Password,
		ReconnectDelay: cfg.AMI.ReconnectDelay,
		PingInterval:   cfg.AMI.PingInterval,
		RawLog:         rawLog,
	}, logger)
	go src.Run(ctx)

	handler := ami.NewHandler(table, hub, writer, ami.HandlerConfig{
		IgnoreContexts: cfg.AMI.IgnoreContexts,
		PollInterval:   cfg.AMI.PollInterval,
	}, logger)
	go handler.Run(ctx, src)

	// =======================
	// HTTP
	// =======================
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler(src))
	r.Get("/ws", ws.Monitor(hub, ws.HandlerConfig{
		Secret:         cfg.JWT.Secret,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger.With().Str("component", "ws").Logger()))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(cfg.JWT.Secret, logger))
		r.Get("/api/queues", ws.Queues(table, logger.With().Str("component", "ws").Logger()))
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	writer.Wait()
	logger.Info().Msg("stopped")
}

// loadDirectory returns an empty directory when the configuration store is
// unavailable; the table then fills from manager events alone.
func loadDirectory(ctx context.Context, cfg *config.Config, logger zerolog.Logger) monitor.Directory {
	if cfg.DB.DSN == "" {
		logger.Warn().Msg("no db.dsn configured, skipping directory load")
		return monitor.Directory{}
	}

	pool, err := db.New(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open configuration store")
		return monitor.Directory{}
	}
	defer pool.Close()

	loadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	dir, err := monitor.LoadDirectory(loadCtx, pool)
	if err != nil {
		logger.Error().Err(err).Msg("directory load failed, starting empty")
		return monitor.Directory{}
	}
	return dir
}

func openEventLog(path string, logger zerolog.Logger) (*zerolog.Logger, func()) {
	if path == "" {
		return nil, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("failed to open event log")
		return nil, func() {}
	}
	l := zerolog.New(f).With().Timestamp().Logger()
	return &l, func() { f.Close() }
}

func healthHandler(src *ami.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","ami":%q}`, src.State())
	}
}
