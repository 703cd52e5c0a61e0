package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"bevsync/internal/auth"
	"bevsync/internal/config"
	"bevsync/internal/database"
	"bevsync/internal/identity"
	"bevsync/internal/middleware"
	"bevsync/internal/pipeline"
	"bevsync/internal/registry"
	"bevsync/internal/state"
	"bevsync/internal/sweeper"
	"bevsync/internal/timeutil"
	"bevsync/internal/tracker"
	"bevsync/internal/ws"
)

func main() {
	var (
		addrF  = flag.String("addr", "", "Listen address (overrides LISTEN_ADDR)")
		dbF    = flag.String("db", "", "SQLite install store path (overrides DB_PATH)")
		debugF = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bevsync: invalid configuration: %v\n", err)
		os.Exit(2)
	}
	if *addrF != "" {
		cfg.ListenAddr = *addrF
	}
	if *dbF != "" {
		cfg.DBPath = *dbF
	}
	if *debugF {
		cfg.LogLevel = "debug"
	}

	logger := newLogger(cfg, os.Stderr)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("exited")
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.LogFormat != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "bevsync").Logger()
}

// loadInstall overlays install defaults and ingest tokens from the sqlite
// store onto the built-in ones.
func loadInstall(db *database.Database, tokens *auth.TokenStore, defaults map[int]registry.Defaults) error {
	cams, err := db.ListCameras()
	if err != nil {
		return fmt.Errorf("load cameras: %w", err)
	}
	for _, c := range cams {
		defaults[c.ID] = registry.Defaults{
			Name:  c.Name,
			BevX:  c.BevX,
			BevY:  c.BevY,
			Theta: c.Theta,
			H:     c.Homography,
		}
	}

	toks, err := db.ListTokens()
	if err != nil {
		return fmt.Errorf("load tokens: %w", err)
	}
	for _, t := range toks {
		tokens.Set(t.CameraID, t.Token)
	}
	return nil
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	tokens := auth.NewTokenStore(cfg.CameraTokens)
	defaults := registry.BuiltinDefaults()

	if cfg.DBPath != "" {
		db, err := database.New(cfg.DBPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return fmt.Errorf("migrate %s: %w", cfg.DBPath, err)
		}
		if err := loadInstall(db, tokens, defaults); err != nil {
			return err
		}
		logger.Info().Str("db", cfg.DBPath).Msg("loaded install store")
	}

	clock := timeutil.RealClock{}
	reg := registry.New(tokens, defaults, clock, logger)
	ids := identity.NewManager(identity.Config{
		Dim:       cfg.EmbeddingDim,
		Threshold: cfg.MatchThreshold,
		EMA:       cfg.MatchEMA,
	})
	store := state.New(state.Options{FPSWindow: cfg.FPSWindow, OnlineWindow: cfg.OnlineWindow})
	bus := pipeline.NewEventBus()
	defer bus.Close()

	engine := pipeline.NewEngine(reg, ids, store, bus, clock, pipeline.EngineConfig{
		Tracker: tracker.Config{
			DistanceThreshold: cfg.TrackerDistThreshold,
			MaxAge:            cfg.TrackerMaxAge,
		},
		MockNoise: cfg.MockEmbeddingNoise,
	}, logger)

	viewers := ws.NewHub("viewers", logger)
	bus.Subscribe(viewers)
	control := ws.NewHub("control", logger)
	handler := ws.NewHandler(engine, viewers, control, logger)

	var validator middleware.TokenValidator
	if cfg.JWTSecret != "" {
		validator = auth.NewJWTValidator(cfg.JWTSecret)
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newMux(handler, validator, logger),
		ReadHeaderTimeout: 60 * time.Second,
	}
	sw := sweeper.New(engine, clock, cfg.SweepInterval, cfg.CameraTTL, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sw.Run(gctx)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Bool("jwt", validator != nil).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")
		handler.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
