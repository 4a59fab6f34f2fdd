package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/exam-intake/backend/internal/api"
	"github.com/exam-intake/backend/internal/config"
	"github.com/exam-intake/backend/internal/intake"
	"github.com/exam-intake/backend/internal/storage"
	"github.com/exam-intake/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", defaultConfigPath(), "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Payloads live in a per-run scratch directory and are wiped on shutdown.
	scratchDir := filepath.Join(os.TempDir(), "exam-intake-payloads")
	store, err := storage.NewLocalStore(scratchDir)
	if err != nil {
		slog.Error("failed to initialize payload storage", "dir", scratchDir, "error", err)
		os.Exit(1)
	}

	mgr := intake.NewManager(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go config.Watch(ctx, *configPath, mgr.ApplyConfig)

	e := echo.New()
	e.HideBanner = true
	api.SetupMiddleware(e, cfg)

	handlers := api.NewHandlers(&api.Dependencies{
		IntakeMgr: mgr,
		Store:     store,
		Version:   Version,
	})
	api.RegisterRoutes(e, handlers)
	api.RegisterWebSocketRoutes(e, handlers)

	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			slog.Warn("failed to register static routes", "error", err)
		} else {
			slog.Info("serving embedded widget frontend")
		}
	}

	s := &http.Server{
		Addr:         cfg.Server.Addr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		slog.Info("exam intake server starting",
			"addr", cfg.Server.Addr(),
			"version", Version,
			"buildTime", BuildTime,
			"config", *configPath)
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown incomplete", "error", err)
	}
	if err := store.Wipe(); err != nil {
		slog.Warn("failed to wipe payload scratch directory", "error", err)
	}
}

func defaultConfigPath() string {
	if env := os.Getenv("EXAM_INTAKE_CONFIG"); env != "" {
		return env
	}
	return "exam-intake.yaml"
}
