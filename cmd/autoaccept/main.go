package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/autoaccept/internal/api"
	"github.com/shehryarbajwa/autoaccept/internal/automation"
	"github.com/shehryarbajwa/autoaccept/internal/cdp"
	"github.com/shehryarbajwa/autoaccept/internal/config"
	"github.com/shehryarbajwa/autoaccept/internal/controller"
	"github.com/shehryarbajwa/autoaccept/internal/discovery"
	"github.com/shehryarbajwa/autoaccept/internal/events"
	"github.com/shehryarbajwa/autoaccept/internal/leader"
	"github.com/shehryarbajwa/autoaccept/internal/logging"
	"github.com/shehryarbajwa/autoaccept/internal/ratelimit"
	"github.com/shehryarbajwa/autoaccept/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides AUTOACCEPT_CONFIG)")
	flag.Parse()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if envErr != nil {
		logger.Debug("no .env file found, using system environment variables")
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("autoaccept stopped with error", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("starting autoaccept",
		zap.String("listen", cfg.ListenAddr),
		zap.Int("port_from", cfg.PortFrom),
		zap.Int("port_to", cfg.PortTo),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// History and the shared lock live in one sqlite file
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ownerID := leader.NewOwnerID()
	election := leader.NewElection(st.Lock(cfg.LockName), ownerID, leader.Options{
		StaleAfter: cfg.StaleAfter,
		Logger:     logging.Component(logger, "leader"),
	})

	scanner := discovery.NewScanner(cfg.DebugHost, cfg.ProbeTimeout, logging.Component(logger, "discovery"))

	conns := cdp.NewManager(cfg.CommandTimeout, logging.Component(logger, "cdp"))
	pageLog := logging.Component(logger, "page")
	conns.OnNotification(func(n cdp.Notification) {
		pageLog.Debug("notification", zap.String("page_id", n.PageID), zap.String("method", n.Method))
	})

	hub := events.NewHub(logging.Component(logger, "events"))

	ctrl := controller.New(scanner, conns, election, controller.Options{
		Ports:         cfg.Ports(),
		MaxAttaching:  cfg.MaxAttaching,
		CommandWindow: 5 * cfg.CommandTimeout,
		Session:       cfg.Session,
		ClickLimiter:  ratelimit.PerMinute(cfg.ClicksPerMinute, cfg.ClickBurst),
		History:       st,
		Publisher:     hub,
		SessionOptions: automation.Options{
			CallTimeout: automation.DefaultCallTimeout,
		},
		Logger: logging.Component(logger, "controller"),
	})
	logger.Info("controller initialized", zap.String("owner_id", ownerID))

	handler := api.NewHandler(ctrl, logging.Component(logger, "api"))
	apiLimiter := ratelimit.PerHour(cfg.APIPerHour, cfg.APIBurst)
	router := handler.SetupRoutes(hub, apiLimiter, cfg.APIPerHour)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("control API listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		ctrl.Run(ctx, cfg.CycleInterval, cfg.RollupInterval)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}
	<-loopDone

	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced to shutdown", zap.Error(err))
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil {
		logger.Warn("controller shutdown incomplete", zap.Error(err))
	}

	logger.Info("stopped cleanly")
	return runErr
}
