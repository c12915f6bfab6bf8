package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/api"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/config"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/db"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/dispatch"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/email"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/janitor"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/metrics"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/models"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/session"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/signature"
	"github.com/JhoanJoSw/correo-alumnos-unmsm/internal/workflow"
)

const (
	shutdownTimeout = 30 * time.Second
	sessionSweep    = time.Minute
)

func runServe(cmd *cobra.Command, args []string) error {

	// ------------------------------------------------
	// Config + Logger
	// ------------------------------------------------
	cfg, creds, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jan := janitor.New(cfg.UploadDir, cfg.UploadRetention, logger)

	// ------------------------------------------------
	// Session store
	// ------------------------------------------------
	sessions, closeSessions, err := newSessionStore(ctx, cfg, jan, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	// ------------------------------------------------
	// Dispatch engine
	// ------------------------------------------------
	engine := &dispatch.Engine{
		Dialer: &email.SMTPDialer{
			Timeout:     cfg.SMTPDialTimeout,
			SendTimeout: cfg.SMTPSendTimeout,
			Retries:     cfg.SMTPConnectRetries,
			Log:         logger,
		},
		Pacer: dispatch.NewPacer(cfg.SendDelay),
		Log:   logger,
	}

	controller := &workflow.Controller{
		Sessions:         sessions,
		Credentials:      creds,
		Signature:        &signature.Loader{Path: cfg.SignaturePath, Log: logger},
		Dispatcher:       engine,
		UploadDir:        cfg.UploadDir,
		FilterIncomplete: cfg.FilterIncompleteRow,
		Log:              logger,
	}

	// ------------------------------------------------
	// Database (optional)
	// ------------------------------------------------
	if cfg.DatabaseURL != "" {
		store, err := openHistory(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer store.Close()
		controller.History = store
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	registry := prometheus.NewRegistry()
	metrics.Init(registry)
	if mem, ok := sessions.(*session.Memory); ok {
		registry.MustRegister(metrics.StoredSessions(mem.Len))
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metricsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Workflow:       controller,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		Log:            logger,
	}

	apiServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ------------------------------------------------
	// Run until shutdown
	// ------------------------------------------------
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("api server started", zap.String("port", cfg.Port))
		return listen(apiServer)
	})

	g.Go(func() error {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		return listen(metricsServer)
	})

	g.Go(func() error {
		return jan.Run(gctx, cfg.JanitorSchedule)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down services...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", zap.Error(err))
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("application shutdown complete")
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// newSessionStore uses Redis when REDIS_URL is set and the in-memory store
// otherwise. Expired in-memory sessions take their upload with them.
func newSessionStore(ctx context.Context, cfg *config.Config, jan *janitor.Janitor, logger *zap.Logger) (session.Store, func(), error) {

	if cfg.RedisURL != "" {
		store, err := session.NewRedisFromURL(ctx, cfg.RedisURL, cfg.SessionTTL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis session store", zap.Duration("ttl", cfg.SessionTTL))
		return store, func() { store.Close() }, nil
	}

	store := session.NewMemory(cfg.SessionTTL, sessionSweep)
	store.SetEvictCallback(func(id string, s *models.UploadSession) {
		logger.Debug("session expired", zap.String("session_id", id))
		jan.Remove(s.FilePath)
	})

	logger.Info("using in-memory session store", zap.Duration("ttl", cfg.SessionTTL))
	return store, func() { store.Close() }, nil
}

func openHistory(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*db.Store, error) {

	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx, logger); err != nil {
		store.Close()
		return nil, err
	}

	logger.Info("dispatch history enabled")
	return store, nil
}
