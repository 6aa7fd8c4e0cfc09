package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dropDatabas3/churchgate/internal/app"
	"github.com/dropDatabas3/churchgate/internal/config"
	httpx "github.com/dropDatabas3/churchgate/internal/http"
	"github.com/dropDatabas3/churchgate/internal/http/server"
	"github.com/dropDatabas3/churchgate/internal/observability/logger"
	"github.com/dropDatabas3/churchgate/internal/session"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("WARN: .env: %v", err)
	}

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "ruta al config.yaml (opcional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "churchgate-dashboard",
		Version:     version,
	})
	defer func() { _ = logger.Sync() }()
	lg := logger.L()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := app.Build(rootCtx, cfg, lg)
	if err != nil {
		lg.Fatal("build failed", logger.Err(err))
	}

	metricsCfg := httpx.MetricsConfig{}
	if c.DB != nil {
		metricsCfg.Pool = func() *pgxpool.Pool { return c.DB.Pool() }
	}
	metricsHandler, err := httpx.RegisterMetrics(metricsCfg)
	if err != nil {
		lg.Fatal("metrics", logger.Err(err))
	}

	counter := session.NewCounter()
	mgr := c.NewSession(func(clean string) {
		lg.Debug("auth redirect consumed", logger.String("url", clean))
	}, counter)
	mgr.Start(rootCtx, cfg.Server.PublicURL+"/")

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(server.Deps{
			Session:     mgr,
			Routes:      c.Routes,
			Policy:      c.Policy,
			PublicURL:   cfg.Server.PublicURL,
			Metrics:     metricsHandler,
			BaseContext: rootCtx,
			Logger:      lg,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		lg.Info("dashboard listening",
			zap.String("addr", cfg.Server.Addr),
			zap.String("public_url", cfg.Server.PublicURL),
			zap.Bool("postgres", c.DB != nil),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-rootCtx.Done():
		lg.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			lg.Error("server failed", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", logger.Err(err))
	}
	mgr.Stop()
	if err := c.Close(shutdownCtx); err != nil {
		lg.Warn("container close", logger.Err(err))
	}
	lg.Info("bye")
}
