// Command basejwt-server starts the credential gRPC server.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/and161185/basejwt/internal/app"
	"github.com/and161185/basejwt/internal/config"
	"github.com/and161185/basejwt/internal/logger"
	"github.com/and161185/basejwt/internal/metrics"
	"github.com/and161185/basejwt/internal/migrate"
	grpcserver "github.com/and161185/basejwt/internal/server/grpc"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, runs migrations, and serves gRPC plus an HTTP
// endpoint for metrics and health.
func main() {
	cfgPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}

	log, closeLog, err := logger.New(cfg.Log)
	if err != nil {
		zap.NewExample().Fatal("logger", zap.Error(err))
	}
	defer func() {
		_ = log.Sync()
		_ = closeLog()
	}()
	log.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Server.Addr),
		zap.Bool("dev", cfg.Server.Dev),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Storage.Driver == "postgres" {
		if err := migrate.Up(ctx, cfg.Storage.DSN); err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
	}

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("build", zap.Error(err))
	}
	defer a.Close()

	var opts []grpc.ServerOption
	if !cfg.Server.Dev {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLSCert, cfg.Server.TLSKey)
		if err != nil {
			log.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	}

	svc := a.Services
	srv := grpcserver.New(svc.Auth, svc.Refresh, svc.Access, svc.Reset, grpcserver.Options{
		Log:              log,
		ExposeResetToken: cfg.Server.Dev,
	})
	gs := grpcserver.NewGRPCServer(srv, opts...)

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus(grpcserver.ServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Server.Dev {
		reflection.Register(gs)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.Registry))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	hsrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		log.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc listening", zap.String("addr", cfg.Server.Addr), zap.Bool("tls", !cfg.Server.Dev))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		log.Info("http listening", zap.String("addr", cfg.Server.MetricsAddr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = hsrv.Shutdown(shCtx)

		done := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shCtx.Done():
			gs.Stop()
		}
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("shutdown complete")
}
