package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"transit-tracker/internal/app"
	"transit-tracker/internal/auth"
	"transit-tracker/internal/config"
	"transit-tracker/internal/events"
	natspub "transit-tracker/internal/events/nats"
	"transit-tracker/internal/logger"
	"transit-tracker/internal/repo/postgres"
	"transit-tracker/internal/service"
	"transit-tracker/internal/telemetry"
	"transit-tracker/internal/transport/grpcapi"
	"transit-tracker/internal/transport/httpapi"
	"transit-tracker/internal/transport/thriftapi"
)

func main() {
	configDir := flag.String("config", ".", "directory holding an optional .env file")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := logger.Init(cfg.Environment, cfg.LogLevel, logger.FileOptions{
		Path:       cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}); err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer logger.Sync()
	lg := logger.Named("server").With(logger.Hostname())

	if err := run(cfg, lg); err != nil {
		lg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, lg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	pool, err := app.OpenPostgres(ctx, cfg.Database, logger.Named("migrate"))
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgres.NewStore(pool)
	svc := service.New(store, app.SessionLimits(cfg.Session), logger.Named("service"))
	authenticator := auth.New(cfg.Auth.JWTSecret, cfg.Auth.JWTTTL)

	ingestion, err := app.NewIngestion(ctx, cfg.Ingest, svc, logger.Named("ingest"))
	if err != nil {
		return err
	}
	defer ingestion.Close()
	coord := ingestion.Coordinator

	var publisher events.Publisher = events.NoopPublisher{}
	if cfg.Outbox.Enabled {
		natsPublisher, err := natspub.New(cfg.Outbox.NATSURL, cfg.Outbox.NATSSubject)
		if err != nil {
			return err
		}
		publisher = natsPublisher
		defer publisher.Close()
	}

	httpServer := &http.Server{
		Addr:              cfg.Servers.HTTPAddr,
		Handler:           httpapi.NewServer(svc, coord, authenticator, logger.Named("http"), httpapi.WithHealthCheck(store)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer := grpcapi.NewServer(svc, coord, authenticator, logger.Named("grpc"))
	grpcListener, err := net.Listen("tcp", cfg.Servers.GRPCAddr)
	if err != nil {
		return err
	}

	thriftServer, err := thriftapi.NewServer(cfg.Servers.ThriftAddr, svc, coord, authenticator, logger.Named("thrift"))
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("http listening", zap.String("addr", cfg.Servers.HTTPAddr))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("grpc listening", zap.String("addr", cfg.Servers.GRPCAddr))
		err := grpcServer.Serve(grpcListener)
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		lg.Info("thrift listening", zap.String("addr", cfg.Servers.ThriftAddr))
		return thriftServer.Serve()
	})

	if cfg.Outbox.Enabled {
		worker := &events.OutboxWorker{
			Repo:         store,
			Publisher:    publisher,
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
			Logger:       logger.Named("outbox"),
		}
		g.Go(func() error {
			err := worker.Start(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		})
	}

	if cfg.Ingest.Enabled {
		g.Go(func() error {
			return ingestion.RunEvery(ctx, cfg.Ingest.Interval, cfg.Ingest.LocationUpdateCooldown, logger.Named("ingest"))
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		_ = thriftServer.Stop()
		lg.Info("servers stopped")
		return nil
	})

	return g.Wait()
}
