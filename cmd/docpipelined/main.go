package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/docstatus"
	"github.com/aodunsi/docpipeline/internal/export"
	"github.com/aodunsi/docpipeline/internal/ingest"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
	"github.com/aodunsi/docpipeline/internal/pipeline"
	"github.com/aodunsi/docpipeline/internal/repository"
	"github.com/aodunsi/docpipeline/internal/retry"
	"github.com/aodunsi/docpipeline/internal/server"
	"github.com/aodunsi/docpipeline/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Primary store: Postgres via pgx.
	db, pool, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.Database.DSN,
		MaxConns:         cfg.Database.MaxConns,
		MinConns:         cfg.Database.MinConns,
		MaxConnLifetime:  cfg.Database.MaxConnLifetime,
		MaxConnIdleTime:  cfg.Database.MaxConnIdleTime,
		DialTimeout:      cfg.Database.DialTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
	}, logger)
	if err != nil {
		logger.Error("opening database", "error", err)
		os.Exit(1)
	}
	defer repository.Close(db, pool, logger)
	if err := repository.HealthCheck(ctx, pool, 3*time.Second, logger); err != nil {
		logger.Error("database health check failed", "error", err)
		os.Exit(1)
	}
	primary := repository.NewPostgresStore(db, logger)

	// Fallback store: embedded SQLite, keeps status writes alive through a
	// Postgres outage.
	fallback, fdb, err := repository.OpenSQLite(ctx, cfg.Database.FallbackPath, logger)
	if err != nil {
		logger.Error("opening fallback store", "error", err)
		os.Exit(1)
	}
	defer func() { _ = fdb.Close() }()

	statusSvc := docstatus.NewService(primary, fallback, logger)

	// Queue and lease: Redis when reachable, in-process otherwise. The
	// failover wrapper keeps enqueue available either way.
	memQueue := jobqueue.NewMemoryQueue(logger)
	var queue jobqueue.Queue = memQueue
	var lease pipeline.Lease = pipeline.NewMemoryLease(cfg.Pipeline.LeaseTTL)

	rdb := r.NewClient(&r.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Warn("redis unreachable, using in-process queue and lease", "addr", cfg.Redis.Addr, "error", err)
	} else {
		queue = jobqueue.NewFailoverQueue(
			jobqueue.NewRedisQueue(rdb, cfg.Queue.JobTTL, logger),
			memQueue,
			logger,
		)
		lease = pipeline.NewRedisLease(rdb, cfg.Pipeline.LeaseTTL)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}
	defer func() { _ = rdb.Close() }()

	procs := pipeline.NewHTTPProcessors(pipeline.HTTPProcessorsConfig{
		PreprocessURL: cfg.Pipeline.PreprocessorURL,
		OCRURL:        cfg.Pipeline.OCRServiceURL,
		LLMURL:        cfg.Pipeline.LLMServiceURL,
		ValidationURL: cfg.Pipeline.JudgeServiceURL,
		RoutingURL:    cfg.Pipeline.RouterServiceURL,
		Timeout:       cfg.Pipeline.ProcessorTimeout,
	}, logger)

	orch := pipeline.NewOrchestrator(statusSvc, procs, lease, pipeline.OrchestratorConfig{
		Retry: retry.Config{
			MaxRetries:      cfg.Pipeline.StageMaxRetries,
			InitialDelay:    cfg.Pipeline.InitialDelay,
			MaxDelay:        cfg.Pipeline.MaxDelay,
			ExponentialBase: cfg.Pipeline.ExponentialBase,
			Logger:          logger,
		},
		Breaker: retry.BreakerConfig{
			FailureThreshold: cfg.Pipeline.FailureThreshold,
			RecoveryTimeout:  cfg.Pipeline.RecoveryTimeout,
			HalfOpenMaxCalls: cfg.Pipeline.HalfOpenMaxCalls,
		},
	}, logger)

	consumer := worker.NewConsumer(queue, orch, logger,
		worker.WithWorkers(cfg.Queue.Workers),
		worker.WithPollDelay(cfg.Queue.PollDelay),
	)
	consumer.Start(ctx)

	ingestSvc := ingest.NewService(statusSvc, queue, orch, cfg.Server.UploadDir, logger)
	exportSvc := export.NewService(statusSvc, logger)
	api := server.NewAPI(ingestSvc, statusSvc, exportSvc, queue, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	// gRPC health endpoint for orchestration probes.
	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("listen", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	go func() {
		logger.Info("grpc serving", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("grpc serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	grpcServer.GracefulStop()
	consumer.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
