// Command medgate-server runs the MedGate authorization engine behind gRPC and REST.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	pb "github.com/and161185/medgate/api/medgate/v1"
	"github.com/and161185/medgate/internal/audit"
	"github.com/and161185/medgate/internal/auth"
	"github.com/and161185/medgate/internal/config"
	"github.com/and161185/medgate/internal/limiter"
	"github.com/and161185/medgate/internal/metrics"
	"github.com/and161185/medgate/internal/migrate"
	"github.com/and161185/medgate/internal/repository"
	"github.com/and161185/medgate/internal/repository/leveldb"
	"github.com/and161185/medgate/internal/repository/memory"
	"github.com/and161185/medgate/internal/repository/postgres"
	grpcserver "github.com/and161185/medgate/internal/server/grpc"
	"github.com/and161185/medgate/internal/server/rest"
	"github.com/and161185/medgate/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// openStore returns the configured store, a readiness probe and a closer.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (repository.Store, func() error, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		if cfg.Store.Migrate {
			if err := migrate.Up(ctx, cfg.Store.DSN); err != nil {
				return nil, nil, nil, err
			}
		}
		ver, err := migrate.Version(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("schema version: %w", err)
		}
		log.Info("schema", zap.Int64("version", ver))

		db, err := postgres.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, nil, err
		}
		ping := func() error {
			pctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.Ping(pctx)
		}
		return postgres.NewStore(db), ping, db.Close, nil

	case config.DriverLevelDB:
		st, err := leveldb.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		return st, nil, func() { _ = st.Close() }, nil

	default:
		log.Warn("using in-memory store; state is lost on restart")
		return memory.New(), nil, func() {}, nil
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPC.Addr),
		zap.String("http", cfg.HTTP.Addr),
		zap.String("store", cfg.Store.Driver),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	owner, _ := cfg.OwnerID()

	store, ready, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	eng := service.NewEngine(store, owner,
		service.WithLogger(logger.Named("engine")),
		service.WithMetrics(m),
	)

	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTKey))
	lim := limiter.New(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go lim.Run(ctx, time.Minute)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.MetricsUnary(m),
			grpcserver.AuthUnary(verifier, grpcserver.PublicMethods),
			grpcserver.RateLimitUnary(lim),
		),
	}
	if cfg.TLSEnabled() {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return fmt.Errorf("load TLS cert/key: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; serving plaintext gRPC")
	}
	s := grpc.NewServer(opts...)
	pb.RegisterMedGateServer(s, grpcserver.New(eng, logger.Named("grpc")))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 3)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPC.Addr), zap.Bool("tls", cfg.TLSEnabled()))
		errCh <- s.Serve(lis)
	}()

	var httpSrv *http.Server
	if cfg.HTTP.Addr != "" {
		gw := rest.New(eng, verifier,
			rest.WithLogger(logger.Named("http")),
			rest.WithLimiter(lim),
			rest.WithMetrics(m, reg),
			rest.WithReadiness(ready),
		)
		httpSrv = &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           gw.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
			var err error
			if cfg.TLSEnabled() {
				err = httpSrv.ListenAndServeTLS(cfg.TLS.Cert, cfg.TLS.Key)
			} else {
				err = httpSrv.ListenAndServe()
			}
			if !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if cfg.Redis.URL != "" {
		rc, err := audit.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer rc.Close()
		relay := audit.NewRelay(eng, audit.NewRedisStream(rc, cfg.Audit.Stream, cfg.Audit.MaxLen),
			audit.WithInterval(cfg.Audit.Interval),
			audit.WithBatch(cfg.Audit.Batch),
			audit.WithLogger(logger.Named("relay")),
			audit.WithMetrics(m),
		)
		go func() {
			if err := relay.Run(ctx); err != nil {
				errCh <- fmt.Errorf("audit relay: %w", err)
			}
		}()
	}

	hs.SetServingStatus(pb.ServiceName, healthpb.HealthCheckResponse_SERVING)

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	hs.Shutdown()

	// graceful shutdown
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(sctx)
		cancel()
	}
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Stop()
	}
	return serveErr
}
