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

	"github.com/fjod/go_cart/reservation-service/internal/catalog"
	"github.com/fjod/go_cart/reservation-service/internal/config"
	"github.com/fjod/go_cart/reservation-service/internal/engine"
	reservationhttp "github.com/fjod/go_cart/reservation-service/internal/http"
	"github.com/fjod/go_cart/reservation-service/internal/metrics"
	"github.com/fjod/go_cart/reservation-service/internal/repository"
	"github.com/fjod/go_cart/reservation-service/internal/tabsync"
	"github.com/fjod/go_cart/reservation-service/pkg/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// Initial stock levels for the in-memory catalog, matching the SQLite seed
var initialStock = map[int64]int{
	1: 100, // Margherita Pizza
	2: 500, // Pepperoni Pizza
	3: 300, // Caesar Salad
	4: 150, // Tiramisu
	5: 200, // Lemonade
}

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log := logger.NewLogger(cfg.ServiceName, cfg.LogLevel)
	defer log.Sync()
	zap.ReplaceGlobals(log)

	log.Info("Reservation service starting",
		zap.String("node_id", cfg.NodeID),
		zap.String("sync_transport", cfg.SyncTransport),
	)

	ctx := context.Background()

	cat, closeCatalog, err := buildCatalog(cfg, log)
	if err != nil {
		log.Fatal("Failed to set up catalog", zap.Error(err))
	}
	defer closeCatalog()

	transport, repo, closeRedis, err := buildSync(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to set up sync transport", zap.Error(err))
	}
	defer closeRedis()

	recorder := metrics.NewRecorder()
	eng := engine.New(engine.Config{
		NodeID:        cfg.NodeID,
		TTL:           cfg.ReservationTTL,
		Retention:     cfg.TerminalRetention,
		SweepInterval: cfg.SweepInterval,
	}, engine.Deps{
		Catalog:    cat,
		Transport:  transport,
		Repository: repo,
		Metrics:    recorder,
		Logger:     log,
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatal("Failed to start reservation engine", zap.Error(err))
	}

	// HTTP API
	handler := reservationhttp.NewReservationHandler(eng.Store(), eng.Stats(), cfg.TopProductsLimit, log.Named("http"))
	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler: reservationhttp.NewRouter(reservationhttp.RouterConfig{
			Handler:        handler,
			Metrics:        recorder.Handler(),
			NodeID:         eng.NodeID(),
			RequestTimeout: cfg.RequestTimeout,
			Logger:         log.Named("http"),
		}),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// gRPC health
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthServer.SetServingStatus(cfg.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}

	go func() {
		log.Info("Starting gRPC server", zap.String("address", grpcListener.Addr().String()))
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down reservation service...")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	if err := eng.Stop(); err != nil {
		log.Error("Reservation engine shutdown error", zap.Error(err))
	}

	log.Info("Reservation service stopped")
}

func buildCatalog(cfg *config.Config, log *zap.Logger) (catalog.Catalog, func(), error) {
	if cfg.CatalogDBPath == "" {
		log.Info("Using in-memory catalog", zap.Int("products", len(initialStock)))
		return catalog.NewMemoryCatalog(initialStock), func() {}, nil
	}

	cat, err := catalog.NewSQLiteCatalog(cfg.CatalogDBPath)
	if err != nil {
		return nil, nil, err
	}

	log.Info("Running catalog migrations...", zap.String("path", cfg.CatalogDBPath))
	if err := cat.RunMigrations(); err != nil {
		cat.Close()
		return nil, nil, err
	}

	return cat, func() {
		if err := cat.Close(); err != nil {
			log.Error("Failed to close catalog", zap.Error(err))
		}
	}, nil
}

// buildSync returns the transport for cfg.SyncTransport. Redis mode also shares
// snapshots through Redis; Kafka mode rebuilds state from the topic instead.
func buildSync(ctx context.Context, cfg *config.Config, log *zap.Logger) (tabsync.Transport, repository.SnapshotRepository, func(), error) {
	switch cfg.SyncTransport {
	case config.TransportRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("Redis ping succeeded", zap.String("addr", cfg.RedisAddr))

		transport, err := tabsync.NewRedisTransport(ctx, redisClient, cfg.RedisChannel, log.Named("redis"))
		if err != nil {
			redisClient.Close()
			return nil, nil, nil, err
		}
		keyTTL := cfg.ReservationTTL + cfg.TerminalRetention
		repo := repository.NewRedisRepository(redisClient, keyTTL, log.Named("repository"))
		return transport, repo, func() { redisClient.Close() }, nil

	case config.TransportKafka:
		transport := tabsync.NewKafkaTransport(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.NodeID, log.Named("kafka"))
		return transport, nil, func() {}, nil

	case config.TransportNone:
		// standalone node; the hub has no other members
		return tabsync.NewHub(0).Join(), nil, func() {}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown sync transport %q", cfg.SyncTransport)
	}
}
