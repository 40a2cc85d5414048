package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fekuna/vetvax-order-service/config"
	"github.com/fekuna/vetvax-order-service/internal/allocation"
	"github.com/fekuna/vetvax-order-service/internal/migrations"
	"github.com/fekuna/vetvax-order-service/internal/server"
	"github.com/fekuna/vetvax-order-service/pkg/broker"
	"github.com/fekuna/vetvax-order-service/pkg/cache"
	"github.com/fekuna/vetvax-order-service/pkg/database/postgres"
	"github.com/fekuna/vetvax-order-service/pkg/logger"

	batchH "github.com/fekuna/vetvax-order-service/internal/batch/handler"
	batchRepoPkg "github.com/fekuna/vetvax-order-service/internal/batch/repository"
	batchUCPkg "github.com/fekuna/vetvax-order-service/internal/batch/usecase"

	invH "github.com/fekuna/vetvax-order-service/internal/inventory/handler"
	invListenerPkg "github.com/fekuna/vetvax-order-service/internal/inventory/listener"
	invRepoPkg "github.com/fekuna/vetvax-order-service/internal/inventory/repository"
	invUCPkg "github.com/fekuna/vetvax-order-service/internal/inventory/usecase"

	orderH "github.com/fekuna/vetvax-order-service/internal/order/handler"
	orderRepoPkg "github.com/fekuna/vetvax-order-service/internal/order/repository"
	orderUCPkg "github.com/fekuna/vetvax-order-service/internal/order/usecase"

	prodH "github.com/fekuna/vetvax-order-service/internal/product/handler"
	prodRepoPkg "github.com/fekuna/vetvax-order-service/internal/product/repository"
	prodUCPkg "github.com/fekuna/vetvax-order-service/internal/product/usecase"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	// 1. Load Configuration
	_ = godotenv.Load()
	cfg := config.LoadEnv()

	// 2. Initialize Logger
	logConfig := &logger.ZapLoggerConfig{
		IsDevelopment:     false,
		Encoding:          cfg.Logger.Encoding,
		Level:             cfg.Logger.Level,
		DisableCaller:     cfg.Logger.DisableCaller,
		DisableStacktrace: cfg.Logger.DisableStacktrace,
	}
	if cfg.Server.AppEnv == "development" {
		logConfig.IsDevelopment = true
		logConfig.Encoding = "console"
		logConfig.Level = "debug"
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	appLogger := logger.NewZapLogger(logConfig)
	defer appLogger.Sync()

	// 3. Connect to Database
	db, err := postgres.NewPostgres(&postgres.Config{
		Host:            cfg.Postgres.Host,
		Port:            cfg.Postgres.Port,
		User:            cfg.Postgres.User,
		Password:        cfg.Postgres.Password,
		DBName:          cfg.Postgres.DBName,
		SSLMode:         cfg.Postgres.SSLMode,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Postgres.ConnMaxLifetime) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.Postgres.ConnMaxIdleTime) * time.Second,
	})
	if err != nil {
		appLogger.Fatal("Could not connect to database", zap.Error(err))
	}
	defer db.Close()
	appLogger.Info("Connected to PostgreSQL database", zap.String("db_name", cfg.Postgres.DBName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := migrations.Run(ctx, db); err != nil {
		appLogger.Fatal("Could not migrate database", zap.Error(err))
	}

	// 4. Initialize Repositories
	txManager := postgres.NewTxManager(db)
	prodRepo := prodRepoPkg.NewPGRepository(db)
	batchRepo := batchRepoPkg.NewPGRepository(db)
	orderRepo := orderRepoPkg.NewPGRepository(db)
	invRepo := invRepoPkg.NewPGRepository(db)

	// 5. Initialize Redis. The service runs without a cache when Redis is down.
	var (
		productCache prodUCPkg.Cache
		dedupe       invListenerPkg.Deduplicator
	)
	redisClient, err := cache.NewRedisClient(&cache.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		appLogger.Warn("Could not connect to Redis, caching disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		productCache = redisClient
		dedupe = redisClient
		appLogger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	// 6. Initialize Kafka
	orderEvents := broker.NewProducer(&broker.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.OrderEventsTopic,
	})
	defer orderEvents.Close()

	stockConsumer := broker.NewConsumer(&broker.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.StockTopic,
		GroupID: cfg.Kafka.GroupID,
	})
	defer stockConsumer.Close()
	appLogger.Info("Kafka configured",
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("order_events_topic", cfg.Kafka.OrderEventsTopic),
		zap.String("stock_topic", cfg.Kafka.StockTopic),
	)

	// 7. Initialize UseCases
	prodUC := prodUCPkg.NewProductUseCase(prodRepo, batchRepo, productCache, cfg.Redis.CacheTTL, appLogger)
	batchUC := batchUCPkg.NewBatchUseCase(batchRepo, invRepo, prodUC, txManager, batchUCPkg.Config{
		LowStockThreshold: cfg.Inventory.LowStockThreshold,
		ExpiryWindow:      time.Duration(cfg.Inventory.ExpiryWindowDays) * 24 * time.Hour,
	}, appLogger)
	invUC := invUCPkg.NewInventoryUseCase(invRepo, appLogger)
	engine := allocation.NewEngine(orderRepo, batchRepo, prodRepo, invRepo, prodUC, txManager, appLogger)
	orderUC := orderUCPkg.NewOrderUseCase(orderRepo, prodRepo, engine, prodUC, orderEvents, txManager, appLogger)

	// 8. Start Listener
	stockListener := invListenerPkg.NewStockListener(stockConsumer, dedupe, batchUC, appLogger)
	go stockListener.Start(ctx)

	// 9. Initialize Handlers
	router := server.NewRouter(appLogger,
		orderH.NewOrderHandler(orderUC, appLogger),
		batchH.NewBatchHandler(batchUC, appLogger),
		prodH.NewProductHandler(prodUC, appLogger),
		invH.NewInventoryHandler(invUC, appLogger),
	)

	httpServer := &http.Server{
		Addr:              normalizePort(cfg.Server.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("Starting HTTP server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("failed to serve http", zap.Error(err))
		}
	}()

	// 10. Start gRPC health server
	grpcPort := normalizePort(cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcPort)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	grpcServer, healthServer := server.NewHealthServer()
	go func() {
		appLogger.Info("Starting gRPC health server", zap.String("port", grpcPort))
		if err := grpcServer.Serve(lis); err != nil {
			appLogger.Fatal("failed to serve grpc", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	grpcServer.GracefulStop()
	appLogger.Info("Server stopped")
}

func normalizePort(port string) string {
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
