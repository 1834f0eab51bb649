package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/rl1809/apparatus-check/internal/adapter/access"
	"github.com/rl1809/apparatus-check/internal/adapter/handler"
	"github.com/rl1809/apparatus-check/internal/adapter/notify"
	"github.com/rl1809/apparatus-check/internal/adapter/storage"
	"github.com/rl1809/apparatus-check/internal/config"
	"github.com/rl1809/apparatus-check/internal/core/service"
	"github.com/rl1809/apparatus-check/internal/logger"
	"github.com/rl1809/apparatus-check/internal/port"
)

// checkStore is what the server needs from a storage backend.
type checkStore interface {
	port.CheckStore
	port.DisplayNameResolver
	access.MembershipSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		zap.NewExample().Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store checkStore
	var db *sql.DB
	switch cfg.StoreDriver {
	case config.StoreMySQL:
		db, err = sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			log.Fatal("failed to connect mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping mysql", zap.Error(err))
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
			log.Fatal("failed to apply schema", zap.Error(err))
		}
		store = mysqlAdapter
		log.Info("connected to mysql")
	case config.StoreMemory:
		store = storage.NewMemoryStore()
		log.Warn("using in-memory store, data is lost on exit")
	}

	var names port.DisplayNameResolver = store
	opts := []service.Option{}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect redis", zap.Error(err))
		}
		redisAdapter := storage.NewRedisAdapter(rdb, cfg.Redis.VerificationMarkTTL)
		names = storage.NewCachedDirectory(store, redisAdapter, log)
		opts = append(opts, service.WithVerificationGuard(redisAdapter))
		log.Info("connected to redis")
	}

	hub := notify.NewHub(log)
	dispatcher := notify.NewDispatcher(hub, cfg.Notify.QueueSize, cfg.Notify.Workers, log)
	opts = append(opts, service.WithNotifier(dispatcher))
	log.Info("started notification workers", zap.Int("workers", cfg.Notify.Workers))

	workflow, err := service.NewCheckWorkflowService(store, access.NewStationGatekeeper(store), names, log, opts...)
	if err != nil {
		log.Fatal("failed to build workflow service", zap.Error(err))
	}

	// gRPC
	grpcServer := grpc.NewServer(handler.ServerCodec())
	handler.RegisterCheckWorkflowServer(grpcServer, handler.NewGRPCHandler(workflow))

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		log.Fatal("failed to listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		log.Info("gRPC server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server error", zap.Error(err))
		}
	}()

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	handler.NewHTTPHandler(workflow, hub, log).Register(e)

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := e.Start(cfg.Server.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	dispatcher.Close()
	log.Info("notification workers stopped")

	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Info("connections closed")
}
