package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"healthcb/backend/internal/api/handler"
	"healthcb/backend/internal/chathub"
	"healthcb/backend/internal/config"
	"healthcb/backend/internal/logger"
	"healthcb/backend/internal/models"
	"healthcb/backend/internal/observability"
	"healthcb/backend/internal/storage"
)

func setupDependencies(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, nil, errors.Wrap(err, "connect postgres")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, nil, errors.Wrap(err, "connect redis")
	}

	err = db.AutoMigrate(
		&models.ConsultationRoom{},
		&models.Identity{},
		&models.Conversation{},
		&models.Participant{},
		&models.Message{},
	)
	if err != nil {
		return nil, nil, errors.Wrap(err, "run migrations")
	}

	log.Info("database and redis connections established, migrations complete")
	return db, rdb, nil
}

// requestLogger logs one line per request.
func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	db, rdb, err := setupDependencies(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	s := storage.NewStorageService(db, rdb, log)
	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace, prometheus.DefaultRegisterer)

	hub := chathub.NewManagerService(s, log, metrics)
	go hub.Run()

	if cfg.Log.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	h := handler.NewHandler(hub, s, handler.NewTokenIssuer(cfg.Auth), log, metrics, cfg.Server)
	h.Register(r)

	server := &http.Server{
		Addr:           cfg.Server.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}
	log := logger.New(cfg.Log)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting healthcb conversation backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}
