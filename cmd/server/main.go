package main

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/portfolio/internal/config"
	"github.com/portfolio/internal/db"
	"github.com/portfolio/internal/handler"
	"github.com/portfolio/internal/logger"
	"github.com/portfolio/internal/router"
	"github.com/portfolio/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	logger.Init(cfg.Log)
	gin.SetMode(cfg.Server.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.Database); err != nil {
		logrus.Fatalf("failed to initialize database: %v", err)
	}
	if _, created, err := db.EnsureOwner(db.DB, cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		if !errors.Is(err, db.ErrOwnerCredentialsMissing) {
			logrus.Fatalf("failed to ensure super root user: %v", err)
		}
	} else if created {
		logrus.WithField("username", cfg.SuperRootUserName).Info("super root user created")
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			logrus.WithError(err).Warn("redis unreachable, continuing with local cache and no view lock")
			rdb.Close()
			rdb = nil
		}
		cancel()
	}

	users := service.NewUserService(db.DB).WithCache(service.NewOwnerCache(rdb), 0)
	analytics := service.NewAnalyticsService(db.DB, users).
		WithDedupWindow(cfg.Analytics.DedupWindow).
		WithQueryTimeout(cfg.Analytics.QueryTimeout).
		WithTopN(cfg.Analytics.TopN).
		WithLocation(cfg.Analytics.Location())
	if rdb != nil {
		analytics.WithLocker(service.NewRedisViewLocker(redislock.New(rdb), cfg.Analytics.LockTTL))
	}

	api := handler.NewAPI(analytics, users)
	r := router.SetupRouter(api, router.Options{
		SessionSecret: cfg.Server.SessionSecret,
		CORSOrigins:   cfg.Server.CORSOrigins,
	})

	logrus.WithFields(logrus.Fields{
		"addr":         cfg.Server.ListenAddr,
		"driver":       cfg.Database.Driver,
		"dedup_window": cfg.Analytics.DedupWindow.String(),
		"redis":        rdb != nil,
	}).Info("server starting")
	if err := r.Run(cfg.Server.ListenAddr); err != nil {
		logrus.Fatalf("failed to run server: %v", err)
	}
}
