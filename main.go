package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"eoty/internal/config"
	"eoty/internal/moderation"
	"eoty/internal/repository"
	"eoty/internal/server"
	"eoty/internal/session"
	"eoty/internal/streamclient"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	accessLog := logrus.New()
	accessLog.SetFormatter(&logrus.JSONFormatter{})

	cfgPath := "configs/config.yml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Fatal("JWT secret is not configured")
	}

	db, err := repository.NewPostgresDB(cfg.Database.URL, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	repository.MigrateDB(db, logger)

	postRepo := repository.NewPostRepository(db, logger)
	reportRepo := repository.NewReportRepository(db, logger)
	actionRepo := repository.NewActionRepository(db, logger)
	anomalyRepo := repository.NewAnomalyRepository(db, logger)
	notificationRepo := repository.NewNotificationRepository(db, logger)
	auditRepo := repository.NewAuditRepository(db, logger)
	lessonRepo := repository.NewLessonRepository(db, logger)
	annotationRepo := repository.NewAnnotationRepository(db, logger)
	progressRepo := repository.NewProgressRepository(db, logger)

	moderationSvc := moderation.NewService(db, postRepo, reportRepo, actionRepo,
		anomalyRepo, notificationRepo, auditRepo, moderation.Config{
			FlagThreshold:       cfg.Moderation.FlagThreshold,
			DedupWindow:         cfg.Moderation.DedupWindow,
			ReportRateLimit:     cfg.Moderation.ReportRateLimit,
			ReportRateWindow:    cfg.Moderation.ReportRateWindow,
			BurstThreshold:      cfg.Moderation.BurstThreshold,
			BurstWindow:         cfg.Moderation.BurstWindow,
			RapidActionLimit:    cfg.Moderation.RapidActionLimit,
			RapidActionWindow:   cfg.Moderation.RapidActionWindow,
			RepeatOffenderLimit: cfg.Moderation.RepeatOffenderLimit,
		}, logger)

	provider := streamclient.NewClient(cfg.StreamProvider.URL, cfg.StreamProvider.Timeout, logger)
	engine := session.NewEngine(session.Config{
		FlushInterval:   cfg.Session.FlushInterval,
		BufferRetention: cfg.Session.BufferRetention,
		MaxSessions:     cfg.Session.MaxSessions,
	}, lessonRepo, annotationRepo, postRepo, progressRepo, provider, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	sweeper := moderation.NewSweeper(moderationSvc, cfg.Moderation.SweepInterval, logger)
	go sweeper.Run(ctx)

	srv := server.NewServer(db, cfg, moderationSvc, engine, logger, accessLog)
	go srv.Run(cfg.Server.Port)

	<-ctx.Done()
	logger.Info("Application stopped.")
}
