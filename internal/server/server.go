package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"eoty/internal/config"
	"eoty/internal/handler"
	"eoty/internal/lessons"
	"eoty/internal/middleware"
	"eoty/internal/moderation"
	"eoty/internal/repository"
	"eoty/internal/service"
	"eoty/internal/session"
)

type Server struct {
	router *gin.Engine
	db     *sqlx.DB
	log    *logrus.Logger
}

// NewServer wires repositories, services and handlers onto the router.
// The moderation service and session engine are built by main and shared
// with the background workers.
func NewServer(db *sqlx.DB, cfg *config.Config, moderationSvc *moderation.Service,
	engine *session.Engine, zlog *zap.Logger, log *logrus.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.AccessLog(log))
	router.Use(middleware.StoreTimeout(cfg.Database.Timeout))

	s := &Server{
		router: router,
		db:     db,
		log:    log,
	}
	s.setupRoutes(cfg, moderationSvc, engine, zlog)
	return s
}

func (s *Server) setupRoutes(cfg *config.Config, moderationSvc *moderation.Service,
	engine *session.Engine, zlog *zap.Logger) {
	userRepo := repository.NewUserRepository(s.db, zlog)
	lessonRepo := repository.NewLessonRepository(s.db, zlog)
	annotationRepo := repository.NewAnnotationRepository(s.db, zlog)
	postRepo := repository.NewPostRepository(s.db, zlog)
	progressRepo := repository.NewProgressRepository(s.db, zlog)

	authService := service.NewAuthService(userRepo, []byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL, zlog)
	lessonService := lessons.NewService(lessonRepo, annotationRepo, postRepo, progressRepo, zlog)

	authHandler := handler.NewAuthHandler(authService, s.log)
	lessonHandler := handler.NewLessonHandler(lessonService, s.log)
	sessionHandler := handler.NewSessionHandler(engine, s.log)
	moderationHandler := handler.NewModerationHandler(moderationSvc, s.log)

	s.router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	authGroup := s.router.Group("/api/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	api := s.router.Group("/api")
	api.Use(middleware.Auth(authService, zlog))
	{
		api.GET("/lessons/:id", lessonHandler.GetLesson)
		api.GET("/lessons/:id/annotations", lessonHandler.ListAnnotations)
		api.POST("/lessons/:id/annotations", lessonHandler.CreateAnnotation)
		api.GET("/lessons/:id/discussions", lessonHandler.ListDiscussions)
		api.POST("/lessons/:id/discussions", lessonHandler.PostDiscussion)
		api.POST("/lessons/:id/progress", lessonHandler.ReportProgress)

		api.POST("/lessons/:id/session/open", sessionHandler.Open)
		api.POST("/lessons/:id/session/heartbeat", sessionHandler.Heartbeat)
		api.POST("/lessons/:id/session/seek", sessionHandler.Seek)
		api.POST("/lessons/:id/session/complete", sessionHandler.Complete)
		api.POST("/lessons/:id/session/close", sessionHandler.Close)

		api.POST("/discussions/:id/report", moderationHandler.ReportPost)
		api.POST("/forum/posts/:id/report", moderationHandler.ReportPost)
	}

	admin := s.router.Group("/api/admin")
	admin.Use(middleware.Auth(authService, zlog), middleware.RequireModerator())
	{
		admin.GET("/forum/reports", moderationHandler.ListReports)
		admin.POST("/forum/reports/:id/moderate", moderationHandler.Moderate)
		admin.POST("/forum/reports/:id/assign", moderationHandler.AssignReport)
		admin.POST("/forum/posts/:id/ban", moderationHandler.BanPost)
		admin.POST("/forum/posts/:id/unban", moderationHandler.UnbanPost)
		admin.GET("/anomalies", moderationHandler.ListAnomalies)
		admin.POST("/anomalies/:id/dismiss", moderationHandler.DismissAnomaly)
	}
}

func (s *Server) Run(addr string) {
	s.log.Infof("Server starting on %s...", addr)
	if err := s.router.Run(addr); err != nil {
		s.log.Fatalf("Server failed to start: %v", err)
	}
}
