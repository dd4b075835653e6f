package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/course-platform-api/api/swagger"
	"github.com/noah-isme/course-platform-api/internal/handler"
	"github.com/noah-isme/course-platform-api/internal/middleware"
	"github.com/noah-isme/course-platform-api/internal/models"
	"github.com/noah-isme/course-platform-api/internal/repository"
	"github.com/noah-isme/course-platform-api/internal/service"
	"github.com/noah-isme/course-platform-api/pkg/cache"
	"github.com/noah-isme/course-platform-api/pkg/config"
	"github.com/noah-isme/course-platform-api/pkg/database"
	"github.com/noah-isme/course-platform-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/course-platform-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-platform-api/pkg/middleware/requestid"
)

// @title Course Platform API
// @version 0.1.0
// @description Training-course platform backend
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck
	sugar := logr.Sugar()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		sugar.Fatalw("failed to connect to database", "error", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	validate := validator.New()

	courseRepo := repository.NewCourseRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	userRepo := repository.NewUserRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)

	metricsSvc := service.NewMetricsService()

	var courseSvc *service.CourseService
	if cfg.Catalog.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			sugar.Warnw("redis unavailable, catalog cache disabled", "error", err)
			courseSvc = service.NewCourseService(courseRepo, nil, 0, validate, logr)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			defer cacheRepo.Close() //nolint:errcheck
			courseSvc = service.NewCourseService(courseRepo, cacheRepo, cfg.Catalog.CacheTTL, validate, logr)
		}
	} else {
		courseSvc = service.NewCourseService(courseRepo, nil, 0, validate, logr)
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})

	notificationSvc := service.NewNotificationService(notificationRepo, cfg.Notifications, metricsSvc, logr)
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()

	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, notificationSvc, metricsSvc, validate, logr)

	reconcilerSvc := service.NewReconcilerService(courseRepo, metricsSvc, cfg.Reconciler.Interval, logr)
	if cfg.Reconciler.Enabled {
		reconcilerSvc.Start(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	courseHandler := handler.NewCourseHandler(courseSvc, reconcilerSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	r.POST("/auth/login", authHandler.Login)

	authed := r.Group("/", middleware.JWT(authSvc))

	courses := authed.Group("/courses")
	courses.GET("", courseHandler.List)
	courses.GET("/:id", courseHandler.Get)
	courses.POST("", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), courseHandler.Create)
	courses.POST("/:id/transition", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), courseHandler.Transition)

	enrollments := authed.Group("/enrollments")
	enrollments.POST("", enrollmentHandler.Enroll)
	enrollments.GET("", enrollmentHandler.List)
	enrollments.POST("/:id/approve", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), enrollmentHandler.Approve)
	enrollments.POST("/:id/reject", middleware.RequireRoles(models.RoleAdmin, models.RoleInstructor), enrollmentHandler.Reject)
	enrollments.DELETE("/:id", enrollmentHandler.Cancel)

	authed.GET("/notifications", notificationHandler.List)

	admin := authed.Group("/admin", middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/reconcile", courseHandler.Reconcile)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	sugar.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Errorw("graceful shutdown failed", "error", err)
	}
}
