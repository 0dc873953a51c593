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
	"go.uber.org/zap"

	_ "github.com/lenteraid/transparency-api/api/swagger"
	"github.com/lenteraid/transparency-api/internal/handler"
	"github.com/lenteraid/transparency-api/internal/middleware"
	"github.com/lenteraid/transparency-api/internal/models"
	"github.com/lenteraid/transparency-api/internal/repository"
	"github.com/lenteraid/transparency-api/internal/service"
	"github.com/lenteraid/transparency-api/pkg/cache"
	"github.com/lenteraid/transparency-api/pkg/config"
	"github.com/lenteraid/transparency-api/pkg/database"
	"github.com/lenteraid/transparency-api/pkg/export"
	"github.com/lenteraid/transparency-api/pkg/jobs"
	"github.com/lenteraid/transparency-api/pkg/logger"
	corsmiddleware "github.com/lenteraid/transparency-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lenteraid/transparency-api/pkg/middleware/requestid"
	"github.com/lenteraid/transparency-api/pkg/storage"
)

// @title LenteraID Transparency API
// @version 1.0.0
// @description Public transparency and reporting backend for the foundation
// @BasePath /api/v1
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, cache disabled", "error", err)
		redisClient = nil
	}

	store, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	programRepo := repository.NewProgramRepository(db)
	donationRepo := repository.NewDonationRepository(db)
	expenseRepo := repository.NewExpenseRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	reportRepo := repository.NewReportJobRepository(db)
	summaryRepo := repository.NewSummaryRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// Services.
	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Cache.SummaryTTL, logr, cfg.Cache.Enabled && redisClient != nil)
	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "transparency-api",
	})
	userService := service.NewUserService(userRepo, validate, logr)
	programService := service.NewProgramService(programRepo, cacheService, logr)
	donationService := service.NewDonationService(donationRepo, cacheService, logr)
	expenseService := service.NewExpenseService(expenseRepo, cacheService, logr)
	projectService := service.NewProjectService(projectRepo, cacheService, logr)
	summaryService := service.NewSummaryService(summaryRepo, cacheService, cfg.Cache.SummaryTTL, logr)

	exportService := service.NewExportService(
		donationRepo, expenseRepo, programRepo,
		store, signer,
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.ResultTTL},
		logr,
		export.NewCSVExporter(), export.NewPDFExporter(),
	)

	worker := service.NewReportWorker(reportRepo, exportService, cfg.Reports.WorkerRetries, logr).WithMetrics(metricsService)

	queue, queueCloser, err := buildQueue(cfg, worker, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init report queue", "error", err)
	}
	defer queueCloser()

	reportService := service.NewReportService(reportRepo, queue, exportService, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.ResultTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService)
	programHandler := handler.NewProgramHandler(programService)
	donationHandler := handler.NewDonationHandler(donationService)
	expenseHandler := handler.NewExpenseHandler(expenseService)
	projectHandler := handler.NewProjectHandler(projectService)
	reportHandler := handler.NewReportHandler(reportService)
	publicHandler := handler.NewPublicHandler(programService, summaryService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Metrics.Enabled {
		r.Use(middleware.Metrics(metricsService))
	}

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Health)
	if cfg.Metrics.Enabled {
		r.GET("/metrics", metricsHandler.Prometheus)
	}
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), routeDeps{
		auth:      authHandler,
		users:     userHandler,
		programs:  programHandler,
		donations: donationHandler,
		expenses:  expenseHandler,
		projects:  projectHandler,
		reports:   reportHandler,
		public:    publicHandler,
		authSvc:   authService,
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Re-publish jobs stuck in pending from a previous run, then start the
	// expired-result reaper.
	reportService.RecoverPendingJobs(rootCtx)
	reportService.StartCleanup(rootCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "queue_driver", cfg.Reports.QueueDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-rootCtx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}

type routeDeps struct {
	auth      *handler.AuthHandler
	users     *handler.UserHandler
	programs  *handler.ProgramHandler
	donations *handler.DonationHandler
	expenses  *handler.ExpenseHandler
	projects  *handler.ProjectHandler
	reports   *handler.ReportHandler
	public    *handler.PublicHandler
	authSvc   *service.AuthService
}

func registerRoutes(api *gin.RouterGroup, deps routeDeps) {
	authRequired := middleware.JWT(deps.authSvc)
	adminOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)
	staffUp := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin, models.RoleStaff)

	auth := api.Group("/auth")
	{
		auth.POST("/login", deps.auth.Login)
		auth.POST("/refresh", deps.auth.Refresh)
		auth.POST("/logout", authRequired, deps.auth.Logout)
		auth.POST("/change-password", authRequired, deps.auth.ChangePassword)
		auth.GET("/me", authRequired, deps.auth.Me)
	}

	// Claims are optional on the public surface; staff get draft previews.
	public := api.Group("/public", middleware.OptionalJWT(deps.authSvc))
	{
		public.GET("/programs", deps.public.ListPrograms)
		public.GET("/programs/:id", deps.public.GetProgram)
		public.GET("/summary", deps.public.Summary)
	}

	users := api.Group("/users", authRequired)
	{
		users.GET("", adminOnly, deps.users.List)
		users.POST("", adminOnly, deps.users.Create)
		users.GET("/:id", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"), deps.users.Get)
		users.PUT("/:id", middleware.RBAC("SUPERADMIN", "ADMIN", "SELF"), deps.users.Update)
		users.DELETE("/:id", adminOnly, deps.users.Delete)
	}

	programs := api.Group("/programs", authRequired, staffUp)
	{
		programs.GET("", deps.programs.List)
		programs.POST("", deps.programs.Create)
		programs.GET("/:id", deps.programs.Get)
		programs.PUT("/:id", deps.programs.Update)
		programs.DELETE("/:id", deps.programs.Delete)
	}

	donations := api.Group("/donations", authRequired, staffUp)
	{
		donations.GET("", deps.donations.List)
		donations.POST("", deps.donations.Create)
		donations.GET("/:id", deps.donations.Get)
		donations.PUT("/:id", deps.donations.Update)
		donations.DELETE("/:id", deps.donations.Delete)
	}

	expenses := api.Group("/expenses", authRequired, staffUp)
	{
		expenses.GET("", deps.expenses.List)
		expenses.POST("", deps.expenses.Create)
		expenses.GET("/:id", deps.expenses.Get)
		expenses.PUT("/:id", deps.expenses.Update)
		expenses.DELETE("/:id", deps.expenses.Delete)
	}

	projects := api.Group("/projects", authRequired, staffUp)
	{
		projects.GET("", deps.projects.List)
		projects.POST("", deps.projects.Create)
		projects.GET("/:id", deps.projects.Get)
		projects.PUT("/:id", deps.projects.Update)
		projects.DELETE("/:id", deps.projects.Delete)
		projects.POST("/:id/media", deps.projects.AddMedia)
		projects.DELETE("/:id/media/:mediaId", deps.projects.DeleteMedia)
		projects.PUT("/:id/finance-report", deps.projects.SaveFinanceReport)
	}

	reports := api.Group("/reports")
	{
		// Download is token-authenticated, not session-authenticated.
		reports.GET("/download/:token", deps.reports.Download)

		reports.POST("", authRequired, staffUp, deps.reports.Create)
		reports.GET("", authRequired, staffUp, deps.reports.List)
		reports.GET("/:id", authRequired, staffUp, deps.reports.Get)
		reports.DELETE("/:id", authRequired, adminOnly, deps.reports.Delete)
		reports.POST("/:id/enqueue", authRequired, staffUp, deps.reports.Enqueue)
		reports.PATCH("/:id/status", authRequired, adminOnly, deps.reports.WorkerUpdate)
	}
}

// buildQueue wires the configured queue driver: an in-process worker pool for
// single-binary deployments, or an AMQP publisher when generation runs in the
// separate report-worker process.
func buildQueue(cfg *config.Config, worker *service.ReportWorker, logr *zap.Logger) (jobs.Publisher, func(), error) {
	switch cfg.Reports.QueueDriver {
	case "rabbitmq":
		publisher, err := jobs.NewAMQPPublisher(jobs.AMQPConfig{
			URL:        cfg.Reports.AMQPURL,
			Exchange:   cfg.Reports.AMQPExchange,
			RoutingKey: cfg.Reports.AMQPRoutingKey,
			Queue:      cfg.Reports.AMQPQueue,
		})
		if err != nil {
			return nil, nil, err
		}
		return publisher, func() { publisher.Close() }, nil //nolint:errcheck
	default:
		queue := jobs.NewQueue("reports", worker.Handle, jobs.QueueConfig{
			Workers:    cfg.Reports.WorkerConcurrency,
			MaxRetries: cfg.Reports.WorkerRetries,
			Logger:     logr,
		})
		queue.Start(context.Background())
		return queue, queue.Stop, nil
	}
}
