package main

import (
	"database/sql"
	"fmt"

	"github.com/huangang/taskhub/backend/internal/config"
	"github.com/huangang/taskhub/backend/internal/handlers"
	"github.com/huangang/taskhub/backend/internal/middleware"
	"github.com/huangang/taskhub/backend/internal/models"
	"github.com/huangang/taskhub/backend/internal/services"
	"github.com/huangang/taskhub/backend/internal/utils"
	"github.com/huangang/taskhub/backend/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	sqlDB     *sql.DB
	catalog   *services.RoleCatalog
	registry  *prometheus.Registry
	taskQueue services.TaskQueue
	worker    *services.Worker
	logCron   *cron.Cron
	limiter   *middleware.RateLimiter

	authHandler      *handlers.AuthHandler
	projectHandler   *handlers.ProjectHandler
	memberHandler    *handlers.ProjectMemberHandler
	shareLinkHandler *handlers.ShareLinkHandler
	roleHandler      *handlers.RoleHandler
	systemLogHandler *handlers.SystemLogHandler
	healthHandler    *handlers.HealthHandler
}

// bootstrap initializes all application dependencies: database, role
// catalog, event queue, schedulers and handlers.
func bootstrap(cfg *config.Config) (*appServices, error) {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database); err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	db := models.GetDB()
	if err := models.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := models.SeedRoles(db); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	// The catalog is read once here and never reloaded.
	catalog, err := services.LoadRoleCatalog(db)
	if err != nil {
		return nil, fmt.Errorf("load role catalog: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(sqlDB, cfg.Database.Driver),
	)
	metrics := services.NewMetrics(registry)

	policy := services.NewAuthorizationPolicy(db, catalog)
	systemLogService := services.NewSystemLogService(db, policy)

	// Events go through Redis when enabled, otherwise straight to the audit log.
	taskQueue := services.NewTaskQueue(&cfg.Redis, systemLogService.RecordEvent)
	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, systemLogService.RecordEvent)
		if worker != nil {
			if err := worker.Start(); err != nil {
				return nil, fmt.Errorf("start worker: %w", err)
			}
		}
	}

	logCron, err := services.StartLogCleanupScheduler(systemLogService, &cfg.Log)
	if err != nil {
		return nil, err
	}

	notifier := services.NewNotifier(taskQueue, metrics, nil)
	userService := services.NewUserService(db)
	linkService := services.NewShareLinkService(db, catalog, notifier,
		services.WithSingleActiveLink(cfg.ShareLink.SingleActive),
	)

	logger.Info().
		Int("roles", len(catalog.List())).
		Bool("async_queue", taskQueue.IsAsync()).
		Bool("single_active_link", cfg.ShareLink.SingleActive).
		Msg("Services initialized")

	return &appServices{
		sqlDB:     sqlDB,
		catalog:   catalog,
		registry:  registry,
		taskQueue: taskQueue,
		worker:    worker,
		logCron:   logCron,
		limiter:   middleware.NewRateLimiterFromConfig(&cfg.RateLimit),

		authHandler:      handlers.NewAuthHandler(services.NewAuthService(db, &cfg.JWT), userService),
		projectHandler:   handlers.NewProjectHandler(services.NewProjectService(db, catalog, notifier)),
		memberHandler:    handlers.NewProjectMemberHandler(services.NewMembershipService(db, catalog, notifier)),
		shareLinkHandler: handlers.NewShareLinkHandler(linkService, cfg.ShareLink.DefaultExpiresIn),
		roleHandler:      handlers.NewRoleHandler(catalog),
		systemLogHandler: handlers.NewSystemLogHandler(systemLogService),
		healthHandler:    handlers.NewHealthHandler(sqlDB, taskQueue),
	}, nil
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	if s.logCron != nil {
		<-s.logCron.Stop().Done()
	}
	s.limiter.Stop()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
	if err := s.sqlDB.Close(); err != nil {
		logger.Warn().Err(err).Msg("Failed to close database")
	}
}
