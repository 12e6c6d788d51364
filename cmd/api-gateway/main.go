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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/sma-tuition-api/api/swagger"
	"github.com/noah-isme/sma-tuition-api/internal/handler"
	"github.com/noah-isme/sma-tuition-api/internal/middleware"
	"github.com/noah-isme/sma-tuition-api/internal/models"
	"github.com/noah-isme/sma-tuition-api/internal/repository"
	"github.com/noah-isme/sma-tuition-api/internal/service"
	"github.com/noah-isme/sma-tuition-api/pkg/cache"
	"github.com/noah-isme/sma-tuition-api/pkg/config"
	"github.com/noah-isme/sma-tuition-api/pkg/database"
	"github.com/noah-isme/sma-tuition-api/pkg/jobs"
	"github.com/noah-isme/sma-tuition-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-tuition-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-tuition-api/pkg/middleware/requestid"
	"github.com/noah-isme/sma-tuition-api/pkg/receipt"
)

// @title SMA Tuition API
// @version 1.0.0
// @description Tuition ledger, payment requests and transfer reconciliation
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const receiptTimezone = "Asia/Jakarta"

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logr); err != nil {
		logr.Fatal("server stopped with error", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, falling back to postgres stores", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	app := buildApp(cfg, db, redisClient, logr)

	queue := jobs.NewQueue[models.TransferEvent]("transfers", app.intake.Handle, jobs.QueueConfig{
		Workers:    cfg.Transfers.Workers,
		MaxRetries: cfg.Transfers.Retries,
		Logger:     logr,
	})
	queue.OnDrop(app.intake.Dropped)
	app.intake.Attach(queue)
	queue.Start(ctx)
	defer queue.Stop()

	if cfg.Scheduler.Enabled {
		scheduler, err := app.scheduler(cfg.Scheduler, logr)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router(cfg, db, logr),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Sugar().Infow("server starting", "addr", server.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type application struct {
	metrics         *service.MetricsService
	auth            *service.AuthService
	rateLimits      *service.RateLimitService
	payments        *service.PaymentService
	paymentRequests *service.PaymentRequestService
	scholarships    *service.ScholarshipService
	discounts       *service.DiscountService
	intake          *service.TransferIntakeService
	housekeeping    *service.HousekeepingService
	audit           *repository.AuditRepository
	rateLimitOn     bool
}

func buildApp(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) *application {
	validate := validator.New()
	metrics := service.NewMetricsService()

	uow := repository.NewUnitOfWork(db)
	tuitionRepo := repository.NewTuitionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	requestRepo := repository.NewPaymentRequestRepository(db)
	bankRepo := repository.NewBankAccountRepository(db)
	classRepo := repository.NewClassRepository(db)
	scholarshipRepo := repository.NewScholarshipRepository(db)
	discountRepo := repository.NewDiscountRepository(db)
	userRepo := repository.NewUserRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)

	var revocations interface {
		Revoke(ctx context.Context, jti string, ttl time.Duration) error
		IsRevoked(ctx context.Context, jti string) (bool, error)
		PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	} = repository.NewTokenRevocationRepository(db)
	if redisClient != nil {
		revocations = repository.NewRedisTokenRevocationRepository(redisClient)
	}

	var rateLimitStore interface {
		IncrementWindow(ctx context.Context, identifier, action string, window time.Duration, now time.Time) (*models.RateLimitRecord, error)
		ResetWindow(ctx context.Context, identifier, action string) error
		Housekeep(ctx context.Context, now, purgeBefore time.Time) (int64, error)
	} = repository.NewRateLimitRepository(db)
	if cfg.RateLimit.Backend == config.RateLimitBackendRedis && redisClient != nil {
		rateLimitStore = repository.NewRedisRateLimitRepository(redisClient)
	}

	authSvc := service.NewAuthService(userRepo, auditRepo, revocations, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	rateLimitSvc := service.NewRateLimitService(rateLimitStore, metrics, logr)
	idempotencySvc := service.NewIdempotencyService(idempotencyRepo, service.IdempotencyConfig{
		TTL:    cfg.Idempotency.TTL,
		Bucket: cfg.Idempotency.Bucket,
	}, metrics, logr)
	allocator := service.NewUniqueAmountService(requestRepo, service.UniqueAmountConfig{
		MaxCode:  cfg.Payments.UniqueCodeMax,
		Attempts: cfg.Payments.UniqueCodeAttempts,
	}, metrics, logr)

	paymentSvc := service.NewPaymentService(uow, tuitionRepo, paymentRepo, validate, metrics, logr)

	cacheSvc := service.NewCacheService(nil, metrics, cfg.Redis.CacheTTL, logr)
	if redisClient != nil {
		cacheSvc = service.NewCacheService(repository.NewCacheRepository(redisClient), metrics, cfg.Redis.CacheTTL, logr)
	}

	location, err := time.LoadLocation(receiptTimezone)
	if err != nil {
		logr.Warn("receipt timezone unavailable, using UTC", zap.String("timezone", receiptTimezone), zap.Error(err))
		location = nil
	}

	paymentRequestSvc := service.NewPaymentRequestService(service.PaymentRequestDeps{
		UnitOfWork:  uow,
		Requests:    requestRepo,
		Banks:       bankRepo,
		Students:    classRepo,
		Ledger:      paymentSvc,
		Allocator:   allocator,
		Idempotency: idempotencySvc,
		Receipts:    receipt.NewRenderer(location),
		Cache:       cacheSvc,
		Validator:   validate,
		Metrics:     metrics,
		Logger:      logr,
	}, service.PaymentRequestConfig{
		RequestTTL:    cfg.Payments.RequestTTL,
		DisplayTTL:    cfg.Payments.DisplayTTL,
		TransferGrace: cfg.Payments.TransferGrace,
		CreateRetries: cfg.Payments.CreateRetries,
		SystemActor:   cfg.Payments.SystemActor,
		SchoolName:    cfg.Receipt.SchoolName,
	})

	return &application{
		metrics:         metrics,
		auth:            authSvc,
		rateLimits:      rateLimitSvc,
		payments:        paymentSvc,
		paymentRequests: paymentRequestSvc,
		scholarships:    service.NewScholarshipService(uow, classRepo, scholarshipRepo, paymentSvc, validate, logr),
		discounts:       service.NewDiscountService(uow, discountRepo, classRepo, validate, logr),
		intake:          service.NewTransferIntakeService(paymentRequestSvc, logr),
		housekeeping:    service.NewHousekeepingService(rateLimitSvc, idempotencySvc, authSvc, logr),
		audit:           auditRepo,
		rateLimitOn:     cfg.RateLimit.Enabled,
	}
}

func (a *application) scheduler(cfg config.SchedulerConfig, logr *zap.Logger) (*service.Scheduler, error) {
	scheduler := service.NewScheduler(cfg.JobTimeout, logr)

	expire := func(ctx context.Context) error {
		_, err := a.paymentRequests.ExpireStale(ctx)
		return err
	}
	syncScholarships := func(ctx context.Context) error {
		_, err := a.scholarships.SyncScholarships(ctx)
		return err
	}

	if err := scheduler.Register("payment_request_expiry", cfg.ExpireSweepCron, expire); err != nil {
		return nil, err
	}
	if err := scheduler.Register("scholarship_sync", cfg.ScholarshipSyncCron, syncScholarships); err != nil {
		return nil, err
	}
	if err := scheduler.Register("housekeeping", cfg.HousekeepingCron, a.housekeeping.Run); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func (a *application) router(cfg *config.Config, db *sqlx.DB, logr *zap.Logger) *gin.Engine {
	var limiter middleware.RateLimiter
	if a.rateLimitOn {
		limiter = a.rateLimits
	}

	authHandler := handler.NewAuthHandler(a.auth)
	paymentHandler := handler.NewPaymentHandler(a.payments)
	requestHandler := handler.NewPaymentRequestHandler(a.paymentRequests)
	scholarshipHandler := handler.NewScholarshipHandler(a.scholarships)
	discountHandler := handler.NewDiscountHandler(a.discounts)
	rateLimitHandler := handler.NewRateLimitHandler(a.rateLimits)
	transferHandler := handler.NewTransferHandler(a.intake)
	metricsHandler := handler.NewMetricsHandler(a.metrics)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(a.metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", middleware.RateLimit(limiter, models.RateLimitLogin, middleware.ByClientIP, logr), authHandler.Login)

	integrations := api.Group("/integrations",
		middleware.SharedSecret(cfg.Transfers.SharedSecret),
		middleware.RateLimit(limiter, models.RateLimitTransferIntake, middleware.ByClientIP, logr),
	)
	integrations.POST("/transfers", transferHandler.Submit)

	secured := api.Group("", middleware.JWT(a.auth))
	secured.POST("/auth/logout", authHandler.Logout)
	secured.GET("/auth/me", authHandler.Me)
	secured.POST("/auth/change-password", middleware.RateLimit(limiter, models.RateLimitChangePassword, middleware.ByUser, logr), authHandler.ChangePassword)

	student := secured.Group("/student", middleware.Students())
	student.GET("/tuitions", paymentHandler.StudentTuitions)
	student.GET("/bank-accounts", requestHandler.BankAccounts)
	student.POST("/payment-requests", middleware.RateLimit(limiter, models.RateLimitPaymentRequest, middleware.ByUser, logr), requestHandler.Create)
	student.GET("/payment-requests", requestHandler.List)
	student.GET("/payment-requests/active", requestHandler.Active)
	student.GET("/payment-requests/:id", requestHandler.Get)
	student.POST("/payment-requests/:id/cancel", middleware.RateLimit(limiter, models.RateLimitCancelPayment, middleware.ByUser, logr), requestHandler.Cancel)
	student.GET("/payment-requests/:id/receipt", requestHandler.Receipt)

	staff := secured.Group("", middleware.Staff())
	staff.GET("/tuitions", paymentHandler.ListTuitions)
	staff.GET("/tuitions/:id", paymentHandler.GetTuition)
	staff.GET("/tuitions/:id/payments", paymentHandler.ListPayments)
	staff.POST("/payments", paymentHandler.Process)
	staff.DELETE("/payments/:id", paymentHandler.Reverse)
	staff.GET("/payment-requests/:id", requestHandler.StaffGet)
	staff.GET("/payment-requests/:id/receipt", requestHandler.StaffReceipt)
	staff.POST("/payment-requests/verify", requestHandler.Verify)
	staff.GET("/students/:studentId/scholarships", scholarshipHandler.ListByStudent)

	admin := secured.Group("", middleware.Admins())
	admin.POST("/payment-requests/expire", requestHandler.ExpireStale)
	admin.POST("/scholarships", scholarshipHandler.Create)
	admin.POST("/scholarships/sync", scholarshipHandler.Sync)
	admin.POST("/discounts", discountHandler.Create)
	admin.GET("/discounts/:id", discountHandler.Get)
	admin.POST("/discounts/:id/apply", discountHandler.Apply)
	admin.GET("/rate-limits", rateLimitHandler.Rules)
	admin.POST("/rate-limits/reset", middleware.Audit(a.audit, models.AuditActionRateLimitReset, "rate_limit", logr), rateLimitHandler.Reset)
	admin.GET("/metrics/summary", metricsHandler.Snapshot)

	return r
}
