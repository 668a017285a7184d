package router

import (
	"context"
	"time"

	"tablepos/internal/config"
	"tablepos/internal/handler"
	"tablepos/internal/infra"
	"tablepos/internal/middleware"
	"tablepos/internal/repository"
	"tablepos/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB
// Background tasks started here stop when ctx is done.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client, notifierCB *infra.CircuitBreaker) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	limiter.StartPurge(10*time.Minute, ctx.Done())

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())
	r.Use(limiter.Middleware())

	// ── Repositories ─────────────────────────────────────────────────────────
	tx := repository.NewTransactor(db)
	billingRepo := repository.NewBillingRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	retry := service.RetryPolicy{Attempts: cfg.ReadRetryAttempts, Base: cfg.ReadRetryBase()}
	aggregator := service.NewOrderAggregator(orderRepo)
	billingSvc := service.NewBillingService(tx, billingRepo, sessionRepo, paymentRepo, aggregator, retry)
	mover := service.NewSessionMover(tx, sessionRepo, billingRepo)
	ledger := service.NewPaymentLedger(tx, billingRepo, sessionRepo, paymentRepo, outboxRepo, billingSvc, retry)

	// ── Handlers ─────────────────────────────────────────────────────────────
	billingH := handler.NewBillingHandler(billingSvc, mover)
	paymentH := handler.NewPaymentHandler(ledger)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb, notifierCB))

	v1 := r.Group("/v1", middleware.JWTAuth(cfg.JWTSecret), middleware.Timeout(cfg.RequestTimeout()))
	{
		billings := v1.Group("/billings")
		{
			billings.POST("", billingH.CreateBilling)
			billings.GET("/:id", billingH.GetBilling)
			billings.GET("/:id/receipt", billingH.Receipt)
			billings.POST("/:id/move", billingH.MoveSession)
			billings.POST("/:id/close", middleware.RequireRole(middleware.RoleCashier, middleware.RoleManager), billingH.CloseBilling)
		}

		v1.GET("/tables/:label/session", billingH.GetTableSession)

		payments := v1.Group("/payments")
		{
			payments.POST("", middleware.RequireRole(middleware.RoleCashier, middleware.RoleManager), paymentH.RegisterPayment)
			payments.GET("/:billingId", paymentH.ListPayments)
			payments.GET("/:billingId/ledger", paymentH.GetLedger)
			payments.GET("/:billingId/logs", middleware.RequireRole(middleware.RoleManager), paymentH.ListLogs)
			payments.POST("/:billingId/discounts", middleware.RequireRole(middleware.RoleCashier, middleware.RoleManager), paymentH.ApplyDiscount)
		}
	}

	// Swagger UI, only outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
