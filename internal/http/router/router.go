package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"

	"github.com/ignatzorin/booking-core/internal/config"
	"github.com/ignatzorin/booking-core/internal/http/handlers"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
)

func SetupRouter(
	cfg *config.Config,
	limiterStore limiter.Store,
	healthHandler *handlers.HealthHandler,
	bookingHandler *handlers.BookingHandler,
	disputeHandler *handlers.DisputeHandler,
	pricingHandler *handlers.PricingHandler,
	fraudHandler *handlers.FraudHandler,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.MetricsMiddleware())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	// Публичный расчёт стоимости
	api.POST("/pricing/quote", middleware.RateLimitMiddleware(limiterStore, cfg.RateLimitLimit, cfg.RateLimitPeriod), pricingHandler.Quote)

	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	protected.Use(middleware.RateLimitMiddleware(limiterStore, cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		// Бронирования
		protected.POST("/bookings", middleware.RequireRole(middleware.RoleCustomer), bookingHandler.Place)
		protected.POST("/bookings/request", middleware.RequireRole(middleware.RoleCustomer), bookingHandler.Request)
		protected.GET("/bookings", bookingHandler.List)
		protected.GET("/bookings/:id", middleware.UUIDValidator("id"), bookingHandler.Get)
		protected.GET("/bookings/:id/ledger", middleware.UUIDValidator("id"), bookingHandler.Ledger)
		protected.POST("/bookings/:id/authorize", middleware.UUIDValidator("id"), bookingHandler.Authorize)
		protected.POST("/bookings/:id/hold-funds", middleware.UUIDValidator("id"), bookingHandler.HoldFunds)
		protected.POST("/bookings/:id/start", middleware.UUIDValidator("id"), bookingHandler.Start)
		protected.POST("/bookings/:id/complete", middleware.UUIDValidator("id"), bookingHandler.Complete)
		protected.POST("/bookings/:id/cancel", middleware.UUIDValidator("id"), bookingHandler.Cancel)
		protected.GET("/providers/me/balance", middleware.RequireRole(middleware.RoleProvider), bookingHandler.Balance)

		// Споры
		protected.POST("/bookings/:id/disputes", middleware.UUIDValidator("id"), disputeHandler.Open)
		protected.GET("/disputes", disputeHandler.List)
		protected.GET("/disputes/:id", middleware.UUIDValidator("id"), disputeHandler.Get)
	}

	admin := api.Group("/admin")
	admin.Use(middleware.AuthMiddleware(cfg.JWTSecret), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/bookings/:id/release", middleware.UUIDValidator("id"), bookingHandler.Release)
		admin.POST("/disputes/:id/investigate", middleware.UUIDValidator("id"), disputeHandler.Investigate)
		admin.POST("/disputes/:id/escalate", middleware.UUIDValidator("id"), disputeHandler.Escalate)
		admin.POST("/disputes/:id/resolve", middleware.UUIDValidator("id"), disputeHandler.Resolve)
		admin.GET("/customers/:id/fraud-assessments", middleware.UUIDValidator("id"), fraudHandler.History)
	}

	return r
}
