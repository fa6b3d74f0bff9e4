package router

import (
	"github.com/gin-gonic/gin"

	"github.com/ignatzorin/escrow-backend/internal/config"
	"github.com/ignatzorin/escrow-backend/internal/http/handlers"
	"github.com/ignatzorin/escrow-backend/internal/http/middleware"
	"github.com/ignatzorin/escrow-backend/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	dealHandler *handlers.DealHandler,
	disputeHandler *handlers.DisputeHandler,
	reviewHandler *handlers.ReviewHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// Публичные маршруты: отзывы и рейтинги читаются без авторизации.
	api.GET("/users/:id/reviews", middleware.UUIDValidator("id"), reviewHandler.ListUserReviews)
	api.GET("/users/:id/rating", middleware.UUIDValidator("id"), reviewHandler.GetUserRating)

	// Защищённые маршруты.
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(tokenManager))
	{
		// Денежные команды ограничены по частоте.
		moneyRateLimit := middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod)

		protected.POST("/deals", moneyRateLimit, dealHandler.Create)
		protected.GET("/deals", dealHandler.List)
		protected.GET("/deals/:id", middleware.UUIDValidator("id"), dealHandler.Get)
		protected.GET("/deals/:id/transactions", middleware.UUIDValidator("id"), dealHandler.Transactions)
		protected.GET("/deals/:id/attachments", middleware.UUIDValidator("id"), dealHandler.Attachments)
		protected.GET("/deals/:id/review", middleware.UUIDValidator("id"), reviewHandler.GetDealReview)

		protected.PATCH("/deals/:id/price", middleware.UUIDValidator("id"), dealHandler.UpdatePrice)
		protected.POST("/deals/:id/pay", middleware.UUIDValidator("id"), moneyRateLimit, dealHandler.Pay)
		protected.POST("/deals/:id/deliver", middleware.UUIDValidator("id"), dealHandler.Deliver)
		protected.POST("/deals/:id/revision", middleware.UUIDValidator("id"), dealHandler.RequestRevision)
		protected.POST("/deals/:id/complete", middleware.UUIDValidator("id"), dealHandler.Complete)
		protected.POST("/deals/:id/cancel", middleware.UUIDValidator("id"), dealHandler.Cancel)

		protected.POST("/deals/:id/dispute", middleware.UUIDValidator("id"), disputeHandler.Open)
		protected.POST("/deals/:id/dispute/refund", middleware.UUIDValidator("id"), disputeHandler.Refund)
		protected.POST("/deals/:id/dispute/defend", middleware.UUIDValidator("id"), disputeHandler.Defend)

		protected.GET("/chat-rooms/:id/deals", middleware.UUIDValidator("id"), dealHandler.ListByChatRoom)

		// Арбитраж.
		admin := protected.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.GET("/disputes", disputeHandler.PendingDisputes)
			admin.POST("/deals/:id/dispute/resolve", middleware.UUIDValidator("id"), disputeHandler.AdminResolve)
		}
	}

	return r
}
