package routes

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"investsim_backend/controllers"
	"investsim_backend/middleware"
	"investsim_backend/services/marketdata"
	"investsim_backend/services/realtime"
	"investsim_backend/services/securities"
)

// SetupRoutes registers all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, store *marketdata.Store, updater *marketdata.BulkUpdater, stats *marketdata.StatsService, resolver *securities.Resolver, hub *realtime.Hub) {
	mdController := controllers.NewMarketDataController(store, updater, stats, resolver)
	authController := controllers.NewAuthController(db)

	api := router.Group("/api")
	{
		md := api.Group("/market-data")
		{
			md.GET("/stats", mdController.GetStats)
			md.GET("/:symbol/latest", mdController.GetLatest)
			md.GET("/:symbol", mdController.GetByDate)
			md.POST("/:symbol/refresh", mdController.RefreshSymbol)
		}

		api.POST("/admin/login", middleware.LoginRateLimitMiddleware(), authController.Login)

		admin := api.Group("/admin")
		admin.Use(middleware.JWTAuthMiddleware(), middleware.AdminRoleMiddleware())
		{
			admin.POST("/sync/prices", mdController.BulkRefresh)
			admin.POST("/sync/historical", mdController.HistoricalBackfill)
		}
	}

	// WebSocket price stream
	router.GET("/ws/prices", func(c *gin.Context) {
		hub.HandleWebSocket(c.Writer, c.Request)
	})
}
