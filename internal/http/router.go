// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tgtaxi/internal/http/handlers"
	"tgtaxi/internal/http/middleware"
	"tgtaxi/internal/metrics"
)

func NewRouter(d ServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), metrics.Gin(), middleware.Logging(d.Log))
	if d.Throttle != nil {
		r.Use(d.Throttle.Handler())
	}

	r.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	authHandler := handlers.NewAuthHandler(d.Users, d.Issuer, d.BotToken, d.InitDataMaxAge)
	r.POST("/auth/telegram", authHandler.Telegram)

	api := r.Group("/api", middleware.Auth(d.Verifier, d.InternalToken))

	userHandler := handlers.NewUserHandler(d.Users, d.Codes)
	api.POST("/users", userHandler.Create)
	api.POST("/users/register-driver", userHandler.RegisterDriver)
	api.GET("/users/:id", userHandler.Get)
	api.PATCH("/users/:id", userHandler.Update)

	orderHandler := handlers.NewOrderHandler(d.Orders, d.Ratings, d.Guard)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/active", orderHandler.Active)
	api.GET("/orders/available", orderHandler.Available)
	api.GET("/orders/:id", orderHandler.Get)
	api.PATCH("/orders/:id", orderHandler.Edit)
	api.GET("/orders/:id/events", orderHandler.Events)
	api.POST("/orders/:id/accept", orderHandler.Accept)
	api.POST("/orders/:id/bid", orderHandler.Bid)
	api.POST("/orders/:id/respond", orderHandler.Respond)
	api.POST("/orders/:id/arrive", orderHandler.Arrive)
	api.POST("/orders/:id/release", orderHandler.Release)
	api.POST("/orders/:id/complete", orderHandler.Complete)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)
	api.POST("/orders/:id/rate", orderHandler.Rate)
	api.GET("/clients/:id/orders", orderHandler.ByClient)
	api.GET("/drivers/:id/orders", orderHandler.ByDriver)

	driverHandler := handlers.NewDriverHandler(d.Ratings)
	api.GET("/drivers/:id/stats", driverHandler.Stats)
	api.GET("/drivers/:id/ratings", driverHandler.Ratings)

	chatHandler := handlers.NewChatHandler(d.Chat, d.Orders)
	api.GET("/chat/:orderId", chatHandler.List)
	api.POST("/chat", chatHandler.Post)

	admin := api.Group("/admin", middleware.RequireRole("admin"))
	adminHandler := handlers.NewAdminHandler(d.Users, d.Codes, d.Ratings, d.Broadcaster)
	admin.GET("/drivers", adminHandler.Drivers)
	admin.POST("/generate-code", adminHandler.GenerateCode)
	admin.GET("/codes", adminHandler.Codes)
	admin.POST("/drivers/:id/block", adminHandler.Block)
	admin.POST("/drivers/:id/warning", adminHandler.Warning)
	admin.POST("/drivers/:id/bonus", adminHandler.Bonus)
	admin.POST("/users/:id/role", adminHandler.SetRole)
	admin.GET("/stats", adminHandler.Stats)
	admin.POST("/broadcast", adminHandler.Broadcast)

	return r
}
