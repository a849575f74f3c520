package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/orbita/neurolink/internal/api/handlers/notification"
	"github.com/orbita/neurolink/internal/middlewares"
)

func New(handler *notification.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	api := e.Group("/api")
	{
		notifications := api.Group("/notifications")
		{
			notifications.POST("", handler.Create)
			notifications.GET("/:id", handler.Get)
			notifications.GET("/:id/status", handler.GetStatus)
			notifications.POST("/:id/read", handler.MarkRead)
			notifications.POST("/:id/feedback", handler.Feedback)
			notifications.DELETE("/:id", handler.Dismiss)
		}

		users := api.Group("/users")
		{
			users.GET("/:id/notifications", handler.List)
			users.GET("/:id/settings", handler.GetSettings)
			users.PUT("/:id/settings", handler.UpdateSettings)
		}

		api.POST("/events/task", handler.TaskEvent)

		admin := api.Group("/admin")
		{
			admin.GET("/weights", handler.Weights)
			admin.PUT("/weights", handler.UpdateWeights)
			admin.GET("/stats", handler.Stats)
		}
	}

	return e
}
