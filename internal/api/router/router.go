package router

import (
	"github.com/wb-go/wbf/ginext"

	"github.com/haneulk/tarot-timer/internal/api/handlers/timer"
	"github.com/haneulk/tarot-timer/internal/middlewares"
)

func New(handler *timer.Handler) *ginext.Engine {
	e := ginext.New()
	e.Use(middlewares.CORSMiddleware())
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	e.GET("/health", handler.Health)

	api := e.Group("/api/timer")
	{
		api.POST("/:user_id/enroll", handler.Enroll)
		api.DELETE("/:user_id/enroll", handler.Unenroll)
		api.GET("/:user_id/status", handler.Status)
		api.GET("/:user_id/cards", handler.Cards)
		api.GET("/:user_id/cards/:hour", handler.CardAt)
		api.POST("/:user_id/reset", handler.Reset)
		api.POST("/:user_id/session", handler.SaveSession)
	}

	ops := e.Group("/api/queue")
	{
		ops.GET("/stats", handler.QueueStats)
		ops.GET("/failures", handler.QueueFailures)
	}

	return e
}
