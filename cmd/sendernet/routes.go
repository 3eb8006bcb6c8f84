package main

import (
	"github.com/gin-gonic/gin"

	"github.com/vinugawade/sender.net/internal/handlers"
	"github.com/vinugawade/sender.net/pkg/logging"
	"github.com/vinugawade/sender.net/pkg/middleware"
)

type routeDeps struct {
	settings      *handlers.SettingsHandler
	subscribe     *handlers.SubscribeHandler
	block         *handlers.BlockHandler
	adminUser     string
	adminPassword string
	logger        logging.Logger
}

func registerRoutes(app *gin.Engine, deps routeDeps) {
	app.GET(handlers.SubscribePath, deps.subscribe.Show)
	app.POST(handlers.SubscribePath, deps.subscribe.Submit)
	app.GET(handlers.BlockPath, deps.block.Handle)

	api := app.Group("/api")
	api.Use(middleware.CORSMiddleware())
	api.POST("/subscribe", deps.subscribe.HandleJSON)
	api.OPTIONS("/subscribe", func(c *gin.Context) {})

	if deps.adminPassword == "" {
		deps.logger.Warn("ADMIN_PASSWORD not set; settings pages are disabled")
		return
	}

	auth := middleware.AdminAuthMiddleware(deps.adminUser, deps.adminPassword)
	sameOrigin := middleware.SameOriginMiddleware()

	admin := app.Group(handlers.SettingsPath, auth, sameOrigin)
	admin.GET("", deps.settings.Show)
	admin.POST("", deps.settings.Submit)
	admin.GET("/groups", deps.settings.Groups)

	settingsAPI := app.Group("/api/settings", auth, sameOrigin)
	settingsAPI.GET("", deps.settings.GetJSON)
	settingsAPI.PUT("", deps.settings.PutJSON)
}
