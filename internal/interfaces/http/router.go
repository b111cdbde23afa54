// Package http wires the gin engine: middleware, health check, the OAuth
// callback, the slash-command entrypoint and the admin API.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"liaison/internal/interfaces/http/handlers"
	"liaison/internal/interfaces/http/middleware"
	"liaison/internal/shared/logger"
)

// RouterDeps carries the handlers and middleware the router mounts.
type RouterDeps struct {
	OAuth    *handlers.OAuthHandler
	Commands *handlers.CommandHandler
	Admin    *handlers.AdminHandler
	AuthMW   *middleware.AuthMiddleware
	Logger   logger.Interface
}

// Router owns the configured gin engine.
type Router struct {
	engine *gin.Engine
}

// NewRouter builds the engine with recovery and request logging and
// mounts every route.
func NewRouter(deps RouterDeps) *Router {
	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger(deps.Logger))

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	engine.GET("/oauth/callback", deps.OAuth.Callback)
	engine.POST("/slack/commands", deps.Commands.Handle)

	admin := engine.Group("/api/admin", deps.AuthMW.RequireAdmin())
	admin.POST("/credentials/reset", deps.Admin.ResetCredentials)

	return &Router{engine: engine}
}

// Engine exposes the underlying gin engine for the HTTP server.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
