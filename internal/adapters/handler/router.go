package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RouterDeps holds everything mounted on the HTTP server
type RouterDeps struct {
	Dashboard  *DashboardHandler
	Webhook    *WebhookHandler
	LogStream  http.HandlerFunc // optional /ws/logs
	AdminToken string
}

// NewRouter builds the gin engine with the standard middleware chain
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(Recovery(), RequestLogger())

	// Health check endpoint
	r.GET("/", func(c *gin.Context) {
		respondOK(c, gin.H{"service": "botflow", "status": "running"})
	})

	if deps.Webhook != nil {
		deps.Webhook.RegisterRoutes(r)
	}
	if deps.LogStream != nil {
		r.GET("/ws/logs", gin.WrapF(deps.LogStream))
	}

	api := r.Group("/api", AdminAuth(deps.AdminToken))
	if deps.Dashboard != nil {
		deps.Dashboard.RegisterRoutes(api)
	}

	r.NoRoute(func(c *gin.Context) {
		respondError(c, NotFoundResponse("Route not found"))
	})
	return r
}
