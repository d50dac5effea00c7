package server

import (
	"time"

	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func InitiateRouter(
	secretKey string,
	corsOrigins []string,
	publishHandler httpHandler.IPublishHandler,
	webhookHandler httpHandler.IWebhookHandler,
	oauthHandler httpHandler.IOAuthHandler,
	healthHandler httpHandler.IHealthHandler,
	statusStream gin.HandlerFunc,
) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", healthHandler.Healthz)

	// Platform callbacks are authenticated by signature, not by user token.
	router.POST("/webhooks/:platform", webhookHandler.Receive)

	if oauthHandler != nil {
		router.GET("/auth/:platform", oauthHandler.GetAuthURL)
		router.GET("/auth/:platform/callback", oauthHandler.Callback)
	}

	api := router.Group("api")
	api.Use(middleware.Auth(secretKey))

	publish := api.Group("/publish")
	{
		publish.POST("/tasks", publishHandler.Create)
		publish.GET("/tasks/:id", publishHandler.Get)
		publish.DELETE("/tasks/:id", publishHandler.Delete)
		publish.POST("/tasks/:id/retry", publishHandler.Retry)
		publish.GET("/flows/:flowId", publishHandler.ListFlow)
		if statusStream != nil {
			publish.GET("/stream", statusStream)
		}
	}

	return router
}
