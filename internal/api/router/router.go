package router

import (
	"github.com/cuongbtq/speech-relay/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	sessionHandler := handler.NewSessionHandler(deps)

	r.GET("/health", sessionHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		sessions := v1.Group("/sessions")
		{
			// POST /api/v1/sessions - Upload audio and queue it
			sessions.POST("", sessionHandler.CreateSession)

			// GET /api/v1/sessions/:session_id - Poll session status
			sessions.GET("/:session_id", sessionHandler.GetSession)

			// GET /api/v1/sessions/:session_id/audio - Download synthesized audio
			sessions.GET("/:session_id/audio", sessionHandler.GetAudio)
		}

		// GET /api/v1/history - List archived sessions
		v1.GET("/history", sessionHandler.ListHistory)
	}

	// Routes kept for existing clients
	r.POST("/predict", sessionHandler.Predict)
	r.POST("/api/upload", sessionHandler.Upload)
	r.GET("/status/:session_id", sessionHandler.GetSession)
	r.GET("/tts_audio/:filename", sessionHandler.GetLegacyAudio)

	return r
}
