package api

import (
	"ffscript/config"
	"ffscript/task"

	"github.com/gin-gonic/gin"
)

func SetupRouter(tm *task.Manager, engine EngineInfo, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), AccessLog())
	h := NewHandler(tm, engine, cfg)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.POST("/translate", h.handleTranslate)
		v1.GET("/templates", h.handleTemplates)

		v1.POST("/jobs", h.handleCreateJob)
		v1.GET("/jobs", h.handleListJobs)
		v1.GET("/jobs/:jobId", h.handleGetJob)
		v1.PATCH("/jobs/:jobId/cancel", h.handleCancelJob)
		v1.GET("/jobs/:jobId/result", h.handleGetResult)

		v1.GET("/engine", h.handleEngineStatus)
		v1.POST("/engine/load", h.handleLoadEngine)
	}
	return r
}
