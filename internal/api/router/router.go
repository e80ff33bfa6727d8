package router

import (
	"net/http"

	"github.com/cuongbtq/docflow/internal/api/handler"
	"github.com/cuongbtq/docflow/internal/metrics"
	"github.com/gin-gonic/gin"
)

const serviceName = "docflow-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.DB))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	jobHandler := handler.NewJobHandler(deps)
	documentHandler := handler.NewDocumentHandler(deps)
	runHandler := handler.NewAIRunHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/status", jobHandler.GetJobStatus)
		}

		project := v1.Group("/projects/:project_id")
		{
			project.POST("/documents", documentHandler.UploadDocument)
			project.GET("/documents", documentHandler.ListDocuments)
			project.GET("/documents/:document_id", documentHandler.GetDocument)
			project.POST("/documents/:document_id/versions", documentHandler.AddVersion)
			project.GET("/documents/:document_id/versions", documentHandler.ListVersions)

			project.POST("/ai/runs", runHandler.CreateRun)
			project.GET("/ai/runs", runHandler.ListRuns)
			project.GET("/ai/runs/:run_id", runHandler.GetRun)

			project.GET("/jobs", jobHandler.ListJobs)
		}
	}

	return r
}

// healthHandler reports unhealthy when the database fails its health check
func healthHandler(db handler.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			if err := db.HealthCheck(c.Request.Context()); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": serviceName,
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	}
}
