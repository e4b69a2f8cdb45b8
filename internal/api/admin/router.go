package admin

import (
	"github.com/ZJUSCT/CSLearn/internal/api"
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewAdminRouter creates and configures the admin Gin engine.
func NewAdminRouter(cfg *config.Config, engine *submission.Engine, submitter Submitter) *gin.Engine {
	r := gin.Default()

	r.Use(api.CORSMiddleware(cfg.CORS))

	h := NewHandler(cfg, engine, submitter)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// Management
		v1.POST("/reload", h.reload)
		v1.POST("/updates/sweep", h.sweep)
		v1.POST("/tokens", h.issueToken)

		// Re-evaluation
		v1.POST("/exercises/:id/resubmit", h.resubmitExercise)

		// Analytics
		v1.GET("/courses/:id/insights", h.getInsights)
	}

	return r
}
