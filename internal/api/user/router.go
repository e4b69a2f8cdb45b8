package user

import (
	"github.com/ZJUSCT/CSLearn/internal/api"
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/ranking"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/gin-gonic/gin"
)

// NewUserRouter creates and configures the user-facing Gin engine.
func NewUserRouter(cfg *config.Config, engine *submission.Engine, submitter Submitter, ranker *ranking.Ranker) *gin.Engine {
	r := gin.Default()

	r.Use(api.CORSMiddleware(cfg.CORS))

	h := NewHandler(cfg, engine, submitter, ranker)

	v1 := r.Group("/api/v1")
	{
		// Websocket, authenticated with the token query parameter
		v1.GET("/ws/submissions/:id", h.handleSubmissionWs)

		// Public rankings
		courses := v1.Group("/courses")
		{
			courses.GET("/:id/ranking", h.getRanking)
			courses.GET("/:id/levels/:level/progress", h.getLevelProgress)
		}

		authed := v1.Group("/")
		authed.Use(api.AuthMiddleware(cfg.Auth.JWT.Secret))
		{
			authed.POST("/courses/:id/join", h.joinCourse)
			authed.POST("/exercises/:id/submit", h.submitToExercise)
			authed.GET("/submissions/:id", h.getSubmission)
		}
	}

	return r
}
