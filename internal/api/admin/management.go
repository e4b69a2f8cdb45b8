package admin

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/auth"
	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/insights"
	"github.com/ZJUSCT/CSLearn/internal/updatequeue"
	"github.com/ZJUSCT/CSLearn/internal/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handler) reload(c *gin.Context) {
	zap.S().Info("starting reload process...")
	if err := h.engine.Catalog().Reload(); err != nil {
		util.Error(c, http.StatusInternalServerError, fmt.Errorf("failed to reload courses: %w", err))
		return
	}
	courses, exercises := h.engine.Catalog().Counts()
	zap.S().Infof("successfully loaded %d courses and %d exercises from disk", courses, exercises)

	util.Success(c, gin.H{
		"courses_loaded":   courses,
		"exercises_loaded": exercises,
	}, "Reload successful")
}

// sweep applies every due deferred update now instead of waiting for the next tick.
func (h *Handler) sweep(c *gin.Context) {
	applied, err := updatequeue.Sweep(c.Request.Context(), h.engine.DB(), time.Now(), h.cfg.Sweep.BatchSize)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, gin.H{"applied": applied}, "Sweep finished")
}

type tokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Name   string `json:"name"`
}

// issueToken signs a learner token. Identity is managed outside this service.
func (h *Handler) issueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}
	token, err := auth.GenerateJWT(req.UserID, req.Name, h.cfg.Auth.JWT.Secret, h.cfg.Auth.JWT.ExpireHours)
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, gin.H{"token": token}, "Token issued")
}

func (h *Handler) resubmitExercise(c *gin.Context) {
	exerciseID := c.Param("id")
	exercise, err := h.engine.Catalog().Exercise(exerciseID)
	if err != nil {
		util.Error(c, http.StatusNotFound, err)
		return
	}

	queued, err := h.engine.Resubmit(c.Request.Context(), exercise.CourseID, exercise.ID)
	if err != nil {
		if errors.Is(err, catalog.ErrExerciseNotFound) {
			util.Error(c, http.StatusNotFound, err)
			return
		}
		util.Error(c, http.StatusInternalServerError, fmt.Errorf("failed to re-evaluate exercise: %w", err))
		return
	}

	scheduled := 0
	for _, sub := range queued {
		if h.submitter.Submit(sub.ID) {
			scheduled++
		}
	}
	util.Success(c, gin.H{
		"resubmitted": len(queued),
		"scheduled":   scheduled,
	}, "Re-evaluation submitted")
}

func (h *Handler) getInsights(c *gin.Context) {
	courseID := c.Param("id")
	if _, err := h.engine.Catalog().Course(courseID); err != nil {
		util.Error(c, http.StatusNotFound, err)
		return
	}
	in, err := insights.Get(h.engine.DB().WithContext(c.Request.Context()), courseID, c.Query("exercise"), c.Query("day"))
	if err != nil {
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	util.Success(c, in, "Insights retrieved successfully")
}
