package user

import (
	"errors"
	"net/http"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/ZJUSCT/CSLearn/internal/util"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type submitRequest struct {
	Code     string `json:"code" binding:"required"`
	Language string `json:"language" binding:"required"`
	TestRun  bool   `json:"test_run"`
}

func (h *Handler) submitToExercise(c *gin.Context) {
	userID := c.GetString("userID")
	exerciseID := c.Param("id")

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.Error(c, http.StatusBadRequest, err)
		return
	}

	sub, err := h.engine.Enqueue(c.Request.Context(), submission.Request{
		UserID:          userID,
		UserDisplayName: c.GetString("userName"),
		ExerciseID:      exerciseID,
		Code:            req.Code,
		Language:        req.Language,
		TestRun:         req.TestRun,
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrExerciseNotFound), errors.Is(err, catalog.ErrCourseNotFound):
			util.Error(c, http.StatusNotFound, err)
		case errors.Is(err, submission.ErrInvalidSubmission):
			util.Error(c, http.StatusBadRequest, err)
		default:
			util.Error(c, http.StatusInternalServerError, err)
		}
		return
	}

	if !h.submitter.Submit(sub.ID) {
		zap.S().Warnf("submission %s stored but not scheduled, grader queue is full", sub.ID)
	}
	util.Success(c, gin.H{"submission_id": sub.ID}, "Submission received")
}

func (h *Handler) getSubmission(c *gin.Context) {
	userID := c.GetString("userID")

	view, err := h.engine.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, submission.ErrSubmissionNotFound) {
			util.Error(c, http.StatusNotFound, err)
			return
		}
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	if view.UserID != userID {
		util.Error(c, http.StatusForbidden, "you can only view your own submissions")
		return
	}
	util.Success(c, view, "Submission retrieved successfully")
}

func (h *Handler) joinCourse(c *gin.Context) {
	courseID := c.Param("id")
	joined, err := h.engine.Join(c.Request.Context(), c.GetString("userID"), c.GetString("userName"), courseID)
	if err != nil {
		if errors.Is(err, catalog.ErrCourseNotFound) {
			util.Error(c, http.StatusNotFound, err)
			return
		}
		util.Error(c, http.StatusInternalServerError, err)
		return
	}
	if !joined {
		util.Success(c, gin.H{"joined": false}, "Already enrolled in this course")
		return
	}
	util.Success(c, gin.H{"joined": true}, "Enrolled successfully")
}
