package user

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ZJUSCT/CSLearn/internal/progress"
	"github.com/ZJUSCT/CSLearn/internal/ranking"
	"github.com/ZJUSCT/CSLearn/internal/util"
	"github.com/gin-gonic/gin"
)

func (h *Handler) getRanking(c *gin.Context) {
	size, _ := strconv.Atoi(c.DefaultQuery("size", "0"))
	page, err := h.ranker.Page(c.Request.Context(), c.Param("id"), c.Query("metric"), c.Query("after"), size)
	if err != nil {
		util.Error(c, rankingStatus(err), err)
		return
	}
	util.Success(c, page, "Ranking retrieved successfully")
}

func (h *Handler) getLevelProgress(c *gin.Context) {
	level, err := strconv.Atoi(c.Param("level"))
	if err != nil {
		util.Error(c, http.StatusBadRequest, "level must be an integer")
		return
	}
	var users []string
	for _, id := range strings.Split(c.Query("users"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			users = append(users, id)
		}
	}
	if len(users) > ranking.MaxPageSize {
		util.Error(c, http.StatusBadRequest, "too many users requested")
		return
	}

	levels, err := h.ranker.Levels(c.Request.Context(), c.Param("id"), level, c.Query("metric"), users)
	if err != nil {
		util.Error(c, rankingStatus(err), err)
		return
	}
	util.Success(c, levels, "Level progress retrieved successfully")
}

func rankingStatus(err error) int {
	switch {
	case errors.Is(err, progress.ErrUnknownMetric), errors.Is(err, ranking.ErrUnranked),
		errors.Is(err, ranking.ErrTooManyUsers):
		return http.StatusBadRequest
	case errors.Is(err, ranking.ErrCursorNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
