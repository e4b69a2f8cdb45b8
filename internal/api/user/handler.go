package user

import (
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/ranking"
	"github.com/ZJUSCT/CSLearn/internal/submission"
)

// Submitter hands a stored submission to the grader.
type Submitter interface {
	Submit(submissionID string) bool
}

// Handler holds all dependencies for the user API handlers.
type Handler struct {
	cfg       *config.Config
	engine    *submission.Engine
	submitter Submitter
	ranker    *ranking.Ranker
}

// NewHandler creates a new user handler with its dependencies.
func NewHandler(cfg *config.Config, engine *submission.Engine, submitter Submitter, ranker *ranking.Ranker) *Handler {
	return &Handler{
		cfg:       cfg,
		engine:    engine,
		submitter: submitter,
		ranker:    ranker,
	}
}
