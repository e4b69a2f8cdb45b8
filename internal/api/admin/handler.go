package admin

import (
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/submission"
)

// Submitter hands a stored submission to the grader.
type Submitter interface {
	Submit(submissionID string) bool
}

// Handler holds all dependencies for the admin API handlers.
type Handler struct {
	cfg       *config.Config
	engine    *submission.Engine
	submitter Submitter
}

// NewHandler creates a new admin handler with its dependencies.
func NewHandler(cfg *config.Config, engine *submission.Engine, submitter Submitter) *Handler {
	return &Handler{
		cfg:       cfg,
		engine:    engine,
		submitter: submitter,
	}
}
