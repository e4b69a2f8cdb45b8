package events

import (
	"math"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/database/models"
)

// SubmissionJudgedEvent follows the submission.judged shape read by the socket service.
// Courses map to contestId and exercises to problemId.
type SubmissionJudgedEvent struct {
	SubmissionID    string  `json:"submissionId"`
	UserID          string  `json:"userId"`
	ProblemID       string  `json:"problemId"`
	ContestID       *string `json:"contestId"`
	AssignmentID    *string `json:"assignmentId"`
	Verdict         string  `json:"verdict"`
	Score           int     `json:"score"`
	ExecutionTimeMs *int    `json:"executionTimeMs"`
	MemoryUsedKb    *int    `json:"memoryUsedKb"`
	TestCasesPassed int     `json:"testCasesPassed"`
	TestCasesTotal  int     `json:"testCasesTotal"`
	Timestamp       string  `json:"timestamp"`
}

type LeaderboardUpdatedEvent struct {
	ContestID string `json:"contestId"`
	Timestamp string `json:"timestamp"`
}

// NewSubmissionJudged builds the event for a stored result. Time is in seconds and memory in KB.
func NewSubmissionJudged(sub *models.Submission, now time.Time) SubmissionJudgedEvent {
	course := sub.CourseID
	execMs := int(math.Round(sub.Time * 1000))
	memKb := int(math.Round(sub.Memory))
	return SubmissionJudgedEvent{
		SubmissionID:    sub.ID,
		UserID:          sub.UserID,
		ProblemID:       sub.ExerciseID,
		ContestID:       &course,
		Verdict:         string(sub.Status),
		Score:           int(math.Round(sub.Score)),
		ExecutionTimeMs: &execMs,
		MemoryUsedKb:    &memKb,
		Timestamp:       now.UTC().Format(time.RFC3339),
	}
}

func NewLeaderboardUpdated(courseID string, now time.Time) LeaderboardUpdatedEvent {
	return LeaderboardUpdatedEvent{ContestID: courseID, Timestamp: now.UTC().Format(time.RFC3339)}
}
