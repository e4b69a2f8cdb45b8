package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/auth"
	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/insights"
	"github.com/ZJUSCT/CSLearn/internal/judge"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	ids []string
}

func (r *recordingSubmitter) Submit(id string) bool {
	r.ids = append(r.ids, id)
	return true
}

type envelope struct {
	Code    int             `json:"code"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func solvedVerdict() *judge.Verdict {
	return &judge.Verdict{Status: judge.StatusList{models.StatusSolved}, Score: 100, Time: 1}
}

func setup(t *testing.T) (*gin.Engine, *submission.Engine, *recordingSubmitter, *config.Config) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Init(":memory:")
	require.NoError(t, err)

	root := t.TempDir()
	course := &catalog.Course{ID: "c1", Title: "Intro", }
	require.NoError(t, catalog.CreateCourse(root, course))
	require.NoError(t, catalog.CreateExercise(course, &catalog.Exercise{ID: "e1", Name: "Hello", Level: 1, Score: 100}))
	cat := catalog.New(root)
	require.NoError(t, cat.Reload())

	cfg := &config.Config{}
	cfg.Auth.JWT.Secret = "admin-secret"
	cfg.Auth.JWT.ExpireHours = 1
	cfg.Sweep.BatchSize = 10
	engine := submission.NewEngine(db, cat, submission.Options{Broker: pubsub.NewBroker()})
	sub := &recordingSubmitter{}
	return NewAdminRouter(cfg, engine, sub), engine, sub, cfg
}

func do(t *testing.T, r *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestReload(t *testing.T) {
	r, _, _, _ := setup(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/reload", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	assert.JSONEq(t, `{"courses_loaded":1,"exercises_loaded":1}`, string(env.Data))
}

func TestIssueToken(t *testing.T) {
	r, _, _, cfg := setup(t)
	w, env := do(t, r, http.MethodPost, "/api/v1/tokens", gin.H{"user_id": "u1", "name": "Ada"})
	require.Equal(t, http.StatusOK, w.Code)

	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	claims, err := auth.ValidateJWT(data.Token, cfg.Auth.JWT.Secret)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "Ada", claims.Name)

	w, _ = do(t, r, http.MethodPost, "/api/v1/tokens", gin.H{"name": "nobody"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResubmitExercise(t *testing.T) {
	r, engine, sub, _ := setup(t)
	ctx := context.Background()

	q, err := engine.Enqueue(ctx, submission.Request{UserID: "u1", ExerciseID: "e1", Code: "x", Language: "go"})
	require.NoError(t, err)
	_, err = engine.ProcessResult(ctx, solvedVerdict(), "u1", q.ID)
	require.NoError(t, err)

	w, env := do(t, r, http.MethodPost, "/api/v1/exercises/e1/resubmit", nil)
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	assert.JSONEq(t, `{"resubmitted":1,"scheduled":1}`, string(env.Data))
	require.Len(t, sub.ids, 1)

	queued, err := database.GetQueuedSubmission(engine.DB(), sub.ids[0])
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, queued.Status)

	w, _ = do(t, r, http.MethodPost, "/api/v1/exercises/missing/resubmit", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsightsAndSweep(t *testing.T) {
	r, engine, _, _ := setup(t)
	require.NoError(t, insights.Record(engine.DB(), insights.Runs, "c1", "e1", "2026-10-14", 3))

	w, env := do(t, r, http.MethodGet, "/api/v1/courses/c1/insights?exercise=e1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var in models.Insight
	require.NoError(t, json.Unmarshal(env.Data, &in))
	assert.Equal(t, 3.0, in.Runs)

	w, _ = do(t, r, http.MethodGet, "/api/v1/courses/nope/insights", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, database.CreateDeferredUpdate(engine.DB(), &models.DeferredUpdate{
		Target: "window", CourseID: "c1", UserID: "u1", Metric: "scoreWeek_2026_10_2", Diff: -5,
		UpdateAt: time.Now().Add(-time.Minute),
	}))
	w, env = do(t, r, http.MethodPost, "/api/v1/updates/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"applied":1}`, string(env.Data))
}
