package user

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ZJUSCT/CSLearn/internal/auth"
	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/config"
	"github.com/ZJUSCT/CSLearn/internal/database"
	"github.com/ZJUSCT/CSLearn/internal/pubsub"
	"github.com/ZJUSCT/CSLearn/internal/ranking"
	"github.com/ZJUSCT/CSLearn/internal/submission"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

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

func setupRouter(t *testing.T) (*gin.Engine, *recordingSubmitter, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Init(":memory:")
	require.NoError(t, err)
	cat := catalog.New("")
	cat.Replace(
		map[string]*catalog.Course{"c1": {ID: "c1", Title: "Intro"}},
		map[string]*catalog.Exercise{"e1": {ID: "e1", CourseID: "c1", Level: 1, Score: 100}},
	)

	cfg := &config.Config{}
	cfg.Auth.JWT.Secret = testSecret
	engine := submission.NewEngine(db, cat, submission.Options{Broker: pubsub.NewBroker()})
	sub := &recordingSubmitter{}
	return NewUserRouter(cfg, engine, sub, ranking.NewRanker(db, nil, nil)), sub, db
}

func do(t *testing.T, r *gin.Engine, method, path, user string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		token, err := auth.GenerateJWT(user, "Name "+user, testSecret, 1)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w, env
}

func TestSubmitAndLookup(t *testing.T) {
	r, sub, _ := setupRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/exercises/e1/submit", "u1",
		gin.H{"code": "print(1)", "language": "python"})
	require.Equal(t, http.StatusOK, w.Code, env.Message)
	var data struct {
		SubmissionID string `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, []string{data.SubmissionID}, sub.ids)

	w, env = do(t, r, http.MethodGet, "/api/v1/submissions/"+data.SubmissionID, "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var view submission.View
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "Queued", string(view.Status))
	assert.NotContains(t, string(env.Data), "print(1)")

	w, _ = do(t, r, http.MethodGet, "/api/v1/submissions/"+data.SubmissionID, "u2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitErrors(t *testing.T) {
	r, sub, _ := setupRouter(t)

	w, _ := do(t, r, http.MethodPost, "/api/v1/exercises/e1/submit", "", gin.H{"code": "x", "language": "go"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/exercises/nope/submit", "u1", gin.H{"code": "x", "language": "go"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = do(t, r, http.MethodPost, "/api/v1/exercises/e1/submit", "u1", gin.H{"code": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, sub.ids)
}

func TestJoinAndRanking(t *testing.T) {
	r, _, db := setupRouter(t)

	w, env := do(t, r, http.MethodPost, "/api/v1/courses/c1/join", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"joined":true}`, string(env.Data))
	_, env = do(t, r, http.MethodPost, "/api/v1/courses/c1/join", "u1", nil)
	assert.JSONEq(t, `{"joined":false}`, string(env.Data))

	require.NoError(t, database.IncrementProgress(db, "c1", "u2", "Name u2", "score", 50))

	w, env = do(t, r, http.MethodGet, "/api/v1/courses/c1/ranking?metric=score&size=1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page ranking.Page
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "u2", page.Rows[0].UserID)
	assert.Equal(t, "u2", page.Next)

	w, env = do(t, r, http.MethodGet, "/api/v1/courses/c1/ranking?metric=score&size=1&after=u2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &page))
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "u1", page.Rows[0].UserID)
	assert.Equal(t, "Name u1", page.Rows[0].UserDisplayName)

	w, _ = do(t, r, http.MethodGet, "/api/v1/courses/c1/ranking?metric=attempts", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = do(t, r, http.MethodGet, "/api/v1/courses/c1/ranking?after=ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLevelProgress(t *testing.T) {
	r, _, _ := setupRouter(t)

	w, env := do(t, r, http.MethodGet, "/api/v1/courses/c1/levels/1/progress?users=u1,u2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{}`, string(env.Data))

	w, _ = do(t, r, http.MethodGet, "/api/v1/courses/c1/levels/x/progress", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
