package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ZJUSCT/CSLearn/internal/catalog"
	"github.com/ZJUSCT/CSLearn/internal/database/models"
	"github.com/ZJUSCT/CSLearn/internal/metrics"
)

var (
	ErrNoStatus      = errors.New("verdict carries no status")
	ErrUnknownStatus = errors.New("verdict carries an unknown status")
)

type Request struct {
	TestCases            []catalog.TestCase `json:"testCases,omitempty"`
	ProblemID            string             `json:"problemId,omitempty"`
	Code                 string             `json:"code"`
	Language             string             `json:"language"`
	MemoryLimit          int                `json:"memoryLimit"`
	TimeLimit            float64            `json:"timeLimit"`
	FloatPrecision       float64            `json:"floatPrecision"`
	ComparisonMode       string             `json:"comparisonMode"`
	AggregateResults     bool               `json:"aggregateResults"`
	ReturnOutputs        bool               `json:"returnOutputs"`
	ReturnCompileOutputs bool               `json:"returnCompileOutputs"`
}

// NewRequest builds the judge job for an exercise. Exercises bound to a judge-side problem
// send its id instead of inline tests.
func NewRequest(exercise *catalog.Exercise, code, language string) Request {
	req := Request{
		Code:                 code,
		Language:             language,
		MemoryLimit:          exercise.MemoryLimit,
		TimeLimit:            exercise.TimeLimit,
		FloatPrecision:       exercise.FloatPrecision,
		ComparisonMode:       exercise.ComparisonMode,
		AggregateResults:     true,
		ReturnOutputs:        false,
		ReturnCompileOutputs: true,
	}
	if exercise.ProblemID != "" {
		req.ProblemID = exercise.ProblemID
	} else {
		req.TestCases = exercise.Tests
	}
	return req
}

// StatusList decodes either a single status or one status per test.
type StatusList []models.Status

func (s *StatusList) UnmarshalJSON(data []byte) error {
	var single models.Status
	if err := json.Unmarshal(data, &single); err == nil {
		*s = StatusList{single}
		return nil
	}
	var many []models.Status
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("status must be a string or an array of strings: %w", err)
	}
	*s = many
	return nil
}

// Verdict is the judge answer. Score is on a 0-100 scale.
type Verdict struct {
	Status  StatusList `json:"status"`
	Score   float64    `json:"score"`
	Time    float64    `json:"time"`
	Memory  float64    `json:"memory"`
	Message string     `json:"message,omitempty"`
}

// Reduce collapses per-test statuses: the first non-Solved test decides. Every status must be
// a result status; anything else means the judge speaks another protocol.
func (v *Verdict) Reduce() (models.Status, error) {
	if len(v.Status) == 0 {
		return "", ErrNoStatus
	}
	for _, s := range v.Status {
		if !s.Final() {
			return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
		}
	}
	for _, s := range v.Status {
		if s != models.StatusSolved {
			return s, nil
		}
	}
	return models.StatusSolved, nil
}

// Judge is the collaborator that grades code.
type Judge interface {
	Judge(ctx context.Context, req Request) (*Verdict, error)
}

type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, timeout time.Duration) *Client {
	return &Client{url: url, http: &http.Client{Timeout: timeout}}
}

func (c *Client) Judge(ctx context.Context, req Request) (*Verdict, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	metrics.ObserveJudge(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("judge request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("judge returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var verdict Verdict
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode judge verdict: %w", err)
	}
	return &verdict, nil
}
