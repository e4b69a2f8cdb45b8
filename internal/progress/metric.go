package progress

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnknownMetric = errors.New("unknown metric")

// Kind selects which aggregate a metric maintains.
type Kind int

const (
	KindScore Kind = iota + 1
	KindUpsolveScore
	KindSolved
	KindAttempts
	KindWindowedScore
)

func (k Kind) String() string {
	switch k {
	case KindScore:
		return "score"
	case KindUpsolveScore:
		return "upsolveScore"
	case KindSolved:
		return "solved"
	case KindAttempts:
		return "attempts"
	case KindWindowedScore:
		return "windowedScore"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Window is the calendar period of a windowed score.
type Window int

const (
	Daily Window = iota + 1
	Weekly
	Monthly
)

func (w Window) String() string {
	switch w {
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("Window(%d)", w)
	}
}

func (w Window) MarshalText() ([]byte, error) {
	return []byte(w.String()), nil
}

func (w *Window) UnmarshalText(data []byte) error {
	switch s := string(data); s {
	case "daily":
		*w = Daily
	case "weekly":
		*w = Weekly
	case "monthly":
		*w = Monthly
	default:
		return fmt.Errorf("unsupported window: %q", s)
	}
	return nil
}

// Length is how long a contribution stays in the window before it is reversed.
func (w Window) Length() time.Duration {
	switch w {
	case Daily:
		return 24 * time.Hour
	case Weekly:
		return 7 * 24 * time.Hour
	case Monthly:
		return 30 * 24 * time.Hour
	}
	return 0
}

// End returns the first instant after the bucket containing t, in t's location.
func (w Window) End(t time.Time) time.Time {
	y, m, d := t.Date()
	loc := t.Location()
	switch w {
	case Daily:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	case Weekly:
		next := time.Date(y, m, ((d-1)/7+1)*7+1, 0, 0, 0, 0, loc)
		if monthEnd := time.Date(y, m+1, 1, 0, 0, 0, 0, loc); monthEnd.Before(next) {
			return monthEnd
		}
		return next
	case Monthly:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	}
	return t
}

// ExpireAt is when a contribution made at t leaves the window: never before its bucket ends
// and never before Length has passed.
func (w Window) ExpireAt(t time.Time) time.Time {
	end := w.End(t)
	if byLength := t.Add(w.Length()); byLength.After(end) {
		return byLength
	}
	return end
}

func (w Window) prefix() string {
	switch w {
	case Daily:
		return "scoreDay"
	case Weekly:
		return "scoreWeek"
	case Monthly:
		return "scoreMonth"
	}
	return ""
}

// Bucket returns the calendar bucket containing t: YYYY_MM_DD, YYYY_MM_WW (week of month) or YYYY_MM.
func (w Window) Bucket(t time.Time) string {
	switch w {
	case Daily:
		return t.Format("2006_01_02")
	case Weekly:
		return fmt.Sprintf("%s_%d", t.Format("2006_01"), (t.Day()-1)/7+1)
	case Monthly:
		return t.Format("2006_01")
	}
	return ""
}

// ParseWindows converts configured window names.
func ParseWindows(names []string) ([]Window, error) {
	windows := make([]Window, 0, len(names))
	for _, name := range names {
		var w Window
		if err := w.UnmarshalText([]byte(name)); err != nil {
			return nil, err
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// Metric identifies one tracked quantity. Bucket is set only for windowed scores.
type Metric struct {
	Kind   Kind
	Window Window
	Bucket string
}

var (
	Score        = Metric{Kind: KindScore}
	UpsolveScore = Metric{Kind: KindUpsolveScore}
	Solved       = Metric{Kind: KindSolved}
	Attempts     = Metric{Kind: KindAttempts}
)

// Windowed returns the windowed score metric for the bucket containing t.
func Windowed(w Window, t time.Time) Metric {
	return Metric{Kind: KindWindowedScore, Window: w, Bucket: w.Bucket(t)}
}

// Key is the identifier stored in aggregate rows.
func (m Metric) Key() string {
	if m.Kind == KindWindowedScore {
		return m.Window.prefix() + "_" + m.Bucket
	}
	return m.Kind.String()
}

func (m Metric) String() string {
	return m.Key()
}

func (m Metric) valid() bool {
	switch m.Kind {
	case KindScore, KindUpsolveScore, KindSolved, KindAttempts:
		return true
	case KindWindowedScore:
		return m.Window.prefix() != "" && m.Bucket != ""
	}
	return false
}

// Ranked reports whether the metric maintains course and level aggregates.
func (m Metric) Ranked() bool {
	return m.Kind != KindAttempts
}

// ProgressColumn is the Progress column of a plain course aggregate, empty for other kinds.
func (m Metric) ProgressColumn() string {
	switch m.Kind {
	case KindScore:
		return "score"
	case KindUpsolveScore:
		return "upsolve_score"
	case KindSolved:
		return "solved"
	}
	return ""
}

// ParseMetric maps a ranking metric name to a Metric. Window names resolve to the bucket
// containing now; an explicit key such as scoreWeek_2026_10_2 selects that bucket.
func ParseMetric(name string, now time.Time) (Metric, error) {
	switch name {
	case "score", "":
		return Score, nil
	case "upsolveScore":
		return UpsolveScore, nil
	case "solved":
		return Solved, nil
	case "scoreDay":
		return Windowed(Daily, now), nil
	case "scoreWeek":
		return Windowed(Weekly, now), nil
	case "scoreMonth":
		return Windowed(Monthly, now), nil
	}
	for _, w := range []Window{Daily, Weekly, Monthly} {
		if bucket, ok := strings.CutPrefix(name, w.prefix()+"_"); ok && bucket != "" {
			return Metric{Kind: KindWindowedScore, Window: w, Bucket: bucket}, nil
		}
	}
	return Metric{}, fmt.Errorf("%w: %q", ErrUnknownMetric, name)
}
