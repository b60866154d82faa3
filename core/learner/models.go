package learner

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
)

// Lesson statuses
const (
	StatusQueued = "QUEUED"
	StatusActive = "ACTIVE"
	StatusDone   = "DONE"
)

// Achievement types
const (
	AchievementFirstLesson  = "FIRST_LESSON"
	AchievementFiveLessons  = "FIVE_LESSONS"
	AchievementPerfectScore = "PERFECT_SCORE"
)

const (
	DefaultGradeLevel = 5
)

var DefaultSubjects = []string{"Math", "Reading", "Science"}

type (
	GraphNode struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}

	GraphEdge struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}

	// Graph is a knowledge graph, stored as JSONB.
	Graph struct {
		Nodes []GraphNode `json:"nodes"`
		Edges []GraphEdge `json:"edges"`
	}

	// StringList is a list of strings stored as a JSONB array.
	StringList []string

	Profile struct {
		ID         string     `json:"id" db:"id"`
		UserID     int        `json:"userId" db:"user_id"`
		GradeLevel int        `json:"gradeLevel" db:"grade_level"`
		Graph      Graph      `json:"graph" db:"graph"`
		Subjects   StringList `json:"subjects" db:"subjects"`
		CreatedAt  time.Time  `json:"createdAt" db:"created_at"`
	}

	Question struct {
		Text    string   `json:"text"`
		Options []string `json:"options"`
		Answer  int      `json:"answer"` // index in Options
	}

	// LessonSpec is the content of a lesson, stored as JSONB.
	LessonSpec struct {
		Title     string     `json:"title"`
		Content   string     `json:"content"`
		Questions []Question `json:"questions"`
		Graph     *Graph     `json:"graph,omitempty"`
	}

	Lesson struct {
		ID          string     `json:"id" db:"id"`
		LearnerID   int        `json:"learnerId" db:"learner_id"`
		ModuleID    string     `json:"moduleId" db:"module_id"`
		Status      string     `json:"status" db:"status"`
		Spec        LessonSpec `json:"spec" db:"spec"`
		Score       null.Int   `json:"score" db:"score"`
		CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
		CompletedAt null.Time  `json:"completedAt" db:"completed_at"`
	}

	// AchievementPayload is what is displayed for an Achievement, stored as JSONB.
	AchievementPayload struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	}

	Achievement struct {
		ID        string             `json:"id" db:"id"`
		LearnerID int                `json:"learnerId" db:"learner_id"`
		Type      string             `json:"type" db:"type"`
		Payload   AchievementPayload `json:"payload" db:"payload"`
		AwardedAt time.Time          `json:"awardedAt" db:"awarded_at"`
	}
)

var achievementPayloads = map[string]AchievementPayload{
	AchievementFirstLesson:  {Title: "First Steps", Description: "Completed your very first lesson!", Icon: "award"},
	AchievementFiveLessons:  {Title: "Learning Explorer", Description: "Completed 5 lessons!", Icon: "book-open"},
	AchievementPerfectScore: {Title: "Perfect Score!", Description: "Got all answers correct in a quiz!", Icon: "star"},
}

// JSONB plumbing

func scanJSON(src interface{}, dest interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("cannot scan %T into %T", src, dest)
	}
	if len(data) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(data, dest), "unmarshalling JSONB")
}

func valueJSON(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling JSONB")
	}
	return string(data), nil
}

func (g *Graph) Scan(src interface{}) error { return scanJSON(src, g) }

func (g Graph) Value() (driver.Value, error) {
	if g.Nodes == nil {
		g.Nodes = []GraphNode{}
	}
	if g.Edges == nil {
		g.Edges = []GraphEdge{}
	}
	return valueJSON(g)
}

func (sl *StringList) Scan(src interface{}) error { return scanJSON(src, sl) }

func (sl StringList) Value() (driver.Value, error) {
	if sl == nil {
		sl = StringList{}
	}
	return valueJSON([]string(sl))
}

func (ls *LessonSpec) Scan(src interface{}) error { return scanJSON(src, ls) }

func (ls LessonSpec) Value() (driver.Value, error) { return valueJSON(ls) }

func (ap *AchievementPayload) Scan(src interface{}) error { return scanJSON(src, ap) }

func (ap AchievementPayload) Value() (driver.Value, error) { return valueJSON(ap) }

// Score returns round(correct / total * 100) for the given answers.
// Missing answers count as wrong.
func (ls LessonSpec) Score(answers []int) int {
	total := len(ls.Questions)
	if total == 0 {
		return 0
	}
	var correct int
	for i, q := range ls.Questions {
		if i < len(answers) && answers[i] == q.Answer {
			correct++
		}
	}
	return (correct*200 + total) / (total * 2) // round half up
}
