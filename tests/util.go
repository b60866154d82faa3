package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

// DefaultPassword is the password of the users created by CreateUser.
const DefaultPassword = "Learn1ng-Is-Fun"

// CreateUser stores a user with DefaultPassword. parentID is only meaningful for learners.
func CreateUser(t *testing.T, repo user.Repository, name, uname, role string, parentID ...int) user.User {
	t.Helper()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     uname + "@sunschool.test",
		Role:      role,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if len(parentID) > 0 {
		usr.ParentID = null.IntFrom(parentID[0])
	}
	if err := usr.SetPassword(DefaultPassword); err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// NewLessonSpec returns a quiz whose correct answers are all 0.
func NewLessonSpec(title string, questions int) learner.LessonSpec {
	spec := learner.LessonSpec{Title: title, Content: "# " + title}
	for i := 0; i < questions; i++ {
		spec.Questions = append(spec.Questions, learner.Question{
			Text:    "Question?",
			Options: []string{"right", "wrong", "also wrong"},
			Answer:  0,
		})
	}
	return spec
}

// CreateLesson stores a lesson for learnerID, createdAt decides its rank in the history.
func CreateLesson(t *testing.T, repo learner.Repository, learnerID int, status string, createdAt time.Time) learner.Lesson {
	t.Helper()
	lesson := learner.Lesson{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		ModuleID:  "module-" + uuid.NewString()[:8],
		Status:    status,
		Spec:      NewLessonSpec("Fractions", 2),
		CreatedAt: createdAt.UTC().Truncate(time.Microsecond),
	}
	if status == learner.StatusDone {
		lesson.Score = null.IntFrom(50)
		lesson.CompletedAt = null.TimeFrom(lesson.CreatedAt.Add(time.Minute))
	}
	lesson, err := repo.CreateLesson(context.Background(), lesson)
	if err != nil {
		t.Fatalf("CreateLesson() failed: %v", err)
	}
	return lesson
}

// CreateProfile stores a learner profile for userID.
func CreateProfile(t *testing.T, repo learner.Repository, userID, gradeLevel int) learner.Profile {
	t.Helper()
	profile, err := repo.CreateProfile(context.Background(), learner.Profile{
		ID:         uuid.NewString(),
		UserID:     userID,
		GradeLevel: gradeLevel,
		Graph: learner.Graph{
			Nodes: []learner.GraphNode{{ID: "n1", Label: "Numbers"}, {ID: "n2", Label: "Fractions"}},
			Edges: []learner.GraphEdge{{Source: "n1", Target: "n2"}},
		},
		Subjects:  learner.StringList{"Math"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		t.Fatalf("CreateProfile() failed: %v", err)
	}
	return profile
}

// CreateAchievement stores an achievement of type typ for learnerID.
func CreateAchievement(t *testing.T, repo learner.Repository, learnerID int, typ string) learner.Achievement {
	t.Helper()
	ach, err := repo.CreateAchievement(context.Background(), learner.Achievement{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		Type:      typ,
		Payload:   learner.AchievementPayload{Title: typ},
		AwardedAt: time.Now().UTC().Truncate(time.Microsecond),
	})
	if err != nil {
		t.Fatalf("CreateAchievement() failed: %v", err)
	}
	return ach
}
