package learner

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core"
)

var (
	// errors
	ErrProfileNotFound  = errors.New("learner profile not found")
	ErrLessonNotFound   = errors.New("lesson not found")
	ErrLessonNotActive  = errors.New("lesson is not active")
	ErrNoActiveLesson   = errors.New("no active lesson")
	ErrWrongAnswerCount = errors.New("one answer per question is required")
)

type (
	Repository interface {
		GetProfile(ctx context.Context, userID int) (Profile, error)
		CreateProfile(ctx context.Context, profile Profile) (Profile, error)
		UpdateProfile(ctx context.Context, profile Profile) (Profile, error)

		CreateLesson(ctx context.Context, lesson Lesson) (Lesson, error)
		GetLesson(ctx context.Context, id string) (Lesson, error)
		// GetActiveLesson returns the learner's ACTIVE lesson, or ErrLessonNotFound.
		GetActiveLesson(ctx context.Context, learnerID int) (Lesson, error)
		// QueryLessonHistory returns at most limit lessons of the learner, newest first. limit <= 0 means no limit.
		QueryLessonHistory(ctx context.Context, learnerID, limit int) ([]Lesson, error)
		CountLessons(ctx context.Context, learnerID int, status string) (int, error)
		UpdateLesson(ctx context.Context, lesson Lesson) (Lesson, error)

		CreateAchievement(ctx context.Context, achievement Achievement) (Achievement, error)
		// QueryAchievements returns the learner's achievements, newest first.
		QueryAchievements(ctx context.Context, learnerID int) ([]Achievement, error)
	}

	Service struct {
		repo   Repository
		logger core.Logger
	}
)

func NewService(repo Repository, logger core.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

func (svc *Service) GetProfile(ctx context.Context, userID int) (Profile, error) {
	return svc.repo.GetProfile(ctx, userID)
}

// GetOrCreateProfile returns the learner's profile, creating a default one on first access.
func (svc *Service) GetOrCreateProfile(ctx context.Context, userID int, gradeLevel ...int) (Profile, error) {
	profile, err := svc.repo.GetProfile(ctx, userID)
	if err == nil {
		return profile, nil
	}
	if err != ErrProfileNotFound {
		return Profile{}, err
	}

	grade := DefaultGradeLevel
	if len(gradeLevel) > 0 {
		grade = gradeLevel[0]
	}
	return svc.repo.CreateProfile(ctx, Profile{
		ID:         uuid.NewString(),
		UserID:     userID,
		GradeLevel: grade,
		Graph:      Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}},
		Subjects:   append(StringList{}, DefaultSubjects...),
		CreatedAt:  time.Now().UTC(),
	})
}

// UpdateProfile defines what may be changed on a learner profile.
type UpdateProfile struct {
	GradeLevel *int     `json:"gradeLevel" validate:"omitempty,min=0,max=12"`
	Subjects   []string `json:"subjects" validate:"omitempty,dive,required"`
	Graph      *Graph   `json:"graph"`
}

func (up UpdateProfile) Validate(validate *validator.Validate) error {
	if up.GradeLevel == nil && up.Subjects == nil && up.Graph == nil {
		return core.NewValidationError(errors.New("no valid update data provided"))
	}
	return validate.Struct(up)
}

func (svc *Service) UpdateProfile(ctx context.Context, userID int, up UpdateProfile) (Profile, error) {
	profile, err := svc.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	if up.GradeLevel != nil {
		profile.GradeLevel = *up.GradeLevel
	}
	if up.Subjects != nil {
		profile.Subjects = up.Subjects
	}
	if up.Graph != nil {
		profile.Graph = *up.Graph
	}
	return svc.repo.UpdateProfile(ctx, profile)
}

// NewLesson contains information needed to assign a lesson to a learner.
type NewLesson struct {
	ModuleID string     `json:"moduleId" validate:"required"`
	Spec     LessonSpec `json:"spec"`
}

func (nl *NewLesson) Validate(validate *validator.Validate) error {
	nl.ModuleID = core.CleanString(nl.ModuleID)
	nl.Spec.Title = core.CleanString(nl.Spec.Title)
	if err := validate.Struct(nl); err != nil {
		return err
	}
	if nl.Spec.Title == "" {
		return core.NewFieldError("spec.title", "this field is required")
	}
	for _, q := range nl.Spec.Questions {
		if q.Answer < 0 || q.Answer >= len(q.Options) {
			return core.NewFieldError("spec.questions", "answer must be the index of an option")
		}
	}
	return nil
}

// CreateLesson queues a lesson for the learner.
// The lesson becomes ACTIVE right away when the learner has no active lesson.
func (svc *Service) CreateLesson(ctx context.Context, learnerID int, nl NewLesson) (Lesson, error) {
	status := StatusQueued
	if _, err := svc.repo.GetActiveLesson(ctx, learnerID); err != nil {
		if err != ErrLessonNotFound {
			return Lesson{}, err
		}
		status = StatusActive
	}
	return svc.repo.CreateLesson(ctx, Lesson{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		ModuleID:  nl.ModuleID,
		Status:    status,
		Spec:      nl.Spec,
		CreatedAt: time.Now().UTC(),
	})
}

func (svc *Service) GetLesson(ctx context.Context, id string) (Lesson, error) {
	return svc.repo.GetLesson(ctx, id)
}

func (svc *Service) GetActiveLesson(ctx context.Context, learnerID int) (Lesson, error) {
	lesson, err := svc.repo.GetActiveLesson(ctx, learnerID)
	if err == ErrLessonNotFound {
		return Lesson{}, ErrNoActiveLesson
	}
	return lesson, err
}

func (svc *Service) LessonHistory(ctx context.Context, learnerID, limit int) ([]Lesson, error) {
	return svc.repo.QueryLessonHistory(ctx, learnerID, limit)
}

func (svc *Service) Achievements(ctx context.Context, learnerID int) ([]Achievement, error) {
	return svc.repo.QueryAchievements(ctx, learnerID)
}

// AnswerResult is the outcome of a quiz submission.
type AnswerResult struct {
	Lesson          Lesson        `json:"lesson"`
	Score           int           `json:"score"`
	NewAchievements []Achievement `json:"newAchievements"`
}

// SubmitAnswers scores the learner's answers, completes the lesson,
// promotes the next queued lesson and awards any earned achievements.
func (svc *Service) SubmitAnswers(ctx context.Context, learnerID int, lessonID string, answers []int) (AnswerResult, error) {
	lesson, err := svc.repo.GetLesson(ctx, lessonID)
	if err != nil {
		return AnswerResult{}, err
	}
	if lesson.LearnerID != learnerID {
		return AnswerResult{}, ErrLessonNotFound
	}
	if lesson.Status != StatusActive {
		return AnswerResult{}, ErrLessonNotActive
	}
	if len(answers) != len(lesson.Spec.Questions) {
		return AnswerResult{}, core.NewValidationError(ErrWrongAnswerCount, core.FieldError{Field: "answers", Error: ErrWrongAnswerCount.Error()})
	}

	score := lesson.Spec.Score(answers)
	lesson.Status = StatusDone
	lesson.Score = null.IntFrom(score)
	lesson.CompletedAt = null.TimeFrom(time.Now().UTC())
	if lesson, err = svc.repo.UpdateLesson(ctx, lesson); err != nil {
		return AnswerResult{}, err
	}

	if err = svc.activateNext(ctx, learnerID); err != nil {
		return AnswerResult{}, err
	}

	awarded, err := svc.checkForAchievements(ctx, learnerID, score)
	if err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Lesson: lesson, Score: score, NewAchievements: awarded}, nil
}

// activateNext promotes the oldest QUEUED lesson, if any.
func (svc *Service) activateNext(ctx context.Context, learnerID int) error {
	history, err := svc.repo.QueryLessonHistory(ctx, learnerID, 0)
	if err != nil {
		return err
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == StatusQueued {
			next := history[i]
			next.Status = StatusActive
			_, err = svc.repo.UpdateLesson(ctx, next)
			return err
		}
	}
	return nil
}

func (svc *Service) checkForAchievements(ctx context.Context, learnerID, score int) ([]Achievement, error) {
	done, err := svc.repo.CountLessons(ctx, learnerID, StatusDone)
	if err != nil {
		return nil, err
	}

	var types []string
	switch done {
	case 1:
		types = append(types, AchievementFirstLesson)
	case 5:
		types = append(types, AchievementFiveLessons)
	}
	if score == 100 {
		types = append(types, AchievementPerfectScore)
	}

	awarded := make([]Achievement, 0, len(types))
	for _, typ := range types {
		ach, err := svc.repo.CreateAchievement(ctx, Achievement{
			ID:        uuid.NewString(),
			LearnerID: learnerID,
			Type:      typ,
			Payload:   achievementPayloads[typ],
			AwardedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		svc.logger.Info("achievement awarded", map[string]interface{}{"learnerId": learnerID, "type": typ})
		awarded = append(awarded, ach)
	}
	return awarded, nil
}
