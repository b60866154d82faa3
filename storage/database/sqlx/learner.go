package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/learner"
)

const (
	profileColumns     = "id, user_id, grade_level, graph, subjects, created_at"
	lessonColumns      = "id, learner_id, module_id, status, spec, score, created_at, completed_at"
	achievementColumns = "id, learner_id, type, payload, awarded_at"
)

var (
	newestLessonsFirst      = []core.DBOrdering{{Field: "created_at"}, {Field: "id"}}
	newestAchievementsFirst = []core.DBOrdering{{Field: "awarded_at"}, {Field: "id"}}
)

func orderBy(orderings []core.DBOrdering) string {
	clause := " ORDER BY "
	for i, ord := range orderings {
		if i > 0 {
			clause += ", "
		}
		clause += ord.String()
	}
	return clause
}

type learnerRepository struct {
	db *sqlx.DB
}

var _ learner.Repository = (*learnerRepository)(nil)

func NewLearnerRepository(db *sql.DB) learner.Repository {
	return &learnerRepository{db: sqlx.NewDb(db, driverName)}
}

func (repo *learnerRepository) GetProfile(ctx context.Context, userID int) (learner.Profile, error) {
	var profile learner.Profile
	err := repo.db.GetContext(ctx, &profile, "SELECT "+profileColumns+" FROM learner_profiles WHERE user_id = $1", userID)
	return profile, trapNoRowsErr(err, learner.ErrProfileNotFound)
}

func (repo *learnerRepository) CreateProfile(ctx context.Context, profile learner.Profile) (learner.Profile, error) {
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO learner_profiles (`+profileColumns+`)
VALUES (:id, :user_id, :grade_level, :graph, :subjects, :created_at)`, profile)
	return profile, errors.Wrap(err, "inserting learner profile")
}

func (repo *learnerRepository) UpdateProfile(ctx context.Context, profile learner.Profile) (learner.Profile, error) {
	var updated learner.Profile
	rows, err := repo.db.NamedQueryContext(ctx, `UPDATE learner_profiles
SET grade_level = :grade_level, graph = :graph, subjects = :subjects
WHERE id = :id
RETURNING `+profileColumns, profile)
	if err != nil {
		return learner.Profile{}, errors.Wrap(err, "updating learner profile")
	}
	if err = scanOne(rows, &updated, learner.ErrProfileNotFound); err != nil {
		return learner.Profile{}, trapNotFound(err, learner.ErrProfileNotFound, "updating learner profile")
	}
	return updated, nil
}

func (repo *learnerRepository) CreateLesson(ctx context.Context, lesson learner.Lesson) (learner.Lesson, error) {
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO lessons (`+lessonColumns+`)
VALUES (:id, :learner_id, :module_id, :status, :spec, :score, :created_at, :completed_at)`, lesson)
	return lesson, errors.Wrap(err, "inserting lesson")
}

func (repo *learnerRepository) GetLesson(ctx context.Context, id string) (learner.Lesson, error) {
	var lesson learner.Lesson
	err := repo.db.GetContext(ctx, &lesson, "SELECT "+lessonColumns+" FROM lessons WHERE id::text = $1", id)
	return lesson, trapNoRowsErr(err, learner.ErrLessonNotFound)
}

func (repo *learnerRepository) GetActiveLesson(ctx context.Context, learnerID int) (learner.Lesson, error) {
	var lesson learner.Lesson
	q := "SELECT " + lessonColumns + " FROM lessons WHERE learner_id = $1 AND status = $2" + orderBy(newestLessonsFirst) + " LIMIT 1"
	err := repo.db.GetContext(ctx, &lesson, q, learnerID, learner.StatusActive)
	return lesson, trapNoRowsErr(err, learner.ErrLessonNotFound)
}

func (repo *learnerRepository) QueryLessonHistory(ctx context.Context, learnerID, limit int) ([]learner.Lesson, error) {
	lessons := make([]learner.Lesson, 0)
	q := "SELECT " + lessonColumns + " FROM lessons WHERE learner_id = $1" + orderBy(newestLessonsFirst)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	err := repo.db.SelectContext(ctx, &lessons, q, learnerID)
	return lessons, errors.Wrap(err, "querying lesson history")
}

func (repo *learnerRepository) CountLessons(ctx context.Context, learnerID int, status string) (int, error) {
	var count int
	err := repo.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM lessons WHERE learner_id = $1 AND status = $2", learnerID, status)
	return count, errors.Wrap(err, "counting lessons")
}

func (repo *learnerRepository) UpdateLesson(ctx context.Context, lesson learner.Lesson) (learner.Lesson, error) {
	var updated learner.Lesson
	rows, err := repo.db.NamedQueryContext(ctx, `UPDATE lessons
SET module_id = :module_id, status = :status, spec = :spec, score = :score, completed_at = :completed_at
WHERE id = :id
RETURNING `+lessonColumns, lesson)
	if err != nil {
		return learner.Lesson{}, errors.Wrap(err, "updating lesson")
	}
	if err = scanOne(rows, &updated, learner.ErrLessonNotFound); err != nil {
		return learner.Lesson{}, trapNotFound(err, learner.ErrLessonNotFound, "updating lesson")
	}
	return updated, nil
}

func (repo *learnerRepository) CreateAchievement(ctx context.Context, ach learner.Achievement) (learner.Achievement, error) {
	_, err := repo.db.NamedExecContext(ctx, `INSERT INTO achievements (`+achievementColumns+`)
VALUES (:id, :learner_id, :type, :payload, :awarded_at)`, ach)
	return ach, errors.Wrap(err, "inserting achievement")
}

func (repo *learnerRepository) QueryAchievements(ctx context.Context, learnerID int) ([]learner.Achievement, error) {
	achievements := make([]learner.Achievement, 0)
	q := "SELECT " + achievementColumns + " FROM achievements WHERE learner_id = $1" + orderBy(newestAchievementsFirst)
	err := repo.db.SelectContext(ctx, &achievements, q, learnerID)
	return achievements, errors.Wrap(err, "querying achievements")
}
