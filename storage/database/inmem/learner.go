package inmemdb

import (
	"context"
	"sort"

	"github.com/sunschool/sunschool/core/learner"
)

type learnerRepository struct {
	db *learnerTables
}

var _ learner.Repository = (*learnerRepository)(nil)

func NewLearnerRepository(db *DB) learner.Repository {
	return &learnerRepository{db: db.learner}
}

func (repo *learnerRepository) GetProfile(_ context.Context, userID int) (learner.Profile, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, p := range repo.db.profiles {
		if p.UserID == userID {
			return *p, nil
		}
	}
	return learner.Profile{}, learner.ErrProfileNotFound
}

func (repo *learnerRepository) CreateProfile(_ context.Context, profile learner.Profile) (learner.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.profiles[profile.ID] = &profile
	return profile, nil
}

func (repo *learnerRepository) UpdateProfile(_ context.Context, profile learner.Profile) (learner.Profile, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.profiles[profile.ID]
	if !ok {
		return learner.Profile{}, learner.ErrProfileNotFound
	}
	profile.CreatedAt = orig.CreatedAt
	repo.db.profiles[profile.ID] = &profile
	return profile, nil
}

func (repo *learnerRepository) CreateLesson(_ context.Context, lesson learner.Lesson) (learner.Lesson, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.lessons[lesson.ID] = &lesson
	return lesson, nil
}

func (repo *learnerRepository) GetLesson(_ context.Context, id string) (learner.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if lesson, ok := repo.db.lessons[id]; ok {
		return *lesson, nil
	}
	return learner.Lesson{}, learner.ErrLessonNotFound
}

func (repo *learnerRepository) GetActiveLesson(_ context.Context, learnerID int) (learner.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, lesson := range repo.history(learnerID) {
		if lesson.Status == learner.StatusActive {
			return lesson, nil
		}
	}
	return learner.Lesson{}, learner.ErrLessonNotFound
}

// history returns the learner's lessons, newest first. The caller must hold the lock.
func (repo *learnerRepository) history(learnerID int) []learner.Lesson {
	lessons := make([]learner.Lesson, 0)
	for _, lesson := range repo.db.lessons {
		if lesson.LearnerID == learnerID {
			lessons = append(lessons, *lesson)
		}
	}
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].CreatedAt.Equal(lessons[j].CreatedAt) {
			return lessons[i].ID > lessons[j].ID
		}
		return lessons[i].CreatedAt.After(lessons[j].CreatedAt)
	})
	return lessons
}

func (repo *learnerRepository) QueryLessonHistory(_ context.Context, learnerID, limit int) ([]learner.Lesson, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	lessons := repo.history(learnerID)
	if limit > 0 && len(lessons) > limit {
		lessons = lessons[:limit]
	}
	return lessons, nil
}

func (repo *learnerRepository) CountLessons(_ context.Context, learnerID int, status string) (int, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var count int
	for _, lesson := range repo.db.lessons {
		if lesson.LearnerID == learnerID && lesson.Status == status {
			count++
		}
	}
	return count, nil
}

func (repo *learnerRepository) UpdateLesson(_ context.Context, lesson learner.Lesson) (learner.Lesson, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.lessons[lesson.ID]
	if !ok {
		return learner.Lesson{}, learner.ErrLessonNotFound
	}
	lesson.CreatedAt = orig.CreatedAt
	repo.db.lessons[lesson.ID] = &lesson
	return lesson, nil
}

func (repo *learnerRepository) CreateAchievement(_ context.Context, ach learner.Achievement) (learner.Achievement, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.achievements[ach.ID] = &ach
	return ach, nil
}

func (repo *learnerRepository) QueryAchievements(_ context.Context, learnerID int) ([]learner.Achievement, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	achievements := make([]learner.Achievement, 0)
	for _, ach := range repo.db.achievements {
		if ach.LearnerID == learnerID {
			achievements = append(achievements, *ach)
		}
	}
	sort.Slice(achievements, func(i, j int) bool {
		if achievements[i].AwardedAt.Equal(achievements[j].AwardedAt) {
			return achievements[i].ID > achievements[j].ID
		}
		return achievements[i].AwardedAt.After(achievements[j].AwardedAt)
	})
	return achievements, nil
}
