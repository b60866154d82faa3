package dbsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

const (
	upsertUserSQL = `INSERT INTO users (id, email, username, name, role, password, parent_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	email = $2, username = $3, name = $4, role = $5, password = $6, parent_id = $7, created_at = $8`

	upsertProfileSQL = `INSERT INTO learner_profiles (id, user_id, grade_level, graph, subjects, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	user_id = $2, grade_level = $3, graph = $4, subjects = $5, created_at = $6`

	upsertLessonSQL = `INSERT INTO lessons (id, learner_id, module_id, status, spec, score, created_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	learner_id = $2, module_id = $3, status = $4, spec = $5, score = $6, created_at = $7, completed_at = $8`

	upsertAchievementSQL = `INSERT INTO achievements (id, learner_id, type, payload, awarded_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	learner_id = $2, type = $3, payload = $4, awarded_at = $5`

	pruneChildrenSQL = `DELETE FROM users WHERE parent_id = $1 AND NOT (id = ANY($2))`
	// other rows holding a username or email about to be upserted
	pruneConflictingUsersSQL = `DELETE FROM users WHERE NOT (id = ANY($1)) AND (username = ANY($2) OR email = ANY($3))`
	// placeholders cannot collide: usernames never contain '-' and emails always contain '@'
	releaseUserNamesSQL  = `UPDATE users SET username = 'sync-' || id::text, email = 'sync-' || id::text WHERE id = ANY($1)`
	pruneProfilesSQL     = `DELETE FROM learner_profiles WHERE user_id = ANY($1) AND NOT (id::text = ANY($2))`
	pruneLessonsSQL      = `DELETE FROM lessons WHERE learner_id = ANY($1) AND NOT (id::text = ANY($2))`
	pruneAchievementsSQL = `DELETE FROM achievements WHERE learner_id = ANY($1) AND NOT (id::text = ANY($2))`
)

// jsonArg marshals v for a JSONB parameter.
func jsonArg(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "marshalling JSONB parameter")
	}
	return string(data), nil
}

func timeArg(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullIntArg(i null.Int) interface{} {
	if !i.Valid {
		return nil
	}
	return i.Int
}

func nullTimeArg(t null.Time) interface{} {
	if !t.Valid {
		return nil
	}
	return t.Time.UTC()
}

// UpsertUser inserts usr into the target, or overwrites the row with the same id.
func UpsertUser(ctx context.Context, exec Execer, usr user.User) error {
	err := exec.Exec(ctx, upsertUserSQL,
		usr.ID, usr.Email, usr.Username, usr.Name, usr.Role, usr.PasswordHash,
		nullIntArg(usr.ParentID), timeArg(usr.CreatedAt),
	)
	return errors.Wrapf(err, "upserting user %d", usr.ID)
}

func UpsertProfile(ctx context.Context, exec Execer, profile learner.Profile) error {
	graph, err := jsonArg(profile.Graph)
	if err != nil {
		return err
	}
	subjects := profile.Subjects
	if subjects == nil {
		subjects = learner.StringList{}
	}
	subjs, err := jsonArg(subjects)
	if err != nil {
		return err
	}
	err = exec.Exec(ctx, upsertProfileSQL,
		profile.ID, profile.UserID, profile.GradeLevel, graph, subjs, timeArg(profile.CreatedAt),
	)
	return errors.Wrapf(err, "upserting learner profile %s", profile.ID)
}

func UpsertLesson(ctx context.Context, exec Execer, lesson learner.Lesson) error {
	spec, err := jsonArg(lesson.Spec)
	if err != nil {
		return err
	}
	err = exec.Exec(ctx, upsertLessonSQL,
		lesson.ID, lesson.LearnerID, lesson.ModuleID, lesson.Status, spec,
		nullIntArg(lesson.Score), timeArg(lesson.CreatedAt), nullTimeArg(lesson.CompletedAt),
	)
	return errors.Wrapf(err, "upserting lesson %s", lesson.ID)
}

func UpsertAchievement(ctx context.Context, exec Execer, ach learner.Achievement) error {
	payload, err := jsonArg(ach.Payload)
	if err != nil {
		return err
	}
	err = exec.Exec(ctx, upsertAchievementSQL,
		ach.ID, ach.LearnerID, ach.Type, payload, timeArg(ach.AwardedAt),
	)
	return errors.Wrapf(err, "upserting achievement %s", ach.ID)
}

// prune deletes the target rows of the parent's subtree that no longer exist in the source,
// and frees the usernames & emails of the users about to be upserted.
func prune(ctx context.Context, exec Execer, snap *snapshot) error {
	childIDs := make([]int64, 0, len(snap.learners))
	userIDs := []int64{int64(snap.parent.ID)}
	usernames := []string{snap.parent.Username}
	emails := []string{snap.parent.Email}
	// learners whose history was capped keep their older lessons in the target
	uncappedIDs := make([]int64, 0, len(snap.learners))
	profileIDs, lessonIDs, achievementIDs := []string{}, []string{}, []string{}
	for _, ld := range snap.learners {
		childIDs = append(childIDs, int64(ld.user.ID))
		userIDs = append(userIDs, int64(ld.user.ID))
		usernames = append(usernames, ld.user.Username)
		emails = append(emails, ld.user.Email)
		if ld.profile != nil {
			profileIDs = append(profileIDs, ld.profile.ID)
		}
		if !ld.capped {
			uncappedIDs = append(uncappedIDs, int64(ld.user.ID))
		}
		for _, lesson := range ld.lessons {
			lessonIDs = append(lessonIDs, lesson.ID)
		}
		for _, ach := range ld.achievements {
			achievementIDs = append(achievementIDs, ach.ID)
		}
	}

	// dependents of removed children go with them (ON DELETE CASCADE)
	if err := exec.Exec(ctx, pruneChildrenSQL, snap.parent.ID, childIDs); err != nil {
		return errors.Wrap(err, "pruning removed learners")
	}
	if err := exec.Exec(ctx, pruneConflictingUsersSQL, userIDs, usernames, emails); err != nil {
		return errors.Wrap(err, "pruning users with conflicting usernames")
	}
	if err := exec.Exec(ctx, releaseUserNamesSQL, userIDs); err != nil {
		return errors.Wrap(err, "releasing usernames")
	}
	if err := exec.Exec(ctx, pruneProfilesSQL, childIDs, profileIDs); err != nil {
		return errors.Wrap(err, "pruning removed learner profiles")
	}
	if err := exec.Exec(ctx, pruneLessonsSQL, uncappedIDs, lessonIDs); err != nil {
		return errors.Wrap(err, "pruning removed lessons")
	}
	if err := exec.Exec(ctx, pruneAchievementsSQL, childIDs, achievementIDs); err != nil {
		return errors.Wrap(err, "pruning removed achievements")
	}
	return nil
}
