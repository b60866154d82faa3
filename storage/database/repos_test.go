package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	inmemdb "github.com/sunschool/sunschool/storage/database/inmem"
	sqlxrepos "github.com/sunschool/sunschool/storage/database/sqlx"
	testutil "github.com/sunschool/sunschool/tests"
)

type repos struct {
	users    user.Repository
	learners learner.Repository
	syncs    dbsync.Repository
}

// backends runs fn against every repository implementation.
// The Postgres one is skipped unless testutil.DatabaseURLEnv is set.
func backends(t *testing.T, fn func(t *testing.T, r repos)) {
	t.Run("inmem", func(t *testing.T) {
		db := inmemdb.Open()
		fn(t, repos{
			users:    inmemdb.NewUserRepository(db),
			learners: inmemdb.NewLearnerRepository(db),
			syncs:    inmemdb.NewSyncConfigRepository(db),
		})
	})
	t.Run("postgres", func(t *testing.T) {
		db := testutil.PrepareDB(t)
		fn(t, repos{
			users:    sqlxrepos.NewUserRepository(db),
			learners: sqlxrepos.NewLearnerRepository(db),
			syncs:    sqlxrepos.NewSyncConfigRepository(db),
		})
	})
}

func TestUserRepository(t *testing.T) {
	backends(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		parent := testutil.CreateUser(t, r.users, "Jane Doe", "jane", user.RoleParent)
		kid := testutil.CreateUser(t, r.users, "Tom Doe", "tom", user.RoleLearner, parent.ID)
		testutil.CreateUser(t, r.users, "Other", "other", user.RoleParent)

		got, err := r.users.GetUserByID(ctx, kid.ID)
		require.NoError(t, err)
		assert.Equal(t, kid.Username, got.Username)
		assert.Equal(t, null.IntFrom(parent.ID), got.ParentID)
		assert.Equal(t, kid.PasswordHash, got.PasswordHash)

		_, err = r.users.GetUserByID(ctx, 999)
		assert.Equal(t, user.ErrNotFound, err)
		_, err = r.users.GetUserByUsername(ctx, "nobody")
		assert.Equal(t, user.ErrNotFound, err)

		assert.Equal(t, user.ErrUsernameExists, r.users.CheckUsernameUniqueness(ctx, "jane", "new@sunschool.test"))
		assert.Equal(t, user.ErrEmailExists, r.users.CheckUsernameUniqueness(ctx, "new", "jane@sunschool.test"))
		assert.NoError(t, r.users.CheckUsernameUniqueness(ctx, "jane", "jane@sunschool.test", parent))

		children, err := r.users.QueryUsersByParentID(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, kid.ID, children[0].ID)

		kid.Name = "Thomas Doe"
		updated, err := r.users.UpdateUser(ctx, kid)
		require.NoError(t, err)
		assert.Equal(t, "Thomas Doe", updated.Name)
		_, err = r.users.UpdateUser(ctx, user.User{ID: 999, Username: "ghost", Email: "ghost@sunschool.test", Role: user.RoleParent})
		assert.Equal(t, user.ErrNotFound, err)
	})
}

func TestLearnerRepository(t *testing.T) {
	backends(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		parent := testutil.CreateUser(t, r.users, "Jane Doe", "jane", user.RoleParent)
		kid := testutil.CreateUser(t, r.users, "Tom Doe", "tom", user.RoleLearner, parent.ID)

		_, err := r.learners.GetProfile(ctx, kid.ID)
		assert.Equal(t, learner.ErrProfileNotFound, err)
		profile := testutil.CreateProfile(t, r.learners, kid.ID, 4)
		got, err := r.learners.GetProfile(ctx, kid.ID)
		require.NoError(t, err)
		assert.Equal(t, profile.ID, got.ID)
		assert.Equal(t, profile.Graph, got.Graph)
		assert.Equal(t, profile.Subjects, got.Subjects)

		got.GradeLevel = 5
		got.Subjects = learner.StringList{"Math", "Art"}
		updated, err := r.learners.UpdateProfile(ctx, got)
		require.NoError(t, err)
		assert.Equal(t, 5, updated.GradeLevel)
		assert.Equal(t, learner.StringList{"Math", "Art"}, updated.Subjects)

		now := time.Now()
		oldest := testutil.CreateLesson(t, r.learners, kid.ID, learner.StatusDone, now.Add(-2*time.Hour))
		middle := testutil.CreateLesson(t, r.learners, kid.ID, learner.StatusDone, now.Add(-time.Hour))
		newest := testutil.CreateLesson(t, r.learners, kid.ID, learner.StatusActive, now)

		history, err := r.learners.QueryLessonHistory(ctx, kid.ID, 2)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, newest.ID, history[0].ID)
		assert.Equal(t, middle.ID, history[1].ID)
		assert.Equal(t, newest.Spec, history[0].Spec)

		history, err = r.learners.QueryLessonHistory(ctx, kid.ID, 0)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, oldest.ID, history[2].ID)
		assert.Equal(t, null.IntFrom(50), history[2].Score)

		active, err := r.learners.GetActiveLesson(ctx, kid.ID)
		require.NoError(t, err)
		assert.Equal(t, newest.ID, active.ID)
		got2, err := r.learners.GetLesson(ctx, oldest.ID)
		require.NoError(t, err)
		assert.Equal(t, oldest.ModuleID, got2.ModuleID)
		_, err = r.learners.GetLesson(ctx, "not-a-uuid")
		assert.Equal(t, learner.ErrLessonNotFound, err)

		done, err := r.learners.CountLessons(ctx, kid.ID, learner.StatusDone)
		require.NoError(t, err)
		assert.Equal(t, 2, done)

		active.Status = learner.StatusDone
		active.Score = null.IntFrom(100)
		active, err = r.learners.UpdateLesson(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, learner.StatusDone, active.Status)
		_, err = r.learners.GetActiveLesson(ctx, kid.ID)
		assert.Equal(t, learner.ErrLessonNotFound, err)

		first := testutil.CreateAchievement(t, r.learners, kid.ID, learner.AchievementFirstLesson)
		achievements, err := r.learners.QueryAchievements(ctx, kid.ID)
		require.NoError(t, err)
		require.Len(t, achievements, 1)
		assert.Equal(t, first.Payload, achievements[0].Payload)
	})
}

func TestSyncConfigRepository(t *testing.T) {
	backends(t, func(t *testing.T, r repos) {
		ctx := context.Background()
		parent := testutil.CreateUser(t, r.users, "Jane Doe", "jane", user.RoleParent)
		now := time.Now().UTC().Truncate(time.Microsecond)
		cfg, err := r.syncs.CreateConfig(ctx, dbsync.Config{
			ID:          uuid.NewString(),
			ParentID:    parent.ID,
			TargetDBURL: "postgresql://u:p@localhost:5432/backup",
			SyncStatus:  dbsync.StatusIdle,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		require.NoError(t, err)

		_, err = r.syncs.GetConfigByID(ctx, uuid.NewString())
		assert.Equal(t, dbsync.ErrNotFound, err)
		_, err = r.syncs.StartSync(ctx, uuid.NewString())
		assert.Equal(t, dbsync.ErrNotFound, err)

		started, err := r.syncs.StartSync(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Equal(t, dbsync.StatusInProgress, started.SyncStatus)
		_, err = r.syncs.StartSync(ctx, cfg.ID)
		assert.Equal(t, dbsync.ErrSyncInProgress, err)

		failed, err := r.syncs.UpdateSyncStatus(ctx, cfg.ID, dbsync.StatusUpdate{
			Status:       dbsync.StatusFailed,
			LastSyncAt:   null.TimeFrom(now),
			ErrorMessage: null.StringFrom("boom"),
		})
		require.NoError(t, err)
		assert.Equal(t, dbsync.StatusFailed, failed.SyncStatus)
		assert.Equal(t, "boom", failed.ErrorMessage.String)
		assert.True(t, failed.LastSyncAt.Valid)

		// a new attempt clears the previous error
		restarted, err := r.syncs.StartSync(ctx, cfg.ID)
		require.NoError(t, err)
		assert.False(t, restarted.ErrorMessage.Valid)
		assert.True(t, restarted.LastSyncAt.Valid)

		_, err = r.syncs.UpdateSyncStatus(ctx, uuid.NewString(), dbsync.StatusUpdate{Status: dbsync.StatusCompleted})
		assert.Equal(t, dbsync.ErrNotFound, err)
		require.NoError(t, r.syncs.ForceSyncStatus(ctx, cfg.ID, dbsync.StatusUpdate{Status: dbsync.StatusCompleted}))
		got, err := r.syncs.GetConfigByID(ctx, cfg.ID)
		require.NoError(t, err)
		assert.Equal(t, dbsync.StatusCompleted, got.SyncStatus)
		assert.True(t, got.LastSyncAt.Valid, "a null LastSyncAt keeps the previous one")

		_, err = r.syncs.StartSync(ctx, cfg.ID)
		require.NoError(t, err)
		n, err := r.syncs.ResetStuckSyncs(ctx, time.Now().UTC().Add(time.Minute), "interrupted")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got.ContinuousSync = true
		updated, err := r.syncs.UpdateConfig(ctx, got)
		require.NoError(t, err)
		assert.True(t, updated.ContinuousSync)
		assert.Equal(t, dbsync.StatusFailed, updated.SyncStatus, "UpdateConfig leaves the sync status alone")

		configs, err := r.syncs.QueryConfigsByParentID(ctx, parent.ID)
		require.NoError(t, err)
		require.Len(t, configs, 1)

		require.NoError(t, r.syncs.DeleteConfig(ctx, cfg.ID))
		assert.Equal(t, dbsync.ErrNotFound, r.syncs.DeleteConfig(ctx, cfg.ID))
	})
}
