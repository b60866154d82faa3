package dbsync_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	inmemdb "github.com/sunschool/sunschool/storage/database/inmem"
	testutil "github.com/sunschool/sunschool/tests"
)

// targetURLEnv names an empty database the synchronizations may overwrite.
const targetURLEnv = "TEST_TARGET_DATABASE_URL"

func TestPgxDialer_endToEnd(t *testing.T) {
	url := os.Getenv(targetURLEnv)
	if url == "" {
		t.Skipf("%s not set", targetURLEnv)
	}
	ctx := context.Background()

	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)
	lrnRepo := inmemdb.NewLearnerRepository(db)
	syncRepo := inmemdb.NewSyncConfigRepository(db)
	logger := testutil.NewLogger()
	svc := dbsync.NewService(syncRepo, dbsync.NewSyncer(dbsync.SyncerDeps{
		Users:    usrRepo,
		Learners: lrnRepo,
		Repo:     syncRepo,
		Dialer:   dbsync.PgxDialer{ConnectTimeout: 5 * time.Second},
		Logger:   logger,
	}), logger)

	env := &syncEnv{usrRepo: usrRepo, lrnRepo: lrnRepo, syncRepo: syncRepo, svc: svc}
	parent, kid := env.family(t)

	run := func(incremental bool) {
		t.Helper()
		cfg, err := svc.Create(ctx, parent.ID, dbsync.NewConfig{TargetDBURL: url, IncrementalSync: incremental})
		require.NoError(t, err)
		got, err := svc.Run(ctx, cfg.ID)
		require.NoError(t, err)
		require.Equal(t, dbsync.StatusCompleted, got.SyncStatus)
	}
	count := func(conn *pgx.Conn, table string) int {
		t.Helper()
		var n int
		require.NoError(t, conn.QueryRow(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
		return n
	}
	username := func(conn *pgx.Conn, id int) string {
		t.Helper()
		var uname string
		require.NoError(t, conn.QueryRow(ctx, "SELECT username FROM users WHERE id = $1", id).Scan(&uname))
		return uname
	}
	rename := func(usr user.User, uname string) user.User {
		t.Helper()
		usr.Username = uname
		usr.Email = uname + "@sunschool.test"
		usr, err := usrRepo.UpdateUser(ctx, usr)
		require.NoError(t, err)
		return usr
	}

	// every default sync drops & rebuilds the tables, so reruns reproduce the same rows
	run(false)
	run(false)

	conn, err := pgx.Connect(ctx, url)
	require.NoError(t, err)
	defer func() { _ = conn.Close(ctx) }()

	assertCopied := func() {
		t.Helper()
		assert.Equal(t, 2, count(conn, "users"))
		assert.Equal(t, 1, count(conn, "learner_profiles"))
		assert.Equal(t, 2, count(conn, "lessons"))
		assert.Equal(t, 1, count(conn, "achievements"))
	}
	assertCopied()

	var parentOfParent, parentOfKid *int
	require.NoError(t, conn.QueryRow(ctx, "SELECT parent_id FROM users WHERE id = $1", parent.ID).Scan(&parentOfParent))
	require.NoError(t, conn.QueryRow(ctx, "SELECT parent_id FROM users WHERE id = $1", kid.ID).Scan(&parentOfKid))
	assert.Nil(t, parentOfParent)
	require.NotNil(t, parentOfKid)
	assert.Equal(t, parent.ID, *parentOfKid)

	// incremental syncs upsert into the existing tables
	run(true)
	run(true)
	assertCopied()

	// rows added to the source since the last sync are copied too
	second := env.createUser(t, 12, "kid2", user.RoleLearner, null.IntFrom(parent.ID))
	testutil.CreateLesson(t, lrnRepo, second.ID, learner.StatusActive, time.Now())
	run(true)
	assert.Equal(t, 3, count(conn, "users"))
	assert.Equal(t, 3, count(conn, "lessons"))

	// a learner leaving the family frees their username for a new learner
	kid.ParentID = null.Int{}
	rename(kid, "kid_gone")
	third := env.createUser(t, 13, "kid", user.RoleLearner, null.IntFrom(parent.ID))
	run(true)
	assert.Equal(t, 3, count(conn, "users"))
	assert.Equal(t, "kid", username(conn, third.ID))
	assert.Equal(t, 1, count(conn, "lessons"), "the lessons of the removed learner go with them")

	// siblings swapping usernames
	second = rename(second, "swap")
	third = rename(third, "kid2")
	rename(second, "kid")
	run(true)
	assert.Equal(t, "kid", username(conn, second.ID))
	assert.Equal(t, "kid2", username(conn, third.ID))
}
