package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	inmemdb "github.com/sunschool/sunschool/storage/database/inmem"
	testutil "github.com/sunschool/sunschool/tests"
)

type testEnv struct {
	cli      *commandLine
	out      *bytes.Buffer
	usrRepo  user.Repository
	lrnRepo  learner.Repository
	syncRepo dbsync.Repository
	target   *testutil.FakeTarget
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db := inmemdb.Open()
	env := &testEnv{
		out:      new(bytes.Buffer),
		usrRepo:  inmemdb.NewUserRepository(db),
		lrnRepo:  inmemdb.NewLearnerRepository(db),
		syncRepo: inmemdb.NewSyncConfigRepository(db),
		target:   new(testutil.FakeTarget),
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	logger := testutil.NewLogger()
	syncer := dbsync.NewSyncer(dbsync.SyncerDeps{
		Users:    env.usrRepo,
		Learners: env.lrnRepo,
		Repo:     env.syncRepo,
		Dialer:   env.target,
		Logger:   logger,
	})
	env.cli = &commandLine{
		usrSvc:   user.NewService(env.usrRepo),
		lrnSvc:   learner.NewService(env.lrnRepo, logger),
		syncSvc:  dbsync.NewService(env.syncRepo, syncer, logger),
		validate: validate,
		out:      env.out,
	}

	origRead, origMigrate := readPasswordFunc, runMigrationFunc
	t.Cleanup(func() { readPasswordFunc, runMigrationFunc = origRead, origMigrate })
	return env
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, errors.Cause(err))
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), tt.wantErrStr)
		}
	default:
		assert.NoError(t, err)
	}
}

func mockPassword(pwd string) {
	readPasswordFunc = func(int) ([]byte, error) { return []byte(pwd), nil }
}

func Test_commandLine_root(t *testing.T) {
	env := setup(t)
	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErrStr: `unknown command "lol" for "admin"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, env.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	env := setup(t)

	runMigrationFunc = func(_ *sql.DB, command string, args ...string) error {
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "lessons_index", "sql"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, env.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
}

func Test_commandLine_addUser(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)
	parentID := strconv.Itoa(parent.ID)

	tests := []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no password", args: []string{"adduser", "--username", "root", "--email", "root@sunschool.test"}, wantErr: errHelp},
		{
			name: "invalid role", args: []string{"adduser", "--username", "root", "--email", "root@sunschool.test", "--role", "ROOT"},
			extra: "Learn1ng-Is-Fun", wantErrStr: "failed on the 'userrole' tag",
		},
		{
			name: "admin", args: []string{"adduser", "--username", "root", "--email", "root@sunschool.test", "--role", user.RoleAdmin},
			extra: "Learn1ng-Is-Fun",
		},
		{
			name: "username taken", args: []string{"adduser", "--username", "root", "--email", "other@sunschool.test"},
			extra: "Learn1ng-Is-Fun", wantErrStr: user.ErrUsernameExists.Error(),
		},
		{
			name: "learner", args: []string{"adduser", "--username", "kid", "--email", "kid@sunschool.test", "--role", user.RoleLearner, "--parent", parentID, "--grade", "4"},
			extra: "Learn1ng-Is-Fun",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockPassword(pwd)
			tt.check(t, env.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	ctx := context.Background()
	root, err := env.usrRepo.GetUserByUsername(ctx, "root")
	require.NoError(t, err)
	assert.True(t, root.IsAdmin())
	assert.NoError(t, root.CheckPassword("Learn1ng-Is-Fun"))

	kid, err := env.usrRepo.GetUserByUsername(ctx, "kid")
	require.NoError(t, err)
	assert.True(t, kid.IsChildOf(parent.ID))
	profile, err := env.lrnRepo.GetProfile(ctx, kid.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, profile.GradeLevel)
	assert.Contains(t, env.out.String(), `LEARNER "kid" created with ID`)
}

func Test_commandLine_resetPassword(t *testing.T) {
	env := setup(t)
	usr := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)

	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "username but no password", args: []string{"resetpassword", "--username", "jane"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "--username", "lol"}, extra: "lol", wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "--username", usr.Username}, extra: "N3w-Passw0rd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pwd, _ := tt.extra.(string)
			mockPassword(pwd)
			tt.check(t, env.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}

	refreshed, err := env.usrRepo.GetUserByID(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.NoError(t, refreshed.CheckPassword("N3w-Passw0rd"))
}

func Test_commandLine_sync(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)
	testutil.CreateUser(t, env.usrRepo, "Tom Doe", "tom", user.RoleLearner, parent.ID)
	ctx := context.Background()
	cfg, err := env.cli.syncSvc.Create(ctx, parent.ID, dbsync.NewConfig{TargetDBURL: "postgresql://u:p@localhost:5432/backup"})
	require.NoError(t, err)

	tests := []cliTest{
		{name: "sync: no id", args: []string{"sync"}, wantErr: errHelp},
		{name: "sync: unknown id", args: []string{"sync", "--id", "nope"}, wantErr: dbsync.ErrNotFound},
		{name: "sync", args: []string{"sync", "--id", cfg.ID}},
		{name: "resetsync: no id", args: []string{"resetsync"}, wantErr: errHelp},
		{name: "resetsync: not in progress", args: []string{"resetsync", "--id", cfg.ID}, wantErr: dbsync.ErrNotInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, env.cli.run(append([]string{"admin"}, tt.args...)))
		})
	}
	assert.Contains(t, env.out.String(), "sync config "+cfg.ID+": COMPLETED")
	assert.Equal(t, 2, env.target.Count("INSERT INTO users"))

	// a sync left IN_PROGRESS by a dead process
	_, err = env.syncRepo.StartSync(ctx, cfg.ID)
	require.NoError(t, err)
	require.NoError(t, env.cli.run([]string{"admin", "resetsync", "--id", cfg.ID}))
	got, err := env.syncRepo.GetConfigByID(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, dbsync.StatusFailed, got.SyncStatus)
	assert.Equal(t, resetSyncMessage, got.ErrorMessage.String)
}
