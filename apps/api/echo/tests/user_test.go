package tests

import (
	"context"
	"database/sql"
	"net/http"
	"syscall"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/sunschool/sunschool/apps/api/echo"
	"github.com/sunschool/sunschool/core/user"
	testutil "github.com/sunschool/sunschool/tests"
)

func Test_userApi_login(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)

	body := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}
	invalidCreds := marchallObj(t, httpErr{Error: "invalid credentials"})

	tests := []httpTest{
		{
			name: "missing fields", body: body("", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{name: "unknown user", body: body("john", testutil.DefaultPassword), wantCode: http.StatusBadRequest, wantData: invalidCreds},
		{name: "wrong password", body: body("jane", "nope"), wantCode: http.StatusBadRequest, wantData: invalidCreds},
		{name: "success", body: body("jane", testutil.DefaultPassword), wantCode: http.StatusOK},
		{name: "username is case insensitive", body: body(" JANE ", testutil.DefaultPassword), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, "/api/login"
			rec := env.run(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusOK {
				var resp struct {
					Token string    `json:"token"`
					User  user.User `json:"user"`
				}
				unmarshal(t, rec, &resp)
				assert.NotEmpty(t, resp.Token)
				assert.Equal(t, parent.ID, resp.User.ID)
				assert.NotContains(t, rec.Body.String(), parent.PasswordHash)

				// the token authenticates the user
				meRec := env.run(t, httpTest{path: "/api/user", token: resp.Token})
				assert.Equal(t, http.StatusOK, meRec.Code)
			}
		})
	}
}

func Test_userApi_me(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)
	ghost := user.User{ID: 999, Username: "ghost", Role: user.RoleParent}

	tests := []httpTest{
		{name: "auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "unknown user", token: getToken(t, env.app, ghost), wantCode: http.StatusUnauthorized},
		{name: "success", token: getToken(t, env.app, parent), wantCode: http.StatusOK, wantData: marchallObj(t, parent)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.path = "/api/user"
			checkCodeAndData(t, tt, env.run(t, tt))
		})
	}
}

func Test_userApi_register(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)
	otherLearner := testutil.CreateUser(t, env.usrRepo, "Kid", "kid", user.RoleLearner, parent.ID)
	intPtr := func(i int) *int { return &i }

	newUser := func(name, uname, role string, parentID, grade *int) []byte {
		return marchallObj(t, user.NewUser{
			Name:       name,
			Username:   uname,
			Email:      uname + "@sunschool.test",
			Password:   "Str0ng-Passw0rd",
			Role:       role,
			ParentID:   parentID,
			GradeLevel: grade,
		})
	}

	tests := []httpTest{
		{
			name: "username taken", body: newUser("Jane", "jane", user.RoleParent, nil, nil), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": user.ErrUsernameExists.Error()}),
		},
		{
			name: "admin cannot register", body: newUser("Root", "root", user.RoleAdmin, nil, nil), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"role": "admin accounts cannot be registered"}),
		},
		{
			name: "learner requires a parent", body: newUser("Kid", "kid2", user.RoleLearner, nil, nil), wantCode: http.StatusBadRequest,
		},
		{
			name: "learner parent must be a parent", body: newUser("Kid", "kid3", user.RoleLearner, intPtr(otherLearner.ID), nil),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"parentId": user.ErrInvalidParent.Error()}),
		},
		{name: "parent", body: newUser("John", "john", user.RoleParent, nil, nil), wantCode: http.StatusCreated},
		{
			name: "learner with grade level", body: newUser("Kiddo", "kiddo", user.RoleLearner, intPtr(parent.ID), intPtr(3)),
			wantCode: http.StatusCreated, extra: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.method, tt.path = http.MethodPost, "/api/register"
			rec := env.run(t, tt)
			checkCodeAndData(t, tt, rec)

			if tt.wantCode == http.StatusCreated {
				var created user.User
				unmarshal(t, rec, &created)
				assert.NotZero(t, created.ID)

				if grade, ok := tt.extra.(int); ok {
					assert.Equal(t, parent.ID, created.ParentID.Int)
					profile, err := env.lrnRepo.GetProfile(context.Background(), created.ID)
					require.NoError(t, err)
					assert.Equal(t, grade, profile.GradeLevel)
				}
			}
		})
	}
}

func Test_userApi_learners(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)
	otherParent := testutil.CreateUser(t, env.usrRepo, "John Doe", "john", user.RoleParent)
	admin := testutil.CreateUser(t, env.usrRepo, "Admin", "admin", user.RoleAdmin)
	kid1 := testutil.CreateUser(t, env.usrRepo, "Kid One", "kid1", user.RoleLearner, parent.ID)
	kid2 := testutil.CreateUser(t, env.usrRepo, "Kid Two", "kid2", user.RoleLearner, parent.ID)
	testutil.CreateUser(t, env.usrRepo, "Kid Three", "kid3", user.RoleLearner, otherParent.ID)

	tests := []httpTest{
		{
			name: "learner forbidden", path: "/api/learners", token: getToken(t, env.app, kid1),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "parent", path: "/api/learners", token: getToken(t, env.app, parent),
			wantCode: http.StatusOK, wantData: marchallList(t, kid1, kid2),
		},
		{
			name: "admin without parentId", path: "/api/learners", token: getToken(t, env.app, admin),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, httpErr{Error: "parentId is required"}),
		},
		{
			name: "admin with parentId", path: "/api/learners?parentId=" + itoa(parent.ID), token: getToken(t, env.app, admin),
			wantCode: http.StatusOK, wantData: marchallList(t, kid1, kid2),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkCodeAndData(t, tt, env.run(t, tt))
		})
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	env := setup(t)
	parent := testutil.CreateUser(t, env.usrRepo, "Jane Doe", "jane", user.RoleParent)

	rec := env.run(t, httpTest{method: http.MethodPost, path: "/api/token-refresh", token: getToken(t, env.app, parent)})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp LoginResponse
	unmarshal(t, rec, &resp)
	assert.NotEmpty(t, resp.Token)
	assert.Nil(t, resp.User)
}

func Test_healthcheck(t *testing.T) {
	env := setup(t)
	tt := httpTest{
		path: "/api/healthcheck", wantCode: http.StatusOK,
		wantData: marchallObj(t, map[string]string{"status": "ok", "message": "Server is running"}),
	}
	checkCodeAndData(t, tt, env.run(t, tt))
}

func Test_healthcheck_closedDB(t *testing.T) {
	// sql.Open does not connect; a closed pool fails every ping without a server
	db, err := sql.Open("postgres", "postgres://sunschool@localhost:1/sunschool?sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	env := setup(t, db)
	tt := httpTest{
		path: "/api/healthcheck", wantCode: http.StatusInternalServerError,
		wantData: marchallObj(t, httpErr{Error: http.StatusText(http.StatusInternalServerError)}),
	}
	checkCodeAndData(t, tt, env.run(t, tt))

	select {
	case sig := <-env.app.ShutdownSignal():
		assert.Equal(t, syscall.SIGTERM, sig)
	default:
		t.Error("failed! a closed database did not shut the server down")
	}
}
