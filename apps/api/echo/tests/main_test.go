package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"

	. "github.com/sunschool/sunschool/apps/api/echo"
	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	inmemdb "github.com/sunschool/sunschool/storage/database/inmem"
	testutil "github.com/sunschool/sunschool/tests"
)

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testEnv struct {
	app      *Server
	usrRepo  user.Repository
	lrnRepo  learner.Repository
	syncRepo dbsync.Repository
	syncSvc  *dbsync.Service
	target   *testutil.FakeTarget
}

// setup builds a server on in-memory repositories. db, when given, is pinged by the healthcheck.
func setup(t *testing.T, db ...core.DB) *testEnv {
	t.Helper()
	var sourceDB core.DB
	if len(db) > 0 {
		sourceDB = db[0]
	}
	conf := &core.Config{
		Env:                       "TEST",
		TestMode:                  true,
		AppName:                   "Sunschool",
		SecretKey:                 "test-secret",
		JWTExpirationDelta:        time.Hour,
		JWTRefreshExpirationDelta: time.Hour,
	}
	logger := testutil.NewLogger()

	// set up DB & repos
	mem := inmemdb.Open()
	env := &testEnv{
		usrRepo:  inmemdb.NewUserRepository(mem),
		lrnRepo:  inmemdb.NewLearnerRepository(mem),
		syncRepo: inmemdb.NewSyncConfigRepository(mem),
		target:   new(testutil.FakeTarget),
	}

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrSvc := user.NewService(env.usrRepo)
	lrnSvc := learner.NewService(env.lrnRepo, logger)
	syncer := dbsync.NewSyncer(dbsync.SyncerDeps{
		Users:    env.usrRepo,
		Learners: env.lrnRepo,
		Repo:     env.syncRepo,
		Dialer:   env.target,
		Logger:   logger,
	})
	env.syncSvc = dbsync.NewService(env.syncRepo, syncer, logger)
	t.Cleanup(func() { env.waitSyncs(t) })

	// set up server
	env.app = NewServer(ServerDeps{
		Conf:       conf,
		Logger:     logger,
		DB:         sourceDB,
		UserSvc:    usrSvc,
		LearnerSvc: lrnSvc,
		SyncSvc:    env.syncSvc,
		Validate:   validate,
		Translator: translator,
	})
	t.Cleanup(func() { _ = env.app.Close() })
	return env
}

func (env *testEnv) waitSyncs(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.syncSvc.Wait(ctx); err != nil {
		t.Fatalf("waitSyncs() failed: %v", err)
	}
}

func (env *testEnv) run(t *testing.T, tt httpTest) *httptest.ResponseRecorder {
	t.Helper()
	req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
	env.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	if method == "" {
		method = http.MethodGet
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func getToken(t *testing.T, app *Server, usr user.User) string {
	t.Helper()
	token, err := app.GenerateToken(usr)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dest); err != nil {
		t.Fatalf("unmarshal(%s) failed: %v", rec.Body.String(), err)
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func itoa(i int) string { return strconv.Itoa(i) }
