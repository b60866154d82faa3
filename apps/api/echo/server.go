package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

type (
	ServerDeps struct {
		Conf       *core.Config
		Logger     core.Logger
		DB         core.DB // optional; pinged by the healthcheck
		UserSvc    *user.Service
		LearnerSvc *learner.Service
		SyncSvc    *dbsync.Service
		Validate   *validator.Validate
		Translator ut.Translator
	}

	Server struct {
		deps     ServerDeps
		app      *echo.Echo
		jwt      jwtConfig
		errors   chan error
		shutdown chan os.Signal
	}
)

func NewServer(deps ServerDeps) *Server {
	s := &Server{
		deps:     deps,
		app:      echo.New(),
		jwt:      newJWTConfig(deps.Conf),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *Server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !conf.TestMode {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	g := s.app.Group("/api")
	g.GET("/healthcheck", s.healthcheck)

	jwt := middleware.JWTWithConfig(s.jwt.middleware())
	registerUserAPI(g, jwt, s.jwt, s.deps.UserSvc, s.deps.LearnerSvc, s.deps.Validate)
	registerLearnerAPI(g, jwt, s.deps.UserSvc, s.deps.LearnerSvc, s.deps.Validate)
	registerSyncAPI(g, jwt, s.deps.UserSvc, s.deps.SyncSvc, s.deps.Validate)
}

// Start serves HTTP in the background. Serving errors are sent on Errors().
func (s *Server) Start() {
	go func() {
		if err := s.app.Start(s.deps.Conf.Server.Address); err != nil && err != http.ErrServerClosed {
			s.errors <- err
		}
	}()
}

func (s *Server) Errors() <-chan error {
	return s.errors
}

// ShutdownSignal receives on SIGINT, SIGTERM or a shutdown error caught by the error handler.
func (s *Server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *Server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default:
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	signal.Stop(s.shutdown)
	return s.app.Shutdown(ctx)
}

func (s *Server) Close() error {
	signal.Stop(s.shutdown)
	return s.app.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

// GenerateToken signs a token for usr with the server's secret.
func (s *Server) GenerateToken(usr user.User) (string, error) {
	return s.jwt.generateToken(s.jwt.userClaims(usr))
}

// database/sql does not export the error of a closed pool
const dbClosedMsg = "sql: database is closed"

func (s *Server) healthcheck(ctx echo.Context) error {
	if s.deps.DB != nil {
		if err := s.deps.DB.PingContext(ctx.Request().Context()); err != nil {
			// a closed pool never reopens: nothing left to serve
			if err.Error() == dbClosedMsg {
				return core.NewShutdownError("database connection pool is closed")
			}
			return echo.NewHTTPError(http.StatusServiceUnavailable, "database unreachable").SetInternal(err)
		}
	}
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok", "message": "Server is running"})
}
