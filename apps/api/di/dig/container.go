package dig_container

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/dig"
	"go.uber.org/zap"

	echoapi "github.com/sunschool/sunschool/apps/api/echo"
	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	logsvc "github.com/sunschool/sunschool/services/logger"
	"github.com/sunschool/sunschool/storage/database"
	sqlxrepos "github.com/sunschool/sunschool/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

func newLogger(conf *core.Config, zl *zap.Logger) (core.Logger, *logsvc.RollbarLogger) {
	logger := logsvc.NewRollbarLogger(zl.Named("api"), conf)
	logger.Enable(!conf.Debug)
	return logger, logger
}

func newDBLogger(conf *core.Config, zl *zap.Logger) core.Logger {
	logger := logsvc.NewRollbarLogger(zl.Named("db"), conf)
	logger.Enable(!conf.Debug)
	return logger
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, core.DB) {
	setUp := func() (*sql.DB, error) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newKeepAlive(conf *core.Config, db *sql.DB, loggerParam DBLoggerParam) *database.KeepAlive {
	return database.NewKeepAlive(db, loggerParam.Logger, conf.Database.KeepAliveInterval)
}

func newSyncer(
	conf *core.Config,
	usrRepo user.Repository,
	lrnRepo learner.Repository,
	syncRepo dbsync.Repository,
	logger core.Logger,
) *dbsync.Syncer {
	return dbsync.NewSyncer(dbsync.SyncerDeps{
		Users:            usrRepo,
		Learners:         lrnRepo,
		Repo:             syncRepo,
		Dialer:           dbsync.PgxDialer{ConnectTimeout: 10 * time.Second},
		Logger:           logger,
		FetchConcurrency: conf.Sync.Concurrency,
	})
}

type serverParams struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	DB         core.DB
	UserSvc    *user.Service
	LearnerSvc *learner.Service
	SyncSvc    *dbsync.Service
	Validate   *validator.Validate
	Translator ut.Translator
}

func newServer(p serverParams) *echoapi.Server {
	return echoapi.NewServer(echoapi.ServerDeps{
		Conf:       p.Conf,
		Logger:     p.Logger,
		DB:         p.DB,
		UserSvc:    p.UserSvc,
		LearnerSvc: p.LearnerSvc,
		SyncSvc:    p.SyncSvc,
		Validate:   p.Validate,
		Translator: p.Translator,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(logsvc.NewZap))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newKeepAlive))
	must(c.Provide(sqlxrepos.NewUserRepository))
	must(c.Provide(sqlxrepos.NewLearnerRepository))
	must(c.Provide(sqlxrepos.NewSyncConfigRepository))
	must(c.Provide(validator.New))
	must(c.Provide(core.NewTranslator))
	must(c.Provide(user.NewService))
	must(c.Provide(learner.NewService))
	must(c.Provide(newSyncer))
	must(c.Provide(dbsync.NewService))
	must(c.Provide(newServer))

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
