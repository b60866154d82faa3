package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
	logsvc "github.com/sunschool/sunschool/services/logger"
	"github.com/sunschool/sunschool/storage/database"
	sqlxrepos "github.com/sunschool/sunschool/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(logsvc.NewZap(conf).Named("admin"), conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	usrRepo := sqlxrepos.NewUserRepository(db)
	lrnRepo := sqlxrepos.NewLearnerRepository(db)
	syncRepo := sqlxrepos.NewSyncConfigRepository(db)
	syncer := dbsync.NewSyncer(dbsync.SyncerDeps{
		Users:            usrRepo,
		Learners:         lrnRepo,
		Repo:             syncRepo,
		Dialer:           dbsync.PgxDialer{ConnectTimeout: 10 * time.Second},
		Logger:           logger,
		FetchConcurrency: conf.Sync.Concurrency,
	})

	// start CLI
	cli := commandLine{
		db:       db,
		usrSvc:   user.NewService(usrRepo),
		lrnSvc:   learner.NewService(lrnRepo, logger),
		syncSvc:  dbsync.NewService(syncRepo, syncer, logger),
		validate: validate,
		out:      os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	logger.Sync()
	if err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
