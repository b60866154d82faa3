package main

import (
	"context"
	"database/sql"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/sunschool/sunschool/apps/api/di/dig"
	echoapi "github.com/sunschool/sunschool/apps/api/echo"
	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/dbsync"
	"github.com/sunschool/sunschool/core/user"
	logsvc "github.com/sunschool/sunschool/services/logger"
	"github.com/sunschool/sunschool/services/tracing"
	"github.com/sunschool/sunschool/storage/database"
)

// syncs left IN_PROGRESS for longer than this were interrupted by a previous run
const stuckSyncAge = 30 * time.Minute

func main() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		apiLogger core.Logger,
		rollbarLogger *logsvc.RollbarLogger,
		dbLoggerParam dig_container.DBLoggerParam,
		db *sql.DB,
		keepAlive *database.KeepAlive,
		validate *validator.Validate,
		translator ut.Translator,
		syncSvc *dbsync.Service,
		server *echoapi.Server,
	) {
		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
		defer rollbarLogger.Sync()

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)

		shutdownTracing, err := tracing.Init(context.Background(), conf, apiLogger)
		if err != nil {
			apiLogger.Fatal(fmt.Sprintf("initializing tracing: %v", err), err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				apiLogger.Error("flushing traces", err)
			}
		}()

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := db.Close(); err != nil {
				dbLogger.Fatal("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

		if err = keepAlive.Start(); err != nil {
			dbLogger.Error("starting keep-alive", err)
		}
		defer keepAlive.Stop()

		if _, err = syncSvc.ResetStuck(context.Background(), stuckSyncAge); err != nil {
			dbLogger.Error("resetting interrupted synchronizations", err)
		}

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		server.Start()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}

		// syncs that do not finish in time are marked FAILED by the next start
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()
		if err := syncSvc.Wait(ctx); err != nil {
			apiLogger.Warn("synchronizations still running at shutdown", err)
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
