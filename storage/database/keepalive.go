package database

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core"
)

const keepAliveTimeout = 5 * time.Second

// KeepAlive periodically runs a trivial query on the application database
// so that idle pooled connections are not dropped by the server.
type KeepAlive struct {
	db        core.DBExecutor
	logger    core.Logger
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewKeepAlive(db core.DBExecutor, logger core.Logger, interval time.Duration) *KeepAlive {
	return &KeepAlive{
		db:        db,
		logger:    logger,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the pings. It does nothing when the interval is not positive.
func (ka *KeepAlive) Start() error {
	if ka.interval <= 0 {
		return nil
	}
	if _, err := ka.scheduler.Every(ka.interval).SingletonMode().Do(ka.Ping); err != nil {
		return errors.Wrap(err, "scheduling keep-alive")
	}
	ka.scheduler.StartAsync()
	return nil
}

// Stop cancels the scheduled pings.
func (ka *KeepAlive) Stop() {
	ka.scheduler.Stop()
}

// Ping runs a single keep-alive query. Failures are logged, never returned.
func (ka *KeepAlive) Ping() {
	ctx, cancel := context.WithTimeout(context.Background(), keepAliveTimeout)
	defer cancel()

	if _, err := ka.db.ExecContext(ctx, "SELECT 1"); err != nil {
		ka.logger.Warn("database keep-alive failed", errors.Wrap(err, "keep-alive"))
	}
}
