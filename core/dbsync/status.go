package dbsync

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core"
)

// statusTracker writes the outcome of a sync attempt back on its Config.
// Errors are logged and swallowed: the attempt's own outcome has already been decided.
type statusTracker struct {
	repo   Repository
	logger core.Logger
	now    func() time.Time
}

func (st *statusTracker) completed(ctx context.Context, id string) {
	st.update(ctx, id, StatusUpdate{
		Status:     StatusCompleted,
		LastSyncAt: null.TimeFrom(st.now()),
	})
}

func (st *statusTracker) failed(ctx context.Context, id string, cause error) {
	msg := defaultFailureMessage
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	st.update(ctx, id, StatusUpdate{
		Status:       StatusFailed,
		LastSyncAt:   null.TimeFrom(st.now()),
		ErrorMessage: null.StringFrom(msg),
	})
}

// update tries the repository update first, then a direct update of the row by id if no row was updated.
// Neither is retried.
func (st *statusTracker) update(ctx context.Context, id string, upd StatusUpdate) {
	_, err := st.repo.UpdateSyncStatus(ctx, id, upd)
	if err == nil {
		st.logger.Info(fmt.Sprintf("sync config %s: status set to %s", id, upd.Status))
		return
	}
	if errors.Cause(err) != ErrNotFound {
		st.logger.Error(fmt.Sprintf("sync config %s: updating status to %s", id, upd.Status), err)
		return
	}

	st.logger.Warn(fmt.Sprintf("sync config %s: no row updated, falling back to direct update", id))
	if err = st.repo.ForceSyncStatus(ctx, id, upd); err != nil {
		st.logger.Error(fmt.Sprintf("sync config %s: direct status update to %s", id, upd.Status), err)
		return
	}
	st.logger.Info(fmt.Sprintf("sync config %s: status set to %s (direct update)", id, upd.Status))
}
