package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/sunschool/sunschool/core/dbsync"
)

const syncConfigColumns = "id, parent_id, target_db_url, last_sync_at, sync_status, error_message, " +
	"continuous_sync, incremental_sync, created_at, updated_at"

type syncConfigRepository struct {
	db *sqlx.DB
}

var _ dbsync.Repository = (*syncConfigRepository)(nil)

func NewSyncConfigRepository(db *sql.DB) dbsync.Repository {
	return &syncConfigRepository{db: sqlx.NewDb(db, driverName)}
}

func (repo *syncConfigRepository) CreateConfig(ctx context.Context, cfg dbsync.Config) (dbsync.Config, error) {
	var created dbsync.Config
	rows, err := repo.db.NamedQueryContext(ctx, `INSERT INTO db_sync_configs (`+syncConfigColumns+`)
VALUES (:id, :parent_id, :target_db_url, :last_sync_at, :sync_status, :error_message,
	:continuous_sync, :incremental_sync, :created_at, :updated_at)
RETURNING `+syncConfigColumns, cfg)
	if err != nil {
		return dbsync.Config{}, errors.Wrap(err, "inserting sync config")
	}
	if err = scanOne(rows, &created, errNoRowReturned); err != nil {
		return dbsync.Config{}, errors.Wrap(err, "inserting sync config")
	}
	return created, nil
}

func (repo *syncConfigRepository) GetConfigByID(ctx context.Context, id string) (dbsync.Config, error) {
	var cfg dbsync.Config
	err := repo.db.GetContext(ctx, &cfg, "SELECT "+syncConfigColumns+" FROM db_sync_configs WHERE id::text = $1", id)
	return cfg, trapNoRowsErr(err, dbsync.ErrNotFound)
}

func (repo *syncConfigRepository) QueryConfigsByParentID(ctx context.Context, parentID int) ([]dbsync.Config, error) {
	configs := make([]dbsync.Config, 0)
	err := repo.db.SelectContext(ctx, &configs,
		"SELECT "+syncConfigColumns+" FROM db_sync_configs WHERE parent_id = $1 ORDER BY created_at DESC, id DESC", parentID)
	return configs, errors.Wrap(err, "querying sync configs")
}

func (repo *syncConfigRepository) UpdateConfig(ctx context.Context, cfg dbsync.Config) (dbsync.Config, error) {
	var updated dbsync.Config
	rows, err := repo.db.NamedQueryContext(ctx, `UPDATE db_sync_configs
SET target_db_url = :target_db_url, continuous_sync = :continuous_sync, incremental_sync = :incremental_sync, updated_at = :updated_at
WHERE id = :id
RETURNING `+syncConfigColumns, cfg)
	if err != nil {
		return dbsync.Config{}, errors.Wrap(err, "updating sync config")
	}
	if err = scanOne(rows, &updated, dbsync.ErrNotFound); err != nil {
		return dbsync.Config{}, trapNotFound(err, dbsync.ErrNotFound, "updating sync config")
	}
	return updated, nil
}

func (repo *syncConfigRepository) DeleteConfig(ctx context.Context, id string) error {
	res, err := repo.db.ExecContext(ctx, "DELETE FROM db_sync_configs WHERE id::text = $1", id)
	if err != nil {
		return errors.Wrap(err, "deleting sync config")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return dbsync.ErrNotFound
	}
	return nil
}

func (repo *syncConfigRepository) StartSync(ctx context.Context, id string) (dbsync.Config, error) {
	var cfg dbsync.Config
	err := repo.db.GetContext(ctx, &cfg, `UPDATE db_sync_configs
SET sync_status = $2, error_message = NULL, updated_at = $3
WHERE id::text = $1 AND sync_status <> $2
RETURNING `+syncConfigColumns, id, dbsync.StatusInProgress, time.Now().UTC())
	if errors.Cause(err) != sql.ErrNoRows {
		return cfg, errors.Wrap(err, "starting sync")
	}

	// either the config does not exist or it already is in progress
	if _, err = repo.GetConfigByID(ctx, id); err != nil {
		return dbsync.Config{}, err
	}
	return dbsync.Config{}, dbsync.ErrSyncInProgress
}

func (repo *syncConfigRepository) UpdateSyncStatus(ctx context.Context, id string, upd dbsync.StatusUpdate) (dbsync.Config, error) {
	var cfg dbsync.Config
	err := repo.db.GetContext(ctx, &cfg, `UPDATE db_sync_configs
SET sync_status = $2, last_sync_at = COALESCE($3, last_sync_at), error_message = $4, updated_at = $5
WHERE id::text = $1
RETURNING `+syncConfigColumns, id, upd.Status, upd.LastSyncAt, upd.ErrorMessage, time.Now().UTC())
	return cfg, trapNoRowsErr(err, dbsync.ErrNotFound)
}

func (repo *syncConfigRepository) ForceSyncStatus(ctx context.Context, id string, upd dbsync.StatusUpdate) error {
	_, err := repo.db.ExecContext(ctx, `UPDATE db_sync_configs
SET sync_status = $2, last_sync_at = COALESCE($3, last_sync_at), error_message = $4, updated_at = $5
WHERE id::text = $1`, id, upd.Status, upd.LastSyncAt, upd.ErrorMessage, time.Now().UTC())
	return errors.Wrap(err, "forcing sync status")
}

func (repo *syncConfigRepository) ResetStuckSyncs(ctx context.Context, olderThan time.Time, msg string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `UPDATE db_sync_configs
SET sync_status = $1, error_message = $2, updated_at = $3
WHERE sync_status = $4 AND updated_at < $5`,
		dbsync.StatusFailed, msg, time.Now().UTC(), dbsync.StatusInProgress, olderThan)
	if err != nil {
		return 0, errors.Wrap(err, "resetting stuck syncs")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "resetting stuck syncs")
}
