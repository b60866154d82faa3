package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core/dbsync"
)

type syncConfigRepository struct {
	db *syncConfigTable
}

var _ dbsync.Repository = (*syncConfigRepository)(nil)

func NewSyncConfigRepository(db *DB) dbsync.Repository {
	return &syncConfigRepository{db: db.sync}
}

func (repo *syncConfigRepository) CreateConfig(_ context.Context, cfg dbsync.Config) (dbsync.Config, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.table[cfg.ID] = &cfg
	return cfg, nil
}

func (repo *syncConfigRepository) GetConfigByID(_ context.Context, id string) (dbsync.Config, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if cfg, ok := repo.db.table[id]; ok {
		return *cfg, nil
	}
	return dbsync.Config{}, dbsync.ErrNotFound
}

func (repo *syncConfigRepository) QueryConfigsByParentID(_ context.Context, parentID int) ([]dbsync.Config, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	configs := make([]dbsync.Config, 0)
	for _, cfg := range repo.db.table {
		if cfg.ParentID == parentID {
			configs = append(configs, *cfg)
		}
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].CreatedAt.Equal(configs[j].CreatedAt) {
			return configs[i].ID > configs[j].ID
		}
		return configs[i].CreatedAt.After(configs[j].CreatedAt)
	})
	return configs, nil
}

func (repo *syncConfigRepository) UpdateConfig(_ context.Context, cfg dbsync.Config) (dbsync.Config, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.table[cfg.ID]
	if !ok {
		return dbsync.Config{}, dbsync.ErrNotFound
	}
	orig.TargetDBURL = cfg.TargetDBURL
	orig.ContinuousSync = cfg.ContinuousSync
	orig.IncrementalSync = cfg.IncrementalSync
	orig.UpdatedAt = cfg.UpdatedAt
	return *orig, nil
}

func (repo *syncConfigRepository) DeleteConfig(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[id]; !ok {
		return dbsync.ErrNotFound
	}
	delete(repo.db.table, id)
	return nil
}

func (repo *syncConfigRepository) StartSync(_ context.Context, id string) (dbsync.Config, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cfg, ok := repo.db.table[id]
	if !ok {
		return dbsync.Config{}, dbsync.ErrNotFound
	}
	if cfg.SyncStatus == dbsync.StatusInProgress {
		return dbsync.Config{}, dbsync.ErrSyncInProgress
	}
	cfg.SyncStatus = dbsync.StatusInProgress
	cfg.ErrorMessage = null.String{}
	cfg.UpdatedAt = time.Now().UTC()
	return *cfg, nil
}

func applyStatus(cfg *dbsync.Config, upd dbsync.StatusUpdate) {
	cfg.SyncStatus = upd.Status
	if upd.LastSyncAt.Valid {
		cfg.LastSyncAt = upd.LastSyncAt
	}
	cfg.ErrorMessage = upd.ErrorMessage
	cfg.UpdatedAt = time.Now().UTC()
}

func (repo *syncConfigRepository) UpdateSyncStatus(_ context.Context, id string, upd dbsync.StatusUpdate) (dbsync.Config, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	cfg, ok := repo.db.table[id]
	if !ok {
		return dbsync.Config{}, dbsync.ErrNotFound
	}
	applyStatus(cfg, upd)
	return *cfg, nil
}

func (repo *syncConfigRepository) ForceSyncStatus(_ context.Context, id string, upd dbsync.StatusUpdate) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if cfg, ok := repo.db.table[id]; ok {
		applyStatus(cfg, upd)
	}
	return nil
}

func (repo *syncConfigRepository) ResetStuckSyncs(_ context.Context, olderThan time.Time, msg string) (int, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	var n int
	for _, cfg := range repo.db.table {
		if cfg.SyncStatus == dbsync.StatusInProgress && cfg.UpdatedAt.Before(olderThan) {
			applyStatus(cfg, dbsync.StatusUpdate{Status: dbsync.StatusFailed, ErrorMessage: null.StringFrom(msg)})
			n++
		}
	}
	return n, nil
}
