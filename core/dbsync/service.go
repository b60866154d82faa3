package dbsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"

	"github.com/sunschool/sunschool/core"
)

var (
	// errors
	ErrNotFound         = errors.New("sync configuration not found")
	ErrPermissionDenied = errors.New("sync configuration belongs to another parent")
	ErrSyncInProgress   = errors.New("a synchronization is already in progress")
	ErrNotInProgress    = errors.New("no synchronization is in progress")
)

type (
	Repository interface {
		CreateConfig(ctx context.Context, cfg Config) (Config, error)
		GetConfigByID(ctx context.Context, id string) (Config, error)
		// QueryConfigsByParentID returns the parent's configs, newest first.
		QueryConfigsByParentID(ctx context.Context, parentID int) ([]Config, error)
		// UpdateConfig saves TargetDBURL, ContinuousSync & IncrementalSync.
		UpdateConfig(ctx context.Context, cfg Config) (Config, error)
		DeleteConfig(ctx context.Context, id string) error

		// StartSync atomically moves the config to IN_PROGRESS, clearing its error message.
		// It fails with ErrSyncInProgress when the config already is IN_PROGRESS.
		StartSync(ctx context.Context, id string) (Config, error)
		// UpdateSyncStatus returns ErrNotFound when no row was updated.
		UpdateSyncStatus(ctx context.Context, id string, upd StatusUpdate) (Config, error)
		// ForceSyncStatus updates the row by id without reading it back.
		ForceSyncStatus(ctx context.Context, id string, upd StatusUpdate) error
		// ResetStuckSyncs moves IN_PROGRESS configs last updated before olderThan to FAILED.
		ResetStuckSyncs(ctx context.Context, olderThan time.Time, msg string) (int, error)
	}

	Service struct {
		repo   Repository
		syncer *Syncer
		logger core.Logger
		wg     sync.WaitGroup
	}
)

func NewService(repo Repository, syncer *Syncer, logger core.Logger) *Service {
	return &Service{repo: repo, syncer: syncer, logger: logger}
}

func (svc *Service) Create(ctx context.Context, parentID int, nc NewConfig) (Config, error) {
	now := time.Now().UTC()
	return svc.repo.CreateConfig(ctx, Config{
		ID:              uuid.NewString(),
		ParentID:        parentID,
		TargetDBURL:     nc.TargetDBURL,
		SyncStatus:      StatusIdle,
		ContinuousSync:  nc.ContinuousSync,
		IncrementalSync: nc.IncrementalSync,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
}

func (svc *Service) Query(ctx context.Context, parentID int) ([]Config, error) {
	return svc.repo.QueryConfigsByParentID(ctx, parentID)
}

// Get returns the config if it belongs to parentID.
func (svc *Service) Get(ctx context.Context, parentID int, id string) (Config, error) {
	cfg, err := svc.repo.GetConfigByID(ctx, id)
	if err != nil {
		return Config{}, err
	}
	if cfg.ParentID != parentID {
		return Config{}, ErrPermissionDenied
	}
	return cfg, nil
}

// GetByID returns the config whoever owns it.
func (svc *Service) GetByID(ctx context.Context, id string) (Config, error) {
	return svc.repo.GetConfigByID(ctx, id)
}

func (svc *Service) Update(ctx context.Context, parentID int, id string, uc UpdateConfig) (Config, error) {
	cfg, err := svc.Get(ctx, parentID, id)
	if err != nil {
		return Config{}, err
	}
	if uc.TargetDBURL != "" {
		cfg.TargetDBURL = uc.TargetDBURL
	}
	if uc.ContinuousSync != nil {
		cfg.ContinuousSync = *uc.ContinuousSync
	}
	if uc.IncrementalSync != nil {
		cfg.IncrementalSync = *uc.IncrementalSync
	}
	cfg.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateConfig(ctx, cfg)
}

func (svc *Service) Delete(ctx context.Context, parentID int, id string) error {
	if _, err := svc.Get(ctx, parentID, id); err != nil {
		return err
	}
	return svc.repo.DeleteConfig(ctx, id)
}

// Trigger marks the config IN_PROGRESS and starts synchronizing it in the background.
// It returns as soon as the sync has started; its outcome is recorded on the config.
func (svc *Service) Trigger(ctx context.Context, parentID int, id string) (Config, error) {
	if _, err := svc.Get(ctx, parentID, id); err != nil {
		return Config{}, err
	}
	cfg, err := svc.repo.StartSync(ctx, id)
	if err != nil {
		return Config{}, err
	}

	svc.wg.Add(1)
	go func() {
		defer svc.wg.Done()
		// not bound to the request: the sync outlives it
		_ = svc.syncer.Synchronize(context.Background(), parentID, cfg)
	}()
	return cfg, nil
}

// Run marks the config IN_PROGRESS and synchronizes it before returning.
func (svc *Service) Run(ctx context.Context, id string) (Config, error) {
	cfg, err := svc.repo.StartSync(ctx, id)
	if err != nil {
		return Config{}, err
	}
	syncErr := svc.syncer.Synchronize(ctx, cfg.ParentID, cfg)
	// the recorded outcome is read back even when ctx was cancelled
	cfg, err = svc.repo.GetConfigByID(context.WithoutCancel(ctx), id)
	if err != nil {
		return Config{}, err
	}
	return cfg, syncErr
}

// ResetStuck marks as FAILED the syncs left IN_PROGRESS for longer than maxAge,
// e.g. by a process that crashed mid-sync.
func (svc *Service) ResetStuck(ctx context.Context, maxAge time.Duration) (int, error) {
	n, err := svc.repo.ResetStuckSyncs(ctx, time.Now().UTC().Add(-maxAge), "Synchronization interrupted")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		svc.logger.Warn(fmt.Sprintf("reset %d interrupted synchronization(s)", n))
	}
	return n, nil
}

// Reset marks an IN_PROGRESS config as FAILED, for syncs known to be dead.
func (svc *Service) Reset(ctx context.Context, id, msg string) (Config, error) {
	cfg, err := svc.repo.GetConfigByID(ctx, id)
	if err != nil {
		return Config{}, err
	}
	if cfg.SyncStatus != StatusInProgress {
		return cfg, ErrNotInProgress
	}
	return svc.repo.UpdateSyncStatus(ctx, id, StatusUpdate{
		Status:       StatusFailed,
		ErrorMessage: null.StringFrom(msg),
	})
}

// Wait blocks until the background syncs are done or ctx is done.
func (svc *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		svc.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
