package dbsync

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sunschool/sunschool/core"
	"github.com/sunschool/sunschool/core/learner"
	"github.com/sunschool/sunschool/core/user"
)

const tracerName = "github.com/sunschool/sunschool/core/dbsync"

type (
	// UserSource reads the users to replicate.
	UserSource interface {
		GetUserByID(ctx context.Context, id int) (user.User, error)
		QueryUsersByParentID(ctx context.Context, parentID int) ([]user.User, error)
	}

	// LearnerSource reads the learner data to replicate.
	LearnerSource interface {
		GetProfile(ctx context.Context, userID int) (learner.Profile, error)
		QueryLessonHistory(ctx context.Context, learnerID, limit int) ([]learner.Lesson, error)
		QueryAchievements(ctx context.Context, learnerID int) ([]learner.Achievement, error)
	}

	SyncerDeps struct {
		Users    UserSource
		Learners LearnerSource
		Repo     Repository
		Dialer   Dialer
		Logger   core.Logger
		// FetchConcurrency bounds how many learners are read at once. Defaults to 1.
		FetchConcurrency int
	}

	// Syncer copies a parent's account, their learners & the learners' data into an external database.
	Syncer struct {
		users       UserSource
		learners    LearnerSource
		dialer      Dialer
		logger      core.Logger
		tracker     *statusTracker
		tracer      trace.Tracer
		concurrency int
	}

	learnerData struct {
		user         user.User
		profile      *learner.Profile
		lessons      []learner.Lesson
		achievements []learner.Achievement
		capped       bool
	}

	snapshot struct {
		parent   user.User
		learners []learnerData
	}
)

func NewSyncer(deps SyncerDeps) *Syncer {
	concurrency := deps.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Syncer{
		users:    deps.Users,
		learners: deps.Learners,
		dialer:   deps.Dialer,
		logger:   deps.Logger,
		tracker: &statusTracker{
			repo:   deps.Repo,
			logger: deps.Logger,
			now:    func() time.Time { return time.Now().UTC() },
		},
		tracer:      otel.Tracer(tracerName),
		concurrency: concurrency,
	}
}

// Synchronize runs one synchronization attempt of cfg for parentID and records its outcome on cfg.
// cfg must belong to parentID. The returned error is the cause of a failed attempt;
// the Config has already been marked FAILED by then.
func (s *Syncer) Synchronize(ctx context.Context, parentID int, cfg Config) (err error) {
	ctx, span := s.tracer.Start(ctx, "dbsync.Synchronize", trace.WithAttributes(
		attribute.String("sync.config_id", cfg.ID),
		attribute.Int("sync.parent_id", parentID),
		attribute.Bool("sync.incremental", cfg.IncrementalSync),
	))
	defer span.End()

	start := time.Now()
	s.logger.Info(fmt.Sprintf("sync config %s: starting synchronization for parent %d", cfg.ID, parentID))

	// the outcome is recorded even when ctx was cancelled mid-sync
	statusCtx := context.WithoutCancel(ctx)

	if err = s.run(ctx, parentID, cfg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error(fmt.Sprintf("sync config %s: synchronization failed", cfg.ID), err)
		s.tracker.failed(statusCtx, cfg.ID, err)
		return err
	}

	s.logger.Info(fmt.Sprintf("sync config %s: synchronization completed in %v", cfg.ID, time.Since(start)))
	s.tracker.completed(statusCtx, cfg.ID)
	return nil
}

func (s *Syncer) run(ctx context.Context, parentID int, cfg Config) (err error) {
	target, err := s.dialer.Dial(ctx, cfg.TargetDBURL)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := target.Close(context.Background()); cErr != nil {
			s.logger.Warn(fmt.Sprintf("sync config %s: closing target connection", cfg.ID), cErr)
		}
	}()

	tx, err := target.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(context.Background()); rbErr != nil {
			s.logger.Warn(fmt.Sprintf("sync config %s: rolling back target transaction", cfg.ID), rbErr)
		}
	}()

	snap, err := s.fetch(ctx, parentID, cfg.ID)
	if err != nil {
		return err
	}

	if err = s.initSchema(ctx, tx, !cfg.IncrementalSync); err != nil {
		return err
	}

	if err = s.replicate(ctx, tx, snap, cfg.IncrementalSync); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "committing target transaction")
	}
	return nil
}

// fetch reads everything to replicate from the source.
// Learners are read concurrently; their order is the order of the parent's children.
func (s *Syncer) fetch(ctx context.Context, parentID int, cfgID string) (*snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "dbsync.fetch")
	defer span.End()

	parent, err := s.users.GetUserByID(ctx, parentID)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errors.Errorf("parent with ID %d not found", parentID)
		}
		return nil, errors.Wrap(err, "fetching parent")
	}

	children, err := s.users.QueryUsersByParentID(ctx, parent.ID)
	if err != nil {
		return nil, errors.Wrap(err, "fetching children")
	}

	learners := make([]learnerData, len(children))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, child := range children {
		g.Go(func() error {
			ld, err := s.fetchLearner(gctx, child)
			if err != nil {
				return err
			}
			if ld.capped {
				s.logger.Warn(fmt.Sprintf(
					"sync config %s: learner %d has more than %d lessons, older lessons are not copied",
					cfgID, child.ID, LessonHistoryLimit,
				))
			}
			learners[i] = ld
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("sync.learners", len(learners)))
	return &snapshot{parent: parent, learners: learners}, nil
}

func (s *Syncer) fetchLearner(ctx context.Context, child user.User) (learnerData, error) {
	ld := learnerData{user: child}

	profile, err := s.learners.GetProfile(ctx, child.ID)
	switch errors.Cause(err) {
	case nil:
		ld.profile = &profile
	case learner.ErrProfileNotFound:
	default:
		return ld, errors.Wrapf(err, "fetching learner profile of user %d", child.ID)
	}

	if ld.lessons, err = s.learners.QueryLessonHistory(ctx, child.ID, LessonHistoryLimit); err != nil {
		return ld, errors.Wrapf(err, "fetching lessons of user %d", child.ID)
	}
	ld.capped = len(ld.lessons) >= LessonHistoryLimit

	if ld.achievements, err = s.learners.QueryAchievements(ctx, child.ID); err != nil {
		return ld, errors.Wrapf(err, "fetching achievements of user %d", child.ID)
	}
	return ld, nil
}

func (s *Syncer) initSchema(ctx context.Context, exec Execer, replace bool) error {
	ctx, span := s.tracer.Start(ctx, "dbsync.schema", trace.WithAttributes(attribute.Bool("sync.replace_schema", replace)))
	defer span.End()

	if replace {
		return ReplaceSchema(ctx, exec)
	}
	return EnsureSchema(ctx, exec)
}

// replicate upserts the snapshot: the parent, then the children, then their profiles, lessons & achievements.
// When incremental, the target rows removed from the source are deleted first, so their
// usernames & emails are free again for the upserts.
func (s *Syncer) replicate(ctx context.Context, exec Execer, snap *snapshot, incremental bool) error {
	ctx, span := s.tracer.Start(ctx, "dbsync.replicate")
	defer span.End()

	if incremental {
		if err := prune(ctx, exec, snap); err != nil {
			return err
		}
	}

	// the parent's own parent is not part of the copy
	parent := snap.parent
	parent.ParentID.Valid = false
	parent.ParentID.Int = 0
	if err := UpsertUser(ctx, exec, parent); err != nil {
		return err
	}

	for _, ld := range snap.learners {
		if err := UpsertUser(ctx, exec, ld.user); err != nil {
			return err
		}
	}

	var lessons, achievements int
	for _, ld := range snap.learners {
		if ld.profile != nil {
			if err := UpsertProfile(ctx, exec, *ld.profile); err != nil {
				return err
			}
		}
	}
	for _, ld := range snap.learners {
		for _, lesson := range ld.lessons {
			if err := UpsertLesson(ctx, exec, lesson); err != nil {
				return err
			}
			lessons++
		}
	}
	for _, ld := range snap.learners {
		for _, ach := range ld.achievements {
			if err := UpsertAchievement(ctx, exec, ach); err != nil {
				return err
			}
			achievements++
		}
	}

	span.SetAttributes(
		attribute.Int("sync.users", len(snap.learners)+1),
		attribute.Int("sync.lessons", lessons),
		attribute.Int("sync.achievements", achievements),
	)
	return nil
}
