// Package purge reclaims object-store space for files that have been
// soft-deleted longer than the retention window. Only backing objects are
// removed; catalog row cleanup is a separate concern.
package purge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mstolbov/cloudfiles/internal/bridge/repositories/nodes"
	"github.com/mstolbov/cloudfiles/internal/dbx"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

const (
	// DefaultPageSize matches the object store's batch-delete limit.
	DefaultPageSize = 1000

	// safetyMargin guards against clock skew and in-flight writes near the
	// retention boundary.
	safetyMargin = 15 * time.Minute
)

type objectDeleter interface {
	DeleteBatch(ctx context.Context, keys []string) error
}

// Scheduler runs the purge on a cron schedule. The retention window is an
// explicit duration, configured independently of the trigger schedule.
type Scheduler struct {
	db        dbx.DBTX
	repo      nodes.Repository
	objects   objectDeleter
	retention time.Duration
	pageSize  int
	cron      *cron.Cron
	spec      string
	logger    logging.Logger
	now       func() time.Time
}

func NewScheduler(db dbx.DBTX, repo nodes.Repository, objects objectDeleter, spec string, retention time.Duration, logger logging.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		repo:      repo,
		objects:   objects,
		retention: retention,
		pageSize:  DefaultPageSize,
		spec:      spec,
		logger:    logger.With("component", "purge"),
		now:       time.Now,
	}
}

// Start registers the cron job and begins ticking. The schedule uses the
// six-field form with a seconds column.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds())

	_, err := s.cron.AddFunc(s.spec, func() {
		if err := s.RunOnce(ctx); err != nil {
			// The next tick retries from the same cutoff query.
			s.logger.Error(ctx, "purge run aborted", "error", err.Error())
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info(ctx, "purge scheduler started", "spec", s.spec, "retention", s.retention.String())
	return nil
}

// Stop halts the ticker; a run already in flight finishes on its own.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// RunOnce pages through purgeable files and batch-deletes their backing
// objects until a short page signals exhaustion. A failed page aborts the
// run without advancing the cursor; the work is redone from the cutoff
// query next tick, which is idempotent.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	cutoff := s.now().Add(-s.retention - safetyMargin)
	cursor := ""
	logger := s.logger.With("run", uuid.NewString())

	for {
		page, err := s.repo.SelectPurgeablePage(ctx, s.db, cutoff, cursor, s.pageSize)
		if err != nil {
			return fmt.Errorf("purge page: %w", err)
		}

		if len(page) > 0 {
			keys := make([]string, 0, len(page))
			for _, p := range page {
				keys = append(keys, p.StorageKey)
			}
			if err := s.objects.DeleteBatch(ctx, keys); err != nil {
				return fmt.Errorf("purge delete: %w", err)
			}
			logger.Info(ctx, "purged objects", "count", len(keys), "cutoff", cutoff)
		}

		if len(page) < s.pageSize {
			return nil
		}
		cursor = page[len(page)-1].ID
	}
}
