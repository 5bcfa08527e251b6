// Package deletion implements the cascading soft delete of a folder
// subtree: a consumer on the deletion-root topic and the batched,
// lock-scoped prefix sweep it drives.
package deletion

import (
	"context"
	"fmt"
	"strings"

	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/bridge/repositories/nodes"
	"github.com/mstolbov/cloudfiles/internal/dbx"
	"github.com/mstolbov/cloudfiles/internal/logging"
)

// DefaultBatchSize bounds the rows locked per sweep transaction.
const DefaultBatchSize = 5000

// BeatFunc reports liveness at every batch boundary so a long sweep is not
// mistaken for a dead consumer. Returning an error aborts the sweep.
type BeatFunc func(ctx context.Context) error

// Sweeper tombstones every file and folder under a path prefix in short,
// fixed-size locking transactions. No progress is persisted between batches:
// a crash mid-sweep is recovered by redelivering the whole message, which is
// safe because every update touches only non-deleted rows.
type Sweeper struct {
	tx        dbx.TxRunner
	repo      nodes.Repository
	batchSize int
	logger    logging.Logger
}

func NewSweeper(tx dbx.TxRunner, repo nodes.Repository, batchSize int, logger logging.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Sweeper{
		tx:        tx,
		repo:      repo,
		batchSize: batchSize,
		logger:    logger.With("component", "sweeper"),
	}
}

// Sweep soft-deletes the subtree rooted at the event's folder: all file
// descendants first, then folder descendants, then the root itself. Files go
// first so their sizes are still propagated through not-yet-deleted ancestor
// folders.
func (s *Sweeper) Sweep(ctx context.Context, ev models.DeletionRootEvent, beat BeatFunc) error {
	prefix := ev.Path
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	if err := s.sweepKind(ctx, nodes.KindFile, ev.OwnerID, prefix, beat); err != nil {
		return err
	}
	if err := s.sweepKind(ctx, nodes.KindFolder, ev.OwnerID, prefix, beat); err != nil {
		return err
	}

	// The prefix pattern only matches descendants; the root is finalized on
	// its exact path.
	if err := beat(ctx); err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := s.repo.SoftDeleteRoot(ctx, tx, ev.OwnerID, ev.Path)
		if err != nil {
			return err
		}
		s.logger.Info(ctx, "sweep committed", "root", ev.Path, "rootAffected", n)
		return nil
	})
}

func (s *Sweeper) sweepKind(ctx context.Context, kind nodes.Kind, ownerID, prefix string, beat BeatFunc) error {
	for {
		if err := beat(ctx); err != nil {
			return err
		}

		var affected int
		err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
			batch, err := s.repo.SoftDeleteBatch(ctx, tx, kind, ownerID, prefix, s.batchSize)
			if err != nil {
				return err
			}
			affected = len(batch)

			if kind == nodes.KindFile {
				// Ancestor sizes shrink in the same transaction as the
				// tombstones, grouped by parent to keep the chain walks short.
				if err := s.propagateBatch(ctx, tx, batch); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("sweep %s batch: %w", kind, err)
		}

		s.logger.Debug(ctx, "sweep batch done", "kind", string(kind), "prefix", prefix, "affected", affected)

		// A short batch means the prefix is exhausted.
		if affected < s.batchSize {
			return nil
		}
	}
}

func (s *Sweeper) propagateBatch(ctx context.Context, tx dbx.DBTX, batch []nodes.Tombstoned) error {
	deltas := make(map[string]int64)
	for _, t := range batch {
		if t.ParentID != "" {
			deltas[t.ParentID] -= t.Size
		}
	}

	for parentID, delta := range deltas {
		if err := s.repo.PropagateSizeDelta(ctx, tx, parentID, delta); err != nil {
			return err
		}
	}
	return nil
}
