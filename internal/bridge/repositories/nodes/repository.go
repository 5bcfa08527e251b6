// Package nodes is the catalog repository for file and folder rows. Files
// and folders are structurally parallel tables sharing a generic
// path-prefix batched soft-delete, parameterized by entity kind.
package nodes

import (
	"context"
	"time"

	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/dbx"
)

// Kind selects which catalog table an operation targets.
type Kind string

const (
	KindFile   Kind = "files"
	KindFolder Kind = "folders"
)

// Tombstoned describes one row affected by a batched soft delete. Size and
// ParentID feed the aggregate-size propagation for file rows.
type Tombstoned struct {
	ID       string
	Size     int64
	ParentID string
}

// Purgeable is one soft-deleted file row eligible for object reclamation.
type Purgeable struct {
	ID         string
	StorageKey string
}

// Repository is the catalog access surface used by the bridge. Every method
// takes an explicit dbx.DBTX so callers control transaction scope: the sweep
// runs one short transaction per batch, the purge scan runs outside any.
type Repository interface {
	// SoftDeleteBatch locks and tombstones up to limit non-deleted rows of
	// the given kind whose path starts with prefix, scoped to the owner, in
	// the caller's transaction. A result shorter than limit signals
	// exhaustion.
	SoftDeleteBatch(ctx context.Context, q dbx.DBTX, kind Kind, ownerID, prefix string, limit int) ([]Tombstoned, error)

	// SoftDeleteRoot tombstones the deletion root folder itself, which the
	// descendant prefix pattern does not match. Returns rows affected
	// (zero on replay).
	SoftDeleteRoot(ctx context.Context, q dbx.DBTX, ownerID, path string) (int64, error)

	// SelectPurgeablePage returns up to limit file rows tombstoned at or
	// before cutoff, with id greater than cursor, ordered by id.
	SelectPurgeablePage(ctx context.Context, q dbx.DBTX, cutoff time.Time, cursor string, limit int) ([]Purgeable, error)

	// CreateFile inserts a new file row.
	CreateFile(ctx context.Context, q dbx.DBTX, f *models.File) error

	// TombstoneFileAtPath tombstones the live file at the exact path, if
	// any, returning its size. ok is false when no live row matched.
	TombstoneFileAtPath(ctx context.Context, q dbx.DBTX, ownerID, path string) (size int64, ok bool, err error)

	// PropagateSizeDelta applies delta to the folder's aggregate size and to
	// every ancestor up the parent chain, one hop at a time, in the caller's
	// transaction. Must run in the same transaction as the row mutation that
	// changed a file's size.
	PropagateSizeDelta(ctx context.Context, q dbx.DBTX, folderID string, delta int64) error
}
