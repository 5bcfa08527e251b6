package nodes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mstolbov/cloudfiles/internal/bridge/models"
	"github.com/mstolbov/cloudfiles/internal/common"
	"github.com/mstolbov/cloudfiles/internal/dbx"
)

// ErrMissingParent reports a broken parent chain during size propagation.
// It is permanent: retrying cannot restore referential data.
var ErrMissingParent = fmt.Errorf("%w: parent folder missing", common.ErrPermanent)

type PostgresRepository struct{}

func NewPostgresRepository() *PostgresRepository {
	return &PostgresRepository{}
}

// tableFor maps a Kind to its table name. Kind is a closed set; anything
// else is a programming error.
func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindFile, KindFolder:
		return string(kind), nil
	default:
		return "", fmt.Errorf("unknown node kind: %q", kind)
	}
}

func (r *PostgresRepository) SoftDeleteBatch(ctx context.Context, q dbx.DBTX, kind Kind, ownerID, prefix string, limit int) ([]Tombstoned, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		WITH batch AS (
			SELECT id FROM %[1]s
			WHERE owner_id = $1
			  AND is_deleted = false
			  AND path LIKE $2 || '%%'
			LIMIT $3
			FOR UPDATE
		)
		UPDATE %[1]s AS t
		SET is_deleted = true, deleted_at = now()
		FROM batch
		WHERE t.id = batch.id
		RETURNING t.id, t.size, t.parent_id;`, table)

	rows, err := q.QueryContext(ctx, query, ownerID, prefix, limit)
	if err != nil {
		return nil, fmt.Errorf("soft delete batch (%s): %w", table, err)
	}
	defer rows.Close()

	var result []Tombstoned
	for rows.Next() {
		var t Tombstoned
		var parent sql.NullString
		if err := rows.Scan(&t.ID, &t.Size, &parent); err != nil {
			return nil, err
		}
		t.ParentID = parent.String
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) SoftDeleteRoot(ctx context.Context, q dbx.DBTX, ownerID, path string) (int64, error) {
	query := `
		UPDATE folders
		SET is_deleted = true, deleted_at = now()
		WHERE owner_id = $1 AND path = $2 AND is_deleted = false;`

	res, err := q.ExecContext(ctx, query, ownerID, path)
	if err != nil {
		return 0, fmt.Errorf("soft delete root: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) SelectPurgeablePage(ctx context.Context, q dbx.DBTX, cutoff time.Time, cursor string, limit int) ([]Purgeable, error) {
	query := `
		SELECT id, storage_key FROM files
		WHERE is_deleted = true AND deleted_at <= $1 AND id > $2
		ORDER BY id
		LIMIT $3;`

	rows, err := q.QueryContext(ctx, query, cutoff, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("select purgeable page: %w", err)
	}
	defer rows.Close()

	var result []Purgeable
	for rows.Next() {
		var p Purgeable
		if err := rows.Scan(&p.ID, &p.StorageKey); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PostgresRepository) CreateFile(ctx context.Context, q dbx.DBTX, f *models.File) error {
	query := `
		INSERT INTO files (id, parent_id, owner_id, path, storage_key, mime_type, size)
		VALUES ($1, $2, $3, $4, $5, $6, $7);`

	_, err := q.ExecContext(ctx, query, f.ID, f.ParentID, f.OwnerID, f.Path, f.StorageKey, f.MimeType, f.Size)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (r *PostgresRepository) TombstoneFileAtPath(ctx context.Context, q dbx.DBTX, ownerID, path string) (int64, bool, error) {
	query := `
		UPDATE files
		SET is_deleted = true, deleted_at = now()
		WHERE owner_id = $1 AND path = $2 AND is_deleted = false
		RETURNING size;`

	var size int64
	err := q.QueryRowContext(ctx, query, ownerID, path).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("tombstone file at path: %w", err)
	}
	return size, true, nil
}

func (r *PostgresRepository) PropagateSizeDelta(ctx context.Context, q dbx.DBTX, folderID string, delta int64) error {
	query := `
		UPDATE folders
		SET size = size + $1
		WHERE id = $2
		RETURNING parent_id;`

	// Walk the parent chain one hop at a time up to the owner's root.
	id := folderID
	for id != "" {
		var parent sql.NullString
		err := q.QueryRowContext(ctx, query, delta, id).Scan(&parent)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("folder %s: %w", id, ErrMissingParent)
		}
		if err != nil {
			return fmt.Errorf("propagate size delta: %w", err)
		}
		id = parent.String
	}

	return nil
}
