package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/apperrors"
	"github.com/eyeonus/EDDBlink/pkg/models"
)

// UpsertSystem writes a system row, replacing any existing row. Callers
// gate on SystemModified first, so reaching here means the incoming row
// is strictly newer.
func (tx *Tx) UpsertSystem(ctx context.Context, s models.System) error {
	const query = `
		INSERT INTO System (system_id, name, pos_x, pos_y, pos_z, modified)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (system_id) DO UPDATE SET
			name = excluded.name,
			pos_x = excluded.pos_x,
			pos_y = excluded.pos_y,
			pos_z = excluded.pos_z,
			modified = excluded.modified`

	_, err := tx.exec(ctx, query, s.ID, s.Name, s.PosX, s.PosY, s.PosZ, s.Modified)
	if err != nil {
		return fmt.Errorf("failed to upsert system %d: %w", s.ID, err)
	}
	return nil
}

// SystemModified returns the stored timestamp for a system, or
// apperrors.ErrNotFound if the system has never been imported.
func (tx *Tx) SystemModified(ctx context.Context, id int64) (int64, error) {
	var modified int64
	err := tx.queryRow(ctx, `SELECT modified FROM System WHERE system_id = ?`, id).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up system %d: %w", id, err)
	}
	return modified, nil
}
