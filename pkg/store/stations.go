package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/apperrors"
	"github.com/eyeonus/EDDBlink/pkg/models"
)

// UpsertStation writes a station row, replacing any existing row. The
// caller gates on StationModified, so reaching here means the incoming
// row is strictly newer.
func (tx *Tx) UpsertStation(ctx context.Context, s models.Station) error {
	const query = `
		INSERT INTO Station (station_id, name, system_id, ls_from_star,
			blackmarket, max_pad_size, market, shipyard, outfitting,
			rearm, refuel, repair, planetary, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_id) DO UPDATE SET
			name = excluded.name,
			system_id = excluded.system_id,
			ls_from_star = excluded.ls_from_star,
			blackmarket = excluded.blackmarket,
			max_pad_size = excluded.max_pad_size,
			market = excluded.market,
			shipyard = excluded.shipyard,
			outfitting = excluded.outfitting,
			rearm = excluded.rearm,
			refuel = excluded.refuel,
			repair = excluded.repair,
			planetary = excluded.planetary,
			modified = excluded.modified`

	_, err := tx.exec(ctx, query,
		s.ID, s.Name, s.SystemID, s.LsFromStar,
		s.Blackmarket, s.MaxPadSize, s.Market, s.Shipyard, s.Outfitting,
		s.Rearm, s.Refuel, s.Repair, s.Planetary, s.Modified)
	if err != nil {
		return fmt.Errorf("failed to upsert station %d: %w", s.ID, err)
	}
	return nil
}

// StationModified returns the stored timestamp for a station, or
// apperrors.ErrNotFound if the station has never been imported.
func (tx *Tx) StationModified(ctx context.Context, id int64) (int64, error) {
	var modified int64
	err := tx.queryRow(ctx, `SELECT modified FROM Station WHERE station_id = ?`, id).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperrors.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up station %d: %w", id, err)
	}
	return modified, nil
}
