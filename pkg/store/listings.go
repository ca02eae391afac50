package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/apperrors"
	"github.com/eyeonus/EDDBlink/pkg/models"
)

// StationItemState returns the stored timestamp and provenance for a
// market entry, or apperrors.ErrNotFound if the station has never
// reported that item.
func (tx *Tx) StationItemState(ctx context.Context, stationID, itemID int64) (modified, fromLive int64, err error) {
	err = tx.queryRow(ctx,
		`SELECT modified, from_live FROM StationItem WHERE station_id = ? AND item_id = ?`,
		stationID, itemID).Scan(&modified, &fromLive)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, apperrors.ErrNotFound
	}
	if err != nil {
		return 0, 0, fmt.Errorf("failed to look up listing %d/%d: %w", stationID, itemID, err)
	}
	return modified, fromLive, nil
}

// UpsertStationItem writes a market entry, replacing any existing row.
// Callers gate on StationItemState, so reaching here means the incoming
// listing is strictly newer.
func (tx *Tx) UpsertStationItem(ctx context.Context, si models.StationItem) error {
	const query = `
		INSERT INTO StationItem (station_id, item_id, modified,
			demand_price, demand_units, demand_level,
			supply_price, supply_units, supply_level, from_live)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (station_id, item_id) DO UPDATE SET
			modified = excluded.modified,
			demand_price = excluded.demand_price,
			demand_units = excluded.demand_units,
			demand_level = excluded.demand_level,
			supply_price = excluded.supply_price,
			supply_units = excluded.supply_units,
			supply_level = excluded.supply_level,
			from_live = excluded.from_live`

	_, err := tx.exec(ctx, query,
		si.StationID, si.ItemID, si.Modified,
		si.DemandPrice, si.DemandUnits, si.DemandLevel,
		si.SupplyPrice, si.SupplyUnits, si.SupplyLevel, si.FromLive)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %d/%d: %w", si.StationID, si.ItemID, err)
	}
	return nil
}

// DemoteStationItem clears the live flag on a market entry. The bulk
// dump catching up to a live-sourced row at the same timestamp confirms
// the row without superseding it.
func (tx *Tx) DemoteStationItem(ctx context.Context, stationID, itemID int64) error {
	_, err := tx.exec(ctx,
		`UPDATE StationItem SET from_live = ? WHERE station_id = ? AND item_id = ? AND from_live <> ?`,
		models.FromBulk, stationID, itemID, models.FromBulk)
	if err != nil {
		return fmt.Errorf("failed to demote listing %d/%d: %w", stationID, itemID, err)
	}
	return nil
}
