package store

import (
	"context"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/models"
)

// UpsertUpgrade writes an outfitting module row and reports whether
// anything changed.
func (tx *Tx) UpsertUpgrade(ctx context.Context, u models.Upgrade) (bool, error) {
	const query = `
		INSERT INTO Upgrade (upgrade_id, name, weight, cost)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (upgrade_id) DO UPDATE SET
			name = excluded.name,
			weight = excluded.weight,
			cost = excluded.cost
		WHERE Upgrade.name <> excluded.name
			OR Upgrade.weight <> excluded.weight
			OR Upgrade.cost <> excluded.cost`

	res, err := tx.exec(ctx, query, u.ID, u.Name, u.Weight, u.Cost)
	if err != nil {
		return false, fmt.Errorf("failed to upsert upgrade %d: %w", u.ID, err)
	}
	return changed(res)
}

// UpgradeVendorModified returns the newest vendor timestamp recorded for
// a station's outfitting, or 0 if the station has no vendor rows.
func (tx *Tx) UpgradeVendorModified(ctx context.Context, stationID int64) (int64, error) {
	var modified int64
	err := tx.queryRow(ctx,
		`SELECT COALESCE(MAX(modified), 0) FROM UpgradeVendor WHERE station_id = ?`,
		stationID).Scan(&modified)
	if err != nil {
		return 0, fmt.Errorf("failed to look up outfitting for station %d: %w", stationID, err)
	}
	return modified, nil
}

// DeleteUpgradeVendors clears a station's outfitting ahead of a replace.
func (tx *Tx) DeleteUpgradeVendors(ctx context.Context, stationID int64) error {
	if _, err := tx.exec(ctx, `DELETE FROM UpgradeVendor WHERE station_id = ?`, stationID); err != nil {
		return fmt.Errorf("failed to clear outfitting for station %d: %w", stationID, err)
	}
	return nil
}

// InsertUpgradeVendor records one module for sale at a station. The cost
// snapshot comes from the Upgrade table. An unknown module surfaces as a
// constraint violation.
func (tx *Tx) InsertUpgradeVendor(ctx context.Context, stationID, upgradeID, modified int64) error {
	const query = `
		INSERT INTO UpgradeVendor (upgrade_id, station_id, cost, modified)
		VALUES (?, ?, (SELECT cost FROM Upgrade WHERE upgrade_id = ?), ?)`

	_, err := tx.exec(ctx, query, upgradeID, stationID, upgradeID, modified)
	return err
}
