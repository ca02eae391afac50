package store

import (
	"context"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/models"
)

// UpsertShip writes a ship row and reports whether anything changed.
// Ships carry no timestamp, so the difference check is what keeps
// re-imports of identical data from dirtying the table.
func (tx *Tx) UpsertShip(ctx context.Context, s models.Ship) (bool, error) {
	const query = `
		INSERT INTO Ship (ship_id, name, cost, fdev_id)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (ship_id) DO UPDATE SET
			name = excluded.name,
			cost = excluded.cost,
			fdev_id = excluded.fdev_id
		WHERE Ship.name <> excluded.name
			OR Ship.cost <> excluded.cost
			OR Ship.fdev_id <> excluded.fdev_id`

	res, err := tx.exec(ctx, query, s.ID, s.Name, s.Cost, s.FDevID)
	if err != nil {
		return false, fmt.Errorf("failed to upsert ship %d: %w", s.ID, err)
	}
	return changed(res)
}

// ShipVendorModified returns the newest vendor timestamp recorded for a
// station's shipyard, or 0 if the station has no vendor rows.
func (tx *Tx) ShipVendorModified(ctx context.Context, stationID int64) (int64, error) {
	var modified int64
	err := tx.queryRow(ctx,
		`SELECT COALESCE(MAX(modified), 0) FROM ShipVendor WHERE station_id = ?`,
		stationID).Scan(&modified)
	if err != nil {
		return 0, fmt.Errorf("failed to look up shipyard for station %d: %w", stationID, err)
	}
	return modified, nil
}

// DeleteShipVendors clears a station's shipyard ahead of a replace.
func (tx *Tx) DeleteShipVendors(ctx context.Context, stationID int64) error {
	if _, err := tx.exec(ctx, `DELETE FROM ShipVendor WHERE station_id = ?`, stationID); err != nil {
		return fmt.Errorf("failed to clear shipyard for station %d: %w", stationID, err)
	}
	return nil
}

// InsertShipVendor records one ship for sale at a station, resolving the
// ship by name. An unknown name surfaces as a constraint violation.
func (tx *Tx) InsertShipVendor(ctx context.Context, stationID int64, shipName string, modified int64) error {
	const query = `
		INSERT INTO ShipVendor (ship_id, station_id, modified)
		VALUES ((SELECT ship_id FROM Ship WHERE name = ?), ?, ?)`

	_, err := tx.exec(ctx, query, shipName, stationID, modified)
	return err
}
