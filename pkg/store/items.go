package store

import (
	"context"
	"fmt"

	"github.com/eyeonus/EDDBlink/pkg/models"
)

// UpsertCategory writes a commodity category row and reports whether
// anything changed.
func (tx *Tx) UpsertCategory(ctx context.Context, c models.Category) (bool, error) {
	const query = `
		INSERT INTO Category (category_id, name)
		VALUES (?, ?)
		ON CONFLICT (category_id) DO UPDATE SET
			name = excluded.name
		WHERE Category.name <> excluded.name`

	res, err := tx.exec(ctx, query, c.ID, c.Name)
	if err != nil {
		return false, fmt.Errorf("failed to upsert category %d: %w", c.ID, err)
	}
	return changed(res)
}

// UpsertItem writes a commodity row and reports whether anything
// changed. ui_order is never written here; RefreshItemOrder recomputes
// it for the whole table once a pass has finished inserting.
func (tx *Tx) UpsertItem(ctx context.Context, i models.Item) (bool, error) {
	const query = `
		INSERT INTO Item (item_id, name, category_id, ui_order, avg_price, fdev_id)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT (item_id) DO UPDATE SET
			name = excluded.name,
			category_id = excluded.category_id,
			avg_price = excluded.avg_price,
			fdev_id = excluded.fdev_id
		WHERE Item.name <> excluded.name
			OR Item.category_id <> excluded.category_id
			OR Item.avg_price <> excluded.avg_price
			OR Item.fdev_id <> excluded.fdev_id`

	res, err := tx.exec(ctx, query, i.ID, i.Name, i.CategoryID, i.AvgPrice, i.FDevID)
	if err != nil {
		return false, fmt.Errorf("failed to upsert item %d: %w", i.ID, err)
	}
	return changed(res)
}

// RefreshItemOrder renumbers ui_order so items rank 1, 2, 3, ... by name
// within each category, and reports whether any row moved. Inserting one
// item renumbers everything after it, which is why this runs once per
// pass rather than per record.
func (tx *Tx) RefreshItemOrder(ctx context.Context) (bool, error) {
	const query = `
		UPDATE Item SET ui_order = ranked.new_order
		FROM (
			SELECT item_id,
				ROW_NUMBER() OVER (PARTITION BY category_id ORDER BY name) AS new_order
			FROM Item
		) AS ranked
		WHERE Item.item_id = ranked.item_id
			AND Item.ui_order <> ranked.new_order`

	res, err := tx.exec(ctx, query)
	if err != nil {
		return false, fmt.Errorf("failed to refresh item order: %w", err)
	}
	return changed(res)
}
