package importer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/eddb"
	"github.com/eyeonus/EDDBlink/pkg/fetch"
	"github.com/eyeonus/EDDBlink/pkg/models"
	"github.com/eyeonus/EDDBlink/pkg/reconcile"
	"github.com/eyeonus/EDDBlink/pkg/store"
)

// Mirror sources, one per pass. The ship index is built per importer
// because its URL comes from configuration, not from the mirror layout.
var (
	upgradesSource    = fetch.Source{Name: eddb.UpgradesFile}
	systemsSource     = fetch.Source{Name: eddb.SystemsFile}
	stationsSource    = fetch.Source{Name: eddb.StationsFile}
	commoditiesSource = fetch.Source{Name: eddb.CommoditiesFile}
	listingsSource    = fetch.Source{Name: eddb.ListingsFile}
	liveSource        = fetch.Source{Name: eddb.LiveListingsFile, PrimaryOnly: true}
)

func (imp *Importer) shipsSource() fetch.Source {
	return fetch.Source{
		Name:       eddb.ShipsFile,
		URL:        imp.cfg.Source.ShipsURL,
		NoMetadata: true,
	}
}

func (imp *Importer) importUpgrades(ctx context.Context, opts Options, sum *Summary) error {
	run, path, err := imp.refresh(ctx, upgradesSource, opts)
	if err != nil || !run {
		return err
	}

	src, err := eddb.OpenUpgrades(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", eddb.UpgradesFile, err)
	}
	defer src.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.Upgrade]{
		Kind:  "upgrade",
		Table: "Upgrade",
		Upsert: func(ctx context.Context, rec eddb.Upgrade) (bool, error) {
			return tx.UpsertUpgrade(ctx, models.Upgrade{
				ID:     rec.ID,
				Name:   rec.DisplayName(),
				Weight: rec.Weight(),
				Cost:   rec.Cost(),
			})
		},
		Skippable: store.IsConstraint,
		Progress:  imp.progressFor("upgrade"),
	}, src, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}

func (imp *Importer) importShips(ctx context.Context, opts Options, sum *Summary) error {
	run, path, err := imp.refresh(ctx, imp.shipsSource(), opts)
	if err != nil || !run {
		return err
	}

	src, err := eddb.OpenShips(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", eddb.ShipsFile, err)
	}
	defer src.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.Ship]{
		Kind:  "ship",
		Table: "Ship",
		Upsert: func(ctx context.Context, rec eddb.Ship) (bool, error) {
			return tx.UpsertShip(ctx, models.Ship{
				ID:     rec.ID,
				Name:   rec.Name,
				Cost:   rec.Cost,
				FDevID: rec.FDevID,
			})
		},
		Skippable: store.IsConstraint,
		Progress:  imp.progressFor("ship"),
	}, src, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}

func (imp *Importer) importSystems(ctx context.Context, opts Options, sum *Summary) error {
	run, path, err := imp.refresh(ctx, systemsSource, opts)
	if err != nil || !run {
		return err
	}

	src, err := eddb.OpenSystems(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", eddb.SystemsFile, err)
	}
	defer src.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.System]{
		Kind:  "system",
		Table: "System",
		Stored: func(ctx context.Context, rec eddb.System) (int64, error) {
			return tx.SystemModified(ctx, rec.ID)
		},
		Incoming: func(rec eddb.System) int64 { return rec.UpdatedAt },
		Upsert: func(ctx context.Context, rec eddb.System) (bool, error) {
			err := tx.UpsertSystem(ctx, models.System{
				ID:       rec.ID,
				Name:     rec.Name,
				PosX:     rec.X,
				PosY:     rec.Y,
				PosZ:     rec.Z,
				Modified: rec.UpdatedAt,
			})
			if err != nil {
				return false, err
			}
			return true, nil
		},
		Skippable: store.IsConstraint,
		Progress:  imp.progressFor("system"),
	}, src, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}

func (imp *Importer) importStations(ctx context.Context, opts Options, sum *Summary) error {
	run, path, err := imp.refresh(ctx, stationsSource, opts)
	if err != nil || !run {
		return err
	}

	if opts.ShipVendors {
		imp.logger.Info("shipyard stock updates during the station pass")
	}
	if opts.UpgradeVendors {
		imp.logger.Info("outfitting stock updates during the station pass, expect a longer run")
	}

	src, err := eddb.OpenStations(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", eddb.StationsFile, err)
	}
	defer src.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.Station]{
		Kind:  "station",
		Table: "Station",
		Stored: func(ctx context.Context, rec eddb.Station) (int64, error) {
			return tx.StationModified(ctx, rec.ID)
		},
		Incoming: func(rec eddb.Station) int64 { return rec.UpdatedAt },
		Upsert: func(ctx context.Context, rec eddb.Station) (bool, error) {
			err := tx.UpsertStation(ctx, models.Station{
				ID:          rec.ID,
				Name:        rec.Name,
				SystemID:    rec.SystemID,
				LsFromStar:  rec.LsFromStar(),
				Blackmarket: models.FlagOf(rec.HasBlackmarket),
				MaxPadSize:  rec.PadSize(),
				Market:      models.FlagOf(rec.HasMarket),
				Shipyard:    models.FlagOf(rec.HasShipyard),
				Outfitting:  models.FlagOf(rec.HasOutfitting),
				Rearm:       models.FlagOf(rec.HasRearm),
				Refuel:      models.FlagOf(rec.HasRefuel),
				Repair:      models.FlagOf(rec.HasRepair),
				Planetary:   models.FlagOf(rec.IsPlanetary),
				Modified:    rec.UpdatedAt,
			})
			if err != nil {
				return false, err
			}
			return true, nil
		},
		Skippable: store.IsConstraint,
		// Vendor stock is gated on its own timestamps, so it refreshes
		// even for stations whose main row did not change.
		AfterRecord: func(ctx context.Context, rec eddb.Station) ([]string, error) {
			var dirty []string
			if opts.ShipVendors && rec.HasShipyard {
				wrote, err := imp.refreshShipyard(ctx, tx, &rec)
				if err != nil {
					return dirty, err
				}
				if wrote {
					dirty = append(dirty, "ShipVendor")
				}
			}
			if opts.UpgradeVendors && rec.HasOutfitting {
				wrote, err := imp.refreshOutfitting(ctx, tx, &rec)
				if err != nil {
					return dirty, err
				}
				if wrote {
					dirty = append(dirty, "UpgradeVendor")
				}
			}
			return dirty, nil
		},
		Progress: imp.progressFor("station"),
	}, src, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}

// refreshShipyard replaces a station's shipyard stock when the incoming
// vendor timestamp is strictly newer than the stored one. Hulls the Ship
// table does not know are dropped with a warning.
func (imp *Importer) refreshShipyard(ctx context.Context, tx *store.Tx, rec *eddb.Station) (bool, error) {
	incoming := rec.ShipyardModified()
	stored, err := tx.ShipVendorModified(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if incoming <= stored {
		return false, nil
	}

	if err := tx.DeleteShipVendors(ctx, rec.ID); err != nil {
		return false, err
	}
	for _, name := range rec.SellingShips {
		name = eddb.NormalizeVendorShipName(name)
		err := tx.InsertShipVendor(ctx, rec.ID, name, incoming)
		if store.IsConstraint(err) {
			imp.logger.Warn("skipping unknown hull in shipyard",
				zap.String("ship", name),
				zap.Int64("station_id", rec.ID))
			continue
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

// refreshOutfitting replaces a station's outfitting stock when the
// incoming vendor timestamp is strictly newer than the stored one.
// Modules the Upgrade table does not know are dropped with a warning.
func (imp *Importer) refreshOutfitting(ctx context.Context, tx *store.Tx, rec *eddb.Station) (bool, error) {
	incoming := rec.OutfittingModified()
	stored, err := tx.UpgradeVendorModified(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	if incoming <= stored {
		return false, nil
	}

	if err := tx.DeleteUpgradeVendors(ctx, rec.ID); err != nil {
		return false, err
	}
	for _, moduleID := range rec.SellingModules {
		err := tx.InsertUpgradeVendor(ctx, rec.ID, moduleID, incoming)
		if store.IsConstraint(err) {
			imp.logger.Warn("skipping unknown module in outfitting",
				zap.Int64("upgrade_id", moduleID),
				zap.Int64("station_id", rec.ID))
			continue
		}
		if err != nil {
			return false, err
		}
	}
	return true, nil
}

func (imp *Importer) importCommodities(ctx context.Context, opts Options, sum *Summary) error {
	run, path, err := imp.refresh(ctx, commoditiesSource, opts)
	if err != nil || !run {
		return err
	}

	src, err := eddb.OpenCommodities(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", eddb.CommoditiesFile, err)
	}
	defer src.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	categoriesDirty := false
	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.Commodity]{
		Kind:  "item",
		Table: "Item",
		Upsert: func(ctx context.Context, rec eddb.Commodity) (bool, error) {
			// The category row must exist before any item references it.
			// Every commodity names its category, including the rare ones
			// the Item table skips.
			wroteCat, err := tx.UpsertCategory(ctx, models.Category{
				ID:   rec.Category.ID,
				Name: rec.Category.Name,
			})
			if err != nil {
				return false, err
			}
			if wroteCat {
				categoriesDirty = true
			}

			// Rare items live outside the market tables.
			if rec.IsRare {
				return false, nil
			}
			return tx.UpsertItem(ctx, models.Item{
				ID:         rec.ID,
				Name:       rec.Name,
				CategoryID: rec.Category.ID,
				AvgPrice:   rec.AvgPrice(),
				FDevID:     rec.FDevID(),
			})
		},
		Skippable: store.IsConstraint,
		AfterPass: func(ctx context.Context) ([]string, error) {
			var dirty []string
			if categoriesDirty {
				dirty = append(dirty, "Category")
			}
			// The dump carries no display order; it is the dense rank of
			// each item's name within its category.
			reordered, err := tx.RefreshItemOrder(ctx)
			if err != nil {
				return dirty, err
			}
			if reordered {
				dirty = append(dirty, "Item")
			}
			return dirty, nil
		},
		Progress: imp.progressFor("item"),
	}, src, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}

func (imp *Importer) importListings(ctx context.Context, opts Options, sum *Summary, live bool) error {
	src, kind := listingsSource, "listings"
	if live {
		src, kind = liveSource, "listings-live"
	}

	run, path, err := imp.refresh(ctx, src, opts)
	if err != nil || !run {
		return err
	}

	rows, err := eddb.OpenListings(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src.Name, err)
	}
	defer rows.Close()

	tx, err := imp.db.BeginPass(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	provenance := models.FromBulk
	if live {
		provenance = models.FromLive
	}

	res, err := reconcile.Run(ctx, reconcile.Descriptor[eddb.Listing]{
		Kind:  kind,
		Table: "StationItem",
		Stored: func(ctx context.Context, rec eddb.Listing) (int64, error) {
			modified, fromLive, err := tx.StationItemState(ctx, rec.StationID, rec.ItemID)
			if err != nil {
				return 0, err
			}
			// The bulk dump catching up to a live-sourced row at the
			// same timestamp confirms it; provenance returns to bulk
			// without the row counting as rewritten.
			if !live && fromLive == models.FromLive && rec.CollectedAt == modified {
				if err := tx.DemoteStationItem(ctx, rec.StationID, rec.ItemID); err != nil {
					return 0, err
				}
			}
			return modified, nil
		},
		Incoming: func(rec eddb.Listing) int64 { return rec.CollectedAt },
		Upsert: func(ctx context.Context, rec eddb.Listing) (bool, error) {
			err := tx.UpsertStationItem(ctx, models.StationItem{
				StationID:   rec.StationID,
				ItemID:      rec.ItemID,
				Modified:    rec.CollectedAt,
				DemandPrice: rec.DemandPrice,
				DemandUnits: rec.DemandUnits,
				DemandLevel: rec.DemandLevel,
				SupplyPrice: rec.SupplyPrice,
				SupplyUnits: rec.SupplyUnits,
				SupplyLevel: rec.SupplyLevel,
				FromLive:    provenance,
			})
			if err != nil {
				return false, err
			}
			return true, nil
		},
		Skippable: store.IsConstraint,
		Progress:  imp.progressFor(kind),
	}, rows, imp.logger)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sum.add(res)
	return nil
}
