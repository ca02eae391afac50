package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/config"
	"github.com/eyeonus/EDDBlink/pkg/eddb"
	"github.com/eyeonus/EDDBlink/pkg/fetch"
	"github.com/eyeonus/EDDBlink/pkg/models"
	"github.com/eyeonus/EDDBlink/pkg/reconcile"
	"github.com/eyeonus/EDDBlink/pkg/store"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   Options
		want Options
	}{
		{
			name: "empty defaults to listings",
			in:   Options{},
			want: Options{Listings: true, Item: true, Station: true, System: true},
		},
		{
			name: "modifiers alone still default to listings",
			in:   Options{Force: true, Fallback: true},
			want: Options{Listings: true, Item: true, Station: true, System: true, Force: true, Fallback: true},
		},
		{
			name: "explicit target suppresses the default",
			in:   Options{Ship: true},
			want: Options{Ship: true},
		},
		{
			name: "stations pull in systems",
			in:   Options{Station: true},
			want: Options{Station: true, System: true},
		},
		{
			name: "ship vendors pull in ships and stations",
			in:   Options{ShipVendors: true},
			want: Options{ShipVendors: true, Ship: true, Station: true, System: true},
		},
		{
			name: "upgrade vendors pull in upgrades and stations",
			in:   Options{UpgradeVendors: true},
			want: Options{UpgradeVendors: true, Upgrade: true, Station: true, System: true},
		},
		{
			name: "clean forces a full import",
			in:   Options{Clean: true},
			want: Options{
				Clean: true, All: true, Force: true,
				Item: true, System: true, Station: true, Ship: true,
				ShipVendors: true, Upgrade: true, UpgradeVendors: true, Listings: true,
			},
		},
		{
			name: "skipvend wins over all",
			in:   Options{All: true, SkipVendors: true},
			want: Options{
				All: true, SkipVendors: true,
				Item: true, System: true, Station: true, Ship: true,
				Upgrade: true, Listings: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}

// fakeFetcher serves canned dump files from a local directory, reporting
// the freshness or failure the test scripted per file name.
type fakeFetcher struct {
	dir      string
	fresh    map[string]bool
	fail     map[string]error
	fallback bool
}

func (f *fakeFetcher) Refresh(_ context.Context, src fetch.Source, force bool) (bool, error) {
	if err := f.fail[src.Name]; err != nil {
		return false, err
	}
	if f.fallback && src.PrimaryOnly {
		return false, nil
	}
	if force || src.NoMetadata {
		return true, nil
	}
	return f.fresh[src.Name], nil
}

func (f *fakeFetcher) Path(src fetch.Source) string {
	return filepath.Join(f.dir, src.Name)
}

func (f *fakeFetcher) UseFallback()     { f.fallback = true }
func (f *fakeFetcher) OnFallback() bool { return f.fallback }

// fakeExporter records the order and arguments of exporter calls.
type fakeExporter struct {
	calls      []string
	dispatched []reconcile.Tables
}

func (e *fakeExporter) Dispatch(_ context.Context, dirty reconcile.Tables) error {
	snap := reconcile.Tables{}
	snap.Merge(dirty)
	e.calls = append(e.calls, "dispatch")
	e.dispatched = append(e.dispatched, snap)
	return nil
}

func (e *fakeExporter) WritePrices(context.Context) (string, error) {
	e.calls = append(e.calls, "prices")
	return "TradeDangerous.prices", nil
}

func (e *fakeExporter) Clean() error {
	e.calls = append(e.calls, "clean")
	return nil
}

// Scripted dump timestamps: the bulk dump is an hour older than the live
// feed update.
const (
	dumpTime = int64(1546300800) // 2019-01-01 00:00:00 UTC
	liveTime = dumpTime + 3600
)

const listingsHeader = "id,station_id,commodity_id,supply,supply_bracket,buy_price,sell_price,demand,demand_bracket,collected_at\n"

func writeDump(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

// writeDumps fills dir with a small, coherent copy of every dump file:
// two systems, two stations (one fully serviced), two hulls, two modules,
// two market items plus a rare, and market data for the serviced station.
func writeDumps(t *testing.T, dir string) {
	t.Helper()

	writeDump(t, dir, eddb.UpgradesFile, `[
		{"id": 1, "name": "1E Detailed Surface Scanner", "ed_symbol": "Int_DetailedSurfaceScanner_Tiny", "mass": 2, "price": 250000},
		{"id": 2, "name": null, "ed_symbol": "Hpt_BeamLaser_Fixed_Small", "mass": 2, "price": 37430}
	]`)

	writeDump(t, dir, eddb.ShipsFile, `{"Ships": {
		"adder": {"eddbID": 1, "properties": {"name": "Adder"}, "retailCost": 87808, "edID": 128049267},
		"viper": {"eddbID": 6, "properties": {"name": "Viper"}, "retailCost": 142931, "edID": 128049273}
	}}`)

	writeDump(t, dir, eddb.SystemsFile,
		`{"id": 1, "name": "Sol", "x": 0, "y": 0, "z": 0, "updated_at": 1546300800}
{"id": 2, "name": "Barnard's Star", "x": -3.03125, "y": 1.63281, "z": 4.38281, "updated_at": 1546300800}
`)

	writeDump(t, dir, eddb.StationsFile,
		`{"id": 10, "name": "Abraham Lincoln", "system_id": 1, "max_landing_pad_size": "L", "distance_to_star": 496, "has_blackmarket": false, "has_market": true, "has_shipyard": true, "has_outfitting": true, "has_rearm": true, "has_refuel": true, "has_repair": true, "is_planetary": false, "updated_at": 1546300800, "shipyard_updated_at": 1546300800, "outfitting_updated_at": 1546300800, "selling_ships": ["Adder", "Viper MK III"], "selling_modules": [1, 2]}
{"id": 11, "name": "Miller Depot", "system_id": 2, "max_landing_pad_size": null, "distance_to_star": null, "has_blackmarket": false, "has_market": true, "has_shipyard": false, "has_outfitting": false, "has_rearm": false, "has_refuel": true, "has_repair": false, "is_planetary": false, "updated_at": 1546300800, "shipyard_updated_at": null, "outfitting_updated_at": null, "selling_ships": [], "selling_modules": []}
`)

	writeDump(t, dir, eddb.CommoditiesFile, `[
		{"id": 42, "name": "Gold", "category": {"id": 4, "name": "Metals"}, "is_rare": false, "average_price": 9401, "ed_id": 128049154},
		{"id": 43, "name": "Beryllium", "category": {"id": 4, "name": "Metals"}, "is_rare": false, "average_price": 8288, "ed_id": 128049168},
		{"id": 99, "name": "Kongga Ale", "category": {"id": 9, "name": "Legal Drugs"}, "is_rare": true, "average_price": null, "ed_id": null}
	]`)

	writeDump(t, dir, eddb.ListingsFile, listingsHeader+
		"1,10,42,0,0,0,9411,1500,2,1546300800\n"+
		"2,10,43,320,3,8200,7995,0,,1546300800\n")

	writeDump(t, dir, eddb.LiveListingsFile, listingsHeader+
		"1,10,42,0,0,0,9500,1800,3,1546304400\n")
}

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	cfg := config.DatabaseConfig{
		Driver:         "sqlite",
		Path:           filepath.Join(t.TempDir(), "test.db"),
		BusyRetryDelay: time.Millisecond,
	}
	db, err := store.Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func newImporter(t *testing.T) (*Importer, *fakeFetcher, *fakeExporter, *store.DB) {
	t.Helper()
	db := openTestDB(t)

	dir := t.TempDir()
	writeDumps(t, dir)
	fetcher := &fakeFetcher{dir: dir, fresh: map[string]bool{}}
	exporter := &fakeExporter{}

	cfg := &config.Config{}
	cfg.Source.ShipsURL = "https://ships.invalid/index.json"

	return New(cfg, db, fetcher, exporter, zap.NewNop()), fetcher, exporter, db
}

func passKinds(sum *Summary) []string {
	kinds := make([]string, 0, len(sum.Passes))
	for _, p := range sum.Passes {
		kinds = append(kinds, p.Kind)
	}
	return kinds
}

func countRows(t *testing.T, db *store.DB, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func stationItemState(t *testing.T, db *store.DB, stationID, itemID int64) (modified, fromLive, demandPrice int64) {
	t.Helper()
	err := db.QueryRow(
		db.Q("SELECT modified, from_live, demand_price FROM StationItem WHERE station_id = ? AND item_id = ?"),
		stationID, itemID,
	).Scan(&modified, &fromLive, &demandPrice)
	require.NoError(t, err)
	return modified, fromLive, demandPrice
}

func TestRun_EmptyDatabaseRunsCleanImport(t *testing.T) {
	imp, _, exporter, db := newImporter(t)

	sum, err := imp.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"clean", "dispatch", "prices"}, exporter.calls)
	assert.Equal(t,
		[]string{"upgrade", "ship", "system", "station", "item", "listings", "listings-live"},
		passKinds(sum))
	assert.Equal(t, "TradeDangerous.prices", sum.PricesPath)

	counts := map[string]int64{
		"System":        2,
		"Station":       2,
		"Ship":          2,
		"ShipVendor":    2,
		"Upgrade":       2,
		"UpgradeVendor": 2,
		"Category":      2, // the rare item still names its category
		"Item":          2, // the rare item itself stays out
		"StationItem":   2,
	}
	for table, want := range counts {
		assert.Equal(t, want, countRows(t, db, table), table)
		assert.True(t, sum.Dirty.Dirty(table), "%s should be dirty", table)
	}

	// The snapshot dispatch happened before the listings passes, so the
	// market table was not dirty yet.
	require.Len(t, exporter.dispatched, 1)
	assert.True(t, exporter.dispatched[0].Dirty("Station"))
	assert.False(t, exporter.dispatched[0].Dirty("StationItem"))

	// The live feed ran last and owns the Gold listing.
	modified, fromLive, demandPrice := stationItemState(t, db, 10, 42)
	assert.Equal(t, liveTime, modified)
	assert.Equal(t, models.FromLive, fromLive)
	assert.Equal(t, int64(9500), demandPrice)
}

func TestRun_SecondRunSkipsCurrentSources(t *testing.T) {
	imp, _, exporter, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	sum, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Empty(t, sum.Passes)
	assert.Empty(t, sum.Dirty.Names())
	assert.Equal(t, "TradeDangerous.prices", sum.PricesPath)

	// The second run still refreshed the artifacts, without cleaning.
	assert.Equal(t, []string{"clean", "dispatch", "prices", "dispatch", "prices"}, exporter.calls)
}

func TestRun_ForceReimportIsIdempotent(t *testing.T) {
	imp, _, _, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	sum, err := imp.Run(ctx, Options{Item: true, Force: true})
	require.NoError(t, err)

	require.Equal(t, []string{"item"}, passKinds(sum))
	res := sum.Passes[0]
	assert.Equal(t, 3, res.Processed)
	assert.Zero(t, res.Written, "identical data must not count as written")
	assert.Empty(t, sum.Dirty.Names())
}

func TestRun_NewerBulkListingSupersedesLive(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	// The next bulk dump carries a newer Gold listing and the unchanged
	// Beryllium one.
	writeDump(t, fetcher.dir, eddb.ListingsFile, listingsHeader+
		"1,10,42,0,0,0,9600,2000,3,1546308000\n"+
		"2,10,43,320,3,8200,7995,0,,1546300800\n")
	fetcher.fresh[eddb.ListingsFile] = true

	sum, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	require.Equal(t, []string{"listings"}, passKinds(sum))
	res := sum.Passes[0]
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, 1, res.Written)
	assert.Equal(t, 1, res.Stale)

	modified, fromLive, demandPrice := stationItemState(t, db, 10, 42)
	assert.Equal(t, dumpTime+7200, modified)
	assert.Equal(t, models.FromBulk, fromLive)
	assert.Equal(t, int64(9600), demandPrice)
}

func TestRun_BulkConfirmingLiveListingDemotesIt(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	// The next bulk dump has caught up to exactly the timestamp the live
	// feed wrote. The row is confirmed, not rewritten.
	writeDump(t, fetcher.dir, eddb.ListingsFile, listingsHeader+
		"1,10,42,0,0,0,9500,1800,3,1546304400\n")
	fetcher.fresh[eddb.ListingsFile] = true

	sum, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	require.Equal(t, []string{"listings"}, passKinds(sum))
	res := sum.Passes[0]
	assert.Zero(t, res.Written)
	assert.Equal(t, 1, res.Stale)

	modified, fromLive, demandPrice := stationItemState(t, db, 10, 42)
	assert.Equal(t, liveTime, modified)
	assert.Equal(t, models.FromBulk, fromLive, "provenance should return to bulk")
	assert.Equal(t, int64(9500), demandPrice)
}

func TestRun_VendorStockReplacedWhenNewer(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(2), countRows(t, db, "ShipVendor"))

	// The shipyard restocked: one hull gone, one hull the Ship table has
	// never heard of. The unknown hull is dropped, not fatal.
	writeDump(t, fetcher.dir, eddb.StationsFile,
		`{"id": 10, "name": "Abraham Lincoln", "system_id": 1, "max_landing_pad_size": "L", "distance_to_star": 496, "has_blackmarket": false, "has_market": true, "has_shipyard": true, "has_outfitting": true, "has_rearm": true, "has_refuel": true, "has_repair": true, "is_planetary": false, "updated_at": 1546300800, "shipyard_updated_at": 1546304400, "outfitting_updated_at": 1546300800, "selling_ships": ["Adder", "Imaginary Clipper"], "selling_modules": [1, 2]}
`)
	fetcher.fresh[eddb.StationsFile] = true

	sum, err := imp.Run(ctx, Options{ShipVendors: true})
	require.NoError(t, err)
	require.Contains(t, passKinds(sum), "station")

	assert.Equal(t, int64(1), countRows(t, db, "ShipVendor"))
	assert.True(t, sum.Dirty.Dirty("ShipVendor"))

	// The outfitting timestamp did not move, so its stock was left alone
	// even though the station record itself was reprocessed.
	assert.False(t, sum.Dirty.Dirty("UpgradeVendor"))
	assert.Equal(t, int64(2), countRows(t, db, "UpgradeVendor"))
}

func TestRun_SkipVendorsLeavesVendorStock(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	// Same restock as above, but the run opts out of vendor processing.
	writeDump(t, fetcher.dir, eddb.StationsFile,
		`{"id": 10, "name": "Abraham Lincoln", "system_id": 1, "max_landing_pad_size": "L", "distance_to_star": 496, "has_blackmarket": false, "has_market": true, "has_shipyard": true, "has_outfitting": true, "has_rearm": true, "has_refuel": true, "has_repair": true, "is_planetary": false, "updated_at": 1546308000, "shipyard_updated_at": 1546304400, "outfitting_updated_at": 1546304400, "selling_ships": ["Adder"], "selling_modules": [1]}
`)
	fetcher.fresh[eddb.StationsFile] = true

	sum, err := imp.Run(ctx, Options{Station: true, SkipVendors: true})
	require.NoError(t, err)

	require.Contains(t, passKinds(sum), "station")
	assert.True(t, sum.Dirty.Dirty("Station"))
	assert.Equal(t, int64(2), countRows(t, db, "ShipVendor"))
	assert.Equal(t, int64(2), countRows(t, db, "UpgradeVendor"))
}

func TestRun_ConstraintViolationsSkipRecords(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	// A station in a system the dump never published. The foreign key
	// rejects it; the pass carries on.
	writeDump(t, fetcher.dir, eddb.StationsFile,
		`{"id": 12, "name": "Lost Outpost", "system_id": 999, "max_landing_pad_size": "M", "distance_to_star": 12, "has_blackmarket": false, "has_market": true, "has_shipyard": false, "has_outfitting": false, "has_rearm": false, "has_refuel": false, "has_repair": false, "is_planetary": false, "updated_at": 1546304400, "shipyard_updated_at": null, "outfitting_updated_at": null, "selling_ships": [], "selling_modules": []}
`)
	fetcher.fresh[eddb.StationsFile] = true

	sum, err := imp.Run(ctx, Options{Station: true})
	require.NoError(t, err)

	require.Contains(t, passKinds(sum), "station")
	var res reconcile.Result
	for _, p := range sum.Passes {
		if p.Kind == "station" {
			res = p
		}
	}
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Written)
	assert.Equal(t, int64(2), countRows(t, db, "Station"))
}

func TestRun_FallbackWithoutCachedLiveListings(t *testing.T) {
	imp, fetcher, _, _ := newImporter(t)
	require.NoError(t, os.Remove(filepath.Join(fetcher.dir, eddb.LiveListingsFile)))

	// An empty database forces a clean import, and the archive does not
	// serve the live feed. With no cached copy either, the live pass is
	// skipped rather than failing the run.
	sum, err := imp.Run(context.Background(), Options{Fallback: true})
	require.NoError(t, err)

	assert.True(t, fetcher.OnFallback())
	assert.Contains(t, passKinds(sum), "listings")
	assert.NotContains(t, passKinds(sum), "listings-live")
	assert.Empty(t, sum.Failed)
}

func TestRun_MalformedDumpFailsItsPassOnly(t *testing.T) {
	imp, fetcher, exporter, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	// A truncated systems dump kills the system pass mid-stream. The
	// commodities dump is fine, so its pass still runs.
	writeDump(t, fetcher.dir, eddb.SystemsFile, "{\"id\": 3, \"name\": \"Aleph\"\n")
	fetcher.fresh[eddb.SystemsFile] = true
	fetcher.fresh[eddb.CommoditiesFile] = true

	sum, err := imp.Run(ctx, Options{System: true, Item: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"item"}, passKinds(sum))
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "system", sum.Failed[0].Kind)
	assert.Error(t, sum.Failed[0].Err)

	// The failed pass rolled back; nothing from it is visible, and the
	// artifacts still regenerated.
	assert.Equal(t, int64(2), countRows(t, db, "System"))
	assert.Equal(t, "prices", exporter.calls[len(exporter.calls)-1])
}

func TestRun_DeadMirrorSkipsPass(t *testing.T) {
	imp, fetcher, _, _ := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	fetcher.fail = map[string]error{eddb.SystemsFile: assert.AnError}

	sum, err := imp.Run(ctx, Options{System: true})
	require.NoError(t, err)

	// An unreachable source reads as "not updated": no pass, no failure.
	assert.Empty(t, passKinds(sum))
	assert.Empty(t, sum.Failed)
}

func TestRun_ForceRunsFromCacheWhenMirrorDead(t *testing.T) {
	imp, fetcher, _, db := newImporter(t)
	ctx := context.Background()

	_, err := imp.Run(ctx, Options{})
	require.NoError(t, err)

	fetcher.fail = map[string]error{eddb.SystemsFile: assert.AnError}

	sum, err := imp.Run(ctx, Options{System: true, Force: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"system"}, passKinds(sum))
	assert.Empty(t, sum.Failed)
	assert.Equal(t, int64(2), countRows(t, db, "System"))

	// Without a cached copy the pass is skipped, not failed.
	require.NoError(t, os.Remove(filepath.Join(fetcher.dir, eddb.SystemsFile)))
	sum, err = imp.Run(ctx, Options{System: true, Force: true})
	require.NoError(t, err)
	assert.Empty(t, passKinds(sum))
	assert.Empty(t, sum.Failed)
}
