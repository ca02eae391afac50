// Package importer orchestrates one EDDBlink run: refresh the dump files
// that went stale, reconcile each into the database in dependency order,
// and regenerate the exported artifacts.
package importer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/config"
	"github.com/eyeonus/EDDBlink/pkg/fetch"
	"github.com/eyeonus/EDDBlink/pkg/reconcile"
	"github.com/eyeonus/EDDBlink/pkg/store"
)

// Fetcher is the slice of the mirror client the importer needs.
type Fetcher interface {
	Refresh(ctx context.Context, src fetch.Source, force bool) (bool, error)
	Path(src fetch.Source) string
	UseFallback()
	OnFallback() bool
}

// Exporter regenerates the on-disk artifacts derived from the database.
type Exporter interface {
	Dispatch(ctx context.Context, dirty reconcile.Tables) error
	WritePrices(ctx context.Context) (string, error)
	Clean() error
}

// Summary reports what one run did. Passes appear in execution order;
// passes whose source was already current are absent.
type Summary struct {
	RunID      string
	Passes     []reconcile.Result
	Failed     []Failure
	Dirty      reconcile.Tables
	PricesPath string
}

// Failure records a pass that aborted. Each pass commits on its own, so
// one bad dump costs that kind alone and the run carries on; the failure
// is reported here instead of as a run error.
type Failure struct {
	Kind string
	Err  error
}

func (s *Summary) add(res reconcile.Result) {
	s.Passes = append(s.Passes, res)
	s.Dirty.Merge(res.Dirty)
}

func (s *Summary) fail(kind string, err error) {
	s.Failed = append(s.Failed, Failure{Kind: kind, Err: err})
}

// Importer wires the mirror client, the reconcile passes, and the export
// dispatcher together over one database.
type Importer struct {
	cfg      *config.Config
	db       *store.DB
	fetcher  Fetcher
	exporter Exporter
	logger   *zap.Logger

	// Progress, when set, receives per-pass progress for display.
	Progress func(kind string, done, total int)
}

// New builds an Importer over the given collaborators.
func New(cfg *config.Config, db *store.DB, fetcher Fetcher, exporter Exporter, logger *zap.Logger) *Importer {
	return &Importer{
		cfg:      cfg,
		db:       db,
		fetcher:  fetcher,
		exporter: exporter,
		logger:   logger.Named("importer"),
	}
}

// Run executes one import. The returned summary covers whatever completed
// even when err is non-nil; passes roll back individually, so everything
// the summary reports is committed.
func (imp *Importer) Run(ctx context.Context, opts Options) (*Summary, error) {
	sum := &Summary{RunID: uuid.NewString(), Dirty: reconcile.Tables{}}
	log := imp.logger.With(zap.String("run_id", sum.RunID))

	empty, err := imp.emptyDatabase(ctx)
	if err != nil {
		return sum, err
	}
	if empty && !opts.Clean {
		log.Info("database is empty, running a clean import")
		opts.Clean = true
	}
	opts = opts.Normalize()
	log.Info("starting import",
		zap.Strings("targets", opts.targets()),
		zap.Bool("force", opts.Force),
		zap.Bool("clean", opts.Clean))

	if opts.Fallback {
		imp.fetcher.UseFallback()
	}

	if opts.Clean {
		if err := imp.db.Reset(); err != nil {
			return sum, err
		}
		if err := imp.exporter.Clean(); err != nil {
			return sum, err
		}
	}

	type pass struct {
		kind    string
		enabled bool
		run     func(context.Context, Options, *Summary) error
	}
	for _, p := range []pass{
		{"upgrade", opts.Upgrade, imp.importUpgrades},
		{"ship", opts.Ship, imp.importShips},
		{"system", opts.System, imp.importSystems},
		{"station", opts.Station, imp.importStations},
		{"item", opts.Item, imp.importCommodities},
	} {
		if !p.enabled {
			continue
		}
		if err := p.run(ctx, opts, sum); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			// A bad dump costs its own kind, not the rest of the run.
			log.Error("pass failed", zap.String("kind", p.kind), zap.Error(err))
			sum.fail(p.kind, err)
		}
	}

	// Table snapshots regenerate before market data so a failed listings
	// import cannot leave them stale.
	if err := imp.exporter.Dispatch(ctx, sum.Dirty); err != nil {
		return sum, err
	}

	if opts.Listings {
		for _, live := range []bool{false, true} {
			kind := "listings"
			if live {
				kind = "listings-live"
			}
			if err := imp.importListings(ctx, opts, sum, live); err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				log.Error("pass failed", zap.String("kind", kind), zap.Error(err))
				sum.fail(kind, err)
			}
		}
	}

	// The prices file regenerates on every run, touched tables or not.
	path, err := imp.exporter.WritePrices(ctx)
	if err != nil {
		return sum, err
	}
	sum.PricesPath = path

	log.Info("import complete",
		zap.Int("passes", len(sum.Passes)),
		zap.Int("failed", len(sum.Failed)),
		zap.Strings("dirty", sum.Dirty.Names()))
	return sum, nil
}

// emptyDatabase reports whether the database has never been populated.
// An empty database upgrades the run to a clean import, matching what a
// user starting from scratch needs.
func (imp *Importer) emptyDatabase(ctx context.Context) (bool, error) {
	var systems int64
	err := imp.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM System`).Scan(&systems)
	if err != nil {
		return false, fmt.Errorf("failed to count systems: %w", err)
	}
	return systems == 0, nil
}

// refresh runs the freshness gate for one source. It reports whether the
// pass should proceed and, when it should, the local file to read. Force
// reruns the import even when the gate found the local copy current.
// A failed download is reported as "not updated" rather than failing the
// run; the pass then runs from the cache when force asks for it.
func (imp *Importer) refresh(ctx context.Context, src fetch.Source, opts Options) (bool, string, error) {
	updated, err := imp.fetcher.Refresh(ctx, src, opts.Force)
	if err != nil {
		if ctx.Err() != nil {
			return false, "", ctx.Err()
		}
		imp.logger.Warn("download failed, treating source as not updated",
			zap.String("file", src.Name),
			zap.Error(err))
		updated = false
	}
	if updated {
		return true, imp.fetcher.Path(src), nil
	}
	if !opts.Force {
		imp.logger.Info("local copy is current, skipping pass",
			zap.String("file", src.Name))
		return false, "", nil
	}
	path := imp.fetcher.Path(src)
	if _, err := os.Stat(path); err != nil {
		imp.logger.Warn("no cached copy to import, skipping pass",
			zap.String("file", src.Name))
		return false, "", nil
	}
	return true, path, nil
}

func (imp *Importer) progressFor(kind string) func(done, total int) {
	if imp.Progress == nil {
		return nil
	}
	return func(done, total int) {
		imp.Progress(kind, done, total)
	}
}
