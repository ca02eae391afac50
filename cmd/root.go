package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/config"
	"github.com/eyeonus/EDDBlink/pkg/export"
	"github.com/eyeonus/EDDBlink/pkg/fetch"
	"github.com/eyeonus/EDDBlink/pkg/importer"
	"github.com/eyeonus/EDDBlink/pkg/logging"
	"github.com/eyeonus/EDDBlink/pkg/store"
)

var (
	version = "dev"

	configPath string
	dataDir    string
	opts       importer.Options
)

var (
	note = color.New(color.FgCyan).SprintfFunc()
	warn = color.New(color.FgYellow, color.Bold).SprintfFunc()
)

var rootCmd = &cobra.Command{
	Use:   "eddblink",
	Short: "Incremental EDDB importer for the TradeDangerous database",
	Long: `eddblink keeps a TradeDangerous database in step with the EDDB dump
mirror. Files are downloaded only when the mirror's copy is newer than
the local cache, and records are written only when they are newer than
what the database already holds.

Examples:

  eddblink                   # refresh market data (the default)
  eddblink --all             # refresh everything, vendor stock included
  eddblink --clean           # start over from an empty database
  eddblink --ship --upgrade  # just hulls and outfitting modules
`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.BoolVar(&opts.Item, "item", false, "update commodities and their categories")
	f.BoolVar(&opts.System, "system", false, "update systems")
	f.BoolVar(&opts.Station, "station", false, "update stations (implies --system)")
	f.BoolVar(&opts.Ship, "ship", false, "update ships")
	f.BoolVar(&opts.ShipVendors, "shipvend", false, "update shipyard stock (implies --ship --station)")
	f.BoolVar(&opts.Upgrade, "upgrade", false, "update outfitting modules")
	f.BoolVar(&opts.UpgradeVendors, "upvend", false, "update outfitting stock (implies --upgrade --station)")
	f.BoolVar(&opts.Listings, "listings", false, "update market data (the default when nothing is selected)")
	f.BoolVar(&opts.All, "all", false, "update everything")
	f.BoolVar(&opts.Clean, "clean", false, "reset the database, then import everything")
	f.BoolVar(&opts.SkipVendors, "skipvend", false, "leave shipyard and outfitting stock alone")
	f.BoolVar(&opts.Force, "force", false, "import even when the mirror copy is not newer")
	f.BoolVar(&opts.Fallback, "fallback", false, "download from the fallback archive")
	f.StringVar(&configPath, "config", "config.yaml", "configuration file")
	f.StringVar(&dataDir, "data", "", "data directory (overrides configuration)")
}

// Execute runs the CLI. The build injects the version via ldflags.
func Execute(v string) {
	version = v
	rootCmd.Version = v

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("eddblink: %v", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// A .env file is a developer convenience; absence is the normal case.
	_ = godotenv.Load()

	// The flag is a louder spelling of the environment override, so it
	// participates in the usual defaulting (database path, export dir).
	if dataDir != "" {
		os.Setenv("EDDBLINK_DATA_DIR", dataDir)
	}

	cfg, err := config.Load(configPath, version)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("eddblink starting",
		zap.String("version", cfg.Version),
		zap.String("data_dir", cfg.DataDir),
		zap.String("database", databaseLabel(cfg)))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	fetcher := fetch.NewClient(cfg.Source, cfg.DataDir, logger)
	exporter := export.New(db, cfg.ExportDir, logger)

	imp := importer.New(cfg, db, fetcher, exporter, logger)
	imp.Progress = renderProgress

	sum, err := imp.Run(ctx, opts)
	if err != nil {
		return err
	}

	printSummary(sum, fetcher.OnFallback())
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%d of %d import passes failed",
			len(sum.Failed), len(sum.Failed)+len(sum.Passes))
	}
	return nil
}

// databaseLabel describes the configured database for the startup log
// line without leaking postgres credentials.
func databaseLabel(cfg *config.Config) string {
	if cfg.Database.Driver == "postgres" {
		return logging.SanitizeConnectionString(cfg.Database.URL)
	}
	return cfg.Database.Path
}

// renderProgress keeps one status line updated in place. The engine's
// final callback for a pass reports done == total and finishes the line.
func renderProgress(kind string, done, total int) {
	if total > 0 {
		fmt.Printf("\r%-14s %9d / %d (%d%%)", kind, done, total, done*100/total)
	} else {
		fmt.Printf("\r%-14s %9d", kind, done)
	}
	if done >= total {
		fmt.Println()
	}
}

func printSummary(sum *importer.Summary, onFallback bool) {
	for _, res := range sum.Passes {
		fmt.Printf("%-14s %d processed, %d written, %d stale, %d skipped\n",
			res.Kind, res.Processed, res.Written, res.Stale, res.Skipped)
	}
	for _, f := range sum.Failed {
		fmt.Println(warn("WARN: %s import failed: %v", f.Kind, f.Err))
	}
	if onFallback {
		fmt.Println(note("NOTE: run used the fallback archive, which does not publish the live market feed"))
	}
	if names := sum.Dirty.Names(); len(names) > 0 {
		fmt.Println(note("NOTE: updated tables: %s", strings.Join(names, ", ")))
	}
	fmt.Println(note("NOTE: wrote %s", sum.PricesPath))
}
