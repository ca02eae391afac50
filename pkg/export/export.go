// Package export writes the artifacts other tools consume: per-table CSV
// snapshots for everything a run touched, and the TradeDangerous .prices
// file regenerated from the market table.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/eyeonus/EDDBlink/pkg/reconcile"
	"github.com/eyeonus/EDDBlink/pkg/store"
)

// timeLayout renders stored epoch seconds the way the exported files
// expect timestamps.
const timeLayout = "2006-01-02 15:04:05"

type tableSpec struct {
	Name    string
	OrderBy string
}

// tables lists every CSV-exportable table in dispatch order. The market
// table is not here; it leaves the database as the .prices file instead.
var tables = []tableSpec{
	{Name: "Category", OrderBy: "category_id"},
	{Name: "Item", OrderBy: "item_id"},
	{Name: "Ship", OrderBy: "ship_id"},
	{Name: "ShipVendor", OrderBy: "ship_id, station_id"},
	{Name: "Station", OrderBy: "station_id"},
	{Name: "System", OrderBy: "system_id"},
	{Name: "Upgrade", OrderBy: "upgrade_id"},
	{Name: "UpgradeVendor", OrderBy: "upgrade_id, station_id"},
}

// Tables returns the exportable table names in dispatch order.
func Tables() []string {
	names := make([]string, len(tables))
	for i, spec := range tables {
		names[i] = spec.Name
	}
	return names
}

// Exporter writes CSV and .prices artifacts into one directory.
type Exporter struct {
	db     *store.DB
	dir    string
	logger *zap.Logger
}

// New builds an Exporter writing into dir.
func New(db *store.DB, dir string, logger *zap.Logger) *Exporter {
	return &Exporter{
		db:     db,
		dir:    dir,
		logger: logger.Named("export"),
	}
}

// Dispatch writes a CSV snapshot for every exportable table the run
// dirtied, in fixed order. Tables nothing touched keep their previous
// snapshot.
func (e *Exporter) Dispatch(ctx context.Context, dirty reconcile.Tables) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	for _, spec := range tables {
		if !dirty.Dirty(spec.Name) {
			continue
		}
		path, rows, err := e.exportTable(ctx, spec)
		if err != nil {
			return fmt.Errorf("failed to export %s: %w", spec.Name, err)
		}
		e.logger.Info("exported table",
			zap.String("table", spec.Name),
			zap.String("path", path),
			zap.Int("rows", rows))
	}
	return nil
}

// Clean removes every exported artifact. A clean import starts with no
// stale snapshots on disk.
func (e *Exporter) Clean() error {
	paths := make([]string, 0, len(tables)+1)
	for _, spec := range tables {
		paths = append(paths, filepath.Join(e.dir, spec.Name+".csv"))
	}
	paths = append(paths, filepath.Join(e.dir, PricesName))

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (e *Exporter) exportTable(ctx context.Context, spec tableSpec) (string, int, error) {
	// Table and column names come from the fixed registry above, never
	// from input.
	query := fmt.Sprintf("SELECT * FROM %s ORDER BY %s", spec.Name, spec.OrderBy)
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return "", 0, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return "", 0, err
	}

	path := filepath.Join(e.dir, spec.Name+".csv")
	tmp, err := os.CreateTemp(e.dir, spec.Name+".csv.tmp")
	if err != nil {
		return "", 0, err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(cols); err != nil {
		tmp.Close()
		return "", 0, err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	record := make([]string, len(cols))
	count := 0
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			tmp.Close()
			return "", 0, err
		}
		for i, v := range values {
			record[i] = renderValue(cols[i], v)
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return "", 0, err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		tmp.Close()
		return "", 0, err
	}

	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return "", 0, err
	}
	if err := tmp.Close(); err != nil {
		return "", 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, err
	}
	return path, count, nil
}

// renderValue formats one scanned column for CSV. Timestamps are stored
// as epoch seconds but exported human-readable.
func renderValue(col string, v any) string {
	if col == "modified" {
		if epoch, ok := v.(int64); ok {
			return renderTime(epoch)
		}
	}
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(val)
	}
}

func renderTime(epoch int64) string {
	return time.Unix(epoch, 0).UTC().Format(timeLayout)
}
