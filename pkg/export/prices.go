package export

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// PricesName is the market snapshot file written next to the table CSVs.
const PricesName = "TradeDangerous.prices"

// WritePrices regenerates the .prices snapshot of the market table. It
// runs at the end of every import, whether or not listings changed, so
// downstream tools always see a file consistent with the database.
func (e *Exporter) WritePrices(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}

	var width int
	if err := e.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(LENGTH(name)), 0) FROM Item`).Scan(&width); err != nil {
		return "", fmt.Errorf("failed to size item column: %w", err)
	}

	const query = `
		SELECT sys.name, stn.name, cat.name, itm.name,
			si.demand_price, si.demand_units, si.demand_level,
			si.supply_price, si.supply_units, si.supply_level,
			si.modified
		FROM StationItem si
		JOIN Station stn ON stn.station_id = si.station_id
		JOIN System sys ON sys.system_id = stn.system_id
		JOIN Item itm ON itm.item_id = si.item_id
		JOIN Category cat ON cat.category_id = itm.category_id
		ORDER BY sys.name, stn.name, cat.name, itm.ui_order`

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to read market table: %w", err)
	}
	defer rows.Close()

	path := filepath.Join(e.dir, PricesName)
	tmp, err := os.CreateTemp(e.dir, PricesName+".tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	fmt.Fprintf(w, "# Generated by EDDBlink on %s.\n", time.Now().UTC().Format(timeLayout))
	fmt.Fprintln(w, "#")
	fmt.Fprintln(w, "#    <item name>             <sellCr> <buyCr>   <demand>    <stock>  <timestamp>")

	var curStation, curCategory string
	count := 0
	for rows.Next() {
		var sysName, stnName, catName, itemName string
		var demandPrice, demandUnits, demandLevel int64
		var supplyPrice, supplyUnits, supplyLevel int64
		var modified int64
		if err := rows.Scan(&sysName, &stnName, &catName, &itemName,
			&demandPrice, &demandUnits, &demandLevel,
			&supplyPrice, &supplyUnits, &supplyLevel,
			&modified); err != nil {
			tmp.Close()
			return "", err
		}

		station := sysName + "/" + stnName
		if station != curStation {
			fmt.Fprintf(w, "\n@ %s\n", station)
			curStation = station
			curCategory = ""
		}
		if catName != curCategory {
			fmt.Fprintf(w, "   + %s\n", catName)
			curCategory = catName
		}

		fmt.Fprintf(w, "      %-*s %7d %7d %10s %10s  %s\n",
			width, itemName, demandPrice, supplyPrice,
			bracket(demandUnits, demandLevel),
			bracket(supplyUnits, supplyLevel),
			renderTime(modified))
		count++
	}
	if err := rows.Err(); err != nil {
		tmp.Close()
		return "", err
	}

	if err := w.Flush(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}

	e.logger.Info("regenerated prices file",
		zap.String("path", path),
		zap.Int("listings", count))
	return path, nil
}

// bracket renders a units/level pair the way .prices readers expect:
// "?" when unknown, "-" when none, otherwise the unit count tagged with
// the level letter.
func bracket(units, level int64) string {
	if units < 0 {
		return "?"
	}
	if units == 0 {
		return "-"
	}
	switch level {
	case 1:
		return fmt.Sprintf("%dL", units)
	case 2:
		return fmt.Sprintf("%dM", units)
	case 3:
		return fmt.Sprintf("%dH", units)
	default:
		return fmt.Sprintf("%d?", units)
	}
}
