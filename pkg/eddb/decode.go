package eddb

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
)

// maxLineBytes bounds a single dump line. Station lines carry full vendor
// inventories and can run long.
const maxLineBytes = 1024 * 1024

// countLines counts newline-delimited records so progress can report a
// total without decoding the file twice.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	buf := make([]byte, 64*1024)
	count := 0
	for {
		n, err := f.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

// Lines streams newline-delimited JSON records. The system and station
// dumps run to hundreds of megabytes, so they are never held in memory.
type Lines[R any] struct {
	f       *os.File
	scanner *bufio.Scanner
	total   int
	line    int
}

func openLines[R any](path string) (*Lines[R], error) {
	total, err := countLines(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	return &Lines[R]{f: f, scanner: scanner, total: total}, nil
}

// Next returns the next record, io.EOF at end of stream, or a decode error
// that poisons the rest of the stream.
func (l *Lines[R]) Next() (R, error) {
	var rec R
	for l.scanner.Scan() {
		l.line++
		line := bytes.TrimSpace(l.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &rec); err != nil {
			return rec, fmt.Errorf("failed to decode line %d: %w", l.line, err)
		}
		return rec, nil
	}
	if err := l.scanner.Err(); err != nil {
		return rec, fmt.Errorf("failed to read line %d: %w", l.line+1, err)
	}
	return rec, io.EOF
}

// Total reports the number of lines in the file, for progress.
func (l *Lines[R]) Total() int { return l.total }

func (l *Lines[R]) Close() error { return l.f.Close() }

// OpenSystems opens the systems dump for streaming.
func OpenSystems(path string) (*Lines[System], error) {
	src, err := openLines[System](path)
	if err != nil {
		return nil, fmt.Errorf("failed to open systems dump: %w", err)
	}
	return src, nil
}

// OpenStations opens the stations dump for streaming.
func OpenStations(path string) (*Lines[Station], error) {
	src, err := openLines[Station](path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stations dump: %w", err)
	}
	return src, nil
}

// Array iterates a fully decoded JSON array dump. The array dumps
// (commodities, modules) are small enough to hold in memory.
type Array[R any] struct {
	recs []R
	i    int
}

func openArray[R any](path, what string) (*Array[R], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", what, err)
	}
	var recs []R
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", what, err)
	}
	return &Array[R]{recs: recs}, nil
}

// Next returns the next record or io.EOF at end of stream.
func (a *Array[R]) Next() (R, error) {
	if a.i >= len(a.recs) {
		var zero R
		return zero, io.EOF
	}
	rec := a.recs[a.i]
	a.i++
	return rec, nil
}

// Total reports the number of records, for progress.
func (a *Array[R]) Total() int { return len(a.recs) }

func (a *Array[R]) Close() error { return nil }

// OpenCommodities opens the commodities dump.
func OpenCommodities(path string) (*Array[Commodity], error) {
	return openArray[Commodity](path, "commodities dump")
}

// OpenUpgrades opens the outfitting modules dump.
func OpenUpgrades(path string) (*Array[Upgrade], error) {
	return openArray[Upgrade](path, "modules dump")
}

// coriolisShip is the slice of a coriolis index entry the importer needs.
type coriolisShip struct {
	EDDBID     int64 `json:"eddbID"`
	Properties struct {
		Name string `json:"name"`
	} `json:"properties"`
	RetailCost int64 `json:"retailCost"`
	EDID       int64 `json:"edID"`
}

// Ships iterates the coriolis ship index in sorted key order, so repeated
// runs see the hulls in the same sequence.
type Ships struct {
	recs []Ship
	i    int
}

// OpenShips opens and decodes the coriolis ship index.
func OpenShips(path string) (*Ships, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ship index: %w", err)
	}

	var index struct {
		Ships map[string]coriolisShip `json:"Ships"`
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to decode ship index: %w", err)
	}

	keys := make([]string, 0, len(index.Ships))
	for key := range index.Ships {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	recs := make([]Ship, 0, len(keys))
	for _, key := range keys {
		entry := index.Ships[key]
		recs = append(recs, Ship{
			ID:     entry.EDDBID,
			Name:   NormalizeShipName(entry.Properties.Name),
			Cost:   entry.RetailCost,
			FDevID: entry.EDID,
		})
	}

	return &Ships{recs: recs}, nil
}

// Next returns the next hull or io.EOF at end of stream.
func (s *Ships) Next() (Ship, error) {
	if s.i >= len(s.recs) {
		return Ship{}, io.EOF
	}
	rec := s.recs[s.i]
	s.i++
	return rec, nil
}

// Total reports the number of hulls, for progress.
func (s *Ships) Total() int { return len(s.recs) }

func (s *Ships) Close() error { return nil }

// listingColumns are the columns Next reads. The dump carries more; extra
// columns are ignored, missing ones fail at open.
var listingColumns = []string{
	"station_id", "commodity_id", "collected_at",
	"demand", "demand_bracket", "sell_price",
	"supply", "supply_bracket", "buy_price",
}

// Listings streams a market listings CSV.
type Listings struct {
	f     *os.File
	r     *csv.Reader
	idx   map[string]int
	total int
	line  int
}

// OpenListings opens a listings CSV (bulk or live) for streaming.
func OpenListings(path string) (*Listings, error) {
	total, err := countLines(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read listings header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, want := range listingColumns {
		if _, ok := idx[want]; !ok {
			f.Close()
			return nil, fmt.Errorf("listings file missing column %q", want)
		}
	}

	if total > 0 {
		total-- // header line
	}

	return &Listings{f: f, r: r, idx: idx, total: total}, nil
}

// Next returns the next listing, io.EOF at end of stream, or a parse error
// that poisons the rest of the stream.
func (l *Listings) Next() (Listing, error) {
	row, err := l.r.Read()
	if err == io.EOF {
		return Listing{}, io.EOF
	}
	if err != nil {
		return Listing{}, fmt.Errorf("failed to read listings row: %w", err)
	}
	l.line++

	num := func(col string) (int64, error) {
		v, err := strconv.ParseInt(row[l.idx[col]], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse %s on listings row %d: %w", col, l.line, err)
		}
		return v, nil
	}
	// Brackets may be published empty; that means "no level known".
	level := func(col string) (int64, error) {
		if row[l.idx[col]] == "" {
			return -1, nil
		}
		return num(col)
	}

	var rec Listing
	fields := []struct {
		dst   *int64
		col   string
		parse func(string) (int64, error)
	}{
		{&rec.StationID, "station_id", num},
		{&rec.ItemID, "commodity_id", num},
		{&rec.CollectedAt, "collected_at", num},
		{&rec.DemandPrice, "sell_price", num},
		{&rec.DemandUnits, "demand", num},
		{&rec.DemandLevel, "demand_bracket", level},
		{&rec.SupplyPrice, "buy_price", num},
		{&rec.SupplyUnits, "supply", num},
		{&rec.SupplyLevel, "supply_bracket", level},
	}
	for _, f := range fields {
		v, err := f.parse(f.col)
		if err != nil {
			return Listing{}, err
		}
		*f.dst = v
	}

	return rec, nil
}

// Total reports the number of data rows, for progress.
func (l *Listings) Total() int { return l.total }

func (l *Listings) Close() error { return l.f.Close() }
