package eddb

import (
	"strings"

	"github.com/eyeonus/EDDBlink/pkg/models"
)

// Category is the commodity grouping embedded in each commodities.json
// entry.
type Category struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Commodity is one entry of commodities.json.
type Commodity struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	IsRare       bool     `json:"is_rare"`
	AveragePrice *int64   `json:"average_price"`
	EDID         *int64   `json:"ed_id"`
}

// AvgPrice returns the average market price, 0 when the dump has none.
func (c *Commodity) AvgPrice() int64 {
	if c.AveragePrice == nil {
		return 0
	}
	return *c.AveragePrice
}

// FDevID returns the Frontier internal id, 0 when the dump has none.
func (c *Commodity) FDevID() int64 {
	if c.EDID == nil {
		return 0
	}
	return *c.EDID
}

// System is one line of systems_populated.jsonl.
type System struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	UpdatedAt int64   `json:"updated_at"`
}

// Station is one line of stations.jsonl, including the embedded vendor
// data (ships and modules sold on site).
type Station struct {
	ID                  int64    `json:"id"`
	Name                string   `json:"name"`
	SystemID            int64    `json:"system_id"`
	MaxLandingPadSize   *string  `json:"max_landing_pad_size"`
	DistanceToStar      *int64   `json:"distance_to_star"`
	HasBlackmarket      bool     `json:"has_blackmarket"`
	HasMarket           bool     `json:"has_market"`
	HasShipyard         bool     `json:"has_shipyard"`
	HasOutfitting       bool     `json:"has_outfitting"`
	HasRearm            bool     `json:"has_rearm"`
	HasRefuel           bool     `json:"has_refuel"`
	HasRepair           bool     `json:"has_repair"`
	IsPlanetary         bool     `json:"is_planetary"`
	UpdatedAt           int64    `json:"updated_at"`
	ShipyardUpdatedAt   *int64   `json:"shipyard_updated_at"`
	OutfittingUpdatedAt *int64   `json:"outfitting_updated_at"`
	SellingShips        []string `json:"selling_ships"`
	SellingModules      []int64  `json:"selling_modules"`
}

// PadSize returns the stored landing pad marker. The dump publishes null
// or the literal string "None" for stations it has no data for.
func (s *Station) PadSize() string {
	if s.MaxLandingPadSize == nil || *s.MaxLandingPadSize == "" || *s.MaxLandingPadSize == "None" {
		return models.PadSizeUnknown
	}
	return *s.MaxLandingPadSize
}

// LsFromStar returns the distance from the arrival star, 0 when unknown.
func (s *Station) LsFromStar() int64 {
	if s.DistanceToStar == nil {
		return 0
	}
	return *s.DistanceToStar
}

// ShipyardModified returns the shipyard freshness timestamp, falling back
// to the station's own timestamp when the dump has none.
func (s *Station) ShipyardModified() int64 {
	if s.ShipyardUpdatedAt == nil || *s.ShipyardUpdatedAt == 0 {
		return s.UpdatedAt
	}
	return *s.ShipyardUpdatedAt
}

// OutfittingModified returns the outfitting freshness timestamp, falling
// back to the station's own timestamp when the dump has none.
func (s *Station) OutfittingModified() int64 {
	if s.OutfittingUpdatedAt == nil || *s.OutfittingUpdatedAt == 0 {
		return s.UpdatedAt
	}
	return *s.OutfittingUpdatedAt
}

// Upgrade is one entry of modules.json.
type Upgrade struct {
	ID       int64    `json:"id"`
	Name     *string  `json:"name"`
	EDSymbol string   `json:"ed_symbol"`
	Mass     *float64 `json:"mass"`
	Price    *int64   `json:"price"`
}

// DisplayName returns the module name, falling back to the symbol with
// the underscores opened up when the dump has no display name.
func (u *Upgrade) DisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return strings.ReplaceAll(u.EDSymbol, "_", " ")
}

// Weight returns the module mass, 0 when absent.
func (u *Upgrade) Weight() float64 {
	if u.Mass == nil {
		return 0
	}
	return *u.Mass
}

// Cost returns the module price, 0 when absent.
func (u *Upgrade) Cost() int64 {
	if u.Price == nil {
		return 0
	}
	return *u.Price
}

// Ship is one hull from the coriolis index, with the name already
// normalized to the station dump's convention.
type Ship struct {
	ID     int64
	Name   string
	Cost   int64
	FDevID int64
}

// Listing is one row of listings.csv or listings-live.csv.
type Listing struct {
	StationID   int64
	ItemID      int64
	CollectedAt int64
	DemandPrice int64
	DemandUnits int64
	DemandLevel int64
	SupplyPrice int64
	SupplyUnits int64
	SupplyLevel int64
}
