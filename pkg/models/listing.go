package models

// Listing provenance markers for StationItem.FromLive.
const (
	FromBulk int64 = 0 // row written from the daily bulk dump
	FromLive int64 = 1 // row written from the live update feed
)

// StationItem is one market listing: an item traded at a station.
// Demand is what the station pays commanders (sell side for the player),
// supply is what the station charges (buy side). Level -1 means the dump
// published no bracket.
type StationItem struct {
	StationID   int64
	ItemID      int64
	Modified    int64 // UTC epoch seconds, compared directly
	DemandPrice int64
	DemandUnits int64
	DemandLevel int64
	SupplyPrice int64
	SupplyUnits int64
	SupplyLevel int64
	FromLive    int64
}
