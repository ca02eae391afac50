package models

// Upgrade is an outfitting module.
type Upgrade struct {
	ID     int64
	Name   string
	Weight float64
	Cost   int64
}

// UpgradeVendor links a station's outfitting service to a module it sells.
// Cost is a snapshot of Upgrade.Cost taken at write time. Rows for one
// station are replaced as a set whenever the outfitting data is newer.
type UpgradeVendor struct {
	UpgradeID int64
	StationID int64
	Cost      int64
	Modified  int64 // UTC epoch seconds
}
