package models

// Ship is a purchasable hull.
type Ship struct {
	ID     int64
	Name   string
	Cost   int64
	FDevID int64
}

// ShipVendor links a station's shipyard to a hull it sells. Rows for one
// station are replaced as a set whenever the shipyard data is newer.
type ShipVendor struct {
	ShipID    int64
	StationID int64
	Modified  int64 // UTC epoch seconds
}
