package models

// Station is a dockable facility inside a system.
type Station struct {
	ID          int64
	Name        string
	SystemID    int64
	LsFromStar  int64 // distance from arrival star, light seconds; 0 when unknown
	Blackmarket Flag
	MaxPadSize  string // PadSize* constant
	Market      Flag
	Shipyard    Flag
	Outfitting  Flag
	Rearm       Flag
	Refuel      Flag
	Repair      Flag
	Planetary   Flag
	Modified    int64 // UTC epoch seconds
}
