package models

// System is a populated star system. IDs are assigned by the data
// provider, not generated locally.
type System struct {
	ID       int64
	Name     string
	PosX     float64
	PosY     float64
	PosZ     float64
	Modified int64 // UTC epoch seconds
}
