package models

// Category groups items in the market UI.
type Category struct {
	ID   int64
	Name string
}

// Item is a tradeable commodity.
type Item struct {
	ID         int64
	Name       string
	CategoryID int64
	// UIOrder is derived, not imported: the dense rank of the item's name
	// within its category, recomputed after every item import.
	UIOrder  int64
	AvgPrice int64
	FDevID   int64
}
