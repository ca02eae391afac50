// Package eddb knows the shape of the EDDB bulk dumps: the published file
// names, the record types inside them, and streaming decoders for each
// format (JSON array, JSON lines, CSV, and the coriolis ship index).
package eddb

// Dump file names as published by the mirrors. The fetch client joins
// these onto the mirror base URL; the local cache uses the same names.
const (
	CommoditiesFile  = "commodities.json"
	SystemsFile      = "systems_populated.jsonl"
	StationsFile     = "stations.jsonl"
	UpgradesFile     = "modules.json"
	ListingsFile     = "listings.csv"
	LiveListingsFile = "listings-live.csv"
	ShipsFile        = "index.json"
)
