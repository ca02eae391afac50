// Package models contains domain types for the EDDBlink importer.
package models

// Flag is a two-valued facility marker stored as 'Y' or 'N'. The station
// dump publishes booleans; the database and the exported CSVs carry these
// markers instead.
type Flag string

const (
	FlagYes Flag = "Y"
	FlagNo  Flag = "N"
)

// FlagOf converts a provider boolean to its stored marker.
func FlagOf(b bool) Flag {
	if b {
		return FlagYes
	}
	return FlagNo
}

// String returns the string representation of a Flag.
func (f Flag) String() string {
	return string(f)
}

// IsValid returns true if the flag is one of the two stored markers.
func (f Flag) IsValid() bool {
	return f == FlagYes || f == FlagNo
}

// Landing pad sizes as published by the station dump. PadSizeUnknown is
// stored when the dump carries no value.
const (
	PadSizeSmall   = "S"
	PadSizeMedium  = "M"
	PadSizeLarge   = "L"
	PadSizeUnknown = "?"
)
