package eddb

import "strings"

// NormalizeShipName converts a coriolis hull name to the convention used
// by the station dump: "Mk " becomes "Mk. ", and the marks the index
// leaves off entirely are restored.
func NormalizeShipName(name string) string {
	name = strings.ReplaceAll(name, "Mk ", "Mk. ")
	if strings.HasSuffix(name, " Mk") {
		name += "."
	}
	switch name {
	case "Eagle":
		return "Eagle Mk. II"
	case "Sidewinder":
		return "Sidewinder Mk. I"
	case "Viper":
		return "Viper Mk. III"
	}
	return name
}

// NormalizeVendorShipName converts a selling_ships entry to the Ship table
// convention. The station dump is inconsistent about how it abbreviates
// 'Mark', so every variant collapses to " Mk. ".
func NormalizeVendorShipName(name string) string {
	name = strings.ReplaceAll(name, " MK ", " Mk ")
	name = strings.ReplaceAll(name, " Mk ", " Mk. ")
	return name
}
