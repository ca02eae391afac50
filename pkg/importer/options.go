package importer

// Options selects what one run imports. The zero value imports nothing
// until Normalize applies the default target.
type Options struct {
	Item           bool // commodities, maintained together with their categories
	System         bool
	Station        bool
	Ship           bool
	ShipVendors    bool // shipyard stock, processed during the station pass
	Upgrade        bool
	UpgradeVendors bool // outfitting stock, processed during the station pass
	Listings       bool // market data, bulk dump plus live feed

	All   bool // every target above
	Clean bool // reset the database and artifacts, then run a forced full import

	SkipVendors bool // leave shipyard and outfitting stock alone
	Force       bool // import even when the mirror copy is not newer
	Fallback    bool // start on the fallback archive
}

// Normalize applies the default target and the implications between
// targets. SkipVendors is applied last so it wins over whatever turned
// the vendors on.
func (o Options) Normalize() Options {
	if !o.explicit() {
		o.Listings = true
	}
	if o.Clean {
		o.All = true
		o.Force = true
	}
	if o.Listings {
		o.Item = true
		o.Station = true
	}
	if o.ShipVendors {
		o.Ship = true
		o.Station = true
	}
	if o.UpgradeVendors {
		o.Upgrade = true
		o.Station = true
	}
	if o.Station {
		o.System = true
	}
	if o.All {
		o.Item = true
		o.System = true
		o.Station = true
		o.Ship = true
		o.ShipVendors = true
		o.Upgrade = true
		o.UpgradeVendors = true
		o.Listings = true
	}
	if o.SkipVendors {
		o.ShipVendors = false
		o.UpgradeVendors = false
	}
	return o
}

// explicit reports whether any import target was requested. Force,
// Fallback, and SkipVendors are modifiers, not targets; a run carrying
// only modifiers still gets the default listings import.
func (o Options) explicit() bool {
	return o.Item || o.System || o.Station || o.Ship || o.ShipVendors ||
		o.Upgrade || o.UpgradeVendors || o.Listings || o.All || o.Clean
}

// targets names the enabled import targets, for logging.
func (o Options) targets() []string {
	var enabled []string
	for _, t := range []struct {
		on   bool
		name string
	}{
		{o.Upgrade, "upgrade"},
		{o.Ship, "ship"},
		{o.System, "system"},
		{o.Station, "station"},
		{o.ShipVendors, "shipvend"},
		{o.UpgradeVendors, "upvend"},
		{o.Item, "item"},
		{o.Listings, "listings"},
	} {
		if t.on {
			enabled = append(enabled, t.name)
		}
	}
	return enabled
}
