package reconcile

import "sort"

// Tables is the set of tables a pass or run has dirtied. Exports consult
// it to decide what needs regenerating.
type Tables map[string]bool

// Mark adds tables to the set.
func (t Tables) Mark(names ...string) {
	for _, name := range names {
		if name != "" {
			t[name] = true
		}
	}
}

// Merge folds another set into this one.
func (t Tables) Merge(other Tables) {
	for name, dirty := range other {
		if dirty {
			t[name] = true
		}
	}
}

// Dirty reports whether a table was touched.
func (t Tables) Dirty(name string) bool {
	return t[name]
}

// Names returns the dirtied tables in sorted order.
func (t Tables) Names() []string {
	names := make([]string, 0, len(t))
	for name, dirty := range t {
		if dirty {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Result reports what one pass did. The caller owns it; nothing here is
// global state.
type Result struct {
	// Kind names the record kind the pass reconciled.
	Kind string

	// Processed counts records read from the source.
	Processed int

	// Written counts records that changed a row.
	Written int

	// Stale counts records rejected by the freshness gate.
	Stale int

	// Skipped counts records dropped over constraint violations.
	Skipped int

	// Dirty is the set of tables this pass touched.
	Dirty Tables
}
