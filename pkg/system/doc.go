// Package system defines the composed-system data model for rekindle.
//
// A System is an ordered collection of named components. Each component
// exposes a start/stop lifecycle and returns its post-transition value,
// so a fully started system is a new snapshot built from the values the
// components returned, never an in-place mutation of the previous one.
//
// The ordering policy belongs to whoever constructs the System: components
// start in insertion order and stop in reverse insertion order. The
// supervisor package drives those transitions; this package only models
// the collection.
package system
