// Package catalog provides the ordered list of manufacturing operations.
//
// A Snapshot is an immutable view of the catalog used for one decision:
// resolving operations, finding predecessors and splitting the active
// operations into the item block (up to and including the identity
// conversion step) and the serial block (everything after it).
//
// Service loads snapshots from the store and carries the administrative
// Define/SetActive calls used for seeding.
package catalog
