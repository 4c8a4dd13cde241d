// Package aggregate rolls attempt outcomes up into unit lifecycle status.
//
// Status is derived from the latest closed entry per operation, never from
// a count of PASS rows: a count over history double-counts operations that
// were reworked or deactivated. ItemStatus, SerialStatus and BatchCounts
// are pure; Aggregator loads their inputs through a storage.Tx and writes
// the result back inside the caller's transaction.
package aggregate
