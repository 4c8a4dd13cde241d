// Package core provides the fundamental types and interfaces for the tracking package.
//
// This package contains:
//   - Unit models (Batch, InProcessItem, SerializedItem) with GORM annotations
//   - Operation catalog entries and the Attempt ledger row
//   - HistoryEntry, the immutable copy of a closed in-process attempt
//   - Event types emitted after attempts close
//   - The typed error taxonomy shared by every layer
//
// Most users should import the root package github.com/jdziat/simple-process-tracking
// instead of this package directly.
package core
