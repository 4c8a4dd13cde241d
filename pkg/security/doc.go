// Package security provides validation, sanitization, and limits for the tracking package.
//
// This package includes:
//   - Input validation for operation codes, batch codes, operators and serial prefixes
//   - Payload size and JSON checks for attempt measurements
//   - Message sanitization for values that end up in logs or events
//   - Clamping functions for batch sizes, rework limits and page sizes
//
// Most users should import the root package github.com/jdziat/simple-process-tracking
// which re-exports the limits.
package security
