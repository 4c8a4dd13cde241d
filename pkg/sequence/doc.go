// Package sequence decides whether an attempt may start or complete.
//
// The Validator is pure: callers load the unit, the catalog snapshot and
// the relevant attempts, and the Validator returns a typed error or a
// decision. It performs no I/O and keeps no state between calls, so the
// same checks run at start time and again at commit time.
package sequence
