// Package ledger records attempts at manufacturing operations.
//
// StartProcess and CompleteProcess each run as one transaction: sequence
// checks, the insert or guarded close, history append, identity conversion
// and status roll-up commit together or not at all. Notifications are sent
// after commit and never affect the result.
package ledger
