package godb

import "sync/atomic"

// TransactionID identifies a transaction. IDs are process-unique and
// monotonically increasing; they are never reused, even across
// commit/abort, and never derived from the identity of a goroutine or OS
// thread -- a single transaction may be driven from multiple goroutines, so
// every entry point takes a TransactionID explicitly rather than inferring
// one from the caller.
type TransactionID int32

var nextTid int32

// NewTID allocates a fresh, process-unique TransactionID.
func NewTID() TransactionID {
	return TransactionID(atomic.AddInt32(&nextTid, 1) - 1)
}
