package godb

import (
	"errors"
	"fmt"
)

// ErrorCode classifies the error kinds the engine can raise. The four
// kinds named by the spec (txn abort, storage fault, schema violation,
// invalid request) sit alongside narrower codes for specific conditions
// (e.g. TupleNotFoundError from a delete; PageFullError is consumed by
// HeapFile before it ever reaches a caller).
type ErrorCode int

const (
	// TxnAbortedError is raised when a page lock acquisition exceeds its
	// randomized deadline. Always recoverable: the caller is expected to
	// retry the transaction after calling transactionComplete(tid, false).
	TxnAbortedError ErrorCode = iota
	// StorageFaultError marks an I/O failure reading or writing a page or
	// the log.
	StorageFaultError
	// SchemaViolationError marks a mismatched tuple descriptor or bad
	// field type.
	SchemaViolationError
	// InvalidRequestError marks a programmer error: wrong tableId for a
	// page, read beyond EOF, use of a closed iterator, and similar.
	InvalidRequestError

	// PageFullError: no empty slot remains on a heap page.
	PageFullError
	// TupleNotFoundError: a record id does not resolve to a live tuple.
	TupleNotFoundError
	// MalformedDataError: on-disk bytes failed to decode.
	MalformedDataError
	// TypeMismatchError: a field's encoded type didn't match its descriptor.
	TypeMismatchError
	// IncompatibleTypesError: an operation compared incompatible field types.
	IncompatibleTypesError
	// BufferPoolFullError: eviction could not free a slot.
	BufferPoolFullError
)

func (c ErrorCode) String() string {
	switch c {
	case TxnAbortedError:
		return "txn aborted"
	case StorageFaultError:
		return "storage fault"
	case SchemaViolationError:
		return "schema violation"
	case InvalidRequestError:
		return "invalid request"
	case PageFullError:
		return "page full"
	case TupleNotFoundError:
		return "tuple not found"
	case MalformedDataError:
		return "malformed data"
	case TypeMismatchError:
		return "type mismatch"
	case IncompatibleTypesError:
		return "incompatible types"
	case BufferPoolFullError:
		return "buffer pool full"
	default:
		return "unknown error"
	}
}

// GoDBError is the engine's uniform error type: a classification code plus
// a human-readable message.
type GoDBError struct {
	code ErrorCode
	msg  string
}

func (e GoDBError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Code reports the error's classification, for callers that want to branch
// on kind (e.g. retry on TxnAbortedError) without string matching.
func (e GoDBError) Code() ErrorCode {
	return e.code
}

// IsTxnAborted reports whether err is, or wraps, a lock-timeout abort.
// Built on errors.As rather than a bare type assertion so a caller that
// wraps a GoDBError with fmt.Errorf("...: %w", err) -- as the buffer pool's
// own callers are free to do -- still gets the right answer.
func IsTxnAborted(err error) bool {
	var gerr GoDBError
	return errors.As(err, &gerr) && gerr.code == TxnAbortedError
}

// IsStorageFault reports whether err is, or wraps, an I/O failure.
func IsStorageFault(err error) bool {
	var gerr GoDBError
	return errors.As(err, &gerr) && gerr.code == StorageFaultError
}
