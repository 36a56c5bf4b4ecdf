// Package ec is the cross-RPC error taxonomy: a small enum of
// MAPI-style result codes plus a typed Error that carries one, so that a
// store or protocol failure never has to be string-matched to decide how a
// caller should react. No store or protocol exception crosses a worker's
// top frame; every fallible call here returns (T, error), and any error
// whose disposition matters downstream carries a Code via errors.As.
package ec

import "fmt"

// Code is ec_error_t: a result code shared by the store, the exmdb wire
// protocol, and the ROP layer.
type Code int

const (
	Success Code = iota

	// Programmer/transport — returned verbatim, never retried.
	InvalidParam
	NullObject
	NotSupported
	RPCFormat
	BufferTooSmall

	// Auth/permission.
	AccessDenied
	LoginPerm
	LoginFailure

	// Not-found / state — normal-flow signals for sync, not failures.
	NotFound
	NotInitialized
	ObjectDeleted
	NotSearchFolder
	SearchFolderScopeViolated
	SyncNoParent
	SyncObjectDeleted

	// Conflict.
	SyncIgnore
	SyncConflict
	SyncClientChangeNewer
	DuplicateName

	// Quota/resource.
	QuotaExceeded
	MaxAttachmentExceeded
	ServerOOM
	StreamSizeError
	NPQuotaExceeded

	// I/O & transient.
	GeneralError
	RPCFailed
	Network
	WrongServer
)

var names = [...]string{
	"ecSuccess",
	"ecInvalidParam",
	"ecNullObject",
	"ecNotSupported",
	"ecRpcFormat",
	"ecBufferTooSmall",
	"ecAccessDenied",
	"ecLoginPerm",
	"ecLoginFailure",
	"ecNotFound",
	"ecNotInitialized",
	"ecObjectDeleted",
	"ecNotSearchFolder",
	"ecSearchFolderScopeViolated",
	"SYNC_E_NO_PARENT",
	"SYNC_E_OBJECT_DELETED",
	"SYNC_E_IGNORE",
	"SYNC_E_CONFLICT",
	"SYNC_W_CLIENT_CHANGE_NEWER",
	"ecDuplicateName",
	"ecQuotaExceeded",
	"ecMaxAttachmentExceeded",
	"ecServerOOM",
	"ecStreamSizeError",
	"ecNPQuotaExceeded",
	"ecError",
	"ecRpcFailed",
	"ecNetwork",
	"ecWrongServer",
}

func (c Code) String() string {
	if int(c) < 0 || int(c) >= len(names) {
		return fmt.Sprintf("ec_error_t(%d)", int(c))
	}
	return names[c]
}

// Error pairs a Code with the detail a human operator needs; callers that
// only care about disposition use errors.As to pull the Code back out,
// callers that just want a message use Error() like any other error.
type Error struct {
	Code Code
	Op   string // e.g. "store.CreateFolder"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(op string, code Code) error { return &Error{Op: op, Code: code} }

// Wrap builds an *Error that carries err as its cause.
func Wrap(op string, code Code, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Code: code, Err: err}
}

// CodeOf extracts the Code from err if it (or something it wraps) is an
// *Error, defaulting to GeneralError for any other non-nil error and Success for
// nil — the mapping the protocol layer uses to turn a Go error into the
// one byte a RespDispatchError-carrying frame would otherwise lose.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Code
	}
	return GeneralError
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
