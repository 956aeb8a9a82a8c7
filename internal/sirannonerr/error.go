// Package sirannonerr defines the machine-readable error codes shared by the
// engine and its network surface (spec §7).
package sirannonerr

import "fmt"

// Code is a machine-readable error classification. Transport layers map
// codes to HTTP statuses and WS error payloads via HTTPStatus/StatusFor.
type Code string

const (
	CodeDatabaseNotFound      Code = "DATABASE_NOT_FOUND"
	CodeDatabaseAlreadyExists Code = "DATABASE_ALREADY_EXISTS"
	CodeDatabaseClosed        Code = "DATABASE_CLOSED"
	CodeDatabaseOpenFailed    Code = "DATABASE_OPEN_FAILED"
	CodeReadOnly              Code = "READ_ONLY"
	CodeQueryError            Code = "QUERY_ERROR"
	CodeTransactionError      Code = "TRANSACTION_ERROR"
	CodeMigrationError        Code = "MIGRATION_ERROR"
	CodeHookDenied            Code = "HOOK_DENIED"
	CodeCDCError              Code = "CDC_ERROR"
	CodeCDCUnsupported        Code = "CDC_UNSUPPORTED"
	CodeBackupError           Code = "BACKUP_ERROR"
	CodeConnectionPoolError   Code = "CONNECTION_POOL_ERROR"
	CodeMaxDatabases          Code = "MAX_DATABASES"
	CodeExtensionError        Code = "EXTENSION_ERROR"
	CodeShutdown              Code = "SHUTDOWN"
	CodeShutdownError         Code = "SHUTDOWN_ERROR"
	CodeLifecycleDisposed     Code = "LIFECYCLE_DISPOSED"

	// Transport-only codes.
	CodeInvalidJSON            Code = "INVALID_JSON"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
	CodeEmptyBody              Code = "EMPTY_BODY"
	CodePayloadTooLarge        Code = "PAYLOAD_TOO_LARGE"
	CodeUnknownType            Code = "UNKNOWN_TYPE"
	CodeInvalidMessage         Code = "INVALID_MESSAGE"
	CodeDuplicateSubscription  Code = "DUPLICATE_SUBSCRIPTION"
	CodeSubscriptionNotFound   Code = "SUBSCRIPTION_NOT_FOUND"
	CodeUnauthorized           Code = "UNAUTHORIZED"
	CodeHookError              Code = "HOOK_ERROR"
	CodeNotFound               Code = "NOT_FOUND"
	CodeInternalError          Code = "INTERNAL_ERROR"
)

// Error is the canonical engine error type. It carries a Code for
// machine dispatch plus optional contextual fields (offending SQL,
// migration version) used by callers that need more than the message.
type Error struct {
	Code    Code
	Message string
	SQL     string // set by QUERY_ERROR
	Version int    // set by MIGRATION_ERROR, 0 if not applicable
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is lets errors.Is(err, sirannonerr.New(CodeX, "")) match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return e.Code == t.Code
	}
	return e.Code == t.Code && e.Message == t.Message
}

// New builds a bare *Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error that carries a lower-level cause for %w-style chains.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// QueryError builds a QUERY_ERROR carrying the offending SQL text (spec §7).
func QueryError(sql string, cause error) *Error {
	return &Error{Code: CodeQueryError, Message: "query failed", SQL: sql, cause: cause}
}

// MigrationError builds a MIGRATION_ERROR carrying the failing version (spec §4.6, §7).
func MigrationError(version int, message string, cause error) *Error {
	return &Error{Code: CodeMigrationError, Message: message, Version: version, cause: cause}
}

// HasCode reports whether err is (or wraps) a *Error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	for err != nil {
		if se, ok := err.(*Error); ok {
			e = se
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Code == code
}
