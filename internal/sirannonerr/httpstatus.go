package sirannonerr

import "net/http"

// codeToStatus is the explicit code->HTTP-status table called for by spec §7.
var codeToStatus = map[Code]int{
	CodeDatabaseNotFound:      http.StatusNotFound,
	CodeDatabaseAlreadyExists: http.StatusConflict,
	CodeDatabaseClosed:        http.StatusServiceUnavailable,
	CodeDatabaseOpenFailed:    http.StatusInternalServerError,
	CodeReadOnly:              http.StatusForbidden,
	CodeQueryError:            http.StatusBadRequest,
	CodeTransactionError:      http.StatusBadRequest,
	CodeMigrationError:        http.StatusBadRequest,
	CodeHookDenied:            http.StatusForbidden,
	CodeCDCError:              http.StatusBadRequest,
	CodeCDCUnsupported:        http.StatusBadRequest,
	CodeBackupError:           http.StatusInternalServerError,
	CodeConnectionPoolError:   http.StatusServiceUnavailable,
	CodeMaxDatabases:          http.StatusServiceUnavailable,
	CodeExtensionError:        http.StatusBadRequest,
	CodeShutdown:              http.StatusServiceUnavailable,
	CodeShutdownError:         http.StatusInternalServerError,
	CodeLifecycleDisposed:     http.StatusServiceUnavailable,

	CodeInvalidJSON:           http.StatusBadRequest,
	CodeInvalidRequest:        http.StatusBadRequest,
	CodeEmptyBody:             http.StatusBadRequest,
	CodePayloadTooLarge:       http.StatusRequestEntityTooLarge,
	CodeUnknownType:           http.StatusBadRequest,
	CodeInvalidMessage:        http.StatusBadRequest,
	CodeDuplicateSubscription: http.StatusConflict,
	CodeSubscriptionNotFound:  http.StatusNotFound,
	CodeUnauthorized:          http.StatusUnauthorized,
	CodeHookError:             http.StatusInternalServerError,
	CodeNotFound:              http.StatusNotFound,
	CodeInternalError:         http.StatusInternalServerError,
}

// HTTPStatus maps a Code to its transport status, defaulting to 500 for
// anything unlisted (defensive against a future code left out of the table).
func HTTPStatus(code Code) int {
	if status, ok := codeToStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// StatusFor inspects err for a *Error and returns its HTTP status, or 500
// when err isn't a classified Sirannon error.
func StatusFor(err error) int {
	var e *Error
	cur := err
	for cur != nil {
		if se, ok := cur.(*Error); ok {
			e = se
			break
		}
		u, ok := cur.(interface{ Unwrap() error })
		if !ok {
			break
		}
		cur = u.Unwrap()
	}
	if e == nil {
		return http.StatusInternalServerError
	}
	return HTTPStatus(e.Code)
}
