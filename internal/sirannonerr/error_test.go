package sirannonerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	e := New(CodeReadOnly, "watch is forbidden on read-only databases")
	assert.Equal(t, "READ_ONLY: watch is forbidden on read-only databases", e.Error())
}

func TestErrorWrapUnwrap(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(CodeBackupError, "backup failed", cause)
	require.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "disk full")
}

func TestHasCode(t *testing.T) {
	wrapped := fmt.Errorf("while opening: %w", New(CodeDatabaseNotFound, "no such id"))
	assert.True(t, HasCode(wrapped, CodeDatabaseNotFound))
	assert.False(t, HasCode(wrapped, CodeReadOnly))
	assert.False(t, HasCode(errors.New("plain"), CodeReadOnly))
}

func TestQueryErrorCarriesSQL(t *testing.T) {
	e := QueryError("SELECT * FROM t", errors.New("no such table: t"))
	assert.Equal(t, "SELECT * FROM t", e.SQL)
	assert.Equal(t, CodeQueryError, e.Code)
}

func TestMigrationErrorCarriesVersion(t *testing.T) {
	e := MigrationError(7, "syntax error", errors.New("near SELCT"))
	assert.Equal(t, 7, e.Version)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusFor(New(CodeDatabaseNotFound, "")))
	assert.Equal(t, http.StatusForbidden, StatusFor(New(CodeReadOnly, "")))
	assert.Equal(t, http.StatusForbidden, StatusFor(New(CodeHookDenied, "")))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("unclassified")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, StatusFor(New(CodePayloadTooLarge, "")))
}

func TestErrorIsMatchesOnCodeOnly(t *testing.T) {
	sentinel := New(CodeDatabaseClosed, "")
	specific := New(CodeDatabaseClosed, "database 'orders' is closed")
	assert.True(t, errors.Is(specific, sentinel))
}
