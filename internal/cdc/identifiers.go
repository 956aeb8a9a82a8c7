// Package cdc implements trigger-based Change Data Capture: installing
// per-table triggers that append to an ordered change log, polling that log
// into ChangeEvents, and fanning those events out to filtered subscribers —
// spec §4.4, §4.5.
package cdc

import (
	"regexp"
	"strings"

	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validateIdentifier enforces spec §4.4: "table and column names must match
// ^[A-Za-z_][A-Za-z0-9_]*$. Any failure raises CDC_ERROR before any DDL is
// executed."
func validateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return sirannonerr.New(sirannonerr.CodeCDCError, "invalid identifier: "+name)
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

// escapeLiteral doubles single quotes in a string destined for a SQL string
// literal — spec §4.4: "single quotes in string literals are doubled."
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
