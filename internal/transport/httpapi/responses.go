// Package httpapi implements the HTTP wire protocol — spec §6: per-database
// query/execute/transaction endpoints plus health and metrics.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

const maxLosslessJSONInt = int64(1)<<53 - 1

// queryRequest is the POST /db/:id/query and /execute body — spec §6.
type queryRequest struct {
	SQL    string `json:"sql"`
	Params any    `json:"params"`
}

type queryResponse struct {
	Rows []pool.Row `json:"rows"`
}

type executeResponse struct {
	Changes         int64 `json:"changes"`
	LastInsertRowID any   `json:"lastInsertRowId"`
}

func newExecuteResponse(res pool.ExecResult) executeResponse {
	return executeResponse{Changes: res.Changes, LastInsertRowID: jsonSafeInt(res.LastInsertRowID)}
}

// jsonSafeInt stringifies values that would lose precision as a JSON
// number (|v| > 2^53-1) — spec §6.
func jsonSafeInt(v int64) any {
	if v > maxLosslessJSONInt || v < -maxLosslessJSONInt {
		return strconv.FormatInt(v, 10)
	}
	return v
}

type statementRequest struct {
	SQL    string `json:"sql"`
	Params any    `json:"params"`
}

type transactionRequest struct {
	Statements []statementRequest `json:"statements"`
}

type transactionResponse struct {
	Results []executeResponse `json:"results"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := sirannonerr.StatusFor(err)
	code := "INTERNAL_ERROR"
	if se, ok := err.(*sirannonerr.Error); ok {
		code = string(se.Code)
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: err.Error()}})
}

func writeErrorCode(w http.ResponseWriter, status int, code sirannonerr.Code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: string(code), Message: message}})
}
