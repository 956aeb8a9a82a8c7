package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/assetcorp/sirannon/internal/database"
	"github.com/assetcorp/sirannon/internal/pool"
	"github.com/assetcorp/sirannon/internal/registry"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// Handlers wires the database registry into the chi route tree — spec §6.
type Handlers struct {
	sirannon *registry.Sirannon
}

func NewHandlers(s *registry.Sirannon) *Handlers {
	return &Handlers{sirannon: s}
}

func (h *Handlers) resolve(w http.ResponseWriter, r *http.Request) (*database.Database, bool) {
	id := chi.URLParam(r, "id")
	db, err := h.sirannon.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return db, true
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDecodeError classifies a decodeBody failure into the three distinct
// causes spec §6 requires POST /db/:id/query|execute|transaction to
// distinguish: a body that overflowed bodyLimitMiddleware's cap, a body that
// was empty, and everything else (genuine JSON syntax/type errors).
func writeDecodeError(w http.ResponseWriter, err error) {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		writeErrorCode(w, http.StatusRequestEntityTooLarge, sirannonerr.CodePayloadTooLarge, err.Error())
	case errors.Is(err, io.EOF):
		writeErrorCode(w, http.StatusBadRequest, sirannonerr.CodeEmptyBody, "request body is empty")
	default:
		writeErrorCode(w, http.StatusBadRequest, sirannonerr.CodeInvalidJSON, err.Error())
	}
}

func (h *Handlers) Query(w http.ResponseWriter, r *http.Request) {
	db, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	rows, err := db.Query(r.Context(), req.SQL, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, queryResponse{Rows: rows})
}

func (h *Handlers) Execute(w http.ResponseWriter, r *http.Request) {
	db, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	res, err := db.Execute(r.Context(), req.SQL, req.Params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newExecuteResponse(res))
}

func (h *Handlers) Transaction(w http.ResponseWriter, r *http.Request) {
	db, ok := h.resolve(w, r)
	if !ok {
		return
	}
	var req transactionRequest
	if err := decodeBody(r, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	if len(req.Statements) == 0 {
		writeErrorCode(w, http.StatusBadRequest, sirannonerr.CodeInvalidRequest, "statements must not be empty")
		return
	}
	for i, stmt := range req.Statements {
		if strings.TrimSpace(stmt.SQL) == "" {
			writeErrorCode(w, http.StatusBadRequest, sirannonerr.CodeInvalidRequest,
				fmt.Sprintf("statement at index %d has empty sql", i))
			return
		}
	}

	results := make([]executeResponse, 0, len(req.Statements))
	err := db.Transaction(r.Context(), func(tx *pool.Transaction) error {
		for _, stmt := range req.Statements {
			res, err := tx.Execute(r.Context(), stmt.SQL, stmt.Params)
			if err != nil {
				return err
			}
			results = append(results, newExecuteResponse(res))
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, transactionResponse{Results: results})
}

type healthStatus struct {
	ID       string `json:"id"`
	ReadOnly bool   `json:"readOnly"`
	Closed   bool   `json:"closed"`
}

type readyResponse struct {
	Status    string         `json:"status"`
	Databases []healthStatus `json:"databases"`
}

// Health answers GET /health unconditionally — it never touches the
// registry, so it stays up even if every database is down — spec §6.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers GET /health/ready with the open/closed state of every
// currently registered database — spec §6.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	databases := h.sirannon.List()
	statuses := make([]healthStatus, 0, len(databases))
	degraded := false
	for _, db := range databases {
		if db.Closed() {
			degraded = true
		}
		statuses = append(statuses, healthStatus{ID: db.ID(), ReadOnly: db.ReadOnly(), Closed: db.Closed()})
	}
	status := "ok"
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, readyResponse{Status: status, Databases: statuses})
}

// Metrics exposes the Prometheus registry owned by the collector — spec §6.
func Metrics(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
