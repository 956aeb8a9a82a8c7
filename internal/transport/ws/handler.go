package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/assetcorp/sirannon/internal/registry"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
	"github.com/assetcorp/sirannon/internal/transport/reqhook"
)

const closeWriteTimeout = 5 * time.Second

func deadlineNow() time.Time {
	return time.Now().Add(closeWriteTimeout)
}

const maxMessageBytes = 1 << 20 // 1 MiB — spec §6.

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /db/:id connections and drives their message loop —
// spec §6.
type Handler struct {
	sirannon  *registry.Sirannon
	onRequest reqhook.Hook

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func NewHandler(s *registry.Sirannon, onRequest reqhook.Hook) *Handler {
	return &Handler{sirannon: s, onRequest: onRequest, conns: map[*websocket.Conn]struct{}{}}
}

// Mount registers the handler's route on r at the given base pattern
// (e.g. "/db/{id}").
func (h *Handler) Mount(r chi.Router, pattern string) {
	r.Get(pattern, h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	denial, err := reqhook.Call(h.onRequest, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if denial != nil {
		status := denial.Status
		if status == 0 {
			status = http.StatusForbidden
		}
		http.Error(w, denial.Message, status)
		return
	}

	id := chi.URLParam(r, "id")
	db, err := h.sirannon.Get(r.Context(), id)
	if err != nil {
		h.rejectUpgrade(w, r, err)
		return
	}
	if db.Closed() {
		h.rejectUpgrade(w, r, sirannonerr.New(sirannonerr.CodeDatabaseClosed, "database '"+id+"' is closed"))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	h.track(conn)
	defer h.untrack(conn)

	c := newConnection(db, conn)
	defer c.closeAllSubscriptions()
	defer conn.Close()

	h.readLoop(r.Context(), c, conn)
}

// rejectUpgrade sends the spec's pre-upgrade error frame over a freshly
// upgraded socket, then closes with 1008 — spec §6 ("server verifies the
// database exists and is open; otherwise sends {type:"error", ...} and
// closes with 1008").
func (h *Handler) rejectUpgrade(w http.ResponseWriter, r *http.Request, cause error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	code := "INTERNAL_ERROR"
	if se, ok := cause.(*sirannonerr.Error); ok {
		code = string(se.Code)
	}
	_ = conn.WriteJSON(serverMessage{Type: typeError, Error: &errorBody{Code: code, Message: cause.Error()}})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, cause.Error()), deadlineNow())
}

func (h *Handler) readLoop(ctx context.Context, c *connection, conn *websocket.Conn) {
	for {
		var msg clientMessage
		err := conn.ReadJSON(&msg)
		if err != nil {
			// A read-limit violation already closed the underlying connection
			// (gorilla writes its own close frame and tears down the reader),
			// so one PAYLOAD_TOO_LARGE frame is sent and the loop ends.
			if isMessageTooBig(err) {
				c.sendErrorCode("", sirannonerr.CodePayloadTooLarge, "message exceeds maximum size")
				return
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				if closeErr.Code != websocket.CloseNormalClosure && closeErr.Code != websocket.CloseGoingAway {
					log.Debug().Err(err).Msg("ws closed abnormally")
				}
				return
			}
			// Any other read failure than a JSON decode error (a dropped or
			// closed socket) leaves the connection unusable.
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) && !errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			// Malformed frame (bad JSON): the connection itself is still
			// usable, so report it and keep reading.
			c.sendErrorCode("", sirannonerr.CodeInvalidMessage, err.Error())
			continue
		}
		c.handle(ctx, msg)
	}
}

// isMessageTooBig recognizes gorilla/websocket's read-limit-exceeded
// error, which it returns as a plain unexported error rather than a
// typed sentinel.
func isMessageTooBig(err error) bool {
	return err != nil && strings.Contains(err.Error(), "read limit exceeded")
}

func (h *Handler) track(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = struct{}{}
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Shutdown closes every tracked socket with 1001 (going away) — spec §6
// ("Handler shutdown closes all sockets with 1001").
func (h *Handler) Shutdown() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = map[*websocket.Conn]struct{}{}
	h.mu.Unlock()

	for _, conn := range conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), deadlineNow())
		_ = conn.Close()
	}
}
