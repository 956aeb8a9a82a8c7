package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/assetcorp/sirannon/internal/registry"
	"github.com/assetcorp/sirannon/internal/transport/reqhook"
)

func newTestServer(t *testing.T, onRequest reqhook.Hook) (*registry.Sirannon, *Handler, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	s := registry.New(nil, nil)
	_, err := s.Open(context.Background(), "tenant-a", filepath.Join(dir, "a.db"), registry.OpenOptions{ReadPoolSize: 1, WALMode: true})
	require.NoError(t, err)
	db, err := s.Get(context.Background(), "tenant-a")
	require.NoError(t, err)
	_, err = db.Execute(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)", nil)
	require.NoError(t, err)

	h := NewHandler(s, onRequest)
	r := chi.NewRouter()
	h.Mount(r, "/db/{id}")
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return s, h, srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestQueryRoundTrip(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "1", Type: typeExecute, SQL: "INSERT INTO items (name) VALUES (?)", Params: []any{"widget"}}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeResult, resp.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "2", Type: typeQuery, SQL: "SELECT name FROM items"}))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeResult, resp.Type)
	require.Equal(t, "2", resp.ID)
}

func TestSubscribeDeliversChangeThenUnsubscribeStops(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "sub1", Type: typeSubscribe, Table: "items"}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeSubscribed, resp.Type)
	require.Equal(t, "sub1", resp.ID)

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "x1", Type: typeExecute, SQL: "INSERT INTO items (name) VALUES (?)", Params: []any{"widget"}}))
	require.NoError(t, conn.ReadJSON(&resp)) // result for x1

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeChange, resp.Type)
	require.Equal(t, "sub1", resp.ID)
	require.NotNil(t, resp.Event)
	require.Equal(t, "insert", resp.Event.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "sub1", Type: typeUnsubscribe}))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeUnsubscribed, resp.Type)
}

func TestDuplicateSubscriptionIDRejected(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "sub1", Type: typeSubscribe, Table: "items"}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeSubscribed, resp.Type)

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "sub1", Type: typeSubscribe, Table: "items"}))
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeError, resp.Type)
	require.Equal(t, "DUPLICATE_SUBSCRIPTION", resp.Error.Code)
}

func TestUnsubscribeUnknownIDReturnsNotFound(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "ghost", Type: typeUnsubscribe}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeError, resp.Type)
	require.Equal(t, "SUBSCRIPTION_NOT_FOUND", resp.Error.Code)
}

func TestUnknownMessageTypeRejected(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "1", Type: "bogus"}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "UNKNOWN_TYPE", resp.Error.Code)
}

func TestMissingIDOrTypeIsInvalidMessage(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{Type: typeQuery, SQL: "SELECT 1"}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "INVALID_MESSAGE", resp.Error.Code)
}

func TestConnectToUnknownDatabaseClosesWith1008(t *testing.T) {
	_, _, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/missing")

	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeError, resp.Type)
	require.Equal(t, "DATABASE_NOT_FOUND", resp.Error.Code)

	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestOnRequestHookDeniesUpgrade(t *testing.T) {
	hook := func(ctx context.Context, r *http.Request) (*reqhook.Denial, error) {
		return &reqhook.Denial{Status: http.StatusForbidden, Code: "HOOK_DENIED", Message: "no"}, nil
	}
	_, _, srv := newTestServer(t, hook)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/db/tenant-a"
	_, httpResp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, httpResp)
	require.Equal(t, http.StatusForbidden, httpResp.StatusCode)
}

func TestShutdownClosesAllSockets(t *testing.T) {
	_, h, srv := newTestServer(t, nil)
	conn := dialWS(t, srv, "/db/tenant-a")

	require.NoError(t, conn.WriteJSON(clientMessage{ID: "sub1", Type: typeSubscribe, Table: "items"}))
	var resp serverMessage
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, typeSubscribed, resp.Type)

	h.Shutdown()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok)
	require.Equal(t, websocket.CloseGoingAway, closeErr.Code)
}
