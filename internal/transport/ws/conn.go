package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/assetcorp/sirannon/internal/cdc"
	"github.com/assetcorp/sirannon/internal/database"
	"github.com/assetcorp/sirannon/internal/sirannonerr"
)

// connection serializes writes to one upgraded socket and tracks this
// client's live CDC subscriptions by their client-chosen id — spec §6.
type connection struct {
	db   *database.Database
	conn *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*cdc.Handle
}

func newConnection(db *database.Database, c *websocket.Conn) *connection {
	return &connection{db: db, conn: c, subs: map[string]*cdc.Handle{}}
}

func (c *connection) send(msg serverMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		log.Debug().Err(err).Msg("ws write failed")
	}
}

func (c *connection) sendError(id string, err error) {
	code := "INTERNAL_ERROR"
	if se, ok := err.(*sirannonerr.Error); ok {
		code = string(se.Code)
	}
	c.send(serverMessage{Type: typeError, ID: id, Error: &errorBody{Code: code, Message: err.Error()}})
}

func (c *connection) sendErrorCode(id string, code sirannonerr.Code, message string) {
	c.send(serverMessage{Type: typeError, ID: id, Error: &errorBody{Code: string(code), Message: message}})
}

// handle processes one decoded client message — spec §6.
func (c *connection) handle(ctx context.Context, msg clientMessage) {
	if msg.ID == "" || msg.Type == "" {
		c.sendErrorCode("", sirannonerr.CodeInvalidMessage, "message must have id and type")
		return
	}

	switch msg.Type {
	case typeQuery:
		rows, err := c.db.Query(ctx, msg.SQL, msg.Params)
		if err != nil {
			c.sendError(msg.ID, err)
			return
		}
		c.send(serverMessage{Type: typeResult, ID: msg.ID, Data: resultData{Rows: rows}})

	case typeExecute:
		res, err := c.db.Execute(ctx, msg.SQL, msg.Params)
		if err != nil {
			c.sendError(msg.ID, err)
			return
		}
		c.send(serverMessage{Type: typeResult, ID: msg.ID, Data: resultData{
			Changes:         res.Changes,
			LastInsertRowID: jsonSafeInt(res.LastInsertRowID),
		}})

	case typeSubscribe:
		c.subscribe(ctx, msg)

	case typeUnsubscribe:
		c.unsubscribe(msg.ID)

	default:
		c.sendErrorCode(msg.ID, sirannonerr.CodeUnknownType, "unknown message type: "+msg.Type)
	}
}

func (c *connection) subscribe(ctx context.Context, msg clientMessage) {
	c.mu.Lock()
	if _, exists := c.subs[msg.ID]; exists {
		c.mu.Unlock()
		c.sendErrorCode(msg.ID, sirannonerr.CodeDuplicateSubscription, "subscription id already in use: "+msg.ID)
		return
	}
	c.mu.Unlock()

	if err := c.db.Watch(ctx, msg.Table); err != nil {
		c.sendError(msg.ID, err)
		return
	}

	handle, err := c.db.On(msg.Table).Filter(msg.Filter).Subscribe(func(ev cdc.ChangeEvent) {
		c.send(serverMessage{Type: typeChange, ID: msg.ID, Event: newChangeWire(ev)})
	})
	if err != nil {
		c.sendError(msg.ID, err)
		return
	}

	c.mu.Lock()
	c.subs[msg.ID] = handle
	c.mu.Unlock()

	c.send(serverMessage{Type: typeSubscribed, ID: msg.ID})
}

func (c *connection) unsubscribe(id string) {
	c.mu.Lock()
	handle, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	c.mu.Unlock()

	if !ok {
		c.sendErrorCode(id, sirannonerr.CodeSubscriptionNotFound, "no subscription with id: "+id)
		return
	}
	handle.Unsubscribe()
	c.send(serverMessage{Type: typeUnsubscribed, ID: id})
}

// closeAllSubscriptions unsubscribes everything this connection holds,
// run when the socket goes away — spec §4.5 "handle becomes a no-op".
func (c *connection) closeAllSubscriptions() {
	c.mu.Lock()
	handles := make([]*cdc.Handle, 0, len(c.subs))
	for _, h := range c.subs {
		handles = append(handles, h)
	}
	c.subs = map[string]*cdc.Handle{}
	c.mu.Unlock()

	for _, h := range handles {
		h.Unsubscribe()
	}
}
