package broadcast

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Connection wraps one local subscriber's socket. Writes are
// serialized through sendMu since gorilla's Conn forbids concurrent
// writers.
type Connection struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex
}

func newConnection(id string, conn *websocket.Conn) *Connection {
	return &Connection{id: id, conn: conn}
}

// ID returns the connection's identifier, assigned at accept time.
func (c *Connection) ID() string { return c.id }

func (c *Connection) write(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *Connection) close() {
	_ = c.conn.Close()
}
