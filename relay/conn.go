package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Ping period; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum inbound frame size.
	maxFrameSize = 64 * 1024
)

// Conn is one live client connection. Its lifecycle is
// unauthenticated -> registered -> closed; userID is set exactly once by the
// router loop on a successful newConnection.
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	router *Router
	log    *slog.Logger

	// The router loop writes userID; the read pump's disconnect path reads
	// it after the loop is done with this connection.
	mu     sync.Mutex
	userID string

	closeOnce      sync.Once
	disconnectOnce sync.Once
}

func newConn(ws *websocket.Conn, router *Router, bufferSize int, log *slog.Logger) *Conn {
	return &Conn{
		id:     uuid.NewString(),
		ws:     ws,
		send:   make(chan []byte, bufferSize),
		router: router,
		log:    log,
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

func (c *Conn) setUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// Deliver queues one frame for the write pump. Fire-and-forget: a full
// buffer or a closed connection drops the frame and reports false.
func (c *Conn) Deliver(frame []byte) bool {
	defer func() {
		// The send channel closes when the connection dies; a racing
		// Deliver must not take the router down with it.
		recover()
	}()
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// readPump decodes inbound frames and submits them to the router loop. It
// guarantees the disconnect path runs exactly once when the socket dies.
func (c *Conn) readPump() {
	defer c.router.Disconnect(c)

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Unexpected close", "conn_id", c.id, "error", err)
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Debug(fmt.Sprintf("Dropping malformed frame from %s", c.id))
			continue
		}
		c.router.Submit(c, frame)
	}
}

// writePump drains the send channel to the socket and keeps the connection
// alive with pings. Delivery order to this connection matches the order in
// which the router issued the frames.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// close tears the connection down. Safe to call more than once; only the
// first call closes the send channel.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}
