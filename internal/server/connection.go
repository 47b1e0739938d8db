package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/detentegame/detente/internal/lobby"
	"github.com/detentegame/detente/internal/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 16384
)

var ErrConnectionClosed = errors.New("connection closed")

// Connection wraps one websocket: one socket handle in exactly one lobby.
// The durable player identity lives in the lobby registry, not here.
type Connection struct {
	id     string
	conn   *websocket.Conn
	send   chan *protocol.Message
	server *Server
	logger *log.Logger

	mu        sync.RWMutex
	lobby     *lobby.Lobby
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps a freshly upgraded websocket.
func NewConnection(id string, conn *websocket.Conn, server *Server, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		id:     id,
		conn:   conn,
		send:   make(chan *protocol.Message, 256),
		server: server,
		logger: logger.WithPrefix("conn").With("socket", id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the socket handle.
func (c *Connection) ID() string { return c.id }

// Start begins handling the connection.
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close tears the connection down once. The write pump flushes queued frames
// and closes the underlying socket on its way out.
func (c *Connection) Close() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Done is closed when the connection has shut down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send queues a message for the client. A full buffer closes the connection
// rather than blocking a lobby.
func (c *Connection) Send(msg *protocol.Message) error {
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Send buffer full, closing connection")
		_ = c.Close()
		return ErrConnectionClosed
	}
}

func (c *Connection) setLobby(l *lobby.Lobby) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lobby = l
}

func (c *Connection) getLobby() *lobby.Lobby {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lobby
}

// readPump handles incoming frames until the socket drops.
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		var msg protocol.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", "error", err)
			}
			return
		}
		c.server.handleMessage(c, &msg)
	}
}

// writePump drains the send queue and keeps the peer alive with pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Error("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			// Flush anything queued before Close was called, e.g. the error
			// frame of a rejected handshake.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteJSON(msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
			}
		}
	}
}

// sendError reports a locally absorbed failure back to this connection only.
func (c *Connection) sendError(code, message string) {
	msg, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorData{
		Code:    code,
		Message: message,
	})
	if err != nil {
		c.logger.Error("Failed to create error message", "error", err)
		return
	}
	_ = c.Send(msg)
}
