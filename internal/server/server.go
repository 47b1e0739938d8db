package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/detentegame/detente/internal/game"
	"github.com/detentegame/detente/internal/gameid"
	"github.com/detentegame/detente/internal/lobby"
	"github.com/detentegame/detente/internal/protocol"
)

// Server is the websocket shell: it upgrades connections, routes inbound
// frames to the owning lobby and fans the returned notifications out to
// sockets. All game and lobby state lives behind the lobby.Manager.
type Server struct {
	upgrader websocket.Upgrader
	lobbies  *lobby.Manager
	logger   *log.Logger

	mu    sync.RWMutex
	conns map[string]*Connection

	httpServer *http.Server
}

// NewServer wires the transport to a lobby manager.
func NewServer(lobbies *lobby.Manager, logger *log.Logger) *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		lobbies: lobbies,
		logger:  logger.WithPrefix("server"),
		conns:   make(map[string]*Connection),
	}
	lobbies.SetEmitter(s.Deliver)
	return s
}

// Start serves websocket upgrades on /ws and a health probe on /health. It
// blocks until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}
	s.logger.Info("Starting WebSocket server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the listener and closes every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := NewConnection(gameid.Generate(), ws, s, s.logger)
	s.mu.Lock()
	s.conns[conn.ID()] = conn
	total := len(s.conns)
	s.mu.Unlock()
	s.logger.Info("Client connected", "socket", conn.ID(), "total", total)

	conn.Start()

	go func() {
		<-conn.Done()
		s.unregister(conn)
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "OK")
}

// unregister removes a dropped socket and tells its lobby, which starts the
// disconnect debounce for the player if this was their last socket.
func (s *Server) unregister(conn *Connection) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	total := len(s.conns)
	s.mu.Unlock()

	if l := conn.getLobby(); l != nil {
		s.Deliver(l.HandleDisconnect(conn.ID()))
	}
	s.logger.Info("Client disconnected", "socket", conn.ID(), "total", total)
}

// Deliver fans addressed notifications out to their sockets. Called after the
// owning lobby's critical section has been released.
func (s *Server) Deliver(outs []lobby.Outbound) {
	if len(outs) == 0 {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, out := range outs {
		for _, socketID := range out.SocketIDs {
			conn, ok := s.conns[socketID]
			if !ok {
				continue
			}
			if err := conn.Send(out.Msg); err != nil {
				s.logger.Debug("Dropped outbound message", "socket", socketID, "type", out.Msg.Type)
			}
		}
	}
}

// handleMessage routes one inbound frame. Everything but the handshake
// requires the socket to have joined a lobby already.
func (s *Server) handleMessage(c *Connection, msg *protocol.Message) {
	s.logger.Debug("Received message", "type", msg.Type, "socket", c.ID())

	if msg.Type == protocol.TypeConnect {
		s.handleConnect(c, msg)
		return
	}

	l := c.getLobby()
	if l == nil {
		c.sendError("not_joined", "Must send connect handshake first")
		return
	}

	switch msg.Type {
	case protocol.TypeChat:
		var data protocol.ChatData
		if err := msg.Decode(&data); err != nil {
			c.sendError("invalid_message", "Failed to parse chat data")
			return
		}
		s.dispatch(c, func() ([]lobby.Outbound, error) {
			return l.HandleChatMessage(c.ID(), data.Text)
		})

	case protocol.TypeStartNewGame:
		var data protocol.StartNewGameData
		if err := msg.Decode(&data); err != nil {
			c.sendError("invalid_message", "Failed to parse game settings")
			return
		}
		s.dispatch(c, func() ([]lobby.Outbound, error) {
			return l.HandleStartGame(c.ID(), data)
		})

	case protocol.TypeForceNextTurn:
		s.dispatch(c, func() ([]lobby.Outbound, error) {
			return l.HandleForceNextTurn(c.ID())
		})

	case protocol.TypePlayerTurn:
		var data protocol.PlayerTurnData
		if err := msg.Decode(&data); err != nil {
			c.sendError("invalid_message", "Failed to parse turn submission")
			return
		}
		s.dispatch(c, func() ([]lobby.Outbound, error) {
			return l.HandleSubmitTurn(c.ID(), data)
		})

	default:
		c.sendError("unknown_message_type", "Unknown message type: "+msg.Type.String())
	}
}

// handleConnect runs the handshake. A malformed handshake is rejected before
// the socket joins any room.
func (s *Server) handleConnect(c *Connection, msg *protocol.Message) {
	if c.getLobby() != nil {
		// Duplicate handshake on a joined socket; absorb it.
		return
	}

	var data protocol.ConnectData
	if err := msg.Decode(&data); err != nil || data.LobbyID == "" {
		c.sendError("bad_handshake", "Connect requires uniqueId, nickname and lobbyId")
		_ = c.Close()
		return
	}

	l, outs, err := s.lobbies.Connect(data.LobbyID, c.ID(), data.UniqueID, data.Nickname)
	if err != nil {
		s.logger.Warn("Handshake rejected", "socket", c.ID(), "error", err)
		c.sendError("bad_handshake", err.Error())
		_ = c.Close()
		return
	}
	c.setLobby(l)
	s.Deliver(outs)
}

// dispatch invokes a lobby operation and sends its notifications, applying
// the error taxonomy: invalid submissions echo to the offender only, anything
// else is absorbed with a log line.
func (s *Server) dispatch(c *Connection, op func() ([]lobby.Outbound, error)) {
	outs, err := op()
	switch {
	case err == nil:
	case errors.Is(err, game.ErrInvalidSubmission):
		c.sendError("invalid_submission", err.Error())
	case errors.Is(err, lobby.ErrUnauthorized):
		s.logger.Debug("Unauthorized action ignored", "socket", c.ID(), "error", err)
	case errors.Is(err, lobby.ErrNoGame):
		s.logger.Debug("Game action without a game", "socket", c.ID())
	default:
		s.logger.Warn("Lobby operation failed", "socket", c.ID(), "error", err)
	}
	s.Deliver(outs)
}
