package lobby

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/microcosm-cc/bluemonday"

	"github.com/detentegame/detente/internal/game"
	"github.com/detentegame/detente/internal/gameid"
	"github.com/detentegame/detente/internal/protocol"
)

var (
	// ErrBadHandshake rejects a malformed connect before it joins any room.
	ErrBadHandshake = errors.New("unknown lobby or player")
	// ErrUnauthorized marks a leader-only action attempted by a non-leader.
	// It is absorbed, never broadcast.
	ErrUnauthorized = errors.New("unauthorized action")
	// ErrNoGame marks a game action arriving while no game is running.
	ErrNoGame = errors.New("no game in progress")
)

// DefaultDisconnectTimeout is the debounce window between a player's last
// socket detaching and the player being declared absent.
const DefaultDisconnectTimeout = 2000 * time.Millisecond

// Outbound is one addressed send the transport layer must perform. The
// orchestrator only ever returns these; it never touches a socket itself,
// which keeps the whole state machine testable without a transport.
type Outbound struct {
	SocketIDs []string
	Msg       *protocol.Message
}

// Config carries the per-lobby collaborators and tunables. Zero values get
// production defaults.
type Config struct {
	DisconnectTimeout time.Duration
	Presets           map[string]game.Settings
	Policies          game.Policies
	Sanitize          func(string) string
	NewGameID         func() string
	Clock             quartz.Clock
}

// sanitizeHandshake applies the configured sanitizer and rejects an empty
// identity. Safe to call before any lobby state exists.
func (c Config) sanitizeHandshake(uniqueID, nickname string) (string, error) {
	nickname = c.Sanitize(nickname)
	if uniqueID == "" || nickname == "" {
		return "", fmt.Errorf("%w: empty unique id or nickname", ErrBadHandshake)
	}
	return nickname, nil
}

func (c Config) withDefaults() Config {
	if c.DisconnectTimeout <= 0 {
		c.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.Presets == nil {
		c.Presets = game.Presets()
	}
	if c.Sanitize == nil {
		policy := bluemonday.StrictPolicy()
		c.Sanitize = func(s string) string {
			return strings.TrimSpace(policy.Sanitize(s))
		}
	}
	if c.NewGameID == nil {
		c.NewGameID = gameid.Generate
	}
	if c.Clock == nil {
		c.Clock = quartz.NewReal()
	}
	return c
}

// Lobby owns one game room: its identity registry and its game state machine.
// All mutating operations take the lobby mutex, so the single-writer rule is
// structural; different lobbies are fully independent. Handlers return the
// outbound notifications to send, and sends happen after the lock is
// released.
type Lobby struct {
	ID string

	mu     sync.Mutex
	reg    *Registry
	game   *game.Game
	cfg    Config
	logger *log.Logger

	// emit dispatches notifications produced outside a handler call, which
	// today means only the disconnect-timeout firing.
	emit func([]Outbound)
}

// NewLobby creates an empty lobby.
func NewLobby(id string, cfg Config, logger *log.Logger) *Lobby {
	cfg = cfg.withDefaults()
	logger = logger.WithPrefix("lobby").With("lobby", id)
	return &Lobby{
		ID:     id,
		reg:    NewRegistry(cfg.Clock, cfg.DisconnectTimeout, logger),
		cfg:    cfg,
		logger: logger,
		emit:   func([]Outbound) {},
	}
}

// SetEmitter installs the sink for timer-driven notifications.
func (l *Lobby) SetEmitter(emit func([]Outbound)) {
	if emit != nil {
		l.emit = emit
	}
}

// HandleConnect processes a handshake: resolves the durable identity,
// attaches the socket and re-elects the leader. The new socket gets a
// `connected` frame (plus a game snapshot if one is running), everyone gets a
// fresh roster.
func (l *Lobby) HandleConnect(socketID, uniqueID, nickname string) ([]Outbound, error) {
	nickname, err := l.cfg.sanitizeHandshake(uniqueID, nickname)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pc, connType := l.reg.GetOrCreate(uniqueID, nickname)
	renamed := pc.Nickname != nickname
	if renamed {
		l.logger.Info("Player renamed", "plid", pc.Plid, "from", pc.Nickname, "to", nickname)
		pc.Nickname = nickname
	}
	l.reg.AttachSocket(pc, socketID)
	leaderChanged, _ := l.reg.ElectLeader()

	var outs []Outbound
	outs = l.appendMsg(outs, []string{socketID}, protocol.TypeConnected, protocol.ConnectedData{
		Plid:    pc.Plid,
		LobbyID: l.ID,
	})

	switch connType {
	case ConnNewPlayer, ConnReconnect:
		outs = append(outs, l.rosterBroadcast()...)
	case ConnNewSocket:
		// A second tab still needs the roster itself; the rest of the lobby
		// only cares if it renamed the player or leadership moved.
		if renamed || leaderChanged {
			outs = append(outs, l.rosterBroadcast()...)
		} else {
			outs = append(outs, l.rosterSnapshot([]string{socketID})...)
		}
	}
	if l.game != nil {
		outs = l.appendMsg(outs, []string{socketID}, protocol.TypeStartNewGame, protocol.GameStartData{
			Game: l.game.ViewFor(pc.Plid),
		})
	}

	l.logger.Info("Socket connected", "socket", socketID, "plid", pc.Plid, "type", connType)
	return outs, nil
}

// HandleDisconnect detaches a socket. Nothing is broadcast yet: the player
// stays visibly connected until the debounce timeout fires.
func (l *Lobby) HandleDisconnect(socketID string) []Outbound {
	l.mu.Lock()
	defer l.mu.Unlock()

	pc, ok := l.reg.ConnectionBySocket(socketID)
	if !ok {
		return nil
	}
	l.reg.DetachSocket(pc, socketID, func() { l.socketTimedOut(pc) })
	l.logger.Debug("Socket detached", "socket", socketID, "plid", pc.Plid)
	return nil
}

// socketTimedOut is the deferred disconnect action. It re-enters the lobby
// critical section exactly as any other event would.
func (l *Lobby) socketTimedOut(pc *PlayerConnection) {
	l.mu.Lock()
	if !l.reg.MarkTimedOut(pc) {
		l.mu.Unlock()
		return
	}
	l.reg.ElectLeader()
	outs := l.rosterBroadcast()
	l.mu.Unlock()

	l.emit(outs)
}

// HandleChatMessage delivers a chat line, honoring @-addressing: an addressed
// message goes to the targets' sockets plus the sender's, anything else to
// the whole lobby.
func (l *Lobby) HandleChatMessage(socketID, text string) ([]Outbound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pc, ok := l.reg.ConnectionBySocket(socketID)
	if !ok {
		return nil, fmt.Errorf("%w: socket %s not in lobby", ErrBadHandshake, socketID)
	}

	text = l.cfg.Sanitize(text)
	if text == "" {
		return nil, nil
	}

	targets, body, addressed := ParseTargets(text)
	sockets := l.reg.AllSockets()
	if addressed {
		sockets = l.reg.SocketsForPlids(append(targets, pc.Plid))
	}

	return l.appendMsg(nil, sockets, protocol.TypeChat, protocol.ChatBroadcastData{
		Plid:     pc.Plid,
		Nickname: pc.Nickname,
		Text:     body,
		Targeted: addressed,
	}), nil
}

// HandleStartGame starts a new game from the currently connected roster.
// Leader-only. Each player receives their own private view, since pending
// orders must never leak between players.
func (l *Lobby) HandleStartGame(socketID string, data protocol.StartNewGameData) ([]Outbound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pc, ok := l.reg.ConnectionBySocket(socketID)
	if !ok {
		return nil, fmt.Errorf("%w: socket %s not in lobby", ErrBadHandshake, socketID)
	}
	if !pc.IsLobbyLeader() {
		return nil, fmt.Errorf("%w: plid %d is not the lobby leader", ErrUnauthorized, pc.Plid)
	}

	settings, err := l.resolveSettings(data)
	if err != nil {
		return nil, err
	}

	roster := l.reg.ConnectedPlids()
	g, err := game.NewGame(l.cfg.NewGameID(), roster, settings, l.cfg.Policies, l.logger)
	if err != nil {
		return nil, err
	}
	l.game = g
	l.logger.Info("Game started", "game", g.ID, "players", len(roster))

	var outs []Outbound
	for _, plid := range roster {
		outs = l.appendMsg(outs, l.reg.SocketsForPlids([]game.Plid{plid}), protocol.TypeStartNewGame, protocol.GameStartData{
			Game: g.ViewFor(plid),
		})
	}
	return outs, nil
}

func (l *Lobby) resolveSettings(data protocol.StartNewGameData) (game.Settings, error) {
	if data.Settings != nil {
		return *data.Settings, nil
	}
	name := data.Preset
	if name == "" {
		name = "default"
	}
	settings, ok := l.cfg.Presets[name]
	if !ok {
		return game.Settings{}, fmt.Errorf("%w: unknown preset %q", game.ErrInvalidSubmission, name)
	}
	return settings, nil
}

// HandleForceNextTurn closes the current turn regardless of completion.
// Leader-only; players who have not submitted resolve with all-zero orders.
// Forcing an already-advanced turn is absorbed as a no-op by the engine.
func (l *Lobby) HandleForceNextTurn(socketID string) ([]Outbound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pc, ok := l.reg.ConnectionBySocket(socketID)
	if !ok {
		return nil, fmt.Errorf("%w: socket %s not in lobby", ErrBadHandshake, socketID)
	}
	if !pc.IsLobbyLeader() {
		return nil, fmt.Errorf("%w: plid %d is not the lobby leader", ErrUnauthorized, pc.Plid)
	}
	if l.game == nil {
		return nil, ErrNoGame
	}

	outcome := l.game.CloseTurnIfReady(true)
	l.logger.Info("Turn forced", "by", pc.Plid, "outcome", outcome)
	return l.advanceOuts(outcome), nil
}

// HandleSubmitTurn applies one player's orders and closes the turn when that
// submission was the last one outstanding.
func (l *Lobby) HandleSubmitTurn(socketID string, data protocol.PlayerTurnData) ([]Outbound, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pc, ok := l.reg.ConnectionBySocket(socketID)
	if !ok {
		return nil, fmt.Errorf("%w: socket %s not in lobby", ErrBadHandshake, socketID)
	}
	if l.game == nil {
		return nil, ErrNoGame
	}

	if err := l.game.SubmitPlayerTurn(pc.Plid, game.Submission{
		MilitaryDelta:   data.MilitaryDelta,
		MilitaryAttacks: data.MilitaryAttacks,
		Trades:          data.Trades,
	}); err != nil {
		return nil, err
	}

	outcome := l.game.CloseTurnIfReady(false)
	if outcome != game.StillOpen {
		return l.advanceOuts(outcome), nil
	}

	delta, ok := l.game.PublicDelta(pc.Plid)
	if !ok {
		return nil, nil
	}
	return l.appendMsg(nil, l.reg.AllSockets(), protocol.TypePlayerTurn, protocol.PlayerTurnUpdateData{
		Player: delta,
	}), nil
}

// Game returns the current game, if any. Exposed for the transport layer and
// tests; callers must not mutate it.
func (l *Lobby) Game() *game.Game {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.game
}

// advanceOuts builds the per-player notifications for a turn or era advance.
// Every lobby member gets their own view; recipients outside the game roster
// receive the public projection only.
func (l *Lobby) advanceOuts(outcome game.TurnOutcome) []Outbound {
	var outs []Outbound
	switch outcome {
	case game.StillOpen:
		return nil
	case game.NewEra:
		for _, pc := range l.reg.Connections() {
			sockets := l.reg.SocketsForPlids([]game.Plid{pc.Plid})
			if len(sockets) == 0 {
				continue
			}
			outs = l.appendMsg(outs, sockets, protocol.TypeEra, protocol.EraData{
				Era:        l.game.EraViewFor(pc.Plid),
				IsGameOver: l.game.IsGameOver(),
			})
		}
	case game.NewTurn:
		for _, pc := range l.reg.Connections() {
			sockets := l.reg.SocketsForPlids([]game.Plid{pc.Plid})
			if len(sockets) == 0 {
				continue
			}
			outs = l.appendMsg(outs, sockets, protocol.TypeWholeTurn, protocol.WholeTurnData{
				Turn:       l.game.TurnViewFor(pc.Plid),
				IsGameOver: l.game.IsGameOver(),
			})
		}
	}
	return outs
}

// rosterBroadcast builds a full roster snapshot addressed to every socket.
func (l *Lobby) rosterBroadcast() []Outbound {
	return l.rosterSnapshot(l.reg.AllSockets())
}

// rosterSnapshot builds a full roster snapshot addressed to the given sockets.
func (l *Lobby) rosterSnapshot(sockets []string) []Outbound {
	players := make([]protocol.PlayerInfo, 0, len(l.reg.Connections()))
	for _, pc := range l.reg.Connections() {
		players = append(players, protocol.PlayerInfo{
			Plid:          pc.Plid,
			Nickname:      pc.Nickname,
			IsConnected:   pc.IsConnected(),
			IsLobbyLeader: pc.IsLobbyLeader(),
		})
	}
	return l.appendMsg(nil, sockets, protocol.TypeConnections, protocol.ConnectionsData{
		Players: players,
	})
}

// appendMsg marshals a payload and appends the addressed send. Marshal
// failures are logged and dropped; they cannot crash the lobby.
func (l *Lobby) appendMsg(outs []Outbound, sockets []string, t protocol.MessageType, data any) []Outbound {
	if len(sockets) == 0 {
		return outs
	}
	msg, err := protocol.NewMessage(t, data)
	if err != nil {
		l.logger.Error("Failed to build outbound message", "type", t, "error", err)
		return outs
	}
	return append(outs, Outbound{SocketIDs: sockets, Msg: msg})
}
