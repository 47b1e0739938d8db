package lobby

import (
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/detentegame/detente/internal/game"
)

// ConnType classifies what a connect handshake meant for the player's
// identity. Exactly these three cases exist; switch over them exhaustively.
type ConnType int

const (
	// ConnNewPlayer is a first-ever join: a fresh Plid was allocated.
	ConnNewPlayer ConnType = iota
	// ConnNewSocket is an additional live socket for an already-connected
	// player, e.g. a second browser tab.
	ConnNewSocket
	// ConnReconnect is a known player returning from a disconnect.
	ConnReconnect
)

func (ct ConnType) String() string {
	switch ct {
	case ConnNewPlayer:
		return "new_player"
	case ConnNewSocket:
		return "new_socket"
	default:
		return "reconnect"
	}
}

// PlayerConnection is one durable player identity within one lobby. It
// outlives any individual socket: page reloads and duplicate tabs attach and
// detach sockets without touching the identity.
type PlayerConnection struct {
	Plid     game.Plid
	UniqueID string
	Nickname string

	sockets   map[string]struct{}
	connected bool
	leader    bool
	timeout   *quartz.Timer
}

// IsConnected reports whether the player counts as present. It stays true
// through the disconnect debounce window and only drops when the timeout
// fires with no socket attached.
func (pc *PlayerConnection) IsConnected() bool { return pc.connected }

// IsLobbyLeader reports whether this player currently holds leadership.
func (pc *PlayerConnection) IsLobbyLeader() bool { return pc.leader }

// SocketIDs returns the currently attached transport handles, sorted.
func (pc *PlayerConnection) SocketIDs() []string {
	out := make([]string, 0, len(pc.sockets))
	for id := range pc.sockets {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Registry maps durable player identities to their live sockets for one
// lobby. It is not safe for concurrent use; the owning Lobby serializes
// access.
type Registry struct {
	clock           quartz.Clock
	disconnectDelay time.Duration
	byUnique        map[string]*PlayerConnection
	bySocket        map[string]*PlayerConnection
	order           []*PlayerConnection
	logger          *log.Logger
}

// NewRegistry creates an empty registry. The clock drives the disconnect
// debounce timers.
func NewRegistry(clock quartz.Clock, disconnectDelay time.Duration, logger *log.Logger) *Registry {
	return &Registry{
		clock:           clock,
		disconnectDelay: disconnectDelay,
		byUnique:        make(map[string]*PlayerConnection),
		bySocket:        make(map[string]*PlayerConnection),
		logger:          logger.WithPrefix("registry"),
	}
}

// GetOrCreate resolves a handshake to a player identity. Unknown ids allocate
// the next dense Plid in join order; known ids come back as a reconnect or an
// extra socket depending on their current state.
func (r *Registry) GetOrCreate(uniqueID, nickname string) (*PlayerConnection, ConnType) {
	if pc, ok := r.byUnique[uniqueID]; ok {
		if pc.connected {
			return pc, ConnNewSocket
		}
		r.cancelTimeout(pc)
		pc.connected = true
		r.logger.Info("Player reconnected", "plid", pc.Plid, "nickname", pc.Nickname)
		return pc, ConnReconnect
	}

	pc := &PlayerConnection{
		Plid:      game.Plid(len(r.order)),
		UniqueID:  uniqueID,
		Nickname:  nickname,
		sockets:   make(map[string]struct{}),
		connected: true,
	}
	r.byUnique[uniqueID] = pc
	r.order = append(r.order, pc)
	r.logger.Info("Player joined", "plid", pc.Plid, "nickname", nickname)
	return pc, ConnNewPlayer
}

// AttachSocket adds a live socket to the player. Always called after
// GetOrCreate, whatever the connection type. Attaching cancels any pending
// disconnect timeout; that cancellation, not a later state check, is the
// authoritative guard against a stale timeout firing.
func (r *Registry) AttachSocket(pc *PlayerConnection, socketID string) {
	r.cancelTimeout(pc)
	pc.sockets[socketID] = struct{}{}
	pc.connected = true
	r.bySocket[socketID] = pc
}

// DetachSocket removes a socket. When the last socket goes, expired is
// scheduled after the debounce delay; a re-attach in the interim cancels it,
// so rapid refreshes never flap the player's visible connection status.
func (r *Registry) DetachSocket(pc *PlayerConnection, socketID string, expired func()) {
	delete(pc.sockets, socketID)
	delete(r.bySocket, socketID)
	if len(pc.sockets) > 0 {
		return
	}
	r.cancelTimeout(pc)
	pc.timeout = r.clock.AfterFunc(r.disconnectDelay, expired)
	r.logger.Debug("Disconnect timeout scheduled", "plid", pc.Plid, "delay", r.disconnectDelay)
}

// MarkTimedOut declares the player absent. It no-ops if a socket re-attached
// in the interim, and reports whether the status actually changed.
func (r *Registry) MarkTimedOut(pc *PlayerConnection) bool {
	pc.timeout = nil
	if len(pc.sockets) > 0 || !pc.connected {
		return false
	}
	pc.connected = false
	r.logger.Info("Player timed out", "plid", pc.Plid, "nickname", pc.Nickname)
	return true
}

// cancelTimeout stops any pending disconnect timer. Safe to call twice or on
// an already-fired timer.
func (r *Registry) cancelTimeout(pc *PlayerConnection) {
	if pc.timeout != nil {
		pc.timeout.Stop()
		pc.timeout = nil
	}
}

// ConnectionBySocket resolves a socket handle to its player.
func (r *Registry) ConnectionBySocket(socketID string) (*PlayerConnection, bool) {
	pc, ok := r.bySocket[socketID]
	return pc, ok
}

// ElectLeader enforces the leadership rule: the lowest-Plid currently
// connected player leads. A still-connected leader keeps the seat, so a
// reconnecting former leader does not reclaim it. With nobody connected there
// is no leader. Reports whether the leader changed.
func (r *Registry) ElectLeader() (bool, *PlayerConnection) {
	var current *PlayerConnection
	for _, pc := range r.order {
		if pc.leader {
			current = pc
			break
		}
	}
	if current != nil && current.connected {
		return false, current
	}

	var next *PlayerConnection
	for _, pc := range r.order {
		if pc.connected {
			next = pc
			break
		}
	}
	if current != nil {
		current.leader = false
	}
	if next == nil {
		return current != nil, nil
	}
	next.leader = true
	r.logger.Info("Lobby leader elected", "plid", next.Plid, "nickname", next.Nickname)
	return true, next
}

// Connections returns all player identities in join order.
func (r *Registry) Connections() []*PlayerConnection {
	return r.order
}

// ConnectedPlids returns the plids of currently connected players in join
// order.
func (r *Registry) ConnectedPlids() []game.Plid {
	var out []game.Plid
	for _, pc := range r.order {
		if pc.connected {
			out = append(out, pc.Plid)
		}
	}
	return out
}

// AllSockets returns every live socket in the lobby.
func (r *Registry) AllSockets() []string {
	out := make([]string, 0, len(r.bySocket))
	for id := range r.bySocket {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SocketsForPlids returns the live sockets belonging to the given plids.
func (r *Registry) SocketsForPlids(plids []game.Plid) []string {
	want := make(map[game.Plid]bool, len(plids))
	for _, plid := range plids {
		want[plid] = true
	}
	var out []string
	for id, pc := range r.bySocket {
		if want[pc.Plid] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
