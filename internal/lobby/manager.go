package lobby

import (
	"sync"

	"github.com/charmbracelet/log"
)

// Manager owns every lobby in the process, keyed by external lobby id.
// Lobbies are created on first connect and are fully independent of each
// other.
type Manager struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby
	cfg     Config
	logger  *log.Logger
	emit    func([]Outbound)
}

// NewManager creates an empty manager whose lobbies share cfg.
func NewManager(cfg Config, logger *log.Logger) *Manager {
	return &Manager{
		lobbies: make(map[string]*Lobby),
		cfg:     cfg.withDefaults(),
		logger:  logger,
		emit:    func([]Outbound) {},
	}
}

// SetEmitter installs the transport sink handed to every lobby for
// timer-driven notifications. Must be called before the first connect.
func (m *Manager) SetEmitter(emit func([]Outbound)) {
	if emit != nil {
		m.emit = emit
	}
}

// Connect resolves a handshake against the named lobby. The handshake is
// validated before the lobby is created, so a rejected connect never leaves an
// empty lobby behind.
func (m *Manager) Connect(lobbyID, socketID, uniqueID, nickname string) (*Lobby, []Outbound, error) {
	if _, err := m.cfg.sanitizeHandshake(uniqueID, nickname); err != nil {
		return nil, nil, err
	}
	l := m.GetOrCreate(lobbyID)
	outs, err := l.HandleConnect(socketID, uniqueID, nickname)
	if err != nil {
		return nil, nil, err
	}
	return l, outs, nil
}

// GetOrCreate returns the lobby for id, creating it on first use.
func (m *Manager) GetOrCreate(id string) *Lobby {
	m.mu.RLock()
	l, ok := m.lobbies[id]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.lobbies[id]; ok {
		return l
	}
	l = NewLobby(id, m.cfg, m.logger)
	l.SetEmitter(func(outs []Outbound) { m.emit(outs) })
	m.lobbies[id] = l
	m.logger.Info("Lobby created", "lobby", id)
	return l
}

// Get returns the lobby for id if it exists.
func (m *Manager) Get(id string) (*Lobby, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lobbies[id]
	return l, ok
}

// Count returns the number of live lobbies.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lobbies)
}
