// Package protocol defines the wire messages exchanged between clients and
// the server. Every frame is a Message envelope with a typed JSON payload.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/detentegame/detente/internal/game"
)

// MessageType identifies the type of a wire message.
type MessageType string

const (
	// Client -> Server
	TypeConnect       MessageType = "connect"
	TypeChat          MessageType = "message"
	TypeStartNewGame  MessageType = "start-new-game"
	TypeForceNextTurn MessageType = "force-next-turn"
	TypePlayerTurn    MessageType = "player-turn"

	// Server -> Client
	TypeConnected   MessageType = "connected"
	TypeConnections MessageType = "connections"
	TypeEra         MessageType = "era"
	TypeWholeTurn   MessageType = "whole-turn"
	TypeError       MessageType = "error"
)

// String returns the string representation of the message type.
func (mt MessageType) String() string {
	return string(mt)
}

// Message is the envelope for every frame on the wire.
type Message struct {
	Type      MessageType     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage wraps a payload in an envelope with the current timestamp.
func NewMessage(messageType MessageType, data any) (*Message, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      messageType,
		Data:      dataBytes,
		Timestamp: time.Now(),
	}, nil
}

// Decode unmarshals the envelope's payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Client -> Server payloads

// ConnectData is the handshake payload; it must be the first frame a client
// sends.
type ConnectData struct {
	UniqueID string `json:"uniqueId"`
	Nickname string `json:"nickname"`
	LobbyID  string `json:"lobbyId"`
}

// ChatData is a free-text chat line, optionally @-addressed.
type ChatData struct {
	Text string `json:"text"`
}

// StartNewGameData is the leader-only request to start a game. Settings
// overrides the preset when present.
type StartNewGameData struct {
	Preset   string         `json:"preset,omitempty"`
	Settings *game.Settings `json:"settings,omitempty"`
}

// PlayerTurnData is a player's turn submission.
type PlayerTurnData struct {
	MilitaryDelta   int                       `json:"militaryDelta"`
	MilitaryAttacks map[game.Plid]int         `json:"militaryAttacks"`
	Trades          map[game.Plid]game.Stance `json:"trades"`
}

// Server -> Client payloads

// ConnectedData is unicast once to a freshly attached socket.
type ConnectedData struct {
	Plid    game.Plid `json:"plid"`
	LobbyID string    `json:"lobbyId"`
}

// PlayerInfo is one roster row in a connections broadcast.
type PlayerInfo struct {
	Plid          game.Plid `json:"plid"`
	Nickname      string    `json:"nickname"`
	IsConnected   bool      `json:"isConnected"`
	IsLobbyLeader bool      `json:"isLobbyLeader"`
}

// ConnectionsData is the full roster snapshot, broadcast on any membership,
// leader or name change.
type ConnectionsData struct {
	Players []PlayerInfo `json:"players"`
}

// ChatBroadcastData is a delivered chat line.
type ChatBroadcastData struct {
	Plid     game.Plid `json:"plid"`
	Nickname string    `json:"nickname"`
	Text     string    `json:"text"`
	Targeted bool      `json:"targeted"`
}

// GameStartData carries a per-player view of a freshly started (or, on
// reconnect, in-progress) game.
type GameStartData struct {
	Game game.GameView `json:"game"`
}

// EraData carries a per-player view after an era advance.
type EraData struct {
	Era        game.EraView `json:"era"`
	IsGameOver bool         `json:"isGameOver"`
}

// WholeTurnData carries a per-player view after a turn advance.
type WholeTurnData struct {
	Turn       game.TurnView `json:"turn"`
	IsGameOver bool          `json:"isGameOver"`
}

// PlayerTurnUpdateData is the public-safe single-player delta sent when one
// player's turn state changes without a full turn or era advance.
type PlayerTurnUpdateData struct {
	Player game.PlayerPublic `json:"player"`
}

// ErrorData reports a locally absorbed failure back to the offending
// connection only.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
