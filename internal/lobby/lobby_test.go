package lobby

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detentegame/detente/internal/game"
	"github.com/detentegame/detente/internal/protocol"
)

func testLobby(t *testing.T) (*Lobby, *quartz.Mock) {
	t.Helper()
	mockClock := quartz.NewMock(t)
	logger := log.NewWithOptions(io.Discard, log.Options{Level: log.ErrorLevel})
	l := NewLobby("test-lobby", Config{Clock: mockClock}, logger)
	return l, mockClock
}

func connect(t *testing.T, l *Lobby, socketID, uniqueID, nickname string) []Outbound {
	t.Helper()
	outs, err := l.HandleConnect(socketID, uniqueID, nickname)
	require.NoError(t, err)
	return outs
}

// outsOfType filters notifications down to one message type.
func outsOfType(outs []Outbound, mt protocol.MessageType) []Outbound {
	var matched []Outbound
	for _, o := range outs {
		if o.Msg.Type == mt {
			matched = append(matched, o)
		}
	}
	return matched
}

func TestLobby_ConnectNotifications(t *testing.T) {
	l, _ := testLobby(t)

	outs := connect(t, l, "sock-a", "uid-a", "alice")

	// The new socket gets its identity, everyone gets the roster
	connected := outsOfType(outs, protocol.TypeConnected)
	require.Len(t, connected, 1)
	require.Equal(t, []string{"sock-a"}, connected[0].SocketIDs)
	var cd protocol.ConnectedData
	require.NoError(t, connected[0].Msg.Decode(&cd))
	assert.Equal(t, game.Plid(0), cd.Plid)
	assert.Equal(t, "test-lobby", cd.LobbyID)

	roster := outsOfType(outs, protocol.TypeConnections)
	require.Len(t, roster, 1)
	var rd protocol.ConnectionsData
	require.NoError(t, roster[0].Msg.Decode(&rd))
	require.Len(t, rd.Players, 1)
	assert.True(t, rd.Players[0].IsLobbyLeader)

	// A second tab for the same player gets the roster itself, but nothing
	// is broadcast to the rest of the lobby
	outs = connect(t, l, "sock-a2", "uid-a", "alice")
	assert.Len(t, outsOfType(outs, protocol.TypeConnected), 1)
	roster = outsOfType(outs, protocol.TypeConnections)
	require.Len(t, roster, 1)
	assert.Equal(t, []string{"sock-a2"}, roster[0].SocketIDs)

	// A second tab that renames the player re-broadcasts the roster
	outs = connect(t, l, "sock-a3", "uid-a", "alicia")
	roster = outsOfType(outs, protocol.TypeConnections)
	require.Len(t, roster, 1)
	assert.Len(t, roster[0].SocketIDs, 3)
}

func TestLobby_RejectsEmptyHandshake(t *testing.T) {
	l, _ := testLobby(t)

	_, err := l.HandleConnect("sock-a", "uid-a", "   ")
	require.ErrorIs(t, err, ErrBadHandshake)
	_, err = l.HandleConnect("sock-a", "", "alice")
	require.ErrorIs(t, err, ErrBadHandshake)
}

func TestLobby_DisconnectDebounceThenRosterBroadcast(t *testing.T) {
	l, mockClock := testLobby(t)

	var emitted [][]Outbound
	l.SetEmitter(func(outs []Outbound) { emitted = append(emitted, outs) })

	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	// Detaching alone announces nothing
	require.Empty(t, l.HandleDisconnect("sock-a"))
	require.Empty(t, emitted)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultDisconnectTimeout).MustWait(ctx)

	// The fired timeout drops alice and hands the lead to bob
	require.Len(t, emitted, 1)
	roster := outsOfType(emitted[0], protocol.TypeConnections)
	require.Len(t, roster, 1)
	var rd protocol.ConnectionsData
	require.NoError(t, roster[0].Msg.Decode(&rd))
	require.Len(t, rd.Players, 2)
	assert.False(t, rd.Players[0].IsConnected)
	assert.False(t, rd.Players[0].IsLobbyLeader)
	assert.True(t, rd.Players[1].IsLobbyLeader)
}

func TestLobby_ReconnectBeforeTimeoutStaysSilent(t *testing.T) {
	l, mockClock := testLobby(t)

	var emitted [][]Outbound
	l.SetEmitter(func(outs []Outbound) { emitted = append(emitted, outs) })

	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")
	l.HandleDisconnect("sock-a")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	mockClock.Advance(DefaultDisconnectTimeout / 2).MustWait(ctx)

	connect(t, l, "sock-a2", "uid-a", "alice")
	mockClock.Advance(DefaultDisconnectTimeout).MustWait(ctx)

	// No timeout fired, so no disconnect was ever announced
	assert.Empty(t, emitted)

	// And the refreshed player still leads
	outs, err := l.HandleStartGame("sock-a2", protocol.StartNewGameData{})
	require.NoError(t, err)
	assert.NotEmpty(t, outs)
}

func TestLobby_ChatBroadcast(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")
	connect(t, l, "sock-c", "uid-c", "carol")

	outs, err := l.HandleChatMessage("sock-a", "hello all")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, []string{"sock-a", "sock-b", "sock-c"}, outs[0].SocketIDs)

	var cd protocol.ChatBroadcastData
	require.NoError(t, outs[0].Msg.Decode(&cd))
	assert.Equal(t, game.Plid(0), cd.Plid)
	assert.Equal(t, "alice", cd.Nickname)
	assert.Equal(t, "hello all", cd.Text)
	assert.False(t, cd.Targeted)
}

func TestLobby_ChatAddressing(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")
	connect(t, l, "sock-c", "uid-c", "carol")

	// alice (plid 0) whispers to bob (plid 1); carol must not receive it
	outs, err := l.HandleChatMessage("sock-a", "1@psst")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, []string{"sock-a", "sock-b"}, outs[0].SocketIDs)

	var cd protocol.ChatBroadcastData
	require.NoError(t, outs[0].Msg.Decode(&cd))
	assert.Equal(t, "psst", cd.Text)
	assert.True(t, cd.Targeted)

	// A non-numeric prefix falls back to a plain broadcast
	outs, err = l.HandleChatMessage("sock-a", "meet you @ the docks")
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Len(t, outs[0].SocketIDs, 3)
	require.NoError(t, outs[0].Msg.Decode(&cd))
	assert.False(t, cd.Targeted)
	assert.Equal(t, "meet you @ the docks", cd.Text)
}

func TestLobby_ChatSanitizesAndDropsEmpty(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")

	outs, err := l.HandleChatMessage("sock-a", "<script>alert(1)</script>")
	require.NoError(t, err)
	assert.Empty(t, outs)

	outs, err = l.HandleChatMessage("sock-a", "   ")
	require.NoError(t, err)
	assert.Empty(t, outs)
}

func TestLobby_StartGameLeaderOnly(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleStartGame("sock-b", protocol.StartNewGameData{})
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Nil(t, l.Game())

	outs, err := l.HandleStartGame("sock-a", protocol.StartNewGameData{})
	require.NoError(t, err)
	require.NotNil(t, l.Game())

	// One private view per player, each addressed to that player's sockets
	starts := outsOfType(outs, protocol.TypeStartNewGame)
	require.Len(t, starts, 2)
	assert.Equal(t, []string{"sock-a"}, starts[0].SocketIDs)
	assert.Equal(t, []string{"sock-b"}, starts[1].SocketIDs)

	var gd protocol.GameStartData
	require.NoError(t, starts[1].Msg.Decode(&gd))
	require.NotNil(t, gd.Game.Era.Turn.You)
	assert.Equal(t, game.Plid(1), gd.Game.Era.Turn.You.Plid)
}

func TestLobby_StartGameUnknownPreset(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleStartGame("sock-a", protocol.StartNewGameData{Preset: "nope"})
	require.Error(t, err)
	assert.Nil(t, l.Game())
}

func TestLobby_SubmitTurnFlow(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleStartGame("sock-a", protocol.StartNewGameData{})
	require.NoError(t, err)

	// First submission: public-safe delta to the whole lobby
	outs, err := l.HandleSubmitTurn("sock-a", protocol.PlayerTurnData{
		MilitaryAttacks: map[game.Plid]int{1: 2},
	})
	require.NoError(t, err)
	updates := outsOfType(outs, protocol.TypePlayerTurn)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"sock-a", "sock-b"}, updates[0].SocketIDs)

	var ud protocol.PlayerTurnUpdateData
	require.NoError(t, updates[0].Msg.Decode(&ud))
	assert.True(t, ud.Player.IsDone)

	// Last outstanding submission closes the turn: per-player whole-turn views
	outs, err = l.HandleSubmitTurn("sock-b", protocol.PlayerTurnData{})
	require.NoError(t, err)
	turns := outsOfType(outs, protocol.TypeWholeTurn)
	require.Len(t, turns, 2)

	var td protocol.WholeTurnData
	require.NoError(t, turns[0].Msg.Decode(&td))
	assert.Equal(t, 1, td.Turn.Number)
	require.NotNil(t, td.Turn.You)
	// The other player's pending orders never appear in the view
	require.Len(t, td.Turn.Players, 1)
}

func TestLobby_SubmitTurnValidation(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleSubmitTurn("sock-a", protocol.PlayerTurnData{})
	require.ErrorIs(t, err, ErrNoGame)

	_, err = l.HandleStartGame("sock-a", protocol.StartNewGameData{})
	require.NoError(t, err)

	_, err = l.HandleSubmitTurn("sock-a", protocol.PlayerTurnData{
		MilitaryAttacks: map[game.Plid]int{1: 9999},
	})
	require.ErrorIs(t, err, game.ErrInvalidSubmission)
}

func TestLobby_ForceNextTurn(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleForceNextTurn("sock-a")
	require.ErrorIs(t, err, ErrNoGame)

	_, err = l.HandleStartGame("sock-a", protocol.StartNewGameData{})
	require.NoError(t, err)

	_, err = l.HandleForceNextTurn("sock-b")
	require.ErrorIs(t, err, ErrUnauthorized)

	outs, err := l.HandleForceNextTurn("sock-a")
	require.NoError(t, err)
	require.Len(t, outsOfType(outs, protocol.TypeWholeTurn), 2)
	assert.Equal(t, 1, l.Game().LatestEra().LatestTurn().Number)
}

func TestLobby_EraAdvanceNotifications(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	// Zero death threshold makes every turn-close end the era
	settings := game.DefaultSettings()
	settings.EraMinDeadPercentage = 0
	_, err := l.HandleStartGame("sock-a", protocol.StartNewGameData{Settings: &settings})
	require.NoError(t, err)

	outs, err := l.HandleForceNextTurn("sock-a")
	require.NoError(t, err)

	// One private era view per player, no whole-turn alongside
	eras := outsOfType(outs, protocol.TypeEra)
	require.Len(t, eras, 2)
	assert.Empty(t, outsOfType(outs, protocol.TypeWholeTurn))
	assert.Equal(t, []string{"sock-a"}, eras[0].SocketIDs)
	assert.Equal(t, []string{"sock-b"}, eras[1].SocketIDs)

	var ed protocol.EraData
	require.NoError(t, eras[1].Msg.Decode(&ed))
	assert.Equal(t, 1, ed.Era.Number)
	assert.Equal(t, []game.Plid{1, 0}, ed.Era.Order)
	assert.False(t, ed.IsGameOver)
	require.NotNil(t, ed.Era.Turn.You)
	assert.Equal(t, game.Plid(1), ed.Era.Turn.You.Plid)
	assert.Equal(t, settings.EraStartMoney, ed.Era.Turn.You.Money)

	// The other player appears only as a public projection
	require.Len(t, ed.Era.Turn.Players, 1)
	assert.Equal(t, game.Plid(0), ed.Era.Turn.Players[0].Plid)
}

func TestLobby_ReconnectCatchUpGetsGameSnapshot(t *testing.T) {
	l, _ := testLobby(t)
	connect(t, l, "sock-a", "uid-a", "alice")
	connect(t, l, "sock-b", "uid-b", "bob")

	_, err := l.HandleStartGame("sock-a", protocol.StartNewGameData{})
	require.NoError(t, err)

	l.HandleDisconnect("sock-b")
	outs := connect(t, l, "sock-b2", "uid-b", "bob")

	starts := outsOfType(outs, protocol.TypeStartNewGame)
	require.Len(t, starts, 1)
	assert.Equal(t, []string{"sock-b2"}, starts[0].SocketIDs)

	var gd protocol.GameStartData
	require.NoError(t, starts[0].Msg.Decode(&gd))
	require.NotNil(t, gd.Game.Era.Turn.You)
	assert.Equal(t, game.Plid(1), gd.Game.Era.Turn.You.Plid)
}

func TestParseTargets(t *testing.T) {
	targets, text, addressed := ParseTargets("1 2@hello")
	require.True(t, addressed)
	assert.Equal(t, []game.Plid{1, 2}, targets)
	assert.Equal(t, "hello", text)

	targets, text, addressed = ParseTargets("0,3@ok")
	require.True(t, addressed)
	assert.Equal(t, []game.Plid{0, 3}, targets)
	assert.Equal(t, "ok", text)

	_, text, addressed = ParseTargets("no at sign")
	assert.False(t, addressed)
	assert.Equal(t, "no at sign", text)

	_, text, addressed = ParseTargets("bob@ hi")
	assert.False(t, addressed)
	assert.Equal(t, "bob@ hi", text)

	_, _, addressed = ParseTargets("@hi")
	assert.False(t, addressed)
}
