package game

import (
	"errors"
	"fmt"
	"sort"

	"github.com/charmbracelet/log"
)

// Plid is a stable small-integer player id, assigned at first join in join
// order and never reused within a lobby.
type Plid int

// ErrInvalidSubmission is returned when a submitted turn violates the
// configured bounds or targets players it must not.
var ErrInvalidSubmission = errors.New("invalid turn submission")

// PlayerTurnState is one player's mutable economic state for one turn.
//
// Money and Military are never negative outside of a turn-close in progress.
// MilitaryAttacks carries one entry per other living player, Trades one entry
// per seating-adjacent living player only.
type PlayerTurnState struct {
	Plid            Plid            `json:"plid"`
	Money           int             `json:"money"`
	Military        int             `json:"military"`
	MilitaryDelta   int             `json:"militaryDelta"`
	MilitaryAttacks map[Plid]int    `json:"militaryAttacks"`
	Trades          map[Plid]Stance `json:"trades"`
	IsDone          bool            `json:"isDone"`
	IsDead          bool            `json:"isDead"`
	Score           int             `json:"score"`
	LastTurnEvents  []string        `json:"lastTurnEvents"`
}

// Turn is one round of simultaneous decisions within an Era.
type Turn struct {
	Number  int                       `json:"number"`
	Players map[Plid]*PlayerTurnState `json:"players"`

	resolved bool
}

// IsOver reports whether every non-dead player has submitted.
func (t *Turn) IsOver() bool {
	for _, p := range t.Players {
		if !p.IsDead && !p.IsDone {
			return false
		}
	}
	return true
}

// LivingPlids returns the plids of players not yet dead, in ascending order.
func (t *Turn) LivingPlids() []Plid {
	var out []Plid
	for plid, p := range t.Players {
		if !p.IsDead {
			out = append(out, plid)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Era is one epoch of the game with a fixed seating order. Trade adjacency is
// positional within Order, so re-seating across eras rotates trade partners.
type Era struct {
	Number int     `json:"number"`
	Order  []Plid  `json:"order"`
	Turns  []*Turn `json:"turns"`
	IsOver bool    `json:"isOver"`
}

// LatestTurn returns the era's most recent turn.
func (e *Era) LatestTurn() *Turn {
	return e.Turns[len(e.Turns)-1]
}

// livingOrder returns Order filtered to players still alive in the given turn,
// preserving seating positions.
func (e *Era) livingOrder(t *Turn) []Plid {
	out := make([]Plid, 0, len(e.Order))
	for _, plid := range e.Order {
		if p, ok := t.Players[plid]; ok && !p.IsDead {
			out = append(out, plid)
		}
	}
	return out
}

// Neighbors returns a player's current trade-adjacent plids: the ring
// neighbors within the living seating order. A two-player ring yields a single
// neighbor; a lone survivor has none.
func (e *Era) Neighbors(t *Turn, plid Plid) []Plid {
	order := e.livingOrder(t)
	n := len(order)
	if n < 2 {
		return nil
	}
	for i, p := range order {
		if p != plid {
			continue
		}
		if n == 2 {
			return []Plid{order[(i+1)%n]}
		}
		left := order[(i-1+n)%n]
		right := order[(i+1)%n]
		if left == right {
			return []Plid{left}
		}
		return []Plid{left, right}
	}
	return nil
}

// ScoreFunc computes a player's cumulative score after a turn-close. It must
// be non-decreasing for survivors and is never called for dead players, whose
// score freezes at death.
type ScoreFunc func(prev, money, military int) int

// RotateFunc produces the next era's seating order from the surviving players
// of the previous one, given in their previous seating order.
type RotateFunc func(survivors []Plid) []Plid

// DefaultScore accumulates a player's end-of-turn holdings. Money and military
// are clamped non-negative before scoring, so the sum never decreases.
func DefaultScore(prev, money, military int) int {
	return prev + money + military
}

// DefaultRotate shifts the seating ring left by one position, so every player
// faces a fresh pair of neighbors each era.
func DefaultRotate(survivors []Plid) []Plid {
	if len(survivors) < 2 {
		return append([]Plid(nil), survivors...)
	}
	out := make([]Plid, 0, len(survivors))
	out = append(out, survivors[1:]...)
	return append(out, survivors[0])
}

// Policies are the injectable game-design hooks the engine does not pin down
// itself.
type Policies struct {
	Score  ScoreFunc
	Rotate RotateFunc
}

func (p Policies) withDefaults() Policies {
	if p.Score == nil {
		p.Score = DefaultScore
	}
	if p.Rotate == nil {
		p.Rotate = DefaultRotate
	}
	return p
}

// Game is one played instance. Eras and turns are append-only and retained
// for the lifetime of the game.
type Game struct {
	ID       string   `json:"id"`
	Settings Settings `json:"settings"`
	Eras     []*Era   `json:"eras"`

	policies Policies
	logger   *log.Logger
}

// NewGame builds Era 0 / Turn 0 from the given roster. The roster is the set
// of players connected at game start, in join order; it becomes Era 0's
// seating order.
func NewGame(id string, roster []Plid, settings Settings, policies Policies, logger *log.Logger) (*Game, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("game settings: %w", err)
	}
	if len(roster) < 2 {
		return nil, fmt.Errorf("need at least 2 players, got %d", len(roster))
	}
	seen := make(map[Plid]bool, len(roster))
	for _, plid := range roster {
		if seen[plid] {
			return nil, fmt.Errorf("duplicate plid %d in roster", plid)
		}
		seen[plid] = true
	}

	g := &Game{
		ID:       id,
		Settings: settings,
		policies: policies.withDefaults(),
		logger:   logger.WithPrefix("game").With("id", id),
	}
	g.Eras = []*Era{g.newEra(0, append([]Plid(nil), roster...), nil)}
	g.logger.Info("Game created", "players", len(roster), "era", 0)
	return g, nil
}

// LatestEra returns the game's most recent era.
func (g *Game) LatestEra() *Era {
	return g.Eras[len(g.Eras)-1]
}

// IsGameOver reports whether fewer than two players remain alive. The outer
// game-design layer decides what to do with a finished game; the engine only
// derives the condition.
func (g *Game) IsGameOver() bool {
	return len(g.LatestEra().LatestTurn().LivingPlids()) < 2
}

// newEra builds an era and its Turn 0. carried maps surviving plids to their
// cumulative score; nil means game start.
func (g *Game) newEra(number int, order []Plid, carried map[Plid]int) *Era {
	era := &Era{Number: number, Order: order}
	turn := &Turn{Number: 0, Players: make(map[Plid]*PlayerTurnState, len(order))}
	for _, plid := range order {
		turn.Players[plid] = &PlayerTurnState{
			Plid:     plid,
			Money:    g.Settings.EraStartMoney,
			Military: g.Settings.EraStartMilitary,
			Score:    carried[plid],
		}
	}
	era.Turns = []*Turn{turn}
	g.resetOrders(era, turn)
	return era
}

// resetOrders re-keys every living player's attack and trade maps for a fresh
// turn: attacks against every other living player, trades against ring
// neighbors only.
func (g *Game) resetOrders(era *Era, turn *Turn) {
	living := turn.LivingPlids()
	for _, plid := range living {
		p := turn.Players[plid]
		p.MilitaryAttacks = make(map[Plid]int, len(living)-1)
		for _, other := range living {
			if other != plid {
				p.MilitaryAttacks[other] = 0
			}
		}
		neighbors := era.Neighbors(turn, plid)
		p.Trades = make(map[Plid]Stance, len(neighbors))
		for _, n := range neighbors {
			p.Trades[n] = StanceCooperate
		}
	}
}

// Submission is the client-supplied portion of a player's turn.
type Submission struct {
	MilitaryDelta   int             `json:"militaryDelta"`
	MilitaryAttacks map[Plid]int    `json:"militaryAttacks"`
	Trades          map[Plid]Stance `json:"trades"`
}

// SubmitPlayerTurn validates and applies a player's orders for the current
// turn, then marks the player done. A resubmission after IsDone is a silent
// no-op so duplicate network delivery stays harmless; anything out of bounds
// fails with ErrInvalidSubmission and leaves prior state untouched.
func (g *Game) SubmitPlayerTurn(plid Plid, sub Submission) error {
	turn := g.LatestEra().LatestTurn()
	p, ok := turn.Players[plid]
	if !ok {
		return fmt.Errorf("%w: plid %d not in current turn", ErrInvalidSubmission, plid)
	}
	if p.IsDead {
		return fmt.Errorf("%w: plid %d is dead", ErrInvalidSubmission, plid)
	}
	if p.IsDone {
		return nil
	}

	s := g.Settings
	if sub.MilitaryDelta < s.MilitaryMinDeltaPerTurn || sub.MilitaryDelta > s.MilitaryMaxDeltaPerTurn {
		return fmt.Errorf("%w: military delta %d outside [%d,%d]",
			ErrInvalidSubmission, sub.MilitaryDelta, s.MilitaryMinDeltaPerTurn, s.MilitaryMaxDeltaPerTurn)
	}
	for target, amount := range sub.MilitaryAttacks {
		if _, ok := p.MilitaryAttacks[target]; !ok {
			return fmt.Errorf("%w: attack targets invalid plid %d", ErrInvalidSubmission, target)
		}
		if amount < s.MilitaryMinAttack || amount > s.MilitaryMaxAttack {
			return fmt.Errorf("%w: attack %d on plid %d outside [%d,%d]",
				ErrInvalidSubmission, amount, target, s.MilitaryMinAttack, s.MilitaryMaxAttack)
		}
	}
	for target, stance := range sub.Trades {
		if _, ok := p.Trades[target]; !ok {
			return fmt.Errorf("%w: trade targets non-adjacent plid %d", ErrInvalidSubmission, target)
		}
		if !stance.Valid() {
			return fmt.Errorf("%w: unknown stance %q for plid %d", ErrInvalidSubmission, stance, target)
		}
	}

	p.MilitaryDelta = sub.MilitaryDelta
	for target, amount := range sub.MilitaryAttacks {
		p.MilitaryAttacks[target] = amount
	}
	for target, stance := range sub.Trades {
		p.Trades[target] = stance
	}
	p.IsDone = true

	g.logger.Debug("Turn submitted", "plid", plid, "era", g.LatestEra().Number, "turn", turn.Number)
	return nil
}
