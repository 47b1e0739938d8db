package game

import "sort"

// Per-player projections of game state. Turns hold privately-submitted orders,
// so each connected client gets its own view: full detail for the recipient,
// public-safe fields only for everyone else.

// PlayerPublic is the part of another player's turn state that is safe to
// show: standing totals and whether they have submitted, never what.
type PlayerPublic struct {
	Plid     Plid `json:"plid"`
	Money    int  `json:"money"`
	Military int  `json:"military"`
	Score    int  `json:"score"`
	IsDone   bool `json:"isDone"`
	IsDead   bool `json:"isDead"`
}

// TurnView is one player's view of the current turn.
type TurnView struct {
	Number  int              `json:"number"`
	You     *PlayerTurnState `json:"you"`
	Players []PlayerPublic   `json:"players"`
	IsOver  bool             `json:"isOver"`
}

// EraView is one player's view of the current era.
type EraView struct {
	Number int      `json:"number"`
	Order  []Plid   `json:"order"`
	IsOver bool     `json:"isOver"`
	Turn   TurnView `json:"turn"`
}

// GameView is one player's view of the whole game.
type GameView struct {
	ID         string   `json:"id"`
	Settings   Settings `json:"settings"`
	Era        EraView  `json:"era"`
	IsGameOver bool     `json:"isGameOver"`
}

func publicOf(p *PlayerTurnState) PlayerPublic {
	return PlayerPublic{
		Plid:     p.Plid,
		Money:    p.Money,
		Military: p.Military,
		Score:    p.Score,
		IsDone:   p.IsDone,
		IsDead:   p.IsDead,
	}
}

// TurnViewFor projects the latest turn for one recipient.
func (g *Game) TurnViewFor(plid Plid) TurnView {
	turn := g.LatestEra().LatestTurn()
	view := TurnView{Number: turn.Number, IsOver: turn.IsOver()}
	for _, p := range turn.Players {
		if p.Plid == plid {
			view.You = p
			continue
		}
		view.Players = append(view.Players, publicOf(p))
	}
	sort.Slice(view.Players, func(i, j int) bool { return view.Players[i].Plid < view.Players[j].Plid })
	return view
}

// EraViewFor projects the latest era for one recipient.
func (g *Game) EraViewFor(plid Plid) EraView {
	era := g.LatestEra()
	return EraView{
		Number: era.Number,
		Order:  era.Order,
		IsOver: era.IsOver,
		Turn:   g.TurnViewFor(plid),
	}
}

// ViewFor projects the whole game for one recipient.
func (g *Game) ViewFor(plid Plid) GameView {
	return GameView{
		ID:         g.ID,
		Settings:   g.Settings,
		Era:        g.EraViewFor(plid),
		IsGameOver: g.IsGameOver(),
	}
}

// PublicDelta is the projection broadcast when a single player's turn state
// changes without a turn or era advance.
func (g *Game) PublicDelta(plid Plid) (PlayerPublic, bool) {
	p, ok := g.LatestEra().LatestTurn().Players[plid]
	if !ok {
		return PlayerPublic{}, false
	}
	return publicOf(p), true
}
