package game

// TurnOutcome reports what a turn-close produced.
type TurnOutcome int

const (
	// StillOpen means no resolution happened: the turn is waiting on
	// submissions, or was already closed.
	StillOpen TurnOutcome = iota
	// NewTurn means the turn resolved and a fresh turn was appended to the
	// current era.
	NewTurn
	// NewEra means the turn resolved, the era's death threshold was met, and a
	// new era with a rotated seating order was created.
	NewEra
)

func (o TurnOutcome) String() string {
	switch o {
	case NewTurn:
		return "new_turn"
	case NewEra:
		return "new_era"
	default:
		return "still_open"
	}
}

// snapshot is the frozen pre-close view of one player, so resolution never
// reads a value another step already wrote.
type snapshot struct {
	military int
	attacks  map[Plid]int
	trades   map[Plid]Stance
}

// CloseTurnIfReady resolves the current turn if every living player has
// submitted, or unconditionally when forced by the lobby leader. Unsubmitted
// players are resolved with their initial all-zero orders. Calling it on a
// turn that is not ready, or one that already resolved, is a no-op.
func (g *Game) CloseTurnIfReady(force bool) TurnOutcome {
	era := g.LatestEra()
	turn := era.LatestTurn()
	if turn.resolved {
		return StillOpen
	}
	if !force && !turn.IsOver() {
		return StillOpen
	}

	living := era.livingOrder(turn)
	pre := make(map[Plid]snapshot, len(living))
	for _, plid := range living {
		p := turn.Players[plid]
		attacks := make(map[Plid]int, len(p.MilitaryAttacks))
		for t, a := range p.MilitaryAttacks {
			attacks[t] = a
		}
		trades := make(map[Plid]Stance, len(p.Trades))
		for t, s := range p.Trades {
			trades[t] = s
		}
		pre[plid] = snapshot{military: p.Military, attacks: attacks, trades: trades}
	}

	moneyDelta := make(map[Plid]int, len(living))
	militaryDelta := make(map[Plid]int, len(living))
	events := make(map[Plid][]string, len(living))

	// Trades: once per unordered adjacent pair in the seating ring.
	if n := len(living); n >= 2 {
		pairs := n
		if n == 2 {
			pairs = 1
		}
		for i := 0; i < pairs; i++ {
			a, b := living[i], living[(i+1)%n]
			ourStance, theirStance := pre[a].trades[b], pre[b].trades[a]
			ourPayout := ResolveTrade(ourStance, theirStance)
			theirPayout := ResolveTrade(theirStance, ourStance)
			moneyDelta[a] += ourPayout
			moneyDelta[b] += theirPayout
			events[a] = append(events[a], tradeEvent(b, ourStance, theirStance, ourPayout))
			events[b] = append(events[b], tradeEvent(a, theirStance, ourStance, theirPayout))
		}
	}

	// Combat: every player's received and sent totals come from the snapshot.
	for _, plid := range living {
		var received, sent int
		for _, other := range living {
			if other != plid {
				received += pre[other].attacks[plid]
			}
		}
		for _, amount := range pre[plid].attacks {
			sent += amount
		}
		res := ResolveMilitary(pre[plid].military, received, sent, g.Settings.PillageMultiplier)
		militaryDelta[plid] += res.MilitaryDelta
		moneyDelta[plid] += res.MoneyDelta
		if received > 0 || sent > 0 {
			events[plid] = append(events[plid], combatEvent(received, sent, res))
		}
	}

	// Apply deltas, investment, upkeep, clamps, deaths and scores per player.
	for _, plid := range living {
		p := turn.Players[plid]
		p.Money += moneyDelta[plid]
		p.Military += militaryDelta[plid]

		switch delta := p.MilitaryDelta; {
		case delta > 0:
			invested := min(delta, max(p.Money, 0))
			p.Military += invested
			p.Money -= invested
			if invested > 0 {
				events[plid] = append(events[plid], investEvent(invested))
			}
		case delta < 0:
			disbanded := min(-delta, p.Military)
			p.Military -= disbanded
			p.Money += disbanded
			if disbanded > 0 {
				events[plid] = append(events[plid], disbandEvent(disbanded))
			}
		}

		if upkeep := int(float64(p.Military) * g.Settings.UpkeepFraction); upkeep > 0 {
			p.Money -= upkeep
			events[plid] = append(events[plid], upkeepEvent(upkeep, p.Military))
		}

		p.Money = max(p.Money, 0)

		if p.Money == 0 && p.Military == 0 {
			p.IsDead = true
			events[plid] = append(events[plid], deathEvent())
			g.logger.Info("Player eliminated", "plid", plid, "era", era.Number, "turn", turn.Number)
		} else {
			p.Score = g.policies.Score(p.Score, p.Money, p.Military)
		}
		p.LastTurnEvents = events[plid]
	}

	turn.resolved = true

	if g.eraDeathThresholdMet(era, turn) {
		era.IsOver = true
		survivors := era.livingOrder(turn)
		carried := make(map[Plid]int, len(survivors))
		for _, plid := range survivors {
			carried[plid] = turn.Players[plid].Score
		}
		next := g.newEra(era.Number+1, g.policies.Rotate(survivors), carried)
		for plid, lines := range events {
			if p, ok := next.LatestTurn().Players[plid]; ok {
				p.LastTurnEvents = lines
			}
		}
		g.Eras = append(g.Eras, next)
		g.logger.Info("Era closed", "era", era.Number, "survivors", len(survivors))
		return NewEra
	}

	era.Turns = append(era.Turns, g.nextTurn(era, turn, events))
	g.logger.Debug("Turn closed", "era", era.Number, "turn", turn.Number)
	return NewTurn
}

// nextTurn appends the successor turn: same roster as the era, carried
// economics, re-zeroed orders, previous close's events attached for display.
func (g *Game) nextTurn(era *Era, closed *Turn, events map[Plid][]string) *Turn {
	next := &Turn{
		Number:  closed.Number + 1,
		Players: make(map[Plid]*PlayerTurnState, len(closed.Players)),
	}
	for plid, p := range closed.Players {
		next.Players[plid] = &PlayerTurnState{
			Plid:           plid,
			Money:          p.Money,
			Military:       p.Military,
			Score:          p.Score,
			IsDead:         p.IsDead,
			LastTurnEvents: events[plid],
		}
	}
	g.resetOrders(era, next)
	return next
}

// eraDeathThresholdMet checks the dead fraction of the era's starting roster.
func (g *Game) eraDeathThresholdMet(era *Era, turn *Turn) bool {
	dead := 0
	for _, plid := range era.Order {
		if turn.Players[plid].IsDead {
			dead++
		}
	}
	return float64(dead)/float64(len(era.Order)) >= g.Settings.EraMinDeadPercentage
}
