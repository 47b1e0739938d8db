package game

import "fmt"

// Human-readable outcome lines shown to each player after a turn-close. These
// are display strings only; nothing parses them.

func tradeEvent(with Plid, ours, theirs Stance, payout int) string {
	switch {
	case ours == StanceCooperate && theirs == StanceCooperate:
		return fmt.Sprintf("Traded fairly with player %d (+%d money)", with, payout)
	case ours == StanceDefect && theirs == StanceDefect:
		return fmt.Sprintf("Mutual defection with player %d (+%d money)", with, payout)
	case ours == StanceDefect:
		return fmt.Sprintf("Betrayed player %d (+%d money)", with, payout)
	default:
		return fmt.Sprintf("Betrayed by player %d (+%d money)", with, payout)
	}
}

func combatEvent(received, sent int, res MilitaryResult) string {
	line := fmt.Sprintf("Attacked for %d, countered with %d", received, sent)
	if res.MilitaryDelta < 0 {
		line += fmt.Sprintf("; lost %d military", -res.MilitaryDelta)
	}
	if res.MoneyDelta < 0 {
		line += fmt.Sprintf(" and %d money to pillage", -res.MoneyDelta)
	}
	if res.MilitaryDelta == 0 && res.MoneyDelta == 0 {
		line += "; no losses"
	}
	return line
}

func investEvent(amount int) string {
	return fmt.Sprintf("Invested %d money into military", amount)
}

func disbandEvent(amount int) string {
	return fmt.Sprintf("Disbanded %d military for %d money", amount, amount)
}

func upkeepEvent(cost, military int) string {
	return fmt.Sprintf("Paid %d upkeep for %d military", cost, military)
}

func deathEvent() string {
	return "Eliminated: money and military exhausted"
}
