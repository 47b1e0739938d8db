package game

// Stance is a player's trade posture towards one adjacent player for one turn.
type Stance string

const (
	StanceCooperate Stance = "cooperate"
	StanceDefect    Stance = "defect"
)

// Valid reports whether the stance is one of the two playable postures.
func (s Stance) Valid() bool {
	return s == StanceCooperate || s == StanceDefect
}

// Trade payoff matrix. Applied once per unordered adjacent pair per turn.
const (
	mutualCooperatePayout = 4
	mutualDefectPayout    = 2
	betrayalPayout        = 8
	betrayedPayout        = 0
)

// ResolveTrade returns the money delta for the player holding ours against a
// neighbor holding theirs. The matrix is symmetric, so resolving a pair means
// calling this twice with the arguments swapped.
func ResolveTrade(ours, theirs Stance) int {
	switch {
	case ours == StanceCooperate && theirs == StanceCooperate:
		return mutualCooperatePayout
	case ours == StanceDefect && theirs == StanceDefect:
		return mutualDefectPayout
	case ours == StanceDefect:
		return betrayalPayout
	default:
		return betrayedPayout
	}
}

// MilitaryResult is the outcome of one player's combat resolution for one turn.
type MilitaryResult struct {
	MilitaryDelta int
	MoneyDelta    int
}

// ResolveMilitary computes combat losses for a single player. Counter-attacks
// absorb incoming attacks one for one, then standing military is drawn down,
// and only attacks that exceed both cost money ("pillage").
func ResolveMilitary(standing, received, sent, pillageMultiplier int) MilitaryResult {
	remaining := received - sent
	if remaining <= 0 {
		return MilitaryResult{}
	}

	var res MilitaryResult
	res.MilitaryDelta = -min(remaining, standing)
	remaining -= standing
	if remaining > 0 {
		res.MoneyDelta = -pillageMultiplier * remaining
	}
	return res
}
