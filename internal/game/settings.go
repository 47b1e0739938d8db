package game

import "fmt"

// Settings is the immutable configuration of one game instance, fixed at
// creation time.
type Settings struct {
	MilitaryMinAttack       int     `json:"militaryMinAttack"`
	MilitaryMaxAttack       int     `json:"militaryMaxAttack"`
	MilitaryMinDeltaPerTurn int     `json:"militaryMinDeltaPerTurn"`
	MilitaryMaxDeltaPerTurn int     `json:"militaryMaxDeltaPerTurn"`
	EraStartMoney           int     `json:"eraStartMoney"`
	EraStartMilitary        int     `json:"eraStartMilitary"`
	EraMinDeadPercentage    float64 `json:"eraMinDeadPercentage"`
	PillageMultiplier       int     `json:"pillageMultiplier"`
	UpkeepFraction          float64 `json:"upkeepFraction"`
}

// DefaultSettings returns the standard ruleset.
func DefaultSettings() Settings {
	return Settings{
		MilitaryMinAttack:       0,
		MilitaryMaxAttack:       10,
		MilitaryMinDeltaPerTurn: -5,
		MilitaryMaxDeltaPerTurn: 5,
		EraStartMoney:           100,
		EraStartMilitary:        20,
		EraMinDeadPercentage:    0.5,
		PillageMultiplier:       2,
		UpkeepFraction:          0.05,
	}
}

// Presets returns the named built-in rulesets. Additional presets can be
// supplied via the server config file.
func Presets() map[string]Settings {
	blitz := DefaultSettings()
	blitz.EraStartMoney = 40
	blitz.EraStartMilitary = 10
	blitz.MilitaryMaxAttack = 20
	blitz.EraMinDeadPercentage = 0.25

	marathon := DefaultSettings()
	marathon.EraStartMoney = 250
	marathon.EraStartMilitary = 50
	marathon.EraMinDeadPercentage = 0.75

	return map[string]Settings{
		"default":  DefaultSettings(),
		"blitz":    blitz,
		"marathon": marathon,
	}
}

// Validate checks that the settings describe a playable game.
func (s Settings) Validate() error {
	if s.MilitaryMinAttack > s.MilitaryMaxAttack {
		return fmt.Errorf("attack bounds inverted: min %d > max %d", s.MilitaryMinAttack, s.MilitaryMaxAttack)
	}
	if s.MilitaryMinDeltaPerTurn > s.MilitaryMaxDeltaPerTurn {
		return fmt.Errorf("military delta bounds inverted: min %d > max %d", s.MilitaryMinDeltaPerTurn, s.MilitaryMaxDeltaPerTurn)
	}
	if s.EraStartMoney < 0 || s.EraStartMilitary < 0 {
		return fmt.Errorf("negative era start resources: money %d, military %d", s.EraStartMoney, s.EraStartMilitary)
	}
	if s.EraMinDeadPercentage < 0 || s.EraMinDeadPercentage > 1 {
		return fmt.Errorf("era dead percentage %v outside [0,1]", s.EraMinDeadPercentage)
	}
	if s.PillageMultiplier < 0 {
		return fmt.Errorf("negative pillage multiplier %d", s.PillageMultiplier)
	}
	if s.UpkeepFraction < 0 || s.UpkeepFraction > 1 {
		return fmt.Errorf("upkeep fraction %v outside [0,1]", s.UpkeepFraction)
	}
	return nil
}
