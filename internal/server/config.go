package server

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/detentegame/detente/internal/game"
)

// FileConfig is the HCL server configuration: server-level settings plus any
// number of named game-settings presets selectable at game-start time.
//
//	server {
//	  address               = ":8080"
//	  log_level             = "debug"
//	  disconnect_timeout_ms = 2000
//	}
//
//	preset "skirmish" {
//	  military_max_attack = 25
//	  era_start_money     = 60
//	}
type FileConfig struct {
	Server  *ServerSettings `hcl:"server,block"`
	Presets []PresetBlock   `hcl:"preset,block"`
}

// ServerSettings contains server-level configuration.
type ServerSettings struct {
	Address             string `hcl:"address,optional"`
	LogLevel            string `hcl:"log_level,optional"`
	DisconnectTimeoutMs int    `hcl:"disconnect_timeout_ms,optional"`
}

// PresetBlock is one named ruleset. Unset fields fall back to the built-in
// defaults, so a preset only states what it changes.
type PresetBlock struct {
	Name                    string   `hcl:"name,label"`
	MilitaryMinAttack       *int     `hcl:"military_min_attack,optional"`
	MilitaryMaxAttack       *int     `hcl:"military_max_attack,optional"`
	MilitaryMinDeltaPerTurn *int     `hcl:"military_min_delta_per_turn,optional"`
	MilitaryMaxDeltaPerTurn *int     `hcl:"military_max_delta_per_turn,optional"`
	EraStartMoney           *int     `hcl:"era_start_money,optional"`
	EraStartMilitary        *int     `hcl:"era_start_military,optional"`
	EraMinDeadPercentage    *float64 `hcl:"era_min_dead_percentage,optional"`
	PillageMultiplier       *int     `hcl:"pillage_multiplier,optional"`
	UpkeepFraction          *float64 `hcl:"upkeep_fraction,optional"`
}

// Settings materializes the preset over the built-in defaults.
func (p PresetBlock) Settings() game.Settings {
	s := game.DefaultSettings()
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
		}
	}
	setFloat := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	setInt(&s.MilitaryMinAttack, p.MilitaryMinAttack)
	setInt(&s.MilitaryMaxAttack, p.MilitaryMaxAttack)
	setInt(&s.MilitaryMinDeltaPerTurn, p.MilitaryMinDeltaPerTurn)
	setInt(&s.MilitaryMaxDeltaPerTurn, p.MilitaryMaxDeltaPerTurn)
	setInt(&s.EraStartMoney, p.EraStartMoney)
	setInt(&s.EraStartMilitary, p.EraStartMilitary)
	setFloat(&s.EraMinDeadPercentage, p.EraMinDeadPercentage)
	setInt(&s.PillageMultiplier, p.PillageMultiplier)
	setFloat(&s.UpkeepFraction, p.UpkeepFraction)
	return s
}

// DefaultFileConfig returns the configuration used when no file exists.
func DefaultFileConfig() *FileConfig {
	return &FileConfig{
		Server: &ServerSettings{
			Address:  ":8080",
			LogLevel: "info",
		},
	}
}

// LoadFileConfig loads an HCL configuration file. A missing file yields the
// defaults rather than an error.
func LoadFileConfig(filename string) (*FileConfig, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return DefaultFileConfig(), nil
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file: %s", diags.Error())
	}

	var config FileConfig
	if diags := gohcl.DecodeBody(file.Body, nil, &config); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode config: %s", diags.Error())
	}
	if config.Server == nil {
		config.Server = DefaultFileConfig().Server
	}
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}

	for _, preset := range config.Presets {
		if err := preset.Settings().Validate(); err != nil {
			return nil, fmt.Errorf("preset %q: %w", preset.Name, err)
		}
	}
	return &config, nil
}

// GamePresets merges the built-in presets with the file's; file presets win
// on name collisions.
func (fc *FileConfig) GamePresets() map[string]game.Settings {
	presets := game.Presets()
	for _, p := range fc.Presets {
		presets[p.Name] = p.Settings()
	}
	return presets
}
