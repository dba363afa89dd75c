package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is one strategy entry in the YAML strategies file.
type Config struct {
	ID      string `yaml:"id"`
	Type    string `yaml:"type"` // momentum, range or futures
	Pair    string `yaml:"pair"`
	Enabled bool   `yaml:"enabled"`

	Size         float64 `yaml:"size"`
	ProfitTarget float64 `yaml:"profit_target"`
	StopLoss     float64 `yaml:"stop_loss"`
	Leverage     int     `yaml:"leverage"`
	LiqMargin    float64 `yaml:"liq_margin"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategy entries from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse strategies file %s: %w", path, err)
	}
	return file.Strategies, nil
}

// Build instantiates a strategy from a config entry.
func Build(cfg Config) (Strategy, error) {
	if cfg.ID == "" || cfg.Pair == "" {
		return nil, fmt.Errorf("strategy entry needs id and pair (got id=%q pair=%q)", cfg.ID, cfg.Pair)
	}
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("strategy %s: size must be positive", cfg.ID)
	}
	if cfg.ProfitTarget <= 0 || cfg.StopLoss <= 0 {
		return nil, fmt.Errorf("strategy %s: profit_target and stop_loss must be positive", cfg.ID)
	}

	switch cfg.Type {
	case "momentum":
		return NewMomentumScalp(cfg.ID, cfg.Pair, cfg.Size, cfg.ProfitTarget, cfg.StopLoss), nil
	case "range":
		return NewRangeScalp(cfg.ID, cfg.Pair, cfg.Size, cfg.ProfitTarget, cfg.StopLoss), nil
	case "futures":
		if cfg.Leverage < 1 {
			return nil, fmt.Errorf("strategy %s: futures leverage must be at least 1", cfg.ID)
		}
		return NewFuturesScalp(cfg.ID, cfg.Pair, cfg.Size, cfg.ProfitTarget, cfg.StopLoss, cfg.Leverage, cfg.LiqMargin), nil
	default:
		return nil, fmt.Errorf("unknown strategy type %q", cfg.Type)
	}
}
