package quoting

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StrategyConfig is one strategy entry in the YAML file.
type StrategyConfig struct {
	ID         string                 `yaml:"id"`
	Name       string                 `yaml:"name"`
	Type       string                 `yaml:"type"`
	Symbol     string                 `yaml:"symbol"`
	Parameters map[string]interface{} `yaml:"parameters"`
	IsActive   bool                   `yaml:"is_active"`
}

// ConfigFile is the top-level YAML structure.
type ConfigFile struct {
	Strategies []StrategyConfig `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]StrategyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return file.Strategies, nil
}

// Build returns the first active strategy for symbol. Entries without a
// symbol apply to any symbol. Parameters missing from the entry keep the
// values in defaults.
func Build(configs []StrategyConfig, symbol string, defaults SpreadStrategy) (Strategy, error) {
	for _, c := range configs {
		if !c.IsActive {
			continue
		}
		if c.Symbol != "" && !strings.EqualFold(c.Symbol, symbol) {
			continue
		}
		switch strings.ToLower(c.Type) {
		case "", "spread":
			s := defaults
			var err error
			if s.SpreadPct, err = floatParam(c.Parameters, "spread_pct", s.SpreadPct); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", c.ID, err)
			}
			if s.Qty, err = floatParam(c.Parameters, "quantity", s.Qty); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", c.ID, err)
			}
			if s.MaxPosition, err = floatParam(c.Parameters, "max_position", s.MaxPosition); err != nil {
				return nil, fmt.Errorf("strategy %s: %w", c.ID, err)
			}
			if s.SpreadPct < 0 || s.SpreadPct >= 1 {
				return nil, fmt.Errorf("strategy %s: spread_pct %v out of range", c.ID, s.SpreadPct)
			}
			return &s, nil
		default:
			return nil, fmt.Errorf("strategy %s: unknown type %q", c.ID, c.Type)
		}
	}
	d := defaults
	return &d, nil
}

func floatParam(params map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("parameter %s: expected number, got %T", key, v)
	}
}
