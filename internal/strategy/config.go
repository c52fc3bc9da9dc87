package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"equity-core/internal/model"

	"gopkg.in/yaml.v3"
)

// Config represents a strategy configuration entry in YAML.
type Config struct {
	ID         string         `yaml:"id"`
	Type       string         `yaml:"type"`
	Symbols    []string       `yaml:"symbols"`
	Parameters map[string]any `yaml:"parameters"`
	IsActive   bool           `yaml:"is_active"`
}

// ConfigFile represents the top-level YAML structure.
type ConfigFile struct {
	Strategies []Config `yaml:"strategies"`
}

// LoadConfig reads strategies from a YAML file.
func LoadConfig(path string) ([]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file ConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := validateConfigs(file.Strategies); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file.Strategies, nil
}

func validateConfigs(cfgs []Config) error {
	seen := make(map[string]bool, len(cfgs))
	for i, c := range cfgs {
		if c.ID == "" {
			return fmt.Errorf("strategy #%d: id is required", i)
		}
		if seen[c.ID] {
			return fmt.Errorf("strategy %s: duplicate id", c.ID)
		}
		seen[c.ID] = true
		if c.Type == "" {
			return fmt.Errorf("strategy %s: type is required", c.ID)
		}
		if len(c.Symbols) == 0 {
			return fmt.Errorf("strategy %s: no symbols", c.ID)
		}
	}
	return nil
}

// InstanceStore persists the configured strategies.
type InstanceStore interface {
	SyncStrategyInstances(ctx context.Context, instances []model.StrategyInstance) error
}

// SyncConfig mirrors configs into the strategy_instances table.
func SyncConfig(ctx context.Context, store InstanceStore, cfgs []Config) error {
	instances := make([]model.StrategyInstance, 0, len(cfgs))
	for _, c := range cfgs {
		params, err := json.Marshal(c.Parameters)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters for strategy %s: %w", c.ID, err)
		}
		instances = append(instances, model.StrategyInstance{
			ID:         c.ID,
			Type:       c.Type,
			Symbols:    c.Symbols,
			Parameters: string(params),
			IsActive:   c.IsActive,
		})
	}
	return store.SyncStrategyInstances(ctx, instances)
}

// decodeParams converts the loosely typed YAML parameters into out.
func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

var ErrUnknownType = errors.New("unknown strategy type")

// Deps are the shared services strategies may need.
type Deps struct {
	Charts ChartSource
}

// Build constructs one strategy from its config.
func Build(cfg Config, deps Deps) (Strategy, error) {
	switch cfg.Type {
	case "envelope":
		var p EnvelopeParams
		if err := decodeParams(cfg.Parameters, &p); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.ID, err)
		}
		if deps.Charts == nil {
			return nil, fmt.Errorf("strategy %s: envelope needs a chart source", cfg.ID)
		}
		return NewEnvelope(cfg.ID, cfg.Symbols, p, deps.Charts), nil
	case "threshold":
		var p ThresholdParams
		if err := decodeParams(cfg.Parameters, &p); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", cfg.ID, err)
		}
		return NewThreshold(cfg.ID, cfg.Symbols, p)
	default:
		return nil, fmt.Errorf("strategy %s: %w %q", cfg.ID, ErrUnknownType, cfg.Type)
	}
}

// BuildAll constructs every active strategy.
func BuildAll(cfgs []Config, deps Deps) ([]Strategy, error) {
	var out []Strategy
	for _, c := range cfgs {
		if !c.IsActive {
			continue
		}
		s, err := Build(c, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
