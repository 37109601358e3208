package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftworks/pimnet/pim"
)

// Config is the pimnet configuration file.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Training TrainingConfig `yaml:"training"`
	Loss     LossConfig     `yaml:"loss"`
	Log      LogConfig      `yaml:"log"`
}

type ModelConfig struct {
	Name          string         `yaml:"name"`
	InputChannels int            `yaml:"input_channels"`
	FPNSize       int            `yaml:"fpn_size"`
	NumClasses    int            `yaml:"num_classes"`
	DropRate      float64        `yaml:"drop_rate"`
	Scales        []ScaleConfig  `yaml:"scales"`
	NumSelects    map[string]int `yaml:"num_selects"`
}

type ScaleConfig struct {
	Name     string `yaml:"name"`
	Tokens   int    `yaml:"tokens"`
	Channels int    `yaml:"channels"`
}

type TrainingConfig struct {
	Epochs      int     `yaml:"epochs"`
	BatchSize   int     `yaml:"batch_size"`
	BaseLR      float64 `yaml:"base_lr"`
	WeightDecay float64 `yaml:"weight_decay"`
	WarmupPct   float64 `yaml:"warmup_pct"`
	Seed        int64   `yaml:"seed"`
}

type LossConfig struct {
	ScaleWeight    *float64 `yaml:"scale_weight"`
	CombinedWeight *float64 `yaml:"combined_weight"`
	DropWeight     *float64 `yaml:"drop_weight"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the baseline settings a config file overrides.
func DefaultConfig() Config {
	return Config{
		Model: ModelConfig{
			Name:          "pimnet",
			InputChannels: 3,
			FPNSize:       32,
			DropRate:      0.1,
		},
		Training: TrainingConfig{
			Epochs:      10,
			BatchSize:   8,
			BaseLR:      5e-4,
			WeightDecay: 5e-4,
			WarmupPct:   0.3,
			Seed:        1,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the settings a model cannot be built without.
func (c Config) Validate() error {
	if len(c.Model.Scales) == 0 {
		return fmt.Errorf("config: model.scales must list at least one scale")
	}
	for _, s := range c.Model.Scales {
		if s.Name == "" || s.Tokens <= 0 || s.Channels <= 0 {
			return fmt.Errorf("config: invalid scale %+v", s)
		}
	}
	if c.Model.NumClasses <= 1 {
		return fmt.Errorf("config: model.num_classes must be at least 2")
	}
	if len(c.Model.NumSelects) == 0 {
		return fmt.Errorf("config: model.num_selects must be set")
	}
	if c.Training.Epochs <= 0 {
		return fmt.Errorf("config: training.epochs must be positive")
	}
	if c.Training.BatchSize <= 0 {
		return fmt.Errorf("config: training.batch_size must be positive")
	}
	if c.Training.BaseLR <= 0 {
		return fmt.Errorf("config: training.base_lr must be positive")
	}
	return nil
}

// ScaleShapes converts the config scales into pipeline scale shapes.
func (c Config) ScaleShapes() []pim.ScaleShape {
	shapes := make([]pim.ScaleShape, len(c.Model.Scales))
	for i, s := range c.Model.Scales {
		shapes[i] = pim.ScaleShape{Name: s.Name, Tokens: s.Tokens, Channels: s.Channels}
	}
	return shapes
}

// LossWeights resolves the configured loss weighting over the defaults.
func (c Config) LossWeights() pim.LossWeights {
	w := pim.DefaultLossWeights()
	if c.Loss.ScaleWeight != nil {
		w.Scale = *c.Loss.ScaleWeight
	}
	if c.Loss.CombinedWeight != nil {
		w.Combined = *c.Loss.CombinedWeight
	}
	if c.Loss.DropWeight != nil {
		w.Drop = *c.Loss.DropWeight
	}
	return w
}
