// Package config loads experiment configurations: the plant, the cost file,
// the offline and MPC solver settings and the closed-loop driver.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/ilqg"
	"github.com/san-kum/ilqgmpc/internal/mpc"
)

const (
	DefaultModel       = "oscillator"
	DefaultTimeHorizon = 3.0
	DefaultCostFile    = "configs/mpcCost.yaml"
	DefaultMaxCycles   = 2000
	DefaultNoise       = 0.1
	DefaultMPCIter     = 5
)

const (
	NoiseUniform  = "uniform"
	NoiseGaussian = "gaussian"
)

type Config struct {
	Model       string             `yaml:"model"`
	Params      map[string]float64 `yaml:"params,omitempty"`
	TimeHorizon float64            `yaml:"time_horizon"`
	// InitState is the initial state; empty draws one uniformly from
	// [-1, 1] per component using Seed.
	InitState []float64     `yaml:"init_state,omitempty"`
	Seed      int64         `yaml:"seed"`
	Cost      CostConfig    `yaml:"cost"`
	ILQG      ilqg.Settings `yaml:"ilqg"`
	ILQGMPC   ilqg.Settings `yaml:"ilqg_mpc"`
	MPC       mpc.Settings  `yaml:"mpc"`
	Loop      LoopConfig    `yaml:"loop"`

	dir string
}

type CostConfig struct {
	File         string `yaml:"file"`
	Intermediate string `yaml:"intermediate"`
	Final        string `yaml:"final"`
}

type LoopConfig struct {
	MaxCycles int `yaml:"max_cycles"`
	// Noise scales the measurement noise added to the predicted state.
	Noise     float64 `yaml:"noise"`
	NoiseKind string  `yaml:"noise_kind"`
	// SimTime advances the MPC clock by CycleDt per cycle instead of
	// reading the wall clock.
	SimTime bool    `yaml:"sim_time"`
	CycleDt float64 `yaml:"cycle_dt"`
}

func DefaultConfig() *Config {
	mpcSolver := ilqg.DefaultSettings()
	mpcSolver.MaxIterations = DefaultMPCIter

	return &Config{
		Model:       DefaultModel,
		TimeHorizon: DefaultTimeHorizon,
		Seed:        1,
		Cost: CostConfig{
			File:         DefaultCostFile,
			Intermediate: cost.DefaultIntermediateSection,
			Final:        cost.DefaultFinalSection,
		},
		ILQG:    ilqg.DefaultSettings(),
		ILQGMPC: mpcSolver,
		MPC:     mpc.DefaultSettings(),
		Loop: LoopConfig{
			MaxCycles: DefaultMaxCycles,
			Noise:     DefaultNoise,
			NoiseKind: NoiseUniform,
		},
	}
}

// Load reads a YAML experiment file over the defaults. A relative cost file
// is resolved against the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// CostPath is the cost file to load.
func (c *Config) CostPath() string {
	if c.dir == "" || filepath.IsAbs(c.Cost.File) {
		return c.Cost.File
	}
	if _, err := os.Stat(c.Cost.File); err == nil {
		return c.Cost.File
	}
	return filepath.Join(c.dir, c.Cost.File)
}

func (c *Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("model is required"))
	}
	if c.TimeHorizon <= 0 {
		errs = append(errs, fmt.Errorf("time_horizon must be positive, got %g", c.TimeHorizon))
	}
	if c.Cost.File == "" {
		errs = append(errs, errors.New("cost.file is required"))
	}
	if err := c.ILQG.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ilqg: %w", err))
	}
	if err := c.ILQGMPC.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("ilqg_mpc: %w", err))
	}
	if c.ILQG.Dt != c.ILQGMPC.Dt {
		errs = append(errs, fmt.Errorf("ilqg.dt %g and ilqg_mpc.dt %g must match", c.ILQG.Dt, c.ILQGMPC.Dt))
	}
	if err := c.MPC.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mpc: %w", err))
	}
	if c.Loop.MaxCycles < 1 {
		errs = append(errs, fmt.Errorf("loop.max_cycles must be at least 1, got %d", c.Loop.MaxCycles))
	}
	if c.Loop.Noise < 0 {
		errs = append(errs, fmt.Errorf("loop.noise must be non-negative, got %g", c.Loop.Noise))
	}
	if c.Loop.NoiseKind != NoiseUniform && c.Loop.NoiseKind != NoiseGaussian {
		errs = append(errs, fmt.Errorf("unknown loop.noise_kind: %s", c.Loop.NoiseKind))
	}
	if c.Loop.SimTime && c.Loop.CycleDt <= 0 {
		errs = append(errs, errors.New("loop.cycle_dt must be positive with sim_time"))
	}
	return errors.Join(errs...)
}
