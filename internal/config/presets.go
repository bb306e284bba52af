package config

import (
	"sort"

	"github.com/san-kum/ilqgmpc/internal/mpc"
)

// Presets modify the default configuration, keyed by model then name.
var Presets = map[string]map[string]func(c *Config){
	"oscillator": {
		"example": func(c *Config) {},
		"cold": func(c *Config) {
			c.MPC.ColdStart = true
		},
		"receding": func(c *Config) {
			c.MPC.Mode = mpc.ConstantRecedingHorizon
			c.Loop.MaxCycles = 500
		},
		"min_horizon": func(c *Config) {
			c.MPC.Mode = mpc.FixedFinalTimeWithMinHorizon
			c.MPC.MinTimeHorizon = 0.5
			c.Loop.MaxCycles = 500
		},
		"sim_time": func(c *Config) {
			c.Loop.SimTime = true
			c.Loop.CycleDt = 0.01
		},
	},
	"pendulum": {
		"swing": func(c *Config) {
			c.Model = "pendulum"
			c.TimeHorizon = 2.0
			c.InitState = []float64{1.0, 0.0}
			c.Cost.File = "configs/pendulumCost.yaml"
			for _, s := range []*float64{&c.ILQG.Dt, &c.ILQG.DtSim, &c.ILQGMPC.Dt, &c.ILQGMPC.DtSim} {
				*s = 0.01
			}
			c.ILQG.MaxIterations = 50
			c.Loop.Noise = 0.02
		},
	},
	"cartpole": {
		"balance": func(c *Config) {
			c.Model = "cartpole"
			c.TimeHorizon = 2.0
			c.InitState = []float64{0.0, 0.0, 0.2, 0.0}
			c.Cost.File = "configs/cartpoleCost.yaml"
			for _, s := range []*float64{&c.ILQG.Dt, &c.ILQG.DtSim, &c.ILQGMPC.Dt, &c.ILQGMPC.DtSim} {
				*s = 0.01
			}
			c.ILQG.MaxIterations = 50
			c.MPC.Mode = mpc.ConstantRecedingHorizon
			c.Loop.MaxCycles = 300
			c.Loop.Noise = 0.01
		},
	},
}

// GetPreset returns a fresh configuration for the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	apply, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Model = model
	apply(cfg)
	return cfg
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(modelPresets))
	for name := range modelPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func ListModels() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
