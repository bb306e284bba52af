package mpc

import (
	"errors"
	"fmt"

	"github.com/san-kum/ilqgmpc/internal/integrators"
)

// Mode selects how the horizon evolves between cycles.
type Mode int

const (
	// FixedFinalTime shrinks the horizon toward the original final time and
	// stops once less than one step remains.
	FixedFinalTime Mode = iota
	// FixedFinalTimeWithMinHorizon shrinks like FixedFinalTime but never
	// below MinTimeHorizon.
	FixedFinalTimeWithMinHorizon
	// ConstantRecedingHorizon keeps the original horizon forever.
	ConstantRecedingHorizon
	// RecedingHorizonWithFixedFinalTime keeps the original horizon until it
	// would pass FinalTime, then shrinks toward it.
	RecedingHorizonWithFixedFinalTime
)

var modeNames = map[Mode]string{
	FixedFinalTime:                    "fixed_final_time",
	FixedFinalTimeWithMinHorizon:      "fixed_final_time_with_min_horizon",
	ConstantRecedingHorizon:           "constant_receding_horizon",
	RecedingHorizonWithFixedFinalTime: "receding_horizon_with_fixed_final_time",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

func ParseMode(name string) (Mode, error) {
	for mode, n := range modeNames {
		if n == name {
			return mode, nil
		}
	}
	return FixedFinalTime, fmt.Errorf("unknown mpc mode: %s", name)
}

func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown mpc mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	mode, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

// shrinks reports whether the mode ends once its final time is consumed.
func (m Mode) shrinks() bool {
	return m == FixedFinalTime || m == RecedingHorizonWithFixedFinalTime
}

type Settings struct {
	// StateForwardIntegration predicts the state at the time the new policy
	// takes effect.
	StateForwardIntegration bool `yaml:"state_forward_integration"`
	// StateForwardIntegrator is "rk4" or "euler".
	StateForwardIntegrator string `yaml:"state_forward_integrator"`
	// StateForwardIntegrationDt is the prediction step; zero uses the
	// solver dt.
	StateForwardIntegrationDt float64 `yaml:"state_forward_integration_dt"`
	// PostTruncation drops policy steps that elapsed while solving.
	PostTruncation bool `yaml:"post_truncation"`
	// MeasureDelay uses the measured solve time instead of FixedDelayUs.
	MeasureDelay               bool    `yaml:"measure_delay"`
	DelayMeasurementMultiplier float64 `yaml:"delay_measurement_multiplier"`
	FixedDelayUs               int64   `yaml:"fixed_delay_us"`
	AdditionalDelayUs          int64   `yaml:"additional_delay_us"`
	Mode                       Mode    `yaml:"mode"`
	// ColdStart solves every cycle from a zero policy.
	ColdStart      bool    `yaml:"cold_start"`
	MinTimeHorizon float64 `yaml:"min_time_horizon"`
	// FinalTime bounds RecedingHorizonWithFixedFinalTime; zero uses the
	// initial horizon.
	FinalTime float64 `yaml:"final_time"`
}

func DefaultSettings() Settings {
	return Settings{
		StateForwardIntegration:    true,
		StateForwardIntegrator:     "rk4",
		PostTruncation:             true,
		MeasureDelay:               true,
		DelayMeasurementMultiplier: 1.0,
		Mode:                       FixedFinalTime,
	}
}

func (s Settings) Validate() error {
	var errs []error
	if _, err := integrators.ByName(s.StateForwardIntegrator); err != nil {
		errs = append(errs, err)
	}
	if s.StateForwardIntegrationDt < 0 {
		errs = append(errs, fmt.Errorf("state_forward_integration_dt must be non-negative, got %g", s.StateForwardIntegrationDt))
	}
	if s.DelayMeasurementMultiplier < 0 {
		errs = append(errs, fmt.Errorf("delay_measurement_multiplier must be non-negative, got %g", s.DelayMeasurementMultiplier))
	}
	if s.FixedDelayUs < 0 || s.AdditionalDelayUs < 0 {
		errs = append(errs, errors.New("delays must be non-negative"))
	}
	if _, ok := modeNames[s.Mode]; !ok {
		errs = append(errs, fmt.Errorf("unknown mpc mode %d", int(s.Mode)))
	}
	if s.Mode == FixedFinalTimeWithMinHorizon && s.MinTimeHorizon <= 0 {
		errs = append(errs, fmt.Errorf("min_time_horizon must be positive for %s", s.Mode))
	}
	if s.FinalTime < 0 {
		errs = append(errs, fmt.Errorf("final_time must be non-negative, got %g", s.FinalTime))
	}
	return errors.Join(errs...)
}
