package ilqg

import (
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/linearize"
)

type LineSearchSettings struct {
	Active        bool    `yaml:"active"`
	MaxIterations int     `yaml:"max_iterations"`
	Alpha0        float64 `yaml:"alpha_0"`
	// NFactor shrinks the step: alpha_i = Alpha0 * NFactor^i.
	NFactor float64 `yaml:"n_factor"`
}

// RegularizationSettings controls the damping mu added to the diagonal of
// Q_uu when it is not positive definite.
type RegularizationSettings struct {
	Initial     float64 `yaml:"initial"`
	Min         float64 `yaml:"min"`
	Factor      float64 `yaml:"factor"`
	Max         float64 `yaml:"max"`
	MaxAttempts int     `yaml:"max_attempts"`
}

type Settings struct {
	Dt    float64 `yaml:"dt"`
	DtSim float64 `yaml:"dt_sim"`
	// Integrator is "rk4" or "euler".
	Integrator string `yaml:"integrator"`
	// Discretization is "zoh" or "euler".
	Discretization        string                 `yaml:"discretization"`
	MaxIterations         int                    `yaml:"max_iterations"`
	MinCostImprovement    float64                `yaml:"min_cost_improvement"`
	MinAbsCostImprovement float64                `yaml:"min_abs_cost_improvement"`
	LineSearch            LineSearchSettings     `yaml:"line_search"`
	Regularization        RegularizationSettings `yaml:"regularization"`
	// NThreads bounds the linearization workers; zero uses GOMAXPROCS.
	NThreads int `yaml:"n_threads"`
}

func DefaultSettings() Settings {
	return Settings{
		Dt:                    0.001,
		DtSim:                 0.001,
		Integrator:            "rk4",
		Discretization:        "zoh",
		MaxIterations:         10,
		MinCostImprovement:    1e-6,
		MinAbsCostImprovement: 1e-10,
		LineSearch: LineSearchSettings{
			Active:        true,
			MaxIterations: 10,
			Alpha0:        1.0,
			NFactor:       0.5,
		},
		Regularization: RegularizationSettings{
			Initial:     0,
			Min:         1e-6,
			Factor:      10,
			Max:         1e10,
			MaxAttempts: 20,
		},
	}
}

// K is the number of control steps for a horizon.
func (s Settings) K(horizon float64) int {
	return int(math.Round(horizon / s.Dt))
}

func (s Settings) Validate() error {
	var errs []error
	if s.Dt <= 0 {
		errs = append(errs, fmt.Errorf("dt must be positive, got %g", s.Dt))
	}
	if s.DtSim <= 0 || s.DtSim > s.Dt {
		errs = append(errs, fmt.Errorf("dt_sim must be in (0, dt], got %g", s.DtSim))
	}
	if _, err := integrators.ByName(s.Integrator); err != nil {
		errs = append(errs, err)
	}
	if _, err := linearize.ParseDiscretization(s.Discretization); err != nil {
		errs = append(errs, err)
	}
	if s.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be at least 1, got %d", s.MaxIterations))
	}
	if s.MinCostImprovement < 0 || s.MinAbsCostImprovement < 0 {
		errs = append(errs, errors.New("cost improvement tolerances must be non-negative"))
	}
	if s.LineSearch.Alpha0 <= 0 || s.LineSearch.Alpha0 > 1 {
		errs = append(errs, fmt.Errorf("line_search.alpha_0 must be in (0, 1], got %g", s.LineSearch.Alpha0))
	}
	if s.LineSearch.Active {
		if s.LineSearch.MaxIterations < 1 {
			errs = append(errs, fmt.Errorf("line_search.max_iterations must be at least 1, got %d", s.LineSearch.MaxIterations))
		}
		if s.LineSearch.NFactor <= 0 || s.LineSearch.NFactor >= 1 {
			errs = append(errs, fmt.Errorf("line_search.n_factor must be in (0, 1), got %g", s.LineSearch.NFactor))
		}
	}
	r := s.Regularization
	if r.Initial < 0 || r.Min <= 0 || r.Max < r.Min {
		errs = append(errs, fmt.Errorf("regularization bounds invalid: initial %g, min %g, max %g", r.Initial, r.Min, r.Max))
	}
	if r.Factor <= 1 {
		errs = append(errs, fmt.Errorf("regularization.factor must exceed 1, got %g", r.Factor))
	}
	if r.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("regularization.max_attempts must be at least 1, got %d", r.MaxAttempts))
	}
	if s.NThreads < 0 {
		errs = append(errs, fmt.Errorf("n_threads must be non-negative, got %d", s.NThreads))
	}
	return errors.Join(errs...)
}

// alphas returns the line-search schedule.
func (s Settings) alphas() []float64 {
	if !s.LineSearch.Active {
		return []float64{s.LineSearch.Alpha0}
	}
	out := make([]float64, s.LineSearch.MaxIterations)
	a := s.LineSearch.Alpha0
	for i := range out {
		out[i] = a
		a *= s.LineSearch.NFactor
	}
	return out
}
