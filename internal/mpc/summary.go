package mpc

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Summary aggregates statistics over all Run calls since the last Reset.
type Summary struct {
	Cycles     int
	Successful int
	Failed     int
	// Exhausted counts cycles rejected because the horizon was consumed.
	Exhausted int

	SolveMin   time.Duration
	SolveMax   time.Duration
	SolveTotal time.Duration
	Solves     int

	Iterations        int
	TruncatedSteps    int
	MaxTruncatedSteps int
	MaxExpectedDelay  time.Duration
}

func (s Summary) MeanSolve() time.Duration {
	if s.Solves == 0 {
		return 0
	}
	return s.SolveTotal / time.Duration(s.Solves)
}

func (s *Summary) recordSolve(d time.Duration, iterations int) {
	if s.Solves == 0 || d < s.SolveMin {
		s.SolveMin = d
	}
	if d > s.SolveMax {
		s.SolveMax = d
	}
	s.SolveTotal += d
	s.Solves++
	s.Iterations += iterations
}

func (s *Summary) recordTruncation(steps int) {
	s.TruncatedSteps += steps
	if steps > s.MaxTruncatedSteps {
		s.MaxTruncatedSteps = steps
	}
}

func (s *Summary) recordDelay(seconds float64) {
	if d := time.Duration(seconds * float64(time.Second)); d > s.MaxExpectedDelay {
		s.MaxExpectedDelay = d
	}
}

func (s Summary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MPC SUMMARY")
	fmt.Fprintf(tw, "cycles\t%d\n", s.Cycles)
	fmt.Fprintf(tw, "successful\t%d\n", s.Successful)
	fmt.Fprintf(tw, "failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "horizon exhausted\t%d\n", s.Exhausted)
	fmt.Fprintf(tw, "solve time min/mean/max\t%v / %v / %v\n", s.SolveMin, s.MeanSolve(), s.SolveMax)
	fmt.Fprintf(tw, "solver iterations\t%d\n", s.Iterations)
	fmt.Fprintf(tw, "truncated steps total/max\t%d / %d\n", s.TruncatedSteps, s.MaxTruncatedSteps)
	fmt.Fprintf(tw, "max expected delay\t%v\n", s.MaxExpectedDelay)
	return tw.Flush()
}

// collectors mirrors the summary as Prometheus metrics. With a nil
// registerer they are created but never registered.
type collectors struct {
	solveDuration prometheus.Histogram
	cycles        *prometheus.CounterVec
	truncated     prometheus.Counter
	horizon       prometheus.Gauge
}

const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeExhausted = "exhausted"
)

func newCollectors(reg prometheus.Registerer) *collectors {
	factory := promauto.With(reg)
	return &collectors{
		solveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ilqgmpc_mpc_solve_duration_seconds",
			Help:    "Wall time of one iLQG solve inside an MPC cycle",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilqgmpc_mpc_cycles_total",
			Help: "MPC cycles by outcome",
		}, []string{"outcome"}),
		truncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "ilqgmpc_mpc_truncated_steps_total",
			Help: "Policy steps dropped by post-truncation",
		}),
		horizon: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ilqgmpc_mpc_time_horizon_seconds",
			Help: "Time horizon of the most recent solve",
		}),
	}
}
