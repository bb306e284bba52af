package mpc

import (
	"bytes"
	"errors"
	"math/rand"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/integrators"
	"github.com/san-kum/ilqgmpc/internal/optcon"
	"github.com/san-kum/ilqgmpc/internal/physics"
)

var _ = Describe("MPC", func() {
	const (
		dt      = 0.01
		horizon = 3.0
	)
	x0 := dynamo.State{0.8, -0.3}

	var perfect *control.StateFeedback

	BeforeEach(func() {
		perfect = perfectPolicy(x0, horizon, dt)
	})

	newMPC := func(settings Settings, clock Clock, opts ...Option) *MPC {
		opts = append([]Option{WithClock(clock)}, opts...)
		m, err := New(oscillatorProblem(x0, horizon), solverSettings(dt, 5), settings, opts...)
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	Context("warm start", func() {
		It("accepts the optimal policy in at most one iteration", func() {
			m := newMPC(quietSettings(), &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			policy, ts, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(Equal(0.0))
			Expect(m.Solver().Iterations()).To(BeNumerically("<=", 1))
			Expect(policy.Len()).To(Equal(300))
			Expect(policy.Equal(perfect, 1e-6)).To(BeTrue())
			Expect(m.StateTrajectory()[0]).To(Equal(x0))
		})

		It("needs more iterations from a cold start", func() {
			settings := quietSettings()
			settings.ColdStart = true
			m := newMPC(settings, &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Solver().Iterations()).To(BeNumerically(">=", 2))
		})
	})

	Context("post truncation", func() {
		It("shortens the policy by the steps elapsed since the previous one", func() {
			settings := DefaultSettings()
			m := newMPC(settings, &stepClock{step: 20 * time.Millisecond})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			// No latency is known before the first solve; the 20 ms it took
			// are cut from the front.
			first, ts, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Len()).To(Equal(298))
			Expect(ts).To(BeNumerically("~", 0.02, 1e-12))

			traj := m.StateTrajectory()
			second, ts2, err := m.Run(traj[0], 0.05)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts2).To(BeNumerically("~", 0.07, 1e-12))
			elapsedSteps := 5
			Expect(second.Len()).To(Equal(first.Len() - elapsedSteps))

			summary := m.Summary()
			Expect(summary.TruncatedSteps).To(Equal(2))
			Expect(summary.MaxTruncatedSteps).To(Equal(2))
			Expect(summary.SolveMax).To(Equal(20 * time.Millisecond))
		})

		It("fails without exhausting a constant horizon when every step is dropped", func() {
			settings := DefaultSettings()
			settings.Mode = ConstantRecedingHorizon
			m := newMPC(settings, &stepClock{step: 4 * time.Second})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			policy, _, err := m.Run(x0, 0)
			Expect(err).To(HaveOccurred())
			Expect(errors.Is(err, dynamo.ErrHorizonExhausted)).To(BeFalse())
			Expect(policy).To(BeNil())
			Expect(m.TimeHorizonReached()).To(BeFalse())
			Expect(m.CurrentPolicy().Equal(perfect, 0)).To(BeTrue())
			Expect(m.Summary().Failed).To(Equal(1))
			Expect(m.Summary().Exhausted).To(Equal(0))
		})

		It("keeps the full policy when disabled", func() {
			settings := DefaultSettings()
			settings.PostTruncation = false
			m := newMPC(settings, &stepClock{step: 20 * time.Millisecond})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			policy, ts, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(300))
			Expect(ts).To(Equal(0.0))
		})
	})

	Context("fixed final time", func() {
		It("stops once the horizon is consumed without touching the stored policy", func() {
			m := newMPC(quietSettings(), &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 1.0)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.TimeHorizonReached()).To(BeFalse())

			_, _, err = m.Run(x0, 2.5)
			Expect(err).NotTo(HaveOccurred())
			stored := m.CurrentPolicy()
			storedTraj := m.StateTrajectory()
			Expect(stored.Len()).To(Equal(150))

			for _, t := range []float64{4.0, 4.5, 3.9} {
				policy, ts, err := m.Run(x0, t)
				Expect(errors.Is(err, dynamo.ErrHorizonExhausted)).To(BeTrue())
				Expect(policy).To(BeNil())
				Expect(ts).To(Equal(0.0))
				Expect(m.TimeHorizonReached()).To(BeTrue())
			}
			Expect(m.CurrentPolicy().Equal(stored, 0)).To(BeTrue())
			Expect(m.StateTrajectory()).To(Equal(storedTraj))
			Expect(m.Summary().Exhausted).To(Equal(3))
		})

		It("rejects a timestamp earlier than the previous one", func() {
			m := newMPC(quietSettings(), &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 1.0)
			Expect(err).NotTo(HaveOccurred())
			stored := m.CurrentPolicy()

			policy, _, err := m.Run(x0, 0.0)
			Expect(errors.Is(err, ErrTimeReversed)).To(BeTrue())
			Expect(policy).To(BeNil())
			Expect(m.CurrentPolicy().Equal(stored, 0)).To(BeTrue())
			Expect(m.TimeHorizonReached()).To(BeFalse())

			policy, _, err = m.Run(x0, 1.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(250))
			Expect(m.Summary().Failed).To(Equal(1))
		})

		It("keeps running at the minimum horizon", func() {
			settings := quietSettings()
			settings.Mode = FixedFinalTimeWithMinHorizon
			settings.MinTimeHorizon = 0.5
			m := newMPC(settings, &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 1.0)
			Expect(err).NotTo(HaveOccurred())
			policy, _, err := m.Run(x0, 3.5)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(50))
			Expect(m.TimeHorizonReached()).To(BeTrue())
		})
	})

	Context("receding horizons", func() {
		It("keeps a constant horizon", func() {
			settings := quietSettings()
			settings.Mode = ConstantRecedingHorizon
			m := newMPC(settings, &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			for _, t := range []float64{0, 1, 5} {
				policy, _, err := m.Run(x0, t)
				Expect(err).NotTo(HaveOccurred())
				Expect(policy.Len()).To(Equal(300))
			}
			Expect(m.TimeHorizonReached()).To(BeFalse())
		})

		It("moves the problem's time origin to the policy start", func() {
			spy := newTimeSpy()
			p, err := optcon.New(spy, oscillatorCost(), optcon.WithInitialState(x0), optcon.WithTimeHorizon(1.0))
			Expect(err).NotTo(HaveOccurred())
			settings := quietSettings()
			settings.Mode = ConstantRecedingHorizon
			m, err := New(p, solverSettings(dt, 5), settings, WithClock(&stepClock{}))
			Expect(err).NotTo(HaveOccurred())

			_, _, err = m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			earliest, latest := spy.span()
			Expect(earliest).To(BeNumerically("~", 0, 1e-9))
			Expect(latest).To(BeNumerically("~", 1.0, 1e-9))

			spy.clear()
			policy, ts, err := m.Run(x0, 5.0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(Equal(5.0))
			Expect(policy.Len()).To(Equal(100))
			earliest, latest = spy.span()
			Expect(earliest).To(BeNumerically("~", 5.0, 1e-9))
			Expect(latest).To(BeNumerically("~", 6.0, 1e-9))
			Expect(m.Solver().TimeArray()[0]).To(BeNumerically("~", 5.0, 1e-9))
		})

		It("shrinks toward the final time", func() {
			settings := quietSettings()
			settings.Mode = RecedingHorizonWithFixedFinalTime
			settings.FinalTime = 4.0
			m := newMPC(settings, &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			policy, _, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(300))

			policy, _, err = m.Run(x0, 2.0)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(200))

			_, _, err = m.Run(x0, 4.0)
			Expect(errors.Is(err, dynamo.ErrHorizonExhausted)).To(BeTrue())
			Expect(m.TimeHorizonReached()).To(BeTrue())
		})
	})

	Context("state forward integration", func() {
		It("solves from the state predicted at the end of the delay", func() {
			settings := quietSettings()
			settings.FixedDelayUs = 100000
			m := newMPC(settings, &stepClock{})

			policy, ts, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ts).To(BeNumerically("~", 0.1, 1e-12))
			Expect(policy.Len()).To(Equal(290))

			sys := physics.NewSecondOrderSystem(0.1, 5.0)
			rk4 := integrators.NewRK4()
			want := x0.Clone()
			for i := 0; i < 10; i++ {
				want, err = integrators.Integrate(rk4, sys, want, dynamo.Control{0}, float64(i)*dt, dt, dt)
				Expect(err).NotTo(HaveOccurred())
			}
			got := m.StateTrajectory()[0]
			Expect(got[0]).To(BeNumerically("~", want[0], 1e-12))
			Expect(got[1]).To(BeNumerically("~", want[1], 1e-12))
		})

		It("uses the measured state when disabled", func() {
			settings := quietSettings()
			settings.FixedDelayUs = 100000
			settings.StateForwardIntegration = false
			m := newMPC(settings, &stepClock{})

			_, _, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.StateTrajectory()[0]).To(Equal(x0))
		})
	})

	Context("closed loop with measurement noise", func() {
		It("terminates through the time horizon without diverging", func() {
			settings := DefaultSettings()
			m := newMPC(settings, &stepClock{step: 2 * time.Millisecond})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			rng := rand.New(rand.NewSource(7))
			x := x0.Clone()
			t := 0.0
			cycles := 0
			for ; cycles < 2000; cycles++ {
				if cycles > 0 {
					front := m.StateTrajectory()[0]
					x = dynamo.State{front[0] + 0.1*rng.NormFloat64(), front[1] + 0.1*rng.NormFloat64()}
				}
				_, _, err := m.Run(x, t)
				if m.TimeHorizonReached() || err != nil {
					break
				}
				Expect(m.StateTrajectory()[0].Norm()).To(BeNumerically("<", 5))
				t += dt
			}

			Expect(m.TimeHorizonReached()).To(BeTrue())
			Expect(cycles).To(BeNumerically("<", 2000))
			summary := m.Summary()
			Expect(summary.Failed).To(Equal(0))
			Expect(summary.Successful).To(BeNumerically(">", 100))
		})
	})

	Context("metrics and summary", func() {
		It("exports cycle outcomes to the registerer", func() {
			reg := prometheus.NewRegistry()
			m := newMPC(quietSettings(), &stepClock{}, WithRegisterer(reg))
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			_, _, err = m.Run(x0, 10)
			Expect(err).To(HaveOccurred())
			_, _, err = m.Run(dynamo.State{1}, 10)
			Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())

			Expect(testutil.ToFloat64(m.metrics.cycles.WithLabelValues(outcomeSuccess))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.metrics.cycles.WithLabelValues(outcomeExhausted))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.metrics.cycles.WithLabelValues(outcomeFailure))).To(Equal(1.0))
			Expect(testutil.ToFloat64(m.metrics.horizon)).To(Equal(horizon))

			count, err := testutil.GatherAndCount(reg, "ilqgmpc_mpc_cycles_total")
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(3))
			Expect(testutil.CollectAndCount(m.metrics.solveDuration)).To(Equal(1))

			summary := m.Summary()
			Expect(summary.Cycles).To(Equal(3))
			Expect(summary.Successful).To(Equal(1))
			Expect(summary.Failed).To(Equal(1))
			Expect(summary.Exhausted).To(Equal(1))

			var buf bytes.Buffer
			Expect(m.PrintSummary(&buf)).To(Succeed())
			Expect(buf.String()).To(ContainSubstring("MPC SUMMARY"))
			Expect(buf.String()).To(ContainSubstring("horizon exhausted"))
		})
	})

	Context("reset", func() {
		It("returns to the state before the first run", func() {
			m := newMPC(quietSettings(), &stepClock{})
			Expect(m.SetInitialGuess(perfect)).To(Succeed())

			_, _, err := m.Run(x0, 0)
			Expect(err).NotTo(HaveOccurred())
			_, _, err = m.Run(x0, 3.5)
			Expect(err).To(HaveOccurred())
			Expect(m.TimeHorizonReached()).To(BeTrue())

			Expect(m.Reset()).To(Succeed())
			Expect(m.TimeHorizonReached()).To(BeFalse())
			Expect(m.Summary()).To(Equal(Summary{}))
			Expect(m.StateTrajectory()).To(BeEmpty())
			Expect(m.CurrentPolicy().Equal(perfect, 0)).To(BeTrue())

			// The clock restarts at the next measurement.
			policy, _, err := m.Run(x0, 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(300))
		})
	})

	Context("construction", func() {
		It("rejects invalid settings", func() {
			settings := DefaultSettings()
			settings.Mode = FixedFinalTimeWithMinHorizon
			_, err := New(oscillatorProblem(x0, horizon), solverSettings(dt, 5), settings)
			Expect(err).To(HaveOccurred())
		})

		It("rejects a nil initial guess", func() {
			m := newMPC(quietSettings(), &stepClock{})
			err := m.SetInitialGuess(nil)
			Expect(errors.Is(err, dynamo.ErrNotConfigured)).To(BeTrue())
		})

		It("rejects a guess with a different dt", func() {
			m := newMPC(quietSettings(), &stepClock{})
			err := m.SetInitialGuess(control.Zero(3000, 2, 1, 0.001))
			Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
		})
	})
})
