package ilqg

import (
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/ilqgmpc/internal/control"
	"github.com/san-kum/ilqgmpc/internal/cost"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/physics"
)

var _ = Describe("Solver", func() {
	Context("damped oscillator over 3 s at 1 ms", func() {
		var s *Solver

		BeforeEach(func() {
			sys := physics.NewSecondOrderSystem(0.1, 5.0)
			p := newProblem(sys, regulatorCost(), dynamo.State{1.0, -0.5}, 3.0)
			s = newSolver(p, settingsWithDt(0.001))
		})

		It("converges to a trajectory ending near the origin", func() {
			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.Status()).To(Equal(Converged))
			Expect(s.Iterations()).To(BeNumerically("<=", s.Settings().MaxIterations))

			xs := s.StateTrajectory()
			Expect(xs).To(HaveLen(3001))
			Expect(xs[0]).To(Equal(dynamo.State{1.0, -0.5}))
			Expect(xs[len(xs)-1].Norm()).To(BeNumerically("<", 0.05))
		})

		It("produces a policy of round(T/dt) steps", func() {
			_, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())

			policy, err := s.Solution()
			Expect(err).NotTo(HaveOccurred())
			Expect(policy.Len()).To(Equal(3000))
			Expect(policy.K).To(HaveLen(3000))
			Expect(policy.Xref).To(HaveLen(3000))
			Expect(s.ControlTrajectory()).To(HaveLen(3000))
			Expect(s.TimeArray()[3000]).To(BeNumerically("~", 3.0, 1e-9))
		})

		It("resolves from its own solution in at most one iteration", func() {
			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			first := s.Cost()

			policy, err := s.Solution()
			Expect(err).NotTo(HaveOccurred())
			Expect(s.SetInitialGuess(policy)).To(Succeed())

			ok, err = s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.Iterations()).To(BeNumerically("<=", 1))
			Expect(s.Cost()).To(BeNumerically("~", first, 1e-9*math.Abs(first)+1e-12))
		})
	})

	Context("nonlinear pendulum", func() {
		It("never accepts a cost increase", func() {
			p := newProblem(physics.NewPendulum(), regulatorCost(), dynamo.State{1.5, 0}, 2.0)
			settings := settingsWithDt(0.01)
			settings.DtSim = 0.002
			settings.MaxIterations = 25
			s := newSolver(p, settings)

			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			history := s.CostHistory()
			Expect(len(history)).To(BeNumerically(">=", 2))
			for i := 1; i < len(history); i++ {
				Expect(history[i]).To(BeNumerically("<", history[i-1]))
			}
			Expect(s.Cost()).To(Equal(history[len(history)-1]))
		})
	})

	Context("policy length", func() {
		DescribeTable("matches round(T/dt)",
			func(horizon, dt float64, want int) {
				sys := physics.NewSecondOrderSystem(1, 0.5)
				p := newProblem(sys, regulatorCost(), dynamo.State{0.2, 0}, horizon)
				settings := settingsWithDt(dt)
				settings.MaxIterations = 2
				s := newSolver(p, settings)

				ok, err := s.Solve()
				Expect(err).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				policy, err := s.Solution()
				Expect(err).NotTo(HaveOccurred())
				Expect(policy.Len()).To(Equal(want))
				Expect(policy.K).To(HaveLen(want))
				Expect(s.StateTrajectory()).To(HaveLen(want + 1))
			},
			Entry("short", 0.05, 0.01, 5),
			Entry("rounds up", 0.376, 0.01, 38),
			Entry("rounds down", 0.374, 0.01, 37),
			Entry("coarse", 1.0, 0.1, 10),
		)
	})

	Context("results", func() {
		It("returns identical policies on repeated reads", func() {
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), regulatorCost(), dynamo.State{1, 0}, 0.5)
			s := newSolver(p, settingsWithDt(0.01))
			_, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())

			a, err := s.Solution()
			Expect(err).NotTo(HaveOccurred())
			b, err := s.Solution()
			Expect(err).NotTo(HaveOccurred())
			Expect(a.Equal(b, 0)).To(BeTrue())

			a.Uff[0][0] += 1
			c, _ := s.Solution()
			Expect(c.Equal(b, 0)).To(BeTrue())
		})

		It("reports no solution before solving", func() {
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), regulatorCost(), dynamo.State{1, 0}, 0.5)
			s := New(p)
			_, err := s.Solution()
			Expect(err).To(MatchError(ErrNoSolution))
			Expect(s.StateTrajectory()).To(BeNil())
			Expect(s.Status()).To(Equal(NotSolved))
			Expect(math.IsInf(s.Cost(), 1)).To(BeTrue())
		})
	})

	Context("misuse", func() {
		var s *Solver

		BeforeEach(func() {
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), regulatorCost(), dynamo.State{1, 0}, 0.5)
			s = New(p)
		})

		It("fails without settings", func() {
			_, err := s.Solve()
			Expect(errors.Is(err, dynamo.ErrNotConfigured)).To(BeTrue())
		})

		It("fails without an initial guess", func() {
			Expect(s.Configure(settingsWithDt(0.01))).To(Succeed())
			_, err := s.Solve()
			Expect(errors.Is(err, dynamo.ErrNotConfigured)).To(BeTrue())
		})

		It("rejects invalid settings", func() {
			settings := settingsWithDt(0.01)
			settings.MaxIterations = 0
			Expect(s.Configure(settings)).NotTo(Succeed())
		})

		It("rejects a guess of the wrong length", func() {
			Expect(s.Configure(settingsWithDt(0.01))).To(Succeed())
			Expect(s.SetInitialGuess(control.Zero(7, 2, 1, 0.01))).To(Succeed())
			_, err := s.Solve()
			Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
		})

		It("rejects a guess with the wrong dimensions", func() {
			err := s.SetInitialGuess(control.Zero(50, 3, 1, 0.01))
			Expect(errors.Is(err, dynamo.ErrDimensionMismatch)).To(BeTrue())
		})

		It("rejects a horizon shorter than one step", func() {
			Expect(s.Configure(settingsWithDt(0.01))).To(Succeed())
			Expect(s.SetInitialGuess(control.Zero(0, 2, 1, 0.01))).To(Succeed())
			Expect(s.ChangeTimeHorizon(0.004)).To(Succeed())
			_, err := s.Solve()
			Expect(errors.Is(err, dynamo.ErrInvalidHorizon)).To(BeTrue())
		})
	})

	Context("numerical failure", func() {
		It("reports an ill-conditioned backward pass as a failed solve", func() {
			fn := cost.NewFunction(2, 1)
			Expect(fn.AddIntermediateTerm(cost.NewTermQuadratic("concave", diag(0, 0), diag(-1)))).To(Succeed())
			Expect(fn.AddFinalTerm(cost.NewTermQuadratic("none", diag(0, 0), nil))).To(Succeed())
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), fn, dynamo.State{1, 0}, 0.5)

			settings := settingsWithDt(0.01)
			settings.Regularization = RegularizationSettings{Initial: 0, Min: 1e-6, Factor: 10, Max: 1e-5, MaxAttempts: 3}
			s := newSolver(p, settings)

			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(s.Status()).To(Equal(DivergedOrFailed))
			Expect(errors.Is(s.Err(), dynamo.ErrIllConditioned)).To(BeTrue())

			var simErr *dynamo.SimulationError
			Expect(errors.As(s.Err(), &simErr)).To(BeTrue())
			Expect(simErr.Step).To(Equal(49))

			_, err = s.Solution()
			Expect(err).To(MatchError(ErrNoSolution))
		})

		It("counts only the regularization attempts actually made", func() {
			fn := cost.NewFunction(2, 1)
			Expect(fn.AddIntermediateTerm(cost.NewTermQuadratic("concave", diag(0, 0), diag(-1)))).To(Succeed())
			Expect(fn.AddFinalTerm(cost.NewTermQuadratic("none", diag(0, 0), nil))).To(Succeed())
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), fn, dynamo.State{1, 0}, 0.5)

			// Damping goes 0, 1e-6, 1e-5 and then passes Max.
			settings := settingsWithDt(0.01)
			settings.Regularization = RegularizationSettings{Initial: 0, Min: 1e-6, Factor: 10, Max: 1e-5, MaxAttempts: 10}
			s := newSolver(p, settings)

			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(errors.Is(s.Err(), dynamo.ErrIllConditioned)).To(BeTrue())
			Expect(s.Err().Error()).To(ContainSubstring("after 3 attempts"))
		})

		It("reports a domain violation as a failed solve", func() {
			pend := physics.NewPendulum()
			pend.MaxOmega = 0.5
			p := newProblem(pend, regulatorCost(), dynamo.State{0, 1}, 0.5)
			s := newSolver(p, settingsWithDt(0.01))

			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
			Expect(s.Status()).To(Equal(DivergedOrFailed))
			Expect(errors.Is(s.Err(), dynamo.ErrDomain)).To(BeTrue())
		})
	})

	Context("changing the problem", func() {
		It("solves again after a new initial state and horizon", func() {
			p := newProblem(physics.NewSecondOrderSystem(1, 0.5), regulatorCost(), dynamo.State{1, 0}, 0.5)
			s := newSolver(p, settingsWithDt(0.01))
			_, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())

			Expect(s.ChangeInitialState(dynamo.State{-1, 0})).To(Succeed())
			Expect(s.ChangeTimeHorizon(0.3)).To(Succeed())
			Expect(s.SetInitialGuess(control.Zero(30, 2, 1, 0.01))).To(Succeed())

			ok, err := s.Solve()
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(s.StateTrajectory()[0]).To(Equal(dynamo.State{-1, 0}))
			Expect(s.StateTrajectory()).To(HaveLen(31))
		})
	})
})
