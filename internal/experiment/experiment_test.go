package experiment

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/ilqgmpc/internal/config"
	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

const costFile = "../../configs/mpcCost.yaml"

type tickClock struct {
	now  time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// fastConfig runs the oscillator example at 10 ms with simulated time.
func fastConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Cost.File = costFile
	for _, s := range []*float64{&cfg.ILQG.Dt, &cfg.ILQG.DtSim, &cfg.ILQGMPC.Dt, &cfg.ILQGMPC.DtSim} {
		*s = 0.01
	}
	cfg.ILQG.MaxIterations = 20
	cfg.Loop.SimTime = true
	cfg.Loop.CycleDt = 0.01
	return cfg
}

func TestNewDrawsSeededInitialState(t *testing.T) {
	a, err := New(fastConfig())
	require.NoError(t, err)
	b, err := New(fastConfig())
	require.NoError(t, err)

	x0 := a.InitialState()
	require.Len(t, x0, 2)
	assert.Equal(t, x0, b.InitialState())
	for _, v := range x0 {
		assert.LessOrEqual(t, math.Abs(v), 1.0)
	}

	cfg := fastConfig()
	cfg.InitState = []float64{0.4, 0.1}
	c, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, dynamo.State{0.4, 0.1}, c.InitialState())
}

func TestNewErrors(t *testing.T) {
	cfg := fastConfig()
	cfg.Model = "rocket"
	_, err := New(cfg)
	assert.ErrorContains(t, err, "unknown model")

	cfg = fastConfig()
	cfg.InitState = []float64{1, 2, 3}
	_, err = New(cfg)
	assert.ErrorIs(t, err, dynamo.ErrDimensionMismatch)

	cfg = fastConfig()
	cfg.Params = map[string]float64{"mass": 2}
	_, err = New(cfg)
	assert.ErrorContains(t, err, "unknown param")

	cfg = fastConfig()
	cfg.Cost.File = "missing.yaml"
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = fastConfig()
	cfg.TimeHorizon = -1
	_, err = New(cfg)
	assert.ErrorContains(t, err, "invalid config")

	reg := NewRegistry()
	reg.Register("lorenz", func() dynamo.System { return threeState{} })
	cfg = fastConfig()
	cfg.Model = "lorenz"
	_, err = New(cfg, WithRegistry(reg))
	assert.ErrorIs(t, err, dynamo.ErrDimensionMismatch)
}

type threeState struct{}

func (threeState) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return make(dynamo.State, 3)
}
func (threeState) StateDim() int   { return 3 }
func (threeState) ControlDim() int { return 1 }

func TestSolveAndSimulate(t *testing.T) {
	e, err := New(fastConfig())
	require.NoError(t, err)

	res, err := e.Solve()
	require.NoError(t, err)
	assert.True(t, res.Status.Success())
	assert.Equal(t, 300, res.Policy.Len())
	require.Len(t, res.States, 301)
	for i := 1; i < len(res.CostHistory); i++ {
		assert.Less(t, res.CostHistory[i], res.CostHistory[i-1])
	}

	simRes, err := e.Simulate(context.Background(), res.Policy)
	require.NoError(t, err)
	require.Len(t, simRes.States, 301)

	final := simRes.States[300]
	predicted := res.States[300]
	for i := range final {
		assert.InDelta(t, predicted[i], final[i], 1e-8)
	}
	assert.Greater(t, simRes.Metrics["control_effort"], 0.0)
	assert.Equal(t, 1.0, simRes.Metrics["stability"])
	assert.False(t, math.IsInf(simRes.Metrics["tracking_cost"], 0))
}

func TestRunMPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	e, err := New(fastConfig(),
		WithClock(&tickClock{step: time.Millisecond}),
		WithRegisterer(reg),
	)
	require.NoError(t, err)

	res, err := e.RunMPC(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Failure)

	assert.Less(t, len(res.Cycles), 2000)
	assert.Greater(t, res.Summary.Successful, 100)
	assert.Zero(t, res.Summary.Failed)
	assert.Equal(t, 1, res.Summary.Exhausted)

	last := res.Cycles[len(res.Cycles)-1]
	assert.ErrorIs(t, last.Err, dynamo.ErrHorizonExhausted)
	assert.True(t, res.Cycles[0].Success())
	assert.Equal(t, dynamo.State(res.Offline.X0), res.Cycles[0].State)
	assert.NotNil(t, res.Policy)

	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, f := range families {
		if f.GetName() != "ilqgmpc_mpc_cycles_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(res.Summary.Cycles), total)
}

func TestRunMPCGaussianNoise(t *testing.T) {
	cfg := fastConfig()
	cfg.Loop.NoiseKind = config.NoiseGaussian
	cfg.Loop.Noise = 0.05
	cfg.Loop.MaxCycles = 20

	e, err := New(cfg, WithClock(&tickClock{step: time.Millisecond}))
	require.NoError(t, err)
	res, err := e.RunMPC(context.Background())
	require.NoError(t, err)
	assert.Len(t, res.Cycles, 20)
	assert.NoError(t, res.Failure)
}

func TestRunMPCCanceled(t *testing.T) {
	e, err := New(fastConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.RunMPC(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestOscillatorExampleWallClock(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the 1 ms example in real time")
	}
	cfg := config.DefaultConfig()
	cfg.Cost.File = costFile

	e, err := New(cfg)
	require.NoError(t, err)
	res, err := e.RunMPC(context.Background())
	require.NoError(t, err)
	require.NoError(t, res.Failure)

	assert.Less(t, len(res.Cycles), cfg.Loop.MaxCycles)
	assert.Greater(t, res.Summary.Successful, 0)
	assert.True(t, res.Offline.Status.Success())
}

func TestCartPoleNumericalLinearization(t *testing.T) {
	cfg := config.GetPreset("cartpole", "balance")
	require.NotNil(t, cfg)
	cfg.Cost.File = "../../configs/cartpoleCost.yaml"

	e, err := New(cfg)
	require.NoError(t, err)
	res, err := e.Solve()
	require.NoError(t, err)

	assert.True(t, res.Status.Success())
	assert.Equal(t, 200, res.Policy.Len())
	history := res.CostHistory
	require.NotEmpty(t, history)
	assert.Less(t, history[len(history)-1], history[0])
}
