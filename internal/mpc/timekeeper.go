package mpc

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrTimeReversed is returned by Run for a timestamp earlier than the one
// of the previous cycle.
var ErrTimeReversed = errors.New("mpc: timestamp earlier than previous cycle")

// timeKeeper tracks the MPC start time, solve latency and the horizon.
type timeKeeper struct {
	settings       Settings
	clock          Clock
	initialHorizon float64
	finalTime      float64
	dt             float64

	started   bool
	t0        float64
	last      float64
	lastSolve time.Duration
	reached   bool
}

func newTimeKeeper(s Settings, clock Clock, initialHorizon, dt float64) timeKeeper {
	final := s.FinalTime
	if final <= 0 {
		final = initialHorizon
	}
	return timeKeeper{
		settings:       s,
		clock:          clock,
		initialHorizon: initialHorizon,
		finalTime:      final,
		dt:             dt,
	}
}

func (k *timeKeeper) reset() {
	k.started = false
	k.t0 = 0
	k.last = 0
	k.lastSolve = 0
	k.reached = false
}

// elapsed starts the clock on the first call and returns t - t0. It
// rejects t earlier than the previous call and leaves the keeper unchanged.
func (k *timeKeeper) elapsed(t float64) (float64, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, fmt.Errorf("mpc: invalid timestamp %g", t)
	}
	if !k.started {
		k.started = true
		k.t0 = t
	} else if t < k.last {
		return 0, fmt.Errorf("%w: %g < %g", ErrTimeReversed, t, k.last)
	}
	k.last = t
	return t - k.t0, nil
}

func microseconds(us int64) float64 { return float64(us) * 1e-6 }

// expectedDelay is the latency assumed before the next policy takes effect.
func (k *timeKeeper) expectedDelay() float64 {
	additional := microseconds(k.settings.AdditionalDelayUs)
	if k.settings.MeasureDelay {
		return k.settings.DelayMeasurementMultiplier*k.lastSolve.Seconds() + additional
	}
	return microseconds(k.settings.FixedDelayUs) + additional
}

// actualDelay is the latency of a finished solve, scaled like the
// expectation.
func (k *timeKeeper) actualDelay(solve time.Duration) float64 {
	return k.settings.DelayMeasurementMultiplier*solve.Seconds() + microseconds(k.settings.AdditionalDelayUs)
}

// horizon returns the horizon for a policy starting at elapsed+delay and
// whether the final time has been consumed. A horizon below one step is
// reported as exhausted. The horizon never exceeds the initial one.
func (k *timeKeeper) horizon(elapsed, delay float64) (horizon float64, reached, exhausted bool) {
	switch k.settings.Mode {
	case ConstantRecedingHorizon:
		return k.initialHorizon, false, false
	case FixedFinalTimeWithMinHorizon:
		horizon = math.Min(k.initialHorizon, k.initialHorizon-elapsed-delay)
		if horizon <= k.settings.MinTimeHorizon {
			return k.settings.MinTimeHorizon, true, false
		}
		return horizon, false, false
	case RecedingHorizonWithFixedFinalTime:
		horizon = math.Min(k.initialHorizon, k.finalTime-elapsed-delay)
	default:
		horizon = math.Min(k.initialHorizon, k.initialHorizon-elapsed-delay)
	}
	if k.steps(horizon) < 1 {
		return 0, true, true
	}
	return horizon, false, false
}

func (k *timeKeeper) steps(horizon float64) int {
	return int(math.Round(horizon / k.dt))
}

func (k *timeKeeper) startSolve() time.Time { return k.clock.Now() }

func (k *timeKeeper) stopSolve(start time.Time) time.Duration {
	d := k.clock.Now().Sub(start)
	k.lastSolve = d
	return d
}
