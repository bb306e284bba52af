package mpc

import (
	"math"

	"github.com/san-kum/ilqgmpc/internal/control"
)

// policyHandler prepares initial guesses and trims solved policies.
type policyHandler struct {
	stateDim, controlDim int
	dt                   float64
	coldStart            bool
}

// warmStart returns the guess for a policy starting at start, given the
// previous policy that started at prevStart. Times share one origin.
func (h policyHandler) warmStart(prev *control.StateFeedback, prevStart, start float64, steps int) *control.StateFeedback {
	if h.coldStart || prev == nil || prev.Len() == 0 {
		return control.Zero(steps, h.stateDim, h.controlDim, h.dt)
	}

	guess := prev.Clone()
	shift := int(math.Round((start - prevStart) / h.dt))
	if shift < 0 {
		shift = 0
	}
	if shift > guess.Len()-1 {
		shift = guess.Len() - 1
	}
	guess.ShiftFront(shift)
	// guess has at least one entry, so padding cannot fail.
	_ = guess.Resize(steps)
	return guess
}

// truncation is the number of steps of extra latency beyond the expected
// delay.
func (h policyHandler) truncation(expected, actual float64) int {
	extra := actual - expected
	if extra <= 0 {
		return 0
	}
	return int(math.Round(extra / h.dt))
}
