// Package mpc turns the iLQG solver into a receding-horizon controller.
//
// Each call to [MPC.Run] takes a measured state and timestamp, predicts
// where the plant will be once a new policy can take effect, re-solves the
// shifted problem warm-started from the previous policy and returns the new
// policy together with the time at which it starts.
//
// # Cycle
//
//  1. The first Run fixes the start time t0; elapsed time is t - t0.
//  2. The expected latency is multiplier * last measured solve time +
//     additional delay (MeasureDelay), or fixed + additional delay.
//  3. The horizon follows the configured [Mode].
//  4. With StateForwardIntegration the measured state is integrated over
//     the latency under the previous policy.
//  5. Unless ColdStart, the previous policy is shifted to the new start
//     time and resized to the new horizon as the initial guess.
//  6. After solving, PostTruncation drops the steps that elapsed beyond
//     the expected latency.
//
// A failed cycle leaves the stored policy, its timestamp and the state
// trajectory unchanged.
//
// # Concurrency
//
// Run and the accessors serialize on a per-instance mutex. There is no
// mid-solve cancellation; bound the solve time through the iLQG iteration
// limit.
package mpc
