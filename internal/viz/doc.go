// Package viz renders solver and MPC results for the terminal: lipgloss
// panels for summaries and asciigraph line plots for trajectories.
package viz
