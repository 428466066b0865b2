// Package viz renders chemdyn runs in the terminal.
//
//   - [Progress]: Bubble Tea view of a running batch, fed by [Feed]
//   - [PlotTrajectory]: abundance histories drawn with asciigraph
//   - [Table]: lipgloss summary panels for stored runs
//
// # Key Bindings
//
//	Q - Cancel the run and quit
//	T - Cycle color themes
//	? - Toggle help
package viz
