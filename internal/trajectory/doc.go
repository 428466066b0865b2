// Package trajectory writes and reads the per-system output of a run.
//
// Every record is one system at one output time. The binary stream stores a
// record as float64 little-endian values
//
//	[system index][time][abundance_0 ... abundance_{dim-1}]
//
// and the text stream stores the same values on one line, each formatted as
// "%13.7e ". Records are system-major within one output time and time-major
// across the run. A timing log holds one "%8.5e " line per interval with the
// wall-clock seconds spent in the solver.
package trajectory
