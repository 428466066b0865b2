// Package dynamo provides the core primitives for batched chemical evolution.
//
// The package defines the data model shared by every other package:
//
//   - [State]: abundance vector of one system (plus an optional temperature slot)
//   - [Params]: fixed-layout record of the physical conditions of one system
//   - [Network]: the opaque right-hand side dy/dt = f(t, y; params)
//   - [Batch]: N independent systems sharing one network
//
// and the error taxonomy of the driver ([ErrConfiguration],
// [ErrEngineAllocation], [IntegrationFailure], [ErrInvalidSchedule],
// [ErrUseAfterFinalize]).
//
// # Example
//
//	net := models.NewToy4()
//	b, err := dynamo.NewBatch(64, net.Dim(), dynamo.LayoutContiguous)
//	if err != nil {
//		return err
//	}
//	for i := 0; i < b.Len(); i++ {
//		b.Fill(i, y0)
//		b.SetParams(i, p)
//	}
//
// # Thread Safety
//
// A Batch is owned by a single driver loop. Distinct systems of a batch may be
// written concurrently (their memory never overlaps); one system must not.
package dynamo
