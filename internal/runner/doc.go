// Package runner drives a run: it paces iterations, executes them on a
// pool of workers and hands every filled measurement unit back to the
// report manager.
//
// # Basic Usage
//
//	r := runner.New(runner.Options{
//		Threads:       10,
//		RatePerSecond: 100,
//		Requester:     runner.NewSimulatedRequester(runner.SimulatedConfig{Mean: 10 * time.Millisecond}),
//		Source:        manager,
//	})
//	result := r.Run(ctx)
//
// The run length belongs to the source: the runner keeps going until the
// source stops handing out units or ctx is cancelled.
//
// # Arrival Models
//
//   - [ArrivalModelUniform]: iterations at fixed intervals
//   - [ArrivalModelPoisson]: exponentially distributed gaps
//
// # Load Patterns
//
// A [LoadPattern] list reshapes the rate over time (ramp, step, spike).
// The load stops when the last pattern ends.
//
// # Middleware
//
//   - [WithLogging]: log failed iterations
//   - [WithRetry]: retry with fixed or computed backoff
package runner
