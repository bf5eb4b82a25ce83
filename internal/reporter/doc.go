// Package reporter turns a stream of measurement units into periodically
// published measurements.
//
// A [Reporter] owns one accumulator per result name and a set of
// destinations, each bound to one or more periods. Every call to
// [Reporter.Report] folds the unit into the accumulators and then tests each
// binding; a binding whose period has just been crossed receives a
// [measurement.Measurement] built from the current accumulator state.
// Publication is synchronous on the reporting goroutine.
//
// # Triggering
//
// Each binding keeps its own cursor, the progress value at which it is next
// due, advanced with compare-and-swap:
//   - ITERATION: at the first counted unit and whenever a block of N units
//     closes. The last iteration of an iteration-bounded run always publishes.
//   - PERCENTAGE: every N whole percent of run progress; 100% always publishes.
//   - TIME: every N milliseconds of run time, checked on every report and by
//     the report manager's background ticker. The manager publishes a final
//     TIME result when the run stops.
//
// Bursts that skip several boundaries publish once, and a boundary is never
// published twice, even when units arrive out of order.
//
// # Variants
//
// Variants implement [Strategy] and are resolved by name through a
// [Registry]:
//   - response-time-stats: total measured time of each unit with average,
//     minimum and maximum, optionally windowed and with a range histogram
//   - throughput-stats: 1000*threads/lastTime in iterations/s
//   - iterations-per-second: overall iteration rate of the run
//   - response-time-histogram: HDR percentile distribution with optional
//     coordinated-omission correction
//   - warm-up: resets the run once throughput settles; takes no destinations
//
// # Example
//
//	rep, err := reporter.DefaultRegistry().Create(reporter.TypeResponseTimeStats, "rt", properties.Properties{"windowSize": "100"})
//	if err != nil {
//		return err
//	}
//	if err := rep.RegisterDestination(console, period.Each(time.Second), period.Percent(10)); err != nil {
//		return err
//	}
//	manager.RegisterReporter(rep)
package reporter
