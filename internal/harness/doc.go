// Package harness runs scripted churn scenarios against the real engine.
//
// A scenario fixes the working set, the engine options and the storing-node
// count every record reports in every sweep. The harness drives the engine
// with a fake clock and an in-memory recorder, then checks assertions and
// (optionally) compares the three CSV streams with golden files.
//
// # Scenario Format
//
//	name: half_churn
//	description: "Half of the records disappear in the second sweep"
//	records: 10
//	published_before_s: 60
//	stop_fraction: 0.9
//	max_duration_s: 120
//	sweep_pause_s: 60
//	sweeps:
//	  - [3, 3, 3, 3, 3, 3, 3, 3, 3, 3]
//	  - [0, 0, 0, 0, 0, 3, 3, 3, 3, 3]
//	assertions:
//	  - type: churned
//	    count: 5
//	  - type: churn_fraction
//	    fraction: 0.5
//
// Record i (1-based) uses the key whose 32 bytes are all i. Sweep n uses
// row n of sweeps; sweeps past the end repeat the last row. A count of -1
// makes that probe fail, which the probe adapter reports as zero.
//
// # Assertion Types
//
//   - stop_reason: the engine stopped for the given reason
//   - sweeps, churned, churn_events: summary counters equal count
//   - churn_fraction: the final churn fraction equals fraction
//   - churn_rows, decay_rows, storing_rows: data rows in each CSV stream
//   - churn_time: record's churns.csv row has time_s
//   - storing_decreasing: nodes_storing.csv is strictly decreasing
//
// # Determinism
//
// Scenarios run on testutil.FakeClock starting at a fixed instant, with
// sequential keys, so a single-worker scenario always produces the same
// bytes and can be snapshotted with goldie.
package harness
