// Package engine implements the churn prober: the loop that repeatedly
// sweeps the working set of published records, asks the DHT how many nodes
// still store each one, and decides when a record has churned.
//
// ARCHITECTURE:
//
// Single-Writer Coordinator:
// Record handles are mutated by exactly one goroutine, the one that called
// Engine.Run. Worker goroutines only probe; each owns a disjoint partition
// of the working set and its own Prober, and reports observations over a
// channel. The coordinator applies them one at a time, so handle state
// transitions are strictly sequential and the recorder has a single writer
// per stream.
//
// Sweep Flow:
//  1. The coordinator builds each partition's work list, every record of
//     the working set, shuffled when configured.
//  2. Workers wait the inter-probe delay, probe, and send the observation.
//  3. The coordinator records node-count changes, applies the churn policy
//     and emits churn events. The first complete sweep sets the reference
//     aggregate; afterwards a global sample is written whenever the
//     aggregate drops below the last reference.
//  4. After the sweep: churn fraction, elapsed time and cancellation are
//     checked; otherwise the engine sleeps the inter-sweep pause.
//  5. On termination every record without a churn event gets a terminal
//     event with zero elapsed time, so churns.csv has one row per record.
//
// Cancellation:
// Cancellation is cooperative. Workers check the context and the sweep's
// abort signal at the top of every record iteration, and the context
// during delays; a probe that is already in flight runs to its own
// timeout and its observation is still applied.
//
// Failure semantics:
// Probe failures never reach the engine (the probe adapter maps them to a
// zero count). Recorder errors are fatal: the sweep is aborted, the
// terminal flush is attempted, and the error is returned as *SinkError.
package engine
