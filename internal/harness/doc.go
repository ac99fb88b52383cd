// Package harness runs scripted engine scenarios and compares their traces
// against golden files.
//
// # Scenario Format
//
// Scenarios are YAML files. The network comes from a config file, resolved
// relative to the scenario:
//
//	name: churn
//	description: "Groups join and leave between ticks"
//	config: ../configs/churn.yaml
//	workers: 2
//	steps:
//	  - tick: 1
//	  - add_group: {name: burst, size: 10, rule: decay, rate: 0.5, initial: 4}
//	  - settle: true
//	  - remove_group: base
//	  - set_concurrency: 5
//	  - expect: {workers: 5, parties: 6}
//
// # Steps
//
//   - tick: settles pending mutations, then advances N ticks
//   - add_group: builds a group (optionally wired with connect) and notifies the engine
//   - remove_group: drops a group and notifies the engine
//   - set_concurrency: changes what the concurrency source reports
//   - settle: waits until every mutation is folded into the partition
//   - expect: checks engine statistics
//
// # Deterministic Testing
//
// Trace lines are written only where the engine is settled: after tick and
// settle steps. Mutation and concurrency steps log what they did, not the
// engine state, because the collector may or may not have run yet. Values
// are summed in node ID order.
package harness
