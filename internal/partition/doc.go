// Package partition splits a node snapshot into tasks for parallel update.
//
// The layout is an immutable slice of tasks over one shared snapshot slice
// (the arena); tasks are windows into it. Dispensing is a single atomic
// index: workers call Take until it reports exhaustion, and the
// orchestrator calls Reset to start the next round.
package partition
