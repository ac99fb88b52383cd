// Package engine advances a dynamic set of nodes with synchronous buffered
// update semantics on an elastic pool of worker goroutines.
//
// ARCHITECTURE:
//
// Orchestrator:
// Tick runs on the caller's goroutine. It meets the workers at a cyclic
// barrier of workers+1 parties three times per tick: once to park them,
// once to release them onto a freshly reset partition, and once after the
// partition is drained. It then waits for pending structural mutations to
// settle and commits every node of the settled partition.
//
// Workers:
// Each worker pulls tasks from the partition's atomic cursor until it is
// exhausted. A worker only ever writes the buffers of the nodes in the
// tasks it took; every read goes to committed values.
//
// Collector:
// Notify* calls apply to the live node set immediately and queue a
// mutation. A single collector goroutine batches mutations for a
// quiescence window and rebuilds the partition once per batch. The commit
// of a tick waits until every mutation accepted before it has been folded
// into a rebuild.
//
// Elasticity:
// The concurrency source is read at the start of every tick. A changed
// reading builds a new barrier, rebinds kept workers, retires the rest and
// trips the old barrier once so every parked worker observes its new
// binding.
//
// FAILURE MODEL:
//
// A panicking node rule or an abandoned rendezvous breaks the barrier. The
// tick returns the cause and every later Tick returns ErrEngineFailed.
// Shutdown is permanent and idempotent.
package engine
