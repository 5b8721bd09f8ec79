// Package task implements the durable task execution engine: a persisted job
// queue that accepts long-running work, survives process restarts without
// losing or double-executing it, and enforces mutual exclusion across worker
// processes sharing one datastore.
//
// The Queue orchestrator polls the store for pending records, claims them
// through an atomic lock column, and runs each through its registered
// Processor in an independent goroutine bounded by a counting semaphore.
// Cancellation is strictly cooperative: processors receive a context and are
// responsible for honoring it. Work found in the processing state at startup
// is presumed orphaned by a crash and failed rather than resumed.
package task
