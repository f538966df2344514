// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, 30*time.Second, "usage event emit", func(ctx context.Context) error {
//		return emitter.Emit(ctx, event)
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, 10, "grant removal", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return store.RemoveField(ctx, key, field)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, grants, 5, "grant removal", 10*time.Second,
//		func(ctx context.Context, g catalog.Grant) error {
//			return removeGrant(ctx, g)
//		})
//
// # Features
//
// Panic Recovery: Captures panics with stack traces
// Timeout Enforcement: Per-task timeouts
// Context Cancellation: Respects context cancellation
// Error Collection: Non-blocking error channels
// Graceful Shutdown: Worker draining
//
// # Related Packages
//
//   - pkg/sweeper: Uses Batch for concurrent grant removal
package async
