// Package async provides a minimal Future abstraction for running a function
// in the background and awaiting its result with an optional deadline.
//
// The queue engine uses it to race job handlers against their execution
// timeout without leaking goroutines:
//
//	fut := async.Run(ctx, func(ctx context.Context) (Result, error) {
//		return doWork(ctx)
//	})
//	res, err := fut.AwaitTimeout(30 * time.Second)
package async
