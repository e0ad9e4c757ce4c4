// Package batcher coalesces concurrently submitted operations into groups.
//
// Operations added to a Batcher are queued until either batchSize items are
// pending or batchTimeout has elapsed since the first pending item. The group
// is then executed concurrently and every caller receives the result of its
// own operation on its own channel; a failing item never affects siblings.
//
// Example:
//
//	b := batcher.New[uint64](10, 100*time.Millisecond, logger)
//	res := <-b.Add(ctx, func(ctx context.Context) (uint64, error) {
//		return svc.BlockNumber(ctx)
//	})
package batcher
