// Package pagination discovers resource ids across independently paginated
// partitions (Gmail labels).
//
// A CursorTable tracks where each partition resumes. A cursor is Unfetched,
// holds an opaque page token, or is Exhausted. Exhausted is terminal for the
// session: a partition whose page fetch fails is exhausted rather than retried.
//
// The Scheduler fills an IDQueue up to a target length by visiting partitions
// round-robin, resuming after the partition it visited last:
//
//	table := pagination.NewCursorTable(lister, pagination.DefaultConfig(), logger)
//	queue := pagination.NewIDQueue()
//	sched := pagination.NewScheduler(table, queue, logger)
//	hasMore := sched.EnsureQueueHas(ctx, cred, []string{"INBOX", "Label_12"}, 20)
//	ids := queue.Pop(20)
//
// The scheduler:
//   - Skips exhausted partitions without a network call
//   - Appends only ids never queued or handed out before
//   - Stops as soon as the queue reaches the target
//   - Reports exhaustion after a full round that made no progress
//
// Every round either advances a cursor, adds ids, or ends the loop, so
// EnsureQueueHas terminates after at most partitions × (pages + 1) page calls.
package pagination
