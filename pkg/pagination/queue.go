package pagination

// IDQueue is the shared queue of discovered ids. An id is accepted at most
// once per session: ids already queued or already popped are dropped.
// It is not safe for concurrent use.
type IDQueue struct {
	ids    []string
	queued map[string]struct{}
	seen   map[string]struct{}
}

// NewIDQueue creates an empty queue.
func NewIDQueue() *IDQueue {
	return &IDQueue{
		queued: make(map[string]struct{}),
		seen:   make(map[string]struct{}),
	}
}

// Push appends ids that were neither queued nor seen before and returns how
// many were added.
func (q *IDQueue) Push(ids []string) int {
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := q.queued[id]; ok {
			continue
		}
		if _, ok := q.seen[id]; ok {
			continue
		}
		q.queued[id] = struct{}{}
		q.ids = append(q.ids, id)
		added++
	}
	return added
}

// Pop removes up to n ids from the front of the queue and marks them seen.
func (q *IDQueue) Pop(n int) []string {
	if n > len(q.ids) {
		n = len(q.ids)
	}
	if n <= 0 {
		return nil
	}

	out := make([]string, n)
	copy(out, q.ids[:n])
	q.ids = q.ids[n:]
	for _, id := range out {
		delete(q.queued, id)
		q.seen[id] = struct{}{}
	}
	return out
}

// Len returns the number of queued ids.
func (q *IDQueue) Len() int {
	return len(q.ids)
}

// Seen reports whether id has been popped this session.
func (q *IDQueue) Seen(id string) bool {
	_, ok := q.seen[id]
	return ok
}

// SeenCount returns the number of ids popped this session.
func (q *IDQueue) SeenCount() int {
	return len(q.seen)
}

// IDs returns a copy of the queued ids in order.
func (q *IDQueue) IDs() []string {
	out := make([]string, len(q.ids))
	copy(out, q.ids)
	return out
}
