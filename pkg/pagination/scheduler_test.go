package pagination

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(l PageLister) (*Scheduler, *CursorTable, *IDQueue) {
	table := newTestTable(l)
	queue := NewIDQueue()
	return NewScheduler(table, queue, zerolog.Nop()), table, queue
}

// pagesOf builds n pages of size ids each, named prefix-page-index.
func pagesOf(prefix string, n, size int) [][]string {
	pages := make([][]string, n)
	for p := 0; p < n; p++ {
		for i := 0; i < size; i++ {
			pages[p] = append(pages[p], fmt.Sprintf("%s%d", prefix, p*size+i+1))
		}
	}
	return pages
}

func TestIDQueue(t *testing.T) {
	q := NewIDQueue()

	assert.Equal(t, 3, q.Push([]string{"a", "b", "a", "", "c"}))
	assert.Equal(t, 0, q.Push([]string{"b"}))
	assert.Equal(t, []string{"a", "b", "c"}, q.IDs())

	assert.Equal(t, []string{"a", "b"}, q.Pop(2))
	assert.True(t, q.Seen("a"))
	assert.False(t, q.Seen("c"))
	assert.Equal(t, 2, q.SeenCount())

	// Popped ids never come back.
	assert.Equal(t, 1, q.Push([]string{"a", "d"}))
	assert.Equal(t, []string{"c", "d"}, q.Pop(10))
	assert.Nil(t, q.Pop(1))
	assert.Equal(t, 0, q.Len())
}

func TestEnsureQueueHas_NoPartitions(t *testing.T) {
	l := &fakeLister{}
	s, _, _ := newTestScheduler(l)

	assert.False(t, s.EnsureQueueHas(context.Background(), testCred(), nil, 10))
	assert.Empty(t, l.calls)
}

func TestEnsureQueueHas_AlreadyFull(t *testing.T) {
	l := &fakeLister{pages: map[string][][]string{"A": {{"a1"}}}}
	s, _, q := newTestScheduler(l)
	q.Push([]string{"x", "y"})

	assert.True(t, s.EnsureQueueHas(context.Background(), testCred(), []string{"A"}, 2))
	assert.Empty(t, l.calls)
}

func TestEnsureQueueHas_RoundRobinFairness(t *testing.T) {
	l := &fakeLister{pages: map[string][][]string{
		"A": pagesOf("a", 3, 1),
		"B": pagesOf("b", 3, 1),
		"C": pagesOf("c", 3, 1),
	}}
	s, _, q := newTestScheduler(l)
	parts := []string{"A", "B", "C"}
	ctx := context.Background()

	require.True(t, s.EnsureQueueHas(ctx, testCred(), parts, 2))
	assert.Equal(t, []string{"A@", "B@"}, l.calls)

	// Resumes after the last visited partition.
	require.True(t, s.EnsureQueueHas(ctx, testCred(), parts, 4))
	assert.Equal(t, []string{"A@", "B@", "C@", "A@page:1"}, l.calls)
	assert.Equal(t, []string{"a1", "b1", "c1", "a2"}, q.IDs())
}

func TestEnsureQueueHas_ExhaustionAndTermination(t *testing.T) {
	const partitions, pagesPer = 4, 3
	pages := make(map[string][][]string)
	var parts []string
	for i := 0; i < partitions; i++ {
		name := fmt.Sprintf("P%d", i)
		parts = append(parts, name)
		pages[name] = pagesOf(name+"-", pagesPer, 2)
	}
	l := &fakeLister{pages: pages}
	s, table, q := newTestScheduler(l)

	hasMore := s.EnsureQueueHas(context.Background(), testCred(), parts, 1_000_000)

	assert.False(t, hasMore)
	assert.Equal(t, partitions*pagesPer*2, q.Len())
	assert.False(t, table.AnyLive(parts))
	assert.LessOrEqual(t, len(l.calls), partitions*(pagesPer+1))
}

func TestEnsureQueueHas_DuplicatesAcrossPartitions(t *testing.T) {
	l := &fakeLister{pages: map[string][][]string{
		"INBOX":     {{"m1", "m2"}, {"m3"}},
		"IMPORTANT": {{"m2", "m3"}, {"m4"}},
	}}
	s, _, q := newTestScheduler(l)

	s.EnsureQueueHas(context.Background(), testCred(), []string{"INBOX", "IMPORTANT"}, 100)

	assert.Equal(t, []string{"m1", "m2", "m3", "m4"}, q.IDs())
}

func TestEnsureQueueHas_FailingPartitionDoesNotStopOthers(t *testing.T) {
	l := &fakeLister{
		pages: map[string][][]string{"GOOD": pagesOf("g", 2, 2)},
		fail:  map[string]error{"BAD": errors.New("404 label not found")},
	}
	s, table, q := newTestScheduler(l)
	parts := []string{"BAD", "GOOD"}

	hasMore := s.EnsureQueueHas(context.Background(), testCred(), parts, 4)

	assert.True(t, hasMore)
	assert.Equal(t, []string{"g1", "g2", "g3", "g4"}, q.IDs())
	assert.True(t, table.Cursor("BAD").IsExhausted())
	assert.Equal(t, 1, countCalls(l.calls, "BAD@"))
}

func TestEnsureQueueHas_EmptyPagesWithTokensProgress(t *testing.T) {
	l := &fakeLister{pages: map[string][][]string{
		"A": {{}, {}, {"a1"}},
	}}
	s, _, q := newTestScheduler(l)

	assert.True(t, s.EnsureQueueHas(context.Background(), testCred(), []string{"A"}, 1))
	assert.Equal(t, []string{"a1"}, q.IDs())
}

func TestEnsureQueueHas_CancelledContext(t *testing.T) {
	l := &fakeLister{pages: map[string][][]string{"A": pagesOf("a", 2, 1)}}
	s, table, _ := newTestScheduler(l)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hasMore := s.EnsureQueueHas(ctx, testCred(), []string{"A"}, 5)

	assert.True(t, hasMore)
	assert.Equal(t, Unfetched(), table.Cursor("A"))
}

func countCalls(calls []string, want string) int {
	n := 0
	for _, c := range calls {
		if c == want {
			n++
		}
	}
	return n
}
