package pagination

import (
	"context"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var discoveryRoundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gmailsync_discovery_rounds_total",
	Help: "Total id discovery rounds by result",
}, []string{"result"})

// Scheduler fills an IDQueue from partitions in round-robin order.
type Scheduler struct {
	table  *CursorTable
	queue  *IDQueue
	next   int
	logger zerolog.Logger
}

// NewScheduler creates a scheduler over table and queue.
func NewScheduler(table *CursorTable, queue *IDQueue, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		table:  table,
		queue:  queue,
		logger: logger,
	}
}

// EnsureQueueHas pulls pages until the queue holds at least target ids.
// It returns false when the partitions are globally exhausted: there are no
// partitions, or a full round over them produced neither new ids nor a
// cursor change. A cancelled context stops discovery early and reports
// whether any partition is still live.
func (s *Scheduler) EnsureQueueHas(ctx context.Context, cred credential.Credential, partitions []string, target int) bool {
	if len(partitions) == 0 {
		return false
	}

	rounds := 0
	for s.queue.Len() < target {
		if ctx.Err() != nil {
			return s.table.AnyLive(partitions)
		}

		progress := false
		for visited := 0; visited < len(partitions) && s.queue.Len() < target; visited++ {
			idx := s.next % len(partitions)
			s.next = idx + 1

			partition := partitions[idx]
			before := s.table.Cursor(partition)
			if before.IsExhausted() {
				continue
			}

			res := s.table.NextPage(ctx, cred, partition)
			added := s.queue.Push(res.IDs)
			if added > 0 || res.Next != before {
				progress = true
			}
		}
		rounds++

		if !progress && ctx.Err() != nil {
			return s.table.AnyLive(partitions)
		}
		if !progress {
			discoveryRoundsTotal.WithLabelValues("exhausted").Inc()
			s.logger.Debug().
				Int("rounds", rounds).
				Int("queued", s.queue.Len()).
				Int("target", target).
				Msg("All partitions exhausted")
			return false
		}
		discoveryRoundsTotal.WithLabelValues("progress").Inc()
	}

	s.logger.Debug().
		Int("rounds", rounds).
		Int("queued", s.queue.Len()).
		Int("target", target).
		Msg("Queue filled")

	return true
}
