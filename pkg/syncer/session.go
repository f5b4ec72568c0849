package syncer

import (
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/logging"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is all state derived from one partition selection. A reset
// replaces it as a whole; nothing carries over.
type Session struct {
	ID        string
	CreatedAt time.Time

	Queue     *pagination.IDQueue
	Cursors   *pagination.CursorTable
	Scheduler *pagination.Scheduler
	Results   results.Set
	HasMore   bool

	logger zerolog.Logger

	// Copied from Queue and Cursors between loads, for readers that must
	// not touch them while a load runs.
	queueLen  int
	seenCount int
	cursors   map[string]pagination.Cursor
}

func newSession(lister pagination.PageLister, config pagination.Config, partitions []string, logger zerolog.Logger) *Session {
	id := uuid.NewString()
	logger = logging.WithSession(logger, id)

	queue := pagination.NewIDQueue()
	table := pagination.NewCursorTable(lister, config, logger)

	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		Queue:     queue,
		Cursors:   table,
		Scheduler: pagination.NewScheduler(table, queue, logger),
		HasMore:   len(partitions) > 0,
		logger:    logger,
		cursors:   map[string]pagination.Cursor{},
	}
}

// captureStats copies queue and cursor figures. Callers must ensure no
// load is running on the session.
func (s *Session) captureStats() {
	s.queueLen = s.Queue.Len()
	s.seenCount = s.Queue.SeenCount()
	s.cursors = s.Cursors.Snapshot()
}
