package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for partition page fetches.
var (
	pageFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_partition_pages_total",
		Help: "Total partition page requests by outcome",
	}, []string{"outcome"})

	pageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gmailsync_partition_page_duration_seconds",
		Help:    "Partition page fetch duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	})
)

// Config holds cursor table configuration.
type Config struct {
	// PageSize is the maxResults sent with every list request.
	PageSize int

	// Timeout per page fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default cursor table configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		Timeout:  15 * time.Second,
	}
}

// Page is one page of ids returned by the list endpoint.
// An empty NextPageToken means the partition has no further pages.
type Page struct {
	IDs           []string
	NextPageToken string
}

// PageLister is the list endpoint consumed by the cursor table.
type PageLister interface {
	ListPage(ctx context.Context, cred credential.Credential, partition, pageToken string, maxResults int) (Page, error)
}

// PageResult is the outcome of NextPage. Err is a soft failure: the
// partition has already been marked exhausted when it is set.
type PageResult struct {
	IDs  []string
	Next Cursor
	Err  error
}

// PartitionFetchError records a failed page fetch for one partition.
type PartitionFetchError struct {
	Partition string
	Cursor    Cursor
	Err       error
}

// Error implements the error interface.
func (e *PartitionFetchError) Error() string {
	return fmt.Sprintf("partition %q page fetch at %s failed: %v", e.Partition, e.Cursor, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PartitionFetchError) Unwrap() error {
	return e.Err
}

// CursorTable holds the pagination state of every partition.
// It is not safe for concurrent use; the owning session serializes access.
type CursorTable struct {
	lister  PageLister
	config  Config
	cursors map[string]Cursor
	logger  zerolog.Logger
}

// NewCursorTable creates an empty cursor table.
func NewCursorTable(lister PageLister, config Config, logger zerolog.Logger) *CursorTable {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &CursorTable{
		lister:  lister,
		config:  config,
		cursors: make(map[string]Cursor),
		logger:  logger,
	}
}

// Cursor returns the cursor of a partition. Unknown partitions are Unfetched.
func (t *CursorTable) Cursor(partition string) Cursor {
	if c, ok := t.cursors[partition]; ok {
		return c
	}
	return Unfetched()
}

// NextPage fetches the next page of a partition and advances its cursor.
// Exhausted partitions return an empty page without a network call.
// A failed fetch exhausts the partition.
func (t *CursorTable) NextPage(ctx context.Context, cred credential.Credential, partition string) PageResult {
	current := t.Cursor(partition)
	if current.IsExhausted() {
		pageFetchesTotal.WithLabelValues("skipped").Inc()
		return PageResult{Next: current}
	}

	pageCtx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	start := time.Now()
	page, err := t.lister.ListPage(pageCtx, cred, partition, current.PageToken(), t.config.PageSize)
	cancel()
	pageFetchDuration.Observe(time.Since(start).Seconds())

	if err != nil && ctx.Err() != nil {
		// Cancelled by the caller: the partition itself did not fail.
		pageFetchesTotal.WithLabelValues("cancelled").Inc()
		return PageResult{
			Next: current,
			Err:  &PartitionFetchError{Partition: partition, Cursor: current, Err: err},
		}
	}

	if err != nil {
		t.cursors[partition] = Exhausted()
		pageFetchesTotal.WithLabelValues("error").Inc()
		t.logger.Warn().
			Err(err).
			Str("partition", partition).
			Str("cursor", current.String()).
			Msg("Partition page fetch failed, partition exhausted")
		return PageResult{
			Next: Exhausted(),
			Err:  &PartitionFetchError{Partition: partition, Cursor: current, Err: err},
		}
	}

	next := TokenCursor(page.NextPageToken)
	switch {
	case page.NextPageToken == "":
		next = Exhausted()
	case current.State == CursorToken && page.NextPageToken == current.Token:
		// A server that hands back the same token would never finish.
		t.logger.Warn().
			Str("partition", partition).
			Str("token", page.NextPageToken).
			Msg("Page token did not advance, partition exhausted")
		next = Exhausted()
	}
	t.cursors[partition] = next

	outcome := "ok"
	if next.IsExhausted() {
		outcome = "exhausted"
	}
	pageFetchesTotal.WithLabelValues(outcome).Inc()

	t.logger.Debug().
		Str("partition", partition).
		Int("ids", len(page.IDs)).
		Str("next", next.String()).
		Msg("Partition page fetched")

	return PageResult{IDs: page.IDs, Next: next}
}

// AnyLive reports whether any of the given partitions can still yield pages.
func (t *CursorTable) AnyLive(partitions []string) bool {
	for _, p := range partitions {
		if !t.Cursor(p).IsExhausted() {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of all known cursors.
func (t *CursorTable) Snapshot() map[string]Cursor {
	out := make(map[string]Cursor, len(t.cursors))
	for p, c := range t.cursors {
		out[p] = c
	}
	return out
}

// Reset forgets every cursor.
func (t *CursorTable) Reset() {
	t.cursors = make(map[string]Cursor)
}
