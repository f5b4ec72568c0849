// Package batch fetches full records for a list of ids with a fixed-size
// worker pool.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for detail fetches.
var (
	detailFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_detail_fetches_total",
		Help: "Total detail fetches by outcome",
	}, []string{"outcome"})

	detailInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gmailsync_detail_fetches_in_flight",
		Help: "Detail fetches currently in flight",
	})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gmailsync_detail_batch_duration_seconds",
		Help:    "Duration of a full detail batch in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})
)

// Config holds fetcher configuration.
type Config struct {
	// MaxConcurrency is the number of workers, and so the maximum number of
	// detail requests in flight.
	MaxConcurrency int

	// Timeout per detail fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 8,
		Timeout:        15 * time.Second,
	}
}

// DetailGetter is the detail endpoint consumed by the fetcher.
type DetailGetter interface {
	GetRecord(ctx context.Context, cred credential.Credential, id string) (*results.Record, error)
}

// Result is the outcome for one id. Record is nil when Err is set.
type Result struct {
	ID     string
	Record *results.Record
	Err    error
}

// DetailFetchError records a failed fetch of a single record.
type DetailFetchError struct {
	ID  string
	Err error
}

// Error implements the error interface.
func (e *DetailFetchError) Error() string {
	return fmt.Sprintf("detail fetch for %q failed: %v", e.ID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DetailFetchError) Unwrap() error {
	return e.Err
}

// Fetcher runs detail fetches on a fixed worker pool.
type Fetcher struct {
	getter DetailGetter
	config Config
	logger zerolog.Logger
}

// NewFetcher creates a new fetcher.
func NewFetcher(getter DetailGetter, config Config, logger zerolog.Logger) *Fetcher {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 8
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Fetcher{
		getter: getter,
		config: config,
		logger: logger,
	}
}

// FetchDetails fetches every id and returns one Result per id, in input
// order. Exactly MaxConcurrency workers drain a shared index channel. A
// failed id yields a nil Record and never affects its siblings; nothing is
// retried here. ids is only read.
func (f *Fetcher) FetchDetails(ctx context.Context, cred credential.Credential, ids []string) []Result {
	out := make([]Result, len(ids))
	if len(ids) == 0 {
		return out
	}
	start := time.Now()

	indexQueue := make(chan int, len(ids))
	for i := range ids {
		indexQueue <- i
	}
	close(indexQueue)

	var wg sync.WaitGroup
	for w := 0; w < f.config.MaxConcurrency; w++ {
		wg.Add(1)
		go f.worker(ctx, cred, ids, indexQueue, out, &wg, w)
	}
	wg.Wait()

	failed := 0
	for _, r := range out {
		if r.Err != nil {
			failed++
		}
	}
	batchDuration.Observe(time.Since(start).Seconds())

	f.logger.Debug().
		Int("ids", len(ids)).
		Int("failed", failed).
		Int("workers", f.config.MaxConcurrency).
		Dur("duration", time.Since(start)).
		Msg("Detail batch complete")

	return out
}

// worker fetches ids by index until the queue is drained. Each index is
// written by exactly one worker, so out needs no lock.
func (f *Fetcher) worker(ctx context.Context, cred credential.Credential, ids []string, indexQueue <-chan int, out []Result, wg *sync.WaitGroup, workerID int) {
	defer wg.Done()
	processed := 0

	for idx := range indexQueue {
		id := ids[idx]

		if err := ctx.Err(); err != nil {
			detailFetchesTotal.WithLabelValues("cancelled").Inc()
			out[idx] = Result{ID: id, Err: &DetailFetchError{ID: id, Err: err}}
			continue
		}

		out[idx] = f.fetchOne(ctx, cred, id)
		processed++
	}

	if processed > 0 {
		f.logger.Debug().
			Int("worker_id", workerID).
			Int("processed", processed).
			Msg("Worker completed")
	}
}

func (f *Fetcher) fetchOne(ctx context.Context, cred credential.Credential, id string) Result {
	itemCtx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	detailInFlight.Inc()
	record, err := f.getter.GetRecord(itemCtx, cred, id)
	detailInFlight.Dec()

	if err == nil && record == nil {
		err = errors.New("empty record")
	}
	if err != nil {
		detailFetchesTotal.WithLabelValues("error").Inc()
		f.logger.Warn().
			Err(err).
			Str("id", id).
			Msg("Detail fetch failed")
		return Result{ID: id, Err: &DetailFetchError{ID: id, Err: err}}
	}

	detailFetchesTotal.WithLabelValues("ok").Inc()
	return Result{ID: id, Record: record}
}

// Records returns the records of results in order, with nil for failures.
func Records(rs []Result) []*results.Record {
	out := make([]*results.Record, len(rs))
	for i, r := range rs {
		out[i] = r.Record
	}
	return out
}

// Failed returns the errors of failed results.
func Failed(rs []Result) []error {
	var errs []error
	for _, r := range rs {
		if r.Err != nil {
			errs = append(errs, r.Err)
		}
	}
	return errs
}
