// Package syncer drives incremental loading of label partitions: it owns the
// sync session, serializes loads and applies resets and selection changes
// once an in-flight load settles.
package syncer

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/batch"
	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for sync sessions.
var (
	loadMoreTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_load_more_total",
		Help: "Total LoadMore calls by result",
	}, []string{"result"})

	sessionResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_session_resets_total",
		Help: "Total session resets by reason",
	}, []string{"reason"})

	resultsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gmailsync_results",
		Help: "Records in the current result set",
	})
)

// Reset reasons.
const (
	reasonReset      = "reset"
	reasonRefresh    = "refresh"
	reasonPartitions = "partitions"
	reasonIdentity   = "identity"
)

// Credentials is the credential manager as seen by the controller.
// *credential.Manager implements it.
type Credentials interface {
	EnsureValid(ctx context.Context) (credential.Credential, error)
	SetIdentity(identity string)
}

// Config holds controller configuration.
type Config struct {
	// Partitions is the initial selection.
	Partitions []string

	// PageSize is the LoadMore batch size used when n <= 0 and by Refresh.
	PageSize int

	// Pagination configures list page fetches.
	Pagination pagination.Config

	// Batch configures detail fetches.
	Batch batch.Config
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		PageSize:   20,
		Pagination: pagination.DefaultConfig(),
		Batch:      batch.DefaultConfig(),
	}
}

// Report describes one LoadMore.
type Report struct {
	SessionID string
	Skipped   bool

	Requested int
	Fetched   int
	Added     int
	Failed    int
	Total     int
	HasMore   bool
	Duration  time.Duration
}

// Snapshot is a read-only view of the controller.
type Snapshot struct {
	SessionID  string            `json:"session_id"`
	CreatedAt  time.Time         `json:"created_at"`
	State      string            `json:"state"`
	Loading    bool              `json:"loading"`
	HasMore    bool              `json:"has_more"`
	Partitions []string          `json:"partitions"`
	QueueLen   int               `json:"queue_len"`
	Seen       int               `json:"seen"`
	Results    int               `json:"results"`
	Cursors    map[string]string `json:"cursors"`
	Error      string            `json:"error,omitempty"`
}

// Controller runs sync sessions over the selected partitions.
type Controller struct {
	creds   Credentials
	lister  pagination.PageLister
	fetcher *batch.Fetcher
	config  Config
	logger  zerolog.Logger

	// mu guards everything below. It is never held across I/O.
	mu         sync.Mutex
	state      State
	session    *Session
	partitions []string
	authErr    error

	pendingReset      string
	pendingPartitions []string
	hasPending        bool
}

// New creates a controller with an empty session over config.Partitions.
func New(creds Credentials, lister pagination.PageLister, getter batch.DetailGetter, config Config, logger zerolog.Logger) *Controller {
	if config.PageSize <= 0 {
		config.PageSize = 20
	}

	c := &Controller{
		creds:      creds,
		lister:     lister,
		fetcher:    batch.NewFetcher(getter, config.Batch, logger),
		config:     config,
		logger:     logger,
		partitions: normalize(config.Partitions),
	}
	c.session = c.newSession()
	return c
}

func (c *Controller) newSession() *Session {
	return newSession(c.lister, c.config.Pagination, c.partitions, c.logger)
}

// LoadMore grows the result set by up to n records. It is dropped, with
// Report.Skipped set, while another load runs or once the session is
// exhausted. An error is returned only when no usable credential exists.
func (c *Controller) LoadMore(ctx context.Context, n int) (Report, error) {
	return c.run(ctx, n, "")
}

// Refresh resets the session and loads the first page.
func (c *Controller) Refresh(ctx context.Context) (Report, error) {
	return c.run(ctx, c.config.PageSize, reasonRefresh)
}

func (c *Controller) run(ctx context.Context, n int, resetReason string) (Report, error) {
	if n <= 0 {
		n = c.config.PageSize
	}

	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		loadMoreTotal.WithLabelValues("skipped").Inc()
		c.logger.Debug().Msg("Load already in flight, dropped")
		return Report{Skipped: true}, nil
	}
	if resetReason != "" {
		c.resetLocked(resetReason)
	}
	sess := c.session
	if c.state == StateExhausted && sess.queueLen == 0 {
		c.mu.Unlock()
		loadMoreTotal.WithLabelValues("skipped").Inc()
		return Report{SessionID: sess.ID, Skipped: true, Total: len(sess.Results)}, nil
	}
	partitions := slices.Clone(c.partitions)
	existing := sess.Results
	c.state = StateLoading
	c.mu.Unlock()

	start := time.Now()
	report, merged, err := c.load(ctx, sess, partitions, existing, n)
	report.Duration = time.Since(start)

	c.settle(sess, merged, report, err)
	return report, err
}

// load runs one LoadMore against sess. The Loading state gives it exclusive
// use of the session's queue and cursors.
func (c *Controller) load(ctx context.Context, sess *Session, partitions []string, existing results.Set, n int) (Report, results.Set, error) {
	report := Report{SessionID: sess.ID, Requested: n}

	if len(partitions) == 0 {
		report.Total = len(existing)
		return report, existing, nil
	}

	cred, err := c.creds.EnsureValid(ctx)
	if err != nil {
		report.HasMore = sess.HasMore
		report.Total = len(existing)
		return report, existing, err
	}

	sess.Scheduler.EnsureQueueHas(ctx, cred, partitions, n)
	ids := sess.Queue.Pop(n)

	fetched := c.fetcher.FetchDetails(ctx, cred, ids)
	records := batch.Records(fetched)
	merged := results.Merge(existing, records)

	report.Fetched = len(ids)
	report.Failed = len(batch.Failed(fetched))
	report.Added = len(merged) - len(existing)
	report.Total = len(merged)
	report.HasMore = sess.Queue.Len() > 0 || sess.Cursors.AnyLive(partitions)

	return report, merged, nil
}

// settle publishes a finished load and applies deferred resets.
func (c *Controller) settle(sess *Session, merged results.Set, report Report, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess.captureStats()

	var authErr *credential.AuthError
	switch {
	case errors.As(err, &authErr):
		c.authErr = err
		c.state = StateIdle
		loadMoreTotal.WithLabelValues("auth_error").Inc()
		sess.logger.Error().Err(err).Msg("No usable credential")
	case err != nil:
		c.state = StateIdle
		loadMoreTotal.WithLabelValues("error").Inc()
		sess.logger.Warn().Err(err).Msg("Load failed")
	default:
		c.authErr = nil
		sess.Results = merged
		sess.HasMore = report.HasMore
		if report.HasMore {
			c.state = StateIdle
		} else {
			c.state = StateExhausted
		}
		resultsGauge.Set(float64(len(merged)))
		loadMoreTotal.WithLabelValues("ok").Inc()

		sess.logger.Info().
			Int("requested", report.Requested).
			Int("fetched", report.Fetched).
			Int("added", report.Added).
			Int("failed", report.Failed).
			Int("total", report.Total).
			Bool("has_more", report.HasMore).
			Dur("duration", report.Duration).
			Msg("Load complete")
	}

	if c.hasPending {
		next := c.pendingPartitions
		c.pendingPartitions = nil
		c.hasPending = false
		if c.applyPartitionsLocked(next) {
			c.pendingReset = ""
		}
	}
	if c.pendingReset != "" {
		reason := c.pendingReset
		c.pendingReset = ""
		c.resetLocked(reason)
	}
}

// Reset discards the session. While a load runs the reset is deferred until
// it settles.
func (c *Controller) Reset() {
	c.requestReset(reasonReset)
}

// SwitchIdentity changes the account the credential belongs to, which
// forces a refresh, and resets the session.
func (c *Controller) SwitchIdentity(identity string) {
	c.creds.SetIdentity(identity)
	c.requestReset(reasonIdentity)
}

func (c *Controller) requestReset(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateLoading {
		c.pendingReset = reason
		c.logger.Debug().Str("reason", reason).Msg("Reset deferred until load settles")
		return
	}
	c.resetLocked(reason)
}

// SetSelectedPartitions replaces the selection. A different set (order is
// ignored) resets the session; no fetch is started. While a load runs the
// change is applied after it settles.
func (c *Controller) SetSelectedPartitions(partitions []string) {
	next := normalize(partitions)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateLoading {
		c.pendingPartitions = next
		c.hasPending = true
		c.logger.Debug().Strs("partitions", next).Msg("Selection change deferred until load settles")
		return
	}
	c.applyPartitionsLocked(next)
}

func (c *Controller) applyPartitionsLocked(next []string) bool {
	if sameSet(c.partitions, next) {
		return false
	}
	c.partitions = next
	c.resetLocked(reasonPartitions)
	return true
}

func (c *Controller) resetLocked(reason string) {
	old := c.session
	c.session = c.newSession()
	c.state = StateIdle
	sessionResetsTotal.WithLabelValues(reason).Inc()
	resultsGauge.Set(0)

	c.session.logger.Info().
		Str("reason", reason).
		Str("previous_session", old.ID).
		Strs("partitions", c.partitions).
		Msg("Session reset")
}

// Results returns the current result set, sorted by descending sort key.
func (c *Controller) Results() results.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.session.Results)
}

// IsLoading reports whether a load is in flight.
func (c *Controller) IsLoading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateLoading
}

// HasMore reports whether further loads can yield records.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.HasMore
}

// IsError reports whether the last load failed for lack of a credential.
func (c *Controller) IsError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr != nil
}

// Err returns the error behind IsError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authErr
}

// State returns the load state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Partitions returns the selected partitions.
func (c *Controller) Partitions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.partitions)
}

// Snapshot returns a read-only view of the controller. Queue and cursor
// figures are as of the last settled load.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess := c.session
	cursors := make(map[string]string, len(c.partitions))
	for _, p := range c.partitions {
		cur, ok := sess.cursors[p]
		if !ok {
			cur = pagination.Unfetched()
		}
		cursors[p] = cur.String()
	}

	snap := Snapshot{
		SessionID:  sess.ID,
		CreatedAt:  sess.CreatedAt,
		State:      c.state.String(),
		Loading:    c.state == StateLoading,
		HasMore:    sess.HasMore,
		Partitions: slices.Clone(c.partitions),
		QueueLen:   sess.queueLen,
		Seen:       sess.seenCount,
		Results:    len(sess.Results),
		Cursors:    cursors,
	}
	if c.authErr != nil {
		snap.Error = c.authErr.Error()
	}
	return snap
}

// normalize drops empty and repeated partitions, keeping first occurrences.
func normalize(partitions []string) []string {
	out := make([]string, 0, len(partitions))
	seen := make(map[string]struct{}, len(partitions))
	for _, p := range partitions {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
