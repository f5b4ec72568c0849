// Package metrics exposes the Prometheus registry of the sync engine.
// Metrics are defined in their own packages (credential, pagination, batch,
// syncer, client, ratelimit) and registered via promauto; this package serves
// them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the sync engine.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer backing Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving all registered metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Credential Metrics (pkg/credential):
//   - gmailsync_credential_refresh_total{outcome} (Counter): Refresh attempts by outcome (success, failure)
//   - gmailsync_credential_refresh_skipped_total (Counter): Callers served a stale credential while a refresh ran
//
// Discovery Metrics (pkg/pagination):
//   - gmailsync_partition_pages_total{outcome} (Counter): Pages by outcome (ok, exhausted, skipped, error, cancelled)
//   - gmailsync_partition_page_duration_seconds (Histogram): List page latency
//   - gmailsync_discovery_rounds_total{result} (Counter): Round-robin rounds by result
//
// Detail Metrics (pkg/batch):
//   - gmailsync_detail_fetches_total{outcome} (Counter): Detail fetches by outcome
//   - gmailsync_detail_fetches_in_flight (Gauge): Detail fetches in flight
//   - gmailsync_detail_batch_duration_seconds (Histogram): Duration of a full detail batch
//
// Session Metrics (pkg/syncer):
//   - gmailsync_load_more_total{result} (Counter): LoadMore calls by result (ok, skipped, auth_error)
//   - gmailsync_session_resets_total{reason} (Counter): Session resets by reason
//   - gmailsync_results (Gauge): Records in the current result set
//
// Request Metrics (pkg/client):
//   - gmailsync_requests_total{method, outcome} (Counter): Gmail API requests by method and outcome
//   - gmailsync_request_duration_seconds{method} (Histogram): Request duration by method
//   - gmailsync_errors_total{class} (Counter): Errors by class (client, auth, server, rate_limit, network)
//   - gmailsync_client_retries_total{error_class} (Counter): Retry attempts by error class
//   - gmailsync_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - gmailsync_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Quota Metrics (pkg/ratelimit):
//   - gmailsync_quota_units_total (Counter): Quota units granted
//   - gmailsync_quota_units_used (Gauge): Units used in the current window
//   - gmailsync_quota_throttles_total (Counter): Waits for a full window
//   - gmailsync_quota_blocks_total (Counter): Server-imposed blocks recorded
//
// Example Prometheus Queries:
//
//   # Detail failure ratio
//   sum(rate(gmailsync_detail_fetches_total{outcome="error"}[5m])) /
//   sum(rate(gmailsync_detail_fetches_total[5m]))
//
//   # Partitions dropped by errors
//   rate(gmailsync_partition_pages_total{outcome="error"}[5m])
//
//   # P95 Gmail latency
//   histogram_quantile(0.95, rate(gmailsync_request_duration_seconds_bucket[5m]))
