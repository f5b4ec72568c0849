// Package client provides the Gmail API transport used by the sync engine:
// paginated message ids per label, message metadata and label listing, each
// gated by the per-account quota and classified into error classes.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/logging"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/ratelimit"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Prometheus metrics for Gmail client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_requests_total",
		Help: "Total Gmail API requests by method and outcome",
	}, []string{"method", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gmailsync_request_duration_seconds",
		Help:    "Gmail API request duration in seconds by method",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_errors_total",
		Help: "Total Gmail API errors by class",
	}, []string{"class"})
)

// Method names used in metrics and logs.
const (
	methodListMessages = "messages.list"
	methodGetMessage   = "messages.get"
	methodListLabels   = "labels.list"
)

// defaultBlock is applied when a rate-limit response carries no Retry-After.
const defaultBlock = time.Second

// QuotaGate reserves quota before a request and records server backoffs.
// *ratelimit.Tracker implements it.
type QuotaGate interface {
	Acquire(ctx context.Context, units int) error
	Block(ctx context.Context, d time.Duration) error
}

// Config holds the client configuration.
type Config struct {
	// Endpoint overrides the Gmail base URL (e.g. a mock server). Empty uses
	// the public API.
	Endpoint string

	// UserID is the mailbox to read. Gmail accepts "me" for the token owner.
	UserID string

	// UserAgent header sent with every request.
	UserAgent string

	// HTTPClient performs the requests. Authorization is set per call from
	// the credential passed in, so it must not add its own.
	HTTPClient *http.Client

	// Quota gates requests per account. Nil disables quota tracking.
	Quota QuotaGate

	// Retry is the transport retry policy.
	Retry RetryConfig

	// MetadataHeaders are the message headers requested with each record.
	MetadataHeaders []string
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig() Config {
	return Config{
		UserID:          "me",
		UserAgent:       "gmail-label-sync/1.0",
		HTTPClient:      &http.Client{Timeout: 30 * time.Second},
		Retry:           DefaultRetryConfig(),
		MetadataHeaders: []string{"From", "To", "Subject", "Date"},
	}
}

// Message is the record payload built from Gmail message metadata.
type Message struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"thread_id"`
	LabelIDs     []string          `json:"label_ids"`
	Snippet      string            `json:"snippet"`
	InternalDate int64             `json:"internal_date"`
	SizeEstimate int64             `json:"size_estimate"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// Subject returns the Subject header.
func (m *Message) Subject() string {
	return m.Headers["Subject"]
}

// From returns the From header.
func (m *Message) From() string {
	return m.Headers["From"]
}

// Label is a Gmail label, i.e. a sync partition.
type Label struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Type           string `json:"type"`
	MessagesTotal  int64  `json:"messages_total"`
	MessagesUnread int64  `json:"messages_unread"`
}

// Client is the Gmail API transport.
type Client struct {
	svc    *gmail.Service
	config Config
	logger zerolog.Logger
}

// New creates a new Gmail client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	defaults := DefaultConfig()
	if cfg.UserID == "" {
		cfg.UserID = defaults.UserID
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = defaults.HTTPClient
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = defaults.Retry
	}
	if len(cfg.MetadataHeaders) == 0 {
		cfg.MetadataHeaders = defaults.MetadataHeaders
	}

	opts := []option.ClientOption{
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithUserAgent(cfg.UserAgent),
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimSuffix(cfg.Endpoint, "/")+"/"))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}

	return &Client{
		svc:    svc,
		config: cfg,
		logger: logging.NewLogger("gmail-client"),
	}, nil
}

// ListPage returns one page of message ids carrying the label partition.
func (c *Client) ListPage(ctx context.Context, cred credential.Credential, partition, pageToken string, maxResults int) (pagination.Page, error) {
	call := c.svc.Users.Messages.List(c.config.UserID).
		LabelIds(partition).
		Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	setAuth(call.Header(), cred)

	var resp *gmail.ListMessagesResponse
	err := c.do(ctx, methodListMessages, ratelimit.UnitsListMessages, func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return pagination.Page{}, err
	}

	page := pagination.Page{
		IDs:           make([]string, 0, len(resp.Messages)),
		NextPageToken: resp.NextPageToken,
	}
	for _, m := range resp.Messages {
		if m != nil && m.Id != "" {
			page.IDs = append(page.IDs, m.Id)
		}
	}

	c.logger.Debug().
		Str("partition", partition).
		Int("ids", len(page.IDs)).
		Bool("has_next", page.NextPageToken != "").
		Msg("Listed message page")

	return page, nil
}

// GetRecord fetches the metadata of one message as a record sorted by its
// internal date.
func (c *Client) GetRecord(ctx context.Context, cred credential.Credential, id string) (*results.Record, error) {
	call := c.svc.Users.Messages.Get(c.config.UserID, id).
		Format("metadata").
		MetadataHeaders(c.config.MetadataHeaders...).
		Context(ctx)
	setAuth(call.Header(), cred)

	var msg *gmail.Message
	err := c.do(ctx, methodGetMessage, ratelimit.UnitsGetMessage, func() error {
		var err error
		msg, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	m := convertMessage(msg)
	return &results.Record{ID: m.ID, SortKey: m.InternalDate, Payload: m}, nil
}

// ListLabels returns the labels of the mailbox.
func (c *Client) ListLabels(ctx context.Context, cred credential.Credential) ([]Label, error) {
	call := c.svc.Users.Labels.List(c.config.UserID).Context(ctx)
	setAuth(call.Header(), cred)

	var resp *gmail.ListLabelsResponse
	err := c.do(ctx, methodListLabels, ratelimit.UnitsListLabels, func() error {
		var err error
		resp, err = call.Do()
		return err
	})
	if err != nil {
		return nil, err
	}

	labels := make([]Label, 0, len(resp.Labels))
	for _, l := range resp.Labels {
		if l == nil {
			continue
		}
		labels = append(labels, Label{
			ID:             l.Id,
			Name:           l.Name,
			Type:           l.Type,
			MessagesTotal:  l.MessagesTotal,
			MessagesUnread: l.MessagesUnread,
		})
	}
	return labels, nil
}

// do runs one API call under the quota gate, metrics and the retry policy.
func (c *Client) do(ctx context.Context, method string, units int, call func() error) error {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	return retryWithBackoff(ctx, c.config.Retry, c.logger, func() error {
		if c.config.Quota != nil {
			if err := c.config.Quota.Acquire(ctx, units); err != nil {
				requestsTotal.WithLabelValues(method, "quota_wait_failed").Inc()
				return fmt.Errorf("acquire quota: %w", err)
			}
		}

		err := call()
		if err == nil {
			requestsTotal.WithLabelValues(method, "ok").Inc()
			return nil
		}

		apiErr := classifyError(err)
		requestsTotal.WithLabelValues(method, string(apiErr.ErrorClass)).Inc()
		errorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()

		c.logger.Warn().
			Str("method", method).
			Int("status", apiErr.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Str("reason", apiErr.Reason).
			Msg("Gmail request error")

		if apiErr.ErrorClass == ErrorClassRateLimit && c.config.Quota != nil {
			d := apiErr.RetryAfter
			if d <= 0 {
				d = defaultBlock
			}
			if err := c.config.Quota.Block(ctx, d); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record quota block")
			}
		}
		return apiErr
	})
}

func setAuth(h http.Header, cred credential.Credential) {
	if cred.Token != "" {
		h.Set("Authorization", "Bearer "+cred.Token)
	}
}

func convertMessage(msg *gmail.Message) *Message {
	m := &Message{
		ID:           msg.Id,
		ThreadID:     msg.ThreadId,
		LabelIDs:     msg.LabelIds,
		Snippet:      msg.Snippet,
		InternalDate: msg.InternalDate,
		SizeEstimate: msg.SizeEstimate,
	}
	if msg.Payload != nil && len(msg.Payload.Headers) > 0 {
		m.Headers = make(map[string]string, len(msg.Payload.Headers))
		for _, h := range msg.Payload.Headers {
			if h != nil {
				m.Headers[h.Name] = h.Value
			}
		}
	}
	return m
}
