package credential

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for credential refresh.
var (
	refreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gmailsync_credential_refresh_total",
		Help: "Total credential refresh attempts by outcome",
	}, []string{"outcome"})

	refreshSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gmailsync_credential_refresh_skipped_total",
		Help: "Total refresh requests skipped because a refresh was already in flight",
	})
)

// Provider supplies credentials.
type Provider interface {
	// Current returns the credential the provider already holds, possibly zero.
	Current() Credential

	// Refresh obtains a new credential.
	Refresh(ctx context.Context) (Credential, error)
}

// Config holds manager configuration.
type Config struct {
	// Identity names the account the credential belongs to.
	Identity string

	// RefreshSkew refreshes a token this long before it expires.
	RefreshSkew time.Duration
}

// Manager owns the current credential and refreshes it single-flight.
type Manager struct {
	provider Provider
	skew     time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu       sync.RWMutex
	current  Credential
	identity string
	force    bool
	lastErr  error
	inflight *refreshCall

	refreshing atomic.Bool
	failed     atomic.Bool
}

// refreshCall is the refresh currently running. done is closed once cred
// and err are set.
type refreshCall struct {
	done chan struct{}
	cred Credential
	err  error
}

// NewManager creates a manager seeded with the provider's current credential.
func NewManager(provider Provider, cfg Config, logger zerolog.Logger) *Manager {
	return &Manager{
		provider: provider,
		skew:     cfg.RefreshSkew,
		now:      time.Now,
		logger:   logger.With().Str("component", "credential").Logger(),
		current:  provider.Current(),
		identity: cfg.Identity,
	}
}

// EnsureValid returns a credential that is fresh as far as the manager can
// tell. A refresh runs when the token is missing, expired, or the identity
// changed. While another refresh is in flight, callers holding a credential
// get it back without waiting; callers without one wait for that refresh,
// bounded by ctx. A failed refresh falls back to the previous credential and
// raises the Failed flag. An *AuthError is returned only when a refresh
// failed and there is no credential to fall back on.
func (m *Manager) EnsureValid(ctx context.Context) (Credential, error) {
	m.mu.Lock()
	cred, identity, force := m.current, m.identity, m.force
	if !force && !cred.IsZero() && !cred.Expired(m.now(), m.skew) {
		m.mu.Unlock()
		return cred, nil
	}

	if !m.refreshing.CompareAndSwap(false, true) {
		call := m.inflight
		m.mu.Unlock()
		refreshSkippedTotal.Inc()

		if !cred.IsZero() {
			m.logger.Debug().
				Str("identity", identity).
				Msg("Refresh in flight, using last known credential")
			return cred, nil
		}
		return m.wait(ctx, call, identity)
	}
	call := &refreshCall{done: make(chan struct{})}
	m.inflight = call
	m.mu.Unlock()

	m.logger.Debug().
		Str("identity", identity).
		Bool("forced", force).
		Bool("missing", cred.IsZero()).
		Msg("Refreshing credential")

	refreshed, err := m.provider.Refresh(ctx)
	if err == nil && refreshed.IsZero() {
		err = ErrNoCredential
	}
	m.finish(call, identity, refreshed, err)

	if err != nil {
		if cred.IsZero() {
			m.logger.Error().Err(err).Str("identity", identity).Msg("Credential refresh failed, no credential available")
			return Credential{}, &AuthError{Identity: identity, Err: err}
		}

		m.logger.Warn().Err(err).Str("identity", identity).Msg("Credential refresh failed, using stale credential")
		return cred, nil
	}

	m.logger.Info().
		Str("identity", identity).
		Time("expires_at", refreshed.ExpiresAt).
		Msg("Credential refreshed")

	return refreshed, nil
}

// finish publishes the outcome of call and releases the in-flight guard.
func (m *Manager) finish(call *refreshCall, identity string, refreshed Credential, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		refreshTotal.WithLabelValues("failure").Inc()
		m.failed.Store(true)
		m.lastErr = err
		call.cred = m.current
		call.err = err
	} else {
		refreshTotal.WithLabelValues("success").Inc()
		m.failed.Store(false)
		m.current = refreshed
		m.lastErr = nil
		if m.identity == identity {
			m.force = false
		}
		call.cred = refreshed
	}

	m.inflight = nil
	m.refreshing.Store(false)
	close(call.done)
}

// wait blocks until call settles or ctx is done.
func (m *Manager) wait(ctx context.Context, call *refreshCall, identity string) (Credential, error) {
	m.logger.Debug().
		Str("identity", identity).
		Msg("Refresh in flight, waiting for first credential")

	select {
	case <-call.done:
	case <-ctx.Done():
		return Credential{}, ctx.Err()
	}

	if !call.cred.IsZero() {
		return call.cred, nil
	}
	err := call.err
	if err == nil {
		err = ErrNoCredential
	}
	return Credential{}, &AuthError{Identity: identity, Err: err}
}

// SetIdentity records an identity change. The next EnsureValid refreshes.
func (m *Manager) SetIdentity(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if identity == m.identity {
		return
	}
	m.identity = identity
	m.force = true
}

// Identity returns the current identity.
func (m *Manager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// Current returns the credential currently held, without refreshing.
func (m *Manager) Current() Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Failed reports whether the most recent refresh failed.
func (m *Manager) Failed() bool {
	return m.failed.Load()
}

// Err returns the error of the most recent failed refresh, or nil.
func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}
