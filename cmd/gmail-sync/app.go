package main

import (
	"context"
	"fmt"

	"github.com/Sternrassler/gmail-label-sync/internal/config"
	"github.com/Sternrassler/gmail-label-sync/pkg/batch"
	"github.com/Sternrassler/gmail-label-sync/pkg/client"
	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/logging"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/ratelimit"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
	"github.com/redis/go-redis/v9"
)

// gmailScope is requested when refreshing tokens.
const gmailScope = "https://www.googleapis.com/auth/gmail.readonly"

// app is the wired sync stack for one account.
type app struct {
	cfg        *config.Config
	creds      *credential.Manager
	gmail      *client.Client
	redis      *redis.Client
	controller *syncer.Controller
}

// newApp builds the credential manager, Gmail client, optional quota
// tracker and sync controller from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.NewLogger("gmail-sync")
	a := &app{cfg: cfg}

	provider, err := newProvider(cfg)
	if err != nil {
		return nil, err
	}
	a.creds = credential.NewManager(provider, credential.Config{
		Identity:    cfg.Gmail.UserID,
		RefreshSkew: cfg.Sync.RefreshSkew,
	}, logger)

	clientCfg := client.DefaultConfig()
	clientCfg.Endpoint = cfg.Gmail.Endpoint
	clientCfg.UserID = cfg.Gmail.UserID
	clientCfg.UserAgent = cfg.Gmail.UserAgent
	clientCfg.Retry.MaxAttempts = cfg.Sync.RetryAttempts

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	if redisOpts != nil {
		a.redis = redis.NewClient(redisOpts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("addr", redisOpts.Addr).Msg("Connected to Redis")
		clientCfg.Quota = ratelimit.NewTracker(a.redis, cfg.Redis.Account, cfg.Redis.QuotaBudget, logging.NewLogger("quota"))
	}

	a.gmail, err = client.New(ctx, clientCfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.controller = syncer.New(a.creds, a.gmail, a.gmail, syncer.Config{
		Partitions: cfg.Sync.Partitions,
		PageSize:   cfg.Sync.PageSize,
		Pagination: pagination.Config{
			PageSize: cfg.Sync.ListPageSize,
			Timeout:  cfg.Sync.ListTimeout,
		},
		Batch: batch.Config{
			MaxConcurrency: cfg.Sync.MaxConcurrency,
			Timeout:        cfg.Sync.DetailTimeout,
		},
	}, logging.NewLogger("syncer"))

	return a, nil
}

// newProvider picks the refresh-token provider when a refresh token is
// configured and a fixed access token otherwise.
func newProvider(cfg *config.Config) (credential.Provider, error) {
	if cfg.Gmail.RefreshToken == "" {
		return credential.StaticProvider{
			Credential: credential.Credential{Token: cfg.Gmail.AccessToken},
		}, nil
	}
	p, err := credential.NewOAuth2Provider(credential.OAuth2Config{
		ClientID:     cfg.Gmail.ClientID,
		ClientSecret: cfg.Gmail.ClientSecret,
		RefreshToken: cfg.Gmail.RefreshToken,
		AccessToken:  cfg.Gmail.AccessToken,
		TokenURL:     cfg.Gmail.TokenURL,
		Scopes:       []string{gmailScope},
	})
	if err != nil {
		return nil, fmt.Errorf("create oauth2 provider: %w", err)
	}
	return p, nil
}

// Close releases the Redis connection, if any.
func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}
