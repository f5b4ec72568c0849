package credential

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuth2Config holds the settings for an OAuth2 refresh-token provider.
type OAuth2Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string

	// AccessToken and Expiry seed the provider with an existing token.
	AccessToken string
	Expiry      time.Time

	// TokenURL overrides the Google token endpoint.
	TokenURL string

	Scopes []string

	// HTTPClient is used for token requests (default: http.DefaultClient).
	HTTPClient *http.Client
}

// OAuth2Provider refreshes access tokens with the refresh-token grant.
type OAuth2Provider struct {
	config     *oauth2.Config
	httpClient *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// NewOAuth2Provider creates a provider from cfg.
func NewOAuth2Provider(cfg OAuth2Config) (*OAuth2Provider, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	if cfg.RefreshToken == "" {
		return nil, errors.New("refresh token is required")
	}

	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   google.Endpoint.AuthURL,
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	return &OAuth2Provider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			Scopes:       cfg.Scopes,
		},
		httpClient: cfg.HTTPClient,
		token: &oauth2.Token{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
			Expiry:       cfg.Expiry,
			TokenType:    "Bearer",
		},
	}, nil
}

// Current returns the access token held by the provider.
func (p *OAuth2Provider) Current() Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Credential{Token: p.token.AccessToken, ExpiresAt: p.token.Expiry}
}

// Refresh exchanges the refresh token for a new access token. A rotated
// refresh token returned by the server replaces the stored one.
func (p *OAuth2Provider) Refresh(ctx context.Context) (Credential, error) {
	p.mu.Lock()
	refreshToken := p.token.RefreshToken
	p.mu.Unlock()

	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}

	tok, err := p.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return Credential{}, fmt.Errorf("refresh token grant: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	p.token = tok

	return Credential{Token: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

// RefreshToken returns the refresh token currently in use.
func (p *OAuth2Provider) RefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token.RefreshToken
}
