package credential

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOAuth2Provider_Validation(t *testing.T) {
	tests := []struct {
		name     string
		config   OAuth2Config
		errorMsg string
	}{
		{
			name:     "missing client id",
			config:   OAuth2Config{RefreshToken: "rt"},
			errorMsg: "client id is required",
		},
		{
			name:     "missing refresh token",
			config:   OAuth2Config{ClientID: "cid"},
			errorMsg: "refresh token is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOAuth2Provider(tt.config)
			require.Error(t, err)
			assert.Equal(t, tt.errorMsg, err.Error())
		})
	}
}

func TestOAuth2Provider_CurrentSeed(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	p, err := NewOAuth2Provider(OAuth2Config{
		ClientID:     "cid",
		RefreshToken: "rt",
		AccessToken:  "seed",
		Expiry:       expiry,
	})
	require.NoError(t, err)

	cred := p.Current()

	assert.Equal(t, "seed", cred.Token)
	assert.True(t, cred.ExpiresAt.Equal(expiry))
}

func TestOAuth2Provider_Refresh(t *testing.T) {
	var grants []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		grants = append(grants, r.PostForm.Get("grant_type")+":"+r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		if len(grants) == 1 {
			w.Write([]byte(`{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-rotated"}`))
			return
		}
		w.Write([]byte(`{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	p, err := NewOAuth2Provider(OAuth2Config{
		ClientID:     "cid",
		ClientSecret: "secret",
		RefreshToken: "rt-initial",
		TokenURL:     server.URL,
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)

	cred, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", cred.Token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, time.Minute)
	assert.Equal(t, "rt-rotated", p.RefreshToken())

	cred, err = p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", cred.Token)
	assert.Equal(t, "rt-rotated", p.RefreshToken())
	assert.Equal(t, "access-2", p.Current().Token)

	assert.Equal(t, []string{"refresh_token:rt-initial", "refresh_token:rt-rotated"}, grants)
}

func TestOAuth2Provider_RefreshError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"Token has been revoked."}`))
	}))
	defer server.Close()

	p, err := NewOAuth2Provider(OAuth2Config{
		ClientID:     "cid",
		RefreshToken: "revoked",
		AccessToken:  "old",
		TokenURL:     server.URL,
		HTTPClient:   server.Client(),
	})
	require.NoError(t, err)

	_, err = p.Refresh(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_grant")
	assert.Equal(t, "old", p.Current().Token)
}
