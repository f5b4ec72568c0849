package syncer_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Sternrassler/gmail-label-sync/internal/testutil"
	"github.com/Sternrassler/gmail-label-sync/pkg/batch"
	"github.com/Sternrassler/gmail-label-sync/pkg/client"
	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/pagination"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTokenServer issues "fresh-token" for every refresh-token grant.
func newTokenServer(t *testing.T, grants *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		grants.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh-token","token_type":"Bearer","expires_in":3600}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newGmailController(t *testing.T, mock *testutil.MockGmail, tokenURL string, partitions ...string) *syncer.Controller {
	t.Helper()

	provider, err := credential.NewOAuth2Provider(credential.OAuth2Config{
		ClientID:     "client",
		RefreshToken: "refresh",
		TokenURL:     tokenURL,
	})
	require.NoError(t, err)
	creds := credential.NewManager(provider, credential.Config{Identity: "me"}, zerolog.Nop())

	cfg := client.DefaultConfig()
	cfg.Endpoint = mock.URL()
	gmail, err := client.New(context.Background(), cfg)
	require.NoError(t, err)

	sc := syncer.DefaultConfig()
	sc.Partitions = partitions
	sc.Pagination = pagination.Config{PageSize: 3}
	sc.Batch = batch.Config{MaxConcurrency: 3}
	return syncer.New(creds, gmail, gmail, sc, zerolog.Nop())
}

func TestController_GmailEndToEnd(t *testing.T) {
	mock := testutil.NewMockGmail()
	defer mock.Close()
	mock.RequireToken("fresh-token")
	for i := 1; i <= 7; i++ {
		labels := []string{"INBOX"}
		if i%2 == 0 {
			labels = append(labels, "Label_work")
		}
		mock.AddMessage(testutil.MockMessage{
			ID:           fmt.Sprintf("msg%d", i),
			Labels:       labels,
			InternalDate: int64(1700000000000 + i*1000),
			Subject:      fmt.Sprintf("Message %d", i),
		})
	}
	var grants atomic.Int32
	tokens := newTokenServer(t, &grants)

	c := newGmailController(t, mock, tokens.URL, "INBOX", "Label_work")
	ctx := context.Background()

	for c.HasMore() {
		r, err := c.LoadMore(ctx, 4)
		require.NoError(t, err)
		require.False(t, r.Skipped)
	}

	set := c.Results()
	require.Len(t, set, 7)
	assert.True(t, set.IsSorted())
	assert.Equal(t, "msg7", set[0].ID)

	msg, ok := set[0].Payload.(*client.Message)
	require.True(t, ok)
	assert.Equal(t, "Message 7", msg.Subject())

	assert.Equal(t, int32(1), grants.Load(), "one refresh serves the whole session")
	assert.Equal(t, []string{"fresh-token"}, mock.GetAuthTokens())
	assert.Equal(t, 7, mock.GetGetCount(), "shared ids are fetched once")
	assert.LessOrEqual(t, mock.GetPeakInFlight(), 3)
	assert.Equal(t, syncer.StateExhausted, c.State())
}

func TestController_GmailLabelFailure(t *testing.T) {
	mock := testutil.NewMockGmail()
	defer mock.Close()
	mock.AddMessage(testutil.MockMessage{ID: "a", Labels: []string{"INBOX"}, InternalDate: 2})
	mock.AddMessage(testutil.MockMessage{ID: "b", Labels: []string{"INBOX"}, InternalDate: 1})
	mock.SetFailure(testutil.ListKey("Label_gone"), testutil.NewNotFoundResponse())
	var grants atomic.Int32
	tokens := newTokenServer(t, &grants)

	c := newGmailController(t, mock, tokens.URL, "Label_gone", "INBOX")

	_, err := c.LoadMore(context.Background(), 10)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, c.Results().IDs())
	assert.Equal(t, 1, mock.GetListCount("Label_gone"), "a failed partition is not retried")
	assert.False(t, c.IsError())
	assert.False(t, c.HasMore())
}

func TestController_GmailAuthFailure(t *testing.T) {
	mock := testutil.NewMockGmail()
	defer mock.Close()
	tokens := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer tokens.Close()

	c := newGmailController(t, mock, tokens.URL, "INBOX")

	_, err := c.LoadMore(context.Background(), 5)

	var authErr *credential.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, c.IsError())
	assert.Zero(t, mock.GetRequestCount())
}
