package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/gmail-label-sync/pkg/client"
	"github.com/Sternrassler/gmail-label-sync/pkg/credential"
	"github.com/Sternrassler/gmail-label-sync/pkg/results"
	"github.com/Sternrassler/gmail-label-sync/pkg/syncer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSyncer struct {
	mu         sync.Mutex
	report     syncer.Report
	err        error
	loadN      []int
	refreshes  int
	resets     int
	partitions [][]string
	set        results.Set
}

func (f *fakeSyncer) LoadMore(ctx context.Context, n int) (syncer.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadN = append(f.loadN, n)
	return f.report, f.err
}

func (f *fakeSyncer) Refresh(ctx context.Context) (syncer.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return f.report, f.err
}

func (f *fakeSyncer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeSyncer) SetSelectedPartitions(p []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.partitions = append(f.partitions, p)
}

func (f *fakeSyncer) Results() results.Set { return f.set }

func (f *fakeSyncer) Snapshot() syncer.Snapshot {
	return syncer.Snapshot{SessionID: "s-1", State: "idle", HasMore: true, Partitions: []string{"INBOX"}}
}

type fakeLabels struct {
	labels []client.Label
	err    error
	token  string
}

func (f *fakeLabels) ListLabels(ctx context.Context, cred credential.Credential) ([]client.Label, error) {
	f.token = cred.Token
	return f.labels, f.err
}

type fakeCreds struct {
	err error
}

func (f fakeCreds) EnsureValid(ctx context.Context) (credential.Credential, error) {
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.Credential{Token: "tok"}, nil
}

func serve(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReady(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = serve(t, s, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady_PingFailure(t *testing.T) {
	s := New(Options{
		Syncer: &fakeSyncer{},
		Ready:  func(ctx context.Context) error { return errors.New("connection refused") },
		Logger: zerolog.Nop(),
	})

	rec := serve(t, s, http.MethodGet, "/ready", "")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "connection refused")
}

func TestMetricsEndpoint(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestStatus(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/v1/status", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "s-1", body["session_id"])
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, true, body["has_more"])
}

func TestResults(t *testing.T) {
	f := &fakeSyncer{set: results.Set{{ID: "b", SortKey: 2}, {ID: "a", SortKey: 1}}}
	s := New(Options{Syncer: f, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/v1/results", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body resultsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "b", body.Records[0].ID)
}

func TestResults_EmptyIsArray(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/v1/results", "")

	assert.Contains(t, rec.Body.String(), `"records":[]`)
}

func TestLoadMore(t *testing.T) {
	f := &fakeSyncer{report: syncer.Report{SessionID: "s-1", Requested: 5, Fetched: 5, Added: 5, Total: 5, HasMore: true, Duration: 1500 * time.Millisecond}}
	s := New(Options{Syncer: f, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodPost, "/v1/load-more?count=5", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body reportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 5, body.Added)
	assert.Equal(t, int64(1500), body.DurationMS)
	assert.Equal(t, []int{5}, f.loadN)

	// No count uses the controller's page size.
	serve(t, s, http.MethodPost, "/v1/load-more", "")
	assert.Equal(t, []int{5, 0}, f.loadN)
}

func TestLoadMore_InvalidCount(t *testing.T) {
	f := &fakeSyncer{}
	s := New(Options{Syncer: f, Logger: zerolog.Nop()})

	for _, q := range []string{"abc", "-1", "501"} {
		rec := serve(t, s, http.MethodPost, "/v1/load-more?count="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
	assert.Empty(t, f.loadN)
}

func TestLoadMore_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		report syncer.Report
		err    error
		want   int
	}{
		{"skipped", syncer.Report{Skipped: true}, nil, http.StatusConflict},
		{"auth", syncer.Report{}, &credential.AuthError{Err: errors.New("invalid_grant")}, http.StatusUnauthorized},
		{"other", syncer.Report{}, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{Syncer: &fakeSyncer{report: tt.report, err: tt.err}, Logger: zerolog.Nop()})
			rec := serve(t, s, http.MethodPost, "/v1/load-more", "")
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRefreshAndReset(t *testing.T) {
	f := &fakeSyncer{}
	s := New(Options{Syncer: f, Logger: zerolog.Nop()})

	assert.Equal(t, http.StatusOK, serve(t, s, http.MethodPost, "/v1/refresh", "").Code)
	assert.Equal(t, http.StatusAccepted, serve(t, s, http.MethodPost, "/v1/reset", "").Code)

	assert.Equal(t, 1, f.refreshes)
	assert.Equal(t, 1, f.resets)
}

func TestSetPartitions(t *testing.T) {
	f := &fakeSyncer{}
	s := New(Options{Syncer: f, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodPut, "/v1/partitions", `{"partitions":["INBOX","Label_1"]}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, [][]string{{"INBOX", "Label_1"}}, f.partitions)

	rec = serve(t, s, http.MethodPut, "/v1/partitions", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, f.partitions, 1)
}

func TestMethodNotAllowed(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/v1/load-more", "")

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLabels(t *testing.T) {
	labels := &fakeLabels{labels: []client.Label{{ID: "INBOX", Name: "INBOX", Type: "system"}}}
	s := New(Options{Syncer: &fakeSyncer{}, Labels: labels, Creds: fakeCreds{}, Logger: zerolog.Nop()})

	rec := serve(t, s, http.MethodGet, "/v1/labels", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"INBOX"`)
	assert.Equal(t, "tok", labels.token)
}

func TestLabels_Errors(t *testing.T) {
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusNotImplemented, serve(t, s, http.MethodGet, "/v1/labels", "").Code)

	s = New(Options{Syncer: &fakeSyncer{}, Labels: &fakeLabels{}, Creds: fakeCreds{err: errors.New("expired")}, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusUnauthorized, serve(t, s, http.MethodGet, "/v1/labels", "").Code)

	s = New(Options{Syncer: &fakeSyncer{}, Labels: &fakeLabels{err: errors.New("503")}, Creds: fakeCreds{}, Logger: zerolog.Nop()})
	assert.Equal(t, http.StatusBadGateway, serve(t, s, http.MethodGet, "/v1/labels", "").Code)
}

func TestRun_GracefulShutdown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.Nop()})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestWriteJSON_EncodeFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	s := New(Options{Syncer: &fakeSyncer{}, Logger: zerolog.New(&buf)})
	rec := httptest.NewRecorder()

	s.writeJSON(rec, http.StatusOK, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, buf.String(), "Failed to write response")
	assert.Contains(t, buf.String(), `"level":"debug"`)
}
