// Package testutil provides testing utilities for the Gmail sync engine.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// MockResponse defines a canned error response for a mock Gmail endpoint.
type MockResponse struct {
	StatusCode int
	Reason     string
	Message    string
	Headers    map[string]string

	// Times limits how often the response is served. 0 means always.
	Times int
}

// MockMessage is a message stored in the mock mailbox.
type MockMessage struct {
	ID           string
	ThreadID     string
	Labels       []string
	InternalDate int64
	Subject      string
	From         string
	Snippet      string
}

// MockGmail is a configurable mock Gmail API server for testing.
type MockGmail struct {
	server *httptest.Server
	mu     sync.RWMutex

	labelOrder []string
	labelNames map[string]string
	byLabel    map[string][]string
	messages   map[string]MockMessage

	failures      map[string]*MockResponse
	requiredToken string
	delay         time.Duration

	// Tracking
	RequestCount int
	ListCounts   map[string]int
	GetCount     int
	AuthTokens   map[string]int
	inFlight     int
	PeakInFlight int
}

// Failure keys for SetFailure.
func ListKey(label string) string { return "list:" + label }
func GetKey(id string) string     { return "get:" + id }

// LabelsKey is the failure key of the labels endpoint.
const LabelsKey = "labels"

// NewMockGmail creates a new mock Gmail server. Point the client's Endpoint
// at URL().
func NewMockGmail() *MockGmail {
	m := &MockGmail{
		labelNames: make(map[string]string),
		byLabel:    make(map[string][]string),
		messages:   make(map[string]MockMessage),
		failures:   make(map[string]*MockResponse),
		ListCounts: make(map[string]int),
		AuthTokens: make(map[string]int),
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/gmail/v1/users/{userId}").Subrouter()
	api.HandleFunc("/messages", m.handleList).Methods(http.MethodGet)
	api.HandleFunc("/messages/{id}", m.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/labels", m.handleLabels).Methods(http.MethodGet)

	m.server = httptest.NewServer(m.track(r))
	return m
}

// URL returns the mock server URL.
func (m *MockGmail) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGmail) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockGmail) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ListCounts = make(map[string]int)
	m.GetCount = 0
	m.AuthTokens = make(map[string]int)
	m.PeakInFlight = 0
}

// AddLabel registers a label.
func (m *MockGmail) AddLabel(id, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.labelNames[id]; !ok {
		m.labelOrder = append(m.labelOrder, id)
	}
	m.labelNames[id] = name
}

// AddMessage stores a message and lists it under each of its labels, in
// insertion order.
func (m *MockGmail) AddMessage(msg MockMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ThreadID == "" {
		msg.ThreadID = "t-" + msg.ID
	}
	m.messages[msg.ID] = msg
	for _, l := range msg.Labels {
		if _, ok := m.labelNames[l]; !ok {
			m.labelOrder = append(m.labelOrder, l)
			m.labelNames[l] = l
		}
		m.byLabel[l] = append(m.byLabel[l], msg.ID)
	}
}

// SetFailure makes the endpoint identified by key answer with resp.
func (m *MockGmail) SetFailure(key string, resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := resp
	m.failures[key] = &r
}

// RequireToken makes every request without "Bearer token" fail with 401.
func (m *MockGmail) RequireToken(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requiredToken = token
}

// SetDelay delays every message detail response.
func (m *MockGmail) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGmail) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetListCount returns the number of list requests for label.
func (m *MockGmail) GetListCount(label string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ListCounts[label]
}

// GetGetCount returns the number of message detail requests.
func (m *MockGmail) GetGetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.GetCount
}

// GetPeakInFlight returns the highest number of concurrent requests seen.
func (m *MockGmail) GetPeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PeakInFlight
}

// GetAuthTokens returns the bearer tokens seen, sorted.
func (m *MockGmail) GetAuthTokens() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tokens := make([]string, 0, len(m.AuthTokens))
	for t := range m.AuthTokens {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func (m *MockGmail) track(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		m.mu.Lock()
		m.RequestCount++
		m.AuthTokens[token]++
		m.inFlight++
		if m.inFlight > m.PeakInFlight {
			m.PeakInFlight = m.inFlight
		}
		required := m.requiredToken
		m.mu.Unlock()

		defer func() {
			m.mu.Lock()
			m.inFlight--
			m.mu.Unlock()
		}()

		if required != "" && token != required {
			writeError(w, MockResponse{StatusCode: http.StatusUnauthorized, Reason: "authError", Message: "Invalid Credentials"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// failure returns the configured failure for key, consuming one use.
func (m *MockGmail) failure(key string) *MockResponse {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.failures[key]
	if !ok {
		return nil
	}
	out := *f
	if f.Times > 0 {
		f.Times--
		if f.Times == 0 {
			delete(m.failures, key)
		}
	}
	return &out
}

func (m *MockGmail) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	label := q.Get("labelIds")

	m.mu.Lock()
	m.ListCounts[label]++
	m.mu.Unlock()

	if f := m.failure(ListKey(label)); f != nil {
		writeError(w, *f)
		return
	}

	offset := 0
	if tok := q.Get("pageToken"); tok != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(tok, "offset-"))
		if err != nil {
			writeError(w, MockResponse{StatusCode: http.StatusBadRequest, Reason: "invalidArgument", Message: "Invalid pageToken"})
			return
		}
		offset = n
	}
	size := 100
	if v := q.Get("maxResults"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			size = n
		}
	}

	m.mu.RLock()
	ids := m.byLabel[label]
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + size
	if end > len(ids) {
		end = len(ids)
	}
	type ref struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	}
	refs := make([]ref, 0, end-offset)
	for _, id := range ids[offset:end] {
		refs = append(refs, ref{ID: id, ThreadID: m.messages[id].ThreadID})
	}
	m.mu.RUnlock()

	body := map[string]any{
		"messages":           refs,
		"resultSizeEstimate": len(refs),
	}
	if end < len(ids) {
		body["nextPageToken"] = fmt.Sprintf("offset-%d", end)
	}
	writeJSON(w, body)
}

func (m *MockGmail) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m.mu.Lock()
	m.GetCount++
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	if f := m.failure(GetKey(id)); f != nil {
		writeError(w, *f)
		return
	}

	m.mu.RLock()
	msg, ok := m.messages[id]
	m.mu.RUnlock()
	if !ok {
		writeError(w, MockResponse{StatusCode: http.StatusNotFound, Reason: "notFound", Message: "Requested entity was not found."})
		return
	}

	headers := []map[string]string{
		{"name": "Subject", "value": msg.Subject},
		{"name": "From", "value": msg.From},
	}
	writeJSON(w, map[string]any{
		"id":           msg.ID,
		"threadId":     msg.ThreadID,
		"labelIds":     msg.Labels,
		"snippet":      msg.Snippet,
		"internalDate": strconv.FormatInt(msg.InternalDate, 10),
		"sizeEstimate": 1024,
		"payload":      map[string]any{"headers": headers},
	})
}

func (m *MockGmail) handleLabels(w http.ResponseWriter, r *http.Request) {
	if f := m.failure(LabelsKey); f != nil {
		writeError(w, *f)
		return
	}

	m.mu.RLock()
	labels := make([]map[string]any, 0, len(m.labelOrder))
	for _, id := range m.labelOrder {
		typ := "user"
		if strings.ToUpper(id) == id {
			typ = "system"
		}
		labels = append(labels, map[string]any{
			"id":            id,
			"name":          m.labelNames[id],
			"type":          typ,
			"messagesTotal": len(m.byLabel[id]),
		})
	}
	m.mu.RUnlock()

	writeJSON(w, map[string]any{"labels": labels})
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError writes a Google API style error body.
func writeError(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(resp.StatusCode)

	msg := resp.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	body := map[string]any{
		"error": map[string]any{
			"code":    resp.StatusCode,
			"message": msg,
			"errors": []map[string]string{
				{"reason": resp.Reason, "message": msg, "domain": "global"},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(body)
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Reason:     "rateLimitExceeded",
		Message:    "Too many concurrent requests for user",
	}
	if retryAfter > 0 {
		resp.Headers = map[string]string{"Retry-After": strconv.Itoa(retryAfter)}
	}
	return resp
}

// NewQuotaForbiddenResponse creates the 403 Gmail sends when the per-user
// quota is exceeded.
func NewQuotaForbiddenResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusForbidden,
		Reason:     "userRateLimitExceeded",
		Message:    "User Rate Limit Exceeded",
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Reason:     "backendError",
		Message:    "Backend Error",
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Reason:     "notFound",
		Message:    "Requested entity was not found.",
	}
}
