package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpserver "github.com/fyrsmithlabs/vendorflow/internal/http"
	"github.com/fyrsmithlabs/vendorflow/internal/signals"
	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

type recorded struct {
	Method string
	Path   string
	Query  string
	User   string
	Body   string
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []recorded
	mux      *http.ServeMux
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAPI{mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, recorded{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			User:   r.Header.Get(httpserver.HeaderUser),
			Body:   string(body),
		})
		f.mu.Unlock()
		r.Body = io.NopCloser(bytes.NewReader(body))
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeAPI) handle(pattern string, status int, v any) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if v != nil {
			_ = json.NewEncoder(w).Encode(v)
		}
	})
}

func (f *fakeAPI) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--server", srv.URL, "--user", "planner"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /health", http.StatusOK, httpserver.HealthResponse{
		Status: "ok", Version: "1.2.3", Services: map[string]string{"database": "ok"},
	})

	out, err := run(t, srv, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Version: 1.2.3")
	assert.Contains(t, out, "database: ok")
}

func TestHealth_Degraded(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("GET /health", http.StatusServiceUnavailable, httpserver.HealthResponse{
		Status: "degraded", Services: map[string]string{"database": "unavailable"},
	})

	out, err := run(t, srv, "health")
	require.Error(t, err)
	assert.Contains(t, out, "Server Status: degraded")
	assert.Contains(t, err.Error(), "503")
}

func TestThreadProcess(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/threads/t-1/process", http.StatusOK, map[string]any{
		"mutations": 1,
		"report": map[string]any{
			"threadId": "t-1",
			"link":     map[string]any{"decision": "AUTO", "projectId": "p-1", "confidence": 0.9, "candidates": []any{}},
			"outcomes": []any{map[string]any{"relationshipId": "r-1", "kind": "proposed", "toStatus": "booked", "confidence": 0.84}},
		},
	})

	out, err := run(t, srv, "thread", "process", "--force", "t-1")
	require.NoError(t, err)
	assert.Contains(t, out, "thread t-1 processed, 1 mutations")
	assert.Contains(t, out, "link: AUTO p-1 (0.90)")
	assert.Contains(t, out, "relationship r-1: proposed booked")
	assert.Equal(t, "force=true", api.last().Query)
}

func TestThreadProcess_Async(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/threads/t-1/process", http.StatusAccepted, httpserver.ProcessResponse{Queued: true})

	out, err := run(t, srv, "thread", "process", "--async", "t-1")
	require.NoError(t, err)
	assert.Contains(t, out, "thread t-1 queued")
	assert.Equal(t, "async=true", api.last().Query)
}

func TestThreadLink(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/threads/t-1/link", http.StatusOK, httpserver.ProcessResponse{Mutations: 2})

	out, err := run(t, srv, "thread", "link", "t-1", "p-9")
	require.NoError(t, err)
	assert.Contains(t, out, "thread t-1 linked to p-9, 2 mutations")
	assert.JSONEq(t, `{"projectId":"p-9"}`, api.last().Body)
}

func TestProposalsList(t *testing.T) {
	api, srv := newFakeAPI(t)
	expires := time.Date(2026, 4, 17, 15, 0, 0, 0, time.UTC)
	api.handle("GET /api/v1/proposals", http.StatusOK, httpserver.ProposalsResponse{Proposals: []store.Proposal{{
		ID: "prop-1", State: store.ProposalPending, FromStatus: "", ToStatus: "booked", Confidence: 0.84, ExpiresAt: expires,
	}}})

	out, err := run(t, srv, "proposals", "list", "--state", "pending", "--limit", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "prop-1")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "0.84")
	assert.Contains(t, out, "2026-04-17T15:00:00Z")
	assert.Equal(t, "limit=10&state=pending", api.last().Query)
}

func TestProposalsAccept(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/proposals/prop-1/accept", http.StatusOK, httpserver.AcceptResponse{
		Proposal: &store.Proposal{ID: "prop-1", State: store.ProposalAccepted},
		Change:   &store.StatusChange{RelationshipID: "r-1", FromStatus: "quote-received", ToStatus: "booked"},
	})

	out, err := run(t, srv, "proposals", "accept", "prop-1")
	require.NoError(t, err)
	assert.Contains(t, out, "proposal prop-1 accepted")
	assert.Contains(t, out, "relationship r-1: quote-received -> booked")

	last := api.last()
	assert.Equal(t, "planner", last.User)
	assert.JSONEq(t, `{"user":"planner"}`, last.Body)
}

func TestProposalsReject_Conflict(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/proposals/prop-1/reject", http.StatusConflict, httpserver.ErrorResponse{Error: "proposal is not pending"})

	_, err := run(t, srv, "proposals", "reject", "prop-1")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "proposal is not pending", apiErr.Message)
}

func TestProposalsExpire_JSON(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/proposals/expire", http.StatusOK, httpserver.ExpireResponse{Expired: 3})

	out, err := run(t, srv, "--json", "proposals", "expire")
	require.NoError(t, err)
	assert.JSONEq(t, `{"expired":3}`, out)
}

func TestRetryableError(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("POST /api/v1/threads/t-1/process", http.StatusServiceUnavailable, httpserver.ErrorResponse{Error: "temporarily unavailable", Retryable: true})

	_, err := run(t, srv, "thread", "process", "t-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(retryable)")
}

func TestDefinitionsApply(t *testing.T) {
	api, srv := newFakeAPI(t)
	api.handle("PUT /api/v1/definitions/{slug}", http.StatusOK, signals.Definition{})

	path := filepath.Join(t.TempDir(), "defs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[definitions]]
slug = "booked"
name = "Booked"
order = 50
inbound_signals = ["booking confirmed"]

[[definitions]]
slug = "cancelled"
name = "Cancelled"
order = 90
`), 0o600))

	out, err := run(t, srv, "definitions", "apply", path)
	require.NoError(t, err)
	assert.Contains(t, out, "applied booked")
	assert.Contains(t, out, "applied cancelled")

	last := api.last()
	assert.Equal(t, http.MethodPut, last.Method)
	assert.Equal(t, "/api/v1/definitions/cancelled", last.Path)
}

func TestDefinitionsApply_Duplicate(t *testing.T) {
	_, srv := newFakeAPI(t)
	path := filepath.Join(t.TempDir(), "defs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[definitions]]
slug = "booked"

[[definitions]]
slug = "booked"
`), 0o600))

	_, err := run(t, srv, "definitions", "apply", path)
	assert.ErrorIs(t, err, signals.ErrInvalidDefinition)
}
