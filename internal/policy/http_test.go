package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "authz-gateway/pkg/errors"
	"authz-gateway/pkg/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePDP emulates both the decision endpoint and the subject directory.
type fakePDP struct {
	mu          sync.Mutex
	allow       bool
	checkStatus int
	delay       time.Duration
	checks      []checkRequest
	users       []string
	assignments []roleAssignment
	posts       int
	postStatus  int
	calls       int32
	authHeaders []string
}

func (f *fakePDP) configure(fn func(f *fakePDP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePDP) read(fn func(f *fakePDP)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakePDP) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/allowed", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		delay := f.delay
		f.mu.Unlock()
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		var req checkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.checks = append(f.checks, req)
		status, allow := f.checkStatus, f.allow
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"allow": allow, "debug": map[string]any{"rbac": "ok"}})
	})
	mux.HandleFunc("/v2/facts/talent/prod/users/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		f.users = append(f.users, strings.TrimPrefix(r.URL.Path, "/v2/facts/talent/prod/users/"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/v2/facts/talent/prod/role_assignments", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		f.mu.Lock()
		defer f.mu.Unlock()
		switch r.Method {
		case http.MethodGet:
			user, tenant := r.URL.Query().Get("user"), r.URL.Query().Get("tenant")
			out := []roleAssignment{}
			for _, a := range f.assignments {
				if a.User == user && a.Tenant == tenant {
					out = append(out, a)
				}
			}
			_ = json.NewEncoder(w).Encode(out)
		case http.MethodPost:
			f.posts++
			if f.postStatus != 0 {
				w.WriteHeader(f.postStatus)
				return
			}
			var a roleAssignment
			if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			f.assignments = append(f.assignments, a)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(a)
		}
	})
	return mux
}

func (f *fakePDP) record(r *http.Request) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.authHeaders = append(f.authHeaders, r.Header.Get("Authorization"))
	f.mu.Unlock()
}

func newFakePDP(t *testing.T) (*fakePDP, *httptest.Server) {
	t.Helper()
	f := &fakePDP{}
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(Config{
		PDPURL:        srv.URL,
		APIURL:        srv.URL + "/",
		APIToken:      "permit_key_test",
		ProjectID:     "talent",
		EnvironmentID: "prod",
		Timeout:       500 * time.Millisecond,
		Retries:       1,
		RetryDelay:    time.Millisecond,
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestCheckReturnsPDPDecision(t *testing.T) {
	fake, srv := newFakePDP(t)
	c := newTestClient(t, srv)

	fake.configure(func(f *fakePDP) { f.allow = true })
	assert.True(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))

	fake.configure(func(f *fakePDP) { f.allow = false })
	assert.False(t, c.Check(context.Background(), Request{
		Subject:  "42",
		Action:   "read",
		Resource: "admin_stats",
		Context:  map[string]any{"ip": "10.0.0.1"},
		Tenant:   "acme",
	}))

	var checks []checkRequest
	var headers []string
	fake.read(func(f *fakePDP) {
		checks = append(checks, f.checks...)
		headers = append(headers, f.authHeaders...)
	})

	require.Len(t, checks, 2)
	first := checks[0]
	assert.Equal(t, "42", first.User.Key)
	assert.Equal(t, "view", first.Action)
	assert.Equal(t, "dashboard", first.Resource.Type)
	assert.Equal(t, DefaultTenant, first.Resource.Tenant)
	assert.NotNil(t, first.Context)

	second := checks[1]
	assert.Equal(t, "acme", second.Resource.Tenant)
	assert.Equal(t, "10.0.0.1", second.Context["ip"])

	for _, h := range headers {
		assert.Equal(t, "Bearer permit_key_test", h)
	}
}

func TestCheckFailsClosedOnServerError(t *testing.T) {
	fake, srv := newFakePDP(t)
	m := metrics.New()
	c := newTestClient(t, srv, WithMetrics(m))

	fake.configure(func(f *fakePDP) {
		f.allow = true
		f.checkStatus = http.StatusBadGateway
	})

	assert.False(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))
	// one retry on 5xx, then give up
	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.calls))
	assert.Equal(t, int64(1), m.Snapshot().Decisions[metrics.DecisionPolicyError])
}

func TestCheckDoesNotRetryClientErrors(t *testing.T) {
	fake, srv := newFakePDP(t)
	c := newTestClient(t, srv)

	fake.configure(func(f *fakePDP) { f.checkStatus = http.StatusUnauthorized })
	assert.False(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.calls))
}

func TestCheckFailsClosedOnMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"allow": tru`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	assert.False(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))
}

func TestCheckFailsClosedWhenUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	c := newTestClient(t, srv)
	srv.Close()

	assert.False(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))
}

func TestCheckTimesOut(t *testing.T) {
	fake, srv := newFakePDP(t)
	fake.configure(func(f *fakePDP) {
		f.allow = true
		f.delay = 5 * time.Second
	})

	c, err := NewHTTPClient(Config{
		PDPURL:        srv.URL,
		APIURL:        srv.URL,
		APIToken:      "permit_key_test",
		ProjectID:     "talent",
		EnvironmentID: "prod",
		Timeout:       50 * time.Millisecond,
		Retries:       3,
		RetryDelay:    10 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	assert.False(t, c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestCheckHonoursCancelledContext(t *testing.T) {
	fake, srv := newFakePDP(t)
	fake.configure(func(f *fakePDP) { f.allow = true })
	c := newTestClient(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, c.Check(ctx, Request{Subject: "42", Action: "view", Resource: "dashboard"}))
}

func TestEnsureRoleAssignsOnce(t *testing.T) {
	fake, srv := newFakePDP(t)
	c := newTestClient(t, srv)

	c.EnsureRole(context.Background(), "42", " Recruiter", "")
	c.EnsureRole(context.Background(), "42", "recruiter", DefaultTenant)

	fake.read(func(f *fakePDP) {
		assert.Equal(t, []string{"42", "42"}, f.users)
		assert.Equal(t, 1, f.posts)
		require.Len(t, f.assignments, 1)
		assert.Equal(t, roleAssignment{User: "42", Role: "recruiter", Tenant: DefaultTenant}, f.assignments[0])
	})
}

func TestEnsureRoleToleratesConflict(t *testing.T) {
	fake, srv := newFakePDP(t)
	fake.configure(func(f *fakePDP) { f.postStatus = http.StatusConflict })
	c := newTestClient(t, srv)

	assert.NotPanics(t, func() {
		c.EnsureRole(context.Background(), "42", "issuer", "acme")
	})
	fake.read(func(f *fakePDP) { assert.Equal(t, 1, f.posts) })
}

func TestEnsureRoleSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	assert.NotPanics(t, func() {
		c.EnsureRole(context.Background(), "42", "issuer", "")
	})
}

func TestEnsureRoleSkipsEmptyRole(t *testing.T) {
	fake, srv := newFakePDP(t)
	c := newTestClient(t, srv)

	c.EnsureRole(context.Background(), "42", "  ", "")
	c.EnsureRole(context.Background(), "", "issuer", "")

	assert.Equal(t, int32(0), atomic.LoadInt32(&fake.calls))
}

func TestNewHTTPClientValidatesConfig(t *testing.T) {
	_, err := NewHTTPClient(Config{APIURL: "https://api.permit.io", APIToken: "t", ProjectID: "p", EnvironmentID: "e"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)

	_, err = NewHTTPClient(Config{PDPURL: "http://pdp", APIURL: "https://api.permit.io", ProjectID: "p", EnvironmentID: "e"})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestNewSelectsImplementation(t *testing.T) {
	restricted, err := New(ModeRestricted, Config{})
	require.NoError(t, err)
	assert.IsType(t, &Restricted{}, restricted)

	full, err := New(ModeFull, Config{
		PDPURL: "http://pdp", APIURL: "https://api.permit.io", APIToken: "t", ProjectID: "p", EnvironmentID: "e",
	})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, full)

	_, err = New("edge", Config{})
	assert.ErrorIs(t, err, apperrors.ErrConfiguration)
}

func TestConcurrentChecksShareClient(t *testing.T) {
	fake, srv := newFakePDP(t)
	fake.configure(func(f *fakePDP) { f.allow = true })
	c := newTestClient(t, srv)

	var wg sync.WaitGroup
	var allowed int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Check(context.Background(), Request{Subject: "42", Action: "view", Resource: "dashboard"}) {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(20), allowed)
}
